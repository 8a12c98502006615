package database

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestUniqueViolation(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantOK     bool
		constraint string
	}{
		{"postgres", &pq.Error{Code: "23505", Constraint: "uq_thread_entry_mid"}, true, "uq_thread_entry_mid"},
		{"postgres other", &pq.Error{Code: "23503"}, false, ""},
		{"mysql", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a@b' for key 'ticket.uq_ticket_number'"}, true, "ticket.uq_ticket_number"},
		{"sqlite", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true, ""},
		{"wrapped postgres", fmt.Errorf("insert: %w", &pq.Error{Code: "23505", Constraint: "uq_users_email"}), true, "uq_users_email"},
		{"plain", errors.New("boom"), false, ""},
		{"nil", nil, false, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, ok := UniqueViolation(tc.err)
			assert.Equal(t, tc.wantOK, ok)
			if tc.constraint != "" {
				assert.Equal(t, tc.constraint, c)
			}
		})
	}
}

func TestConstraintOn(t *testing.T) {
	assert.True(t, ConstraintOn("uq_thread_entry_mid", "thread_entry", "mid"))
	assert.True(t, ConstraintOn("thread_entry.uq_thread_entry_mid", "thread_entry", "mid"))
	assert.True(t, ConstraintOn("thread_entry.mid", "thread_entry", "mid"))
	assert.False(t, ConstraintOn("uq_ticket_number", "thread_entry", "mid"))
}

func TestIsValueTooLong(t *testing.T) {
	assert.True(t, IsValueTooLong(&pq.Error{Code: "22001"}))
	assert.True(t, IsValueTooLong(fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1406, Message: "Data too long for column 'mid'"})))
	assert.False(t, IsValueTooLong(&pq.Error{Code: "23505"}))
	assert.False(t, IsValueTooLong(&mysql.MySQLError{Number: 1062}))
	assert.False(t, IsValueTooLong(errors.New("value too long")))
	assert.False(t, IsValueTooLong(nil))
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, IsConnectionError(sql.ErrConnDone))
	assert.True(t, IsConnectionError(fmt.Errorf("query: %w", driver.ErrBadConn)))
	assert.True(t, IsConnectionError(&pq.Error{Code: "08006"}))
	assert.True(t, IsConnectionError(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")))
	assert.False(t, IsConnectionError(&pq.Error{Code: "23505"}))
	assert.False(t, IsConnectionError(errors.New("syntax error")))
	assert.False(t, IsConnectionError(nil))
}
