package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// IsConnectionError reports whether the provided error indicates the database
// connection is unavailable, as opposed to a problem with the statement itself.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exception, 57P01..03: admin shutdown / cannot connect now
		return pqErr.Code.Class() == "08" || strings.HasPrefix(string(pqErr.Code), "57P")
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked || liteErr.Code == sqlite3.ErrCantOpen
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "host is unreachable"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "bad connection"),
		strings.Contains(msg, "database is closed"):
		return true
	}
	return false
}

// IsValueTooLong reports whether err rejects a value wider than its column.
func IsValueTooLong(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "22001"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1406
	}
	return false
}

var mysqlDuplicateKey = regexp.MustCompile(`for key '([^']+)'`)

// UniqueViolation reports whether err is a unique constraint violation and returns the
// best available description of the violated constraint: the constraint name for
// postgres and mysql, "table.column" for sqlite.
func UniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == "23505" {
			return pqErr.Constraint, true
		}
		return "", false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if myErr.Number == 1062 {
			if m := mysqlDuplicateKey.FindStringSubmatch(myErr.Message); m != nil {
				return m[1], true
			}
			return myErr.Message, true
		}
		return "", false
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		if liteErr.ExtendedCode == sqlite3.ErrConstraintUnique || liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return strings.TrimPrefix(liteErr.Error(), "UNIQUE constraint failed: "), true
		}
	}
	return "", false
}

// ConstraintOn reports whether a constraint description from UniqueViolation refers to
// the unique index on table.column.
func ConstraintOn(constraint, table, column string) bool {
	return strings.Contains(constraint, "uq_"+table+"_"+column) || strings.Contains(constraint, table+"."+column)
}
