package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-intake/internal/models"
)

func newMockStore(t *testing.T, driver string) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewSQLStore(sqlx.NewDb(mockDB, driver)), mock
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"no rows", sql.ErrNoRows, ErrNotFound},
		{"pq duplicate mid", &pq.Error{Code: "23505", Constraint: "uq_thread_entry_mid"}, ErrDuplicateMessageID},
		{"pq duplicate number", &pq.Error{Code: "23505", Constraint: "uq_ticket_number"}, ErrDuplicateNumber},
		{"mysql duplicate email", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'a@b' for key 'uq_users_email'"}, ErrDuplicateEmail},
		{"connection", &pq.Error{Code: "08006"}, ErrUnavailable},
		{"pq value too long", &pq.Error{Code: "22001"}, ErrValueTooLong},
		{"mysql data too long", &mysql.MySQLError{Number: 1406, Message: "Data too long for column 'in_reply_to'"}, ErrValueTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.in), tt.want)
		})
	}
	assert.NoError(t, mapError(nil))
	other := errors.New("syntax error")
	assert.Equal(t, other, mapError(other))
}

func TestSQLStoreCreateTicketPostgres(t *testing.T) {
	store, mock := newMockStore(t, "postgres")
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO thread .* RETURNING id`).
		WithArgs(models.ObjectTicket, 0, false, created).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectQuery(`INSERT INTO ticket .* RETURNING id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectExec(`UPDATE thread SET object_id = \$1 WHERE id = \$2`).
		WithArgs(int64(5), int64(11)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO thread_entry .* RETURNING id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))
	mock.ExpectCommit()

	ticket := newTicket("240501", 2, created)
	first := &models.ConversationEntry{Type: models.EntryMessage, MessageID: "<m1@example.com>", Body: "hi"}
	require.NoError(t, store.CreateTicket(ctx, ticket, first))

	assert.Equal(t, int64(5), ticket.ID)
	assert.Equal(t, int64(11), ticket.ConversationID)
	assert.Equal(t, int64(77), first.ID)
	assert.Equal(t, int64(11), first.ConversationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreCreateTicketRollsBackOnDuplicateMessageID(t *testing.T) {
	store, mock := newMockStore(t, "mysql")
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO thread `).WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectExec(`INSERT INTO ticket`).WillReturnResult(sqlmock.NewResult(4, 1))
	mock.ExpectExec(`UPDATE thread SET object_id = \? WHERE id = \?`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO thread_entry`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry '<m>' for key 'uq_thread_entry_mid'"})
	mock.ExpectRollback()

	ticket := newTicket("1", 2, time.Now())
	err := store.CreateTicket(ctx, ticket, &models.ConversationEntry{MessageID: "<m>"})
	assert.ErrorIs(t, err, ErrDuplicateMessageID)
	assert.Zero(t, ticket.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreAppendEntry(t *testing.T) {
	ctx := context.Background()

	t.Run("open conversation", func(t *testing.T) {
		store, mock := newMockStore(t, "postgres")
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT closed FROM thread WHERE id = \$1 FOR UPDATE`).
			WithArgs(int64(8)).
			WillReturnRows(sqlmock.NewRows([]string{"closed"}).AddRow(false))
		mock.ExpectQuery(`INSERT INTO thread_entry`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(90))
		mock.ExpectCommit()

		e := &models.ConversationEntry{ConversationID: 8, Type: models.EntryMessage, Flags: models.MailFlags{AutoReply: true}}
		require.NoError(t, store.AppendEntry(ctx, e))
		assert.Equal(t, int64(90), e.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("closed conversation", func(t *testing.T) {
		store, mock := newMockStore(t, "sqlite3")
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT closed FROM thread WHERE id = \?$`).
			WillReturnRows(sqlmock.NewRows([]string{"closed"}).AddRow(true))
		mock.ExpectRollback()

		err := store.AppendEntry(ctx, &models.ConversationEntry{ConversationID: 8})
		assert.ErrorIs(t, err, ErrConversationClosed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing conversation", func(t *testing.T) {
		store, mock := newMockStore(t, "postgres")
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT closed FROM thread`).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		err := store.AppendEntry(ctx, &models.ConversationEntry{ConversationID: 404})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSQLStoreFindEntryByMessageID(t *testing.T) {
	store, mock := newMockStore(t, "postgres")
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	cols := []string{"id", "thread_id", "type", "mid", "in_reply_to", "refs", "poster", "user_id", "title", "body",
		"format", "source", "ip_address", "flags", "recipients", "attachments", "created"}
	mock.ExpectQuery(`SELECT .* FROM thread_entry WHERE mid = \$1`).
		WithArgs("<m@x>").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			1, 2, "message", "<m@x>", nil, "<a@x> <b@x>", "Jane", 3, "Subject", "Body",
			"text", "Email", "10.0.0.1", flagBounce|flagSpam,
			`[{"name":"Desk","email":"desk@x","source":"to"}]`, `["f1","f2"]`, created))

	e, err := store.FindEntryByMessageID(context.Background(), "<m@x>")
	require.NoError(t, err)
	assert.Equal(t, []string{"<a@x>", "<b@x>"}, e.References)
	assert.True(t, e.Flags.Bounce)
	assert.True(t, e.Flags.Spam)
	assert.False(t, e.Flags.AutoReply)
	require.Len(t, e.Recipients, 1)
	assert.Equal(t, "desk@x", e.Recipients[0].Email)
	assert.Equal(t, []string{"f1", "f2"}, e.AttachmentIDs)
	assert.Equal(t, "Subject", e.Subject)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = store.FindEntryByMessageID(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreFindConversationByReference(t *testing.T) {
	store, mock := newMockStore(t, "postgres")
	mock.ExpectQuery(`FROM thread t .* INNER JOIN thread_reference r ON r.thread_id = t.id`).
		WithArgs("<notice@x>").
		WillReturnRows(sqlmock.NewRows([]string{"id", "object_type", "object_id", "closed", "created", "number"}).
			AddRow(4, "ticket", 9, false, time.Now(), "123456"))

	conv, err := store.FindConversationByReference(context.Background(), "<notice@x>")
	require.NoError(t, err)
	assert.Equal(t, models.ObjectRef{Type: "ticket", ID: 9, Number: "123456"}, conv.Object)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreAddReferenceIgnoresDuplicates(t *testing.T) {
	store, mock := newMockStore(t, "postgres")
	mock.ExpectExec(`INSERT INTO thread_reference`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "thread_reference_pkey"})
	require.NoError(t, store.AddReference(context.Background(), &models.ConversationReference{ConversationID: 1, MessageID: "<x>"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreSeedMySQL(t *testing.T) {
	store, mock := newMockStore(t, "mysql")
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO ticket_status .* ON DUPLICATE KEY UPDATE name = VALUES\(name\)`).
		WithArgs(1, "Open", "open").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO ticket_priority .* ON DUPLICATE KEY UPDATE`).
		WithArgs(2, "normal", "Normal", 3).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO organization`).
		WithArgs(int64(9), "Example").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Seed(context.Background(), Lookups{
		Statuses:      []models.TicketStatus{{ID: 1, Name: "Open", State: "open"}},
		Priorities:    []models.TicketPriority{{ID: 2, Name: "normal", Description: "Normal", Urgency: 3}},
		Organizations: []models.Organization{{ID: 9, Name: "Example"}},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreSeedPostgresUsesOnConflict(t *testing.T) {
	store, mock := newMockStore(t, "postgres")
	mock.ExpectBegin()
	mock.ExpectExec(`ON CONFLICT \(id\) DO UPDATE SET name = excluded.name, state = excluded.state`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	require.NoError(t, store.Seed(context.Background(), Lookups{Statuses: DefaultStatuses()[:1]}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreListOpenTickets(t *testing.T) {
	store, mock := newMockStore(t, "postgres")
	cols := []string{"ticket_id", "ticket_number", "subject", "status_id", "status_name", "status_state",
		"priority_id", "priority", "priority_desc", "priority_urgency", "created", "duedate",
		"user_id", "user_name", "user_email", "org_id", "org_name"}
	now := time.Now().UTC()
	mock.ExpectQuery(`ORDER BY tp.priority_urgency, t.created`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(1, "100", "Down", 1, "Open", "open", 4, "emergency", "Emergency", 1, now, nil, 3, "Jane", "jane@x", 9, "Corp").
			AddRow(2, "101", "Slow", 1, "Open", "open", 2, "normal", "Normal", 3, now, now, 3, "Jane", "jane@x", nil, nil))

	rows, err := store.ListOpenTickets(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "emergency", rows[0].Priority.Name)
	require.NotNil(t, rows[0].Org)
	assert.Equal(t, "Corp", rows[0].Org.Name)
	assert.Nil(t, rows[0].Due)
	assert.Nil(t, rows[1].Org)
	assert.NotNil(t, rows[1].Due)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreUsers(t *testing.T) {
	ctx := context.Background()

	t.Run("lookup is case insensitive", func(t *testing.T) {
		store, mock := newMockStore(t, "postgres")
		mock.ExpectQuery(`SELECT id, name, email, org_id, created FROM users WHERE LOWER\(email\) = \$1`).
			WithArgs("jane@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "org_id", "created"}).
				AddRow(3, "Jane", "jane@example.com", nil, time.Now()))
		u, err := store.FindUserByEmail(ctx, "Jane@Example.com")
		require.NoError(t, err)
		assert.Equal(t, int64(3), u.ID)
		assert.Zero(t, u.OrgID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("create on sqlite uses last insert id", func(t *testing.T) {
		store, mock := newMockStore(t, "sqlite3")
		mock.ExpectExec(`INSERT INTO users \(name, email, org_id, created\) VALUES \(\?, \?, \?, \?\)`).
			WillReturnResult(sqlmock.NewResult(12, 1))
		u := &models.User{Name: "Bob", Email: "Bob@Example.com"}
		require.NoError(t, store.CreateUser(ctx, u))
		assert.Equal(t, int64(12), u.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("connection failure is unavailable", func(t *testing.T) {
		store, mock := newMockStore(t, "postgres")
		mock.ExpectQuery(`FROM users`).WillReturnError(errors.New("dial tcp: connection refused"))
		_, err := store.FindUserByEmail(ctx, "x@y")
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}
