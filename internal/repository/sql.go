package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/gotrs-intake/internal/database"
	"github.com/gotrs-io/gotrs-intake/internal/models"
)

// SQLStore implements Store on postgres, mysql or sqlite through sqlx.
type SQLStore struct {
	db      *sqlx.DB
	dialect database.Dialect
}

// NewSQLStore wraps an open connection. The schema is created by database.Migrate.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, dialect: database.DialectOf(db)}
}

// mapError converts driver errors into the repository sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if c, ok := database.UniqueViolation(err); ok {
		switch {
		case database.ConstraintOn(c, "thread_entry", "mid"):
			return fmt.Errorf("%w: %v", ErrDuplicateMessageID, err)
		case database.ConstraintOn(c, "ticket", "number"):
			return fmt.Errorf("%w: %v", ErrDuplicateNumber, err)
		case database.ConstraintOn(c, "users", "email"):
			return fmt.Errorf("%w: %v", ErrDuplicateEmail, err)
		}
		return err
	}
	if database.IsValueTooLong(err) {
		return fmt.Errorf("%w: %v", ErrValueTooLong, err)
	}
	if database.IsConnectionError(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (s *SQLStore) insert(ctx context.Context, ext sqlx.ExtContext, query string, args ...any) (int64, error) {
	if s.dialect.SupportsReturning() {
		var id int64
		err := ext.QueryRowxContext(ctx, s.db.Rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := ext.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLStore) forUpdate() string {
	if s.dialect == database.SQLite {
		return ""
	}
	return " FOR UPDATE"
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return mapError(s.db.PingContext(ctx))
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) upsert(table, key string, cols []string) string {
	all := append([]string{key}, cols...)
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(all, ", "), marks)
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		switch s.dialect {
		case database.MySQL:
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", c, c))
		default:
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	if s.dialect == database.MySQL {
		return q + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return q + fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET ", key) + strings.Join(sets, ", ")
}

// Seed upserts the lookup rows.
func (s *SQLStore) Seed(ctx context.Context, l Lookups) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	statusQ := s.db.Rebind(s.upsert("ticket_status", "id", []string{"name", "state"}))
	for _, st := range l.Statuses {
		if _, err := tx.ExecContext(ctx, statusQ, st.ID, st.Name, st.State); err != nil {
			return fmt.Errorf("seed status %d: %w", st.ID, mapError(err))
		}
	}
	prioQ := s.db.Rebind(s.upsert("ticket_priority", "priority_id", []string{"priority", "priority_desc", "priority_urgency"}))
	for _, p := range l.Priorities {
		if _, err := tx.ExecContext(ctx, prioQ, p.ID, p.Name, p.Description, p.Urgency); err != nil {
			return fmt.Errorf("seed priority %d: %w", p.ID, mapError(err))
		}
	}
	orgQ := s.db.Rebind(s.upsert("organization", "id", []string{"name"}))
	for _, o := range l.Organizations {
		if _, err := tx.ExecContext(ctx, orgQ, o.ID, o.Name); err != nil {
			return fmt.Errorf("seed organization %d: %w", o.ID, mapError(err))
		}
	}
	return mapError(tx.Commit())
}

// ---- conversations ----

type entryRow struct {
	ID          int64          `db:"id"`
	ThreadID    int64          `db:"thread_id"`
	Type        string         `db:"type"`
	MID         sql.NullString `db:"mid"`
	InReplyTo   sql.NullString `db:"in_reply_to"`
	Refs        sql.NullString `db:"refs"`
	Poster      sql.NullString `db:"poster"`
	UserID      sql.NullInt64  `db:"user_id"`
	Title       sql.NullString `db:"title"`
	Body        sql.NullString `db:"body"`
	Format      sql.NullString `db:"format"`
	Source      sql.NullString `db:"source"`
	IP          sql.NullString `db:"ip_address"`
	Flags       int            `db:"flags"`
	Recipients  sql.NullString `db:"recipients"`
	Attachments sql.NullString `db:"attachments"`
	Created     time.Time      `db:"created"`
}

const entryColumns = `id, thread_id, type, mid, in_reply_to, refs, poster, user_id, title, body,
	format, source, ip_address, flags, recipients, attachments, created`

func (r entryRow) toModel() *models.ConversationEntry {
	e := &models.ConversationEntry{
		ID:             r.ID,
		ConversationID: r.ThreadID,
		Type:           r.Type,
		MessageID:      r.MID.String,
		InReplyTo:      r.InReplyTo.String,
		Poster:         r.Poster.String,
		UserID:         r.UserID.Int64,
		Subject:        r.Title.String,
		Body:           r.Body.String,
		Format:         r.Format.String,
		Source:         r.Source.String,
		IP:             r.IP.String,
		Flags:          decodeFlags(r.Flags),
		Created:        r.Created,
	}
	if r.Refs.String != "" {
		e.References = strings.Fields(r.Refs.String)
	}
	if r.Recipients.String != "" {
		_ = json.Unmarshal([]byte(r.Recipients.String), &e.Recipients)
	}
	if r.Attachments.String != "" {
		_ = json.Unmarshal([]byte(r.Attachments.String), &e.AttachmentIDs)
	}
	return e
}

const (
	flagBounce = 1 << iota
	flagAutoReply
	flagSpam
	flagViral
)

func encodeFlags(f models.MailFlags) int {
	n := 0
	if f.Bounce {
		n |= flagBounce
	}
	if f.AutoReply {
		n |= flagAutoReply
	}
	if f.Spam {
		n |= flagSpam
	}
	if f.Viral {
		n |= flagViral
	}
	return n
}

func decodeFlags(n int) models.MailFlags {
	return models.MailFlags{
		Bounce:    n&flagBounce != 0,
		AutoReply: n&flagAutoReply != 0,
		Spam:      n&flagSpam != 0,
		Viral:     n&flagViral != 0,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func jsonText(v any, empty bool) sql.NullString {
	if empty {
		return sql.NullString{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func (s *SQLStore) FindEntryByMessageID(ctx context.Context, messageID string) (*models.ConversationEntry, error) {
	if messageID == "" {
		return nil, ErrNotFound
	}
	var row entryRow
	q := s.db.Rebind(`SELECT ` + entryColumns + ` FROM thread_entry WHERE mid = ?`)
	if err := s.db.GetContext(ctx, &row, q, messageID); err != nil {
		return nil, mapError(err)
	}
	return row.toModel(), nil
}

type threadRow struct {
	ID         int64          `db:"id"`
	ObjectType string         `db:"object_type"`
	ObjectID   int64          `db:"object_id"`
	Closed     bool           `db:"closed"`
	Created    time.Time      `db:"created"`
	Number     sql.NullString `db:"number"`
}

func (r threadRow) toModel() *models.Conversation {
	return &models.Conversation{
		ID:         r.ID,
		ObjectType: r.ObjectType,
		ObjectID:   r.ObjectID,
		Closed:     r.Closed,
		Created:    r.Created,
		Object:     models.ObjectRef{Type: r.ObjectType, ID: r.ObjectID, Number: r.Number.String},
	}
}

const threadSelect = `SELECT t.id, t.object_type, t.object_id, t.closed, t.created, k.number
	FROM thread t
	LEFT JOIN ticket k ON t.object_type = 'ticket' AND k.id = t.object_id`

func (s *SQLStore) FindConversationByReference(ctx context.Context, messageID string) (*models.Conversation, error) {
	var row threadRow
	q := s.db.Rebind(threadSelect + `
	INNER JOIN thread_reference r ON r.thread_id = t.id
	WHERE r.mid = ?
	ORDER BY r.created DESC
	LIMIT 1`)
	if err := s.db.GetContext(ctx, &row, q, messageID); err != nil {
		return nil, mapError(err)
	}
	return row.toModel(), nil
}

func (s *SQLStore) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	var row threadRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(threadSelect+` WHERE t.id = ?`), id); err != nil {
		return nil, mapError(err)
	}
	return row.toModel(), nil
}

func (s *SQLStore) ListEntries(ctx context.Context, conversationID int64) ([]*models.ConversationEntry, error) {
	var rows []entryRow
	q := s.db.Rebind(`SELECT ` + entryColumns + ` FROM thread_entry WHERE thread_id = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &rows, q, conversationID); err != nil {
		return nil, mapError(err)
	}
	out := make([]*models.ConversationEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *SQLStore) insertEntry(ctx context.Context, ext sqlx.ExtContext, e *models.ConversationEntry) error {
	if e.Created.IsZero() {
		e.Created = time.Now().UTC()
	}
	id, err := s.insert(ctx, ext, `INSERT INTO thread_entry
		(thread_id, type, mid, in_reply_to, refs, poster, user_id, title, body, format, source,
		 ip_address, flags, recipients, attachments, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ConversationID, e.Type, nullString(e.MessageID), nullString(e.InReplyTo),
		nullString(strings.Join(e.References, " ")), e.Poster, e.UserID, e.Subject, e.Body,
		e.Format, e.Source, e.IP, encodeFlags(e.Flags),
		jsonText(e.Recipients, len(e.Recipients) == 0), jsonText(e.AttachmentIDs, len(e.AttachmentIDs) == 0),
		e.Created,
	)
	if err != nil {
		return mapError(err)
	}
	e.ID = id
	return nil
}

func (s *SQLStore) AppendEntry(ctx context.Context, entry *models.ConversationEntry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var closed bool
	q := s.db.Rebind(`SELECT closed FROM thread WHERE id = ?` + s.forUpdate())
	if err := tx.GetContext(ctx, &closed, q, entry.ConversationID); err != nil {
		return mapError(err)
	}
	if closed {
		return ErrConversationClosed
	}
	if err := s.insertEntry(ctx, tx, entry); err != nil {
		return err
	}
	return mapError(tx.Commit())
}

func (s *SQLStore) AddReference(ctx context.Context, ref *models.ConversationReference) error {
	if ref.Created.IsZero() {
		ref.Created = time.Now().UTC()
	}
	q := s.db.Rebind(`INSERT INTO thread_reference (thread_id, mid, kind, created) VALUES (?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q, ref.ConversationID, ref.MessageID, ref.Kind, ref.Created)
	if _, dup := database.UniqueViolation(err); dup {
		return nil
	}
	return mapError(err)
}

func (s *SQLStore) SetConversationClosed(ctx context.Context, id int64, closed bool) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE thread SET closed = ? WHERE id = ?`), closed, id)
	if err != nil {
		return mapError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- tickets ----

const ticketColumns = `id, number, subject, status_id, priority_id, topic_id, user_id, org_id, source,
	ip_address, alert, autorespond, thread_id, created, duedate`

type ticketRow struct {
	models.Ticket
	TopicIDN sql.NullInt64  `db:"topic_id"`
	OrgIDN   sql.NullInt64  `db:"org_id"`
	SourceN  sql.NullString `db:"source"`
	IPN      sql.NullString `db:"ip_address"`
	DueN     sql.NullTime   `db:"duedate"`
}

func (s *SQLStore) CreateTicket(ctx context.Context, t *models.Ticket, first *models.ConversationEntry) error {
	if t.Created.IsZero() {
		t.Created = time.Now().UTC()
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	threadID, err := s.insert(ctx, tx,
		`INSERT INTO thread (object_type, object_id, closed, created) VALUES (?, ?, ?, ?)`,
		models.ObjectTicket, 0, false, t.Created)
	if err != nil {
		return mapError(err)
	}
	var due any
	if t.Due != nil {
		due = *t.Due
	}
	ticketID, err := s.insert(ctx, tx, `INSERT INTO ticket
		(number, subject, status_id, priority_id, topic_id, user_id, org_id, source, ip_address,
		 alert, autorespond, thread_id, created, duedate)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Number, t.Subject, t.StatusID, t.PriorityID, t.TopicID, t.UserID, t.OrgID, t.Source, t.IP,
		t.Alert, t.AutoRespond, threadID, t.Created, due)
	if err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE thread SET object_id = ? WHERE id = ?`), ticketID, threadID); err != nil {
		return mapError(err)
	}
	if first != nil {
		first.ConversationID = threadID
		if first.Created.IsZero() {
			first.Created = t.Created
		}
		if err := s.insertEntry(ctx, tx, first); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return mapError(err)
	}
	t.ID = ticketID
	t.ConversationID = threadID
	return nil
}

func (s *SQLStore) getTicket(ctx context.Context, where string, arg any) (*models.Ticket, error) {
	var row ticketRow
	q := s.db.Rebind(`SELECT ` + ticketColumns + ` FROM ticket WHERE ` + where + ` = ?`)
	if err := s.db.QueryRowxContext(ctx, q, arg).Scan(
		&row.ID, &row.Number, &row.Subject, &row.StatusID, &row.PriorityID, &row.TopicIDN, &row.UserID,
		&row.OrgIDN, &row.SourceN, &row.IPN, &row.Alert, &row.AutoRespond, &row.ConversationID,
		&row.Created, &row.DueN,
	); err != nil {
		return nil, mapError(err)
	}
	t := row.Ticket
	t.TopicID = int(row.TopicIDN.Int64)
	t.OrgID = row.OrgIDN.Int64
	t.Source = row.SourceN.String
	t.IP = row.IPN.String
	if row.DueN.Valid {
		due := row.DueN.Time
		t.Due = &due
	}
	return &t, nil
}

func (s *SQLStore) GetTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	return s.getTicket(ctx, "id", id)
}

func (s *SQLStore) GetTicketByNumber(ctx context.Context, number string) (*models.Ticket, error) {
	return s.getTicket(ctx, "number", number)
}

type openTicketRow struct {
	TicketID        int64          `db:"ticket_id"`
	TicketNumber    string         `db:"ticket_number"`
	Subject         sql.NullString `db:"subject"`
	StatusID        sql.NullInt64  `db:"status_id"`
	StatusName      sql.NullString `db:"status_name"`
	StatusState     sql.NullString `db:"status_state"`
	PriorityID      sql.NullInt64  `db:"priority_id"`
	PriorityName    sql.NullString `db:"priority"`
	PriorityDesc    sql.NullString `db:"priority_desc"`
	PriorityUrgency sql.NullInt64  `db:"priority_urgency"`
	Created         time.Time      `db:"created"`
	Due             sql.NullTime   `db:"duedate"`
	UserID          sql.NullInt64  `db:"user_id"`
	UserName        sql.NullString `db:"user_name"`
	UserEmail       sql.NullString `db:"user_email"`
	OrgID           sql.NullInt64  `db:"org_id"`
	OrgName         sql.NullString `db:"org_name"`
}

const openTicketsQuery = `SELECT
	t.id AS ticket_id,
	t.number AS ticket_number,
	t.subject,
	ts.id AS status_id,
	ts.name AS status_name,
	ts.state AS status_state,
	tp.priority_id,
	tp.priority,
	tp.priority_desc,
	tp.priority_urgency,
	t.created,
	t.duedate,
	u.id AS user_id,
	u.name AS user_name,
	u.email AS user_email,
	o.id AS org_id,
	o.name AS org_name
FROM ticket t
INNER JOIN ticket_status ts ON t.status_id = ts.id
INNER JOIN ticket_priority tp ON t.priority_id = tp.priority_id
INNER JOIN users u ON t.user_id = u.id
LEFT JOIN organization o ON u.org_id = o.id
WHERE ts.state = 'open'
ORDER BY tp.priority_urgency, t.created`

func (s *SQLStore) ListOpenTickets(ctx context.Context) ([]*models.OpenTicket, error) {
	var rows []openTicketRow
	if err := s.db.SelectContext(ctx, &rows, openTicketsQuery); err != nil {
		return nil, mapError(err)
	}
	out := make([]*models.OpenTicket, 0, len(rows))
	for _, r := range rows {
		ot := &models.OpenTicket{
			TicketID:     r.TicketID,
			TicketNumber: r.TicketNumber,
			Subject:      r.Subject.String,
			Created:      r.Created,
		}
		if r.StatusID.Valid {
			ot.Status = &models.TicketStatus{ID: int(r.StatusID.Int64), Name: r.StatusName.String, State: r.StatusState.String}
		}
		if r.PriorityID.Valid {
			ot.Priority = &models.TicketPriority{
				ID:          int(r.PriorityID.Int64),
				Name:        r.PriorityName.String,
				Description: r.PriorityDesc.String,
				Urgency:     int(r.PriorityUrgency.Int64),
			}
		}
		if r.UserID.Valid {
			ot.User = &models.UserSummary{ID: r.UserID.Int64, Name: r.UserName.String, Email: r.UserEmail.String}
		}
		if r.OrgID.Valid {
			ot.Org = &models.OrgSummary{ID: r.OrgID.Int64, Name: r.OrgName.String}
		}
		if r.Due.Valid {
			due := r.Due.Time
			ot.Due = &due
		}
		out = append(out, ot)
	}
	return out, nil
}

// ---- users ----

type userRow struct {
	ID      int64          `db:"id"`
	Name    sql.NullString `db:"name"`
	Email   string         `db:"email"`
	OrgID   sql.NullInt64  `db:"org_id"`
	Created time.Time      `db:"created"`
}

func (s *SQLStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var row userRow
	q := s.db.Rebind(`SELECT id, name, email, org_id, created FROM users WHERE LOWER(email) = ?`)
	if err := s.db.GetContext(ctx, &row, q, strings.ToLower(email)); err != nil {
		return nil, mapError(err)
	}
	return &models.User{ID: row.ID, Name: row.Name.String, Email: row.Email, OrgID: row.OrgID.Int64, Created: row.Created}, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, u *models.User) error {
	if u.Created.IsZero() {
		u.Created = time.Now().UTC()
	}
	var org sql.NullInt64
	if u.OrgID > 0 {
		org = sql.NullInt64{Int64: u.OrgID, Valid: true}
	}
	id, err := s.insert(ctx, s.db, `INSERT INTO users (name, email, org_id, created) VALUES (?, ?, ?, ?)`,
		u.Name, strings.ToLower(u.Email), org, u.Created)
	if err != nil {
		return mapError(err)
	}
	u.ID = id
	return nil
}
