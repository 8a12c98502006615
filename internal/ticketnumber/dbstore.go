package ticketnumber

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/gotrs-intake/internal/database"
)

// DBStore keeps one ticket_number_counter row per key and increments it with a dialect
// specific upsert. The increment commits on its own, so a number survives the rollback of
// the ticket it was drawn for.
type DBStore struct {
	db      *sqlx.DB
	dialect database.Dialect
	now     func() time.Time
}

func NewDBStore(db *sqlx.DB) *DBStore {
	return &DBStore{db: db, dialect: database.DialectOf(db), now: time.Now}
}

func (s *DBStore) Add(ctx context.Context, key string, offset int64) (int64, error) {
	if offset < 1 {
		return 0, errors.New("ticketnumber: offset must be positive")
	}
	now := s.now().UTC()
	switch s.dialect {
	case database.MySQL:
		// LAST_INSERT_ID(expr) keeps the value on this connection's exec result.
		res, err := s.db.ExecContext(ctx, `INSERT INTO ticket_number_counter (counter, counter_uid, create_time)
			VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE counter = LAST_INSERT_ID(counter + VALUES(counter))`, offset, key, now)
		if err != nil {
			return 0, fmt.Errorf("ticket counter %s: %w", key, err)
		}
		c, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("ticket counter %s: %w", key, err)
		}
		// a fresh row reports its auto increment id, not the counter
		if c == 0 || isFreshInsert(res) {
			return offset, nil
		}
		return c, nil
	default:
		var c int64
		q := s.db.Rebind(`INSERT INTO ticket_number_counter (counter, counter_uid, create_time)
			VALUES (?, ?, ?)
			ON CONFLICT (counter_uid) DO UPDATE SET counter = ticket_number_counter.counter + excluded.counter
			RETURNING counter`)
		if err := s.db.QueryRowxContext(ctx, q, offset, key, now).Scan(&c); err != nil {
			return 0, fmt.Errorf("ticket counter %s: %w", key, err)
		}
		return c, nil
	}
}

// isFreshInsert reports the mysql "1 row affected" result of an upsert that inserted.
func isFreshInsert(res sql.Result) bool {
	n, err := res.RowsAffected()
	return err == nil && n == 1
}
