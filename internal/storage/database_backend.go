package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// DatabaseBackend stores files in the attachment_file table.
type DatabaseBackend struct {
	db *sqlx.DB
}

// NewDatabaseBackend creates a new database storage backend.
func NewDatabaseBackend(db *sqlx.DB) *DatabaseBackend {
	return &DatabaseBackend{db: db}
}

type fileRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	ContentType string `db:"content_type"`
	Size        int64  `db:"size"`
	Content     []byte `db:"content"`
}

func (d *DatabaseBackend) Store(ctx context.Context, content *FileContent) (*Reference, error) {
	ref := &Reference{
		ID:          uuid.NewString(),
		Backend:     "DB",
		Name:        content.Name,
		ContentType: content.ContentType,
		Size:        int64(len(content.Data)),
		Checksum:    checksum(content.Data),
		Created:     createdAt(content),
	}
	ref.Location = "attachment_file/" + ref.ID

	query := d.db.Rebind(`INSERT INTO attachment_file (id, name, content_type, size, checksum, content, created)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := d.db.ExecContext(ctx, query,
		ref.ID, ref.Name, ref.ContentType, ref.Size, ref.Checksum, content.Data, ref.Created,
	); err != nil {
		return nil, fmt.Errorf("failed to insert attachment file: %w", err)
	}
	return ref, nil
}

func (d *DatabaseBackend) Retrieve(ctx context.Context, id string) (*FileContent, error) {
	var row fileRow
	query := d.db.Rebind(`SELECT id, name, content_type, size, content FROM attachment_file WHERE id = ?`)
	if err := d.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load attachment file: %w", err)
	}
	return &FileContent{
		Name:        row.Name,
		ContentType: row.ContentType,
		Size:        row.Size,
		Data:        row.Content,
	}, nil
}

func (d *DatabaseBackend) Delete(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, d.db.Rebind(`DELETE FROM attachment_file WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete attachment file: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *DatabaseBackend) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	query := d.db.Rebind(`SELECT COUNT(*) FROM attachment_file WHERE id = ?`)
	if err := d.db.GetContext(ctx, &n, query, id); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DatabaseBackend) GetInfo() *BackendInfo {
	info := &BackendInfo{Name: "Database", Type: "DB"}
	row := d.db.QueryRowx(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM attachment_file`)
	_ = row.Scan(&info.Files, &info.Bytes)
	return info
}

func (d *DatabaseBackend) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
