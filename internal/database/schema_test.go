package database

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findStmt(stmts []string, prefix string) string {
	for _, s := range stmts {
		if strings.HasPrefix(s, prefix) {
			return s
		}
	}
	return ""
}

func TestLoadSchema(t *testing.T) {
	tables, err := LoadSchema()
	require.NoError(t, err)

	names := make([]string, 0, len(tables))
	for _, tbl := range tables {
		names = append(names, tbl.Name)
	}
	assert.Contains(t, names, "thread_entry")
	assert.Contains(t, names, "ticket_number_counter")
	assert.Contains(t, names, "attachment_file")
}

func TestGenerateSQLPostgres(t *testing.T) {
	tables, err := LoadSchema()
	require.NoError(t, err)
	stmts := GenerateSQL(Postgres, tables)

	entry := findStmt(stmts, "CREATE TABLE IF NOT EXISTS thread_entry ")
	require.NotEmpty(t, entry)
	assert.Contains(t, entry, "id BIGSERIAL PRIMARY KEY")
	assert.Contains(t, entry, "mid VARCHAR(191)")
	assert.NotContains(t, entry, "mid VARCHAR(191) NOT NULL")
	assert.Contains(t, stmts, "CREATE UNIQUE INDEX IF NOT EXISTS uq_thread_entry_mid ON thread_entry (mid)")

	file := findStmt(stmts, "CREATE TABLE IF NOT EXISTS attachment_file ")
	assert.Contains(t, file, "content BYTEA")
	assert.Contains(t, file, "PRIMARY KEY (id)")
}

func TestGenerateSQLMySQLInlinesIndexes(t *testing.T) {
	tables, err := LoadSchema()
	require.NoError(t, err)
	stmts := GenerateSQL(MySQL, tables)

	for _, s := range stmts {
		assert.True(t, strings.HasPrefix(s, "CREATE TABLE"), "unexpected statement %q", s)
	}
	ticket := findStmt(stmts, "CREATE TABLE IF NOT EXISTS ticket ")
	assert.Contains(t, ticket, "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY")
	assert.Contains(t, ticket, "UNIQUE KEY uq_ticket_number (number)")
	assert.Contains(t, ticket, "alert TINYINT(1) NOT NULL")
}

func TestGenerateSQLSQLite(t *testing.T) {
	tables, err := LoadSchema()
	require.NoError(t, err)
	stmts := GenerateSQL(SQLite, tables)

	ref := findStmt(stmts, "CREATE TABLE IF NOT EXISTS thread_reference ")
	assert.Contains(t, ref, "mid TEXT NOT NULL")
	assert.Contains(t, ref, "PRIMARY KEY (thread_id, mid)")
	users := findStmt(stmts, "CREATE TABLE IF NOT EXISTS users ")
	assert.Contains(t, users, "id INTEGER PRIMARY KEY AUTOINCREMENT")
}

func TestMigrate(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()
	db := sqlx.NewDb(mockDB, "mysql")

	tables, err := LoadSchema()
	require.NoError(t, err)
	for range GenerateSQL(MySQL, tables) {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	n, err := Migrate(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, len(tables), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDialectFor(t *testing.T) {
	cases := map[string]Dialect{"postgres": Postgres, "MySQL": MySQL, "mariadb": MySQL, "sqlite3": SQLite}
	for in, want := range cases {
		got, err := DialectFor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := DialectFor("oracle")
	assert.Error(t, err)
	assert.True(t, Postgres.SupportsReturning())
	assert.False(t, MySQL.SupportsReturning())
}
