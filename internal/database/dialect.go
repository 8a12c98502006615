package database

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Dialect captures the SQL differences between the supported drivers.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite3"
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "pgx":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// DialectOf returns the dialect of an open connection, defaulting to Postgres.
func DialectOf(db *sqlx.DB) Dialect {
	d, err := DialectFor(db.DriverName())
	if err != nil {
		return Postgres
	}
	return d
}

// SupportsReturning reports whether INSERT ... RETURNING is available.
func (d Dialect) SupportsReturning() bool {
	return d == Postgres
}

var sizedType = regexp.MustCompile(`^([a-z]+)\((\d+)\)$`)

// MapType translates a schema column type into the dialect's column definition.
func (d Dialect) MapType(schemaType string) string {
	t := strings.ToLower(strings.TrimSpace(schemaType))
	if m := sizedType.FindStringSubmatch(t); m != nil && m[1] == "varchar" {
		if d == SQLite {
			return "TEXT"
		}
		return "VARCHAR(" + m[2] + ")"
	}
	switch t {
	case "bigserial":
		switch d {
		case MySQL:
			return "BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"
		case SQLite:
			return "INTEGER PRIMARY KEY AUTOINCREMENT"
		default:
			return "BIGSERIAL PRIMARY KEY"
		}
	case "bigint":
		if d == SQLite {
			return "INTEGER"
		}
		return "BIGINT"
	case "int", "integer":
		return "INTEGER"
	case "bool", "boolean":
		switch d {
		case MySQL:
			return "TINYINT(1)"
		case SQLite:
			return "INTEGER"
		default:
			return "BOOLEAN"
		}
	case "timestamp":
		if d == MySQL {
			return "DATETIME"
		}
		return "TIMESTAMP"
	case "blob":
		switch d {
		case MySQL:
			return "LONGBLOB"
		case SQLite:
			return "BLOB"
		default:
			return "BYTEA"
		}
	case "text":
		if d == MySQL {
			return "LONGTEXT"
		}
		return "TEXT"
	default:
		return strings.ToUpper(t)
	}
}
