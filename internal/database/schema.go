package database

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"
)

//go:embed schema.yaml
var schemaYAML []byte

// Table is one table of the intake schema.
type Table struct {
	Name    string   `yaml:"name"`
	PK      string   `yaml:"pk"`
	Columns []Column `yaml:"columns"`
	Unique  []Index  `yaml:"unique"`
	Indexes []Index  `yaml:"indexes"`
}

// Column is a column definition; a trailing "!" on Type means NOT NULL.
type Column struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type Index struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
}

// LoadSchema parses the embedded schema definition.
func LoadSchema() ([]Table, error) {
	var tables []Table
	if err := yaml.Unmarshal(schemaYAML, &tables); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return tables, nil
}

// GenerateSQL renders the statements creating every table and index for a dialect.
func GenerateSQL(d Dialect, tables []Table) []string {
	var stmts []string
	for _, t := range tables {
		stmts = append(stmts, createTable(d, t))
		if d == MySQL {
			continue
		}
		for _, idx := range t.Unique {
			stmts = append(stmts, fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
				idx.Name, t.Name, strings.Join(idx.Columns, ", ")))
		}
		for _, idx := range t.Indexes {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				idx.Name, t.Name, strings.Join(idx.Columns, ", ")))
		}
	}
	return stmts
}

func createTable(d Dialect, t Table) string {
	var defs []string
	for _, c := range t.Columns {
		typ := c.Type
		notNull := strings.HasSuffix(typ, "!")
		typ = strings.TrimSuffix(typ, "!")
		def := c.Name + " " + d.MapType(typ)
		if notNull {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if t.PK != "" {
		defs = append(defs, "PRIMARY KEY ("+t.PK+")")
	}
	if d == MySQL {
		for _, idx := range t.Unique {
			defs = append(defs, fmt.Sprintf("UNIQUE KEY %s (%s)", idx.Name, strings.Join(idx.Columns, ", ")))
		}
		for _, idx := range t.Indexes {
			defs = append(defs, fmt.Sprintf("KEY %s (%s)", idx.Name, strings.Join(idx.Columns, ", ")))
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", t.Name, strings.Join(defs, ",\n\t"))
}

// Migrate creates any missing table or index. It is safe to run repeatedly.
func Migrate(ctx context.Context, db *sqlx.DB) (int, error) {
	tables, err := LoadSchema()
	if err != nil {
		return 0, err
	}
	stmts := GenerateSQL(DialectOf(db), tables)
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return i, fmt.Errorf("migration statement %d failed: %w", i+1, err)
		}
	}
	return len(stmts), nil
}
