package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/GoCodeAlone/persistunit/config"
	"github.com/GoCodeAlone/persistunit/sqlunit"
)

// SQLiteUnit returns a unit config backed by a database file in a temporary
// directory removed with the test.
func SQLiteUnit(t testing.TB) config.UnitConfig {
	t.Helper()
	return config.UnitConfig{Driver: "sqlite", DSN: "file:" + filepath.Join(t.TempDir(), "unit.db")}
}

// SQLiteProducer creates a producer for SQLiteUnit and runs schema on it.
func SQLiteProducer(t testing.TB, schema ...string) *sqlunit.Producer {
	t.Helper()
	p, err := sqlunit.NewProducer("test", SQLiteUnit(t), nil, nil)
	if err != nil {
		t.Fatalf("creating producer: %v", err)
	}
	if len(schema) > 0 {
		db := OpenDB(t, p)
		for _, stmt := range schema {
			if _, err := db.Exec(stmt); err != nil {
				t.Fatalf("applying schema %q: %v", stmt, err)
			}
		}
	}
	return p
}

// OpenDB opens a data source of p closed with the test.
func OpenDB(t testing.TB, p *sqlunit.Producer) *sql.DB {
	t.Helper()
	db, err := p.OpenDataSource(context.Background())
	if err != nil {
		t.Fatalf("opening data source: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Count returns the number of rows of table.
func Count(t testing.TB, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}
