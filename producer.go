package persistunit

import (
	"context"
	"database/sql"
	"time"
)

// ResourceProducer creates and destroys the heavyweight resource a test runs
// against. One factory is produced per test and destroyed once after it.
type ResourceProducer interface {
	Create(ctx context.Context) (Factory, error)
	Destroy(ctx context.Context, factory Factory) error
}

// DataSourceProvider is implemented by producers that can hand out a
// class-scoped data source, used by global fixtures such as bootstrapping.
type DataSourceProvider interface {
	OpenDataSource(ctx context.Context) (*sql.DB, error)
}

// Factory is the long-lived handle a per-test Session is derived from.
type Factory interface {
	// OpenSession derives a new session. The caller owns it and must close it.
	OpenSession(ctx context.Context) (Session, error)

	// Cache returns the second-tier cache shared across factories, or nil.
	Cache() SecondLevelCache

	// Driver names the database/sql driver backing the factory.
	Driver() string
}

// Querier is the subset of database/sql both *sql.DB, *sql.Conn and *sql.Tx satisfy.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Session is a per-test live connection. Queries issued through it run inside
// the active transaction when one was begun.
type Session interface {
	Querier

	// Begin starts a transaction on the session.
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction reports whether a transaction is active.
	InTransaction() bool

	// Driver names the database/sql driver backing the session.
	Driver() string

	Close() error
}

// Transaction is the boundary begun by Session.Begin.
type Transaction interface {
	Commit() error
	Rollback() error
}

// SecondLevelCache is a process-level cache layered above the backing store.
type SecondLevelCache interface {
	Get(ctx context.Context, key string) (any, bool)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Flush(ctx context.Context) error
}

// UnitRegistry resolves persistence unit names to producers.
type UnitRegistry interface {
	DefaultUnit() string
	Producer(unit string) (ResourceProducer, bool)
}

// StaticUnits is a map based UnitRegistry.
type StaticUnits struct {
	Default   string
	Producers map[string]ResourceProducer
}

func (u StaticUnits) DefaultUnit() string { return u.Default }

func (u StaticUnits) Producer(unit string) (ResourceProducer, bool) {
	p, ok := u.Producers[unit]
	return p, ok
}
