// Package sqlunit produces persistence resources backed by database/sql.
package sqlunit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/GoCodeAlone/persistunit"
	"github.com/GoCodeAlone/persistunit/config"
)

var (
	ErrEmptyDriver       = fmt.Errorf("%w: database driver cannot be empty", persistunit.ErrConfiguration)
	ErrEmptyDSN          = fmt.Errorf("%w: database connection string (DSN) cannot be empty", persistunit.ErrConfiguration)
	ErrUnknownDriver     = fmt.Errorf("%w: database driver is not registered", persistunit.ErrConfiguration)
	ErrForeignFactory    = errors.New("factory was not produced by this producer")
	ErrTransactionActive = errors.New("session already has an active transaction")
	ErrSessionClosed     = errors.New("session is closed")
)

// Producer creates a fresh connection pool per test and closes it afterwards.
// The second-tier cache is shared by every factory it produces.
type Producer struct {
	unit   string
	config config.UnitConfig
	cache  persistunit.SecondLevelCache
	logger persistunit.Logger
}

// NewProducer validates cfg and creates a producer for unit.
func NewProducer(unit string, cfg config.UnitConfig, cache persistunit.SecondLevelCache, logger persistunit.Logger) (*Producer, error) {
	if cfg.Driver == "" {
		return nil, ErrEmptyDriver
	}
	if cfg.DSN == "" {
		return nil, ErrEmptyDSN
	}
	if !slices.Contains(sql.Drivers(), cfg.Driver) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
	if logger == nil {
		logger = persistunit.NopLogger()
	}
	return &Producer{unit: unit, config: cfg, cache: cache, logger: logger}, nil
}

// Unit returns the persistence unit name.
func (p *Producer) Unit() string { return p.unit }

// Driver returns the database/sql driver name of the unit.
func (p *Producer) Driver() string { return p.config.Driver }

// Create opens and pings a new pool.
func (p *Producer) Create(ctx context.Context) (persistunit.Factory, error) {
	db, err := p.open(ctx)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("Factory created", "unit", p.unit, "driver", p.config.Driver)
	return &Factory{unit: p.unit, driver: p.config.Driver, db: db, cache: p.cache}, nil
}

// Destroy closes the pool of a factory returned by Create.
func (p *Producer) Destroy(_ context.Context, f persistunit.Factory) error {
	factory, ok := f.(*Factory)
	if !ok {
		return fmt.Errorf("%w: %T", ErrForeignFactory, f)
	}
	if err := factory.db.Close(); err != nil {
		return fmt.Errorf("closing pool of unit %s: %w", p.unit, err)
	}
	p.logger.Debug("Factory destroyed", "unit", p.unit)
	return nil
}

// OpenDataSource opens a class-scoped pool. The caller closes it.
func (p *Producer) OpenDataSource(ctx context.Context) (*sql.DB, error) {
	return p.open(ctx)
}

func (p *Producer) open(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(p.config.Driver, p.config.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: opening unit %s: %v", persistunit.ErrResourceCreation, p.unit, err)
	}
	if p.config.MaxOpenConnections > 0 {
		db.SetMaxOpenConns(p.config.MaxOpenConnections)
	}
	if p.config.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(p.config.MaxIdleConnections)
	}
	if p.config.ConnectionMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.config.ConnectionMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: pinging unit %s: %v", persistunit.ErrResourceCreation, p.unit, err)
	}
	return db, nil
}

// Factory is the per-test pool sessions are derived from.
type Factory struct {
	unit   string
	driver string
	db     *sql.DB
	cache  persistunit.SecondLevelCache
}

// OpenSession pins a connection of the pool for the duration of a test.
func (f *Factory) OpenSession(ctx context.Context) (persistunit.Session, error) {
	conn, err := f.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: acquiring connection of unit %s: %v", persistunit.ErrResourceCreation, f.unit, err)
	}
	return &Session{conn: conn, driver: f.driver}, nil
}

func (f *Factory) Cache() persistunit.SecondLevelCache { return f.cache }
func (f *Factory) Driver() string                      { return f.driver }
func (f *Factory) Unit() string                        { return f.unit }

// DB exposes the underlying pool.
func (f *Factory) DB() *sql.DB { return f.db }
