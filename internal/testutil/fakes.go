// Package testutil holds counting fakes of the persistence collaborators and
// helpers for sqlite backed tests.
package testutil

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/GoCodeAlone/persistunit"
)

// ErrNoQueries is returned by every query of a fake Session.
var ErrNoQueries = errors.New("fake session does not run queries")

// Cache is an in-memory SecondLevelCache counting flushes.
type Cache struct {
	mu       sync.Mutex
	items    map[string]any
	Flushes  int
	FlushErr error
}

func NewCache() *Cache { return &Cache{items: make(map[string]any)} }

func (c *Cache) Get(_ context.Context, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *Cache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *Cache) Flush(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Flushes++
	if c.FlushErr != nil {
		return c.FlushErr
	}
	c.items = make(map[string]any)
	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Session counts Close calls and transaction outcomes.
type Session struct {
	Closes    int
	CloseErr  error
	Commits   int
	Rollbacks int
	BeginErr  error
	CommitErr error
	inTx      bool
}

func (s *Session) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, ErrNoQueries
}

func (s *Session) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, ErrNoQueries
}

func (s *Session) QueryRowContext(context.Context, string, ...any) *sql.Row { return nil }

func (s *Session) Begin(context.Context) (persistunit.Transaction, error) {
	if s.BeginErr != nil {
		return nil, s.BeginErr
	}
	s.inTx = true
	return &transaction{session: s}, nil
}

func (s *Session) InTransaction() bool { return s.inTx }
func (s *Session) Driver() string      { return "fake" }

func (s *Session) Close() error {
	s.Closes++
	return s.CloseErr
}

type transaction struct {
	session *Session
}

func (t *transaction) Commit() error {
	t.session.inTx = false
	t.session.Commits++
	return t.session.CommitErr
}

func (t *transaction) Rollback() error {
	t.session.inTx = false
	t.session.Rollbacks++
	return nil
}

// Factory records the sessions it opened.
type Factory struct {
	Sessions []*Session
	OpenErr  error
	cache    persistunit.SecondLevelCache
}

func (f *Factory) OpenSession(context.Context) (persistunit.Session, error) {
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	s := &Session{}
	f.Sessions = append(f.Sessions, s)
	return s, nil
}

func (f *Factory) Cache() persistunit.SecondLevelCache { return f.cache }
func (f *Factory) Driver() string                      { return "fake" }

// Producer counts factory creation and destruction.
type Producer struct {
	mu         sync.Mutex
	Created    int
	Destroyed  int
	Factories  []*Factory
	CreateErr  error
	DestroyErr error

	// Cache, when set, is shared by every produced factory.
	Cache *Cache
}

func (p *Producer) Create(context.Context) (persistunit.Factory, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	p.Created++
	f := &Factory{}
	if p.Cache != nil {
		f.cache = p.Cache
	}
	p.Factories = append(p.Factories, f)
	return f, nil
}

func (p *Producer) Destroy(context.Context, persistunit.Factory) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Destroyed++
	return p.DestroyErr
}

// Sessions returns every session opened from the produced factories.
func (p *Producer) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Session
	for _, f := range p.Factories {
		out = append(out, f.Sessions...)
	}
	return out
}
