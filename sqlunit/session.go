package sqlunit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/persistunit"
)

// Session is a single pinned connection. While a transaction is active every
// query goes through it, so changes are visible to the session before commit.
type Session struct {
	conn   *sql.Conn
	tx     *sql.Tx
	driver string
	closed bool
}

func (s *Session) querier() (persistunit.Querier, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.tx != nil {
		return s.tx, nil
	}
	return s.conn, nil
}

func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	q, err := s.querier()
	if err != nil {
		return nil, err
	}
	return q.ExecContext(ctx, query, args...)
}

func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	q, err := s.querier()
	if err != nil {
		return nil, err
	}
	return q.QueryContext(ctx, query, args...)
}

// QueryRowContext panics on a closed session, as the *sql.Row cannot carry the error.
func (s *Session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	q, err := s.querier()
	if err != nil {
		panic(err)
	}
	return q.QueryRowContext(ctx, query, args...)
}

func (s *Session) Driver() string      { return s.driver }
func (s *Session) InTransaction() bool { return s.tx != nil }

// Begin starts a transaction on the pinned connection.
func (s *Session) Begin(ctx context.Context) (persistunit.Transaction, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.tx != nil {
		return nil, ErrTransactionActive
	}
	// database/sql rolls back on its own when the begin context is cancelled,
	// which would race the caller's explicit Commit or Rollback.
	tx, err := s.conn.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return nil, fmt.Errorf("beginning database transaction: %w", err)
	}
	s.tx = tx
	return &transaction{session: s, tx: tx}, nil
}

// Close rolls back a dangling transaction and returns the connection to the pool.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var rbErr error
	if s.tx != nil {
		if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			rbErr = fmt.Errorf("rolling back dangling transaction: %w", err)
		}
		s.tx = nil
	}
	if err := s.conn.Close(); err != nil {
		return errors.Join(rbErr, fmt.Errorf("closing session connection: %w", err))
	}
	return rbErr
}

type transaction struct {
	session *Session
	tx      *sql.Tx
}

func (t *transaction) Commit() error {
	defer t.release()
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (t *transaction) Rollback() error {
	defer t.release()
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

func (t *transaction) release() {
	if t.session.tx == t.tx {
		t.session.tx = nil
	}
}
