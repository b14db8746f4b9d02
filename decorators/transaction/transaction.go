// Package transaction provides the decorator that wraps a test in a
// transaction on the session opened by the persistence decorator.
package transaction

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/persistunit"
	"github.com/GoCodeAlone/persistunit/decorators/persistence"
)

// Name is the registry name of the decorator.
const Name = "transaction"

// TxKey holds the active transaction while the test runs.
var TxKey = persistunit.DataKey{Owner: Name, Name: "tx"}

// Decorator begins a transaction before the test and commits it afterwards,
// unless rollback was requested or the test failed.
type Decorator struct{}

// New creates the transaction decorator.
func New() *Decorator { return &Decorator{} }

func (*Decorator) Name() string  { return Name }
func (*Decorator) Priority() int { return persistunit.PriorityTransaction }

func (*Decorator) AppliesTo(features persistunit.FeatureConfig) bool {
	return features.Transactional
}

func (*Decorator) Apply(ctx context.Context, inv persistunit.Invocation) (err error) {
	ec := inv.Context()
	features := ec.Features()
	if !features.Transactional {
		return inv.Proceed(ctx)
	}

	session, ok := persistence.SessionFrom(ec)
	if !ok {
		return fmt.Errorf("%w: transactional test %s has no open session", persistunit.ErrConfiguration, ec.MethodName())
	}
	tx, err := session.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %w", persistunit.ErrResourceCreation, err)
	}
	if err := ec.SetData(TxKey, tx); err != nil {
		return persistunit.WithTeardown(err, Name, tx.Rollback())
	}
	log := ec.Logger()
	log.Debug("Transaction begun", "method", ec.MethodName(), "rollback", features.Rollback)

	// completed stays false when the test goroutine exits through runtime.Goexit.
	completed := false
	defer func() {
		ec.DeleteData(TxKey)
		if err != nil || features.Rollback || !completed {
			err = persistunit.WithTeardown(err, Name, tx.Rollback())
			log.Debug("Transaction rolled back", "method", ec.MethodName())
			return
		}
		err = persistunit.WithTeardown(err, Name, tx.Commit())
		log.Debug("Transaction committed", "method", ec.MethodName())
	}()

	err = inv.Proceed(ctx)
	completed = true
	return err
}
