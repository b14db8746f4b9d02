// Package persistence provides the decorator that produces a per-test factory,
// injects it (or a session derived from it) into the test target and releases
// both afterwards.
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/persistunit"
)

// Name is the registry name of the decorator.
const Name = "persistence"

// Keys the decorator owns in the ExecutionContext while the test runs.
var (
	FactoryKey = persistunit.DataKey{Owner: Name, Name: "factory"}
	SessionKey = persistunit.DataKey{Owner: Name, Name: "session"}
)

// Decorator manages the persistence resource of a test.
type Decorator struct {
	evict bool
}

// Option configures the Decorator.
type Option func(*Decorator)

// WithEviction controls whether the factory's second-tier cache is flushed
// when the factory is destroyed. Enabled by default.
func WithEviction(evict bool) Option {
	return func(d *Decorator) { d.evict = evict }
}

// New creates the persistence decorator.
func New(opts ...Option) *Decorator {
	d := &Decorator{evict: true}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Decorator) Name() string  { return Name }
func (d *Decorator) Priority() int { return persistunit.PriorityPersistence }

// Apply produces the factory and injects the resource the target field asks
// for. A field of any other type fails the test with an
// UnsupportedFieldTypeError, but the rest of the chain still runs.
func (d *Decorator) Apply(ctx context.Context, inv persistunit.Invocation) (err error) {
	ec := inv.Context()
	field := ec.PersistenceField()
	if field == nil {
		return inv.Proceed(ctx)
	}

	producer := ec.Producer()
	if producer == nil {
		return fmt.Errorf("%w: no resource producer for unit %q", persistunit.ErrConfiguration, ec.Features().Unit)
	}
	factory, err := producer.Create(ctx)
	if err != nil {
		if !errors.Is(err, persistunit.ErrResourceCreation) {
			err = fmt.Errorf("%w: %w", persistunit.ErrResourceCreation, err)
		}
		return err
	}

	log := ec.Logger()
	log.Debug("Factory produced", "unit", ec.Features().Unit, "class", ec.ClassName(), "method", ec.MethodName())
	if serr := ec.SetData(FactoryKey, factory); serr != nil {
		return persistunit.WithTeardown(serr, Name, d.destroy(context.WithoutCancel(ctx), producer, factory))
	}

	release := context.WithoutCancel(ctx)
	defer func() {
		ec.DeleteData(FactoryKey)
		err = persistunit.WithTeardown(err, Name, d.destroy(release, producer, factory))
		log.Debug("Factory destroyed", "unit", ec.Features().Unit, "method", ec.MethodName())
	}()

	target, injector := inv.Target(), ec.Injector()
	switch {
	case field.AcceptsFactory():
		if ierr := injector.InjectValue(field, target, factory); ierr != nil {
			return ierr
		}
		return inv.Proceed(ctx)

	case field.AcceptsSession():
		session, serr := factory.OpenSession(ctx)
		if serr != nil {
			if !errors.Is(serr, persistunit.ErrResourceCreation) {
				serr = fmt.Errorf("%w: opening session: %w", persistunit.ErrResourceCreation, serr)
			}
			return serr
		}
		if derr := ec.SetData(SessionKey, session); derr != nil {
			return persistunit.WithTeardown(derr, Name, session.Close())
		}
		defer func() {
			ec.DeleteData(SessionKey)
			err = persistunit.WithTeardown(err, Name, session.Close())
		}()
		if ierr := injector.InjectValue(field, target, session); ierr != nil {
			return ierr
		}
		return inv.Proceed(ctx)

	default:
		unsupported := &persistunit.UnsupportedFieldTypeError{Field: field.Name, Type: field.Type}
		log.Warn("Persistence field has an unsupported type", "field", field.Name, "type", field.Type)
		return persistunit.Suppress(unsupported, inv.Proceed(ctx))
	}
}

// destroy evicts the second-tier cache and destroys the factory. The pool is
// destroyed even when eviction fails.
func (d *Decorator) destroy(ctx context.Context, producer persistunit.ResourceProducer, factory persistunit.Factory) error {
	var evictErr error
	if d.evict {
		if c := factory.Cache(); c != nil {
			if err := c.Flush(ctx); err != nil {
				evictErr = fmt.Errorf("evicting second-tier cache: %w", err)
			}
		}
	}
	if err := producer.Destroy(ctx, factory); err != nil {
		return errors.Join(evictErr, fmt.Errorf("destroying factory: %w", err))
	}
	return evictErr
}

// SessionFrom returns the session the decorator opened for the running test.
func SessionFrom(ec *persistunit.ExecutionContext) (persistunit.Session, bool) {
	return persistunit.DataAs[persistunit.Session](ec, SessionKey)
}

// FactoryFrom returns the factory produced for the running test.
func FactoryFrom(ec *persistunit.ExecutionContext) (persistunit.Factory, bool) {
	return persistunit.DataAs[persistunit.Factory](ec, FactoryKey)
}
