// Package evaluation provides the decorator that seeds datasets before a test
// and verifies the stored state against expected datasets after it.
package evaluation

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/persistunit"
	"github.com/GoCodeAlone/persistunit/dataset"
	"github.com/GoCodeAlone/persistunit/decorators/persistence"
)

// Name is the registry name of the decorator.
const Name = "evaluation"

// Decorator seeds and verifies datasets. It sits inside the transaction
// decorator and uses the test's own session, so it compares the state the test
// wrote before that state is committed or rolled back.
type Decorator struct {
	loader *dataset.Loader
}

// New creates the evaluation decorator reading datasets through loader.
func New(loader *dataset.Loader) *Decorator {
	return &Decorator{loader: loader}
}

func (d *Decorator) Name() string  { return Name }
func (d *Decorator) Priority() int { return persistunit.PriorityEvaluation }

func (d *Decorator) AppliesTo(features persistunit.FeatureConfig) bool {
	return features.HasDataSets()
}

func (d *Decorator) Apply(ctx context.Context, inv persistunit.Invocation) (err error) {
	ec := inv.Context()
	features := ec.Features()
	if !features.HasDataSets() {
		return inv.Proceed(ctx)
	}

	// Load every file up front so a broken dataset fails before anything is written.
	var seed, expected *dataset.DataSet
	if len(features.SeedDataSets) > 0 {
		if seed, err = d.loader.LoadAll(features.SeedDataSets...); err != nil {
			return fmt.Errorf("%w: seed dataset: %w", persistunit.ErrConfiguration, err)
		}
	}
	if len(features.ExpectedDataSets) > 0 {
		if expected, err = d.loader.LoadAll(features.ExpectedDataSets...); err != nil {
			return fmt.Errorf("%w: expected dataset: %w", persistunit.ErrConfiguration, err)
		}
	}

	q, driver, release, err := d.querier(ctx, ec)
	if err != nil {
		return err
	}
	defer func() {
		err = persistunit.WithTeardown(err, Name, release())
	}()

	log := ec.Logger()
	if seed != nil {
		if err := dataset.Seed(ctx, q, driver, seed, features.SeedStrategy); err != nil {
			return fmt.Errorf("seeding %v: %w", features.SeedDataSets, err)
		}
		log.Debug("Dataset seeded", "method", ec.MethodName(), "tables", seed.TableNames(), "strategy", features.SeedStrategy)
	}
	if features.Cleanup {
		defer func() {
			cleanup := dataset.Merge(seed, expected)
			err = persistunit.WithTeardown(err, Name, dataset.Cleanup(context.WithoutCancel(ctx), q, cleanup))
		}()
	}

	if err := inv.Proceed(ctx); err != nil {
		return err
	}

	if expected != nil {
		if err := dataset.Compare(ctx, q, expected, features.ExcludeColumns); err != nil {
			log.Debug("Dataset mismatch", "method", ec.MethodName(), "error", err)
			return err
		}
	}
	return nil
}

type driverNamer interface {
	Driver() string
}

// querier picks what the datasets are written and read through: the test's
// session, a temporary session of its factory, or the class data source.
func (d *Decorator) querier(ctx context.Context, ec *persistunit.ExecutionContext) (persistunit.Querier, string, func() error, error) {
	noop := func() error { return nil }
	if session, ok := persistence.SessionFrom(ec); ok {
		return session, session.Driver(), noop, nil
	}
	if factory, ok := persistence.FactoryFrom(ec); ok {
		session, err := factory.OpenSession(ctx)
		if err != nil {
			return nil, "", nil, fmt.Errorf("%w: opening evaluation session: %w", persistunit.ErrResourceCreation, err)
		}
		return session, session.Driver(), session.Close, nil
	}
	if db := ec.DataSource(); db != nil {
		driver := ""
		if n, ok := ec.Producer().(driverNamer); ok {
			driver = n.Driver()
		}
		return db, driver, noop, nil
	}
	return nil, "", nil, fmt.Errorf("%w: test %s declares datasets but has no persistence unit to apply them to",
		persistunit.ErrConfiguration, ec.MethodName())
}
