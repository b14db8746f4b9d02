package evaluation_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/persistunit"
	"github.com/GoCodeAlone/persistunit/dataset"
	"github.com/GoCodeAlone/persistunit/decorators/evaluation"
	"github.com/GoCodeAlone/persistunit/decorators/persistence"
	"github.com/GoCodeAlone/persistunit/decorators/transaction"
	"github.com/GoCodeAlone/persistunit/internal/testutil"
	"github.com/GoCodeAlone/persistunit/sqlunit"
)

const schema = "CREATE TABLE orders (id INTEGER PRIMARY KEY, customer TEXT NOT NULL, total INTEGER)"

const seedYAML = `orders:
  - id: 1
    customer: alice
    total: 10
`

const expectedYAML = `orders:
  - id: 2
    customer: bob
    total: 25
  - id: 1
    customer: alice
    total: 10
`

var errBody = errors.New("body failed")

type sessionTest struct {
	DB persistunit.Session
}

type factoryTest struct {
	Factory persistunit.Factory
}

type fixture struct {
	producer *sqlunit.Producer
	loader   *dataset.Loader
	pipeline *persistunit.Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	for name, content := range map[string]string{
		"seed.yaml":     seedYAML,
		"expected.yaml": expectedYAML,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}

	f := &fixture{
		producer: testutil.SQLiteProducer(t, schema),
		loader:   dataset.NewLoader(dir),
		pipeline: persistunit.NewPipeline(),
	}
	require.NoError(t, f.pipeline.Register(persistence.New()))
	require.NoError(t, f.pipeline.Register(transaction.New()))
	require.NoError(t, f.pipeline.Register(evaluation.New(f.loader)))
	return f
}

func (f *fixture) context(t *testing.T, target any, field string, features persistunit.FeatureConfig, opts ...persistunit.ContextOption) *persistunit.ExecutionContext {
	t.Helper()
	features.Unit = "test"
	opts = append(opts,
		persistunit.WithTestName("OrderTest", t.Name()),
		persistunit.WithProducer(f.producer),
		persistunit.WithFeatures(features),
	)
	if field != "" {
		fd, err := persistunit.DescribeField(target, field)
		require.NoError(t, err)
		opts = append(opts, persistunit.WithPersistenceField(fd))
	}
	return persistunit.NewExecutionContext(opts...)
}

func (f *fixture) rows(t *testing.T) int {
	t.Helper()
	return testutil.Count(t, testutil.OpenDB(t, f.producer), "orders")
}

func insertBob(ctx context.Context, target any) error {
	_, err := target.(*sessionTest).DB.ExecContext(ctx, "INSERT INTO orders (id, customer, total) VALUES (2, 'bob', 25)")
	return err
}

func TestEvaluation_SeedAndVerifyInsideRolledBackTransaction(t *testing.T) {
	f := newFixture(t)
	target := &sessionTest{}
	ec := f.context(t, target, "DB", persistunit.FeatureConfig{
		Transactional:    true,
		Rollback:         true,
		SeedDataSets:     []string{"seed.yaml"},
		SeedStrategy:     persistunit.SeedCleanInsert,
		ExpectedDataSets: []string{"expected.yaml"},
	})

	err := f.pipeline.DecorateAndRun(context.Background(), ec, target, func(ctx context.Context, tgt any) error {
		var customer string
		require.NoError(t, tgt.(*sessionTest).DB.QueryRowContext(ctx, "SELECT customer FROM orders WHERE id = 1").Scan(&customer))
		assert.Equal(t, "alice", customer)
		return insertBob(ctx, tgt)
	})
	require.NoError(t, err)
	assert.Zero(t, f.rows(t), "seeded and written rows are rolled back")
}

func TestEvaluation_MismatchFailsTheTest(t *testing.T) {
	f := newFixture(t)
	target := &sessionTest{}
	ec := f.context(t, target, "DB", persistunit.FeatureConfig{
		Transactional:    true,
		Rollback:         true,
		SeedDataSets:     []string{"seed.yaml"},
		SeedStrategy:     persistunit.SeedCleanInsert,
		ExpectedDataSets: []string{"expected.yaml"},
	})

	err := f.pipeline.DecorateAndRun(context.Background(), ec, target, func(context.Context, any) error { return nil })
	require.ErrorIs(t, err, persistunit.ErrAssertion)

	var failure *persistunit.AssertionFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "orders", failure.Table)
	assert.Equal(t, []string{"orders: missing row {customer=bob, id=2, total=25}"}, failure.Mismatches)
}

func TestEvaluation_ExcludedColumns(t *testing.T) {
	f := newFixture(t)
	target := &sessionTest{}
	ec := f.context(t, target, "DB", persistunit.FeatureConfig{
		Transactional:    true,
		Rollback:         true,
		SeedDataSets:     []string{"seed.yaml"},
		SeedStrategy:     persistunit.SeedCleanInsert,
		ExpectedDataSets: []string{"expected.yaml"},
		ExcludeColumns:   []string{"orders.total"},
	})

	err := f.pipeline.DecorateAndRun(context.Background(), ec, target, func(ctx context.Context, tgt any) error {
		_, err := tgt.(*sessionTest).DB.ExecContext(ctx, "INSERT INTO orders (id, customer, total) VALUES (2, 'bob', 999)")
		return err
	})
	require.NoError(t, err)
}

func TestEvaluation_FailedTestIsNotCompared(t *testing.T) {
	f := newFixture(t)
	target := &sessionTest{}
	ec := f.context(t, target, "DB", persistunit.FeatureConfig{
		Transactional:    true,
		Rollback:         true,
		ExpectedDataSets: []string{"expected.yaml"},
	})

	err := f.pipeline.DecorateAndRun(context.Background(), ec, target, func(context.Context, any) error { return errBody })
	require.ErrorIs(t, err, errBody)
	assert.NotErrorIs(t, err, persistunit.ErrAssertion)
}

func TestEvaluation_Cleanup(t *testing.T) {
	for _, cleanup := range []bool{true, false} {
		name := "keeps rows"
		want := 1
		if cleanup {
			name, want = "removes rows", 0
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			target := &sessionTest{}
			ec := f.context(t, target, "DB", persistunit.FeatureConfig{
				SeedDataSets: []string{"seed.yaml"},
				SeedStrategy: persistunit.SeedCleanInsert,
				Cleanup:      cleanup,
			})

			err := f.pipeline.DecorateAndRun(context.Background(), ec, target, func(context.Context, any) error { return nil })
			require.NoError(t, err)
			assert.Equal(t, want, f.rows(t))
		})
	}
}

func TestEvaluation_CleanupRunsAfterFailure(t *testing.T) {
	f := newFixture(t)
	target := &sessionTest{}
	ec := f.context(t, target, "DB", persistunit.FeatureConfig{
		SeedDataSets: []string{"seed.yaml"},
		SeedStrategy: persistunit.SeedCleanInsert,
		Cleanup:      true,
	})

	err := f.pipeline.DecorateAndRun(context.Background(), ec, target, func(context.Context, any) error { return errBody })
	require.ErrorIs(t, err, errBody)
	assert.Zero(t, f.rows(t))
}

func TestEvaluation_FactoryFieldUsesTemporarySession(t *testing.T) {
	f := newFixture(t)
	target := &factoryTest{}
	ec := f.context(t, target, "Factory", persistunit.FeatureConfig{
		SeedDataSets:     []string{"seed.yaml"},
		SeedStrategy:     persistunit.SeedCleanInsert,
		ExpectedDataSets: []string{"seed.yaml"},
	})

	err := f.pipeline.DecorateAndRun(context.Background(), ec, target, func(context.Context, any) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, f.rows(t))
}

func TestEvaluation_ClassDataSource(t *testing.T) {
	f := newFixture(t)
	ec := f.context(t, &sessionTest{}, "", persistunit.FeatureConfig{
		SeedDataSets: []string{"seed.yaml"},
		SeedStrategy: persistunit.SeedInsert,
	}, persistunit.WithDataSource(testutil.OpenDB(t, f.producer)))

	err := f.pipeline.DecorateAndRun(context.Background(), ec, &sessionTest{}, func(context.Context, any) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, f.rows(t))
}

func TestEvaluation_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		features persistunit.FeatureConfig
	}{
		{
			name:     "no resource to seed through",
			features: persistunit.FeatureConfig{SeedDataSets: []string{"seed.yaml"}, SeedStrategy: persistunit.SeedInsert},
		},
		{
			name:     "missing seed file",
			field:    "DB",
			features: persistunit.FeatureConfig{SeedDataSets: []string{"absent.yaml"}, SeedStrategy: persistunit.SeedInsert},
		},
		{
			name:     "missing expected file",
			field:    "DB",
			features: persistunit.FeatureConfig{ExpectedDataSets: []string{"absent.yaml"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			target := &sessionTest{}
			ec := f.context(t, target, tt.field, tt.features)

			ran := false
			err := f.pipeline.DecorateAndRun(context.Background(), ec, target, func(context.Context, any) error {
				ran = true
				return nil
			})
			require.ErrorIs(t, err, persistunit.ErrConfiguration)
			assert.False(t, ran)
			assert.Zero(t, f.rows(t))
		})
	}
}
