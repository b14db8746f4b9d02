package persistunit

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"testing"
	"time"
)

// MethodExecutor hands a single test method to the host runner. run performs
// the full decorated execution of the method and returns its one failure.
type MethodExecutor func(method string, run func(ctx context.Context) error)

// Result is the outcome of one test method.
type Result struct {
	Class    string
	Method   string
	Err      error
	Duration time.Duration
}

// Runner drives test classes through a Pipeline: fixtures once per class, then
// one decorated chain per method with a fresh target and ExecutionContext.
type Runner struct {
	pipeline  *Pipeline
	resolver  *FeatureResolver
	units     UnitRegistry
	extractor MetadataExtractor
	injector  Injector
	logger    Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithExtractor replaces the struct tag metadata extractor.
func WithExtractor(e MetadataExtractor) RunnerOption {
	return func(r *Runner) { r.extractor = e }
}

// WithRunnerInjector replaces the reflect based field injector.
func WithRunnerInjector(i Injector) RunnerOption {
	return func(r *Runner) { r.injector = i }
}

// NewRunner creates a Runner resolving persistence units through units.
func NewRunner(p *Pipeline, units UnitRegistry, opts ...RunnerOption) *Runner {
	r := &Runner{
		pipeline:  p,
		resolver:  NewFeatureResolver(units),
		units:     units,
		extractor: TagExtractor{},
		injector:  ReflectInjector{},
		logger:    p.Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Pipeline returns the pipeline the runner executes.
func (r *Runner) Pipeline() *Pipeline { return r.pipeline }

// Run executes class as subtests of t.
func (r *Runner) Run(t *testing.T, class *TestClass) {
	t.Helper()
	err := r.RunClass(t.Context(), class, func(method string, run func(context.Context) error) {
		t.Run(method, func(t *testing.T) {
			if err := run(t.Context()); err != nil {
				t.Error(err)
			}
		})
	})
	if err != nil {
		t.Fatal(err)
	}
}

// Execute runs class sequentially and collects the result of every method.
func (r *Runner) Execute(ctx context.Context, class *TestClass) ([]Result, error) {
	var results []Result
	err := r.RunClass(ctx, class, func(method string, run func(context.Context) error) {
		start := time.Now()
		err := run(ctx)
		results = append(results, Result{Class: class.Name, Method: method, Err: err, Duration: time.Since(start)})
	})
	return results, err
}

// RunClass runs class through the pipeline. Class level configuration errors are
// returned before any fixture or decorator runs. Method failures go to exec's run
// return value; the returned error only covers class scoped work.
func (r *Runner) RunClass(ctx context.Context, class *TestClass, exec MethodExecutor) (err error) {
	if class == nil || class.New == nil {
		return fmt.Errorf("%w: test class has no constructor", ErrConfiguration)
	}
	r.pipeline.seal()

	classTarget := class.New()
	meta, err := r.extractor.Extract(class, classTarget)
	if err != nil {
		return err
	}
	classCfg, err := r.resolver.Resolve(meta, Declarations{})
	if err != nil {
		return fmt.Errorf("test class %s: %w", class.Name, err)
	}

	var field *FieldDescriptor
	if classCfg.Binding != nil {
		field = classCfg.Binding.Field
	}

	// The class unit falls back to the first unit a method resolves to, so
	// datasets declared on methods only still reach a data source. Method
	// configuration errors surface when that method runs.
	units := []string{classCfg.Unit}
	for _, m := range class.Methods {
		cfg, rerr := r.resolver.Resolve(meta, m.Declarations)
		if rerr != nil || cfg.Unit == "" {
			continue
		}
		if classCfg.Unit == "" {
			classCfg.Unit = cfg.Unit
			units[0] = cfg.Unit
		}
		if !slices.Contains(units, cfg.Unit) {
			units = append(units, cfg.Unit)
		}
	}

	dataSources := make(map[string]*sql.DB, len(units))
	defer func() {
		for _, unit := range slices.Backward(units) {
			db := dataSources[unit]
			if db == nil {
				continue
			}
			if cerr := db.Close(); cerr != nil {
				err = WithTeardown(err, "data source "+unit, cerr)
			}
		}
	}()
	for _, unit := range units {
		if unit == "" {
			continue
		}
		db, oerr := r.openDataSource(ctx, unit)
		if oerr != nil {
			return fmt.Errorf("test class %s: %w", class.Name, oerr)
		}
		dataSources[unit] = db
	}

	classEC := NewExecutionContext(
		WithTestName(class.Name, ""),
		WithPersistenceField(field),
		WithDataSource(dataSources[classCfg.Unit]),
		WithProducer(r.producer(classCfg.Unit)),
		WithFeatures(classCfg),
		WithInjector(r.injector),
		WithContextLogger(r.logger),
	)

	entered, err := r.pipeline.BeforeAll(ctx, classEC, classTarget)
	defer func() {
		err = Suppress(err, r.pipeline.AfterAll(context.WithoutCancel(ctx), classEC, classTarget, entered))
	}()
	if err != nil {
		return fmt.Errorf("test class %s: %w", class.Name, err)
	}

	for _, m := range class.Methods {
		exec(m.Name, func(ctx context.Context) error {
			return r.runMethod(ctx, class, meta, m, field, dataSources)
		})
	}
	return nil
}

func (r *Runner) runMethod(ctx context.Context, class *TestClass, meta ClassMetadata, m TestMethod, field *FieldDescriptor, dataSources map[string]*sql.DB) error {
	cfg, err := r.resolver.Resolve(meta, m.Declarations)
	if err != nil {
		return err
	}
	ec := NewExecutionContext(
		WithTestName(class.Name, m.Name),
		WithPersistenceField(field),
		WithDataSource(dataSources[cfg.Unit]),
		WithProducer(r.producer(cfg.Unit)),
		WithFeatures(cfg),
		WithInjector(r.injector),
		WithContextLogger(r.logger),
	)
	return r.pipeline.DecorateAndRun(ctx, ec, class.New(), m.Body)
}

func (r *Runner) producer(unit string) ResourceProducer {
	if unit == "" || r.units == nil {
		return nil
	}
	p, _ := r.units.Producer(unit)
	return p
}

func (r *Runner) openDataSource(ctx context.Context, unit string) (*sql.DB, error) {
	dsp, ok := r.producer(unit).(DataSourceProvider)
	if !ok {
		return nil, nil
	}
	db, err := dsp.OpenDataSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: data source for unit %s: %v", ErrResourceCreation, unit, err)
	}
	return db, nil
}
