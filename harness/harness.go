// Package harness assembles a ready to use test runner from a config.Config:
// cache engine, one sqlunit producer per unit, the built-in decorators, the
// bootstrap fixture and optional dataset watching and metrics.
package harness

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoCodeAlone/persistunit"
	"github.com/GoCodeAlone/persistunit/cache"
	"github.com/GoCodeAlone/persistunit/config"
	"github.com/GoCodeAlone/persistunit/dataset"
	"github.com/GoCodeAlone/persistunit/decorators/evaluation"
	"github.com/GoCodeAlone/persistunit/decorators/persistence"
	"github.com/GoCodeAlone/persistunit/decorators/transaction"
	"github.com/GoCodeAlone/persistunit/fixtures/bootstrap"
	"github.com/GoCodeAlone/persistunit/metrics"
	"github.com/GoCodeAlone/persistunit/sqlunit"
)

type options struct {
	logger     persistunit.Logger
	observers  []persistunit.Observer
	decorators []persistunit.Decorator
	fixtures   []persistunit.GlobalFixture
	watch      bool
	registerer prometheus.Registerer
	evict      bool
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger of the pipeline and every component.
func WithLogger(l persistunit.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver adds a pipeline observer.
func WithObserver(obs persistunit.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithDecorator registers an additional decorator next to the built-in ones.
func WithDecorator(d persistunit.Decorator) Option {
	return func(o *options) { o.decorators = append(o.decorators, d) }
}

// WithFixture registers an additional global fixture.
func WithFixture(f persistunit.GlobalFixture) Option {
	return func(o *options) { o.fixtures = append(o.fixtures, f) }
}

// WithDataSetWatch reloads dataset files when they change on disk.
func WithDataSetWatch() Option {
	return func(o *options) { o.watch = true }
}

// WithMetrics registers a metrics.Collector with reg and observes the pipeline with it.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithoutCacheEviction keeps the second-tier cache when factories are destroyed.
func WithoutCacheEviction() Option {
	return func(o *options) { o.evict = false }
}

// Harness owns the runner and the resources shared by every test class.
type Harness struct {
	runner    *persistunit.Runner
	cache     cache.Engine
	loader    *dataset.Loader
	watcher   *dataset.Watcher
	producers map[string]*sqlunit.Producer
	collector *metrics.Collector
	logger    persistunit.Logger
}

// Load reads the config file at path and creates a Harness from it.
func Load(ctx context.Context, path string, opts ...Option) (*Harness, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, opts...)
}

// New creates a Harness for cfg. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (h *Harness, err error) {
	o := &options{evict: true}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = persistunit.NopLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", persistunit.ErrConfiguration, err)
	}

	built := &Harness{
		producers: make(map[string]*sqlunit.Producer, len(cfg.Units)),
		loader:    dataset.NewLoader(cfg.DataSetDir),
		logger:    o.logger,
	}
	defer func() {
		if err != nil {
			err = persistunit.Suppress(err, built.Close(context.WithoutCancel(ctx)))
		}
	}()
	h = built

	var secondLevel persistunit.SecondLevelCache
	engine, err := cache.New(ctx, cfg.Cache)
	switch {
	case errors.Is(err, cache.ErrDisabled):
	case err != nil:
		return nil, err
	default:
		h.cache = engine
		secondLevel = engine
		o.logger.Info("Second-tier cache connected", "engine", cfg.Cache.Engine)
	}

	units := persistunit.StaticUnits{Default: cfg.DefaultUnit, Producers: make(map[string]persistunit.ResourceProducer)}
	for _, name := range cfg.UnitNames() {
		p, perr := sqlunit.NewProducer(name, cfg.Units[name], secondLevel, o.logger)
		if perr != nil {
			return nil, fmt.Errorf("unit %s: %w", name, perr)
		}
		h.producers[name] = p
		units.Producers[name] = p
	}

	observers := o.observers
	if o.registerer != nil {
		h.collector = metrics.NewCollector()
		h.collector.MustRegister(o.registerer)
		observers = append(observers, h.collector)
	}
	pipelineOpts := []persistunit.Option{persistunit.WithLogger(o.logger)}
	for _, obs := range observers {
		pipelineOpts = append(pipelineOpts, persistunit.WithObserver(obs))
	}
	pipeline := persistunit.NewPipeline(pipelineOpts...)

	decorators := []persistunit.Decorator{
		persistence.New(persistence.WithEviction(o.evict)),
		transaction.New(),
		evaluation.New(h.loader),
	}
	for _, d := range append(decorators, o.decorators...) {
		if err := pipeline.Register(d); err != nil {
			return nil, err
		}
	}
	for _, f := range append([]persistunit.GlobalFixture{bootstrap.New()}, o.fixtures...) {
		if err := pipeline.RegisterFixture(f); err != nil {
			return nil, err
		}
	}

	if o.watch && cfg.DataSetDir != "" {
		if h.watcher, err = dataset.NewWatcher(h.loader, o.logger); err != nil {
			return nil, err
		}
		if err := h.watcher.Add(cfg.DataSetDir); err != nil {
			return nil, err
		}
		h.watcher.Start(ctx)
	}

	h.runner = persistunit.NewRunner(pipeline, units)
	return h, nil
}

// Run executes class as subtests of t.
func (h *Harness) Run(t *testing.T, class *persistunit.TestClass) {
	t.Helper()
	h.runner.Run(t, class)
}

// Execute runs class and returns the result of every method.
func (h *Harness) Execute(ctx context.Context, class *persistunit.TestClass) ([]persistunit.Result, error) {
	return h.runner.Execute(ctx, class)
}

func (h *Harness) Runner() *persistunit.Runner     { return h.runner }
func (h *Harness) Pipeline() *persistunit.Pipeline { return h.runner.Pipeline() }
func (h *Harness) Loader() *dataset.Loader         { return h.loader }
func (h *Harness) Watcher() *dataset.Watcher       { return h.watcher }
func (h *Harness) Collector() *metrics.Collector   { return h.collector }

// Cache returns the second-tier cache engine, nil when disabled.
func (h *Harness) Cache() cache.Engine { return h.cache }

// Producer returns the producer of unit.
func (h *Harness) Producer(unit string) (*sqlunit.Producer, bool) {
	p, ok := h.producers[unit]
	return p, ok
}

// Close stops the dataset watcher and disconnects the cache.
func (h *Harness) Close(ctx context.Context) error {
	var errs []error
	if h.watcher != nil {
		if err := h.watcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing dataset watcher: %w", err))
		}
	}
	if h.cache != nil {
		if err := h.cache.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("closing cache: %w", err))
		}
	}
	return errors.Join(errs...)
}
