package persistunit

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Pipeline owns the registry of decorators and global fixtures and runs tests
// through the chain they form. The registry is written during startup only: the
// first chain built seals it and later registrations fail.
type Pipeline struct {
	mu         sync.Mutex
	sealed     atomic.Bool
	decorators []Decorator
	fixtures   []GlobalFixture
	observers  []Observer
	logger     Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithObserver registers an observer at construction.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observers = append(p.observers, o) }
}

// NewPipeline creates an empty pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = orNop(p.logger)
	return p
}

// Logger returns the pipeline logger.
func (p *Pipeline) Logger() Logger { return p.logger }

// Register adds d to the registry. Names are unique; registering a name twice
// fails and keeps the first decorator.
func (p *Pipeline) Register(d Decorator) error {
	if d == nil {
		return ErrDecoratorNil
	}
	if d.Name() == "" {
		return ErrDecoratorName
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed.Load() {
		return ErrRegistrySealed
	}
	for _, existing := range p.decorators {
		if existing.Name() == d.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateName, d.Name())
		}
	}
	p.decorators = append(p.decorators, d)
	p.logger.Debug("Decorator registered", "name", d.Name(), "priority", d.Priority())
	return nil
}

// RegisterFixture adds a global fixture to the registry.
func (p *Pipeline) RegisterFixture(f GlobalFixture) error {
	if f == nil {
		return ErrFixtureNil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed.Load() {
		return ErrRegistrySealed
	}
	p.fixtures = append(p.fixtures, f)
	p.logger.Debug("Global fixture registered", "name", f.Name(), "priority", f.Priority())
	return nil
}

// RegisterObserver adds an observer of pipeline events.
func (p *Pipeline) RegisterObserver(o Observer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed.Load() {
		return ErrRegistrySealed
	}
	p.observers = append(p.observers, o)
	return nil
}

// Decorators returns the registered decorators ordered by ascending priority,
// ties kept in registration order.
func (p *Pipeline) Decorators() []Decorator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortByPriority(p.decorators)
}

// Fixtures returns the registered global fixtures ordered like Decorators.
func (p *Pipeline) Fixtures() []GlobalFixture {
	p.mu.Lock()
	defer p.mu.Unlock()
	return sortByPriority(p.fixtures)
}

func (p *Pipeline) seal() {
	if p.sealed.Load() {
		return
	}
	p.mu.Lock()
	p.sealed.Store(true)
	p.mu.Unlock()
}

// Applicable returns the registered decorators that take part in a test with features.
func (p *Pipeline) Applicable(features FeatureConfig) []Decorator {
	var out []Decorator
	for _, d := range p.Decorators() {
		if c, ok := d.(Conditional); ok && !c.AppliesTo(features) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// BuildChain nests decorators around body. The lowest priority ends up outermost.
// All validation happens here, before any decorator runs.
func (p *Pipeline) BuildChain(ec *ExecutionContext, target any, decorators []Decorator, body TestBody) (Invocation, error) {
	p.seal()

	if body == nil {
		return nil, ErrTestBodyNil
	}
	if target == nil {
		return nil, ErrTargetNil
	}
	if ec == nil {
		return nil, fmt.Errorf("%w: execution context is nil", ErrConfiguration)
	}

	seen := make(map[string]bool, len(decorators))
	for _, d := range decorators {
		if d == nil {
			return nil, ErrDecoratorNil
		}
		if seen[d.Name()] {
			return nil, fmt.Errorf("%w: %s appears twice in the chain", ErrDuplicateName, d.Name())
		}
		seen[d.Name()] = true
	}

	c := &chain{
		pipeline:   p,
		ec:         ec,
		target:     target,
		decorators: sortByPriority(decorators),
		body:       body,
	}
	if len(c.decorators) > 0 {
		names := make([]string, len(c.decorators))
		for i, d := range c.decorators {
			names[i] = d.Name()
		}
		p.logger.Debug("Decorator chain built", "class", ec.ClassName(), "method", ec.MethodName(), "order", names)
	}
	return &link{chain: c}, nil
}

// Run executes a chain built by BuildChain and reports its single failure.
// Secondary failures stay attached to it as suppressed errors.
func (p *Pipeline) Run(ctx context.Context, inv Invocation) (err error) {
	ec := inv.Context()
	start := time.Now()
	p.emit(ctx, EventTypeTestStarted, p.eventData(ec, "", 0, nil))

	completed := false
	defer func() {
		data := p.eventData(ec, "", 0, err)
		data.DurationMS = float64(time.Since(start).Microseconds()) / 1000
		if !completed {
			data.Error = "test goroutine exited before the chain completed"
			p.emit(ctx, EventTypeTestFailed, data)
			return
		}

		var te *TeardownError
		if errors.As(err, &te) {
			p.reportTeardown(ctx, ec, te)
		}
		for _, s := range SuppressedErrors(err) {
			p.logger.Error("Suppressed failure", "class", ec.ClassName(), "method", ec.MethodName(), "error", s)
			if errors.As(s, &te) {
				p.reportTeardown(ctx, ec, te)
			}
		}

		if err != nil {
			p.emit(ctx, EventTypeTestFailed, data)
		} else {
			p.emit(ctx, EventTypeTestPassed, data)
		}
	}()

	err = inv.Proceed(ctx)
	completed = true
	return err
}

// DecorateAndRun runs body on target with every applicable registered decorator.
func (p *Pipeline) DecorateAndRun(ctx context.Context, ec *ExecutionContext, target any, body TestBody) error {
	inv, err := p.BuildChain(ec, target, p.Applicable(ec.Features()), body)
	if err != nil {
		return err
	}
	return p.Run(ctx, inv)
}

func (p *Pipeline) reportTeardown(ctx context.Context, ec *ExecutionContext, te *TeardownError) {
	p.emit(ctx, EventTypeTeardownFailed, p.eventData(ec, te.Decorator, 0, te))
}

func (p *Pipeline) eventData(ec *ExecutionContext, decorator string, priority int, err error) EventData {
	data := EventData{Decorator: decorator, Priority: priority}
	if ec != nil {
		data.ExecutionID = ec.ID()
		data.Class = ec.ClassName()
		data.Method = ec.MethodName()
	}
	if err != nil {
		data.Error = err.Error()
	}
	return data
}

func (p *Pipeline) emit(ctx context.Context, eventType string, data EventData) {
	if len(p.observers) == 0 {
		return
	}
	event := NewCloudEvent(eventType, data)
	for _, o := range p.observers {
		if err := o.OnEvent(ctx, event); err != nil {
			p.logger.Warn("Observer failed", "observer", o.ObserverID(), "event", eventType, "error", err)
		}
	}
}

type chain struct {
	pipeline   *Pipeline
	ec         *ExecutionContext
	target     any
	decorators []Decorator
	body       TestBody
}

// link is the invocation handed to decorators[index]; proceeding runs the
// decorator at index, or the body once every decorator has been entered.
type link struct {
	chain     *chain
	index     int
	proceeded bool
}

func (l *link) Context() *ExecutionContext { return l.chain.ec }
func (l *link) Target() any                { return l.chain.target }

func (l *link) Proceed(ctx context.Context) (err error) {
	if l.proceeded {
		return ErrProceedTwice
	}
	l.proceeded = true

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("chain interrupted: %w", err)
	}

	c := l.chain
	if l.index == len(c.decorators) {
		defer recoverPanic(&err)
		return c.body(ctx, c.target)
	}

	d := c.decorators[l.index]
	p := c.pipeline
	p.emit(ctx, EventTypeDecoratorEntered, p.eventData(c.ec, d.Name(), d.Priority(), nil))
	defer func() {
		p.emit(ctx, EventTypeDecoratorExited, p.eventData(c.ec, d.Name(), d.Priority(), err))
	}()
	defer recoverPanic(&err)
	return d.Apply(ctx, &link{chain: c, index: l.index + 1})
}

func recoverPanic(err *error) {
	if r := recover(); r != nil {
		*err = &PanicError{Value: r}
	}
}

type prioritized interface {
	Priority() int
}

func sortByPriority[T prioritized](items []T) []T {
	out := slices.Clone(items)
	slices.SortStableFunc(out, func(a, b T) int {
		return cmp.Compare(a.Priority(), b.Priority())
	})
	return out
}
