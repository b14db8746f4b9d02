package persistunit

import "context"

// Priorities of the built-in decorators. Lower values are applied first and
// therefore sit further out in the chain.
const (
	PriorityBootstrap   = 0
	PriorityPersistence = 1
	PriorityTransaction = 2
	PriorityEvaluation  = 3
)

// Invocation is the rest of the chain as seen by a decorator.
type Invocation interface {
	// Proceed runs the next link, eventually the test body. It may be called once.
	Proceed(ctx context.Context) error

	// Context returns the execution context of the running test.
	Context() *ExecutionContext

	// Target returns the test instance.
	Target() any
}

// Decorator wraps a test invocation with setup and teardown of a scoped resource.
// Apply must release everything it acquired on every exit path, including when
// Proceed returns an error.
type Decorator interface {
	Name() string
	Priority() int
	Apply(ctx context.Context, inv Invocation) error
}

// Conditional is implemented by decorators that only take part in some tests.
type Conditional interface {
	AppliesTo(features FeatureConfig) bool
}

// TestBody is the code under decoration.
type TestBody func(ctx context.Context, target any) error

// DecoratorFunc turns a function into a Decorator.
type DecoratorFunc struct {
	name     string
	priority int
	apply    func(ctx context.Context, inv Invocation) error
}

// NewDecoratorFunc creates a Decorator from apply.
func NewDecoratorFunc(name string, priority int, apply func(ctx context.Context, inv Invocation) error) *DecoratorFunc {
	return &DecoratorFunc{name: name, priority: priority, apply: apply}
}

func (d *DecoratorFunc) Name() string  { return d.name }
func (d *DecoratorFunc) Priority() int { return d.priority }

func (d *DecoratorFunc) Apply(ctx context.Context, inv Invocation) error {
	return d.apply(ctx, inv)
}

// BeforeFunc runs before the rest of the chain.
type BeforeFunc func(ctx context.Context, ec *ExecutionContext, target any) error

// AfterFunc runs after the rest of the chain and receives its outcome.
type AfterFunc func(ctx context.Context, ec *ExecutionContext, target any, result error) error

// HookDecorator expresses a decorator as a before/after pair. After only runs
// when Before succeeded; it is deferred so it also runs when the test goroutine
// exits through runtime.Goexit.
type HookDecorator struct {
	name     string
	priority int
	before   BeforeFunc
	after    AfterFunc
}

// NewHookDecorator creates a decorator from before and after; either may be nil.
func NewHookDecorator(name string, priority int, before BeforeFunc, after AfterFunc) *HookDecorator {
	return &HookDecorator{name: name, priority: priority, before: before, after: after}
}

func (d *HookDecorator) Name() string  { return d.name }
func (d *HookDecorator) Priority() int { return d.priority }

func (d *HookDecorator) Apply(ctx context.Context, inv Invocation) (err error) {
	ec, target := inv.Context(), inv.Target()
	if d.before != nil {
		if err := d.before(ctx, ec, target); err != nil {
			return err
		}
	}
	if d.after != nil {
		defer func() {
			err = WithTeardown(err, d.name, d.after(ctx, ec, target, err))
		}()
	}
	return inv.Proceed(ctx)
}
