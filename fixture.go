package persistunit

import (
	"context"
	"fmt"
	"slices"
)

// GlobalFixture runs once per test class around all of its methods.
type GlobalFixture interface {
	Name() string
	Priority() int
	BeforeAll(ctx context.Context, ec *ExecutionContext, target any) error
	AfterAll(ctx context.Context, ec *ExecutionContext, target any) error
}

// BeforeAll runs every registered fixture in ascending priority and stops at
// the first failure. It returns the fixtures whose BeforeAll succeeded; only
// those get AfterAll.
func (p *Pipeline) BeforeAll(ctx context.Context, ec *ExecutionContext, target any) ([]GlobalFixture, error) {
	p.seal()

	var entered []GlobalFixture
	for _, f := range p.Fixtures() {
		p.logger.Info("Running global fixture", "fixture", f.Name(), "class", ec.ClassName())
		p.emit(ctx, EventTypeFixtureBefore, p.eventData(ec, f.Name(), f.Priority(), nil))
		if err := runFixtureStep(func() error { return f.BeforeAll(ctx, ec, target) }); err != nil {
			return entered, fmt.Errorf("global fixture %s: %w", f.Name(), err)
		}
		entered = append(entered, f)
	}
	return entered, nil
}

// AfterAll tears down entered fixtures in reverse order. Every fixture gets its
// AfterAll; failures after the first are attached as suppressed errors.
func (p *Pipeline) AfterAll(ctx context.Context, ec *ExecutionContext, target any, entered []GlobalFixture) error {
	var result error
	for _, f := range slices.Backward(entered) {
		err := runFixtureStep(func() error { return f.AfterAll(ctx, ec, target) })
		p.emit(ctx, EventTypeFixtureAfter, p.eventData(ec, f.Name(), f.Priority(), err))
		if err != nil {
			p.logger.Error("Global fixture teardown failed", "fixture", f.Name(), "class", ec.ClassName(), "error", err)
			result = Suppress(result, &TeardownError{Decorator: f.Name(), Err: err})
		}
	}
	return result
}

func runFixtureStep(step func() error) (err error) {
	defer recoverPanic(&err)
	return step()
}
