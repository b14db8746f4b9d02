package persistunit

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Pipeline errors
var (
	// Configuration errors are detected before any decorator touches a resource.
	ErrConfiguration   = errors.New("configuration error")
	ErrRegistrySealed  = fmt.Errorf("%w: registry is sealed after the first chain was built", ErrConfiguration)
	ErrDecoratorNil    = fmt.Errorf("%w: decorator is nil", ErrConfiguration)
	ErrDecoratorName   = fmt.Errorf("%w: decorator name is empty", ErrConfiguration)
	ErrDuplicateName   = fmt.Errorf("%w: decorator already registered", ErrConfiguration)
	ErrTestBodyNil     = fmt.Errorf("%w: test body is nil", ErrConfiguration)
	ErrTargetNil       = fmt.Errorf("%w: test target is nil", ErrConfiguration)
	ErrFixtureNil      = fmt.Errorf("%w: global fixture is nil", ErrConfiguration)
	ErrSingleField     = fmt.Errorf("%w: only a single field is allowed to declare a persistence binding", ErrConfiguration)
	ErrExclusiveFields = fmt.Errorf("%w: use either a persistence unit or a persistence context field, not both", ErrConfiguration)
	ErrNoUnit          = fmt.Errorf("%w: no persistence unit configured", ErrConfiguration)
	ErrUnknownUnit     = fmt.Errorf("%w: no persistence unit named", ErrConfiguration)

	// Runtime errors
	ErrResourceCreation     = errors.New("resource creation failed")
	ErrUnsupportedFieldType = errors.New("unsupported field type")
	ErrInjection            = errors.New("injection failed")
	ErrAssertion            = errors.New("assertion failed")
	ErrTeardown             = errors.New("teardown failed")
	ErrPanic                = errors.New("panic during test execution")
	ErrProceedTwice         = errors.New("proceed called more than once on the same invocation")
	ErrDataKeyTaken         = errors.New("execution context key already holds a value")
)

// UnsupportedFieldTypeError reports a target field whose declared type a decorator cannot serve.
type UnsupportedFieldTypeError struct {
	Field string
	Type  reflect.Type
}

func (e *UnsupportedFieldTypeError) Error() string {
	return fmt.Sprintf("unexpected field type: %s (field %s)", typeName(e.Type), e.Field)
}

func (e *UnsupportedFieldTypeError) Is(target error) bool {
	return target == ErrUnsupportedFieldType
}

// AssertionFailure is the test's own failure: stored state did not match what the test expected.
type AssertionFailure struct {
	Table      string
	Mismatches []string
}

func (e *AssertionFailure) Error() string {
	var b strings.Builder
	b.WriteString("assertion failed")
	if e.Table != "" {
		fmt.Fprintf(&b, " for table %s", e.Table)
	}
	for _, m := range e.Mismatches {
		b.WriteString("\n  - ")
		b.WriteString(m)
	}
	return b.String()
}

func (e *AssertionFailure) Is(target error) bool {
	return target == ErrAssertion
}

// TeardownError wraps a failure raised while releasing a resource.
type TeardownError struct {
	Decorator string
	Err       error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown of %s failed: %v", e.Decorator, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }

func (e *TeardownError) Is(target error) bool {
	return target == ErrTeardown
}

// PanicError carries a recovered panic value through the chain.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func (e *PanicError) Is(target error) bool {
	return target == ErrPanic
}

// SuppressedError keeps the original failure of a test and records secondary
// failures (usually teardown errors) next to it. Unwrap only exposes the
// original, so errors.Is and errors.As match the cause and never a diagnostic.
type SuppressedError struct {
	Err        error
	Suppressed []error
}

func (e *SuppressedError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	for _, s := range e.Suppressed {
		b.WriteString("\n  suppressed: ")
		b.WriteString(s.Error())
	}
	return b.String()
}

func (e *SuppressedError) Unwrap() error { return e.Err }

// Suppress attaches secondary errors to primary. A nil primary promotes the
// first secondary error.
func Suppress(primary error, secondary ...error) error {
	var extra []error
	for _, s := range secondary {
		if s != nil {
			extra = append(extra, s)
		}
	}
	if len(extra) == 0 {
		return primary
	}
	if primary == nil {
		primary, extra = extra[0], extra[1:]
		if len(extra) == 0 {
			return primary
		}
	}
	if se, ok := primary.(*SuppressedError); ok {
		se.Suppressed = append(se.Suppressed, extra...)
		return se
	}
	return &SuppressedError{Err: primary, Suppressed: extra}
}

// SuppressedErrors returns the secondary diagnostics attached to err.
func SuppressedErrors(err error) []error {
	if se, ok := err.(*SuppressedError); ok {
		return se.Suppressed
	}
	return nil
}

// WithTeardown merges the outcome of a release step into the result of a decorator.
func WithTeardown(primary error, decorator string, teardownErr error) error {
	if teardownErr == nil {
		return primary
	}
	return Suppress(primary, &TeardownError{Decorator: decorator, Err: teardownErr})
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
