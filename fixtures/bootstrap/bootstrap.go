// Package bootstrap provides the global fixture that runs a test class's
// bootstrap method once, before any of its tests, with the class data source.
//
// A bootstrap method is an exported method whose name starts with "Bootstrap"
// and whose signature is func(*sql.DB) or func(*sql.DB) error:
//
//	func (s *OrderSuite) BootstrapSchema(db *sql.DB) error {
//		_, err := db.Exec(schema)
//		return err
//	}
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/GoCodeAlone/persistunit"
)

const (
	// Name is the registry name of the fixture.
	Name = "bootstrap"

	// MethodPrefix marks bootstrap methods.
	MethodPrefix = "Bootstrap"
)

var (
	ErrMultipleMethods = fmt.Errorf("%w: only a single bootstrap method is allowed", persistunit.ErrConfiguration)
	ErrSignature       = fmt.Errorf("%w: bootstrap method must have signature func(*sql.DB) or func(*sql.DB) error", persistunit.ErrConfiguration)
	ErrNoDataSource    = fmt.Errorf("%w: bootstrap method needs a persistence unit data source", persistunit.ErrConfiguration)
)

var (
	dbType    = reflect.TypeFor[*sql.DB]()
	errorType = reflect.TypeFor[error]()
)

// Fixture runs the bootstrap method of the test class.
type Fixture struct{}

// New creates the bootstrap fixture.
func New() *Fixture { return &Fixture{} }

func (*Fixture) Name() string  { return Name }
func (*Fixture) Priority() int { return persistunit.PriorityBootstrap }

// BeforeAll finds and runs the bootstrap method. A class without one is left alone.
func (*Fixture) BeforeAll(ctx context.Context, ec *persistunit.ExecutionContext, target any) error {
	method, name, err := Find(target)
	if err != nil || !method.IsValid() {
		return err
	}
	db := ec.DataSource()
	if db == nil {
		return fmt.Errorf("%w (%s.%s)", ErrNoDataSource, ec.ClassName(), name)
	}

	ec.Logger().Info("Running bootstrap method", "class", ec.ClassName(), "method", name)
	out := method.Call([]reflect.Value{reflect.ValueOf(db)})
	if len(out) == 1 && !out[0].IsNil() {
		return fmt.Errorf("bootstrap method %s: %w", name, out[0].Interface().(error))
	}
	return nil
}

func (*Fixture) AfterAll(context.Context, *persistunit.ExecutionContext, any) error { return nil }

// Find returns the bound bootstrap method of target and its name. The returned
// value is invalid when target has no bootstrap method.
func Find(target any) (reflect.Value, string, error) {
	v := reflect.ValueOf(target)
	if !v.IsValid() {
		return reflect.Value{}, "", persistunit.ErrTargetNil
	}
	t := v.Type()

	var found []string
	for i := range t.NumMethod() {
		if strings.HasPrefix(t.Method(i).Name, MethodPrefix) {
			found = append(found, t.Method(i).Name)
		}
	}
	switch len(found) {
	case 0:
		return reflect.Value{}, "", nil
	case 1:
	default:
		return reflect.Value{}, "", fmt.Errorf("%w: %s declares %s", ErrMultipleMethods, t, strings.Join(found, ", "))
	}

	method := v.MethodByName(found[0])
	mt := method.Type()
	if mt.NumIn() != 1 || mt.In(0) != dbType || mt.NumOut() > 1 || (mt.NumOut() == 1 && mt.Out(0) != errorType) {
		return reflect.Value{}, "", fmt.Errorf("%w: %s.%s is %s", ErrSignature, t, found[0], mt)
	}
	return method, found[0], nil
}
