package persistunit

import (
	"fmt"
	"reflect"
)

var (
	factoryType = reflect.TypeFor[Factory]()
	sessionType = reflect.TypeFor[Session]()
)

// FactoryType is the declared type of fields that receive the whole factory.
func FactoryType() reflect.Type { return factoryType }

// SessionType is the declared type of fields that receive a per-test session.
func SessionType() reflect.Type { return sessionType }

// FieldDescriptor identifies a field of the test target that receives an
// injected resource. It is resolved once per test class and immutable afterwards.
type FieldDescriptor struct {
	Name  string
	Index []int
	Type  reflect.Type
}

// DescribeField builds a descriptor for the named field of target's struct type.
func DescribeField(target any, name string) (*FieldDescriptor, error) {
	t := reflect.TypeOf(target)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: target %T is not a struct", ErrInjection, target)
	}
	sf, ok := t.FieldByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no field %s", ErrInjection, t, name)
	}
	return &FieldDescriptor{Name: sf.Name, Index: sf.Index, Type: sf.Type}, nil
}

// AcceptsFactory reports whether the field is declared to hold a Factory.
func (f *FieldDescriptor) AcceptsFactory() bool { return f != nil && f.Type == factoryType }

// AcceptsSession reports whether the field is declared to hold a Session.
func (f *FieldDescriptor) AcceptsSession() bool { return f != nil && f.Type == sessionType }

func (f *FieldDescriptor) String() string {
	if f == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s %s", f.Name, typeName(f.Type))
}

// Injector sets and reads fields of test targets.
type Injector interface {
	InjectValue(field *FieldDescriptor, target any, value any) error
	GetValue(field *FieldDescriptor, target any) (any, error)
}

// ReflectInjector is the reflect based Injector. Unexported fields are not settable.
type ReflectInjector struct{}

func (ReflectInjector) InjectValue(field *FieldDescriptor, target any, value any) error {
	fv, err := fieldValue(field, target)
	if err != nil {
		return err
	}
	if !fv.CanSet() {
		return fmt.Errorf("%w: field %s of %T cannot be set", ErrInjection, field.Name, target)
	}
	if value == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	v := reflect.ValueOf(value)
	if !v.Type().AssignableTo(fv.Type()) {
		return fmt.Errorf("%w: %T is not assignable to field %s of type %s", ErrInjection, value, field.Name, fv.Type())
	}
	fv.Set(v)
	return nil
}

func (ReflectInjector) GetValue(field *FieldDescriptor, target any) (any, error) {
	fv, err := fieldValue(field, target)
	if err != nil {
		return nil, err
	}
	if !fv.CanInterface() {
		return nil, fmt.Errorf("%w: field %s of %T cannot be read", ErrInjection, field.Name, target)
	}
	return fv.Interface(), nil
}

func fieldValue(field *FieldDescriptor, target any) (reflect.Value, error) {
	if field == nil {
		return reflect.Value{}, fmt.Errorf("%w: no field descriptor", ErrInjection)
	}
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return reflect.Value{}, fmt.Errorf("%w: target %T must be a non-nil pointer", ErrInjection, target)
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: target %T is not a struct pointer", ErrInjection, target)
	}
	fv, err := v.FieldByIndexErr(field.Index)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %v", ErrInjection, err)
	}
	return fv, nil
}
