package persistunit

import (
	"context"
	"fmt"
	"reflect"
	"strings"
)

// TagPersistence is the struct tag declaring a persistence field:
//
//	type OrderTest struct {
//		DB persistunit.Session `persistence:"context,unit=orders"`
//	}
const TagPersistence = "persistence"

// TestClass is what the host runner knows about a group of tests.
type TestClass struct {
	Name         string
	New          func() any
	Declarations Declarations
	Methods      []TestMethod
}

// TestMethod is one test of a TestClass.
type TestMethod struct {
	Name         string
	Declarations Declarations
	Body         TestBody
}

// MetadataExtractor turns a test class into the structured record the resolver consumes.
type MetadataExtractor interface {
	Extract(class *TestClass, target any) (ClassMetadata, error)
}

// TagExtractor reads persistence bindings from struct tags.
type TagExtractor struct{}

func (TagExtractor) Extract(class *TestClass, target any) (ClassMetadata, error) {
	meta := ClassMetadata{Name: class.Name, Declarations: class.Declarations}

	t := reflect.TypeOf(target)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return meta, nil
	}

	for _, sf := range reflect.VisibleFields(t) {
		tag, ok := sf.Tag.Lookup(TagPersistence)
		if !ok {
			continue
		}
		decl, err := parsePersistenceTag(tag)
		if err != nil {
			return ClassMetadata{}, fmt.Errorf("%w: field %s of %s: %v", ErrConfiguration, sf.Name, t, err)
		}
		decl.Field = &FieldDescriptor{Name: sf.Name, Index: sf.Index, Type: sf.Type}
		meta.Persistence = append(meta.Persistence, decl)
	}
	return meta, nil
}

func parsePersistenceTag(tag string) (PersistenceDeclaration, error) {
	parts := strings.Split(tag, ",")
	decl := PersistenceDeclaration{Kind: BindingKind(strings.TrimSpace(parts[0]))}
	if decl.Kind != BindingContext && decl.Kind != BindingUnit {
		return decl, fmt.Errorf("binding must be %q or %q, got %q", BindingContext, BindingUnit, parts[0])
	}
	for _, opt := range parts[1:] {
		key, value, found := strings.Cut(strings.TrimSpace(opt), "=")
		if !found || key != "unit" {
			return decl, fmt.Errorf("unknown option %q", opt)
		}
		decl.Unit = value
	}
	return decl, nil
}

// Body adapts a method value on the target into a TestBody:
//
//	persistunit.TestMethod{Name: "Insert", Body: persistunit.Body((*OrderTest).Insert)}
func Body[T any](fn func(T, context.Context) error) TestBody {
	return func(ctx context.Context, target any) error {
		t, ok := target.(T)
		if !ok {
			return fmt.Errorf("%w: target %T is not %s", ErrConfiguration, target, reflect.TypeFor[T]())
		}
		return fn(t, ctx)
	}
}
