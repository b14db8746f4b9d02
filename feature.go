package persistunit

import (
	"fmt"
	"slices"
)

// SeedStrategy controls how a baseline dataset is written before a test.
type SeedStrategy string

const (
	// SeedCleanInsert empties the dataset's tables and inserts its rows.
	SeedCleanInsert SeedStrategy = "clean-insert"
	// SeedInsert inserts the rows without touching existing data.
	SeedInsert SeedStrategy = "insert"
)

// Valid reports whether s is a known strategy.
func (s SeedStrategy) Valid() bool {
	return s == SeedCleanInsert || s == SeedInsert
}

// Declarations are the feature settings declared on a test class or method.
// A nil field (or nil slice) means "not declared at this level".
type Declarations struct {
	Unit             *string
	Transactional    *bool
	Rollback         *bool
	SeedDataSets     []string
	SeedStrategy     *SeedStrategy
	ExpectedDataSets []string
	ExcludeColumns   []string
	Cleanup          *bool
}

// Bool returns a pointer to v, for building Declarations.
func Bool(v bool) *bool { return &v }

// String returns a pointer to v, for building Declarations.
func String(v string) *string { return &v }

// Strategy returns a pointer to s, for building Declarations.
func Strategy(s SeedStrategy) *SeedStrategy { return &s }

// FeatureConfig is the resolved, immutable configuration of one test method.
type FeatureConfig struct {
	Unit             string
	Transactional    bool
	Rollback         bool
	SeedDataSets     []string
	SeedStrategy     SeedStrategy
	ExpectedDataSets []string
	ExcludeColumns   []string
	Cleanup          bool

	// Binding is the persistence field declaration of the class, nil when the
	// class declares none.
	Binding *PersistenceDeclaration
}

// HasDataSets reports whether any seed or expected dataset is declared.
func (f FeatureConfig) HasDataSets() bool {
	return len(f.SeedDataSets) > 0 || len(f.ExpectedDataSets) > 0
}

// BindingKind is the capability category of a persistence field.
type BindingKind string

const (
	// BindingContext fields receive a per-test Session.
	BindingContext BindingKind = "context"
	// BindingUnit fields receive the whole Factory.
	BindingUnit BindingKind = "unit"
)

// PersistenceDeclaration is a field of the test class declared to receive a
// persistence resource.
type PersistenceDeclaration struct {
	Field *FieldDescriptor
	Kind  BindingKind
	Unit  string
}

// ClassMetadata is the structured record a MetadataExtractor hands the resolver.
type ClassMetadata struct {
	Name         string
	Declarations Declarations
	Persistence  []PersistenceDeclaration
}

// FeatureResolver merges class and method declarations into a FeatureConfig.
type FeatureResolver struct {
	units UnitRegistry
}

// NewFeatureResolver creates a resolver validating unit names against units.
// A nil registry skips unit validation.
func NewFeatureResolver(units UnitRegistry) *FeatureResolver {
	return &FeatureResolver{units: units}
}

// ResolveBinding validates the persistence declarations of a class and returns
// the single binding, or nil when there is none.
func (r *FeatureResolver) ResolveBinding(meta ClassMetadata) (*PersistenceDeclaration, error) {
	var contexts, units []PersistenceDeclaration
	for _, d := range meta.Persistence {
		switch d.Kind {
		case BindingContext:
			contexts = append(contexts, d)
		case BindingUnit:
			units = append(units, d)
		default:
			return nil, fmt.Errorf("%w: field %s declares unknown persistence binding %q", ErrConfiguration, d.Field, d.Kind)
		}
	}

	switch {
	case len(contexts) > 1:
		return nil, fmt.Errorf("%w (context fields in %s)", ErrSingleField, meta.Name)
	case len(units) > 1:
		return nil, fmt.Errorf("%w (unit fields in %s)", ErrSingleField, meta.Name)
	case len(contexts) == 1 && len(units) == 1:
		return nil, fmt.Errorf("%w (%s)", ErrExclusiveFields, meta.Name)
	case len(contexts) == 1:
		d := contexts[0]
		if !d.Field.AcceptsSession() {
			return nil, fmt.Errorf("%w: field %s declared as persistence context is not of type %s",
				ErrConfiguration, d.Field.Name, sessionType)
		}
		return &d, nil
	case len(units) == 1:
		d := units[0]
		if !d.Field.AcceptsFactory() {
			return nil, fmt.Errorf("%w: field %s declared as persistence unit is not of type %s",
				ErrConfiguration, d.Field.Name, factoryType)
		}
		return &d, nil
	}
	return nil, nil
}

// Resolve computes the feature configuration of one method. For every field the
// method declaration wins, then the class declaration, then the built-in default.
func (r *FeatureResolver) Resolve(meta ClassMetadata, method Declarations) (FeatureConfig, error) {
	binding, err := r.ResolveBinding(meta)
	if err != nil {
		return FeatureConfig{}, err
	}

	class := meta.Declarations
	cfg := FeatureConfig{
		Transactional:    pick(method.Transactional, class.Transactional, false),
		SeedDataSets:     pickSlice(method.SeedDataSets, class.SeedDataSets),
		SeedStrategy:     pick(method.SeedStrategy, class.SeedStrategy, SeedCleanInsert),
		ExpectedDataSets: pickSlice(method.ExpectedDataSets, class.ExpectedDataSets),
		ExcludeColumns:   pickSlice(method.ExcludeColumns, class.ExcludeColumns),
		Cleanup:          pick(method.Cleanup, class.Cleanup, false),
		Binding:          binding,
	}
	if !cfg.SeedStrategy.Valid() {
		return FeatureConfig{}, fmt.Errorf("%w: unknown seed strategy %q", ErrConfiguration, cfg.SeedStrategy)
	}

	// Rollback belongs to the transaction setting: a class level rollback only
	// applies to methods that stay transactional.
	if class.Rollback != nil && *class.Rollback && (class.Transactional == nil || !*class.Transactional) {
		return FeatureConfig{}, fmt.Errorf("%w: rollback requested without a transaction", ErrConfiguration)
	}
	switch {
	case method.Rollback != nil:
		cfg.Rollback = *method.Rollback
		if cfg.Rollback && !cfg.Transactional {
			return FeatureConfig{}, fmt.Errorf("%w: rollback requested without a transaction", ErrConfiguration)
		}
	case cfg.Transactional:
		cfg.Rollback = class.Rollback == nil || *class.Rollback
	}
	if cfg.Transactional && (binding == nil || binding.Kind != BindingContext) {
		return FeatureConfig{}, fmt.Errorf("%w: transactional tests require a persistence context field", ErrConfiguration)
	}

	if binding != nil || cfg.HasDataSets() || method.Unit != nil || class.Unit != nil {
		unit := pick(method.Unit, class.Unit, "")
		if method.Unit == nil && binding != nil && binding.Unit != "" {
			unit = binding.Unit
		}
		if unit, err = r.resolveUnit(unit); err != nil {
			return FeatureConfig{}, err
		}
		cfg.Unit = unit
	}
	return cfg, nil
}

func (r *FeatureResolver) resolveUnit(unit string) (string, error) {
	if r.units == nil {
		return unit, nil
	}
	if unit == "" {
		unit = r.units.DefaultUnit()
	}
	if unit == "" {
		return "", ErrNoUnit
	}
	if _, ok := r.units.Producer(unit); !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownUnit, unit)
	}
	return unit, nil
}

func pick[T comparable](method, class *T, def T) T {
	if method != nil {
		return *method
	}
	if class != nil {
		return *class
	}
	return def
}

func pickSlice(method, class []string) []string {
	if method != nil {
		return slices.Clone(method)
	}
	return slices.Clone(class)
}
