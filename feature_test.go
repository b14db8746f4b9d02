package persistunit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionTarget struct {
	DB Session `persistence:"context"`
}

type factoryTarget struct {
	Factory Factory `persistence:"unit,unit=reporting"`
}

type twoContexts struct {
	A Session `persistence:"context"`
	B Session `persistence:"context"`
}

type twoUnits struct {
	A Factory `persistence:"unit"`
	B Factory `persistence:"unit"`
}

type mixedBindings struct {
	A Session `persistence:"context"`
	B Factory `persistence:"unit"`
}

type wrongContextType struct {
	DB Factory `persistence:"context"`
}

type wrongUnitType struct {
	DB string `persistence:"unit"`
}

func extract(t *testing.T, name string, target any, decl Declarations) ClassMetadata {
	t.Helper()
	meta, err := TagExtractor{}.Extract(&TestClass{Name: name, Declarations: decl}, target)
	require.NoError(t, err)
	return meta
}

func TestFeatureResolver_Defaults(t *testing.T) {
	r := NewFeatureResolver(fakeUnits("orders"))
	cfg, err := r.Resolve(extract(t, "Plain", &target{}, Declarations{}), Declarations{})
	require.NoError(t, err)

	assert.False(t, cfg.Transactional)
	assert.False(t, cfg.Rollback)
	assert.Equal(t, SeedCleanInsert, cfg.SeedStrategy)
	assert.False(t, cfg.Cleanup)
	assert.Empty(t, cfg.Unit)
	assert.Nil(t, cfg.Binding)
}

func TestFeatureResolver_RollbackDefaultsToTrueWhenTransactional(t *testing.T) {
	r := NewFeatureResolver(fakeUnits("orders"))
	meta := extract(t, "Tx", &sessionTarget{}, Declarations{Transactional: Bool(true)})

	cfg, err := r.Resolve(meta, Declarations{})
	require.NoError(t, err)
	assert.True(t, cfg.Transactional)
	assert.True(t, cfg.Rollback)
	assert.Equal(t, "orders", cfg.Unit)

	cfg, err = r.Resolve(meta, Declarations{Rollback: Bool(false)})
	require.NoError(t, err)
	assert.True(t, cfg.Transactional)
	assert.False(t, cfg.Rollback)
}

func TestFeatureResolver_MethodLeavesClassTransaction(t *testing.T) {
	r := NewFeatureResolver(fakeUnits("orders"))
	meta := extract(t, "Tx", &sessionTarget{}, Declarations{Transactional: Bool(true), Rollback: Bool(true)})

	cfg, err := r.Resolve(meta, Declarations{Transactional: Bool(false)})
	require.NoError(t, err)
	assert.False(t, cfg.Transactional)
	assert.False(t, cfg.Rollback)

	cfg, err = r.Resolve(meta, Declarations{})
	require.NoError(t, err)
	assert.True(t, cfg.Rollback)

	_, err = r.Resolve(meta, Declarations{Transactional: Bool(false), Rollback: Bool(true)})
	require.ErrorIs(t, err, ErrConfiguration)
	assert.Contains(t, err.Error(), "rollback requested without a transaction")
}

func TestFeatureResolver_MethodOverridesPerField(t *testing.T) {
	r := NewFeatureResolver(fakeUnits("orders", "reporting"))
	class := Declarations{
		Transactional:    Bool(true),
		SeedDataSets:     []string{"class-seed.yml"},
		ExpectedDataSets: []string{"class-expected.yml"},
		SeedStrategy:     Strategy(SeedInsert),
	}
	method := Declarations{
		SeedDataSets: []string{"method-seed.yml"},
		Unit:         String("reporting"),
	}
	cfg, err := r.Resolve(extract(t, "Override", &sessionTarget{}, class), method)
	require.NoError(t, err)

	assert.Equal(t, []string{"method-seed.yml"}, cfg.SeedDataSets)
	assert.Equal(t, []string{"class-expected.yml"}, cfg.ExpectedDataSets)
	assert.Equal(t, SeedInsert, cfg.SeedStrategy)
	assert.True(t, cfg.Transactional)
	assert.Equal(t, "reporting", cfg.Unit)
}

func TestFeatureResolver_EmptyMethodSliceOverridesClass(t *testing.T) {
	r := NewFeatureResolver(fakeUnits("orders"))
	meta := extract(t, "Sets", &target{}, Declarations{SeedDataSets: []string{"seed.yml"}})
	cfg, err := r.Resolve(meta, Declarations{SeedDataSets: []string{}})
	require.NoError(t, err)
	assert.Empty(t, cfg.SeedDataSets)
	assert.False(t, cfg.HasDataSets())
}

func TestFeatureResolver_UnitPrecedence(t *testing.T) {
	r := NewFeatureResolver(fakeUnits("orders", "reporting", "audit"))

	cfg, err := r.Resolve(extract(t, "Tag", &factoryTarget{}, Declarations{Unit: String("audit")}), Declarations{})
	require.NoError(t, err)
	assert.Equal(t, "reporting", cfg.Unit, "binding tag wins over class declaration")

	cfg, err = r.Resolve(extract(t, "Tag", &factoryTarget{}, Declarations{}), Declarations{Unit: String("orders")})
	require.NoError(t, err)
	assert.Equal(t, "orders", cfg.Unit, "method declaration wins over binding tag")

	cfg, err = r.Resolve(extract(t, "Class", &sessionTarget{}, Declarations{Unit: String("audit")}), Declarations{})
	require.NoError(t, err)
	assert.Equal(t, "audit", cfg.Unit)
}

func TestFeatureResolver_RoundTrip(t *testing.T) {
	r := NewFeatureResolver(fakeUnits("orders"))
	meta := extract(t, "RoundTrip", &sessionTarget{}, Declarations{})
	method := Declarations{
		Transactional:    Bool(true),
		Rollback:         Bool(false),
		SeedDataSets:     []string{"a.yml", "b.yml"},
		SeedStrategy:     Strategy(SeedInsert),
		ExpectedDataSets: []string{"c.yml"},
		ExcludeColumns:   []string{"created_at"},
		Cleanup:          Bool(true),
		Unit:             String("orders"),
	}
	cfg, err := r.Resolve(meta, method)
	require.NoError(t, err)

	assert.Equal(t, FeatureConfig{
		Unit:             "orders",
		Transactional:    true,
		Rollback:         false,
		SeedDataSets:     []string{"a.yml", "b.yml"},
		SeedStrategy:     SeedInsert,
		ExpectedDataSets: []string{"c.yml"},
		ExcludeColumns:   []string{"created_at"},
		Cleanup:          true,
		Binding:          cfg.Binding,
	}, cfg)
	require.NotNil(t, cfg.Binding)
	assert.Equal(t, "DB", cfg.Binding.Field.Name)
	assert.Equal(t, BindingContext, cfg.Binding.Kind)
}

func TestFeatureResolver_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name    string
		target  any
		class   Declarations
		method  Declarations
		units   UnitRegistry
		wantErr error
		message string
	}{
		{name: "two context fields", target: &twoContexts{}, wantErr: ErrSingleField, message: "only a single field is allowed"},
		{name: "two unit fields", target: &twoUnits{}, wantErr: ErrSingleField, message: "only a single field is allowed"},
		{name: "both kinds", target: &mixedBindings{}, wantErr: ErrExclusiveFields, message: "either a persistence unit or a persistence context"},
		{name: "context field of wrong type", target: &wrongContextType{}, wantErr: ErrConfiguration, message: "is not of type"},
		{name: "unit field of wrong type", target: &wrongUnitType{}, wantErr: ErrConfiguration, message: "is not of type"},
		{name: "no unit resolvable", target: &sessionTarget{}, units: StaticUnits{}, wantErr: ErrNoUnit},
		{name: "unknown unit", target: &sessionTarget{}, method: Declarations{Unit: String("missing")}, wantErr: ErrUnknownUnit, message: `"missing"`},
		{name: "rollback without transaction", target: &sessionTarget{}, method: Declarations{Rollback: Bool(true)}, wantErr: ErrConfiguration, message: "rollback requested without a transaction"},
		{name: "class rollback without transaction", target: &sessionTarget{}, class: Declarations{Rollback: Bool(true)}, method: Declarations{Transactional: Bool(true)}, wantErr: ErrConfiguration, message: "rollback requested without a transaction"},
		{name: "transaction without session", target: &factoryTarget{}, class: Declarations{Transactional: Bool(true)}, wantErr: ErrConfiguration, message: "require a persistence context field"},
		{name: "unknown seed strategy", target: &target{}, method: Declarations{SeedStrategy: Strategy("upsert")}, wantErr: ErrConfiguration, message: "upsert"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			units := tt.units
			if units == nil {
				units = fakeUnits("orders", "reporting")
			}
			r := NewFeatureResolver(units)
			_, err := r.Resolve(extract(t, tt.name, tt.target, tt.class), tt.method)
			require.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrConfiguration)
			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
		})
	}
}

func TestTagExtractor_RejectsUnknownBindings(t *testing.T) {
	type badTag struct {
		DB Session `persistence:"connection"`
	}
	type badOption struct {
		DB Session `persistence:"context,pool=2"`
	}

	for _, target := range []any{&badTag{}, &badOption{}} {
		_, err := TagExtractor{}.Extract(&TestClass{Name: "Bad"}, target)
		assert.ErrorIs(t, err, ErrConfiguration)
	}
}

func TestTagExtractor_ReadsBindings(t *testing.T) {
	meta := extract(t, "Tags", &factoryTarget{}, Declarations{Transactional: Bool(false)})
	require.Len(t, meta.Persistence, 1)
	assert.Equal(t, BindingUnit, meta.Persistence[0].Kind)
	assert.Equal(t, "reporting", meta.Persistence[0].Unit)
	assert.Equal(t, "Factory", meta.Persistence[0].Field.Name)
	assert.True(t, meta.Persistence[0].Field.AcceptsFactory())
	assert.Equal(t, "Tags", meta.Name)
	require.NotNil(t, meta.Declarations.Transactional)
}
