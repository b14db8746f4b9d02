package persistunit

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// DataKey names a value stored in an ExecutionContext. Keys are namespaced by
// the owning decorator so two decorators never write the same slot.
type DataKey struct {
	Owner string
	Name  string
}

func (k DataKey) String() string { return k.Owner + "." + k.Name }

// ExecutionContext is the state bag threaded through a single test invocation.
// It is owned by that invocation and is not safe for concurrent writers.
type ExecutionContext struct {
	id               string
	className        string
	methodName       string
	data             map[DataKey]any
	persistenceField *FieldDescriptor
	dataSource       *sql.DB
	producer         ResourceProducer
	features         FeatureConfig
	injector         Injector
	logger           Logger
}

// ContextOption configures an ExecutionContext at construction.
type ContextOption func(*ExecutionContext)

// WithTestName records the class and method the context belongs to.
func WithTestName(class, method string) ContextOption {
	return func(c *ExecutionContext) {
		c.className = class
		c.methodName = method
	}
}

// WithPersistenceField sets the target field that receives the persistence resource.
func WithPersistenceField(f *FieldDescriptor) ContextOption {
	return func(c *ExecutionContext) { c.persistenceField = f }
}

// WithDataSource sets the class-scoped data source.
func WithDataSource(db *sql.DB) ContextOption {
	return func(c *ExecutionContext) { c.dataSource = db }
}

// WithProducer sets the producer of the per-test factory.
func WithProducer(p ResourceProducer) ContextOption {
	return func(c *ExecutionContext) { c.producer = p }
}

// WithFeatures sets the resolved feature configuration.
func WithFeatures(f FeatureConfig) ContextOption {
	return func(c *ExecutionContext) { c.features = f }
}

// WithInjector replaces the reflect based injector.
func WithInjector(i Injector) ContextOption {
	return func(c *ExecutionContext) { c.injector = i }
}

// WithContextLogger sets the logger decorators use for this invocation.
func WithContextLogger(l Logger) ContextOption {
	return func(c *ExecutionContext) { c.logger = l }
}

// NewExecutionContext creates the context of one test invocation.
func NewExecutionContext(opts ...ContextOption) *ExecutionContext {
	c := &ExecutionContext{
		id:       uuid.NewString(),
		data:     make(map[DataKey]any),
		injector: ReflectInjector{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = orNop(c.logger)
	return c
}

func (c *ExecutionContext) ID() string         { return c.id }
func (c *ExecutionContext) ClassName() string  { return c.className }
func (c *ExecutionContext) MethodName() string { return c.methodName }

// Data returns the value stored under key. The boolean is false when the key is
// absent; there is no default value.
func (c *ExecutionContext) Data(key DataKey) (any, bool) {
	v, ok := c.data[key]
	return v, ok
}

// SetData stores value under key. A key that already holds a value is never
// overwritten; its owner has to delete it first.
func (c *ExecutionContext) SetData(key DataKey, value any) error {
	if _, ok := c.data[key]; ok {
		return fmt.Errorf("%w: %s", ErrDataKeyTaken, key)
	}
	c.data[key] = value
	return nil
}

// DeleteData removes key.
func (c *ExecutionContext) DeleteData(key DataKey) {
	delete(c.data, key)
}

// DataAs returns the value under key if it is present and of type T.
func DataAs[T any](c *ExecutionContext, key DataKey) (T, bool) {
	var zero T
	v, ok := c.data[key]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

func (c *ExecutionContext) PersistenceField() *FieldDescriptor { return c.persistenceField }
func (c *ExecutionContext) DataSource() *sql.DB                { return c.dataSource }
func (c *ExecutionContext) Producer() ResourceProducer         { return c.producer }
func (c *ExecutionContext) Features() FeatureConfig            { return c.features }
func (c *ExecutionContext) Injector() Injector                 { return c.injector }
func (c *ExecutionContext) Logger() Logger                     { return c.logger }
