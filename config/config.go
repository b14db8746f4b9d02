// Package config loads the persistence unit, dataset and cache settings of a test suite.
package config

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Cache engines
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

var (
	ErrNoUnits            = errors.New("no persistence units configured")
	ErrMissingDriver      = errors.New("persistence unit missing driver")
	ErrMissingDSN         = errors.New("persistence unit missing DSN")
	ErrUnknownDefaultUnit = errors.New("default unit is not configured")
	ErrUnknownCacheEngine = errors.New("unknown cache engine")
	ErrMissingRedisURL    = errors.New("redis cache requires redisURL")
	ErrUnsupportedFormat  = errors.New("unsupported config file format")
)

// Config is the suite configuration.
//
// Example YAML:
//
//	default_unit: orders
//	dataset_dir: testdata/datasets
//	units:
//	  orders:
//	    driver: sqlite
//	    dsn: file:orders.db
//	cache:
//	  engine: memory
type Config struct {
	// DefaultUnit is used by tests that do not name a unit.
	// When empty and exactly one unit is configured, that unit becomes the default.
	DefaultUnit string `json:"default_unit" yaml:"default_unit" toml:"default_unit" env:"DEFAULT_UNIT"`

	// DataSetDir is the base directory relative dataset paths are resolved against.
	DataSetDir string `json:"dataset_dir" yaml:"dataset_dir" toml:"dataset_dir" env:"DATASET_DIR"`

	Units map[string]UnitConfig `json:"units" yaml:"units" toml:"units" env:"UNITS"`

	Cache CacheConfig `json:"cache" yaml:"cache" toml:"cache" env:"CACHE"`
}

// UnitConfig describes one persistence unit.
type UnitConfig struct {
	// Driver is the database/sql driver name, e.g. "sqlite" or "pgx".
	Driver string `json:"driver" yaml:"driver" toml:"driver" env:"DRIVER"`

	// DSN is the connection string handed to the driver.
	DSN string `json:"dsn" yaml:"dsn" toml:"dsn" env:"DSN"`

	MaxOpenConnections    int           `json:"max_open_connections" yaml:"max_open_connections" toml:"max_open_connections" env:"MAX_OPEN_CONNECTIONS"`
	MaxIdleConnections    int           `json:"max_idle_connections" yaml:"max_idle_connections" toml:"max_idle_connections" env:"MAX_IDLE_CONNECTIONS"`
	ConnectionMaxLifetime time.Duration `json:"connection_max_lifetime" yaml:"connection_max_lifetime" toml:"connection_max_lifetime" env:"CONNECTION_MAX_LIFETIME"`
}

// CacheConfig configures the second-tier cache shared by every factory.
type CacheConfig struct {
	// Engine is one of "none", "memory" or "redis". Default: "none".
	Engine string `json:"engine" yaml:"engine" toml:"engine" env:"ENGINE"`

	// DefaultTTL applies to entries stored without an explicit TTL.
	DefaultTTL time.Duration `json:"defaultTTL" yaml:"defaultTTL" toml:"defaultTTL" env:"DEFAULT_TTL"`

	// CleanupInterval is how often the memory engine drops expired entries. Default: 60s.
	CleanupInterval time.Duration `json:"cleanupInterval" yaml:"cleanupInterval" toml:"cleanupInterval" env:"CLEANUP_INTERVAL"`

	// MaxItems bounds the memory engine. Default: 10000.
	MaxItems int `json:"maxItems" yaml:"maxItems" toml:"maxItems" env:"MAX_ITEMS"`

	// RedisURL is redis://[user:pass@]host:port[/db].
	RedisURL      string `json:"redisURL" yaml:"redisURL" toml:"redisURL" env:"REDIS_URL"`
	RedisPassword string `json:"redisPassword" yaml:"redisPassword" toml:"redisPassword" env:"REDIS_PASSWORD"`
	RedisDB       int    `json:"redisDB" yaml:"redisDB" toml:"redisDB" env:"REDIS_DB"`

	// KeyPrefix namespaces redis keys so Flush only removes this suite's entries.
	// Default: "persistunit:".
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix" toml:"keyPrefix" env:"KEY_PREFIX"`
}

// Validate fills defaults and checks the configuration.
func (c *Config) Validate() error {
	if len(c.Units) == 0 {
		return ErrNoUnits
	}
	for name, u := range c.Units {
		if u.Driver == "" {
			return fmt.Errorf("%w: %s", ErrMissingDriver, name)
		}
		if u.DSN == "" {
			return fmt.Errorf("%w: %s", ErrMissingDSN, name)
		}
	}
	if c.DefaultUnit == "" && len(c.Units) == 1 {
		for name := range c.Units {
			c.DefaultUnit = name
		}
	}
	if c.DefaultUnit != "" {
		if _, ok := c.Units[c.DefaultUnit]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDefaultUnit, c.DefaultUnit)
		}
	}
	return c.Cache.validate()
}

// UnitNames returns the configured unit names in sorted order.
func (c *Config) UnitNames() []string {
	names := make([]string, 0, len(c.Units))
	for name := range c.Units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *CacheConfig) validate() error {
	if c.Engine == "" {
		c.Engine = CacheNone
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 60 * time.Second
	}
	if c.MaxItems <= 0 {
		c.MaxItems = 10000
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "persistunit:"
	}
	switch c.Engine {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.RedisURL == "" {
			return ErrMissingRedisURL
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCacheEngine, c.Engine)
	}
	return nil
}
