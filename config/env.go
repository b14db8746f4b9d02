package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

var durationType = reflect.TypeFor[time.Duration]()

// ApplyEnv overrides fields of cfg from environment variables. Names are built
// from the `env` tags joined with "_" under prefix; entries of Units are
// addressed by their upper-cased name:
//
//	PERSISTUNIT_DEFAULT_UNIT=orders
//	PERSISTUNIT_UNITS_ORDERS_DSN=postgres://...
//	PERSISTUNIT_CACHE_ENGINE=redis
func ApplyEnv(cfg *Config, prefix string) error {
	return applyEnvStruct(reflect.ValueOf(cfg).Elem(), prefix)
}

func applyEnvStruct(rv reflect.Value, prefix string) error {
	rt := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		sf := rt.Field(i)
		tag, ok := sf.Tag.Lookup("env")
		if !ok || !sf.IsExported() {
			continue
		}
		name := envName(prefix, tag)
		field := rv.Field(i)

		var err error
		switch field.Kind() {
		case reflect.Struct:
			err = applyEnvStruct(field, name)
		case reflect.Map:
			err = applyEnvMap(field, name)
		default:
			err = setFromEnv(field, name)
		}
		if err != nil {
			return fmt.Errorf("error in field '%s': %w", sf.Name, err)
		}
	}
	return nil
}

// applyEnvMap handles map[string]struct fields; map values are copies so each
// entry is updated through a temporary and written back.
func applyEnvMap(field reflect.Value, prefix string) error {
	if field.IsNil() || field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.Struct {
		return nil
	}
	for _, key := range field.MapKeys() {
		entry := reflect.New(field.Type().Elem()).Elem()
		entry.Set(field.MapIndex(key))
		if err := applyEnvStruct(entry, envName(prefix, key.String())); err != nil {
			return fmt.Errorf("entry '%s': %w", key.String(), err)
		}
		field.SetMapIndex(key, entry)
	}
	return nil
}

func setFromEnv(field reflect.Value, name string) error {
	value, ok := os.LookupEnv(name)
	if !ok || value == "" {
		return nil
	}
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}

	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("cannot parse %s as duration: %w", name, err)
		}
		field.SetInt(int64(d))
		return nil
	}

	converted, err := cast.FromType(value, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert %s to type %v: %w", name, field.Type(), err)
	}
	field.Set(reflect.ValueOf(converted).Convert(field.Type()))
	return nil
}

func envName(prefix, name string) string {
	name = strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}
