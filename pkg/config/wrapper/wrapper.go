package wrapper

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/code-payments/counter-client/pkg/config"
)

// ErrUnsupportedConversion indicates the source value cannot be converted to
// the wrapper's type
var ErrUnsupportedConversion = errors.New("config: unsupported value conversion")

// Config converts the untyped values of an override config.Config into T,
// falling back to a default value
type Config[T any] struct {
	override     config.Config
	defaultValue T
	parse        func(raw interface{}) (T, error)

	stateMu   sync.RWMutex
	lastValue T
}

func newConfig[T any](override config.Config, defaultValue T, parse func(interface{}) (T, error)) *Config[T] {
	if override == nil {
		override = config.NoopConfig
	}
	return &Config[T]{
		override:     override,
		defaultValue: defaultValue,
		parse:        parse,
		lastValue:    defaultValue,
	}
}

// GetSafe gets a config value and propagates any errors that arise. A best-effort
// attempt is made to return the last known value
func (c *Config[T]) GetSafe(ctx context.Context) (T, error) {
	raw, err := c.override.Get(ctx)

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if errors.Is(err, config.ErrNoValue) {
		c.lastValue = c.defaultValue
		return c.defaultValue, nil
	} else if err != nil {
		return c.lastValue, err
	}

	value, err := c.parse(raw)
	if err != nil {
		return c.lastValue, err
	}
	c.lastValue = value
	return value, nil
}

// Get is a wrapper for GetSafe that ignores the returned error
func (c *Config[T]) Get(ctx context.Context) T {
	val, _ := c.GetSafe(ctx)
	return val
}

// Shutdown signals the config to stop all underlying resources
func (c *Config[T]) Shutdown() {
	c.override.Shutdown()
}

// NewBoolConfig returns a bool config accepting bool or strconv.ParseBool text
func NewBoolConfig(override config.Config, defaultValue bool) config.Bool {
	return newConfig(override, defaultValue, func(raw interface{}) (bool, error) {
		switch v := raw.(type) {
		case bool:
			return v, nil
		case []byte:
			return strconv.ParseBool(strings.TrimSpace(string(v)))
		}
		return false, ErrUnsupportedConversion
	})
}

// NewStringConfig returns a string config
func NewStringConfig(override config.Config, defaultValue string) config.String {
	return newConfig(override, defaultValue, func(raw interface{}) (string, error) {
		switch v := raw.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
		return "", ErrUnsupportedConversion
	})
}

// NewUint64Config returns a uint64 config
func NewUint64Config(override config.Config, defaultValue uint64) config.Uint64 {
	return newConfig(override, defaultValue, func(raw interface{}) (uint64, error) {
		switch v := raw.(type) {
		case uint64:
			return v, nil
		case uint32:
			return uint64(v), nil
		case int:
			if v < 0 {
				return 0, errors.Errorf("negative value %d", v)
			}
			return uint64(v), nil
		case []byte:
			return strconv.ParseUint(strings.TrimSpace(string(v)), 10, 64)
		}
		return 0, ErrUnsupportedConversion
	})
}

// NewFloat64Config returns a float64 config
func NewFloat64Config(override config.Config, defaultValue float64) config.Float64 {
	return newConfig(override, defaultValue, func(raw interface{}) (float64, error) {
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case []byte:
			return strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		}
		return 0, ErrUnsupportedConversion
	})
}

// NewDurationConfig returns a duration config. Text values are parsed with
// time.ParseDuration, and a bare integer is interpreted as milliseconds.
func NewDurationConfig(override config.Config, defaultValue time.Duration) config.Duration {
	return newConfig(override, defaultValue, func(raw interface{}) (time.Duration, error) {
		switch v := raw.(type) {
		case time.Duration:
			return v, nil
		case []byte:
			return parseDuration(string(v))
		}
		return 0, ErrUnsupportedConversion
	})
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseUint(s, 10, 63); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.Errorf("negative duration %s", s)
	}
	return d, nil
}
