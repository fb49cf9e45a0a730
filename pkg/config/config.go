package config

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNoValue indicates no value was set for the config
	ErrNoValue = errors.New("config: no value set")

	// ErrShutdown indicates the use of a Config after calling Shutdown
	ErrShutdown = errors.New("config: shutdown")
)

// Config is an untyped source of a single configuration value
type Config interface {
	// Get returns the latest config value
	Get(ctx context.Context) (interface{}, error)

	// Shutdown signals the config to stop all underlying resources
	Shutdown()
}

// NoopConfig is a config that does not yield any values.
var NoopConfig Config = noopConfig{}

type noopConfig struct{}

func (noopConfig) Get(_ context.Context) (interface{}, error) {
	return nil, ErrNoValue
}

func (noopConfig) Shutdown() {}

// Typed is a Config whose value has been converted to T.
//
// Get never fails. When the underlying source errors, the last observed value
// is returned, and when the source has no value the default is returned.
type Typed[T any] interface {
	Get(ctx context.Context) T
	GetSafe(ctx context.Context) (T, error)
	Shutdown()
}

type (
	Bool     = Typed[bool]
	Duration = Typed[time.Duration]
	Float64  = Typed[float64]
	String   = Typed[string]
	Uint64   = Typed[uint64]
)
