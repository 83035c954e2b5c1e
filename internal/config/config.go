// Package config holds the engine's tunables: validated defaults, the
// functional-options surface, and the two environment-variable overrides.
package config

import (
	"errors"
	"math/bits"
	"os"
	"strconv"

	"go.uber.org/zap"
)

// ErrInvalidConfig is returned by Validate (and therefore by the top-level
// constructor) when BufferSize is below the minimum.
var ErrInvalidConfig = errors.New("config: invalid configuration")

const (
	minBufferSize            = 512
	defaultBufferSize        = 16384
	defaultBlockWhenFull     = false
	defaultWakeBatchSize     = 128
	defaultSpinBatchSize     = 32
	defaultWakeupMs          = 25
	defaultShutdownTimeoutMs = 10000
	maxSpins                 = 35
	envWakeupMs              = "ASYNCLOG_WAKEUP_MS"
	envShutdownTimeoutMs     = "ASYNCLOG_SHUTDOWN_TIMEOUT_MS"
)

// Config holds one sink's validated tunables. Construct it via Build, never
// directly — Build applies environment overrides and power-of-two rounding.
type Config struct {
	BufferSize        uint64
	BlockWhenFull     bool
	WakeBatchSize     int64
	SpinBatchSize     int64
	MaxSpins          int
	WakeupMs          int64
	ShutdownTimeoutMs int64
	Logger            *zap.Logger
}

// Option mutates a Config under construction.
type Option func(*Config)

// WithBufferSize sets the requested ring buffer size. Non-power-of-two
// values are rounded up; values below 512 fail validation in Build.
func WithBufferSize(size uint64) Option {
	return func(c *Config) { c.BufferSize = size }
}

// WithBlockWhenFull selects the Block overload policy (default is Drop).
func WithBlockWhenFull(block bool) Option {
	return func(c *Config) { c.BlockWhenFull = block }
}

// WithWakeBatchSize sets how many published sequences justify an
// unconditional wake of a parked consumer.
func WithWakeBatchSize(n int64) Option {
	return func(c *Config) { c.WakeBatchSize = n }
}

// WithSpinBatchSize sets the wait strategy's spin-phase batch size, also
// used as the barrier's fast-path minimum batch.
func WithSpinBatchSize(n int64) Option {
	return func(c *Config) { c.SpinBatchSize = n }
}

// WithWakeupMs sets the idle wakeup interval. An explicit option here
// always wins over the ASYNCLOG_WAKEUP_MS environment variable.
func WithWakeupMs(ms int64) Option {
	return func(c *Config) { c.WakeupMs = ms }
}

// WithShutdownTimeoutMs sets Close's drain deadline. An explicit option
// here always wins over ASYNCLOG_SHUTDOWN_TIMEOUT_MS.
func WithShutdownTimeoutMs(ms int64) Option {
	return func(c *Config) { c.ShutdownTimeoutMs = ms }
}

// WithLogger injects a structured logger; defaults to zap.NewNop() so the
// library is silent unless a host wires one in.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// Build applies opts over the defaults (with environment overrides applied
// to WakeupMs/ShutdownTimeoutMs before options, so an explicit option still
// wins), validates the requested BufferSize against the minimum, and only
// then rounds it up to a power of two — so a sub-minimum request genuinely
// fails instead of being rounded into validity.
func Build(opts ...Option) (Config, error) {
	c := Config{
		BufferSize:        defaultBufferSize,
		BlockWhenFull:     defaultBlockWhenFull,
		WakeBatchSize:     defaultWakeBatchSize,
		SpinBatchSize:     defaultSpinBatchSize,
		MaxSpins:          maxSpins,
		WakeupMs:          envOverrideInt64(envWakeupMs, defaultWakeupMs),
		ShutdownTimeoutMs: envOverrideInt64(envShutdownTimeoutMs, defaultShutdownTimeoutMs),
		Logger:            zap.NewNop(),
	}

	for _, opt := range opts {
		opt(&c)
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	c.BufferSize = RoundUpToPowerOfTwo(c.BufferSize)
	return c, nil
}

// Validate reports whether c satisfies the invariants Build cannot fix up
// by itself (today: only the minimum buffer size).
func (c Config) Validate() error {
	if c.BufferSize < minBufferSize {
		return ErrInvalidConfig
	}
	return nil
}

// RoundUpToPowerOfTwo returns the smallest power of two >= n (n itself if
// it already is one).
func RoundUpToPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	if n&(n-1) == 0 {
		return n
	}
	shift := bits.Len64(n)
	return 1 << uint(shift)
}

// envOverrideInt64 reads name from the environment; an absent, empty, or
// unparseable-as-non-negative-integer value falls back silently to def.
func envOverrideInt64(name string, def int64) int64 {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return def
	}
	return v
}
