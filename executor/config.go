package executor

import (
	"time"

	"github.com/wuild-project/wuild/runtime/telemetry"
)

// Config configures an Executor.
type Config struct {
	TempPath        string
	MaxProcesses    int
	Logger          telemetry.Logger
	Metrics         telemetry.Metrics
	QuantumInterval time.Duration
}

// Option mutates a Config.
type Option func(*Config)

// WithLogger injects a structured logger.
func WithLogger(l telemetry.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithMetrics injects a metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(c *Config) { c.Metrics = m } }

// WithQuantumInterval overrides the dispatch loop's idle pacing.
func WithQuantumInterval(d time.Duration) Option { return func(c *Config) { c.QuantumInterval = d } }

// DefaultConfig returns defaults for a local executor rooted at
// tempPath, bounded at maxProcesses concurrent subprocesses (spec §4.4
// admission control: the server advertises total_threads and enforces
// it here).
func DefaultConfig(tempPath string, maxProcesses int) Config {
	return Config{
		TempPath:        tempPath,
		MaxProcesses:    maxProcesses,
		Logger:          telemetry.NewNoopLogger(),
		Metrics:         telemetry.NewNoopMetrics(),
		QuantumInterval: 5 * time.Millisecond,
	}
}

// NewConfig applies opts over DefaultConfig(tempPath, maxProcesses).
func NewConfig(tempPath string, maxProcesses int, opts ...Option) Config {
	cfg := DefaultConfig(tempPath, maxProcesses)
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
