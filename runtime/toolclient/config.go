package toolclient

import (
	"time"

	"github.com/wuild-project/wuild/runtime/telemetry"
	"github.com/wuild-project/wuild/runtime/transport"
)

// Config configures a Client.
type Config struct {
	ClientId           string
	Settings           transport.Settings
	Logger             telemetry.Logger
	Metrics            telemetry.Metrics
	QueueTimeout       time.Duration
	InvocationAttempts int
	WorkerInterval     time.Duration
}

// Option mutates a Config.
type Option func(*Config)

// WithLogger injects a structured logger.
func WithLogger(l telemetry.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithMetrics injects a metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(c *Config) { c.Metrics = m } }

// WithSettings overrides the transport settings used for server connections.
func WithSettings(s transport.Settings) Option { return func(c *Config) { c.Settings = s } }

// WithQueueTimeout overrides the per-task queue deadline (spec §4.4).
func WithQueueTimeout(d time.Duration) Option { return func(c *Config) { c.QueueTimeout = d } }

// WithInvocationAttempts overrides the retry count on transport error (spec §4.4).
func WithInvocationAttempts(n int) Option { return func(c *Config) { c.InvocationAttempts = n } }

// WithWorkerInterval overrides the worker loop's tick period.
func WithWorkerInterval(d time.Duration) Option { return func(c *Config) { c.WorkerInterval = d } }

// DefaultConfig returns Config defaults matching the original's
// RemoteToolClientConfig (queue_timeout ~90s, 2 attempts, 10ms worker tick).
func DefaultConfig(clientId string) Config {
	return Config{
		ClientId:           clientId,
		Settings:           transport.DefaultSettings(),
		Logger:             telemetry.NewNoopLogger(),
		Metrics:            telemetry.NewNoopMetrics(),
		QueueTimeout:       90 * time.Second,
		InvocationAttempts: 2,
		WorkerInterval:     10 * time.Millisecond,
	}
}

// NewConfig applies opts over DefaultConfig(clientId).
func NewConfig(clientId string, opts ...Option) Config {
	cfg := DefaultConfig(clientId)
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
