package coordinator

import (
	"context"

	"github.com/wuild-project/wuild/runtime/model"
	"github.com/wuild-project/wuild/runtime/telemetry"
	"github.com/wuild-project/wuild/runtime/transport"
)

// SessionSink receives every FrameToolServerSession update a connected
// tool client reports, final (IsFinished) or in-progress. SPEC_FULL.md
// §B.3's session history store implements this by saving a
// sessionstore.Record; nil disables session persistence entirely.
type SessionSink func(ctx context.Context, info model.ToolServerSessionInfo, finished bool)

// Config configures a Coordinator, following the functional-options
// idiom used across this codebase for component configuration.
type Config struct {
	ListenAddr string
	Settings   transport.Settings
	Logger     telemetry.Logger
	Metrics    telemetry.Metrics

	// Sessions, when non-nil, is invoked for every ToolServerSession
	// frame a tool client reports (SPEC_FULL.md §B.3).
	Sessions SessionSink

	// ClusterRedisAddr, when set, enables the optional multi-coordinator
	// clustering supplement (SPEC_FULL.md §B.2): this coordinator
	// publishes/subscribes full ListResponse snapshots on a shared Redis
	// channel so a client connected to any one coordinator in the
	// cluster observes the union of tool servers registered anywhere
	// in it. Empty disables clustering (the default; matches the
	// original single-node coordinator).
	ClusterRedisAddr string
	ClusterChannel   string
}

// Option mutates a Config.
type Option func(*Config)

// WithListenAddr sets the TCP listen address (host:port).
func WithListenAddr(addr string) Option {
	return func(c *Config) { c.ListenAddr = addr }
}

// WithSettings overrides the transport settings applied to every accepted connection.
func WithSettings(s transport.Settings) Option {
	return func(c *Config) { c.Settings = s }
}

// WithLogger injects a structured logger.
func WithLogger(l telemetry.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMetrics injects a metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithSessionSink registers a callback invoked for every reported
// ToolServerSession (SPEC_FULL.md §B.3 session history store).
func WithSessionSink(sink SessionSink) Option {
	return func(c *Config) { c.Sessions = sink }
}

// WithClustering enables the Redis-backed clustering supplement
// (SPEC_FULL.md §B.2). channel defaults to "wuild:coordinator:fleet" if empty.
func WithClustering(redisAddr, channel string) Option {
	return func(c *Config) {
		c.ClusterRedisAddr = redisAddr
		c.ClusterChannel = channel
	}
}

// DefaultConfig returns a Config with standalone (non-clustered) defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr: ":9400",
		Settings:   transport.DefaultSettings(),
		Logger:     telemetry.NewNoopLogger(),
		Metrics:    telemetry.NewNoopMetrics(),
	}
}

// NewConfig applies opts over DefaultConfig.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ClusterRedisAddr != "" && cfg.ClusterChannel == "" {
		cfg.ClusterChannel = "wuild:coordinator:fleet"
	}
	return cfg
}
