package toolserver

import (
	"time"

	"github.com/wuild-project/wuild/runtime/telemetry"
	"github.com/wuild-project/wuild/runtime/transport"
)

// Config configures a Server.
type Config struct {
	ServerId       string
	ListenAddr     string
	ThreadCount    int
	TempPath       string
	HostsWhiteList []string

	CoordinatorHosts []string
	CoordinatorPort  uint16
	SendInfoInterval time.Duration

	Settings transport.Settings
	Logger   telemetry.Logger
	Metrics  telemetry.Metrics
}

// Option mutates a Config.
type Option func(*Config)

// WithListenAddr overrides the accept address.
func WithListenAddr(addr string) Option { return func(c *Config) { c.ListenAddr = addr } }

// WithThreadCount overrides the concurrent-subprocess bound.
func WithThreadCount(n int) Option { return func(c *Config) { c.ThreadCount = n } }

// WithTempPath overrides the scratch directory for received payloads.
func WithTempPath(p string) Option { return func(c *Config) { c.TempPath = p } }

// WithHostsWhiteList restricts accepted client hosts (spec §6
// `[toolServer].hostsWhiteList`, enforced at accept time); empty means
// unrestricted.
func WithHostsWhiteList(hosts []string) Option { return func(c *Config) { c.HostsWhiteList = hosts } }

// WithCoordinators sets the coordinator hosts/port this server
// publishes its ToolServerInfo to.
func WithCoordinators(hosts []string, port uint16) Option {
	return func(c *Config) { c.CoordinatorHosts = hosts; c.CoordinatorPort = port }
}

// WithSendInfoInterval overrides the periodic status-publish interval
// (spec §6 `sendInfoIntervalMS`).
func WithSendInfoInterval(d time.Duration) Option { return func(c *Config) { c.SendInfoInterval = d } }

// WithSettings overrides the transport settings for accepted connections.
func WithSettings(s transport.Settings) Option { return func(c *Config) { c.Settings = s } }

// WithLogger injects a structured logger.
func WithLogger(l telemetry.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithMetrics injects a metrics recorder.
func WithMetrics(m telemetry.Metrics) Option { return func(c *Config) { c.Metrics = m } }

// DefaultConfig returns defaults for a tool server named serverId,
// listening on listenAddr, bounded at threadCount concurrent tasks.
func DefaultConfig(serverId, listenAddr string, threadCount int) Config {
	return Config{
		ServerId:         serverId,
		ListenAddr:       listenAddr,
		ThreadCount:      threadCount,
		TempPath:         "",
		CoordinatorPort:  25050,
		SendInfoInterval: 5 * time.Second,
		Settings:         transport.DefaultSettings(),
		Logger:           telemetry.NewNoopLogger(),
		Metrics:          telemetry.NewNoopMetrics(),
	}
}

// NewConfig applies opts over DefaultConfig(serverId, listenAddr, threadCount).
func NewConfig(serverId, listenAddr string, threadCount int, opts ...Option) Config {
	cfg := DefaultConfig(serverId, listenAddr, threadCount)
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
