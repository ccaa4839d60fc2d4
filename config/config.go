// Package config defines the typed configuration structures spec §6
// names (one per [section] of the INI-style config file), a minimal
// INI loader, CLI-override application, and a diagnostic TOML dump —
// the ambient configuration layer every cmd/ binary shares.
package config

import "fmt"

// ToolConfig is one compiler binding within [tools]: spec §6's
// per-id key family (`<id>`, `<id>_type`, `<id>_version`,
// `<id>_remoteAlias`, `<id>_appendRemote`, `<id>_removeRemote`).
type ToolConfig struct {
	Id           string
	Executables  []string
	Type         string // gcc|clang|msvc|update_file|auto
	Version      string
	RemoteAlias  string
	AppendRemote string
	RemoveRemote string
}

// Validate reports a ToolConfig missing its required fields.
func (t ToolConfig) Validate() error {
	if t.Id == "" {
		return fmt.Errorf("config: tool entry missing id")
	}
	if len(t.Executables) == 0 {
		return fmt.Errorf("config: tool %q has no executables", t.Id)
	}
	switch t.Type {
	case "", "gcc", "clang", "msvc", "update_file", "auto":
	default:
		return fmt.Errorf("config: tool %q has unrecognized type %q", t.Id, t.Type)
	}
	return nil
}

// ToolsConfig is the [tools] section (spec §6).
type ToolsConfig struct {
	ToolIds              []string
	Tools                map[string]ToolConfig
	DisableVersionChecks bool
}

// Validate checks every declared tool id resolves to a ToolConfig.
func (c ToolsConfig) Validate() error {
	for _, id := range c.ToolIds {
		t, ok := c.Tools[id]
		if !ok {
			return fmt.Errorf("config: toolIds names %q but [tools] has no entry for it", id)
		}
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ToolClientConfig is the [toolClient] section (spec §6).
type ToolClientConfig struct {
	InvocationAttempts int
	MinimalRemoteTasks int
	QueueTimeoutMS     int
	RequestTimeoutMS   int
	MaxLoadAverage     float64
	CoordinatorHosts   []string
	CoordinatorPort    int
	SendInfoIntervalMS int
	CompressionType    string
	CompressionLevel   int
	ToolserverHosts    []string
	ToolserverPort     int
	ToolserverIds      []string
}

// Validate checks the fields a client cannot safely run without.
func (c ToolClientConfig) Validate() error {
	if c.QueueTimeoutMS <= 0 {
		return fmt.Errorf("config: toolClient.queueTimeoutMS must be positive")
	}
	if c.InvocationAttempts <= 0 {
		return fmt.Errorf("config: toolClient.invocationAttempts must be positive")
	}
	return nil
}

// ToolServerConfig is the [toolServer] section (spec §6).
type ToolServerConfig struct {
	ListenHost           string
	ListenPort           int
	ThreadCount          int
	ServerName           string
	HostsWhiteList       []string
	UseClientCompression bool
	CoordinatorHosts     []string
	CoordinatorPort      int
	SendInfoIntervalMS   int
	CompressionType      string
	CompressionLevel     int
}

// Validate checks the fields a server cannot safely run without.
func (c ToolServerConfig) Validate() error {
	if c.ListenPort <= 0 {
		return fmt.Errorf("config: toolServer.listenPort must be positive")
	}
	if c.ThreadCount <= 0 {
		return fmt.Errorf("config: toolServer.threadCount must be positive")
	}
	return nil
}

// CoordinatorConfig is the [coordinator] section (spec §6).
type CoordinatorConfig struct {
	ListenPort int
}

// Validate checks the fields a coordinator cannot safely run without.
func (c CoordinatorConfig) Validate() error {
	if c.ListenPort <= 0 {
		return fmt.Errorf("config: coordinator.listenPort must be positive")
	}
	return nil
}

// ProxyConfig is the [proxy] section (spec §6).
type ProxyConfig struct {
	ListenPort           int
	ToolId               string
	ThreadCount          int
	ProxyClientTimeoutMS int
	InactiveTimeoutMS    int
	StartCommand         string
}

// Validate checks the fields a proxy (server or client) cannot safely run without.
func (c ProxyConfig) Validate() error {
	if c.ListenPort <= 0 {
		return fmt.Errorf("config: proxy.listenPort must be positive")
	}
	if c.ToolId == "" {
		return fmt.Errorf("config: proxy.toolId is required")
	}
	return nil
}

// LoggingConfig is the logging key family (spec §6, shared across
// every component's section).
type LoggingConfig struct {
	LogLevel          string
	LogToFile         bool
	LogToCerr         bool
	LogToSyslog       bool
	LogDir            string
	OutputTimestamp   bool
	OutputTimeoffsets bool
}

// Config aggregates every section of the INI-style config file (spec
// §6) into one resolved tree, as produced by Load and mutated by
// ApplyOverrides.
type Config struct {
	Tools       ToolsConfig
	ToolClient  ToolClientConfig
	ToolServer  ToolServerConfig
	Coordinator CoordinatorConfig
	Proxy       ProxyConfig
	Logging     LoggingConfig
}

// Option mutates a Config, for programmatic construction (tests, cmd/
// binaries composing defaults with flags) alongside file-based Load.
type Option func(*Config)

// WithTools overrides the [tools] section.
func WithTools(t ToolsConfig) Option { return func(c *Config) { c.Tools = t } }

// WithToolClient overrides the [toolClient] section.
func WithToolClient(t ToolClientConfig) Option { return func(c *Config) { c.ToolClient = t } }

// WithToolServer overrides the [toolServer] section.
func WithToolServer(t ToolServerConfig) Option { return func(c *Config) { c.ToolServer = t } }

// WithCoordinator overrides the [coordinator] section.
func WithCoordinator(t CoordinatorConfig) Option { return func(c *Config) { c.Coordinator = t } }

// WithProxy overrides the [proxy] section.
func WithProxy(t ProxyConfig) Option { return func(c *Config) { c.Proxy = t } }

// WithLogging overrides the logging key family.
func WithLogging(t LoggingConfig) Option { return func(c *Config) { c.Logging = t } }

// Default returns a Config with the original project's documented
// defaults (queue_timeout ~90s worth of ms, 2 attempts, port 25050 for
// the coordinator dialect, 5s send-info interval).
func Default() Config {
	return Config{
		ToolClient: ToolClientConfig{
			InvocationAttempts: 2,
			QueueTimeoutMS:     90_000,
			RequestTimeoutMS:   10_000,
			CoordinatorPort:    25050,
			SendInfoIntervalMS: 5_000,
		},
		ToolServer: ToolServerConfig{
			ListenHost:         "*",
			ThreadCount:        4,
			CoordinatorPort:    25050,
			SendInfoIntervalMS: 5_000,
		},
		Coordinator: CoordinatorConfig{ListenPort: 25050},
		Proxy: ProxyConfig{
			ProxyClientTimeoutMS: int(5 * 60 * 1000),
			ThreadCount:          4,
		},
		Logging: LoggingConfig{LogLevel: "info", LogToCerr: true},
	}
}

// New applies opts over Default().
func New(opts ...Option) Config {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Validate runs every section's Validate, returning the first error.
func (c Config) Validate() error {
	if err := c.Tools.Validate(); err != nil {
		return err
	}
	if err := c.ToolClient.Validate(); err != nil {
		return err
	}
	if err := c.ToolServer.Validate(); err != nil {
		return err
	}
	if err := c.Coordinator.Validate(); err != nil {
		return err
	}
	if err := c.Proxy.Validate(); err != nil {
		return err
	}
	return nil
}
