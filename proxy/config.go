// Package proxy implements the tool proxy daemon and its client (spec
// §4.5 external contract, spec §2): a synchronous, drop-in compiler
// substitute. The proxy client is invoked wherever the build driver
// would invoke the real compiler; it forwards the raw command line to
// a long-lived local proxy server (lazily started on first use), which
// preprocesses locally, then either submits the compile remotely
// through a remote tool client or falls back to a local compile when
// no remote capacity is free.
//
// Grounded in original_source/Modules/ToolProxy/{ToolProxyServer,
// ToolProxyClient,ToolProxyFrames}.{h,cpp}.
package proxy

import (
	"time"

	"github.com/wuild-project/wuild/runtime/telemetry"
	"github.com/wuild-project/wuild/runtime/transport"
)

// ServerConfig configures a Server.
type ServerConfig struct {
	ListenAddr      string
	ThreadCount     int
	Lang            string
	TempPath        string
	InactiveTimeout time.Duration
	Settings        transport.Settings
	Logger          telemetry.Logger
	Metrics         telemetry.Metrics
}

// ServerOption mutates a ServerConfig.
type ServerOption func(*ServerConfig)

// WithServerLogger injects a structured logger.
func WithServerLogger(l telemetry.Logger) ServerOption { return func(c *ServerConfig) { c.Logger = l } }

// WithServerMetrics injects a metrics recorder.
func WithServerMetrics(m telemetry.Metrics) ServerOption {
	return func(c *ServerConfig) { c.Metrics = m }
}

// WithLang overrides the default source language hint passed to
// runtime/invocation.SplitInvocation for GCC/Clang compiles.
func WithLang(lang string) ServerOption { return func(c *ServerConfig) { c.Lang = lang } }

// WithInactiveTimeout overrides the idle-shutdown deadline (spec §6
// inactiveTimeoutMS): the server exits once no job has been running or
// finished for this long.
func WithInactiveTimeout(d time.Duration) ServerOption {
	return func(c *ServerConfig) { c.InactiveTimeout = d }
}

// WithServerSettings overrides the transport settings used for
// incoming connections.
func WithServerSettings(s transport.Settings) ServerOption {
	return func(c *ServerConfig) { c.Settings = s }
}

// DefaultServerConfig matches the original ToolProxyServerConfig's
// defaults: inactive_timeout disabled unless configured, thread count
// matching host concurrency is left to the caller (spec §6 threadCount).
func DefaultServerConfig(listenAddr string, threadCount int) ServerConfig {
	return ServerConfig{
		ListenAddr:  listenAddr,
		ThreadCount: threadCount,
		Settings:    transport.DefaultSettings(),
		Logger:      telemetry.NewNoopLogger(),
		Metrics:     telemetry.NewNoopMetrics(),
	}
}

// NewServerConfig applies opts over DefaultServerConfig.
func NewServerConfig(listenAddr string, threadCount int, opts ...ServerOption) ServerConfig {
	cfg := DefaultServerConfig(listenAddr, threadCount)
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ClientConfig configures a Client.
type ClientConfig struct {
	ServerAddr         string
	ToolId             string
	ProxyClientTimeout time.Duration
	ConnectionTimeout  time.Duration
	StartCommand       string
	Settings           transport.Settings
	Logger             telemetry.Logger
}

// ClientOption mutates a ClientConfig.
type ClientOption func(*ClientConfig)

// WithClientLogger injects a structured logger.
func WithClientLogger(l telemetry.Logger) ClientOption { return func(c *ClientConfig) { c.Logger = l } }

// WithStartCommand overrides the command used to lazily launch the
// proxy server when the initial dial fails (spec §6 startCommand).
func WithStartCommand(cmd string) ClientOption { return func(c *ClientConfig) { c.StartCommand = cmd } }

// WithConnectionTimeout overrides how long Start waits for the proxy
// server to accept a connection, both before and after attempting
// StartCommand.
func WithConnectionTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.ConnectionTimeout = d }
}

// WithProxyClientTimeout overrides the per-request reply deadline
// (spec §6 proxyClientTimeoutMS).
func WithProxyClientTimeout(d time.Duration) ClientOption {
	return func(c *ClientConfig) { c.ProxyClientTimeout = d }
}

// WithClientSettings overrides the transport settings used to dial the
// proxy server.
func WithClientSettings(s transport.Settings) ClientOption {
	return func(c *ClientConfig) { c.Settings = s }
}

// DefaultClientConfig matches the original ToolProxyClientConfig's
// defaults: a generous connection wait (the server may need to cold
// start) and a long per-task timeout (a remote compile plus its queue
// wait can run for minutes).
func DefaultClientConfig(serverAddr, toolId string) ClientConfig {
	return ClientConfig{
		ServerAddr:         serverAddr,
		ToolId:             toolId,
		ProxyClientTimeout: 5 * time.Minute,
		ConnectionTimeout:  5 * time.Second,
		Settings:           transport.DefaultSettings(),
		Logger:             telemetry.NewNoopLogger(),
	}
}

// NewClientConfig applies opts over DefaultClientConfig.
func NewClientConfig(serverAddr, toolId string, opts ...ClientOption) ClientConfig {
	cfg := DefaultClientConfig(serverAddr, toolId)
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
