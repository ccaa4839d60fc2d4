package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleINI = `
; compiler bindings
[tools]
toolIds = gcc, clang
gcc = /usr/bin/gcc, /usr/bin/cc
gcc_type = gcc
gcc_version = 1.2.3
clang = /usr/bin/clang
clang_type = clang

[toolClient]
invocationAttempts = 3
queueTimeoutMS = 60000
coordinatorHosts = coord1.local, coord2.local
coordinatorPort = 25051

[toolServer]
listenPort = 25052
threadCount = 8
hostsWhiteList = 10.0.0.0/8

[coordinator]
listenPort = 25050

[proxy]
listenPort = 25060
toolId = gcc
inactiveTimeoutMS = 120000

[logging]
logLevel = debug
logToFile = true
`

func TestLoadResolvesEverySection(t *testing.T) {
	cfg, err := Load(strings.NewReader(sampleINI))
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"gcc", "clang"}, cfg.Tools.ToolIds)
	gcc := cfg.Tools.Tools["gcc"]
	assert.Equal(t, []string{"/usr/bin/gcc", "/usr/bin/cc"}, gcc.Executables)
	assert.Equal(t, "gcc", gcc.Type)
	assert.Equal(t, "1.2.3", gcc.Version)

	assert.Equal(t, 3, cfg.ToolClient.InvocationAttempts)
	assert.Equal(t, 60000, cfg.ToolClient.QueueTimeoutMS)
	assert.Equal(t, []string{"coord1.local", "coord2.local"}, cfg.ToolClient.CoordinatorHosts)
	assert.Equal(t, 25051, cfg.ToolClient.CoordinatorPort)

	assert.Equal(t, 25052, cfg.ToolServer.ListenPort)
	assert.Equal(t, 8, cfg.ToolServer.ThreadCount)

	assert.Equal(t, 25050, cfg.Coordinator.ListenPort)

	assert.Equal(t, 25060, cfg.Proxy.ListenPort)
	assert.Equal(t, "gcc", cfg.Proxy.ToolId)
	assert.Equal(t, 120000, cfg.Proxy.InactiveTimeoutMS)

	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.True(t, cfg.Logging.LogToFile)

	require.NoError(t, cfg.Validate())
}

func TestLoadOmittedSectionKeepsDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader("[coordinator]\nlistenPort = 9999\n"))
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Coordinator.ListenPort)
	assert.Equal(t, Default().ToolClient, cfg.ToolClient)
}

func TestParseINIRejectsKeyOutsideSection(t *testing.T) {
	_, err := parseINI(strings.NewReader("key = value\n"))
	require.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	cfg := New()
	err := ApplyOverrides(&cfg, []string{
		"--wuild-toolClient-queueTimeoutMS=45000",
		"--wuild-proxy-toolId=clang",
		"--irrelevant-flag=ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, 45000, cfg.ToolClient.QueueTimeoutMS)
	assert.Equal(t, "clang", cfg.Proxy.ToolId)
}

func TestApplyOverridesRejectsUnknownKey(t *testing.T) {
	cfg := New()
	err := ApplyOverrides(&cfg, []string{"--wuild-proxy-bogus=1"})
	require.Error(t, err)
}

func TestValidateCatchesToolIdsMismatch(t *testing.T) {
	cfg := New(WithTools(ToolsConfig{ToolIds: []string{"gcc"}, Tools: map[string]ToolConfig{}}))
	require.Error(t, cfg.Validate())
}

func TestDumpTOMLRoundTripsReadableText(t *testing.T) {
	cfg := New(WithProxy(ProxyConfig{ListenPort: 25060, ToolId: "gcc", ThreadCount: 4}))
	out, err := DumpTOML(cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "ToolId")
	assert.Contains(t, out, "gcc")
}
