// Command wuild-proxy runs the tool proxy daemon (spec §4.5): it
// accepts raw local invocations from wuild-proxy-client, preprocesses
// locally, and either compiles locally or dispatches the compile step
// to the remote tool-server fleet through a toolclient.Client, exactly
// as proxy.Server decides per request.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wuild-project/wuild/config"
	"github.com/wuild-project/wuild/executor"
	"github.com/wuild-project/wuild/proxy"
	"github.com/wuild-project/wuild/runtime/coordinatorclient"
	"github.com/wuild-project/wuild/runtime/invocation"
	"github.com/wuild-project/wuild/runtime/model"
	"github.com/wuild-project/wuild/runtime/telemetry"
	"github.com/wuild-project/wuild/runtime/toolclient"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("wuild-proxy", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the INI config file")
	dumpConfig := fs.Bool("dump-config", false, "print the resolved config as TOML and exit")
	lang := fs.String("lang", "c++", "source language hint passed to invocation splitting")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath, fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if *dumpConfig {
		out, err := config.DumpTOML(cfg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Print(out)
		return 0
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	bindings, configuredTools := toolBindings(cfg.Tools)
	versions := invocation.NewVersionChecker().DetermineToolVersions(context.Background(), configuredTools)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rcClient *toolclient.Client
	if len(cfg.ToolClient.CoordinatorHosts) > 0 {
		requiredIds := cfg.Tools.ToolIds
		clientCfg := toolclient.NewConfig(fmt.Sprintf("proxy-%d", os.Getpid()),
			toolclient.WithQueueTimeout(time.Duration(cfg.ToolClient.QueueTimeoutMS)*time.Millisecond),
			toolclient.WithInvocationAttempts(cfg.ToolClient.InvocationAttempts),
			toolclient.WithLogger(logger),
			toolclient.WithMetrics(metrics),
		)
		rcClient = toolclient.New(clientCfg, requiredIds, versions)
		rcClient.Start(ctx)

		coordClient := coordinatorclient.New(func(info model.CoordinatorInfo) {
			rcClient.OnFleetUpdate(ctx, info)
		}, coordinatorclient.WithLogger(logger))
		if err := coordClient.Connect(ctx, cfg.ToolClient.CoordinatorHosts, uint16(cfg.ToolClient.CoordinatorPort)); err != nil {
			logger.Warn(ctx, "coordinator connect failed", "component", "cmd", "error", err.Error())
		}
	}

	execCfg := executor.NewConfig(os.TempDir(), cfg.Proxy.ThreadCount,
		executor.WithLogger(logger),
		executor.WithMetrics(metrics),
	)
	exec := executor.New(execCfg)

	serverCfg := proxy.NewServerConfig(fmt.Sprintf(":%d", cfg.Proxy.ListenPort), cfg.Proxy.ThreadCount,
		proxy.WithLang(*lang),
		proxy.WithInactiveTimeout(time.Duration(cfg.Proxy.InactiveTimeoutMS)*time.Millisecond),
		proxy.WithServerLogger(logger),
		proxy.WithServerMetrics(metrics),
	)

	srv := proxy.New(serverCfg, bindings, exec, rcClient)

	onInactive := func() {
		logger.Info(ctx, "proxy server idle, shutting down", "component", "cmd")
		cancel()
	}
	if err := srv.Start(ctx, onInactive); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger.Info(ctx, "proxy server started", "component", "cmd", "listenPort", cfg.Proxy.ListenPort)

	waitForSignalOrDone(ctx)
	srv.Stop()
	if rcClient != nil {
		rcClient.Stop()
	}
	return 0
}

func toolBindings(tools config.ToolsConfig) ([]proxy.ToolBinding, []invocation.ConfiguredTool) {
	bindings := make([]proxy.ToolBinding, 0, len(tools.ToolIds))
	configured := make([]invocation.ConfiguredTool, 0, len(tools.ToolIds))
	for _, id := range tools.ToolIds {
		t := tools.Tools[id]
		path := firstExisting(t.Executables)
		bindings = append(bindings, proxy.ToolBinding{ToolId: id, ExecutablePath: path})
		pinned := t.Version
		if tools.DisableVersionChecks {
			pinned = invocation.NoCheckVersion
		}
		configured = append(configured, invocation.ConfiguredTool{
			ToolId:         id,
			ExecutablePath: path,
			PinnedVersion:  pinned,
		})
	}
	return bindings, configured
}

func firstExisting(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) > 0 {
		return paths[0]
	}
	return ""
}

func loadConfig(path string, cliArgs []string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return config.Config{}, fmt.Errorf("open config %q: %w", path, err)
		}
		defer f.Close()
		cfg, err = config.Load(f)
		if err != nil {
			return config.Config{}, err
		}
	}
	if err := config.ApplyOverrides(&cfg, cliArgs); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Proxy.Validate(); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Tools.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func waitForSignalOrDone(ctx context.Context) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ch:
	case <-ctx.Done():
	}
}
