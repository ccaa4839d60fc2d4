// Command wuild-toolserver runs the remote tool server described in
// spec §4.4: it accepts ToolRequest frames from tool clients, executes
// them locally, and publishes its fleet status to the configured
// coordinators.
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
	"github.com/wuild-project/wuild/runtime/invocation"
	"github.com/wuild-project/wuild/runtime/telemetry"
	"github.com/wuild-project/wuild/toolserver"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("wuild-toolserver", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the INI config file")
	dumpConfig := fs.Bool("dump-config", false, "print the resolved config as TOML and exit")
	serverId := fs.String("server-id", "", "override this server's fleet identity")
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

	id := cfg.ToolServer.ServerName
	if *serverId != "" {
		id = *serverId
	}
	if id == "" {
		id, _ = os.Hostname()
	}

	bindings, configuredTools := toolBindings(cfg.Tools)
	versions := invocation.NewVersionChecker().DetermineToolVersions(context.Background(), configuredTools)

	listenAddr := fmt.Sprintf("%s:%d", listenHost(cfg.ToolServer.ListenHost), cfg.ToolServer.ListenPort)
	serverCfg := toolserver.NewConfig(id, listenAddr, cfg.ToolServer.ThreadCount,
		toolserver.WithHostsWhiteList(cfg.ToolServer.HostsWhiteList),
		toolserver.WithCoordinators(cfg.ToolServer.CoordinatorHosts, uint16(cfg.ToolServer.CoordinatorPort)),
		toolserver.WithSendInfoInterval(time.Duration(cfg.ToolServer.SendInfoIntervalMS)*time.Millisecond),
		toolserver.WithLogger(logger),
		toolserver.WithMetrics(metrics),
	)

	execCfg := executor.NewConfig(os.TempDir(), cfg.ToolServer.ThreadCount,
		executor.WithLogger(logger),
		executor.WithMetrics(metrics),
	)
	exec := executor.New(execCfg)

	srv := toolserver.New(serverCfg, bindings, exec, versions)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger.Info(ctx, "tool server started", "component", "cmd", "listenAddr", listenAddr, "serverId", id)

	waitForSignal()
	srv.Stop()
	return 0
}

func listenHost(h string) string {
	if h == "" || h == "*" {
		return ""
	}
	return h
}

// toolBindings translates config.ToolsConfig's id->executables lists
// into the single bound executable each toolserver.ToolBinding and
// invocation.ConfiguredTool needs: the first configured path for each
// tool id that exists on disk (or the first configured path when none
// does), matching the original's "first existing path wins" probe
// order.
func toolBindings(tools config.ToolsConfig) ([]toolserver.ToolBinding, []invocation.ConfiguredTool) {
	bindings := make([]toolserver.ToolBinding, 0, len(tools.ToolIds))
	configured := make([]invocation.ConfiguredTool, 0, len(tools.ToolIds))
	for _, id := range tools.ToolIds {
		t := tools.Tools[id]
		path := firstExisting(t.Executables)
		bindings = append(bindings, toolserver.ToolBinding{ToolId: id, ExecutablePath: path})
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
	if err := cfg.Tools.Validate(); err != nil {
		return config.Config{}, err
	}
	if err := cfg.ToolServer.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
