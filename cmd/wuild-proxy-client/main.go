// Command wuild-proxy-client is the drop-in compiler substitute (spec
// §2, §4.5): a build driver invokes it exactly where it would invoke
// the real compiler. It forwards the command line to a long-lived
// wuild-proxy daemon (starting one if cfg.Proxy.StartCommand is
// configured and none is reachable yet) and exits with the compiler's
// own exit-code convention.
package main

import (
	"fmt"
	"os"

	"github.com/wuild-project/wuild/config"
	"github.com/wuild-project/wuild/proxy"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	configPath := os.Getenv("WUILD_CONFIG")
	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := cfg.Proxy.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	serverAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Proxy.ListenPort)
	clientCfg := proxy.NewClientConfig(serverAddr, cfg.Proxy.ToolId,
		proxy.WithStartCommand(cfg.Proxy.StartCommand),
	)
	client := proxy.NewClient(clientCfg)
	if err := client.Start(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer client.Stop()

	return client.RunTask(args)
}

func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()
	return config.Load(f)
}
