// Command wuild-coordinator runs the standalone fleet registry
// described in spec §4.2: tool servers push status to it, tool clients
// subscribe to the merged fleet view.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/wuild-project/wuild/config"
	"github.com/wuild-project/wuild/coordinator"
	"github.com/wuild-project/wuild/runtime/model"
	"github.com/wuild-project/wuild/runtime/sessionstore"
	"github.com/wuild-project/wuild/runtime/sessionstore/memory"
	sessionstoremongo "github.com/wuild-project/wuild/runtime/sessionstore/mongo"
	"github.com/wuild-project/wuild/runtime/telemetry"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("wuild-coordinator", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the INI config file")
	dumpConfig := fs.Bool("dump-config", false, "print the resolved config as TOML and exit")
	clusterRedisAddr := fs.String("cluster-redis-addr", "", "Redis address enabling multi-coordinator clustering (SPEC_FULL.md §B.2)")
	mongoURI := fs.String("mongo-uri", "", "MongoDB URI for session history (SPEC_FULL.md §B.3); empty uses the in-memory store")
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

	// Session history store (SPEC_FULL.md §B.3): Mongo-backed when
	// configured, otherwise the in-memory store. The coordinator's
	// registry only tracks the live fleet; this store is the home for
	// FrameToolServerSession accounting once a consumer reads it back.
	store, closeStore, err := openSessionStore(*mongoURI)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeStore()

	opts := []coordinator.Option{
		coordinator.WithListenAddr(fmt.Sprintf(":%d", cfg.Coordinator.ListenPort)),
		coordinator.WithLogger(logger),
		coordinator.WithMetrics(metrics),
		coordinator.WithSessionSink(sessionSink(store, logger)),
	}
	if *clusterRedisAddr != "" {
		opts = append(opts, coordinator.WithClustering(*clusterRedisAddr, ""))
	}

	coord := coordinator.New(coordinator.NewConfig(opts...))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := coord.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger.Info(ctx, "coordinator started", "component", "cmd", "listenPort", cfg.Coordinator.ListenPort)

	waitForSignal()
	coord.Stop()
	return 0
}

func openSessionStore(mongoURI string) (sessionstore.Store, func(), error) {
	if mongoURI == "" {
		return memory.New(), func() {}, nil
	}
	ctx := context.Background()
	client, err := mongo.Connect(options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, nil, fmt.Errorf("session store: connect: %w", err)
	}
	collection := client.Database("wuild").Collection("sessions")
	store := sessionstoremongo.New(collection)
	closeFn := func() { _ = client.Disconnect(ctx) }
	return store, closeFn, nil
}

// sessionSink adapts a sessionstore.Store into a coordinator.SessionSink:
// every reported session, finished or not, is upserted (SaveSession
// replaces an existing record with the same SessionId), so the latest
// in-progress counters are always what's queryable; EndedAt is only
// set once IsFinished arrives.
func sessionSink(store sessionstore.Store, logger telemetry.Logger) coordinator.SessionSink {
	return func(ctx context.Context, info model.ToolServerSessionInfo, finished bool) {
		rec := sessionstore.Record{
			SessionId: info.SessionId,
			ClientId:  info.ClientId,
			StartedAt: time.Now().Add(-time.Duration(info.ElapsedTimeNs)),
			Info:      info,
		}
		if finished {
			rec.EndedAt = time.Now()
		}
		if err := store.SaveSession(ctx, rec); err != nil {
			logger.Warn(ctx, "session save failed", "component", "cmd", "sessionId", info.SessionId, "error", err.Error())
		}
	}
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
	if err := cfg.Coordinator.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
