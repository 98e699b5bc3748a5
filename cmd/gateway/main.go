package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/shuttlegw/gateway/internal/config"
	"github.com/shuttlegw/gateway/internal/logging"
	"github.com/shuttlegw/gateway/internal/metrics"
	"github.com/shuttlegw/gateway/internal/persistence"
	"github.com/shuttlegw/gateway/internal/shuttle"
	"github.com/shuttlegw/gateway/internal/statusapi"
	"github.com/shuttlegw/gateway/internal/wms"
)

const gatewayVersion = "1.0.0"

var configPath = flag.String("config", "", "path to a YAML gateway config file; falls back to environment variables")

// Startup order resolved: load config, init logging, build the Gateway,
// restore persisted state before the Listener/Scheduler start (so a
// restarted gateway never treats a shuttle as UNKNOWN ahead of its first
// heartbeat if Redis already knows better), then bring up the ambient
// services (metrics, status API, WMS poller) alongside the core Run loop.
func main() {
	logFlags := logging.RegisterFlags()
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logFlags.ToConfig()
	if logCfg.Level == slog.LevelInfo && cfg.Logging.Level != "" {
		logCfg.Level = logging.ParseLevel(cfg.Logging.Level)
	}
	logger := logging.Init(logCfg)
	metrics.SetBuildInfo(gatewayVersion)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := shuttle.New(cfg, logger)

	var store *persistence.Store
	if cfg.Redis.Host != "" {
		store, err = persistence.NewStore(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to redis, continuing without persistence", slog.Any("error", err))
			store = nil
		}
	}

	if store != nil {
		states := make(map[string]*shuttle.State, len(gw.Handles))
		for id, h := range gw.Handles {
			states[id] = h.State
		}
		if _, err := persistence.Restore(ctx, store, states, logger); err != nil {
			logger.Error("failed to restore persisted state", slog.Any("error", err))
		}
		defer store.Close()
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error { return gw.Run(ctx) })

	if cfg.Metrics.Enabled {
		eg.Go(func() error { return metrics.Serve(ctx, fmt.Sprintf(":%d", cfg.Metrics.Port)) })
	}

	statusSrv := statusapi.NewServer(gw.Dispatcher, logger)
	eg.Go(func() error { return statusSrv.Serve(ctx, fmt.Sprintf(":%d", cfg.StatusAPIPort)) })

	if store != nil {
		eg.Go(func() error {
			return persistence.RunSnapshotLoop(ctx, store, gw.Dispatcher, cfg.SnapshotInterval, logger)
		})
	}

	if cfg.WMS.APIURL != "" {
		wmsClient := wms.NewClient(cfg.WMS)
		integration := wms.NewIntegration(wmsClient, gw.Dispatcher, cfg.WMS.PollInterval, logger)
		eg.Go(func() error { return integration.Run(ctx) })
	}

	logger.Info("shuttle gateway starting",
		slog.Int("shuttles", len(gw.Handles)),
		slog.Int("listener_port", cfg.ShuttleListenerPort),
		slog.Int("status_api_port", cfg.StatusAPIPort))

	if err := eg.Wait(); err != nil && ctx.Err() == nil {
		log.Fatalf("shuttle gateway exited with error: %v", err)
	}
	logger.Info("shuttle gateway stopped")
}
