// Package main provides the session broker binary: a websocket gateway in
// front of the matchmaking queues and the host-authoritative relay.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/skirmish/internal/broker"
	"github.com/cory-johannsen/skirmish/internal/config"
	"github.com/cory-johannsen/skirmish/internal/gateway"
	"github.com/cory-johannsen/skirmish/internal/observability"
	"github.com/cory-johannsen/skirmish/internal/server"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	modeDecls := cfg.Matchmaking.Modes
	if cfg.Matchmaking.CatalogPath != "" {
		modeDecls, err = broker.LoadCatalog(cfg.Matchmaking.CatalogPath)
		if err != nil {
			logger.Fatal("loading mode catalog", zap.Error(err))
		}
	}
	modes, err := broker.NewModeSet(modeDecls)
	if err != nil {
		logger.Fatal("building mode catalog", zap.Error(err))
	}
	logger.Info("mode catalog loaded", zap.String("modes", modes.String()))

	gw := gateway.NewServer(cfg.Server, cfg.Gateway, logger)
	b := broker.New(modes, gw, logger)
	gw.Attach(b)

	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("gateway", gw)

	if interval := cfg.Matchmaking.StatsInterval; interval > 0 {
		stop := make(chan struct{})
		lifecycle.Add("stats", &server.FuncService{
			StartFn: func() error {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						stats := b.Snapshot()
						logger.Info("broker stats",
							zap.Int("connections", gw.ClientCount()),
							zap.Int("waiting", stats.Waiting),
							zap.Int("rooms", stats.Rooms),
						)
					case <-stop:
						return nil
					}
				}
			},
			StopFn: func() { close(stop) },
		})
	}

	logger.Info("session broker initialized", zap.String("addr", cfg.Server.Addr()))

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
