// Command storaged serves the node agent's storage manager over HTTP.
//
// Backends and the routing policy come from a YAML file (see package config):
//
//	storaged --config /etc/node-agent/storage.yaml --listen-addr 0.0.0.0:8080
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/node-storage/cmd/flags"
	"github.com/ruteri/node-storage/common"
	"github.com/ruteri/node-storage/config"
	"github.com/ruteri/node-storage/httpserver"
	"github.com/ruteri/node-storage/interfaces"
	"github.com/ruteri/node-storage/manager"
	"github.com/ruteri/node-storage/metrics"
	"github.com/ruteri/node-storage/registry"
	"github.com/urfave/cli/v2"
)

// startupTimeout bounds backend construction, including networked retries.
const startupTimeout = time.Minute

func main() {
	app := &cli.App{
		Name:    "storaged",
		Usage:   "Serve the node agent storage API",
		Version: common.Version,
		Flags:   append(append([]cli.Flag{}, flags.ServerFlags...), flags.LogFlags...),
		Action:  run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	serverCfg := flags.ConfigureServer(cCtx, logger)

	cfg, err := config.Load(cCtx.String(flags.ConfigFlag.Name))
	if err != nil {
		logger.Error("Failed to load configuration", "err", err)
		return err
	}

	metricsSrv, err := metrics.New(common.PackageName, serverCfg.MetricsAddr)
	if err != nil {
		logger.Error("Failed to create metrics server", "err", err)
		return err
	}
	sink, err := metrics.NewPrometheusSink(metricsSrv.Registry(), metricsSrv.Namespace())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cCtx.Context, startupTimeout)
	defer cancel()
	mgr, err := buildManager(ctx, cfg, sink, logger)
	if err != nil {
		logger.Error("Failed to initialize storage", "err", err)
		return err
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Error("Failed to close storage backends", "err", err)
		}
	}()

	if err := metricsSrv.Registry().Register(metrics.NewSnapshotCollector(common.PackageName, mgr.Metrics)); err != nil {
		return err
	}

	server, err := httpserver.New(serverCfg, httpserver.NewHandler(mgr, logger), metricsSrv)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	logger.Info("Starting server", "policy", mgr.Policy().String(), "backends", len(mgr.ListBackends()))
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

// buildManager creates every configured backend through the default plugin
// registry. Any backend failing to initialize aborts startup.
func buildManager(ctx context.Context, cfg *config.Config, sink *metrics.PrometheusSink, logger *slog.Logger) (*manager.Manager, error) {
	policy, err := cfg.Policy.StoragePolicy()
	if err != nil {
		return nil, err
	}
	named, err := cfg.NamedBackends()
	if err != nil {
		return nil, err
	}

	mgr, err := manager.New(registry.NewDefaultRegistry(logger), logger,
		manager.WithPolicy(policy),
		manager.WithMetricsSink(sink),
	)
	if err != nil {
		return nil, err
	}

	for _, nb := range named {
		if err := mgr.AddBackend(ctx, nb); err != nil {
			mgr.Close()
			return nil, fmt.Errorf("initializing storage: %w", err)
		}
	}

	for _, name := range policy.Names() {
		if !mgr.HasBackend(name) {
			mgr.Close()
			return nil, fmt.Errorf("%w: policy references unconfigured backend %q", interfaces.ErrInvalidConfig, name)
		}
	}
	return mgr, nil
}
