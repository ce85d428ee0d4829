package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/nexus-storage-gateway/cmd/flags"
	"github.com/ruteri/nexus-storage-gateway/config"
	"github.com/ruteri/nexus-storage-gateway/dnslink"
	"github.com/ruteri/nexus-storage-gateway/httpserver"
	"github.com/ruteri/nexus-storage-gateway/interfaces"
	"github.com/ruteri/nexus-storage-gateway/kvstore"
	"github.com/ruteri/nexus-storage-gateway/registry"
	"github.com/ruteri/nexus-storage-gateway/storage"
	"github.com/ruteri/nexus-storage-gateway/upload"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "nexus-gateway",
		Usage: "Serve the content-addressed file catalogue over HTTP",
		Flags: append(append([]cli.Flag{}, flags.ServerFlags...), flags.LogFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := config.Load(cCtx.String(flags.ConfigFlag.Name))
			if err != nil {
				logger.Error("Failed to load configuration", "err", err)
				return err
			}
			applyFlagOverrides(cCtx, cfg)

			return run(cfg, logger)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func applyFlagOverrides(cCtx *cli.Context, cfg *config.Config) {
	if cCtx.IsSet(flags.ListenAddrFlag.Name) {
		cfg.Server.ListenAddr = cCtx.String(flags.ListenAddrFlag.Name)
	}
	if cCtx.IsSet(flags.MetricsAddrFlag.Name) {
		cfg.Server.MetricsAddr = cCtx.String(flags.MetricsAddrFlag.Name)
	}
	if cCtx.IsSet(flags.PprofFlag.Name) {
		cfg.Server.EnablePprof = cCtx.Bool(flags.PprofFlag.Name)
	}
	if cCtx.IsSet(flags.DrainSecondsFlag.Name) {
		cfg.Server.DrainDuration = time.Duration(cCtx.Int64(flags.DrainSecondsFlag.Name)) * time.Second
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	store, err := kvstore.NewStore(cfg.Persistence, logger)
	if err != nil {
		logger.Error("Failed to create persistence store", "err", err)
		return err
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	fileRegistry := registry.NewFileRegistry(store, logger)
	if err := fileRegistry.Load(ctx); err != nil {
		// A newer catalogue must not be overwritten by this binary.
		logger.Error("Failed to load file catalogue", "err", err, "store", store.Name())
		return err
	}
	if loadErr := fileRegistry.LastLoadError(); loadErr != nil {
		logger.Warn("Stored catalogue was unreadable, starting empty", "err", loadErr)
	}
	logger.Info("File catalogue loaded", "files", fileRegistry.Len(), "store", store.Name())

	gateway := storage.NewGatewayFromOptions(cfg.GatewayOptions(), logger)
	if err := gateway.Start(ctx); err != nil {
		if !errors.Is(err, interfaces.ErrNoBackendAvailable) {
			return fmt.Errorf("failed to start storage gateway: %w", err)
		}
		logger.Warn("Serving without a storage backend until retried", "err", err)
	}
	defer gateway.Stop()

	uploader := upload.NewUploader(gateway, fileRegistry, cfg.Uploads, logger)
	resolver := dnslink.NewResolver(cfg.DNSLink, logger)
	handler := httpserver.NewHandler(gateway, fileRegistry, uploader, resolver, logger)

	server, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               cfg.Server.ListenAddr,
		MetricsAddr:              cfg.Server.MetricsAddr,
		EnablePprof:              cfg.Server.EnablePprof,
		Log:                      logger,
		DrainDuration:            cfg.Server.DrainDuration,
		GracefulShutdownDuration: cfg.Server.GracefulShutdownDuration,
		ReadTimeout:              cfg.Server.ReadTimeout,
		WriteTimeout:             cfg.Server.WriteTimeout,
	}, handler)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	logger.Info("Starting server")
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	server.Drain()
	server.Shutdown()

	if err := fileRegistry.Persist(ctx); err != nil {
		logger.Error("Failed to persist file catalogue", "err", err)
	}
	logger.Info("Server shutdown complete")
	return nil
}
