// Package main is the entry point for the woly node agent binary.
// It wires all internal packages together and starts the discovery and
// connection loops.
//
// Startup sequence:
//  1. Parse CLI flags / environment variables
//  2. Build logger
//  3. Open the local host database and run migrations
//  4. Build the discovery scanner and C&C client, wire them together
//  5. Build the node's own HTTP API
//  6. Start discovery, connection loop, and HTTP server concurrently
//  7. Block until SIGINT/SIGTERM, then graceful shutdown
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/woly-io/woly/node/internal/api"
	"github.com/woly-io/woly/node/internal/cncclient"
	"github.com/woly-io/woly/node/internal/config"
	"github.com/woly-io/woly/node/internal/discovery"
	"github.com/woly-io/woly/node/internal/localdb"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "woly-node",
		Short: "woly node agent — LAN discovery and wake-on-LAN executor",
		Long: `The woly node agent scans its local network for hosts, keeps a local
inventory, and maintains a persistent connection to the C&C service to
receive wake, scan, and host-management commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), logLevel)
		},
	}

	root.AddCommand(newVersionCmd())
	root.PersistentFlags().StringVar(&logLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("woly-node %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context, logLevel string) error {
	logger, err := buildLogger(logLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("starting woly node agent",
		zap.String("version", version),
		zap.String("server", cfg.ServerURL),
		zap.String("name", cfg.NodeName),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gormDB, err := localdb.Open(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open local database: %w", err)
	}
	hostRepo := localdb.NewHostRepository(gormDB)

	cncMgr, err := cncclient.New(cncclient.Config{
		ServerURL:            cfg.ServerURL,
		StaticToken:          cfg.StaticToken,
		SessionTokenURL:      cfg.SessionTokenURL,
		Name:                 cfg.NodeName,
		Location:             cfg.NodeLocation,
		Version:              version,
		StateDir:             cfg.StateDir,
		ReconnectInterval:    cfg.ReconnectIntervalMS,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, hostRepo, logger)
	if err != nil {
		return fmt.Errorf("failed to build cnc client: %w", err)
	}

	scanner := discovery.New(hostRepo, cncMgr, cfg.DiscoveryIntervalMS, logger)
	cncMgr.SetScanner(scanner)

	router := api.NewRouter(api.RouterConfig{
		Hosts:       hostRepo,
		Scanner:     scanner,
		Logger:      logger,
		APIKey:      cfg.APIKey,
		CORSOrigins: cfg.CORSOrigins,
		DevCORS:     cfg.DevCORS,
	})
	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go scanner.Run(ctx)
	go cncMgr.Run(ctx)
	go func() {
		logger.Info("node HTTP API listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}

	logger.Info("woly node agent stopped")
	return nil
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
