package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/woly-io/woly/cnc/internal/api"
	"github.com/woly-io/woly/cnc/internal/auth"
	"github.com/woly-io/woly/cnc/internal/command"
	"github.com/woly-io/woly/cnc/internal/config"
	"github.com/woly-io/woly/cnc/internal/db"
	"github.com/woly-io/woly/cnc/internal/hostagg"
	"github.com/woly-io/woly/cnc/internal/metrics"
	"github.com/woly-io/woly/cnc/internal/nodemanager"
	"github.com/woly-io/woly/cnc/internal/repositories"
	"github.com/woly-io/woly/cnc/internal/scheduleworker"
	"github.com/woly-io/woly/cnc/internal/session"
	"github.com/woly-io/woly/cnc/internal/webhook"
	"github.com/woly-io/woly/shared/protocol"
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
		Use:   "woly-cnc",
		Short: "woly C&C — central wake-on-LAN control plane",
		Long: `woly-cnc is the central component of the woly wake-on-LAN system.
It accepts persistent connections from node agents, exposes a REST API for
operators, and evaluates wake schedules and webhook deliveries.`,
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
			fmt.Printf("woly-cnc %s (commit: %s, built: %s)\n", version, commit, date)
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

	logger.Info("starting woly-cnc",
		zap.String("version", version),
		zap.String("port", cfg.Port),
		zap.String("db_type", cfg.DBType),
		zap.String("log_level", logLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Encryption ---
	// Must run before opening the database so db.EncryptedString fields can
	// encrypt/decrypt transparently on read/write.
	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.SecretKey))
	if err := db.InitEncryption(keyBytes); err != nil {
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}

	// --- 2. Database ---
	gormDB, err := db.New(db.Config{
		Driver:   cfg.DBType,
		DSN:      cfg.DatabaseURL,
		Logger:   logger,
		LogLevel: gormLogLevel(logLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	// --- 3. Repositories ---
	nodeRepo := repositories.NewNodeRepository(gormDB)
	hostRepo := repositories.NewHostRepository(gormDB)
	commandRepo := repositories.NewCommandRepository(gormDB)
	scheduleRepo := repositories.NewWakeScheduleRepository(gormDB)
	webhookRepo := repositories.NewWebhookRepository(gormDB)
	deliveryRepo := repositories.NewWebhookDeliveryRepository(gormDB)

	// --- 4. Auth ---
	jwtManager, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, time.Duration(cfg.JWTTTLSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("failed to initialize JWT manager: %w", err)
	}
	authService := auth.NewService(auth.Allowlists{
		NodeTokens:     cfg.NodeAuthTokens,
		OperatorTokens: cfg.OperatorTokens,
		AdminTokens:    cfg.AdminTokens,
	}, jwtManager)

	sessionTokens, err := session.NewTokenIssuer(
		cfg.WSSessionTokenSecrets,
		cfg.WSSessionTokenIssuer,
		cfg.WSSessionTokenAudience,
		time.Duration(cfg.WSSessionTokenTTLSeconds)*time.Second,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize session token issuer: %w", err)
	}

	// --- 5. Metrics ---
	metricsRegistry := metrics.New()

	// --- 6. Node lifecycle, host projection, command router ---
	nodeMgr := nodemanager.New(nodeRepo, logger)

	hostAgg := hostagg.New(hostRepo, logger)
	if err := hostAgg.LoadAll(ctx); err != nil {
		return fmt.Errorf("failed to load host projection: %w", err)
	}

	cmdRouter := command.New(commandRepo, nodeMgr, command.Config{
		MaxRetries:        cfg.CommandMaxRetries,
		RetryBaseDelay:    cfg.CommandRetryBaseDelay,
		CommandTimeout:    cfg.CommandTimeout,
		OfflineCommandTTL: cfg.OfflineCommandTTL,
		SweepInterval:     5 * time.Second,
		RetentionDays:     cfg.CommandRetentionDays,
	}, metricsRegistry, logger)

	if err := cmdRouter.ReconcileOnStartup(ctx); err != nil {
		return fmt.Errorf("failed to reconcile commands on startup: %w", err)
	}
	go cmdRouter.Start(ctx)
	defer cmdRouter.Stop()

	// --- 7. Session manager ---
	// nodeMgr, hostAgg, and cmdRouter each implement a slice of session.Handler;
	// handler composes them into the single interface session.NewManager needs.
	// The circular dependency this creates (nodeMgr.Dispatch needs the session
	// manager that is about to be constructed from a handler built on nodeMgr)
	// is broken by SetSessionManager below.
	sessionMgr := session.NewManager(session.Config{
		MessageRateLimitPerSec: cfg.WSMessageRateLimitPerSec,
		MaxConnectionsPerIP:    cfg.WSMaxConnectionsPerIP,
		HeartbeatInterval:      cfg.NodeHeartbeatInterval,
		NodeTimeout:            cfg.NodeTimeout,
	}, handler{nodes: nodeMgr, hosts: hostAgg, commands: cmdRouter}, metricsRegistry, logger)
	nodeMgr.SetSessionManager(sessionMgr)
	sessionMgr.StartHeartbeatSweep()
	defer sessionMgr.StopHeartbeatSweep()

	// --- 8. Schedule worker ---
	if cfg.ScheduleWorkerEnabled {
		scheduleWorker, err := scheduleworker.New(scheduleworker.Config{
			PollInterval: cfg.SchedulePollInterval,
			BatchSize:    cfg.ScheduleBatchSize,
		}, scheduleRepo, hostAgg, nodeMgr, cmdRouter, logger)
		if err != nil {
			return fmt.Errorf("failed to create schedule worker: %w", err)
		}
		if err := scheduleWorker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start schedule worker: %w", err)
		}
		defer func() {
			if err := scheduleWorker.Stop(); err != nil {
				logger.Warn("schedule worker shutdown error", zap.Error(err))
			}
		}()
	} else {
		logger.Info("schedule worker disabled")
	}

	// --- 9. Webhook dispatcher ---
	// The dispatcher is constructed here but not passed to any other
	// component, so no lifecycle event is delivered to subscribers. The
	// router's webhook endpoints below manage subscriptions and list delivery
	// logs through the repositories only.
	_ = webhook.New(webhookRepo, deliveryRepo, webhook.Config{
		DeliveryTimeout: cfg.WebhookDeliveryTimeout,
		RetryBaseDelay:  cfg.WebhookRetryBaseDelay,
		MaxAttempts:     3,
	}, metricsRegistry, logger)

	// --- 10. HTTP server ---
	router := api.NewRouter(api.RouterConfig{
		Auth:                  authService,
		Sessions:              sessionMgr,
		Tokens:                sessionTokens,
		Nodes:                 nodeMgr,
		Hosts:                 hostAgg,
		Commands:              cmdRouter,
		DB:                    gormDB,
		Logger:                logger,
		NodeRepo:              nodeRepo,
		HostRepo:              hostRepo,
		CommandRepo:           commandRepo,
		ScheduleRepo:          scheduleRepo,
		WebhookRepo:           webhookRepo,
		DeliveryRepo:          deliveryRepo,
		WSAllowQueryTokenAuth: cfg.WSAllowQueryTokenAuth,
		CORSOrigins:           cfg.CORSOrigins,
	})

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down woly-cnc")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("woly-cnc stopped")
	return nil
}

// handler composes nodeManager, hostAggregator, and commandRouter into the
// single session.Handler the session manager dispatches to. Each method
// delegates to whichever component owns that event.
type handler struct {
	nodes    *nodemanager.Manager
	hosts    *hostagg.Aggregator
	commands *command.Router
}

func (h handler) OnRegister(conn *session.Conn, data protocol.RegisterData) error {
	return h.nodes.OnRegister(conn, data)
}

func (h handler) OnHeartbeat(conn *session.Conn, data protocol.HeartbeatData) {
	h.nodes.OnHeartbeat(conn, data)
}

func (h handler) OnHostDiscovered(conn *session.Conn, data protocol.HostEventData) {
	h.hosts.OnHostDiscovered(conn, data)
}

func (h handler) OnHostUpdated(conn *session.Conn, data protocol.HostEventData) {
	h.hosts.OnHostUpdated(conn, data)
}

func (h handler) OnHostRemoved(conn *session.Conn, data protocol.HostRemovedData) {
	h.hosts.OnHostRemoved(conn, data)
}

func (h handler) OnScanComplete(conn *session.Conn, data protocol.ScanCompleteData) {
	h.hosts.OnScanComplete(conn, data)
}

func (h handler) OnCommandResult(conn *session.Conn, data protocol.CommandResultData) {
	h.commands.OnCommandResult(conn, data)
}

func (h handler) OnDisconnect(location string) {
	h.nodes.OnDisconnect(location)
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
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
