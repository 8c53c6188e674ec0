package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/woly-io/woly/cnc/internal/auth"
	"github.com/woly-io/woly/cnc/internal/command"
	"github.com/woly-io/woly/cnc/internal/hostagg"
	"github.com/woly-io/woly/cnc/internal/nodemanager"
	"github.com/woly-io/woly/cnc/internal/repositories"
	"github.com/woly-io/woly/cnc/internal/session"
)

// RouterConfig holds all dependencies needed to build the HTTP router. It is
// populated in main.go after all components are initialized and passed to
// NewRouter as a single struct to keep the constructor signature manageable
// as the number of dependencies grows.
type RouterConfig struct {
	Auth     *auth.Service
	Sessions *session.Manager
	Tokens   *session.TokenIssuer
	Nodes    *nodemanager.Manager
	Hosts    *hostagg.Aggregator
	Commands *command.Router
	DB       *gorm.DB
	Logger   *zap.Logger

	NodeRepo     repositories.NodeRepository
	HostRepo     repositories.HostRepository
	CommandRepo  repositories.CommandRepository
	ScheduleRepo repositories.WakeScheduleRepository
	WebhookRepo  repositories.WebhookRepository
	DeliveryRepo repositories.WebhookDeliveryRepository

	WSAllowQueryTokenAuth bool
	CORSOrigins           []string
}

// NewRouter builds and returns the fully configured Chi router. REST
// resources live under /api; the node WebSocket upgrade, health checks, and
// metrics are mounted at the root since they are not part of the resource
// model.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "If-None-Match", "Idempotency-Key"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	authHandler := NewAuthHandler(cfg.Auth, cfg.Logger)
	nodeHandler := NewNodeHandler(cfg.Nodes, cfg.Hosts, cfg.NodeRepo, cfg.Logger)
	hostHandler := NewHostHandler(cfg.Hosts, cfg.HostRepo, cfg.CommandRepo, cfg.Nodes, cfg.Commands, cfg.Logger)
	scheduleHandler := NewWakeScheduleHandler(cfg.ScheduleRepo, cfg.Logger)
	webhookHandler := NewWebhookHandler(cfg.WebhookRepo, cfg.DeliveryRepo, cfg.Logger)
	adminHandler := NewAdminHandler(cfg.NodeRepo, cfg.CommandRepo, cfg.WebhookRepo, cfg.DeliveryRepo, cfg.Logger)
	healthHandler := NewHealthHandler(cfg.DB, cfg.Logger)
	wsHandler := NewWSHandler(cfg.Sessions, cfg.Tokens, cfg.Auth.Allowlists().NodeTokens, cfg.WSAllowQueryTokenAuth, cfg.Logger)

	jwtMgr := cfg.Auth.JWTManager()
	operatorOrAdmin := RequireAnyRole("operator", "admin")

	// --- Root-level, unauthenticated surface ---
	r.Get("/health", healthHandler.Live)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		Ok(w, healthResponse{Status: "ok"})
	})
	r.Get("/ws", wsHandler.ServeWS)

	r.Route("/api", func(r chi.Router) {
		// Token exchange is public but tightly rate-limited: it is the only
		// endpoint an attacker can hit without already holding a credential.
		r.With(RateLimit(5, 15*time.Minute)).Post("/auth/token", authHandler.Exchange)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(jwtMgr))
			r.Use(RateLimit(120, time.Minute))

			r.Group(func(r chi.Router) {
				r.Use(operatorOrAdmin)

				r.Get("/capabilities", Capabilities)

				r.Get("/nodes", nodeHandler.List)
				r.Get("/nodes/{id}", nodeHandler.GetByID)
				r.Get("/nodes/{id}/health", nodeHandler.Health)

				r.Get("/hosts", hostHandler.List)
				r.Get("/hosts/{fqn}", hostHandler.GetByFQN)
				r.Put("/hosts/{fqn}", hostHandler.Update)
				r.Delete("/hosts/{fqn}", hostHandler.Delete)
				r.Get("/hosts/{fqn}/history", hostHandler.History)
				r.Get("/hosts/{fqn}/uptime", hostHandler.Uptime)
				r.Get("/hosts/{fqn}/schedules", scheduleHandler.ListByHost)
				r.Get("/hosts/ping/{fqn}", hostHandler.Ping)
				r.Get("/hosts/ports/{fqn}", hostHandler.Ports)
				r.Get("/hosts/scan-ports/{fqn}", hostHandler.ScanPorts)
				r.With(RateLimit(10, time.Minute)).Post("/hosts/scan", hostHandler.Scan)
				r.Post("/hosts/wakeup/{fqn}", hostHandler.Wakeup)

				r.Get("/schedules", scheduleHandler.List)
				r.Post("/schedules", scheduleHandler.Create)
				r.Get("/schedules/{id}", scheduleHandler.GetByID)
				r.Put("/schedules/{id}", scheduleHandler.Update)
				r.Delete("/schedules/{id}", scheduleHandler.Delete)

				r.Get("/webhooks", webhookHandler.List)
				r.Post("/webhooks", webhookHandler.Create)
				r.Get("/webhooks/{id}", webhookHandler.GetByID)
				r.Delete("/webhooks/{id}", webhookHandler.Delete)
				r.Get("/webhooks/{id}/deliveries", webhookHandler.ListDeliveries)
			})

			r.Group(func(r chi.Router) {
				r.Use(RequireRole("admin"))

				r.Delete("/admin/nodes/{id}", nodeHandler.Delete)
				r.Get("/admin/stats", adminHandler.Stats)
				r.Get("/admin/commands", adminHandler.ListCommands)
			})
		})
	})

	return r
}
