package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/woly-io/woly/node/internal/localdb"
)

// devOriginSuffixes are allowed in addition to RouterConfig.CORSOrigins when
// DevCORS is set, so the agent's local UI can be reached from a tunnel or
// preview deploy during development without listing every generated
// subdomain explicitly.
var devOriginSuffixes = []string{
	".ngrok-free.app",
	".netlify.app",
	".helios.kaonis.com",
}

// RouterConfig holds the dependencies for the node agent's own HTTP surface.
type RouterConfig struct {
	Hosts       localdb.HostRepository
	Scanner     scanner
	Logger      *zap.Logger
	APIKey      string
	CORSOrigins []string
	DevCORS     bool
}

// NewRouter builds the node agent's HTTP router: a small read-mostly view of
// the local host inventory plus on-demand wake and scan triggers.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowOriginFunc:  devOriginAllowed(cfg.DevCORS),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handleHealth)

	hosts := newHostHandler(cfg.Hosts, cfg.Scanner, cfg.Logger)

	r.Group(func(r chi.Router) {
		r.Use(requireAPIKey(cfg.APIKey))

		r.Get("/hosts", hosts.list)
		r.Get("/hosts/{name}", hosts.getByName)
		r.Post("/hosts/wakeup/{name}", hosts.wakeup)
		r.Post("/hosts/scan", hosts.scan)
		r.Get("/hosts/mac-vendor/{mac}", hosts.macVendor)
	})

	return r
}

// devOriginAllowed returns a cors.Options.AllowOriginFunc matching the
// development-hosting suffixes when enabled, nil otherwise so the static
// AllowedOrigins list is the only source of truth in production.
func devOriginAllowed(enabled bool) func(r *http.Request, origin string) bool {
	if !enabled {
		return nil
	}
	return func(r *http.Request, origin string) bool {
		for _, suffix := range devOriginSuffixes {
			if strings.HasSuffix(origin, suffix) {
				return true
			}
		}
		return false
	}
}
