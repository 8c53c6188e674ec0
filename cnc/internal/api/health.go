package api

import (
	"net/http"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/woly-io/woly/cnc/internal/db"
)

// HealthHandler reports process and dependency health for load balancers and
// orchestrators.
type HealthHandler struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(database *gorm.DB, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: database, logger: logger.Named("health_handler")}
}

type healthResponse struct {
	Status string `json:"status"`
}

// Live handles GET /health. It never touches the database: a process that
// can still answer HTTP is alive, even if its database connection is down.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	Ok(w, healthResponse{Status: "ok"})
}

// Ready handles GET /ready. Unlike Live, this checks the database connection,
// since a node or operator request that reaches a handler needing storage
// will fail regardless of how healthy the process otherwise looks.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := db.Ping(r.Context(), h.db); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		ErrServiceUnavailable(w, "database unavailable")
		return
	}
	Ok(w, healthResponse{Status: "ok"})
}
