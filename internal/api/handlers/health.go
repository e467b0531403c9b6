package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hamdanyasser/debug-battle-backend/internal/service"
	"github.com/hamdanyasser/debug-battle-backend/internal/store"
	"github.com/hamdanyasser/debug-battle-backend/pkg/database"
)

// HealthHandler 서비스 상태 점검
type HealthHandler struct {
	db    *database.DB
	store store.Store
	clock *service.Clock
}

func NewHealthHandler(db *database.DB, st store.Store, clock *service.Clock) *HealthHandler {
	return &HealthHandler{db: db, store: st, clock: clock}
}

// Health GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	checks := gin.H{
		"database":     "ok",
		"store":        "ok",
		"clock_synced": h.clock.IsSynced(),
	}
	healthy := true

	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	}
	if _, err := h.store.ServerTime(ctx); err != nil {
		checks["store"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status": overall,
		"time":   time.Now().UTC().Format(time.RFC3339),
		"checks": checks,
	})
}
