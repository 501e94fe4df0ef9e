package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/huangang/buildlog/internal/services"
)

// HealthHandler reports the state of the store and the event channel.
type HealthHandler struct {
	db  *gorm.DB
	bus *services.EventBus
	hub *services.Hub
}

func NewHealthHandler(db *gorm.DB, bus *services.EventBus, hub *services.Hub) *HealthHandler {
	return &HealthHandler{db: db, bus: bus, hub: hub}
}

// CheckHealth returns 503 when the database cannot be reached.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := http.StatusOK

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
	}
	if dbStatus != "ok" {
		overall = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	eventMode := "none"
	if h.bus != nil {
		eventMode = h.bus.Mode
	}

	sseClients := 0
	if h.hub != nil {
		sseClients = h.hub.ClientCount()
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "buildlog",
		"components": gin.H{
			"database":    dbStatus,
			"events":      eventMode,
			"sse_clients": sseClients,
		},
	})
}
