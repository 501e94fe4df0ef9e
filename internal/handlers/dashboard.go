package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/huangang/buildlog/internal/middleware"
	"github.com/huangang/buildlog/internal/services"
	"github.com/huangang/buildlog/pkg/response"
)

type DashboardHandler struct {
	dashboard *services.DashboardService
}

func NewDashboardHandler(core *services.Core) *DashboardHandler {
	return &DashboardHandler{dashboard: core.Dashboard}
}

// GetStats returns the caller's dashboard counters
// GET /api/dashboard
func (h *DashboardHandler) GetStats(c *gin.Context) {
	stats, err := h.dashboard.UserDashboard(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, stats)
}
