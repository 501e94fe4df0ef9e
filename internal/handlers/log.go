package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/huangang/buildlog/internal/middleware"
	"github.com/huangang/buildlog/internal/services"
	"github.com/huangang/buildlog/pkg/response"
)

type LogHandler struct {
	logs *services.LogService
}

func NewLogHandler(core *services.Core) *LogHandler {
	return &LogHandler{logs: core.Logs}
}

// List returns the project's timeline
// GET /api/projects/:id/logs
func (h *LogHandler) List(c *gin.Context) {
	var q services.LogQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	page, err := h.logs.ListLogs(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), q)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, page)
}

// Create appends a log entry
// POST /api/projects/:id/logs
func (h *LogHandler) Create(c *gin.Context) {
	var req services.CreateLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	entry, err := h.logs.CreateLog(c.Request.Context(), c.Param("id"), &req, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Created(c, entry)
}
