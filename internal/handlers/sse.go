package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/huangang/buildlog/internal/middleware"
	"github.com/huangang/buildlog/internal/services"
	"github.com/huangang/buildlog/pkg/logger"
)

const sseHeartbeat = 25 * time.Second

// SSEHandler streams change notifications to browsers
type SSEHandler struct {
	hub    *services.Hub
	access *services.AccessService
}

func NewSSEHandler(hub *services.Hub, core *services.Core) *SSEHandler {
	return &SSEHandler{hub: hub, access: core.Access}
}

// StreamEvents subscribes the caller to their own scope, or to one project
// when ?project= names a project they can read.
// GET /api/events?project=<id|slug>
func (h *SSEHandler) StreamEvents(c *gin.Context) {
	userID := middleware.GetUserID(c)

	scopes := []string{services.UserScope(userID)}
	projectID := ""
	if ident := c.Query("project"); ident != "" {
		project, _, err := h.access.Resolve(c.Request.Context(), ident, userID)
		if err != nil {
			respondError(c, err)
			return
		}
		projectID = project.ID
		scopes = []string{services.ProjectScope(project.ID)}
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientID := uuid.New().String()
	events := h.hub.Subscribe(clientID, scopes...)
	defer h.hub.Unsubscribe(clientID)

	logger.Info().
		Str("client_id", clientID).
		Strs("scopes", scopes).
		Int("total", h.hub.ClientCount()).
		Msg("SSE client connected")

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			if projectID != "" && h.revoked(c.Request.Context(), projectID, userID, event) {
				logger.Info().Str("client_id", clientID).Str("project_id", projectID).Msg("SSE project access revoked")
				fmt.Fprint(w, "event: revoked\ndata: {}\n\n")
				c.Writer.Flush()
				return false
			}
			data, err := json.Marshal(event)
			if err != nil {
				logger.Error().Err(err).Msg("SSE marshal error")
				return true
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			c.Writer.Flush()
			return true
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			c.Writer.Flush()
			return true
		case <-c.Request.Context().Done():
			logger.Info().Str("client_id", clientID).Msg("SSE client disconnected")
			return false
		}
	})
}

// revoked re-checks read access when an event may have changed it: the
// caller's own membership or the project itself. Other events pass
// without a store read.
func (h *SSEHandler) revoked(ctx context.Context, projectID, userID string, event services.Event) bool {
	switch {
	case event.Type == services.EventProjectChanged:
	case event.Type == services.EventCollaboratorChanged && event.UserID == userID:
	default:
		return false
	}
	_, _, err := h.access.Resolve(ctx, projectID, userID)
	if err == nil {
		return false
	}
	// a store hiccup is not a revocation
	return services.KindOf(err) == services.KindNotFound || services.KindOf(err) == services.KindForbidden
}
