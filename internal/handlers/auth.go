package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/huangang/buildlog/internal/services"
	"github.com/huangang/buildlog/pkg/response"
)

// AuthHandler exposes the caller's own user record. Sign-in happens at the
// identity provider; tokens arrive already issued.
type AuthHandler struct {
	identity *services.IdentityService
}

func NewAuthHandler(core *services.Core) *AuthHandler {
	return &AuthHandler{identity: core.Identity}
}

// GetCurrentUser syncs and returns the current user
// GET /api/me
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	user, err := h.identity.EnsureUser(c.Request.Context(), principal(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, user)
}
