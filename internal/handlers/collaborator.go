package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/huangang/buildlog/internal/middleware"
	"github.com/huangang/buildlog/internal/models"
	"github.com/huangang/buildlog/internal/services"
	"github.com/huangang/buildlog/pkg/response"
)

type CollaboratorHandler struct {
	collaborators *services.CollaboratorService
}

func NewCollaboratorHandler(core *services.Core) *CollaboratorHandler {
	return &CollaboratorHandler{collaborators: core.Collaborators}
}

type InviteRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role" binding:"required"`
}

type ChangeRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// List returns a project's collaborators
// GET /api/projects/:id/collaborators?include_inactive=true
func (h *CollaboratorHandler) List(c *gin.Context) {
	includeInactive := c.Query("include_inactive") == "true"

	rows, err := h.collaborators.List(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), includeInactive)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, rows)
}

// Invite creates a pending invite
// POST /api/projects/:id/collaborators
func (h *CollaboratorHandler) Invite(c *gin.Context) {
	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	row, err := h.collaborators.Invite(c.Request.Context(), c.Param("id"), req.UserID, models.Role(req.Role), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Created(c, row)
}

// ChangeRole updates a collaborator's role
// PUT /api/collaborators/:id/role
func (h *CollaboratorHandler) ChangeRole(c *gin.Context) {
	var req ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	row, err := h.collaborators.ChangeRole(c.Request.Context(), c.Param("id"), models.Role(req.Role), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, row)
}

// Accept accepts the caller's invite
// POST /api/collaborators/:id/accept
func (h *CollaboratorHandler) Accept(c *gin.Context) {
	row, err := h.collaborators.Accept(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, row)
}

// Decline declines the caller's invite
// POST /api/collaborators/:id/decline
func (h *CollaboratorHandler) Decline(c *gin.Context) {
	row, err := h.collaborators.Decline(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, row)
}

// Remove ends a collaboration
// DELETE /api/collaborators/:id
func (h *CollaboratorHandler) Remove(c *gin.Context) {
	row, err := h.collaborators.Remove(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, row)
}

// PendingInvites lists the caller's open invites
// GET /api/me/invites
func (h *CollaboratorHandler) PendingInvites(c *gin.Context) {
	rows, err := h.collaborators.PendingInvites(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, rows)
}
