package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/huangang/buildlog/internal/middleware"
	"github.com/huangang/buildlog/internal/models"
	"github.com/huangang/buildlog/internal/services"
	"github.com/huangang/buildlog/pkg/response"
)

type ProjectHandler struct {
	core *services.Core
}

func NewProjectHandler(core *services.Core) *ProjectHandler {
	return &ProjectHandler{core: core}
}

// ProjectListRequest is the query string of the listing endpoints. Status
// and tags are comma separated.
type ProjectListRequest struct {
	Visibility    string `form:"visibility"`
	Status        string `form:"status"`
	Tags          string `form:"tags"`
	Search        string `form:"search"`
	CreatedAfter  string `form:"created_after"`
	CreatedBefore string `form:"created_before"`
	Role          string `form:"role"`
	SortBy        string `form:"sort_by"`
	Order         string `form:"order"`
	Page          int    `form:"page"`
	Limit         int    `form:"limit"`
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseTime(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, response.NewBadRequest("invalid " + name + ", expected RFC 3339 or YYYY-MM-DD")
	}
	return &t, nil
}

func (r *ProjectListRequest) toQuery() (services.ProjectQuery, error) {
	q := services.ProjectQuery{
		Visibility: models.Visibility(r.Visibility),
		Tags:       splitList(r.Tags),
		Search:     r.Search,
		Role:       models.Role(r.Role),
		SortBy:     services.SortField(r.SortBy),
		Direction:  services.SortDirection(r.Order),
		Page:       r.Page,
		Limit:      r.Limit,
	}
	for _, st := range splitList(r.Status) {
		q.Statuses = append(q.Statuses, models.ProjectStatus(st))
	}
	var err error
	if q.CreatedAfter, err = parseTime("created_after", r.CreatedAfter); err != nil {
		return q, err
	}
	if q.CreatedBefore, err = parseTime("created_before", r.CreatedBefore); err != nil {
		return q, err
	}
	return q, nil
}

func (h *ProjectHandler) bindQuery(c *gin.Context) (services.ProjectQuery, bool) {
	var req ProjectListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return services.ProjectQuery{}, false
	}
	q, err := req.toQuery()
	if err != nil {
		response.Error(c, err)
		return q, false
	}
	return q, true
}

// List returns the caller's projects
// GET /api/projects
func (h *ProjectHandler) List(c *gin.Context) {
	q, ok := h.bindQuery(c)
	if !ok {
		return
	}

	page, err := h.core.Aggregator.ListProjects(c.Request.Context(), middleware.GetUserID(c), q)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, page)
}

// ListPublic returns public projects for anyone
// GET /api/projects/public
func (h *ProjectHandler) ListPublic(c *gin.Context) {
	q, ok := h.bindQuery(c)
	if !ok {
		return
	}

	page, err := h.core.Aggregator.ListPublicProjects(c.Request.Context(), middleware.GetUserID(c), q)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, page)
}

// Get returns a project with stats by id or slug
// GET /api/projects/:id
func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.core.Aggregator.GetProject(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, project)
}

// Create creates a new project owned by the caller
// POST /api/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req services.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	project, err := h.core.Projects.Create(c.Request.Context(), &req, principal(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Created(c, project)
}

// Update applies a partial update
// PATCH /api/projects/:id
func (h *ProjectHandler) Update(c *gin.Context) {
	var req services.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	project, err := h.core.Projects.Update(c.Request.Context(), c.Param("id"), &req, middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, project)
}

// Archive archives a project
// POST /api/projects/:id/archive
func (h *ProjectHandler) Archive(c *gin.Context) {
	h.transition(c, h.core.Projects.Archive)
}

// Restore brings back an archived or deleted project
// POST /api/projects/:id/restore
func (h *ProjectHandler) Restore(c *gin.Context) {
	h.transition(c, h.core.Projects.Restore)
}

// Delete soft-deletes a project
// DELETE /api/projects/:id
func (h *ProjectHandler) Delete(c *gin.Context) {
	h.transition(c, h.core.Projects.Delete)
}

type transitionFunc func(ctx context.Context, projectIdent, actingID string) (*models.Project, error)

func (h *ProjectHandler) transition(c *gin.Context, fn transitionFunc) {
	project, err := fn(c.Request.Context(), c.Param("id"), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, project)
}

// Activities returns the project's audit trail
// GET /api/projects/:id/activities
func (h *ProjectHandler) Activities(c *gin.Context) {
	var q services.ActivityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	page, err := h.core.Activities.List(c.Request.Context(), c.Param("id"), middleware.GetUserID(c), q)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, page)
}
