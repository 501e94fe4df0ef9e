package main

import (
	"github.com/gin-gonic/gin"

	"github.com/huangang/buildlog/internal/handlers"
	"github.com/huangang/buildlog/internal/middleware"
	"github.com/huangang/buildlog/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, a *app) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	healthHandler := handlers.NewHealthHandler(a.db, a.bus, a.hub)
	r.GET("/health", healthHandler.CheckHealth)

	handlers.RegisterGauges(a.db, a.hub)
	r.GET("/metrics", handlers.Metrics())

	projectHandler := handlers.NewProjectHandler(a.core)
	collaboratorHandler := handlers.NewCollaboratorHandler(a.core)
	logHandler := handlers.NewLogHandler(a.core)
	dashboardHandler := handlers.NewDashboardHandler(a.core)
	authHandler := handlers.NewAuthHandler(a.core)
	sseHandler := handlers.NewSSEHandler(a.hub, a.core)

	api := r.Group("/api", middleware.OptionalAuth())
	if a.limiter != nil {
		api.Use(a.limiter.Middleware())
	}

	// Readable without a token; private projects conceal themselves
	{
		api.GET("/projects/public", projectHandler.ListPublic)
		api.GET("/projects/:id", projectHandler.Get)
		api.GET("/projects/:id/logs", logHandler.List)
		api.GET("/projects/:id/collaborators", collaboratorHandler.List)
	}

	protected := api.Group("", middleware.AuthRequired())
	{
		protected.GET("/me", authHandler.GetCurrentUser)
		protected.GET("/me/invites", collaboratorHandler.PendingInvites)
		protected.GET("/dashboard", dashboardHandler.GetStats)
		protected.GET("/events", sseHandler.StreamEvents)

		// Projects
		protected.GET("/projects", projectHandler.List)
		protected.POST("/projects", projectHandler.Create)
		protected.PATCH("/projects/:id", projectHandler.Update)
		protected.DELETE("/projects/:id", projectHandler.Delete)
		protected.POST("/projects/:id/archive", projectHandler.Archive)
		protected.POST("/projects/:id/restore", projectHandler.Restore)
		protected.GET("/projects/:id/activities", projectHandler.Activities)

		// Logs
		protected.POST("/projects/:id/logs", logHandler.Create)

		// Collaborators
		protected.POST("/projects/:id/collaborators", collaboratorHandler.Invite)
		protected.POST("/collaborators/:id/accept", collaboratorHandler.Accept)
		protected.POST("/collaborators/:id/decline", collaboratorHandler.Decline)
		protected.PUT("/collaborators/:id/role", collaboratorHandler.ChangeRole)
		protected.DELETE("/collaborators/:id", collaboratorHandler.Remove)
	}
}
