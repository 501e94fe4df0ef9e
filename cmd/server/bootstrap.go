package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/huangang/buildlog/internal/config"
	"github.com/huangang/buildlog/internal/middleware"
	"github.com/huangang/buildlog/internal/models"
	"github.com/huangang/buildlog/internal/services"
	"github.com/huangang/buildlog/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

// app holds everything the server needs at runtime.
type app struct {
	db        *gorm.DB
	hub       *services.Hub
	bus       *services.EventBus
	core      *services.Core
	scheduler *services.Scheduler
	limiter   *middleware.RateLimiter
}

// bootstrap opens the store and wires the services and background jobs.
func bootstrap(cfg *config.Config) (*app, error) {
	if err := models.InitDB(&cfg.Database); err != nil {
		return nil, err
	}
	db := models.GetDB()

	if err := models.Migrate(db); err != nil {
		return nil, err
	}

	hub := services.GetEventHub()
	bus := services.InitEventBus(cfg, hub)
	core := services.NewCore(db, bus.Publisher, services.OptionsFromConfig(&cfg.Core))

	scheduler := services.NewScheduler(core, cfg.Core.InviteExpiry)
	if err := scheduler.Start(); err != nil {
		bus.Stop()
		return nil, err
	}

	a := &app{
		db:        db,
		hub:       hub,
		bus:       bus,
		core:      core,
		scheduler: scheduler,
	}
	if cfg.Server.RateLimit > 0 {
		a.limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	}
	return a, nil
}

// shutdown stops background work. The HTTP server must already be closed.
func (a *app) shutdown() {
	a.scheduler.Stop()
	logger.Info().Msg("scheduler stopped")

	if a.limiter != nil {
		a.limiter.Stop()
	}
	a.bus.Stop()
	a.hub.Close()

	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func serve(cfg *config.Config) error {
	a, err := bootstrap(cfg)
	if err != nil {
		return err
	}
	defer a.shutdown()

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	registerRoutes(r, a)

	srv := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("events", a.bus.Mode).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	// Open event streams only end when their channel closes.
	a.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("forced shutdown")
	}
	return nil
}
