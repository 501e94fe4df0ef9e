package handlers

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/huangang/buildlog/internal/models"
	"github.com/huangang/buildlog/internal/services"
	"github.com/huangang/buildlog/pkg/logger"
)

var registerOnce sync.Once

// RegisterGauges adds process-state gauges to the default registry.
// Later calls are no-ops.
func RegisterGauges(db *gorm.DB, hub *services.Hub) {
	registerOnce.Do(func() {
		if sqlDB, err := db.DB(); err == nil {
			prometheus.MustRegister(collectors.NewDBStatsCollector(sqlDB, "buildlog"))
		}

		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "buildlog",
				Subsystem: "sse",
				Name:      "active_clients",
				Help:      "Number of open event streams",
			},
			func() float64 { return float64(hub.ClientCount()) },
		))

		prometheus.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "buildlog",
				Name:      "projects_live",
				Help:      "Projects that are not deleted",
			},
			func() float64 {
				var n int64
				if err := db.Model(&models.Project{}).
					Where("status <> ?", models.ProjectDeleted).
					Count(&n).Error; err != nil {
					logger.Warn().Err(err).Msg("projects_live gauge")
					return 0
				}
				return float64(n)
			},
		))
	})
}

// Metrics serves the Prometheus exposition format
// GET /metrics
func Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
