// internal/handler/admin.go

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orgoj/logrelay/internal/logger"
	"github.com/orgoj/logrelay/internal/pipeline"
)

// StatsProvider exposes the pipeline counters.
type StatsProvider interface {
	Stats() pipeline.Stats
}

// SinkResetter clears the degraded state of a sink.
type SinkResetter interface {
	ResetSink(name string) (bool, error)
}

// MetricsProvider serves the counters in the Prometheus text format.
type MetricsProvider interface {
	MetricsHandler() http.Handler
}

// NewStatsHandler serves GET /stats.
func NewStatsHandler(p StatsProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, p.Stats())
	}
}

// NewResetSinkHandler serves POST /sinks/:name/reset.
func NewResetSinkHandler(p SinkResetter, log *logger.AppLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("name")
		wasDegraded, err := p.ResetSink(name)
		if errors.Is(err, pipeline.ErrUnknownSink) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			log.Error("Reset of sink '%s' failed: %v", name, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reset failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"sink": name, "was_degraded": wasDegraded})
	}
}
