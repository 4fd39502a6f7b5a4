// Package status serves live run progress and Prometheus metrics while a
// benchmark is in flight.
package status

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/airport-bench/internal/bench"
	"github.com/airport-bench/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Server exposes /health, /progress and /metrics on a local address.
type Server struct {
	progress   *bench.Progress
	metrics    *metrics.Collector
	router     *gin.Engine
	httpServer *http.Server
	startedAt  time.Time
}

func NewServer(addr string, progress *bench.Progress, collector *metrics.Collector) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		progress:  progress,
		metrics:   collector,
		router:    router,
		startedAt: time.Now(),
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	router.Use(s.metricsMiddleware())
	router.GET("/health", s.handleHealth)
	router.GET("/progress", s.handleProgress)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// Start serves until Shutdown. Intended to run in its own goroutine.
func (s *Server) Start() error {
	log.Infof("Status server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.metrics.RecordStatusRequest(method, path, strconv.Itoa(c.Writer.Status()))
		s.metrics.RecordStatusDuration(method, path, time.Since(start).Seconds())
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleProgress(c *gin.Context) {
	snap := s.progress.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"started_at":   s.startedAt.Format(time.RFC3339),
		"elapsed_secs": int(time.Since(s.startedAt).Seconds()),
		"progress":     snap,
	})
}
