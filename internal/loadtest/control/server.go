// Package control is the live HTTP control surface of a run: status,
// metric snapshots, a stop endpoint and a Prometheus scrape endpoint.
package control

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rampvu/internal/loadtest/engine"
	"github.com/wesleyorama2/rampvu/internal/loadtest/metrics"
	"github.com/wesleyorama2/rampvu/internal/loadtest/threshold"
)

// Run is the part of *engine.Engine the control surface needs.
type Run interface {
	Status() engine.Status
	Snapshot() map[string]metrics.Snapshot
	Thresholds() []threshold.Result
	Stop(reason string)
}

// Server serves the control API for one run.
type Server struct {
	run    Run
	router *gin.Engine
	server *http.Server
	logger *zap.Logger
	ln     net.Listener
}

// StopRequest is the optional body of POST /v1/stop.
type StopRequest struct {
	Reason string `json:"reason"`
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(run Run, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(run))

	s := &Server{run: run, router: router, logger: logger.Named("control")}

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		v1.GET("/status", s.getStatus)
		v1.GET("/metrics", s.getMetrics)
		v1.GET("/metrics/:name", s.getMetric)
		v1.GET("/thresholds", s.getThresholds)
		v1.POST("/stop", s.postStop)
	}
	return s
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("control server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("control server listening", zap.String("address", ln.Addr().String()))
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for in-flight requests until ctx is
// done.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.run.Status())
}

// MetricView is the JSON shape of one metric in /v1/metrics.
type MetricView struct {
	metrics.Snapshot
	// Durations are rendered for time metrics so clients need not know
	// the unit.
	Display map[string]string `json:"display,omitempty"`
}

func view(s metrics.Snapshot) MetricView {
	v := MetricView{Snapshot: s}
	if s.Type == metrics.Trend && s.Contains == metrics.Time {
		v.Display = map[string]string{
			"avg": metrics.Duration(s.Avg).String(),
			"med": metrics.Duration(s.Med).String(),
			"p90": metrics.Duration(s.P90).String(),
			"p95": metrics.Duration(s.P95).String(),
			"p99": metrics.Duration(s.P99).String(),
			"max": metrics.Duration(s.Max).String(),
		}
	}
	return v
}

func (s *Server) getMetrics(c *gin.Context) {
	snaps := s.run.Snapshot()
	names := make([]string, 0, len(snaps))
	for name := range snaps {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]MetricView, 0, len(names))
	for _, name := range names {
		out = append(out, view(snaps[name]))
	}
	c.JSON(http.StatusOK, gin.H{"metrics": out})
}

func (s *Server) getMetric(c *gin.Context) {
	name := c.Param("name")
	snap, ok := s.run.Snapshot()[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown metric " + name})
		return
	}
	c.JSON(http.StatusOK, view(snap))
}

func (s *Server) getThresholds(c *gin.Context) {
	results := s.run.Thresholds()
	c.JSON(http.StatusOK, gin.H{
		"passed":     threshold.Passed(results),
		"thresholds": results,
	})
}

func (s *Server) postStop(c *gin.Context) {
	var req StopRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "stopped via control API"
	}

	st := s.run.Status()
	if st.State == engine.StateTearingDown || st.State == engine.StateDone {
		c.JSON(http.StatusConflict, gin.H{"error": "run is already " + st.State.String()})
		return
	}

	s.logger.Info("stop requested", zap.String("reason", req.Reason), zap.String("client", c.ClientIP()))
	s.run.Stop(req.Reason)
	c.JSON(http.StatusAccepted, gin.H{"stopping": true, "reason": req.Reason})
}

func requestLogger(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug("control request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
