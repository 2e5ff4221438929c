// Command test-server is a local target for trying rampvu: a small
// messages API with a login endpoint, configurable latency and an
// injectable error rate.
package main

import (
	"flag"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rampvu/internal/loadtest/observe"
)

const token = "test-token"

type message struct {
	ID        string    `json:"id"`
	Tenant    string    `json:"tenant"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type store struct {
	mu       sync.RWMutex
	messages map[string][]message
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	latency := flag.Duration("latency", 20*time.Millisecond, "mean added latency")
	errorRate := flag.Float64("error-rate", 0, "fraction of requests answered with 500")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := observe.NewLogger(observe.LoggerConfig{Level: *logLevel})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), delay(*latency), faults(*errorRate))

	s := &store{messages: make(map[string][]message)}

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})
	r.POST("/login", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"token": token, "expiresIn": 3600})
	})

	api := r.Group("/api/:tenant", auth)
	api.GET("/messages", s.list)
	api.POST("/messages", s.create)
	api.DELETE("/messages", s.clear)

	logger.Info("test server listening",
		zap.String("addr", *addr),
		zap.Duration("latency", *latency),
		zap.Float64("error_rate", *errorRate))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 2 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func delay(mean time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if mean > 0 {
			time.Sleep(time.Duration(rand.ExpFloat64() * float64(mean)))
		}
		c.Next()
	}
}

func faults(rate float64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if rate > 0 && rand.Float64() < rate && c.FullPath() != "/health" {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "injected failure"})
			return
		}
		c.Next()
	}
}

func auth(c *gin.Context) {
	if strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ") != token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (s *store) list(c *gin.Context) {
	tenant := c.Param("tenant")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	s.mu.RLock()
	msgs := s.messages[tenant]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := append([]message{}, msgs...)
	s.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{"messages": out, "count": len(out)})
}

func (s *store) create(c *gin.Context) {
	var body struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m := message{ID: uuid.NewString(), Tenant: c.Param("tenant"), Text: body.Text, CreatedAt: time.Now()}
	s.mu.Lock()
	s.messages[m.Tenant] = append(s.messages[m.Tenant], m)
	s.mu.Unlock()

	c.JSON(http.StatusCreated, m)
}

func (s *store) clear(c *gin.Context) {
	s.mu.Lock()
	delete(s.messages, c.Param("tenant"))
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}
