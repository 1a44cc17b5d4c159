// Package admin exposes a small ops HTTP surface: liveness, aggregate
// stats and the points leaderboard. It is read-only; all state changes go
// through the chat commands and the worker.
package admin

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/avasilev/pagecourier/internal/cleanup"
	"github.com/avasilev/pagecourier/internal/store"
)

// Server wires the ops endpoints.
type Server struct {
	users   *store.Users
	cleaner *cleanup.Manager
	logger  *slog.Logger
	started time.Time
}

// New creates the admin server.
func New(users *store.Users, cleaner *cleanup.Manager, logger *slog.Logger) *Server {
	return &Server{
		users:   users,
		cleaner: cleaner,
		logger:  logger,
		started: time.Now(),
	}
}

// Router builds the gin router.
func (s *Server) Router(env string) *gin.Engine {
	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.health)
	api := r.Group("/api")
	{
		api.GET("/stats", s.stats)
		api.GET("/leaderboard", s.leaderboard)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) stats(c *gin.Context) {
	userCount, err := s.users.Count(c.Request.Context())
	if err != nil {
		s.logger.Error("Stats query failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}

	since := time.Now().AddDate(0, 0, -1)
	deliveries, err := s.users.DeliveriesSince(c.Request.Context(), since)
	if err != nil {
		s.logger.Error("Delivery count query failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats unavailable"})
		return
	}

	usage := s.cleaner.StorageUsage()
	c.JSON(http.StatusOK, gin.H{
		"users":             userCount,
		"deliveries_24h":    deliveries,
		"storage":           usage,
		"storage_formatted": cleanup.FormatSize(usage.TotalBytes),
	})
}

func (s *Server) leaderboard(c *gin.Context) {
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	entries, err := s.users.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("Leaderboard query failed", "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "leaderboard unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": entries})
}
