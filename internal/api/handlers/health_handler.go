package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// PingFunc checks a backing store.
type PingFunc func(ctx context.Context) error

// HealthHandler serves /api/health.
type HealthHandler struct {
	pingDB PingFunc
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(pingDB PingFunc) *HealthHandler {
	return &HealthHandler{pingDB: pingDB}
}

// Health reports liveness and database reachability. It answers 200 either way.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	database := "connected"
	if err := h.pingDB(ctx); err != nil {
		log.Printf("Health check: database unreachable: %v", err)
		database = "disconnected"
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Server is running",
		"timestamp": time.Now().UTC(),
		"database":  database,
	})
}

// NotFound answers unknown routes.
func NotFound(c *gin.Context) {
	sendError(c, http.StatusNotFound, "Endpoint nie znaleziony")
}
