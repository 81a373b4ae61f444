package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler serves the liveness probe.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler { return &HealthHandler{} }

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
