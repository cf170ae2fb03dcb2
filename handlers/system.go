package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SystemHandler handles system endpoints
type SystemHandler struct {
	backend string
	version string
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(backend, version string) *SystemHandler {
	return &SystemHandler{backend: backend, version: version}
}

// Health handles health check via GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "nshare",
		"storage": h.backend,
		"version": h.version,
	})
}
