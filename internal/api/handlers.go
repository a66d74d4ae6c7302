package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleHealth is the unauthenticated liveness probe of spec.md §6.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
