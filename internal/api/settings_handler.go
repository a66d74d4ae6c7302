package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/cryptofunk/internal/audit"
	"github.com/ajitpratap0/cryptofunk/internal/store"
)

// handleGetSettings implements GET /settings.
func (s *Server) handleGetSettings(c *gin.Context) {
	settings, err := s.store.GetSettings(c.Request.Context(), UserID(c))
	if err != nil {
		log.Error().Err(err).Msg("settings: failed to load")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

// handleUpdateSettings implements PUT /settings: validate-and-merge against
// defaults, per spec.md §6.
func (s *Server) handleUpdateSettings(c *gin.Context) {
	var incoming store.Settings
	if err := c.ShouldBindJSON(&incoming); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: err.Error()})
		return
	}

	if incoming.Slippage < 0 || incoming.Slippage >= 1 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: "slippage must be in [0, 1)"})
		return
	}
	if incoming.Commission < 0 || incoming.Commission >= 1 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: "commission must be in [0, 1)"})
		return
	}

	if err := s.store.SaveSettings(c.Request.Context(), UserID(c), incoming); err != nil {
		log.Error().Err(err).Msg("settings: failed to save")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	saved, err := s.store.GetSettings(c.Request.Context(), UserID(c))
	if err != nil {
		log.Error().Err(err).Msg("settings: failed to reload after save")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	s.logAudit(c, audit.EventTypeConfigUpdated, "settings", map[string]interface{}{"slippage": saved.Slippage, "commission": saved.Commission}, true, "")
	c.JSON(http.StatusOK, saved)
}
