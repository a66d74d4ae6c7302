package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/cryptofunk/internal/audit"
	"github.com/ajitpratap0/cryptofunk/internal/metrics"
	"github.com/ajitpratap0/cryptofunk/internal/orchestrator"
	"github.com/ajitpratap0/cryptofunk/internal/sandbox"
	"github.com/ajitpratap0/cryptofunk/internal/store"
)

type strategyRequest struct {
	Name string `json:"name" binding:"required"`
	Code string `json:"code" binding:"required"`
}

// validateStrategyCode confirms code at least lexes/parses, per spec.md §6's
// "code must syntactically instantiate".
func validateStrategyCode(code string) error {
	_, err := sandbox.New(code, "", nil, nil, sandbox.DefaultBuildTimeout)
	return err
}

// handleListStrategies implements GET /strategies.
func (s *Server) handleListStrategies(c *gin.Context) {
	strategies, err := s.store.ListStrategies(c.Request.Context(), UserID(c))
	if err != nil {
		log.Error().Err(err).Msg("strategies: failed to list")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	c.JSON(http.StatusOK, strategies)
}

// handleGetStrategy implements GET /strategies/{id}.
func (s *Server) handleGetStrategy(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	strategy, err := s.store.GetStrategy(c.Request.Context(), UserID(c), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "strategy not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("strategies: failed to load")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	c.JSON(http.StatusOK, strategy)
}

// handleCreateStrategy implements POST /strategies.
func (s *Server) handleCreateStrategy(c *gin.Context) {
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: err.Error()})
		return
	}
	if err := validateStrategyCode(req.Code); err != nil {
		metrics.RecordStrategyValidationFailure(err.Error())
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: err.Error()})
		return
	}

	strategy, err := s.store.CreateStrategy(c.Request.Context(), UserID(c), req.Name, req.Code)
	if errors.Is(err, store.ErrDuplicateName) {
		metrics.RecordStrategyOperation("create", false)
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: "strategy name already exists"})
		return
	}
	if err != nil {
		metrics.RecordStrategyOperation("create", false)
		log.Error().Err(err).Msg("strategies: failed to create")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	metrics.RecordStrategyOperation("create", true)
	s.logAudit(c, audit.EventTypeStrategyCreated, req.Name, map[string]interface{}{"strategy_id": strategy.ID}, true, "")
	c.JSON(http.StatusOK, strategy)
}

// handleUpdateStrategy implements PUT /strategies/{id}.
func (s *Server) handleUpdateStrategy(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req strategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: err.Error()})
		return
	}
	if err := validateStrategyCode(req.Code); err != nil {
		metrics.RecordStrategyValidationFailure(err.Error())
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: err.Error()})
		return
	}

	strategy, err := s.store.UpdateStrategy(c.Request.Context(), UserID(c), id, req.Name, req.Code)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "strategy not found"})
		return
	}
	if errors.Is(err, store.ErrDuplicateName) {
		metrics.RecordStrategyOperation("update", false)
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: "strategy name already exists"})
		return
	}
	if err != nil {
		metrics.RecordStrategyOperation("update", false)
		log.Error().Err(err).Msg("strategies: failed to update")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	metrics.RecordStrategyOperation("update", true)
	s.logAudit(c, audit.EventTypeStrategyUpdated, req.Name, map[string]interface{}{"strategy_id": id}, true, "")
	c.JSON(http.StatusOK, strategy)
}

// handleDeleteStrategy implements DELETE /strategies/{id}.
func (s *Server) handleDeleteStrategy(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	err := s.store.DeleteStrategy(c.Request.Context(), UserID(c), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "strategy not found"})
		return
	}
	if err != nil {
		metrics.RecordStrategyOperation("delete", false)
		log.Error().Err(err).Msg("strategies: failed to delete")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	metrics.RecordStrategyOperation("delete", true)
	s.logAudit(c, audit.EventTypeStrategyDeleted, "", map[string]interface{}{"strategy_id": id}, true, "")
	c.Status(http.StatusNoContent)
}

type runStrategyRequest struct {
	StrategyID int64     `json:"strategy_id" binding:"required"`
	Symbols    []string  `json:"symbols" binding:"required,min=1"`
	StartDate  time.Time `json:"start_date" binding:"required"`
	EndDate    time.Time `json:"end_date" binding:"required"`
	TrainPct   *float64  `json:"train_pct"`
}

// handleRunStrategy implements POST /strategies/run.
func (s *Server) handleRunStrategy(c *gin.Context) {
	var req runStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: err.Error()})
		return
	}

	symbols, ok := normalizeSymbols(req.Symbols)
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: "invalid symbol in request"})
		return
	}

	ctx := c.Request.Context()
	userID := UserID(c)

	strategy, err := s.store.GetStrategy(ctx, userID, req.StrategyID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "strategy not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("strategies: failed to load for run")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	settings, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("strategies: failed to load settings for run")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	out, err := s.orchestrator.Run(ctx, orchestrator.Request{
		StrategyCode: strategy.Code,
		Symbols:      symbols,
		Start:        req.StartDate,
		End:          req.EndDate,
		TrainPct:     req.TrainPct,
	}, settings)
	if err != nil {
		metrics.RecordStrategyOperation("run", false)
		s.logAudit(c, audit.EventTypeStrategyRun, strategy.Name, map[string]interface{}{"symbols": symbols}, false, err.Error())
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: err.Error()})
		return
	}

	record, err := s.persistRun(ctx, userID, strategy, symbols, req.StartDate, req.EndDate, settings.InitialCash, out)
	if err != nil {
		log.Error().Err(err).Msg("strategies: failed to persist run")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	metrics.RecordStrategyOperation("run", true)
	s.logAudit(c, audit.EventTypeStrategyRun, strategy.Name, map[string]interface{}{"symbols": symbols, "run_id": record.ID}, true, "")
	c.JSON(http.StatusOK, record)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: "invalid id"})
		return 0, false
	}
	return id, true
}
