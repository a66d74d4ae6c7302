package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/cryptofunk/internal/orchestrator"
	"github.com/ajitpratap0/cryptofunk/internal/store"
)

const defaultRunHistoryLimit = 50

// persistRun converts an orchestrator.Output into a store.RunRecord and
// saves it.
func (s *Server) persistRun(ctx context.Context, userID string, strategy store.Strategy, symbols []string, start, end time.Time, initialCash float64, out orchestrator.Output) (store.RunRecord, error) {
	results, err := json.Marshal(out.Results)
	if err != nil {
		return store.RunRecord{}, fmt.Errorf("marshal results: %w", err)
	}
	portfolioBlob, err := json.Marshal(gin.H{
		"initial_cash": initialCash,
		"trade_log":    out.TradeLog,
		"equity_curve": out.EquityCurve,
	})
	if err != nil {
		return store.RunRecord{}, fmt.Errorf("marshal portfolio: %w", err)
	}
	metrics, err := json.Marshal(gin.H{"report": out.Report, "train": out.TrainReport, "test": out.TestReport})
	if err != nil {
		return store.RunRecord{}, fmt.Errorf("marshal metrics: %w", err)
	}

	return s.store.SaveRun(ctx, store.RunRecord{
		UserID:       userID,
		StrategyID:   strategy.ID,
		StrategyName: strategy.Name,
		Symbols:      symbols,
		StartDate:    start,
		EndDate:      end,
		Results:      results,
		Portfolio:    portfolioBlob,
		Metrics:      metrics,
	})
}

// handleListRuns implements GET /runs.
func (s *Server) handleListRuns(c *gin.Context) {
	limit := defaultRunHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	runs, err := s.store.GetRuns(c.Request.Context(), UserID(c), limit)
	if err != nil {
		log.Error().Err(err).Msg("runs: failed to list")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	c.JSON(http.StatusOK, runs)
}

// handleGetRun implements GET /runs/{id}.
func (s *Server) handleGetRun(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	run, err := s.store.GetRun(c.Request.Context(), UserID(c), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "run not found"})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("runs: failed to load")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// handleClearRuns implements DELETE /runs.
func (s *Server) handleClearRuns(c *gin.Context) {
	if err := s.store.ClearRuns(c.Request.Context(), UserID(c)); err != nil {
		log.Error().Err(err).Msg("runs: failed to clear")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	c.Status(http.StatusNoContent)
}
