package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/cryptofunk/internal/analytics"
	"github.com/ajitpratap0/cryptofunk/internal/audit"
	"github.com/ajitpratap0/cryptofunk/internal/metrics"
	"github.com/ajitpratap0/cryptofunk/internal/orchestrator"
	"github.com/ajitpratap0/cryptofunk/internal/portfolio"
	"github.com/ajitpratap0/cryptofunk/internal/priceseries"
	"github.com/ajitpratap0/cryptofunk/internal/store"
)

// liveLookbackWindow is how much history is fetched to resolve "the latest
// bar" for a symbol in live-paper mode (spec.md §1's secondary mode).
const liveLookbackWindow = 400 * 24 * time.Hour

// loadLivePortfolio rehydrates a user's persisted portfolio against live
// series references, reusing the exact Position update rules of §4.2.
func (s *Server) loadLivePortfolio(ctx context.Context, userID string) (*portfolio.Portfolio, store.Settings, error) {
	settings, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		return nil, store.Settings{}, err
	}
	state, err := s.store.GetPortfolioState(ctx, userID)
	if err != nil {
		return nil, store.Settings{}, err
	}

	pf := portfolio.New(state.Cash, orchestrator.PortfolioConfig(settings))
	restored := make([]portfolio.RestoredPosition, len(state.Positions))
	for i, p := range state.Positions {
		restored[i] = portfolio.RestoredPosition{
			Symbol: p.Symbol, Quantity: p.Quantity, AvgPrice: p.AvgPrice, RealizedPnL: p.RealizedPnL,
		}
	}
	pf.RestoreFromState(state.Cash, restored, state.TradeLog, state.EquityCurve, state.Realized, func(symbol string) (*priceseries.Series, error) {
		return s.latestSeries(ctx, symbol)
	})
	return pf, settings, nil
}

func (s *Server) latestSeries(ctx context.Context, symbol string) (*priceseries.Series, error) {
	end := time.Now()
	start := end.Add(-liveLookbackWindow)
	return s.marketdata.GetSeries(ctx, symbol, start, end)
}

func (s *Server) savePortfolio(ctx context.Context, userID string, pf *portfolio.Portfolio) error {
	return s.store.SavePortfolioState(ctx, userID, store.PortfolioState{
		Cash:        pf.Cash,
		Positions:   store.ToPositionStates(pf.Positions),
		TradeLog:    pf.TradeLog,
		EquityCurve: pf.EquityCurve,
		Realized:    pf.Realized,
	})
}

type portfolioResponse struct {
	Cash      float64                       `json:"cash"`
	Positions []store.PositionState         `json:"positions"`
	TradeLog  []portfolio.TradeEvent        `json:"trade_log"`
	Metrics   analytics.EquityMetrics       `json:"metrics"`
	Trades    analytics.TradeMetrics        `json:"trade_stats"`
	BySymbol  []analytics.SymbolBreakdown   `json:"by_symbol"`
}

// handleGetPortfolio implements GET /portfolio.
func (s *Server) handleGetPortfolio(c *gin.Context) {
	pf, settings, err := s.loadLivePortfolio(c.Request.Context(), UserID(c))
	if err != nil {
		log.Error().Err(err).Msg("portfolio: failed to load")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	points := orchestrator.ToAnalyticsPoints(pf.EquityCurve)
	c.JSON(http.StatusOK, portfolioResponse{
		Cash:      pf.Cash,
		Positions: store.ToPositionStates(pf.Positions),
		TradeLog:  pf.TradeLog,
		Metrics:   analytics.ComputeEquityMetrics(points, settings.InitialCash),
		Trades:    analytics.ComputeTradeMetrics(pf.TradeLog),
		BySymbol:  analytics.ComputeSymbolBreakdown(pf.TradeLog),
	})
}

type openPositionRequest struct {
	Symbol   string  `json:"symbol" binding:"required"`
	Quantity float64 `json:"quantity" binding:"required,gt=0"`
	Side     string  `json:"side" binding:"required,oneof=long short"`
}

// handleOpenPosition implements POST /portfolio/position.
func (s *Server) handleOpenPosition(c *gin.Context) {
	var req openPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: err.Error()})
		return
	}
	symbol, ok := normalizeSymbol(req.Symbol)
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: "invalid symbol"})
		return
	}

	ctx := c.Request.Context()
	userID := UserID(c)

	pf, _, err := s.loadLivePortfolio(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("portfolio: failed to load")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	series, err := s.latestSeries(ctx, symbol)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("portfolio: symbol data unavailable")
		c.JSON(http.StatusNotFound, errorResponse{Error: "symbol data unavailable"})
		return
	}
	idx := series.Len() - 1

	if req.Side == "long" {
		err = pf.BuyLong(symbol, series, req.Quantity, idx)
	} else {
		err = pf.SellShort(symbol, series, req.Quantity, idx)
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: err.Error()})
		return
	}

	if err := s.savePortfolio(ctx, userID, pf); err != nil {
		log.Error().Err(err).Msg("portfolio: failed to persist")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	metrics.UpdatePositionValue(symbol, pf.Positions[symbol].Quantity*series.Price(idx))
	metrics.OpenPositions.Set(float64(len(pf.Positions)))
	s.logAudit(c, audit.EventTypePositionOpened, symbol, map[string]interface{}{"quantity": req.Quantity, "side": req.Side}, true, "")
	c.JSON(http.StatusOK, gin.H{"cash": pf.Cash, "positions": store.ToPositionStates(pf.Positions)})
}

type closePositionRequest struct {
	Symbol   string  `json:"symbol" binding:"required"`
	Quantity float64 `json:"quantity" binding:"required,gt=0"`
}

// handleClosePosition implements DELETE/POST /portfolio/position[/close].
func (s *Server) handleClosePosition(c *gin.Context) {
	var req closePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: err.Error()})
		return
	}
	symbol, ok := normalizeSymbol(req.Symbol)
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: "invalid symbol"})
		return
	}

	ctx := c.Request.Context()
	userID := UserID(c)

	pf, _, err := s.loadLivePortfolio(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("portfolio: failed to load")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	if _, ok := pf.Positions[symbol]; !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "no open position for symbol"})
		return
	}

	series, err := s.latestSeries(ctx, symbol)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("portfolio: symbol data unavailable")
		c.JSON(http.StatusNotFound, errorResponse{Error: "symbol data unavailable"})
		return
	}
	idx := series.Len() - 1

	if err := pf.ExitPosition(symbol, req.Quantity, idx); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: err.Error()})
		return
	}

	if err := s.savePortfolio(ctx, userID, pf); err != nil {
		log.Error().Err(err).Msg("portfolio: failed to persist")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	if n := len(pf.TradeLog); n > 0 {
		metrics.RecordTrade(pf.TradeLog[n-1].RealizedPnL)
	}
	metrics.OpenPositions.Set(float64(len(pf.Positions)))
	s.logAudit(c, audit.EventTypePositionClosed, symbol, map[string]interface{}{"quantity": req.Quantity}, true, "")
	c.JSON(http.StatusOK, gin.H{"cash": pf.Cash, "positions": store.ToPositionStates(pf.Positions)})
}

// handleClearPortfolio implements POST /portfolio/clear: reset to
// initial_cash.
func (s *Server) handleClearPortfolio(c *gin.Context) {
	ctx := c.Request.Context()
	userID := UserID(c)

	settings, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		log.Error().Err(err).Msg("portfolio: failed to load settings")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	pf := portfolio.New(settings.InitialCash, orchestrator.PortfolioConfig(settings))
	pf.ClearHistory(settings.InitialCash)

	if err := s.savePortfolio(ctx, userID, pf); err != nil {
		log.Error().Err(err).Msg("portfolio: failed to persist")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	metrics.OpenPositions.Set(0)
	s.logAudit(c, audit.EventTypePortfolioReset, "", nil, true, "")
	c.JSON(http.StatusOK, gin.H{"cash": pf.Cash})
}
