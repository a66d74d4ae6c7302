package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/cryptofunk/internal/indicators"
)

const (
	defaultStockWindow = 400 * 24 * time.Hour
	maxCandleLimit      = 5000
	indicatorPeriod     = 14
)

// handleSearch implements GET /search.
func (s *Server) handleSearch(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: "q is required"})
		return
	}
	results, err := s.marketdata.Search(c.Request.Context(), q)
	if err != nil {
		log.Warn().Err(err).Str("q", q).Msg("search: data provider failed")
		c.JSON(http.StatusNotFound, errorResponse{Error: "search unavailable"})
		return
	}
	c.JSON(http.StatusOK, results)
}

type candleDTO struct {
	Date  string  `json:"date"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

type stockResponse struct {
	Symbol  string      `json:"symbol"`
	Candles []candleDTO `json:"candles"`
	SMA14   []float64   `json:"sma14,omitempty"`
	EMA14   []float64   `json:"ema14,omitempty"`
	RSI14   []float64   `json:"rsi14,omitempty"`
}

// handleGetStock implements GET /stock/{sym}?start_date&end_date&limit.
func (s *Server) handleGetStock(c *gin.Context) {
	symbol, ok := normalizeSymbol(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: "invalid symbol"})
		return
	}

	end := time.Now()
	if raw := c.Query("end_date"); raw != "" {
		if parsed, err := time.Parse("2006-01-02", raw); err == nil {
			end = parsed
		}
	}
	start := end.Add(-defaultStockWindow)
	if raw := c.Query("start_date"); raw != "" {
		if parsed, err := time.Parse("2006-01-02", raw); err == nil {
			start = parsed
		}
	}

	limit := maxCandleLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= maxCandleLimit {
			limit = parsed
		}
	}

	series, err := s.marketdata.GetSeries(c.Request.Context(), symbol, start, end)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("stock: data unavailable")
		c.JSON(http.StatusNotFound, errorResponse{Error: "symbol data unavailable"})
		return
	}

	last := series.Len() - 1
	first := 0
	if series.Len() > limit {
		first = series.Len() - limit
	}

	candles := make([]candleDTO, 0, last-first+1)
	for i := first; i <= last; i++ {
		candle := series.Candle(i)
		candles = append(candles, candleDTO{
			Date: candle.Date.Format("2006-01-02"), Open: candle.Open, High: candle.High, Low: candle.Low, Close: candle.Close,
		})
	}

	resp := stockResponse{Symbol: symbol, Candles: candles}
	closes := series.Closes(last)
	if sma, err := indicators.SMA(closes, indicatorPeriod); err == nil {
		resp.SMA14 = sma
	}
	if ema, err := indicators.EMA(closes, indicatorPeriod); err == nil {
		resp.EMA14 = ema
	}
	if rsi, err := indicators.RSI(closes, indicatorPeriod); err == nil {
		resp.RSI14 = rsi
	}

	c.JSON(http.StatusOK, resp)
}

// handleGetStockPrice implements GET /stock/{sym}/price.
func (s *Server) handleGetStockPrice(c *gin.Context) {
	symbol, ok := normalizeSymbol(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: "invalid symbol"})
		return
	}

	price, err := s.marketdata.LatestPrice(c.Request.Context(), symbol)
	if err != nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("stock: latest price unavailable")
		c.JSON(http.StatusNotFound, errorResponse{Error: "symbol data unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "price": price})
}

type watchlistQuote struct {
	Symbol     string   `json:"symbol"`
	Price      *float64 `json:"price"`
	PrevClose  *float64 `json:"prev_close"`
	Change     *float64 `json:"change"`
	ChangePct  *float64 `json:"change_pct"`
}

// handleWatchlistQuotes implements GET /watchlist/quotes?symbols=CSV.
func (s *Server) handleWatchlistQuotes(c *gin.Context) {
	raw := c.Query("symbols")
	if raw == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "validation failed", Message: "symbols is required"})
		return
	}

	quotes := make([]watchlistQuote, 0)
	for _, sym := range strings.Split(raw, ",") {
		symbol, ok := normalizeSymbol(sym)
		if !ok {
			quotes = append(quotes, watchlistQuote{Symbol: strings.ToUpper(strings.TrimSpace(sym))})
			continue
		}
		quotes = append(quotes, s.quoteFor(c, symbol))
	}
	c.JSON(http.StatusOK, quotes)
}

func (s *Server) quoteFor(c *gin.Context, symbol string) watchlistQuote {
	quote := watchlistQuote{Symbol: symbol}

	end := time.Now()
	series, err := s.marketdata.GetSeries(c.Request.Context(), symbol, end.Add(-defaultStockWindow), end)
	if err != nil || series.Len() == 0 {
		log.Warn().Err(err).Str("symbol", symbol).Msg("watchlist: symbol data unavailable")
		return quote
	}

	last := series.Len() - 1
	price := series.Price(last)
	quote.Price = &price

	if last == 0 {
		return quote
	}
	prevClose := series.Candle(last - 1).Close
	quote.PrevClose = &prevClose
	change := price - prevClose
	quote.Change = &change
	if prevClose != 0 {
		pct := change / prevClose * 100
		quote.ChangePct = &pct
	}
	return quote
}
