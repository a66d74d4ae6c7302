package api

import (
	"github.com/gin-gonic/gin"

	"github.com/ajitpratap0/cryptofunk/internal/metrics"
)

// setupRoutes wires the spec's HTTP surface behind the general rate
// limiter and bearer auth; strategy runs additionally sit behind the
// stricter strategy-run limiter.
func (s *Server) setupRoutes(generalLimit, strategyRunLimit, auth gin.HandlerFunc) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.router.Group("")
	api.Use(generalLimit, auth)
	{
		api.GET("/search", s.handleSearch)
		api.GET("/stock/:symbol", s.handleGetStock)
		api.GET("/stock/:symbol/price", s.handleGetStockPrice)
		api.GET("/watchlist/quotes", s.handleWatchlistQuotes)

		api.GET("/settings", s.handleGetSettings)
		api.PUT("/settings", s.handleUpdateSettings)

		api.GET("/portfolio", s.handleGetPortfolio)
		api.POST("/portfolio/position", s.handleOpenPosition)
		api.POST("/portfolio/position/close", s.handleClosePosition)
		api.DELETE("/portfolio/position", s.handleClosePosition)
		api.POST("/portfolio/clear", s.handleClearPortfolio)

		strategies := api.Group("/strategies")
		{
			strategies.GET("", s.handleListStrategies)
			strategies.POST("", s.handleCreateStrategy)
			strategies.GET("/:id", s.handleGetStrategy)
			strategies.PUT("/:id", s.handleUpdateStrategy)
			strategies.DELETE("/:id", s.handleDeleteStrategy)
			strategies.POST("/run", strategyRunLimit, s.handleRunStrategy)
		}

		api.GET("/runs", s.handleListRuns)
		api.GET("/runs/:id", s.handleGetRun)
		api.DELETE("/runs", s.handleClearRuns)
	}
}
