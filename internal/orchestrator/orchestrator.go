// Package orchestrator implements the run orchestrator of spec.md §4.5: it
// takes a strategy, a symbol list, and a date window, runs one backtest per
// symbol through a fresh Portfolio, merges the per-symbol equity curves,
// and aggregates analytics over the combined run.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/cryptofunk/internal/analytics"
	"github.com/ajitpratap0/cryptofunk/internal/backtestdriver"
	"github.com/ajitpratap0/cryptofunk/internal/metrics"
	"github.com/ajitpratap0/cryptofunk/internal/portfolio"
	"github.com/ajitpratap0/cryptofunk/internal/priceseries"
	"github.com/ajitpratap0/cryptofunk/internal/sandbox"
	"github.com/ajitpratap0/cryptofunk/internal/store"
)

// SeriesResolver resolves a symbol to a PriceSeries over a date window. In
// production this is internal/marketdata.Cache.
type SeriesResolver interface {
	GetSeries(ctx context.Context, symbol string, start, end time.Time) (*priceseries.Series, error)
}

// Request is the orchestrator's input, mirroring POST /strategies/run's
// request body.
type Request struct {
	StrategyCode string
	Symbols      []string
	Start        time.Time
	End          time.Time
	TrainPct     *float64 // nil => no walk-forward split
}

// SymbolResult is one row of the per-symbol summary.
type SymbolResult struct {
	Symbol     string  `json:"symbol"`
	StartValue float64 `json:"start_value,omitempty"`
	EndValue   float64 `json:"end_value,omitempty"`
	PnL        float64 `json:"pnl,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Output is everything a run produces: the per-symbol summary, the merged
// equity curve and trade log, the aggregate analytics.Report, and — when a
// walk-forward split was requested — the train/test reports taken from the
// first symbol that completed each leg successfully.
type Output struct {
	Results     []SymbolResult
	TradeLog    []portfolio.TradeEvent
	EquityCurve []analytics.EquityPoint
	Report      analytics.Report
	TrainReport *analytics.Report
	TestReport  *analytics.Report
}

// Orchestrator runs Request values against a SeriesResolver.
type Orchestrator struct {
	Resolver SeriesResolver
}

// New builds an Orchestrator backed by resolver.
func New(resolver SeriesResolver) *Orchestrator {
	return &Orchestrator{Resolver: resolver}
}

// Run executes spec.md §4.5's seven-step algorithm and returns the combined
// output. It never returns an error for a single symbol's failure — those
// are recorded in Output.Results per symbol (step 4g) — but does return an
// error for request-level validation failures (step 1).
func (o *Orchestrator) Run(ctx context.Context, req Request, settings store.Settings) (Output, error) {
	start := time.Now()
	defer func() {
		metrics.RecordOrchestratorLatency(float64(time.Since(start).Milliseconds()))
	}()

	if len(req.Symbols) == 0 {
		return Output{}, fmt.Errorf("validation: at least one symbol is required")
	}
	if req.TrainPct != nil && (*req.TrainPct <= 0 || *req.TrainPct >= 1) {
		return Output{}, fmt.Errorf("validation: train_pct must be strictly between 0 and 1")
	}

	cashPerSymbol := settings.InitialCash / float64(len(req.Symbols))
	cfg := PortfolioConfig(settings)

	var splitDate *time.Time
	if req.TrainPct != nil {
		days := req.End.Sub(req.Start).Hours() / 24
		offset := int(math.Floor(days * *req.TrainPct))
		d := req.Start.AddDate(0, 0, offset)
		splitDate = &d
	}

	var results []SymbolResult
	var allTrades []portfolio.TradeEvent
	curves := make([]symbolCurve, 0, len(req.Symbols))
	var trainReport, testReport *analytics.Report

	for _, symbol := range req.Symbols {
		series, err := o.Resolver.GetSeries(ctx, symbol, req.Start, req.End)
		if err != nil {
			log.Warn().Str("symbol", symbol).Err(err).Msg("run orchestrator: symbol resolution failed")
			results = append(results, SymbolResult{Symbol: symbol, Error: err.Error()})
			continue
		}

		leg, err := o.runSymbol(symbol, series, req, splitDate, cashPerSymbol, cfg, settings, &trainReport, &testReport)
		if err != nil {
			log.Warn().Str("symbol", symbol).Err(err).Msg("run orchestrator: symbol backtest failed")
			results = append(results, SymbolResult{Symbol: symbol, Error: err.Error()})
			continue
		}

		endVal := leg.GetValue(nil)
		results = append(results, SymbolResult{
			Symbol: symbol, StartValue: cashPerSymbol, EndValue: endVal, PnL: endVal - cashPerSymbol,
		})
		allTrades = append(allTrades, leg.TradeLog...)
		curves = append(curves, symbolCurve{symbol: symbol, points: leg.EquityCurve})
	}

	initialCash := cashPerSymbol * float64(len(req.Symbols))
	merged := mergeCurves(curves, initialCash, cashPerSymbol, req.Start, req.End)
	report := analytics.ComputeReport(allTrades, merged, initialCash)

	metrics.TotalPnL.Set(report.Trades.NetRealized)
	metrics.WinRate.Set(report.Trades.WinRate)
	metrics.SharpeRatio.Set(report.Equity.SharpeAnnual)
	metrics.CurrentDrawdown.Set(report.Equity.MaxDrawdownPct / 100)
	for _, trade := range allTrades {
		if trade.Type == portfolio.TradeExit {
			metrics.RecordTrade(trade.RealizedPnL)
		}
	}

	return Output{
		Results:     results,
		TradeLog:    allTrades,
		EquityCurve: merged,
		Report:      report,
		TrainReport: trainReport,
		TestReport:  testReport,
	}, nil
}

// runSymbol implements step 4 for one symbol: fresh portfolio, strategy
// instantiation, either a single full-window run or a train/test split with
// two independently-funded portfolios, then auto-liquidation.
func (o *Orchestrator) runSymbol(
	symbol string,
	series *priceseries.Series,
	req Request,
	splitDate *time.Time,
	cashPerSymbol float64,
	cfg portfolio.Config,
	settings store.Settings,
	trainReport **analytics.Report,
	testReport **analytics.Report,
) (*portfolio.Portfolio, error) {
	runWindow := func(start, end time.Time) (*portfolio.Portfolio, error) {
		pf := portfolio.New(cashPerSymbol, cfg)
		strat, err := sandbox.New(req.StrategyCode, symbol, series, pf, sandbox.DefaultBuildTimeout)
		if err != nil {
			return nil, err
		}
		if err := backtestdriver.Run(series, strat, start, end); err != nil {
			return nil, err
		}
		if settings.AutoLiquidateEnd {
			liquidateAtEnd(pf, series, end)
		}
		return pf, nil
	}

	if splitDate == nil {
		return runWindow(req.Start, req.End)
	}

	trainPf, err := runWindow(req.Start, *splitDate)
	if err != nil {
		return nil, fmt.Errorf("train window: %w", err)
	}
	if *trainReport == nil {
		r := analytics.ComputeReport(trainPf.TradeLog, ToAnalyticsPoints(trainPf.EquityCurve), cashPerSymbol)
		*trainReport = &r
	}

	testPf, err := runWindow(*splitDate, req.End)
	if err != nil {
		return nil, fmt.Errorf("test window: %w", err)
	}
	if *testReport == nil {
		r := analytics.ComputeReport(testPf.TradeLog, ToAnalyticsPoints(testPf.EquityCurve), cashPerSymbol)
		*testReport = &r
	}

	return testPf, nil
}

// liquidateAtEnd exits any remaining position at the final bar, per
// spec.md §4.5 step 4f.
func liquidateAtEnd(pf *portfolio.Portfolio, series *priceseries.Series, end time.Time) {
	endIdx := series.ToILoc(end)
	for symbol, pos := range pf.Positions {
		qty := pos.Quantity
		if qty == 0 {
			continue
		}
		if err := pf.ExitPosition(symbol, math.Abs(qty), endIdx); err != nil {
			log.Warn().Str("symbol", symbol).Err(err).Msg("auto-liquidate at end failed")
		}
	}
}

// PortfolioConfig maps persisted Settings to the portfolio package's
// constraint set. Exported so the live-portfolio HTTP handlers can build
// the same Config a backtest run would use.
func PortfolioConfig(s store.Settings) portfolio.Config {
	return portfolio.Config{
		Slippage:               s.Slippage,
		CommissionPct:          s.Commission,
		CommissionPerOrder:     s.CommissionPerOrder,
		CommissionPerShare:     s.CommissionPerShare,
		AllowShort:             s.AllowShort,
		ShortMarginRequirement: s.ShortMarginRequirement,
		ShareMinPct:            s.ShareMinPct,
		MaxPositions:           s.MaxPositions,
		MaxPositionPct:         s.MaxPositionPct,
		MinCashReservePct:      s.MinCashReservePct,
		MinTradeValue:          s.MinTradeValue,
		MaxTradeValue:          s.MaxTradeValue,
		MaxOrderQty:            s.MaxOrderQty,
	}
}

// ToAnalyticsPoints converts a portfolio equity curve to the analytics
// package's point type. Exported for reuse by the live-portfolio handlers.
func ToAnalyticsPoints(points []portfolio.EquityPoint) []analytics.EquityPoint {
	out := make([]analytics.EquityPoint, len(points))
	for i, p := range points {
		out[i] = analytics.EquityPoint{I: p.I, V: p.V, Time: p.Time}
	}
	return out
}

type symbolCurve struct {
	symbol string
	points []portfolio.EquityPoint
}

// mergeCurves implements spec.md §4.5 step 5's three cases.
func mergeCurves(curves []symbolCurve, initialCash, cashPerSymbol float64, start, end time.Time) []analytics.EquityPoint {
	switch len(curves) {
	case 0:
		return []analytics.EquityPoint{
			{I: 0, V: initialCash, Time: nil},
			{I: 1, V: initialCash, Time: &end},
		}
	case 1:
		return mergeSingleCurve(curves[0], initialCash, start)
	default:
		return mergeMultiCurve(curves, initialCash, cashPerSymbol)
	}
}

func mergeSingleCurve(curve symbolCurve, initialCash float64, start time.Time) []analytics.EquityPoint {
	out := make([]analytics.EquityPoint, 0, len(curve.points)+1)
	out = append(out, analytics.EquityPoint{I: 0, V: initialCash, Time: &start})
	for i, p := range curve.points {
		out = append(out, analytics.EquityPoint{I: i + 1, V: p.V, Time: p.Time})
	}
	return out
}

type curveEvent struct {
	date      time.Time
	symbolIdx int
	value     float64
}

// mergeMultiCurve streams each symbol's points as (date, symbol_idx, value)
// events, sorts by (date, symbol_idx), and emits combined points whose
// value is the sum of each symbol's last-known value, deduplicating
// same-date runs by keeping only the last point per date. lastKnown is
// seeded with each symbol's pre-trade starting allocation (cashPerSymbol),
// not its first post-trade value, and a leading {0, initialCash, nil}
// anchor is emitted first, matching the zero-curve case. baseline accounts
// for symbols that were requested but never produced a curve (resolution
// or backtest failure per step 4g) — their share of initialCash stays
// flat throughout.
func mergeMultiCurve(curves []symbolCurve, initialCash, cashPerSymbol float64) []analytics.EquityPoint {
	lastKnown := make([]float64, len(curves))
	for idx := range curves {
		lastKnown[idx] = cashPerSymbol
	}
	baseline := initialCash - cashPerSymbol*float64(len(curves))

	var events []curveEvent
	for idx, c := range curves {
		for _, p := range c.points {
			if p.Time == nil {
				continue
			}
			events = append(events, curveEvent{date: *p.Time, symbolIdx: idx, value: p.V})
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].date.Equal(events[j].date) {
			return events[i].date.Before(events[j].date)
		}
		return events[i].symbolIdx < events[j].symbolIdx
	})

	out := []analytics.EquityPoint{{I: 0, V: initialCash, Time: nil}}
	i := 0
	for i < len(events) {
		j := i
		for j < len(events) && events[j].date.Equal(events[i].date) {
			lastKnown[events[j].symbolIdx] = events[j].value
			j++
		}
		total := baseline
		for _, v := range lastKnown {
			total += v
		}
		date := events[i].date
		out = append(out, analytics.EquityPoint{I: len(out), V: total, Time: &date})
		i = j
	}
	return out
}
