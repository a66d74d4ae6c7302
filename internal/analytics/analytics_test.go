package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/cryptofunk/internal/portfolio"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestEquityMetricsFlatCurveHasZeroDrawdown(t *testing.T) {
	points := []EquityPoint{{I: 0, V: 1000}, {I: 1, V: 1000}}
	m := ComputeEquityMetrics(points, 1000)
	assert.InDelta(t, 0, m.MaxDrawdown, 1e-9)
	assert.InDelta(t, 1000, m.StartValue, 1e-9)
	assert.InDelta(t, 1000, m.EndValue, 1e-9)
}

func TestEquityMetricsDrawdownDetected(t *testing.T) {
	points := []EquityPoint{{I: 0, V: 1000}, {I: 1, V: 1200}, {I: 2, V: 900}, {I: 3, V: 1100}}
	m := ComputeEquityMetrics(points, 1000)
	assert.Less(t, m.MaxDrawdown, 0.0)
	assert.InDelta(t, (900.0-1200.0)/1200.0, m.MaxDrawdown, 1e-9)
	assert.Equal(t, 1, m.MaxDrawdownDuration)
}

func TestEquityMetricsNoPointsFallsBackToInitialCash(t *testing.T) {
	m := ComputeEquityMetrics(nil, 5000)
	assert.InDelta(t, 5000, m.StartValue, 1e-9)
	assert.InDelta(t, 5000, m.EndValue, 1e-9)
	assert.Equal(t, 1, m.Points)
}

func TestTradeMetricsWinRateAndProfitFactor(t *testing.T) {
	trades := []portfolio.TradeEvent{
		{Type: portfolio.TradeExit, RealizedPnL: 100},
		{Type: portfolio.TradeExit, RealizedPnL: -40},
		{Type: portfolio.TradeExit, RealizedPnL: 60},
		{Type: portfolio.TradeLong, RealizedPnL: 0}, // not an exit, excluded from win/loss counts
	}
	tm := ComputeTradeMetrics(trades)
	assert.Equal(t, 4, tm.Trades)
	assert.Equal(t, 3, tm.Exits)
	assert.Equal(t, 2, tm.Wins)
	assert.Equal(t, 1, tm.Losses)
	assert.InDelta(t, 2.0/3.0, tm.WinRate, 1e-9)
	require.NotNil(t, tm.ProfitFactor)
	assert.InDelta(t, 160.0/40.0, *tm.ProfitFactor, 1e-9)
}

func TestTradeMetricsNilProfitFactorWithNoLosses(t *testing.T) {
	trades := []portfolio.TradeEvent{{Type: portfolio.TradeExit, RealizedPnL: 10}}
	tm := ComputeTradeMetrics(trades)
	assert.Nil(t, tm.ProfitFactor)
}

func TestSymbolBreakdownSortedByNetRealizedThenSymbol(t *testing.T) {
	trades := []portfolio.TradeEvent{
		{Symbol: "AAA", Type: portfolio.TradeExit, RealizedPnL: 10},
		{Symbol: "BBB", Type: portfolio.TradeExit, RealizedPnL: 50},
		{Symbol: "CCC", Type: portfolio.TradeExit, RealizedPnL: 50},
	}
	rows := ComputeSymbolBreakdown(trades)
	require.Len(t, rows, 3)
	assert.Equal(t, "BBB", rows[0].Symbol)
	assert.Equal(t, "CCC", rows[1].Symbol)
	assert.Equal(t, "AAA", rows[2].Symbol)
}

func TestBusinessDayAxisExcludesWeekends(t *testing.T) {
	// 2024-01-05 is a Friday, 2024-01-08 is the following Monday.
	axis := businessDayAxis(date("2024-01-05"), date("2024-01-08"))
	require.Len(t, axis, 2)
	assert.Equal(t, date("2024-01-05"), axis[0])
	assert.Equal(t, date("2024-01-08"), axis[1])
}

func TestExpandEquityToDailyForwardFills(t *testing.T) {
	d1, d2 := date("2024-01-01"), date("2024-01-03") // Mon, Wed
	points := []EquityPoint{
		{I: 0, V: 1000, Time: &d1},
		{I: 1, V: 1100, Time: &d2},
	}
	values := expandEquityToDaily(points, 1000)
	// Business days: Mon 1/1, Tue 1/2, Wed 1/3
	require.Len(t, values, 3)
	assert.InDelta(t, 1000, values[0], 1e-9)
	assert.InDelta(t, 1000, values[1], 1e-9) // forward-filled from Monday
	assert.InDelta(t, 1100, values[2], 1e-9)
}
