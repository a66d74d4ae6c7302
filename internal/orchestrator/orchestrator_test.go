package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/cryptofunk/internal/portfolio"
	"github.com/ajitpratap0/cryptofunk/internal/priceseries"
	"github.com/ajitpratap0/cryptofunk/internal/store"
)

type fakeResolver struct {
	series map[string]*priceseries.Series
	err    error
}

func (f *fakeResolver) GetSeries(ctx context.Context, symbol string, start, end time.Time) (*priceseries.Series, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.series[symbol]
	if !ok {
		return nil, assert.AnError
	}
	return s, nil
}

func risingSeries(t *testing.T, symbol string, n int) *priceseries.Series {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]priceseries.Candle, n)
	for i := 0; i < n; i++ {
		px := float64(10 + i)
		candles[i] = priceseries.Candle{Date: base.AddDate(0, 0, i), Open: px, High: px, Low: px, Close: px}
	}
	s, err := priceseries.Load(symbol, candles)
	require.NoError(t, err)
	return s
}

const buyAndHold = `if (position() == 0) { buy(1); }`

func TestRunRejectsEmptySymbolList(t *testing.T) {
	o := New(&fakeResolver{})
	_, err := o.Run(context.Background(), Request{StrategyCode: buyAndHold}, store.DefaultSettings())
	assert.Error(t, err)
}

func TestRunRejectsInvalidTrainPct(t *testing.T) {
	o := New(&fakeResolver{})
	bad := 1.5
	_, err := o.Run(context.Background(), Request{StrategyCode: buyAndHold, Symbols: []string{"AAPL"}, TrainPct: &bad}, store.DefaultSettings())
	assert.Error(t, err)
}

func TestRunSingleSymbolPrependsInitialCashPoint(t *testing.T) {
	series := risingSeries(t, "AAPL", 5)
	o := New(&fakeResolver{series: map[string]*priceseries.Series{"AAPL": series}})

	settings := store.DefaultSettings()
	settings.InitialCash = 10000
	req := Request{
		StrategyCode: buyAndHold,
		Symbols:      []string{"AAPL"},
		Start:        series.Date(0),
		End:          series.Date(4),
	}

	out, err := o.Run(context.Background(), req, settings)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "AAPL", out.Results[0].Symbol)
	assert.Empty(t, out.Results[0].Error)

	require.NotEmpty(t, out.EquityCurve)
	assert.InDelta(t, 10000, out.EquityCurve[0].V, 1e-9)
}

func TestRunRecordsPerSymbolErrorAndContinues(t *testing.T) {
	series := risingSeries(t, "AAPL", 5)
	o := New(&fakeResolver{series: map[string]*priceseries.Series{"AAPL": series}})

	req := Request{
		StrategyCode: buyAndHold,
		Symbols:      []string{"AAPL", "MISSING"},
		Start:        series.Date(0),
		End:          series.Date(4),
	}

	out, err := o.Run(context.Background(), req, store.DefaultSettings())
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	assert.Empty(t, out.Results[0].Error)
	assert.NotEmpty(t, out.Results[1].Error)
}

func TestRunZeroSuccessfulSymbolsProducesTwoPointCurve(t *testing.T) {
	o := New(&fakeResolver{})
	req := Request{
		StrategyCode: buyAndHold,
		Symbols:      []string{"MISSING"},
		Start:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
	}

	out, err := o.Run(context.Background(), req, store.DefaultSettings())
	require.NoError(t, err)
	require.Len(t, out.EquityCurve, 2)
	assert.Nil(t, out.EquityCurve[0].Time)
	require.NotNil(t, out.EquityCurve[1].Time)
	assert.Equal(t, req.End, *out.EquityCurve[1].Time)
}

// TestRunMultiSymbolMergesCurvesWithInitialCashAnchor hand-simulates
// spec.md's Scenario 6: symbol A trades from a 500 start to 520 on Jan5
// then 515 on Jan10, symbol B trades from a 500 start to 490 on Jan7.
// The merged curve must anchor at (0, 1000, nil) — not double-count A's
// starting cash as an already-realized trade value — and each later
// point must be the sum of each symbol's last-known value.
func TestRunMultiSymbolMergesCurvesWithInitialCashAnchor(t *testing.T) {
	jan5 := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	jan7 := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	jan10 := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	curves := []symbolCurve{
		{symbol: "A", points: []portfolio.EquityPoint{
			{I: 0, V: 520, Time: &jan5},
			{I: 1, V: 515, Time: &jan10},
		}},
		{symbol: "B", points: []portfolio.EquityPoint{
			{I: 0, V: 490, Time: &jan7},
		}},
	}

	out := mergeMultiCurve(curves, 1000, 500)

	require.Len(t, out, 4)
	assert.Nil(t, out[0].Time)
	assert.InDelta(t, 1000, out[0].V, 1e-9)
	require.NotNil(t, out[1].Time)
	assert.True(t, out[1].Time.Equal(jan5))
	assert.InDelta(t, 1020, out[1].V, 1e-9)
	require.NotNil(t, out[2].Time)
	assert.True(t, out[2].Time.Equal(jan7))
	assert.InDelta(t, 1010, out[2].V, 1e-9)
	require.NotNil(t, out[3].Time)
	assert.True(t, out[3].Time.Equal(jan10))
	assert.InDelta(t, 1005, out[3].V, 1e-9)
}

func TestRunWithTrainPctPopulatesBothReports(t *testing.T) {
	series := risingSeries(t, "AAPL", 10)
	o := New(&fakeResolver{series: map[string]*priceseries.Series{"AAPL": series}})

	pct := 0.5
	req := Request{
		StrategyCode: buyAndHold,
		Symbols:      []string{"AAPL"},
		Start:        series.Date(0),
		End:          series.Date(9),
		TrainPct:     &pct,
	}

	out, err := o.Run(context.Background(), req, store.DefaultSettings())
	require.NoError(t, err)
	require.NotNil(t, out.TrainReport)
	require.NotNil(t, out.TestReport)
}
