package backtestdriver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/cryptofunk/internal/priceseries"
)

type recordingStrategy struct {
	started, ended int
	updates        []int
	startCalled    bool
	endCalled      bool
}

func (r *recordingStrategy) Start(i int) error { r.startCalled = true; r.started = i; return nil }
func (r *recordingStrategy) Update(i int) error { r.updates = append(r.updates, i); return nil }
func (r *recordingStrategy) End(i int) error    { r.endCalled = true; r.ended = i; return nil }

func mustSeries(t *testing.T, n int) *priceseries.Series {
	t.Helper()
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]priceseries.Candle, n)
	for i := 0; i < n; i++ {
		px := float64(10 + i)
		candles[i] = priceseries.Candle{Date: base.AddDate(0, 0, i), Open: px, High: px, Low: px, Close: px}
	}
	s, err := priceseries.Load("X", candles)
	require.NoError(t, err)
	return s
}

func TestRunCallsHooksInOrder(t *testing.T) {
	series := mustSeries(t, 5)
	strat := &recordingStrategy{}
	start := series.Date(0)
	end := series.Date(4)

	require.NoError(t, Run(series, strat, start, end))
	assert.True(t, strat.startCalled)
	assert.True(t, strat.endCalled)
	assert.Equal(t, 0, strat.started)
	assert.Equal(t, 4, strat.ended)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, strat.updates)
}

func TestRunNoOpWhenStartAfterEnd(t *testing.T) {
	series := mustSeries(t, 5)
	strat := &recordingStrategy{}
	start := series.Date(4)
	end := series.Date(0)

	require.NoError(t, Run(series, strat, start, end))
	assert.False(t, strat.startCalled)
	assert.False(t, strat.endCalled)
	assert.Nil(t, strat.updates)
}

func TestRunPropagatesStrategyError(t *testing.T) {
	series := mustSeries(t, 3)
	strat := &erroringStrategy{failOn: 1}
	err := Run(series, strat, series.Date(0), series.Date(2))
	assert.Error(t, err)
}

type erroringStrategy struct{ failOn int }

func (e *erroringStrategy) Start(i int) error { return nil }
func (e *erroringStrategy) Update(i int) error {
	if i == e.failOn {
		return assert.AnError
	}
	return nil
}
func (e *erroringStrategy) End(i int) error { return nil }
