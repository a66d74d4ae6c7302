package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/cryptofunk/internal/priceseries"
	"github.com/ajitpratap0/cryptofunk/internal/store"
)

func runStrategyOnce(t *testing.T, s *Server, name string) store.RunRecord {
	t.Helper()
	st := createStrategy(t, s, name, validStrategyCode)

	req := runStrategyRequest{
		StrategyID: st.ID,
		Symbols:    []string{"AAPL"},
		StartDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}
	body, _ := json.Marshal(req)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, authedRequest(http.MethodPost, "/strategies/run", body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var record store.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	return record
}

func TestHandleListRunsDefaultsLimit(t *testing.T) {
	provider := &fakeProvider{series: map[string][]priceseries.Candle{"AAPL": flatSeries(10, 100)}}
	s := newTestServer(newMemStore(), provider)
	runStrategyOnce(t, s, "strat-a")
	runStrategyOnce(t, s, "strat-b")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, authedRequest(http.MethodGet, "/runs", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var runs []store.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	assert.Len(t, runs, 2)
}

func TestHandleListRunsRespectsLimitParam(t *testing.T) {
	provider := &fakeProvider{series: map[string][]priceseries.Candle{"AAPL": flatSeries(10, 100)}}
	s := newTestServer(newMemStore(), provider)
	for i := 0; i < 3; i++ {
		runStrategyOnce(t, s, fmt.Sprintf("strat-%d", i))
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, authedRequest(http.MethodGet, "/runs?limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var runs []store.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)
}

func TestHandleGetRunNotFound(t *testing.T) {
	s := newTestServer(newMemStore(), &fakeProvider{})

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, authedRequest(http.MethodGet, "/runs/42", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleGetRunReturnsPersistedRun(t *testing.T) {
	provider := &fakeProvider{series: map[string][]priceseries.Candle{"AAPL": flatSeries(10, 100)}}
	s := newTestServer(newMemStore(), provider)
	saved := runStrategyOnce(t, s, "strat-c")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, authedRequest(http.MethodGet, fmt.Sprintf("/runs/%d", saved.ID), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var run store.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, saved.ID, run.ID)
}

func TestHandleClearRunsEmptiesHistory(t *testing.T) {
	provider := &fakeProvider{series: map[string][]priceseries.Candle{"AAPL": flatSeries(10, 100)}}
	s := newTestServer(newMemStore(), provider)
	runStrategyOnce(t, s, "strat-d")

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, authedRequest(http.MethodDelete, "/runs", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w2 := httptest.NewRecorder()
	s.router.ServeHTTP(w2, authedRequest(http.MethodGet, "/runs", nil))
	var runs []store.RunRecord
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &runs))
	assert.Empty(t, runs)
}
