package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/cryptofunk/internal/priceseries"
	"github.com/ajitpratap0/cryptofunk/internal/store"
)

const validStrategyCode = `
on_start {
	buy(10);
}
on_end {
	exit(position());
}
`

func createStrategy(t *testing.T, s *Server, name, code string) store.Strategy {
	t.Helper()
	body, _ := json.Marshal(strategyRequest{Name: name, Code: code})
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, authedRequest(http.MethodPost, "/strategies", body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var st store.Strategy
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	return st
}

func TestHandleCreateStrategyRejectsBadSyntax(t *testing.T) {
	s := newTestServer(newMemStore(), &fakeProvider{})

	body, _ := json.Marshal(strategyRequest{Name: "bad", Code: "on_start { import os; }"})
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, authedRequest(http.MethodPost, "/strategies", body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCreateStrategyRejectsDuplicateName(t *testing.T) {
	s := newTestServer(newMemStore(), &fakeProvider{})
	createStrategy(t, s, "dup", validStrategyCode)

	body, _ := json.Marshal(strategyRequest{Name: "dup", Code: validStrategyCode})
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, authedRequest(http.MethodPost, "/strategies", body))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetStrategyNotFound(t *testing.T) {
	s := newTestServer(newMemStore(), &fakeProvider{})

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, authedRequest(http.MethodGet, "/strategies/999", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleListAndDeleteStrategy(t *testing.T) {
	s := newTestServer(newMemStore(), &fakeProvider{})
	createStrategy(t, s, "first", validStrategyCode)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, authedRequest(http.MethodGet, "/strategies", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var list []store.Strategy
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)

	w2 := httptest.NewRecorder()
	s.router.ServeHTTP(w2, authedRequest(http.MethodDelete, "/strategies/1", nil))
	assert.Equal(t, http.StatusNoContent, w2.Code)
}

func TestHandleRunStrategyEndToEnd(t *testing.T) {
	provider := &fakeProvider{series: map[string][]priceseries.Candle{"AAPL": flatSeries(10, 100)}}
	s := newTestServer(newMemStore(), provider)
	st := createStrategy(t, s, "runnable", validStrategyCode)

	req := runStrategyRequest{
		StrategyID: st.ID,
		Symbols:    []string{"aapl"},
		StartDate:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:    time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}
	body, _ := json.Marshal(req)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, authedRequest(http.MethodPost, "/strategies/run", body))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var record store.RunRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, "runnable", record.StrategyName)
	assert.NotZero(t, record.ID)
}
