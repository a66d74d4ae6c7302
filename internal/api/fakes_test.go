package api

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/cryptofunk/internal/marketdata"
	"github.com/ajitpratap0/cryptofunk/internal/orchestrator"
	"github.com/ajitpratap0/cryptofunk/internal/priceseries"
	"github.com/ajitpratap0/cryptofunk/internal/store"
)

// memStore is an in-process store.Store used by handler tests in place of
// PostgresStore, mirroring cache_test.go's fakeProvider pattern.
type memStore struct {
	mu         sync.Mutex
	settings   map[string]store.Settings
	portfolios map[string]store.PortfolioState
	strategies map[int64]store.Strategy
	nextID     int64
	runs       map[int64]store.RunRecord
	nextRunID  int64
}

func newMemStore() *memStore {
	return &memStore{
		settings:   map[string]store.Settings{},
		portfolios: map[string]store.PortfolioState{},
		strategies: map[int64]store.Strategy{},
		runs:       map[int64]store.RunRecord{},
	}
}

func (m *memStore) Init(ctx context.Context) error { return nil }

func (m *memStore) GetSettings(ctx context.Context, userID string) (store.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.settings[userID]; ok {
		return s, nil
	}
	return store.DefaultSettings(), nil
}

func (m *memStore) SaveSettings(ctx context.Context, userID string, s store.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[userID] = s
	return nil
}

func (m *memStore) GetPortfolioState(ctx context.Context, userID string) (store.PortfolioState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.portfolios[userID]; ok {
		return p, nil
	}
	return store.PortfolioState{Cash: 100000, Realized: map[string]float64{}}, nil
}

func (m *memStore) SavePortfolioState(ctx context.Context, userID string, state store.PortfolioState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolios[userID] = state
	return nil
}

func (m *memStore) GetStrategy(ctx context.Context, userID string, id int64) (store.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.strategies[id]
	if !ok || st.UserID != userID {
		return store.Strategy{}, store.ErrNotFound
	}
	return st, nil
}

func (m *memStore) CreateStrategy(ctx context.Context, userID, name, code string) (store.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.strategies {
		if st.UserID == userID && st.Name == name {
			return store.Strategy{}, store.ErrDuplicateName
		}
	}
	m.nextID++
	st := store.Strategy{ID: m.nextID, UserID: userID, Name: name, Code: code, CreatedAt: time.Now()}
	m.strategies[st.ID] = st
	return st, nil
}

func (m *memStore) UpdateStrategy(ctx context.Context, userID string, id int64, name, code string) (store.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.strategies[id]
	if !ok || st.UserID != userID {
		return store.Strategy{}, store.ErrNotFound
	}
	for _, other := range m.strategies {
		if other.ID != id && other.UserID == userID && other.Name == name {
			return store.Strategy{}, store.ErrDuplicateName
		}
	}
	st.Name, st.Code = name, code
	m.strategies[id] = st
	return st, nil
}

func (m *memStore) DeleteStrategy(ctx context.Context, userID string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.strategies[id]
	if !ok || st.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.strategies, id)
	return nil
}

func (m *memStore) ListStrategies(ctx context.Context, userID string) ([]store.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Strategy
	for _, st := range m.strategies {
		if st.UserID == userID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (m *memStore) SaveRun(ctx context.Context, run store.RunRecord) (store.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRunID++
	run.ID = m.nextRunID
	run.CreatedAt = time.Now()
	m.runs[run.ID] = run
	return run, nil
}

func (m *memStore) GetRuns(ctx context.Context, userID string, limit int) ([]store.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.RunRecord
	for _, r := range m.runs {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetRun(ctx context.Context, userID string, id int64) (store.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok || r.UserID != userID {
		return store.RunRecord{}, store.ErrNotFound
	}
	return r, nil
}

func (m *memStore) ClearRuns(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.runs {
		if r.UserID == userID {
			delete(m.runs, id)
		}
	}
	return nil
}

var _ store.Store = (*memStore)(nil)

// fakeProvider is an in-process marketdata.Provider serving a fixed daily
// series so handler tests never reach the network.
type fakeProvider struct {
	series map[string][]priceseries.Candle
	err    error
}

func flatSeries(days int, start float64) []priceseries.Candle {
	out := make([]priceseries.Candle, days)
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := start
	for i := 0; i < days; i++ {
		out[i] = priceseries.Candle{Date: date, Open: price, High: price, Low: price, Close: price}
		date = date.AddDate(0, 0, 1)
		price += 0.1
	}
	return out
}

func (p *fakeProvider) FetchSeries(ctx context.Context, symbol string, start, end time.Time) (*priceseries.Series, error) {
	if p.err != nil {
		return nil, p.err
	}
	candles, ok := p.series[symbol]
	if !ok {
		return nil, errSymbolUnknown
	}
	return priceseries.Load(symbol, candles)
}

func (p *fakeProvider) Search(ctx context.Context, query string) ([]marketdata.SearchResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	return []marketdata.SearchResult{{Symbol: "AAPL", Name: "Apple Inc."}}, nil
}

func (p *fakeProvider) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	candles, ok := p.series[symbol]
	if !ok || len(candles) == 0 {
		return 0, errSymbolUnknown
	}
	return candles[len(candles)-1].Close, nil
}

var errSymbolUnknown = &symbolUnknownError{}

type symbolUnknownError struct{}

func (*symbolUnknownError) Error() string { return "unknown symbol" }

// newTestServer wires a Server over in-memory fakes, verifying any bearer
// token as "test-user", for handler tests that exercise routing + JSON
// binding rather than persistence or market-data internals.
func newTestServer(st store.Store, provider *fakeProvider) *Server {
	cache := marketdata.NewCache(provider)
	orch := orchestrator.New(cache)
	return NewServer(Config{
		Host:         "127.0.0.1",
		Port:         0,
		Store:        st,
		Orchestrator: orch,
		MarketData:   cache,
		Verifier:     &stubVerifier{uid: "test-user"},
		Auth:         AuthConfig{},
		CORSOrigins:  []string{"http://localhost"},
	})
}
