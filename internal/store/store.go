// Package store is the persistence bridge of spec.md §4.7: an opaque
// key/value-plus-SQL store over the four logical tables of spec.md §6
// (settings, portfolios, strategies, runs). The core backtest/portfolio
// packages never import this package directly; only the HTTP layer and the
// run orchestrator do.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/cryptofunk/internal/portfolio"
)

// ErrNotFound is returned when a lookup by id or user finds no row.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateName is returned by CreateStrategy when the (user_id, name)
// pair already exists.
var ErrDuplicateName = errors.New("store: strategy name already exists for user")

// PositionState is the persisted shape of a portfolio.Position: it omits
// StockRef, which is never serialized (price history is re-fetched through
// the stock cache, not stored alongside the portfolio).
type PositionState struct {
	Symbol      string  `json:"symbol"`
	Quantity    float64 `json:"quantity"`
	AvgPrice    float64 `json:"avg_price"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// PortfolioState is the full persisted shape of portfolios.*_json columns
// plus the scalar cash column.
type PortfolioState struct {
	Cash        float64                 `json:"cash"`
	Positions   []PositionState         `json:"positions"`
	TradeLog    []portfolio.TradeEvent  `json:"trade_log"`
	EquityCurve []portfolio.EquityPoint `json:"equity_curve"`
	Realized    map[string]float64      `json:"realized"`
}

// ToPositionStates converts a live Portfolio's Positions map into the
// persisted, series-free representation.
func ToPositionStates(positions map[string]*portfolio.Position) []PositionState {
	out := make([]PositionState, 0, len(positions))
	for _, p := range positions {
		out = append(out, PositionState{
			Symbol:      p.Symbol,
			Quantity:    p.Quantity,
			AvgPrice:    p.AvgPrice,
			RealizedPnL: p.RealizedPnL,
		})
	}
	return out
}

// Strategy is one row of the strategies table.
type Strategy struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	ID           int64           `json:"id"`
	UserID       string          `json:"user_id"`
	StrategyID   int64           `json:"strategy_id"`
	StrategyName string          `json:"strategy_name"`
	Symbols      []string        `json:"symbols"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      time.Time       `json:"end_date"`
	Results      json.RawMessage `json:"results"`
	Portfolio    json.RawMessage `json:"portfolio,omitempty"`
	Metrics      json.RawMessage `json:"metrics,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Store is the persistence-bridge contract the core depends on per
// spec.md §4.7.
type Store interface {
	Init(ctx context.Context) error

	GetSettings(ctx context.Context, userID string) (Settings, error)
	SaveSettings(ctx context.Context, userID string, s Settings) error

	GetPortfolioState(ctx context.Context, userID string) (PortfolioState, error)
	SavePortfolioState(ctx context.Context, userID string, state PortfolioState) error

	GetStrategy(ctx context.Context, userID string, id int64) (Strategy, error)
	CreateStrategy(ctx context.Context, userID, name, code string) (Strategy, error)
	UpdateStrategy(ctx context.Context, userID string, id int64, name, code string) (Strategy, error)
	DeleteStrategy(ctx context.Context, userID string, id int64) error
	ListStrategies(ctx context.Context, userID string) ([]Strategy, error)

	SaveRun(ctx context.Context, run RunRecord) (RunRecord, error)
	GetRuns(ctx context.Context, userID string, limit int) ([]RunRecord, error)
	GetRun(ctx context.Context, userID string, id int64) (RunRecord, error)
	ClearRuns(ctx context.Context, userID string) error
}

// PostgresStore implements Store over a pgxpool connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// New wraps an already-connected pool. Callers typically pass db.DB.Pool().
func New(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Init creates the four tables if they do not already exist. Production
// deployments are expected to run internal/db's migration runner instead;
// Init exists so tests and local development can stand up a store without a
// migrations directory.
func (s *PostgresStore) Init(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS settings (
    user_id TEXT PRIMARY KEY,
    settings_json JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS portfolios (
    user_id TEXT PRIMARY KEY,
    cash DOUBLE PRECISION NOT NULL,
    positions_json JSONB NOT NULL,
    trade_log_json JSONB NOT NULL,
    equity_curve_json JSONB NOT NULL,
    realized_json JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS strategies (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    code TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE(user_id, name)
);
CREATE TABLE IF NOT EXISTS runs (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    strategy_id BIGINT,
    strategy_name TEXT,
    symbols_json JSONB NOT NULL,
    start_date TIMESTAMPTZ NOT NULL,
    end_date TIMESTAMPTZ NOT NULL,
    results_json JSONB NOT NULL,
    portfolio_json JSONB,
    metrics_json JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_runs_user_id ON runs(user_id);
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// GetSettings returns the user's settings merged with defaults. A user with
// no row yet gets DefaultSettings() rather than an error.
func (s *PostgresStore) GetSettings(ctx context.Context, userID string) (Settings, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT settings_json FROM settings WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("store: get settings: %w", err)
	}
	var stored Settings
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Settings{}, fmt.Errorf("store: decode settings: %w", err)
	}
	return mergeWithDefaults(stored), nil
}

// SaveSettings upserts the user's settings row.
func (s *PostgresStore) SaveSettings(ctx context.Context, userID string, settings Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("store: encode settings: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO settings (user_id, settings_json, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET settings_json = EXCLUDED.settings_json, updated_at = now()
	`, userID, raw)
	if err != nil {
		return fmt.Errorf("store: save settings: %w", err)
	}
	return nil
}

// GetPortfolioState returns a freshly funded state for a user who has never
// traded, per spec.md §9's "no row yet" handling.
func (s *PostgresStore) GetPortfolioState(ctx context.Context, userID string) (PortfolioState, error) {
	var cash float64
	var positionsRaw, tradeLogRaw, equityRaw, realizedRaw []byte

	err := s.pool.QueryRow(ctx, `
		SELECT cash, positions_json, trade_log_json, equity_curve_json, realized_json
		FROM portfolios WHERE user_id = $1
	`, userID).Scan(&cash, &positionsRaw, &tradeLogRaw, &equityRaw, &realizedRaw)

	if errors.Is(err, pgx.ErrNoRows) {
		settings, serr := s.GetSettings(ctx, userID)
		if serr != nil {
			return PortfolioState{}, serr
		}
		return PortfolioState{Cash: settings.InitialCash, Realized: map[string]float64{}}, nil
	}
	if err != nil {
		return PortfolioState{}, fmt.Errorf("store: get portfolio state: %w", err)
	}

	var state PortfolioState
	state.Cash = cash
	if err := json.Unmarshal(positionsRaw, &state.Positions); err != nil {
		return PortfolioState{}, fmt.Errorf("store: decode positions: %w", err)
	}
	if err := json.Unmarshal(tradeLogRaw, &state.TradeLog); err != nil {
		return PortfolioState{}, fmt.Errorf("store: decode trade log: %w", err)
	}
	if err := json.Unmarshal(equityRaw, &state.EquityCurve); err != nil {
		return PortfolioState{}, fmt.Errorf("store: decode equity curve: %w", err)
	}
	if err := json.Unmarshal(realizedRaw, &state.Realized); err != nil {
		return PortfolioState{}, fmt.Errorf("store: decode realized: %w", err)
	}
	if len(state.EquityCurve) == 0 && len(state.TradeLog) > 0 {
		state.EquityCurve = reconstructEquityCurve(state.TradeLog, state.Cash)
	}
	return state, nil
}

// reconstructEquityCurve rebuilds an equity curve from a trade log for rows
// written before the equity_curve_json column existed, per spec.md §9.
func reconstructEquityCurve(trades []portfolio.TradeEvent, finalCash float64) []portfolio.EquityPoint {
	points := make([]portfolio.EquityPoint, 0, len(trades))
	running := finalCash
	for i := len(trades) - 1; i >= 0; i-- {
		running -= trades[i].CashFlow
	}
	for i, t := range trades {
		running += t.CashFlow
		points = append(points, portfolio.EquityPoint{I: i, V: running, Time: t.Date})
	}
	return points
}

// runPortfolioBlob is the decoded shape of runs.portfolio_json, written by
// internal/api/backtest_handler.go's persistRun.
type runPortfolioBlob struct {
	InitialCash float64                 `json:"initial_cash"`
	TradeLog    []portfolio.TradeEvent  `json:"trade_log"`
	EquityCurve []portfolio.EquityPoint `json:"equity_curve"`
}

// legacyCurveTradeThreshold mirrors the original's "len(tl) > 2" guard: a
// handful of trades isn't enough to tell a genuinely flat run from a
// legacy 2-point stub, so reconstruction only kicks in past this count.
const legacyCurveTradeThreshold = 2

// reconstructLegacyRunCurve replays a run's portfolio_json in place when its
// embedded equity curve is a legacy {start, end} stub (spec.md §9: "runs
// persisted before full curves were stored keep only {start, end}; on read,
// the system reconstructs a curve by walking the trade log"). Returns raw
// unchanged if there's nothing to reconstruct.
func reconstructLegacyRunCurve(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var blob runPortfolioBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return raw, fmt.Errorf("store: decode run portfolio: %w", err)
	}
	if len(blob.EquityCurve) > 2 || len(blob.TradeLog) <= legacyCurveTradeThreshold {
		return raw, nil
	}
	blob.EquityCurve = ReconstructEquityCurve(blob.TradeLog, blob.InitialCash)
	rebuilt, err := json.Marshal(blob)
	if err != nil {
		return raw, fmt.Errorf("store: encode reconstructed run portfolio: %w", err)
	}
	return rebuilt, nil
}

// ReconstructEquityCurve rebuilds a run's equity curve from its trade_log
// for legacy rows, mirroring the original's get_value formula (cash +
// position*price, summed per symbol since a run's combined trade_log spans
// every symbol in the request) rather than just replaying cash deltas: a
// long/short still holding an open position at the end of the window must
// be marked to its last fill price, not valued at zero.
func ReconstructEquityCurve(trades []portfolio.TradeEvent, initialCash float64) []portfolio.EquityPoint {
	points := make([]portfolio.EquityPoint, 0, len(trades)+1)
	points = append(points, portfolio.EquityPoint{I: 0, V: initialCash, Time: nil})

	cash := initialCash
	position := map[string]float64{}
	lastPrice := map[string]float64{}

	for i, t := range trades {
		switch t.Type {
		case portfolio.TradeLong:
			cash -= t.CashFlow
			position[t.Symbol] += t.Quantity
		case portfolio.TradeShort:
			cash += t.CashFlow
			position[t.Symbol] -= t.Quantity
		case portfolio.TradeExit:
			cash += t.CashFlow
			if position[t.Symbol] > 0 {
				position[t.Symbol] -= t.Quantity
			} else {
				position[t.Symbol] += t.Quantity
			}
		}
		lastPrice[t.Symbol] = t.FillPrice

		value := cash
		for symbol, qty := range position {
			if qty != 0 {
				value += qty * lastPrice[symbol]
			}
		}
		points = append(points, portfolio.EquityPoint{I: i + 1, V: value, Time: t.Date})
	}
	return points
}

// SavePortfolioState upserts the user's portfolio row.
func (s *PostgresStore) SavePortfolioState(ctx context.Context, userID string, state PortfolioState) error {
	positionsRaw, err := json.Marshal(state.Positions)
	if err != nil {
		return fmt.Errorf("store: encode positions: %w", err)
	}
	tradeLogRaw, err := json.Marshal(state.TradeLog)
	if err != nil {
		return fmt.Errorf("store: encode trade log: %w", err)
	}
	equityRaw, err := json.Marshal(state.EquityCurve)
	if err != nil {
		return fmt.Errorf("store: encode equity curve: %w", err)
	}
	realized := state.Realized
	if realized == nil {
		realized = map[string]float64{}
	}
	realizedRaw, err := json.Marshal(realized)
	if err != nil {
		return fmt.Errorf("store: encode realized: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO portfolios (user_id, cash, positions_json, trade_log_json, equity_curve_json, realized_json, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (user_id) DO UPDATE SET
			cash = EXCLUDED.cash,
			positions_json = EXCLUDED.positions_json,
			trade_log_json = EXCLUDED.trade_log_json,
			equity_curve_json = EXCLUDED.equity_curve_json,
			realized_json = EXCLUDED.realized_json,
			updated_at = now()
	`, userID, state.Cash, positionsRaw, tradeLogRaw, equityRaw, realizedRaw)
	if err != nil {
		return fmt.Errorf("store: save portfolio state: %w", err)
	}
	return nil
}

// GetStrategy fetches one strategy owned by userID.
func (s *PostgresStore) GetStrategy(ctx context.Context, userID string, id int64) (Strategy, error) {
	var st Strategy
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, name, code, created_at FROM strategies WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&st.ID, &st.UserID, &st.Name, &st.Code, &st.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Strategy{}, ErrNotFound
	}
	if err != nil {
		return Strategy{}, fmt.Errorf("store: get strategy: %w", err)
	}
	return st, nil
}

// CreateStrategy inserts a new strategy; name must be unique per user.
func (s *PostgresStore) CreateStrategy(ctx context.Context, userID, name, code string) (Strategy, error) {
	var st Strategy
	err := s.pool.QueryRow(ctx, `
		INSERT INTO strategies (user_id, name, code, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, user_id, name, code, created_at
	`, userID, name, code).Scan(&st.ID, &st.UserID, &st.Name, &st.Code, &st.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Strategy{}, ErrDuplicateName
		}
		return Strategy{}, fmt.Errorf("store: create strategy: %w", err)
	}
	log.Debug().Str("user_id", userID).Str("name", name).Msg("strategy created")
	return st, nil
}

// UpdateStrategy renames/replaces the code of a strategy owned by userID.
func (s *PostgresStore) UpdateStrategy(ctx context.Context, userID string, id int64, name, code string) (Strategy, error) {
	var st Strategy
	err := s.pool.QueryRow(ctx, `
		UPDATE strategies SET name = $1, code = $2 WHERE id = $3 AND user_id = $4
		RETURNING id, user_id, name, code, created_at
	`, name, code, id, userID).Scan(&st.ID, &st.UserID, &st.Name, &st.Code, &st.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Strategy{}, ErrNotFound
	}
	if err != nil {
		if isUniqueViolation(err) {
			return Strategy{}, ErrDuplicateName
		}
		return Strategy{}, fmt.Errorf("store: update strategy: %w", err)
	}
	return st, nil
}

// DeleteStrategy removes a strategy owned by userID.
func (s *PostgresStore) DeleteStrategy(ctx context.Context, userID string, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM strategies WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("store: delete strategy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListStrategies returns all strategies owned by userID, newest first.
func (s *PostgresStore) ListStrategies(ctx context.Context, userID string) ([]Strategy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, name, code, created_at FROM strategies
		WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: list strategies: %w", err)
	}
	defer rows.Close()

	var out []Strategy
	for rows.Next() {
		var st Strategy
		if err := rows.Scan(&st.ID, &st.UserID, &st.Name, &st.Code, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan strategy: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SaveRun inserts a completed run and returns it with its assigned id.
func (s *PostgresStore) SaveRun(ctx context.Context, run RunRecord) (RunRecord, error) {
	symbolsRaw, err := json.Marshal(run.Symbols)
	if err != nil {
		return RunRecord{}, fmt.Errorf("store: encode symbols: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO runs (user_id, strategy_id, strategy_name, symbols_json, start_date, end_date, results_json, portfolio_json, metrics_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING id, created_at
	`, run.UserID, run.StrategyID, run.StrategyName, symbolsRaw, run.StartDate, run.EndDate, run.Results, run.Portfolio, run.Metrics).
		Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return RunRecord{}, fmt.Errorf("store: save run: %w", err)
	}
	return run, nil
}

// GetRuns returns up to limit runs for a user, newest first.
func (s *PostgresStore) GetRuns(ctx context.Context, userID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, strategy_id, strategy_name, symbols_json, start_date, end_date, results_json, portfolio_json, metrics_json, created_at
		FROM runs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var symbolsRaw []byte
		if err := rows.Scan(&r.ID, &r.UserID, &r.StrategyID, &r.StrategyName, &symbolsRaw,
			&r.StartDate, &r.EndDate, &r.Results, &r.Portfolio, &r.Metrics, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		if err := json.Unmarshal(symbolsRaw, &r.Symbols); err != nil {
			return nil, fmt.Errorf("store: decode run symbols: %w", err)
		}
		reconstructed, err := reconstructLegacyRunCurve(r.Portfolio)
		if err != nil {
			return nil, err
		}
		r.Portfolio = reconstructed
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun fetches a single run owned by userID.
func (s *PostgresStore) GetRun(ctx context.Context, userID string, id int64) (RunRecord, error) {
	var r RunRecord
	var symbolsRaw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, strategy_id, strategy_name, symbols_json, start_date, end_date, results_json, portfolio_json, metrics_json, created_at
		FROM runs WHERE id = $1 AND user_id = $2
	`, id, userID).Scan(&r.ID, &r.UserID, &r.StrategyID, &r.StrategyName, &symbolsRaw,
		&r.StartDate, &r.EndDate, &r.Results, &r.Portfolio, &r.Metrics, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("store: get run: %w", err)
	}
	if err := json.Unmarshal(symbolsRaw, &r.Symbols); err != nil {
		return RunRecord{}, fmt.Errorf("store: decode run symbols: %w", err)
	}
	reconstructed, err := reconstructLegacyRunCurve(r.Portfolio)
	if err != nil {
		return RunRecord{}, err
	}
	r.Portfolio = reconstructed
	return r, nil
}

// ClearRuns deletes every run for a user.
func (s *PostgresStore) ClearRuns(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM runs WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("store: clear runs: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
