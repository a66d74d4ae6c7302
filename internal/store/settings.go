package store

// Settings is the per-user persisted record described in spec.md §3. Every
// field is recognized by the portfolio/orchestrator layer. A stored JSON blob
// is decoded into this struct, so keys it does not name are dropped on read
// and are not written back by SaveSettings.
type Settings struct {
	InitialCash            float64  `json:"initial_cash"`
	Slippage               float64  `json:"slippage"`
	Commission             float64  `json:"commission"`
	CommissionPerOrder     float64  `json:"commission_per_order"`
	CommissionPerShare     float64  `json:"commission_per_share"`
	AllowShort             bool     `json:"allow_short"`
	MaxPositions           int      `json:"max_positions"`
	MaxPositionPct         float64  `json:"max_position_pct"`
	MinCashReservePct      float64  `json:"min_cash_reserve_pct"`
	MinTradeValue          float64  `json:"min_trade_value"`
	MaxTradeValue          float64  `json:"max_trade_value"`
	MaxOrderQty            float64  `json:"max_order_qty"`
	ShortMarginRequirement float64  `json:"short_margin_requirement"`
	AutoLiquidateEnd       bool     `json:"auto_liquidate_end"`
	ShareMinPct            float64  `json:"share_min_pct"`
	Watchlist              []string `json:"watchlist"`

	// SharePrecision is the legacy (0,1,2) encoding of share rounding. It is
	// only consulted by mergeWithDefaults when ShareMinPct is absent from the
	// stored JSON, per spec.md §4.7.
	SharePrecision *int `json:"share_precision,omitempty"`
}

// DefaultSettings returns the permissive defaults a brand-new user starts
// with, mirroring portfolio.DefaultConfig where the two overlap.
func DefaultSettings() Settings {
	return Settings{
		InitialCash:            100000,
		AllowShort:             true,
		ShortMarginRequirement: 1.5,
		ShareMinPct:            100,
		AutoLiquidateEnd:       true,
		Watchlist:              []string{},
	}
}

// sharePrecisionToMinPct maps the legacy 0/1/2 encoding to the share_min_pct
// domain (100 => whole shares, 10 => one decimal, 1 => two decimals).
func sharePrecisionToMinPct(precision int) float64 {
	switch precision {
	case 1:
		return 10
	case 2:
		return 1
	default:
		return 100
	}
}

// mergeWithDefaults fills a zero InitialCash or ShortMarginRequirement and a
// nil Watchlist from DefaultSettings, and sets a zero ShareMinPct from the
// legacy share_precision when present, else from the default. Other fields
// keep their decoded value, so an absent allow_short or auto_liquidate_end
// reads as false. A freshly decoded Settings value
// with an explicit zero (e.g. commission-free) is indistinguishable from an
// absent field at the Go level; the original source accepts this and so do
// we (see spec.md §9 open questions).
func mergeWithDefaults(stored Settings) Settings {
	def := DefaultSettings()

	if stored.ShareMinPct == 0 {
		if stored.SharePrecision != nil {
			stored.ShareMinPct = sharePrecisionToMinPct(*stored.SharePrecision)
		} else {
			stored.ShareMinPct = def.ShareMinPct
		}
	}
	if stored.InitialCash == 0 {
		stored.InitialCash = def.InitialCash
	}
	if stored.ShortMarginRequirement == 0 {
		stored.ShortMarginRequirement = def.ShortMarginRequirement
	}
	if stored.Watchlist == nil {
		stored.Watchlist = def.Watchlist
	}
	return stored
}
