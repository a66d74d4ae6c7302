// Package portfolio implements the paper-trading portfolio state machine:
// cash, signed per-symbol positions with running average cost and realized
// P&L, fill pricing with slippage and commission, and the projected-margin
// admission check.
package portfolio

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/cryptofunk/internal/priceseries"
)

const (
	epsFine   = 1e-9 // admission tolerance away from the margin projection
	epsMargin = 1e-6 // margin-projection admission tolerance
)

// TradeType identifies the kind of fill recorded in the trade log.
type TradeType string

const (
	TradeLong  TradeType = "long"
	TradeShort TradeType = "short"
	TradeExit  TradeType = "exit"
)

// Position is the open state for one symbol. Invariant: Quantity == 0 means
// the Portfolio holds no entry for the symbol at all (applyLongFill,
// applyShortFill and ExitPosition delete the entry when a fill brings it to
// zero).
type Position struct {
	Symbol      string
	StockRef    *priceseries.Series
	Quantity    float64 // signed: positive long, negative short
	AvgPrice    float64 // weighted average cost of the open side
	RealizedPnL float64 // accumulated realized P&L for this symbol
}

// TradeEvent is one fill.
type TradeEvent struct {
	Type          TradeType
	Symbol        string
	Quantity      float64
	RawPrice      float64
	FillPrice     float64
	CashFlowLabel string // "cost", "proceeds", or "amount"
	CashFlow      float64
	Commission    float64
	RealizedPnL   float64
	BarIndex      int
	Date          *time.Time
}

// EquityPoint is a (trade count, portfolio value) pair appended after every
// fill.
type EquityPoint struct {
	I    int
	V    float64
	Time *time.Time
}

// Config holds the slippage/commission policy and constraint set. A zero
// value for any constraint field means "unlimited" (per spec.md §3).
type Config struct {
	Slippage               float64 // decimal in [0,1)
	CommissionPct          float64 // percent-of-notional, decimal in [0,1)
	CommissionPerOrder     float64
	CommissionPerShare     float64
	AllowShort             bool
	ShortMarginRequirement float64 // >= 1, typically 1.5
	ShareMinPct            float64 // 100 => whole shares, 10 => 0.1, 1 => 0.01

	MaxPositions      int     // 0 => unlimited
	MaxPositionPct    float64 // 0 => unlimited
	MinCashReservePct float64 // 0 => unlimited
	MinTradeValue     float64 // 0 => unlimited
	MaxTradeValue     float64 // 0 => unlimited
	MaxOrderQty       float64 // 0 => unlimited
}

// DefaultConfig returns the permissive defaults the original source ships.
func DefaultConfig() Config {
	return Config{
		AllowShort:             true,
		ShortMarginRequirement: 1.5,
		ShareMinPct:            100,
	}
}

// Portfolio is cash + positions + trade log + equity curve for one user (or
// one backtest leg).
type Portfolio struct {
	Cash        float64
	Positions   map[string]*Position
	Realized    map[string]float64
	TradeLog    []TradeEvent
	EquityCurve []EquityPoint
	Config      Config
}

// New creates an empty, funded portfolio.
func New(initialCash float64, cfg Config) *Portfolio {
	return &Portfolio{
		Cash:      initialCash,
		Positions: make(map[string]*Position),
		Realized:  make(map[string]float64),
		Config:    cfg,
	}
}

func (p *Portfolio) shareUnit() float64 {
	pct := p.Config.ShareMinPct
	if pct <= 0 {
		pct = 100
	}
	return pct / 100.0
}

func roundHalfAwayFromZero(x float64) float64 {
	if x >= 0 {
		return math.Floor(x + 0.5)
	}
	return math.Ceil(x - 0.5)
}

// roundQuantity rounds qty to the nearest multiple of the configured share
// increment using half-away-from-zero rounding.
func (p *Portfolio) roundQuantity(qty float64) float64 {
	unit := p.shareUnit()
	return roundHalfAwayFromZero(qty/unit) * unit
}

func (p *Portfolio) fillPrice(buy bool, raw float64) float64 {
	if buy {
		return raw * (1 + p.Config.Slippage)
	}
	return raw * (1 - p.Config.Slippage)
}

func (p *Portfolio) commission(qty float64, notional float64) float64 {
	if p.Config.CommissionPerOrder > 0 || p.Config.CommissionPerShare > 0 {
		return p.Config.CommissionPerOrder + p.Config.CommissionPerShare*math.Abs(qty)
	}
	return p.Config.CommissionPct * notional
}

// GetValue returns cash + sum(close(index) * qty) over open positions. A
// nil index uses each position's own latest bar.
func (p *Portfolio) GetValue(index *int) float64 {
	v := p.Cash
	for _, pos := range p.Positions {
		idx := pos.StockRef.Len() - 1
		if index != nil {
			idx = *index
			if idx >= pos.StockRef.Len() {
				idx = pos.StockRef.Len() - 1
			}
			if idx < 0 {
				idx = 0
			}
		}
		v += pos.StockRef.Price(idx) * pos.Quantity
	}
	return v
}

// GetShortMarketValue sums |qty| * price(index) over short positions.
func (p *Portfolio) GetShortMarketValue(index *int) float64 {
	mv := 0.0
	for _, pos := range p.Positions {
		if pos.Quantity >= 0 {
			continue
		}
		idx := resolveIndex(pos.StockRef, index)
		mv += pos.StockRef.Price(idx) * math.Abs(pos.Quantity)
	}
	return mv
}

func resolveIndex(s *priceseries.Series, index *int) int {
	if index == nil {
		return s.Len() - 1
	}
	idx := *index
	if idx >= s.Len() {
		idx = s.Len() - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// GetReservedCash returns margin_req*short_MV + min_cash_reserve_pct*equity.
func (p *Portfolio) GetReservedCash(index *int) float64 {
	equity := p.GetValue(index)
	shortMV := p.GetShortMarketValue(index)
	shortReserve := 0.0
	if shortMV > 0 {
		shortReserve = p.Config.ShortMarginRequirement * shortMV
	}
	cashReserve := 0.0
	if p.Config.MinCashReservePct > 0 {
		cashReserve = p.Config.MinCashReservePct * math.Max(0, equity)
	}
	return shortReserve + cashReserve
}

// GetBuyingPower returns cash minus reserved cash.
func (p *Portfolio) GetBuyingPower(index *int) float64 {
	return p.Cash - p.GetReservedCash(index)
}

type projectedPosition struct {
	series *priceseries.Series
	qty    float64
}

func (p *Portfolio) reservedCashProjected(cashAfter float64, positionsAfter map[string]projectedPosition, index int) float64 {
	equity := cashAfter
	shortMV := 0.0
	for _, pp := range positionsAfter {
		idx := resolveIndex(pp.series, &index)
		px := pp.series.Price(idx)
		equity += px * pp.qty
		if pp.qty < 0 {
			shortMV += px * math.Abs(pp.qty)
		}
	}
	shortReserve := 0.0
	if shortMV > 0 {
		shortReserve = p.Config.ShortMarginRequirement * shortMV
	}
	cashReserve := 0.0
	if p.Config.MinCashReservePct > 0 {
		cashReserve = p.Config.MinCashReservePct * math.Max(0, equity)
	}
	return shortReserve + cashReserve
}

// order describes a prospective buy or short-sell for admission checking.
type order struct {
	symbol     string
	series     *priceseries.Series
	buy        bool // true=buy/long-open-or-cover, false=sell/short-open-or-reduce
	quantity   float64
	barIndex   int
	rawPrice   float64
	fillPrice  float64
	tradeValue float64
	cashChange float64
	commission float64
}

// checkAdmission runs the 8-step admission sequence from spec.md §4.2.
func (p *Portfolio) checkAdmission(o order) error {
	if o.quantity <= 0 {
		return fmt.Errorf("validation: quantity must be positive after rounding")
	}
	if p.Config.MaxOrderQty > 0 && o.quantity > p.Config.MaxOrderQty {
		return fmt.Errorf("validation: order quantity %.8f exceeds max_order_qty %.8f", o.quantity, p.Config.MaxOrderQty)
	}
	if p.Config.MinTradeValue > 0 && o.tradeValue < p.Config.MinTradeValue {
		return fmt.Errorf("validation: trade value %.2f is below min_trade_value %.2f", o.tradeValue, p.Config.MinTradeValue)
	}
	if p.Config.MaxTradeValue > 0 && o.tradeValue > p.Config.MaxTradeValue {
		return fmt.Errorf("validation: trade value %.2f exceeds max_trade_value %.2f", o.tradeValue, p.Config.MaxTradeValue)
	}

	_, hasPosition := p.Positions[o.symbol]
	if !hasPosition && p.Config.MaxPositions > 0 && len(p.Positions) >= p.Config.MaxPositions {
		return fmt.Errorf("validation: max_positions reached (%d)", p.Config.MaxPositions)
	}

	equityPre := p.GetValue(&o.barIndex)
	if p.Config.MaxPositionPct > 0 {
		cap := equityPre * p.Config.MaxPositionPct
		if o.tradeValue > cap+epsFine {
			return fmt.Errorf("validation: trade value %.2f exceeds max_position_pct cap %.2f", o.tradeValue, cap)
		}
	}

	if o.buy && p.Config.MinCashReservePct > 0 && equityPre > 0 {
		reserve := equityPre * p.Config.MinCashReservePct
		cashAfter := p.Cash + o.cashChange
		if cashAfter < reserve-epsFine {
			return fmt.Errorf("validation: trade would violate min_cash_reserve_pct")
		}
	}

	if o.cashChange < 0 {
		need := -o.cashChange
		if p.Cash+epsFine < need {
			return fmt.Errorf("validation: insufficient cash for order")
		}
	}

	positionsAfter := make(map[string]projectedPosition, len(p.Positions)+1)
	for sym, pos := range p.Positions {
		positionsAfter[sym] = projectedPosition{series: pos.StockRef, qty: pos.Quantity}
	}
	curQty := 0.0
	if pp, ok := positionsAfter[o.symbol]; ok {
		curQty = pp.qty
	}
	delta := o.quantity
	if !o.buy {
		delta = -o.quantity
	}
	postQty := curQty + delta
	if postQty == 0 {
		delete(positionsAfter, o.symbol)
	} else {
		positionsAfter[o.symbol] = projectedPosition{series: o.series, qty: postQty}
	}

	cashAfter := p.Cash + o.cashChange
	reservedAfter := p.reservedCashProjected(cashAfter, positionsAfter, o.barIndex)
	buyingPowerAfter := cashAfter - reservedAfter
	if buyingPowerAfter < -epsMargin {
		return fmt.Errorf("validation: insufficient buying power (margin)")
	}
	return nil
}

func (p *Portfolio) appendEquityPoint(value float64, t *time.Time) {
	p.EquityCurve = append(p.EquityCurve, EquityPoint{I: len(p.TradeLog), V: value, Time: t})
}

func barTime(series *priceseries.Series, barIndex int) *time.Time {
	if barIndex < 0 || barIndex >= series.Len() {
		return nil
	}
	d := series.Date(barIndex)
	return &d
}

// BuyLong opens or extends a long, or covers (and possibly reverses) an
// existing short. quantity is the raw requested share count before rounding.
func (p *Portfolio) BuyLong(symbol string, series *priceseries.Series, quantity float64, barIndex int) error {
	qty := p.roundQuantity(quantity)
	raw := series.Price(barIndex)
	fill := p.fillPrice(true, raw)
	notional := fill * qty
	comm := p.commission(qty, notional)
	cost := notional + comm

	if err := p.checkAdmission(order{
		symbol: symbol, series: series, buy: true, quantity: qty, barIndex: barIndex,
		rawPrice: raw, fillPrice: fill, tradeValue: cost, cashChange: -cost, commission: comm,
	}); err != nil {
		log.Debug().Str("symbol", symbol).Err(err).Msg("buy rejected")
		return err
	}

	realized := p.applyLongFill(symbol, series, qty, fill)

	p.Cash -= cost
	p.TradeLog = append(p.TradeLog, TradeEvent{
		Type: TradeLong, Symbol: symbol, Quantity: qty, RawPrice: raw, FillPrice: fill,
		CashFlowLabel: "cost", CashFlow: cost, Commission: comm, RealizedPnL: realized,
		BarIndex: barIndex, Date: barTime(series, barIndex),
	})
	p.appendEquityPoint(p.GetValue(&barIndex), barTime(series, barIndex))
	return nil
}

// applyLongFill implements the "open/extend long" and "cover a short"
// position-update rule and returns realized P&L from any cover leg.
func (p *Portfolio) applyLongFill(symbol string, series *priceseries.Series, qty, fill float64) float64 {
	pos, exists := p.Positions[symbol]
	if !exists {
		p.Positions[symbol] = &Position{Symbol: symbol, StockRef: series, Quantity: qty, AvgPrice: fill, RealizedPnL: p.Realized[symbol]}
		return 0
	}
	q0, a0 := pos.Quantity, pos.AvgPrice
	if q0 >= 0 {
		newQty := q0 + qty
		newAvg := fill
		if newQty != 0 {
			newAvg = (a0*q0 + fill*qty) / newQty
		}
		pos.StockRef = series
		pos.Quantity = newQty
		pos.AvgPrice = newAvg
		return 0
	}
	covered := math.Min(qty, -q0)
	realized := (a0 - fill) * covered
	residual := qty - covered
	newQty := q0 + covered
	p.Realized[symbol] += realized
	if newQty == 0 && residual == 0 {
		delete(p.Positions, symbol)
		return realized
	}
	if newQty == 0 && residual > 0 {
		pos.StockRef = series
		pos.Quantity = residual
		pos.AvgPrice = fill
	} else {
		pos.StockRef = series
		pos.Quantity = newQty
	}
	pos.RealizedPnL = p.Realized[symbol]
	return realized
}

// SellShort opens or extends a short, or reduces (and possibly reverses) an
// existing long.
func (p *Portfolio) SellShort(symbol string, series *priceseries.Series, quantity float64, barIndex int) error {
	if !p.Config.AllowShort {
		return fmt.Errorf("validation: short selling is disabled")
	}
	qty := p.roundQuantity(quantity)
	raw := series.Price(barIndex)
	fill := p.fillPrice(false, raw)
	notional := fill * qty
	comm := p.commission(qty, notional)
	proceeds := notional - comm

	if err := p.checkAdmission(order{
		symbol: symbol, series: series, buy: false, quantity: qty, barIndex: barIndex,
		rawPrice: raw, fillPrice: fill, tradeValue: notional, cashChange: proceeds, commission: comm,
	}); err != nil {
		log.Debug().Str("symbol", symbol).Err(err).Msg("short rejected")
		return err
	}

	realized := p.applyShortFill(symbol, series, qty, fill)

	p.Cash += proceeds
	p.TradeLog = append(p.TradeLog, TradeEvent{
		Type: TradeShort, Symbol: symbol, Quantity: qty, RawPrice: raw, FillPrice: fill,
		CashFlowLabel: "proceeds", CashFlow: proceeds, Commission: comm, RealizedPnL: realized,
		BarIndex: barIndex, Date: barTime(series, barIndex),
	})
	p.appendEquityPoint(p.GetValue(&barIndex), barTime(series, barIndex))
	return nil
}

func (p *Portfolio) applyShortFill(symbol string, series *priceseries.Series, qty, fill float64) float64 {
	pos, exists := p.Positions[symbol]
	if !exists {
		p.Positions[symbol] = &Position{Symbol: symbol, StockRef: series, Quantity: -qty, AvgPrice: fill, RealizedPnL: p.Realized[symbol]}
		return 0
	}
	q0, a0 := pos.Quantity, pos.AvgPrice
	if q0 <= 0 {
		newQty := q0 - qty
		oldAbs := math.Abs(q0)
		newAbs := math.Abs(newQty)
		newAvg := fill
		if newAbs != 0 {
			newAvg = (a0*oldAbs + fill*qty) / newAbs
		}
		pos.StockRef = series
		pos.Quantity = newQty
		pos.AvgPrice = newAvg
		return 0
	}
	sold := math.Min(qty, q0)
	realized := (fill - a0) * sold
	residual := qty - sold
	newQty := q0 - sold
	p.Realized[symbol] += realized
	if newQty == 0 && residual == 0 {
		delete(p.Positions, symbol)
		return realized
	}
	if newQty == 0 && residual > 0 {
		pos.StockRef = series
		pos.Quantity = -residual
		pos.AvgPrice = fill
	} else {
		pos.StockRef = series
		pos.Quantity = newQty
	}
	pos.RealizedPnL = p.Realized[symbol]
	return realized
}

// ExitPosition reduces an existing position by quantity (<= its magnitude).
// Unlike BuyLong/SellShort, this never re-runs the admission check — the
// position already exists, so an exit is always allowed.
func (p *Portfolio) ExitPosition(symbol string, quantity float64, barIndex int) error {
	if quantity <= 0 {
		return fmt.Errorf("validation: quantity must be positive")
	}
	pos, ok := p.Positions[symbol]
	if !ok {
		return fmt.Errorf("validation: %s not found in portfolio", symbol)
	}
	q0, a0 := pos.Quantity, pos.AvgPrice
	if quantity > math.Abs(q0) {
		return fmt.Errorf("validation: quantity exceeds position size")
	}
	series := pos.StockRef
	raw := series.Price(barIndex)

	var fill, cashFlow, realized, newQty float64
	label := "amount"
	if q0 > 0 {
		fill = p.fillPrice(false, raw)
		comm := p.commission(quantity, fill*quantity)
		cashFlow = fill*quantity - comm
		realized = (fill-a0)*quantity - comm
		newQty = q0 - quantity
		p.Cash += cashFlow
		p.appendExitTrade(symbol, series, quantity, raw, fill, label, cashFlow, comm, realized, barIndex)
	} else {
		fill = p.fillPrice(true, raw)
		comm := p.commission(quantity, fill*quantity)
		cashFlow = -(fill*quantity + comm)
		realized = (a0-fill)*quantity - comm
		newQty = q0 + quantity
		p.Cash += cashFlow
		p.appendExitTrade(symbol, series, quantity, raw, fill, label, cashFlow, comm, realized, barIndex)
	}

	p.Realized[symbol] += realized
	pos.Quantity = newQty
	pos.RealizedPnL = p.Realized[symbol]
	if newQty == 0 {
		delete(p.Positions, symbol)
	}
	p.appendEquityPoint(p.GetValue(&barIndex), barTime(series, barIndex))
	return nil
}

func (p *Portfolio) appendExitTrade(symbol string, series *priceseries.Series, qty, raw, fill float64, label string, cashFlow, comm, realized float64, barIndex int) {
	p.TradeLog = append(p.TradeLog, TradeEvent{
		Type: TradeExit, Symbol: symbol, Quantity: qty, RawPrice: raw, FillPrice: fill,
		CashFlowLabel: label, CashFlow: cashFlow, Commission: comm, RealizedPnL: realized,
		BarIndex: barIndex, Date: barTime(series, barIndex),
	})
}

// EstimateBuyCost previews the cash cost of a buy without executing it.
func (p *Portfolio) EstimateBuyCost(series *priceseries.Series, quantity float64, barIndex int) float64 {
	qty := p.roundQuantity(quantity)
	raw := series.Price(barIndex)
	fill := p.fillPrice(true, raw)
	notional := fill * qty
	return notional + p.commission(qty, notional)
}

// EstimateSellProceeds previews the cash proceeds of a short sale without
// executing it.
func (p *Portfolio) EstimateSellProceeds(series *priceseries.Series, quantity float64, barIndex int) float64 {
	qty := p.roundQuantity(quantity)
	raw := series.Price(barIndex)
	fill := p.fillPrice(false, raw)
	notional := fill * qty
	return notional - p.commission(qty, notional)
}

// MaxAffordableBuy iteratively decreases qty by the share increment until
// the projected cost fits within (1 - reserveFraction) * cash.
func (p *Portfolio) MaxAffordableBuy(series *priceseries.Series, startQty float64, barIndex int, reserveFraction float64) float64 {
	unit := p.shareUnit()
	budget := (1 - reserveFraction) * p.Cash
	qty := p.roundQuantity(startQty)
	for qty > 0 {
		if p.EstimateBuyCost(series, qty, barIndex) <= budget+epsFine {
			return qty
		}
		qty -= unit
		qty = p.roundQuantity(qty)
	}
	return 0
}

// ClearHistory resets the portfolio to an empty state funded with
// initialCash.
func (p *Portfolio) ClearHistory(initialCash float64) {
	p.Positions = make(map[string]*Position)
	p.Realized = make(map[string]float64)
	p.Cash = initialCash
	p.TradeLog = nil
	p.EquityCurve = nil
}

// RestoredPosition is the serialized shape of one position for restore.
type RestoredPosition struct {
	Symbol      string
	Quantity    float64
	AvgPrice    float64
	RealizedPnL float64
}

// RestoreFromState reattaches live Series references via getSeries.
// Positions whose symbol cannot be resolved are silently dropped.
func (p *Portfolio) RestoreFromState(cash float64, positions []RestoredPosition, tradeLog []TradeEvent, equityCurve []EquityPoint, realized map[string]float64, getSeries func(symbol string) (*priceseries.Series, error)) {
	p.Cash = cash
	p.TradeLog = append([]TradeEvent(nil), tradeLog...)
	p.EquityCurve = append([]EquityPoint(nil), equityCurve...)
	p.Realized = make(map[string]float64, len(realized))
	for k, v := range realized {
		p.Realized[k] = v
	}
	p.Positions = make(map[string]*Position)
	for _, rp := range positions {
		if rp.Quantity == 0 {
			continue
		}
		series, err := getSeries(rp.Symbol)
		if err != nil {
			log.Warn().Str("symbol", rp.Symbol).Err(err).Msg("dropping position: symbol could not be resolved")
			continue
		}
		p.Positions[rp.Symbol] = &Position{
			Symbol: rp.Symbol, StockRef: series, Quantity: rp.Quantity,
			AvgPrice: rp.AvgPrice, RealizedPnL: rp.RealizedPnL,
		}
	}
}
