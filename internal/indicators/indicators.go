// Package indicators computes technical indicators over a close-price
// series. It serves both the PriceSeries accessors (spec.md §4.1) and the
// strategy sandbox's series-access builtins (sma/ema/rsi).
package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
)

func toChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func drain(ch <-chan float64) []float64 {
	out := make([]float64, 0)
	for v := range ch {
		out = append(out, v)
	}
	return out
}

// SMA returns the simple moving average series for the given period.
func SMA(closes []float64, period int) ([]float64, error) {
	if period < 1 || period > len(closes) {
		return nil, fmt.Errorf("indicators: invalid SMA period %d for %d closes", period, len(closes))
	}
	sma := trend.NewSmaWithPeriod[float64](period)
	return drain(sma.Compute(toChan(closes))), nil
}

// EMA returns the exponential moving average series for the given period.
func EMA(closes []float64, period int) ([]float64, error) {
	if period < 1 || period > len(closes) {
		return nil, fmt.Errorf("indicators: invalid EMA period %d for %d closes", period, len(closes))
	}
	ema := trend.NewEmaWithPeriod[float64](period)
	return drain(ema.Compute(toChan(closes))), nil
}

// RSI returns the relative strength index series for the given period.
func RSI(closes []float64, period int) ([]float64, error) {
	if period < 1 || period > len(closes) {
		return nil, fmt.Errorf("indicators: invalid RSI period %d for %d closes", period, len(closes))
	}
	rsi := momentum.NewRsiWithPeriod[float64](period)
	return drain(rsi.Compute(toChan(closes))), nil
}

// MACDLine returns the MACD line (fast EMA minus slow EMA) series.
func MACDLine(closes []float64) ([]float64, []float64, error) {
	macd := trend.NewMacd[float64]()
	macdChan, signalChan := macd.Compute(toChan(closes))
	return drain(macdChan), drain(signalChan), nil
}

// BollingerBands returns the middle, upper, and lower band series for the
// given period.
func BollingerBands(closes []float64, period int) ([]float64, []float64, []float64, error) {
	if period < 1 || period > len(closes) {
		return nil, nil, nil, fmt.Errorf("indicators: invalid Bollinger period %d for %d closes", period, len(closes))
	}
	bb := volatility.NewBollingerBandsWithPeriod[float64](period)
	mid, upper, lower := bb.Compute(toChan(closes))
	return drain(mid), drain(upper), drain(lower), nil
}

// Last returns the final element of a series, or 0 if empty.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
