// Package backtestdriver runs a compiled strategy over a price series,
// bar by bar, calling its start/update/end hooks in strict order. The
// driver performs no I/O, no concurrency, and no retry: it is the
// single-threaded inner loop the run orchestrator wraps per symbol.
package backtestdriver

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/cryptofunk/internal/priceseries"
)

// Strategy is the lifecycle contract a sandboxed strategy satisfies. Update
// is called once per bar in [startIdx, endIdx]; Start/End bracket the run.
type Strategy interface {
	Start(i int) error
	Update(i int) error
	End(i int) error
}

// Run resolves start/end to bar indices via series.ToILoc and drives
// strategy across them in order: Start(startIdx), Update(i) for every i in
// [startIdx, endIdx], End(endIdx). If the resolved start index is after the
// end index, Run is a no-op - strategies are documented to read only data
// at or before the current bar, but the driver does not enforce this.
func Run(series *priceseries.Series, strategy Strategy, start, end time.Time) error {
	startIdx := series.ToILoc(start)
	endIdx := series.ToILoc(end)
	if startIdx > endIdx {
		log.Debug().
			Time("start", start).Time("end", end).
			Msg("backtest window resolves to an empty bar range, skipping")
		return nil
	}

	if err := strategy.Start(startIdx); err != nil {
		return err
	}
	for i := startIdx; i <= endIdx; i++ {
		if err := strategy.Update(i); err != nil {
			return err
		}
	}
	return strategy.End(endIdx)
}
