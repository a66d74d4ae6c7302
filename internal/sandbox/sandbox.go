// Package sandbox runs untrusted strategy code against a price series and a
// portfolio. Strategy source is a small closed-namespace DSL, not a
// general-purpose scripting language: there is no import, no reflection, and
// no host call surface beyond the series accessors and order verbs wired in
// interpreter.go. Construction enforces a source-size cap and a wall-clock
// deadline so a pathological program cannot hang a backtest run.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/ajitpratap0/cryptofunk/internal/portfolio"
	"github.com/ajitpratap0/cryptofunk/internal/priceseries"
)

// MaxSourceBytes bounds strategy source length before it is even lexed.
const MaxSourceBytes = 50_000

// DefaultBuildTimeout is the wall-clock budget for lexing, parsing and
// validating a strategy's source.
const DefaultBuildTimeout = 30 * time.Second

// Strategy is one compiled, runnable instance of a strategy program bound to
// a single symbol's price series and a portfolio.
type Strategy struct {
	prog *program
	ctx  *evalCtx
}

// New compiles code and binds it to series/pf for symbol. Compilation
// (lexing + parsing) runs under timeout so a maliciously crafted source
// cannot wedge the caller.
func New(code string, symbol string, series *priceseries.Series, pf *portfolio.Portfolio, timeout time.Duration) (*Strategy, error) {
	if len(code) > MaxSourceBytes {
		return nil, fmt.Errorf("validation: strategy source exceeds %d bytes", MaxSourceBytes)
	}
	if timeout <= 0 {
		timeout = DefaultBuildTimeout
	}

	type buildResult struct {
		prog *program
		err  error
	}
	done := make(chan buildResult, 1)
	go func() {
		toks, err := lex(code)
		if err != nil {
			done <- buildResult{err: err}
			return
		}
		prog, err := parseProgram(toks)
		done <- buildResult{prog: prog, err: err}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("validation: %w", res.err)
		}
		return &Strategy{
			prog: res.prog,
			ctx: &evalCtx{
				symbol:    symbol,
				series:    series,
				portfolio: pf,
				vars:      make(map[string]float64),
			},
		}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("validation: strategy compilation exceeded %s", timeout)
	}
}

// Start runs the on_start block at bar i.
func (s *Strategy) Start(i int) error {
	s.ctx.barIndex = i
	return s.ctx.execStmts(s.prog.onStart)
}

// Update runs the on_bar block at bar i.
func (s *Strategy) Update(i int) error {
	s.ctx.barIndex = i
	return s.ctx.execStmts(s.prog.onBar)
}

// End runs the on_end block at bar i.
func (s *Strategy) End(i int) error {
	s.ctx.barIndex = i
	return s.ctx.execStmts(s.prog.onEnd)
}
