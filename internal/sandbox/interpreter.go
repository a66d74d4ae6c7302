package sandbox

import (
	"fmt"
	"math"

	"github.com/ajitpratap0/cryptofunk/internal/indicators"
	"github.com/ajitpratap0/cryptofunk/internal/portfolio"
	"github.com/ajitpratap0/cryptofunk/internal/priceseries"
)

// evalCtx is the interpreter state of one strategy: the bound symbol, series
// and portfolio, the let-bound variables, and the current bar index that the
// series accessors read.
type evalCtx struct {
	symbol    string
	series    *priceseries.Series
	portfolio *portfolio.Portfolio
	vars      map[string]float64
	barIndex  int
}

func (c *evalCtx) closesUpToCurrent() []float64 {
	return c.series.Closes(c.barIndex)
}

func (c *evalCtx) evalExpr(e Expr) (float64, error) {
	switch n := e.(type) {
	case numberLit:
		return n.value, nil
	case boolLit:
		if n.value {
			return 1, nil
		}
		return 0, nil
	case ident:
		if v, ok := c.vars[n.name]; ok {
			return v, nil
		}
		return 0, fmt.Errorf("unknown identifier %q", n.name)
	case assignExpr:
		v, err := c.evalExpr(n.val)
		if err != nil {
			return 0, err
		}
		c.vars[n.name] = v
		return v, nil
	case unaryExpr:
		v, err := c.evalExpr(n.x)
		if err != nil {
			return 0, err
		}
		switch n.op {
		case "-":
			return -v, nil
		case "!":
			if v == 0 {
				return 1, nil
			}
			return 0, nil
		}
		return 0, fmt.Errorf("unknown unary operator %q", n.op)
	case binaryExpr:
		return c.evalBinary(n)
	case callExpr:
		return c.evalCall(n)
	default:
		return 0, fmt.Errorf("unsupported expression node")
	}
}

func (c *evalCtx) evalBinary(n binaryExpr) (float64, error) {
	l, err := c.evalExpr(n.l)
	if err != nil {
		return 0, err
	}
	if n.op == "&&" {
		if l == 0 {
			return 0, nil
		}
		r, err := c.evalExpr(n.r)
		if err != nil {
			return 0, err
		}
		return boolToF(r != 0), nil
	}
	if n.op == "||" {
		if l != 0 {
			return 1, nil
		}
		r, err := c.evalExpr(n.r)
		if err != nil {
			return 0, err
		}
		return boolToF(r != 0), nil
	}
	r, err := c.evalExpr(n.r)
	if err != nil {
		return 0, err
	}
	switch n.op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return l / r, nil
	case "%":
		if r == 0 {
			return 0, fmt.Errorf("modulo by zero")
		}
		return math.Mod(l, r), nil
	case "<":
		return boolToF(l < r), nil
	case "<=":
		return boolToF(l <= r), nil
	case ">":
		return boolToF(l > r), nil
	case ">=":
		return boolToF(l >= r), nil
	case "==":
		return boolToF(l == r), nil
	case "!=":
		return boolToF(l != r), nil
	}
	return 0, fmt.Errorf("unknown binary operator %q", n.op)
}

func boolToF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// evalCall dispatches the allow-listed series-access and arithmetic
// functions available to strategy code. A call to any other name parses,
// and fails when it is evaluated with a "use of '<name>' is not allowed"
// error - there is no broader namespace to escape into. The lexer rejects
// the name open (it is in forbiddenNames), so the "open" case is not
// reachable from strategy source.
func (c *evalCtx) evalCall(n callExpr) (float64, error) {
	closes := c.closesUpToCurrent
	switch n.name {
	case "close":
		return c.series.Price(c.barIndex), nil
	case "open":
		return c.series.Candle(c.barIndex).Open, nil
	case "high":
		return c.series.Candle(c.barIndex).High, nil
	case "low":
		return c.series.Candle(c.barIndex).Low, nil
	case "position":
		pos, ok := c.portfolio.Positions[c.symbol]
		if !ok {
			return 0, nil
		}
		return pos.Quantity, nil
	case "cash":
		return c.portfolio.Cash, nil
	case "sma":
		period, err := c.intArg(n, 0)
		if err != nil {
			return 0, err
		}
		series, err := indicators.SMA(closes(), period)
		if err != nil {
			return 0, nil //nolint:nilerr // insufficient history yields a neutral 0, not a crash
		}
		return indicators.Last(series), nil
	case "ema":
		period, err := c.intArg(n, 0)
		if err != nil {
			return 0, err
		}
		series, err := indicators.EMA(closes(), period)
		if err != nil {
			return 0, nil //nolint:nilerr
		}
		return indicators.Last(series), nil
	case "rsi":
		period, err := c.intArg(n, 0)
		if err != nil {
			return 0, err
		}
		series, err := indicators.RSI(closes(), period)
		if err != nil {
			return 0, nil //nolint:nilerr
		}
		return indicators.Last(series), nil
	case "abs":
		v, err := c.arg(n, 0)
		if err != nil {
			return 0, err
		}
		return math.Abs(v), nil
	case "min":
		a, err := c.arg(n, 0)
		if err != nil {
			return 0, err
		}
		b, err := c.arg(n, 1)
		if err != nil {
			return 0, err
		}
		return math.Min(a, b), nil
	case "max":
		a, err := c.arg(n, 0)
		if err != nil {
			return 0, err
		}
		b, err := c.arg(n, 1)
		if err != nil {
			return 0, err
		}
		return math.Max(a, b), nil
	case "round":
		v, err := c.arg(n, 0)
		if err != nil {
			return 0, err
		}
		return math.Round(v), nil
	default:
		return 0, fmt.Errorf("use of '%s' is not allowed in strategy code", n.name)
	}
}

func (c *evalCtx) arg(n callExpr, i int) (float64, error) {
	if i >= len(n.args) {
		return 0, fmt.Errorf("%s: missing argument %d", n.name, i)
	}
	return c.evalExpr(n.args[i])
}

func (c *evalCtx) intArg(n callExpr, i int) (int, error) {
	v, err := c.arg(n, i)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func (c *evalCtx) execStmts(stmts []Stmt) error {
	for _, s := range stmts {
		if err := c.execStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (c *evalCtx) execStmt(s Stmt) error {
	switch n := s.(type) {
	case letStmt:
		v, err := c.evalExpr(n.val)
		if err != nil {
			return err
		}
		c.vars[n.name] = v
		return nil
	case exprStmt:
		_, err := c.evalExpr(n.x)
		return err
	case ifStmt:
		v, err := c.evalExpr(n.cond)
		if err != nil {
			return err
		}
		if v != 0 {
			return c.execStmts(n.then)
		}
		return c.execStmts(n.els_)
	case orderStmt:
		qty, err := c.evalExpr(n.qty)
		if err != nil {
			return err
		}
		return c.execOrder(n.kind, qty)
	default:
		return fmt.Errorf("unsupported statement node")
	}
}

func (c *evalCtx) execOrder(kind string, qty float64) error {
	switch kind {
	case "buy":
		return c.portfolio.BuyLong(c.symbol, c.series, qty, c.barIndex)
	case "sell":
		return c.portfolio.SellShort(c.symbol, c.series, qty, c.barIndex)
	case "exit":
		return c.portfolio.ExitPosition(c.symbol, qty, c.barIndex)
	default:
		return fmt.Errorf("unknown order kind %q", kind)
	}
}
