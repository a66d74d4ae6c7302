// Backtest Runner CLI
// Runs a strategy script against historical data and prints a performance
// report, without going through the REST API or a persisted run record.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/cryptofunk/internal/analytics"
	"github.com/ajitpratap0/cryptofunk/internal/marketdata"
	"github.com/ajitpratap0/cryptofunk/internal/orchestrator"
	"github.com/ajitpratap0/cryptofunk/internal/store"
)

var (
	strategyFile = flag.String("strategy", "", "Path to a strategy script file")
	symbols      = flag.String("symbols", "", "Comma-separated list of symbols to trade")

	startDate = flag.String("start", "", "Start date (YYYY-MM-DD)")
	endDate   = flag.String("end", "", "End date (YYYY-MM-DD)")

	initialCash = flag.Float64("capital", 100000, "Initial cash in USD")
	trainPct    = flag.Float64("train-pct", 0, "Train/test split as a fraction of the window (0 disables the split)")

	outputFile = flag.String("output", "", "Write the text report to this file in addition to stdout")
	verbose    = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if *strategyFile == "" {
		fmt.Fprintln(os.Stderr, "Error: -strategy flag is required")
		flag.Usage()
		os.Exit(1)
	}

	symbolList := parseSymbols(*symbols)
	if len(symbolList) == 0 {
		fmt.Fprintln(os.Stderr, "Error: -symbols flag is required")
		flag.Usage()
		os.Exit(1)
	}

	if *startDate == "" || *endDate == "" {
		fmt.Fprintln(os.Stderr, "Error: -start and -end dates are required")
		flag.Usage()
		os.Exit(1)
	}

	start, err := time.Parse("2006-01-02", *startDate)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid start date format (use YYYY-MM-DD)")
	}
	end, err := time.Parse("2006-01-02", *endDate)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid end date format (use YYYY-MM-DD)")
	}

	code, err := os.ReadFile(*strategyFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", *strategyFile).Msg("failed to read strategy file")
	}

	log.Info().
		Strs("symbols", symbolList).
		Str("start", *startDate).
		Str("end", *endDate).
		Float64("capital", *initialCash).
		Msg("starting backtest")

	ctx := context.Background()
	if err := run(ctx, string(code), symbolList, start, end); err != nil {
		log.Fatal().Err(err).Msg("backtest failed")
	}

	log.Info().Msg("backtest completed successfully")
}

func run(ctx context.Context, code string, symbolList []string, start, end time.Time) error {
	provider := marketdata.NewHTTPProviderFromEnv()
	cache := marketdata.NewCache(provider)
	orch := orchestrator.New(cache)

	settings := store.DefaultSettings()
	settings.InitialCash = *initialCash

	req := orchestrator.Request{
		StrategyCode: code,
		Symbols:      symbolList,
		Start:        start,
		End:          end,
	}
	if *trainPct > 0 {
		req.TrainPct = trainPct
	}

	out, err := orch.Run(ctx, req, settings)
	if err != nil {
		return fmt.Errorf("orchestrator run failed: %w", err)
	}

	report := renderReport(out)
	fmt.Println(report)

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, []byte(report), 0600); err != nil {
			log.Warn().Err(err).Str("file", *outputFile).Msg("failed to write output file")
		} else {
			log.Info().Str("file", *outputFile).Msg("report written to file")
		}
	}

	return nil
}

// renderReport formats an orchestrator.Output into the human-readable
// summary the CLI prints to stdout.
func renderReport(out orchestrator.Output) string {
	var b strings.Builder

	writeReportSection(&b, "OVERALL", out.Report)
	if out.TrainReport != nil {
		writeReportSection(&b, "TRAIN", *out.TrainReport)
	}
	if out.TestReport != nil {
		writeReportSection(&b, "TEST", *out.TestReport)
	}

	fmt.Fprintln(&b, "SYMBOLS")
	for _, sr := range out.Results {
		status := "ok"
		if sr.Error != "" {
			status = sr.Error
		}
		fmt.Fprintf(&b, "  %-10s %s\n", sr.Symbol, status)
	}

	return b.String()
}

func writeReportSection(b *strings.Builder, title string, r analytics.Report) {
	fmt.Fprintf(b, "=== %s ===\n", title)
	fmt.Fprintf(b, "Start Value:      %.2f\n", r.Equity.StartValue)
	fmt.Fprintf(b, "End Value:        %.2f\n", r.Equity.EndValue)
	fmt.Fprintf(b, "Total Return:     %.2f%%\n", r.Equity.TotalReturnPct)
	fmt.Fprintf(b, "Max Drawdown:     %.2f%%\n", r.Equity.MaxDrawdownPct)
	fmt.Fprintf(b, "Sharpe (annual):  %.3f\n", r.Equity.SharpeAnnual)
	fmt.Fprintf(b, "Sortino (annual): %.3f\n", r.Equity.SortinoAnnual)
	fmt.Fprintf(b, "CAGR:             %.2f%%\n", r.Equity.CAGR*100)
	fmt.Fprintf(b, "Trades:           %d (win rate %.1f%%)\n", r.Trades.Trades, r.Trades.WinRate*100)
	fmt.Fprintf(b, "Net Realized:     %.2f\n", r.Trades.NetRealized)
	fmt.Fprintln(b)
}

func parseSymbols(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
