// Package marketdata fronts a data-provider HTTP API with the stock cache
// described in spec.md §4.8/§5: an LRU of at most 64 entries with a 1 h TTL,
// one entry per (symbol, start date, end date), so a symbol requested over
// several date ranges occupies several entries and the cap is not a count of
// distinct symbols. The fetch path is protected by a circuit breaker so a flapping upstream degrades instead of
// cascading latency into every request.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/ajitpratap0/cryptofunk/internal/priceseries"
)

const defaultTimeout = 30 * time.Second

// SearchResult is one ticker-search hit forwarded from GET /search.
type SearchResult struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// Provider is the data-provider contract: candles for a symbol over a date
// range, a ticker search, and a latest-price lookup. Only Cache (this
// package) and internal/api call it directly.
type Provider interface {
	FetchSeries(ctx context.Context, symbol string, start, end time.Time) (*priceseries.Series, error)
	Search(ctx context.Context, query string) ([]SearchResult, error)
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

// HTTPProvider is a generic REST client for a daily-OHLC data provider,
// configured by base URL and API key (read from environment so deployments
// can point at whichever vendor they have a contract with).
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProviderFromEnv builds a provider from STOCKDATA_API_BASE and
// STOCKDATA_API_KEY.
func NewHTTPProviderFromEnv() *HTTPProvider {
	base := os.Getenv("STOCKDATA_API_BASE")
	if base == "" {
		base = "https://api.example-marketdata.invalid/v1"
	}
	return &HTTPProvider{
		baseURL:    base,
		apiKey:     os.Getenv("STOCKDATA_API_KEY"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type ohlcResponse struct {
	Candles []struct {
		Date  string  `json:"date"`
		Open  float64 `json:"open"`
		High  float64 `json:"high"`
		Low   float64 `json:"low"`
		Close float64 `json:"close"`
	} `json:"candles"`
}

// FetchSeries retrieves daily OHLC candles for symbol between start and end.
func (p *HTTPProvider) FetchSeries(ctx context.Context, symbol string, start, end time.Time) (*priceseries.Series, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("start", start.Format("2006-01-02"))
	params.Set("end", end.Format("2006-01-02"))
	if p.apiKey != "" {
		params.Set("api_key", p.apiKey)
	}

	reqURL := fmt.Sprintf("%s/candles?%s", p.baseURL, params.Encode())
	var parsed ohlcResponse
	if err := p.getJSON(ctx, reqURL, &parsed); err != nil {
		return nil, fmt.Errorf("marketdata: fetch candles for %s: %w", symbol, err)
	}

	candles := make([]priceseries.Candle, 0, len(parsed.Candles))
	for _, c := range parsed.Candles {
		d, err := time.Parse("2006-01-02", c.Date)
		if err != nil {
			return nil, fmt.Errorf("marketdata: bad candle date %q: %w", c.Date, err)
		}
		candles = append(candles, priceseries.Candle{Date: d, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close})
	}
	return priceseries.Load(symbol, candles)
}

// Search forwards a ticker search query to the upstream provider.
func (p *HTTPProvider) Search(ctx context.Context, query string) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	if p.apiKey != "" {
		params.Set("api_key", p.apiKey)
	}
	reqURL := fmt.Sprintf("%s/search?%s", p.baseURL, params.Encode())

	var results []SearchResult
	if err := p.getJSON(ctx, reqURL, &results); err != nil {
		return nil, fmt.Errorf("marketdata: search %q: %w", query, err)
	}
	return results, nil
}

// LatestPrice returns the most recent close for symbol.
func (p *HTTPProvider) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	if p.apiKey != "" {
		params.Set("api_key", p.apiKey)
	}
	reqURL := fmt.Sprintf("%s/price?%s", p.baseURL, params.Encode())

	var body struct {
		Price float64 `json:"price"`
	}
	if err := p.getJSON(ctx, reqURL, &body); err != nil {
		return 0, fmt.Errorf("marketdata: latest price for %s: %w", symbol, err)
	}
	return body.Price, nil
}

func (p *HTTPProvider) getJSON(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
