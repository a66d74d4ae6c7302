package marketdata

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/cryptofunk/internal/priceseries"
)

const (
	// MaxCachedSymbols bounds the stock cache to this many (symbol, date
	// range) entries, per spec.md §5; it is not a count of distinct symbols.
	MaxCachedSymbols = 64
	// CacheTTL is the eviction age for a cached series, per spec.md §5.
	CacheTTL = time.Hour
)

// Cache fronts a Provider with an LRU+TTL series cache and a circuit
// breaker over the fetch path. Reads/writes/evictions on the LRU are
// internally synchronized, satisfying the "atomic, LRU-consistent" shared
// resource discipline of spec.md §5.
type Cache struct {
	provider Provider
	series   *lru.LRU[string, *priceseries.Series]
	breaker  *gobreaker.CircuitBreaker
}

// NewCache wraps provider with the default 64-entry/1h cache policy.
func NewCache(provider Provider) *Cache {
	return &Cache{
		provider: provider,
		series:   lru.NewLRU[string, *priceseries.Series](MaxCachedSymbols, nil, CacheTTL),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "marketdata-provider",
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
					Msg("marketdata circuit breaker state change")
			},
		}),
	}
}

func seriesCacheKey(symbol string, start, end time.Time) string {
	return fmt.Sprintf("%s|%s|%s", symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
}

// GetSeries returns a cached series for (symbol, start, end) or fetches and
// caches one through the circuit breaker.
func (c *Cache) GetSeries(ctx context.Context, symbol string, start, end time.Time) (*priceseries.Series, error) {
	key := seriesCacheKey(symbol, start, end)
	if cached, ok := c.series.Get(key); ok {
		return cached, nil
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.provider.FetchSeries(ctx, symbol, start, end)
	})
	if err != nil {
		return nil, fmt.Errorf("marketdata: %w", err)
	}

	series := result.(*priceseries.Series)
	c.series.Add(key, series)
	return series, nil
}

// Search bypasses the cache; ticker search results are not time-series data
// and the spec does not ask for them to be cached.
func (c *Cache) Search(ctx context.Context, query string) ([]SearchResult, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.provider.Search(ctx, query)
	})
	if err != nil {
		return nil, fmt.Errorf("marketdata: %w", err)
	}
	return result.([]SearchResult), nil
}

// LatestPrice bypasses the cache so quotes stay fresh.
func (c *Cache) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.provider.LatestPrice(ctx, symbol)
	})
	if err != nil {
		return 0, fmt.Errorf("marketdata: %w", err)
	}
	return result.(float64), nil
}

// Invalidate drops every cached series for symbol, regardless of date
// range. Used after a manual data-provider resync.
func (c *Cache) Invalidate(symbol string) {
	for _, key := range c.series.Keys() {
		if len(key) > len(symbol) && key[:len(symbol)+1] == symbol+"|" {
			c.series.Remove(key)
		}
	}
}

// Len reports the number of distinct (symbol,range) entries currently
// cached; exposed for tests and metrics.
func (c *Cache) Len() int {
	return c.series.Len()
}
