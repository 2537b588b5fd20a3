package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
	"fractalTrader/internal/strategy/indicators"
)

const (
	// DefaultWindow is the number of candles kept per instrument.
	DefaultWindow = 200
	// refreshConcurrency bounds parallel candle requests.
	refreshConcurrency = 4
)

// Cache holds the sliding candle window and the latest IndicatorSet of every
// tracked instrument. Sets are replaced whole, never mutated.
type Cache struct {
	exchange ports.ExchangeClient
	logger   ports.Logger
	now      func() time.Time

	mu       sync.RWMutex
	interval string
	window   int
	settings indicators.Settings
	candles  map[string][]domain.Candle
	sets     map[string]*indicators.IndicatorSet
}

// NewCache creates an empty market data cache.
func NewCache(exchange ports.ExchangeClient, logger ports.Logger, interval string, window int, settings indicators.Settings) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Cache{
		exchange: exchange,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		interval: interval,
		window:   window,
		settings: settings,
		candles:  make(map[string][]domain.Candle),
		sets:     make(map[string]*indicators.IndicatorSet),
	}
}

// Refresh fetches fresh candles for symbols concurrently and recomputes their
// indicators. A failing instrument keeps its previous window and does not
// stop the others; all failures are returned joined.
func (c *Cache) Refresh(ctx context.Context, symbols []string) error {
	op := "Refresh"
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(refreshConcurrency)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			if err := c.refreshSymbol(ctx, symbol); err != nil {
				c.logger.Warn(ctx, op+": Failed to refresh market data", map[string]interface{}{"symbol": symbol, "error": err.Error()})
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (c *Cache) refreshSymbol(ctx context.Context, symbol string) error {
	c.mu.RLock()
	interval, window := c.interval, c.window
	c.mu.RUnlock()

	fresh, err := c.exchange.GetCandles(ctx, symbol, interval, window)
	if err != nil {
		return fmt.Errorf("%s: %w", symbol, err)
	}
	if len(fresh) == 0 {
		return fmt.Errorf("%s: %w: exchange returned no candles", symbol, ports.ErrStaleState)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Settings may have changed while the request was in flight.
	if interval != c.interval {
		return nil
	}
	merged := mergeWindow(c.candles[symbol], fresh, c.window)
	c.candles[symbol] = merged
	set := indicators.Compute(symbol, merged, c.settings, c.now())
	c.sets[symbol] = &set
	return nil
}

// mergeWindow appends fresh candles to the window, replacing any overlap,
// and keeps the newest limit candles.
func mergeWindow(window, fresh []domain.Candle, limit int) []domain.Candle {
	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Time.Before(fresh[j].Time) })
	first := fresh[0].Time

	merged := make([]domain.Candle, 0, len(window)+len(fresh))
	for _, cd := range window {
		if cd.Time.Before(first) {
			merged = append(merged, cd)
		}
	}
	merged = append(merged, fresh...)
	if len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}

// Indicators returns the latest IndicatorSet of symbol.
func (c *Cache) Indicators(symbol string) (*indicators.IndicatorSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set, ok := c.sets[symbol]
	return set, ok
}

// Candles returns a copy of the raw candle window of symbol.
func (c *Cache) Candles(symbol string) []domain.Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Candle, len(c.candles[symbol]))
	copy(out, c.candles[symbol])
	return out
}

// LastPrice returns the close of the newest raw candle of symbol.
func (c *Cache) LastPrice(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w := c.candles[symbol]
	if len(w) == 0 {
		return 0, false
	}
	return w[len(w)-1].Close, true
}

// LastPrices returns the newest close of every cached instrument.
func (c *Cache) LastPrices() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.candles))
	for sym, w := range c.candles {
		if len(w) > 0 {
			out[sym] = w[len(w)-1].Close
		}
	}
	return out
}

// ApplySettings installs a new configuration. Changing the interval drops all
// windows; otherwise the cached windows are trimmed and recomputed.
func (c *Cache) ApplySettings(interval string, window int, settings indicators.Settings) {
	if window <= 0 {
		window = DefaultWindow
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if interval != c.interval {
		c.candles = make(map[string][]domain.Candle)
		c.sets = make(map[string]*indicators.IndicatorSet)
	}
	c.interval, c.window, c.settings = interval, window, settings

	now := c.now()
	for sym, w := range c.candles {
		if len(w) > window {
			w = w[len(w)-window:]
			c.candles[sym] = w
		}
		set := indicators.Compute(sym, w, settings, now)
		c.sets[sym] = &set
	}
}

// Retain drops every instrument not in symbols.
func (c *Cache) Retain(symbols []string) {
	keep := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		keep[s] = true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for sym := range c.candles {
		if !keep[sym] {
			delete(c.candles, sym)
			delete(c.sets, sym)
		}
	}
}
