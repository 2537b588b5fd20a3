package marketdata

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"fractalTrader/internal/ports"
	"fractalTrader/internal/strategy/indicators"
)

const (
	scanCandles = 100
	scanPeriod  = 14
)

// RankedInstrument is one result of a market scan.
type RankedInstrument struct {
	Symbol         string  `json:"symbol"`
	LastPrice      float64 `json:"lastPrice"`
	QuoteVolume    float64 `json:"quoteVolume"`
	PriceChangePct float64 `json:"priceChangePct"`
	VolatilityPct  float64 `json:"volatilityPct"` // ATR as a percentage of price
	RSI            float64 `json:"rsi"`
	Score          float64 `json:"score"`
}

// Scanner ranks liquid instruments by how tradeable their recent action is.
type Scanner struct {
	exchange   ports.ExchangeClient
	logger     ports.Logger
	quoteAsset string
	interval   string
	topN       int
}

// NewScanner creates a market scanner over instruments quoted in quoteAsset.
func NewScanner(exchange ports.ExchangeClient, logger ports.Logger, quoteAsset, interval string, topN int) *Scanner {
	if topN <= 0 {
		topN = 20
	}
	return &Scanner{
		exchange:   exchange,
		logger:     logger,
		quoteAsset: strings.ToUpper(quoteAsset),
		interval:   interval,
		topN:       topN,
	}
}

// Scan keeps the topN instruments by 24h quote volume and ranks them by
// score, highest first. Instruments whose candles cannot be analysed are skipped.
func (s *Scanner) Scan(ctx context.Context) ([]RankedInstrument, error) {
	op := "Scan"
	tickers, err := s.exchange.ListTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}

	candidates := make([]ports.Ticker, 0, len(tickers))
	for _, t := range tickers {
		if strings.HasSuffix(t.Symbol, s.quoteAsset) && t.QuoteVolume > 0 && t.LastPrice > 0 {
			candidates = append(candidates, t)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].QuoteVolume > candidates[j].QuoteVolume })
	if len(candidates) > s.topN {
		candidates = candidates[:s.topN]
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		ranked  []RankedInstrument
		skipped int
	)
	g.SetLimit(refreshConcurrency)
	for _, t := range candidates {
		t := t
		g.Go(func() error {
			r, err := s.analyse(ctx, t)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				skipped++
				s.logger.Debug(ctx, op+": Skipping instrument", map[string]interface{}{"symbol": t.Symbol, "error": err.Error()})
				return nil
			}
			ranked = append(ranked, r)
			return nil
		})
	}
	_ = g.Wait()

	if len(candidates) > 0 && len(ranked) == 0 {
		return nil, fmt.Errorf("%s failed: %w: no instrument could be analysed", op, ports.ErrExchangeUnavailable)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score == ranked[j].Score {
			return ranked[i].Symbol < ranked[j].Symbol
		}
		return ranked[i].Score > ranked[j].Score
	})

	s.logger.Info(ctx, op+": Market scan complete", map[string]interface{}{
		"candidates": len(candidates),
		"ranked":     len(ranked),
		"skipped":    skipped,
	})
	return ranked, nil
}

func (s *Scanner) analyse(ctx context.Context, t ports.Ticker) (RankedInstrument, error) {
	candles, err := s.exchange.GetCandles(ctx, t.Symbol, s.interval, scanCandles)
	if err != nil {
		return RankedInstrument{}, err
	}
	atr, err := indicators.ATR(candles, scanPeriod)
	if err != nil {
		return RankedInstrument{}, err
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	rsi, err := indicators.RSI(closes, scanPeriod)
	if err != nil {
		return RankedInstrument{}, err
	}

	last := closes[len(closes)-1]
	if last <= 0 {
		last = t.LastPrice
	}
	volatility := atr / last * 100
	return RankedInstrument{
		Symbol:         t.Symbol,
		LastPrice:      t.LastPrice,
		QuoteVolume:    t.QuoteVolume,
		PriceChangePct: t.PriceChangePct,
		VolatilityPct:  volatility,
		RSI:            rsi,
		Score:          Score(volatility, rsi),
	}, nil
}

// Score favours volatile instruments whose RSI is far from neutral.
func Score(volatilityPct, rsi float64) float64 {
	return volatilityPct * (1 + math.Abs(rsi-50)/50)
}
