package strategy

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
	"fractalTrader/internal/strategy/indicators"
)

// RejectedTrendReason is logged when a fractal is not confirmed by the trend EMA.
const RejectedTrendReason = "rejected, trend not confirmed"

// RejectedShortReason is logged for sell fractals while shorting is disabled.
const RejectedShortReason = "rejected, shorting disabled"

// Config holds parameters for the fractal strategy.
type Config struct {
	FractalLookback int  // Candles that must follow a fractal before it is used
	AllowShort      bool // When false only long entries and long exits are emitted
	SignalLogSize   int  // Cap of the in-memory signal log
}

// Validate checks the strategy parameters.
func (c Config) Validate() error {
	if c.FractalLookback < 2 {
		return fmt.Errorf("fractal lookback must be at least 2")
	}
	if c.SignalLogSize <= 0 {
		return fmt.Errorf("signal log size must be positive")
	}
	return nil
}

// Strategy turns confirmed fractals into trade signals.
// Each fractal is acted on at most once per instrument.
type Strategy struct {
	logger ports.Logger
	now    func() time.Time

	mu           sync.Mutex
	cfg          Config
	lastActed    map[string]time.Time // Fractal time of the last emitted signal per instrument
	lastRejected map[string]time.Time // Fractal time of the last logged rejection per instrument
	log          []domain.Signal      // Most recent first
}

// New creates a new Strategy instance.
func New(cfg Config, logger ports.Logger) (*Strategy, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Strategy{
		logger:       logger,
		now:          time.Now,
		cfg:          cfg,
		lastActed:    make(map[string]time.Time),
		lastRejected: make(map[string]time.Time),
	}, nil
}

// ApplyConfig swaps in a new configuration snapshot.
func (s *Strategy) ApplyConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.trimLog()
	return nil
}

// Evaluate inspects the fractal sitting lookback candles before the newest one and
// returns at most one signal. open is the side of the position currently held on the
// instrument (domain.Flat when none).
func (s *Strategy) Evaluate(ctx context.Context, set indicators.IndicatorSet, open domain.PositionSide) *domain.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := set.Len() - 1
	target := last - s.cfg.FractalLookback
	if target < 2 || last < 1 {
		return nil
	}

	if f, ok := indicators.FractalAt(set.BuyFractals, target); ok {
		if sig := s.consider(ctx, set, f, domain.Long, open); sig != nil {
			return sig
		}
	}
	if f, ok := indicators.FractalAt(set.SellFractals, target); ok {
		return s.consider(ctx, set, f, domain.Short, open)
	}
	return nil
}

func (s *Strategy) consider(ctx context.Context, set indicators.IndicatorSet, f indicators.Fractal, dir domain.PositionSide, open domain.PositionSide) *domain.Signal {
	symbol := set.Symbol
	if !f.Time.After(s.lastActed[symbol]) {
		return nil // Already signaled
	}

	last := set.Len() - 1
	closePrice := set.Candles[last].Close
	ema, prev := set.EMATrend[last], set.EMATrend[last-1]

	sig := domain.Signal{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Price:       set.LastClose,
		Time:        s.now(),
		FractalTime: f.Time,
	}

	if !confirmed(dir, closePrice, ema, prev) {
		sig.Type = entryType(dir)
		sig.Reason = RejectedTrendReason
		s.reject(ctx, sig)
		return nil
	}

	switch {
	case open == dir:
		// Already positioned this way
		s.lastActed[symbol] = f.Time
		return nil
	case open == dir.Opposite():
		if open == domain.Short && !s.cfg.AllowShort {
			s.lastActed[symbol] = f.Time
			return nil
		}
		sig.Type = closeType(open)
		sig.Reverse = dir == domain.Long || s.cfg.AllowShort
	default:
		if dir == domain.Short && !s.cfg.AllowShort {
			sig.Type = domain.SignalSell
			sig.Reason = RejectedShortReason
			s.reject(ctx, sig)
			return nil
		}
		sig.Type = entryType(dir)
	}

	sig.Strength = strength(set, closePrice, ema)
	sig.Reason = fmt.Sprintf("%s fractal at %.6g confirmed: close %.6g %s %s trend EMA %.6g",
		fractalName(dir), f.Price, closePrice, relation(dir), slope(dir), ema)
	if sig.Reverse {
		sig.Reason += ", reversing"
	}

	s.lastActed[symbol] = f.Time
	s.record(sig)
	s.logger.Info(ctx, "Signal emitted", map[string]interface{}{
		"symbol": symbol, "type": sig.Type, "price": sig.Price, "strength": sig.Strength, "reverse": sig.Reverse,
	})
	return &sig
}

// reject logs a rejection once per fractal. The fractal stays eligible on later ticks.
func (s *Strategy) reject(ctx context.Context, sig domain.Signal) {
	if !sig.FractalTime.After(s.lastRejected[sig.Symbol]) {
		return
	}
	sig.Rejected = true
	s.lastRejected[sig.Symbol] = sig.FractalTime
	s.record(sig)
	s.logger.Debug(ctx, "Signal rejected", map[string]interface{}{"symbol": sig.Symbol, "type": sig.Type, "reason": sig.Reason})
}

// confirmed checks the micro-trend filter: close above a rising EMA for longs, below a falling one for shorts.
func confirmed(dir domain.PositionSide, closePrice, ema, prev float64) bool {
	if !indicators.Valid(ema) || !indicators.Valid(prev) {
		return false
	}
	if dir == domain.Long {
		return closePrice > ema && ema > prev
	}
	return closePrice < ema && ema < prev
}

// strength scores the distance of close from the trend EMA against the PAC channel width, 0..100.
func strength(set indicators.IndicatorSet, closePrice, ema float64) float64 {
	last := set.Len() - 1
	if last >= len(set.PACUpper) || last >= len(set.PACLower) {
		return 50
	}
	width := set.PACUpper[last] - set.PACLower[last]
	if width <= 0 {
		return 50
	}
	return math.Min(100, math.Abs(closePrice-ema)/width*100)
}

func (s *Strategy) record(sig domain.Signal) {
	s.log = append([]domain.Signal{sig}, s.log...)
	s.trimLog()
}

func (s *Strategy) trimLog() {
	if len(s.log) > s.cfg.SignalLogSize {
		s.log = s.log[:s.cfg.SignalLogSize]
	}
}

// RecentSignals returns up to n log entries, most recent first. n <= 0 returns all.
func (s *Strategy) RecentSignals(n int) []domain.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.log) {
		n = len(s.log)
	}
	out := make([]domain.Signal, n)
	copy(out, s.log[:n])
	return out
}

// Restore seeds the log from persisted entries (most recent first) and marks
// their fractals as handled.
func (s *Strategy) Restore(signals []domain.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append([]domain.Signal(nil), signals...)
	s.trimLog()
	for _, sig := range signals {
		seen := s.lastActed
		if sig.Rejected {
			seen = s.lastRejected
		}
		if sig.FractalTime.After(seen[sig.Symbol]) {
			seen[sig.Symbol] = sig.FractalTime
		}
	}
}

func entryType(dir domain.PositionSide) domain.SignalType {
	if dir == domain.Short {
		return domain.SignalSell
	}
	return domain.SignalBuy
}

func closeType(open domain.PositionSide) domain.SignalType {
	if open == domain.Short {
		return domain.SignalCloseShort
	}
	return domain.SignalCloseLong
}

func fractalName(dir domain.PositionSide) string {
	if dir == domain.Short {
		return "sell"
	}
	return "buy"
}

func relation(dir domain.PositionSide) string {
	if dir == domain.Short {
		return "below"
	}
	return "above"
}

func slope(dir domain.PositionSide) string {
	if dir == domain.Short {
		return "falling"
	}
	return "rising"
}
