package risk

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
)

// RiskConfig holds configuration for sizing and capital policy.
type RiskConfig struct {
	PositionSizePercent float64 // Fraction of available balance committed as margin
	BalanceSafetyMargin float64 // Margin never exceeds this fraction of available balance
	MinNotional         float64 // Exchange minimum order value in quote asset
	StopLossPercent     float64
	TakeProfitPercent   float64
	TrailingActivation  float64 // Fraction of the entry-to-TP distance that arms the trailing stop
	WithdrawalThreshold float64 // Absolute profit above which withdrawals start
	WithdrawalPercent   float64 // Share of the excess profit that is withdrawn
}

// Sizing is the outcome of a position size computation.
type Sizing struct {
	Margin   float64 // Quote asset committed
	Notional float64 // Margin times leverage
	Quantity float64 // Notional at the reference price
	Clamped  bool    // Margin was cut to the safety margin
}

// RiskManager computes sizes, protective prices and withdrawals.
type RiskManager struct {
	mu     sync.RWMutex
	config RiskConfig
}

// NewRiskManager creates a new risk manager instance
func NewRiskManager(config RiskConfig) *RiskManager {
	return &RiskManager{config: config}
}

// ApplyConfig swaps in a new configuration snapshot.
func (r *RiskManager) ApplyConfig(config RiskConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = config
}

func (r *RiskManager) cfg() RiskConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.config
}

// PositionSize derives the margin, notional and quantity of a new position.
// An explicit margin overrides the configured percentage. The margin is clamped to
// the safety share of available balance and the notional must reach the exchange minimum.
func (r *RiskManager) PositionSize(available, explicitMargin, price float64, leverage int) (Sizing, error) {
	cfg := r.cfg()
	if price <= 0 {
		return Sizing{}, fmt.Errorf("%w: reference price must be positive", ports.ErrInvalidRequest)
	}
	if leverage <= 0 {
		leverage = 1
	}

	avail := decimal.NewFromFloat(available)
	margin := avail.Mul(decimal.NewFromFloat(cfg.PositionSizePercent))
	if explicitMargin > 0 {
		margin = decimal.NewFromFloat(explicitMargin)
	}

	var s Sizing
	ceiling := avail.Mul(decimal.NewFromFloat(cfg.BalanceSafetyMargin))
	if margin.GreaterThan(ceiling) {
		margin = ceiling
		s.Clamped = true
	}

	notional := margin.Mul(decimal.NewFromInt(int64(leverage)))
	s.Margin = margin.InexactFloat64()
	s.Notional = notional.InexactFloat64()
	s.Quantity = notional.Div(decimal.NewFromFloat(price)).InexactFloat64()

	if s.Notional <= 0 || s.Notional < cfg.MinNotional {
		return s, fmt.Errorf("%w: notional %.4f below minimum %.4f", ports.ErrSizing, s.Notional, cfg.MinNotional)
	}
	return s, nil
}

// GetStopLoss calculates the stop loss price for a position. Returns 0 when disabled.
func (r *RiskManager) GetStopLoss(entryPrice float64, side domain.PositionSide) float64 {
	pct := r.cfg().StopLossPercent
	if pct <= 0 {
		return 0
	}
	return entryPrice * (1 - side.Sign()*pct)
}

// GetTakeProfit calculates the take profit price for a position. Returns 0 when disabled.
func (r *RiskManager) GetTakeProfit(entryPrice float64, side domain.PositionSide) float64 {
	pct := r.cfg().TakeProfitPercent
	if pct <= 0 {
		return 0
	}
	return entryPrice * (1 + side.Sign()*pct)
}

// TrailingTrigger returns the price at which a trailing stop is armed for pos,
// or 0 when the position has no take-profit target.
func (r *RiskManager) TrailingTrigger(pos *domain.Position) float64 {
	tp := pos.Protection.TakeProfit
	if tp <= 0 {
		return 0
	}
	return pos.EntryPrice + (tp-pos.EntryPrice)*r.cfg().TrailingActivation
}

// ShouldArmTrailing reports whether price has travelled far enough toward the take-profit.
func (r *RiskManager) ShouldArmTrailing(pos *domain.Position, price float64) bool {
	if pos.Protection.TrailingActive || price <= 0 {
		return false
	}
	trigger := r.TrailingTrigger(pos)
	if trigger <= 0 {
		return false
	}
	if pos.Side == domain.Short {
		return price <= trigger
	}
	return price >= trigger
}

// Withdrawal returns the amount to withdraw for the current capital state.
// Withdrawals since the baseline was set track WithdrawalPercent of the profit
// above the threshold, so already-withdrawn excess is never taken twice.
// Amounts withdrawn before the baseline was taken do not count against it.
func (r *RiskManager) Withdrawal(capital domain.CapitalState) float64 {
	cfg := r.cfg()
	if cfg.WithdrawalPercent <= 0 {
		return 0
	}
	excess := capital.Profit() - cfg.WithdrawalThreshold
	if excess <= 0 {
		return 0
	}
	target := decimal.NewFromFloat(excess).Mul(decimal.NewFromFloat(cfg.WithdrawalPercent))
	due := target.Sub(decimal.NewFromFloat(capital.SessionWithdrawn)).Round(8)
	if !due.IsPositive() {
		return 0
	}
	return due.InexactFloat64()
}
