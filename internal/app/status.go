package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"fractalTrader/internal/domain"
	"fractalTrader/internal/strategy/analytics"
)

const statusSignalCount = 10

// PairStatus summarizes one tracked instrument.
type PairStatus struct {
	Symbol           string              `json:"symbol"`
	LastPrice        float64             `json:"lastPrice"`
	OpenSide         domain.PositionSide `json:"openSide"`
	UnrealizedPnlPct float64             `json:"unrealizedPnlPct"`
	LastSignal       *domain.Signal      `json:"lastSignal,omitempty"`
}

// StatusSnapshot is the aggregate state reported to operators.
type StatusSnapshot struct {
	State           State                   `json:"state"`
	IsRunning       bool                    `json:"isRunning"`
	Balance         float64                 `json:"balance"`
	InitialBalance  float64                 `json:"initialBalance"`
	TotalProfit     float64                 `json:"totalProfit"`
	ProfitPct       float64                 `json:"profitPct"` // Percent of the baseline
	ProfitToday     float64                 `json:"profitToday"`
	TradesToday     int                     `json:"tradesToday"`
	WinRate         float64                 `json:"winRate"` // Percent over the whole trade history
	AverageProfit   float64                 `json:"averageProfit"`
	TotalTrades     int                     `json:"totalTrades"`
	ActivePositions int                     `json:"activePositions"`
	TotalWithdrawn  float64                 `json:"totalWithdrawn"`
	ReinvestmentPct float64                 `json:"reinvestmentPct"`
	LastError       string                  `json:"lastError,omitempty"`
	LastScanTime    time.Time               `json:"lastScanTime"`
	UpdatedAt       time.Time               `json:"updatedAt"`
	TradingPairs    []PairStatus            `json:"tradingPairs"`
	Positions       []domain.Position       `json:"positions"`
	RecentSignals   []domain.Signal         `json:"recentSignals"`
	Performance     []domain.DailyRecord    `json:"performance"`
	BalanceHistory  []domain.BalanceSample  `json:"balanceHistory"`
	Analytics       analytics.Report        `json:"analytics"`
	Daily           domain.DailyPerformance `json:"daily"`
}

// GetStatus computes the current aggregate status.
func (s *TradingService) GetStatus() StatusSnapshot {
	s.mu.RLock()
	cfg := s.cfg
	capital := s.capital
	snap := StatusSnapshot{
		State:           s.state,
		IsRunning:       s.state == StateRunning,
		Balance:         capital.Balance,
		InitialBalance:  capital.InitialBalance,
		TotalProfit:     capital.Profit(),
		ProfitPct:       capital.ProfitPct() * 100,
		ProfitToday:     s.daily.ProfitToday,
		TradesToday:     s.daily.TradesToday,
		TotalWithdrawn:  capital.TotalWithdrawn,
		ReinvestmentPct: cfg.ReinvestmentPercent * 100,
		LastError:       s.lastError,
		LastScanTime:    s.lastScanTime,
		UpdatedAt:       s.now(),
		Performance:     append([]domain.DailyRecord(nil), s.performance...),
		BalanceHistory:  append([]domain.BalanceSample(nil), s.balanceHistory...),
		Daily:           s.daily,
	}
	lastSignals := make(map[string]domain.Signal, len(s.lastSignals))
	for k, v := range s.lastSignals {
		lastSignals[k] = v
	}
	s.mu.RUnlock()

	report := analytics.Analyze(s.positions.History(), capital.InitialBalance)
	snap.Analytics = report
	snap.WinRate = report.WinRate
	snap.AverageProfit = report.AverageProfit
	snap.TotalTrades = report.TotalTrades

	snap.Positions = s.positions.OpenPositions()
	snap.ActivePositions = len(snap.Positions)
	snap.RecentSignals = s.strategy.RecentSignals(statusSignalCount)

	bySymbol := make(map[string]domain.Position, len(snap.Positions))
	for _, p := range snap.Positions {
		bySymbol[p.Symbol] = p
	}
	for _, sym := range cfg.TradingPairs {
		ps := PairStatus{Symbol: sym, OpenSide: domain.Flat}
		if price, ok := s.market.LastPrice(sym); ok {
			ps.LastPrice = price
		}
		if p, ok := bySymbol[sym]; ok {
			ps.OpenSide = p.Side
			ps.UnrealizedPnlPct = p.UnrealizedPnlPct
		}
		if sig, ok := lastSignals[sym]; ok {
			ps.LastSignal = &sig
		}
		snap.TradingPairs = append(snap.TradingPairs, ps)
	}
	return snap
}

// Summary renders the snapshot as short plain text for chat notifications.
func (st StatusSnapshot) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", st.State)
	fmt.Fprintf(&b, "Balance: %.2f (profit %.2f, %.2f%%)\n", st.Balance, st.TotalProfit, st.ProfitPct)
	fmt.Fprintf(&b, "Today: %d trades, %.2f\n", st.TradesToday, st.ProfitToday)
	fmt.Fprintf(&b, "Win rate: %.1f%% over %d trades\n", st.WinRate, st.TotalTrades)
	fmt.Fprintf(&b, "Withdrawn: %.2f\n", st.TotalWithdrawn)

	positions := append([]domain.Position(nil), st.Positions...)
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	fmt.Fprintf(&b, "Open positions: %d\n", len(positions))
	for _, p := range positions {
		fmt.Fprintf(&b, "  %s %s @ %.4f (%.2f%%)\n", p.Symbol, p.Side, p.EntryPrice, p.UnrealizedPnlPct)
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", st.LastError)
	}
	return strings.TrimRight(b.String(), "\n")
}
