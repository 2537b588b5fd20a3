package analytics

import (
	"math"
	"sort"
	"time"

	"fractalTrader/internal/domain"
)

// Report holds performance statistics over closed positions.
type Report struct {
	// Basic Metrics
	TotalTrades   int     `json:"totalTrades"`
	WinningTrades int     `json:"winningTrades"`
	LosingTrades  int     `json:"losingTrades"`
	WinRate       float64 `json:"winRate"` // Percent
	TotalProfit   float64 `json:"totalProfit"`
	AverageProfit float64 `json:"averageProfit"`
	AverageWin    float64 `json:"averageWin"`
	AverageLoss   float64 `json:"averageLoss"` // Negative or zero
	ProfitFactor  float64 `json:"profitFactor"`
	MaxDrawdown   float64 `json:"maxDrawdown"` // Fraction of the running peak
	FinalBalance  float64 `json:"finalBalance"`

	// Advanced Metrics
	MaxConsecutiveWins   int                      `json:"maxConsecutiveWins"`
	MaxConsecutiveLosses int                      `json:"maxConsecutiveLosses"`
	AverageTradeDuration time.Duration            `json:"averageTradeDuration"`
	Expectancy           float64                  `json:"expectancy"`
	BySymbol             map[string]SymbolSummary `json:"bySymbol"`
	ByReason             map[string]int           `json:"byReason"`
}

// SymbolSummary aggregates the trades of one instrument.
type SymbolSummary struct {
	Trades int     `json:"trades"`
	Wins   int     `json:"wins"`
	Profit float64 `json:"profit"`
}

// Analyze computes a Report from closed trades in any order, starting the
// equity curve at initialBalance. The input slice is not modified.
func Analyze(trades []domain.TradeRecord, initialBalance float64) Report {
	report := Report{
		FinalBalance: initialBalance,
		BySymbol:     make(map[string]SymbolSummary),
		ByReason:     make(map[string]int),
	}
	if len(trades) == 0 {
		return report
	}

	ordered := make([]domain.TradeRecord, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitTime.Before(ordered[j].ExitTime)
	})

	balance, peak := initialBalance, initialBalance
	var grossWin, grossLoss float64
	var streakWins, streakLosses int
	var totalDuration time.Duration

	for _, trade := range ordered {
		report.TotalTrades++
		report.TotalProfit += trade.PNL
		totalDuration += trade.Duration
		report.ByReason[string(trade.CloseReason)]++

		s := report.BySymbol[trade.Symbol]
		s.Trades++
		s.Profit += trade.PNL

		if trade.IsWin() {
			report.WinningTrades++
			grossWin += trade.PNL
			s.Wins++
			streakWins++
			streakLosses = 0
		} else {
			report.LosingTrades++
			grossLoss += trade.PNL
			streakLosses++
			streakWins = 0
		}
		report.BySymbol[trade.Symbol] = s
		report.MaxConsecutiveWins = max(report.MaxConsecutiveWins, streakWins)
		report.MaxConsecutiveLosses = max(report.MaxConsecutiveLosses, streakLosses)

		// Update drawdown tracking
		balance += trade.PNL
		if balance > peak {
			peak = balance
		} else if peak > 0 {
			report.MaxDrawdown = math.Max(report.MaxDrawdown, (peak-balance)/peak)
		}
	}

	n := float64(report.TotalTrades)
	report.FinalBalance = balance
	report.WinRate = float64(report.WinningTrades) / n * 100
	report.AverageProfit = report.TotalProfit / n
	report.AverageTradeDuration = totalDuration / time.Duration(report.TotalTrades)
	if report.WinningTrades > 0 {
		report.AverageWin = grossWin / float64(report.WinningTrades)
	}
	if report.LosingTrades > 0 {
		report.AverageLoss = grossLoss / float64(report.LosingTrades)
	}
	if grossLoss < 0 {
		report.ProfitFactor = grossWin / -grossLoss
	}
	winShare := float64(report.WinningTrades) / n
	report.Expectancy = winShare*report.AverageWin + (1-winShare)*report.AverageLoss

	return report
}
