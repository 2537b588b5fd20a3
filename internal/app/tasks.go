package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
)

// runTask runs fn immediately and then on every tick until ctx is canceled.
// A failing or panicking tick is logged and does not stop the task.
func (s *TradingService) runTask(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	defer s.wg.Done()
	if interval <= 0 {
		interval = time.Minute
	}

	s.tick(ctx, name, fn)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug(ctx, "Task stopped", map[string]interface{}{"task": name})
			return
		case <-ticker.C:
			s.tick(ctx, name, fn)
		}
	}
}

func (s *TradingService) tick(ctx context.Context, name string, fn func(context.Context) error) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", name, r)
		}
		if ctx.Err() != nil {
			return // Results after Stop are discarded
		}
		s.metrics.IncTick(name, err == nil)
		if err != nil {
			s.setLastError(err)
			s.logger.Error(ctx, err, "Task tick failed", map[string]interface{}{"task": name})
		}
	}()
	err = fn(ctx)
}

// refreshMarket reloads candles for the tracked instruments and any instrument
// with an open position.
func (s *TradingService) refreshMarket(ctx context.Context) error {
	cfg := s.config()
	seen := make(map[string]bool)
	var symbols []string
	for _, sym := range cfg.TradingPairs {
		if !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	}
	for _, pos := range s.positions.OpenPositions() {
		if !seen[pos.Symbol] {
			seen[pos.Symbol] = true
			symbols = append(symbols, pos.Symbol)
		}
	}
	sort.Strings(symbols)
	s.market.Retain(symbols)
	return s.market.Refresh(ctx, symbols)
}

func (s *TradingService) reconcilePositions(ctx context.Context) error {
	if err := s.positions.Reconcile(ctx); err != nil {
		return err
	}
	armed, err := s.positions.ArmTrailingStops(ctx)
	if armed > 0 {
		s.logger.Info(ctx, "Trailing stops armed", map[string]interface{}{"count": armed})
	}
	s.metrics.SetOpenPositions(s.positions.OpenCount())
	return err
}

func (s *TradingService) checkDurations(ctx context.Context) error {
	closed, err := s.positions.CloseExpired(ctx)
	if len(closed) > 0 {
		s.logger.Info(ctx, "Closed positions past max trade duration", map[string]interface{}{"count": len(closed)})
	}
	return err
}

// updateStatus refreshes the gauges and samples the balance history.
func (s *TradingService) updateStatus(ctx context.Context) error {
	status := s.GetStatus()
	s.metrics.SetBalance(status.Balance)
	s.metrics.SetProfit(status.TotalProfit, status.ProfitPct)
	s.metrics.SetOpenPositions(status.ActivePositions)

	now := s.now()
	s.mu.Lock()
	n := len(s.balanceHistory)
	if n > 0 && now.Sub(s.balanceHistory[n-1].Time) < s.cfg.BalanceHistoryInterval {
		s.mu.Unlock()
		return nil
	}
	s.balanceHistory = append(s.balanceHistory, domain.BalanceSample{Time: now, Balance: s.capital.Balance})
	if len(s.balanceHistory) > maxBalanceHistory {
		s.balanceHistory = append([]domain.BalanceSample(nil), s.balanceHistory[len(s.balanceHistory)-maxBalanceHistory:]...)
	}
	samples := append([]domain.BalanceSample(nil), s.balanceHistory...)
	s.mu.Unlock()

	s.persist(ctx, ports.KeyBalanceHistory, samples)
	return nil
}

// checkRollover closes the current day once the calendar date has changed:
// the day's record is appended to the performance history and the counters
// restart. A day is rolled over exactly once.
func (s *TradingService) checkRollover(ctx context.Context) error {
	op := "checkRollover"
	now := s.now()

	s.mu.Lock()
	if domain.DayKey(now) == s.daily.Date {
		s.mu.Unlock()
		return nil
	}
	record := s.daily.Summary(s.capital.Balance)
	s.performance = append(s.performance, record)
	if len(s.performance) > maxPerformanceHistory {
		s.performance = append([]domain.DailyRecord(nil), s.performance[len(s.performance)-maxPerformanceHistory:]...)
	}
	s.daily = domain.NewDailyPerformance(now, s.capital.Balance)
	performance := append([]domain.DailyRecord(nil), s.performance...)
	s.mu.Unlock()

	s.logger.Info(ctx, op+": Daily performance recorded", map[string]interface{}{
		"date":    record.Date,
		"trades":  record.Trades,
		"winRate": record.WinRate,
		"profit":  record.Profit,
	})
	s.persist(ctx, ports.KeyPerformanceHistory, performance)
	return nil
}
