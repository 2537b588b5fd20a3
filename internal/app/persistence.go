package app

import (
	"context"

	"fractalTrader/config"
	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
)

type restoredState struct {
	history        []domain.TradeRecord
	signals        []domain.Signal
	performance    []domain.DailyRecord
	balanceHistory []domain.BalanceSample
	withdrawn      float64
}

// restoreConfig layers the persisted runtime settings over cfg. A persisted
// patch that no longer validates is ignored.
func (s *TradingService) restoreConfig(ctx context.Context, cfg config.Config) config.Config {
	op := "restoreConfig"
	var patch config.Patch
	if ok := s.load(ctx, ports.KeyBotConfig, &patch); ok {
		next := cfg.Apply(patch)
		if err := next.Validate(); err != nil {
			s.logger.Warn(ctx, op+": Ignoring persisted bot config", map[string]interface{}{"error": err.Error()})
		} else {
			cfg = next
		}
	}

	var pairs []string
	if ok := s.load(ctx, ports.KeyTradingPairs, &pairs); ok && len(pairs) > 0 {
		next := cfg.Apply(config.Patch{TradingPairs: pairs})
		if err := next.Validate(); err != nil {
			s.logger.Warn(ctx, op+": Ignoring persisted trading pairs", map[string]interface{}{"error": err.Error(), "pairs": pairs})
		} else {
			cfg = next
		}
	}
	return cfg
}

func (s *TradingService) restoreState(ctx context.Context) restoredState {
	var st restoredState
	s.load(ctx, ports.KeyPositionHistory, &st.history)
	s.load(ctx, ports.KeyRecentSignals, &st.signals)
	s.load(ctx, ports.KeyPerformanceHistory, &st.performance)
	s.load(ctx, ports.KeyBalanceHistory, &st.balanceHistory)
	s.load(ctx, ports.KeyTotalWithdrawnAmount, &st.withdrawn)
	if st.withdrawn < 0 {
		st.withdrawn = 0
	}
	if n := len(st.balanceHistory); n > maxBalanceHistory {
		st.balanceHistory = st.balanceHistory[n-maxBalanceHistory:]
	}
	s.logger.Debug(ctx, "Restored persisted state", map[string]interface{}{
		"trades":         len(st.history),
		"signals":        len(st.signals),
		"days":           len(st.performance),
		"balanceSamples": len(st.balanceHistory),
		"totalWithdrawn": st.withdrawn,
	})
	return st
}

// load reads key into dest. Missing keys and store failures both report false;
// failures are logged and the caller keeps its defaults.
func (s *TradingService) load(ctx context.Context, key string, dest interface{}) bool {
	found, err := s.store.Get(ctx, key, dest)
	if err != nil {
		s.logger.Warn(ctx, "Failed to load persisted value", map[string]interface{}{"key": key, "error": err.Error()})
		return false
	}
	return found
}

// persist writes value under key. Failures are logged and never abort the caller.
func (s *TradingService) persist(ctx context.Context, key string, value interface{}) {
	if err := s.store.Set(ctx, key, value); err != nil {
		s.logger.Error(ctx, err, "Failed to persist value", map[string]interface{}{"key": key})
	}
}

// flush writes every history to the store.
func (s *TradingService) flush(ctx context.Context) {
	s.mu.RLock()
	performance := append([]domain.DailyRecord(nil), s.performance...)
	balances := append([]domain.BalanceSample(nil), s.balanceHistory...)
	withdrawn := s.capital.TotalWithdrawn
	signalLog := s.cfg.SignalLogSize
	s.mu.RUnlock()

	s.persist(ctx, ports.KeyPositionHistory, s.positions.History())
	s.persist(ctx, ports.KeyPerformanceHistory, performance)
	s.persist(ctx, ports.KeyBalanceHistory, balances)
	s.persist(ctx, ports.KeyTotalWithdrawnAmount, withdrawn)
	s.persist(ctx, ports.KeyRecentSignals, s.strategy.RecentSignals(signalLog))
}

// persistSignals writes the signal log when a new signal has been recorded.
func (s *TradingService) persistSignals(ctx context.Context) {
	s.mu.RLock()
	n := s.cfg.SignalLogSize
	last := s.persistedSignalID
	s.mu.RUnlock()

	signals := s.strategy.RecentSignals(n)
	if len(signals) == 0 || signals[0].ID == last {
		return
	}
	s.persist(ctx, ports.KeyRecentSignals, signals)

	s.mu.Lock()
	s.persistedSignalID = signals[0].ID
	s.mu.Unlock()
}
