package app

import (
	"context"
	"strings"

	"fractalTrader/config"
	"fractalTrader/internal/marketdata"
	"fractalTrader/internal/ports"
)

// UpdateConfig validates and applies a partial configuration update, then
// persists the runtime settings. It reports false and changes nothing when the
// resulting configuration is invalid. Running tasks see the new snapshot on
// their next tick; task intervals are not patchable and stay as loaded at startup.
func (s *TradingService) UpdateConfig(ctx context.Context, patch config.Patch) bool {
	op := "UpdateConfig"
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	next := s.config().Apply(patch)
	if err := next.Validate(); err != nil {
		s.logger.Warn(ctx, op+": Rejected configuration update", map[string]interface{}{"error": err.Error()})
		return false
	}
	if err := strategyConfig(next).Validate(); err != nil {
		s.logger.Warn(ctx, op+": Rejected configuration update", map[string]interface{}{"error": err.Error()})
		return false
	}
	if err := s.applyComponents(next); err != nil {
		s.logger.Error(ctx, err, op+": Failed to apply configuration")
		return false
	}

	s.mu.Lock()
	s.cfg = next
	s.mu.Unlock()

	s.persist(ctx, ports.KeyBotConfig, next.Tunables())
	s.persist(ctx, ports.KeyTradingPairs, next.TradingPairs)
	s.logger.Info(ctx, op+": Configuration updated", map[string]interface{}{
		"tradingPairs":     next.TradingPairs,
		"leverage":         next.Leverage,
		"maxOpenPositions": next.MaxOpenPositions,
		"allowShort":       next.AllowShort,
	})
	return true
}

// SelectInstrumentForTrading adds symbol to the tracked instruments. Symbols
// already tracked are accepted as is. It reports false when the instrument
// limit is reached or the exchange does not quote the symbol.
func (s *TradingService) SelectInstrumentForTrading(ctx context.Context, symbol string) bool {
	op := "SelectInstrumentForTrading"
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return false
	}
	fields := map[string]interface{}{"symbol": symbol}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	cfg := s.config()
	for _, sym := range cfg.TradingPairs {
		if sym == symbol {
			return true
		}
	}
	if len(cfg.TradingPairs) >= cfg.MaxInstruments {
		fields["maxInstruments"] = cfg.MaxInstruments
		s.logger.Warn(ctx, op+": Instrument limit reached", fields)
		return false
	}
	if _, err := s.exchange.GetTicker(ctx, symbol); err != nil {
		fields["error"] = err.Error()
		s.logger.Warn(ctx, op+": Instrument not tradable", fields)
		return false
	}

	pairs := append(append([]string(nil), cfg.TradingPairs...), symbol)
	next := cfg.Apply(config.Patch{TradingPairs: pairs})

	s.mu.Lock()
	s.cfg = next
	s.mu.Unlock()

	s.persist(ctx, ports.KeyTradingPairs, next.TradingPairs)
	s.logger.Info(ctx, op+": Instrument selected", map[string]interface{}{"symbol": symbol, "tradingPairs": next.TradingPairs})
	return true
}

// TradingPairs returns the tracked instruments.
func (s *TradingService) TradingPairs() []string {
	return append([]string(nil), s.config().TradingPairs...)
}

// ScanMarket ranks liquid instruments by tradeability.
func (s *TradingService) ScanMarket(ctx context.Context) ([]marketdata.RankedInstrument, error) {
	ranked, err := s.scanner.Scan(ctx)
	if err != nil {
		s.setLastError(err)
		return nil, err
	}
	s.mu.Lock()
	s.lastScanTime = s.now()
	s.mu.Unlock()
	return ranked, nil
}
