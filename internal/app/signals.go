package app

import (
	"context"
	"errors"
	"fmt"

	"fractalTrader/config"
	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
	"fractalTrader/internal/position"
)

// evaluateStrategy runs the strategy over every tracked instrument with fresh
// indicators and routes the resulting signals.
func (s *TradingService) evaluateStrategy(ctx context.Context) error {
	cfg := s.config()
	var errs []error
	for _, sym := range cfg.TradingPairs {
		set, ok := s.market.Indicators(sym)
		if !ok {
			continue
		}
		sig := s.strategy.Evaluate(ctx, *set, s.positions.SideOf(sym))
		if sig == nil {
			continue
		}
		if err := s.handleSignal(ctx, *sig); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
		}
	}
	s.persistSignals(ctx)
	return errors.Join(errs...)
}

// handleSignal turns a signal into position operations. Close signals apply
// only to a position on the matching side; a reversing close then enters the
// opposite side. Entry signals open a position, closing an opposite one first;
// they are dropped when a same-side position is already open or the
// open-position ceiling is reached.
func (s *TradingService) handleSignal(ctx context.Context, sig domain.Signal) error {
	op := "handleSignal"
	cfg := s.config()
	fields := map[string]interface{}{
		"signalID": sig.ID,
		"symbol":   sig.Symbol,
		"type":     sig.Type,
		"price":    sig.Price,
		"strength": sig.Strength,
	}

	s.mu.Lock()
	s.lastSignals[sig.Symbol] = sig
	s.mu.Unlock()

	if sig.Rejected {
		s.metrics.IncSignal(sig.Symbol, string(sig.Type), true)
		return nil
	}
	if sig.Strength < cfg.MinSignalStrength {
		s.logger.Debug(ctx, op+": Signal below minimum strength", fields)
		s.metrics.IncSignal(sig.Symbol, string(sig.Type), true)
		return nil
	}
	s.metrics.IncSignal(sig.Symbol, string(sig.Type), false)

	open := s.positions.SideOf(sig.Symbol)

	if target := sig.ClosingSide(); target != domain.Flat {
		if open != target {
			s.logger.Debug(ctx, op+": No matching position for close signal", fields)
			return nil
		}
		reason := domain.CloseReasonSignal
		if sig.Reverse {
			reason = domain.CloseReasonReversal
		}
		if _, err := s.positions.Close(ctx, position.CloseRequest{Symbol: sig.Symbol, Reason: reason}); err != nil {
			return err
		}
		if !sig.Reverse {
			return nil
		}
		return s.enter(ctx, cfg, sig, target.Opposite(), fields)
	}

	side := sig.EntrySide()
	if side == domain.Flat {
		return fmt.Errorf("%s failed: %w: signal type %q", op, ports.ErrInvalidRequest, sig.Type)
	}
	if open == side {
		s.logger.Debug(ctx, op+": Position already open on signal side", fields)
		return nil
	}
	if side == domain.Short && !cfg.AllowShort {
		s.logger.Debug(ctx, op+": Short entry ignored, shorting disabled", fields)
		return nil
	}
	if open != domain.Flat {
		if _, err := s.positions.Close(ctx, position.CloseRequest{Symbol: sig.Symbol, Reason: domain.CloseReasonReversal}); err != nil {
			return fmt.Errorf("%s failed: reversal close: %w", op, err)
		}
	}
	return s.enter(ctx, cfg, sig, side, fields)
}

// enter opens side on the signal's instrument with the configured protection.
// Declined opens are not errors.
func (s *TradingService) enter(ctx context.Context, cfg config.Config, sig domain.Signal, side domain.PositionSide, fields map[string]interface{}) error {
	op := "enter"
	if side == domain.Short && !cfg.AllowShort {
		s.logger.Debug(ctx, op+": Short entry ignored, shorting disabled", fields)
		return nil
	}
	if s.positions.OpenCount() >= cfg.MaxOpenPositions {
		s.logger.Info(ctx, op+": Open position ceiling reached, entry skipped", fields)
		return nil
	}

	_, err := s.positions.Open(ctx, position.OpenRequest{
		Symbol:         sig.Symbol,
		Side:           side,
		ReferencePrice: sig.Price,
		TakeProfit:     s.risk.GetTakeProfit(sig.Price, side),
		StopLoss:       s.risk.GetStopLoss(sig.Price, side),
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ports.ErrSizing), errors.Is(err, ports.ErrPositionLimit), errors.Is(err, ports.ErrPositionExists):
		// Declined opens are logged by the position manager.
		return nil
	default:
		return err
	}
}
