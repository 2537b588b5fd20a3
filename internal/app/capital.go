package app

import (
	"context"
	"fmt"

	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
)

// onLifecycleEvent is the position manager's event sink. Closed trades are
// booked into capital and the daily counters before the event is published.
func (s *TradingService) onLifecycleEvent(ctx context.Context, ev domain.LifecycleEvent) {
	if ev.Type == domain.EventClosed && ev.Trade != nil {
		s.bookTrade(ctx, *ev.Trade)
	}
	s.metrics.SetOpenPositions(s.positions.OpenCount())
	s.publish(ctx, ev)
}

// bookTrade applies a realized trade to the capital state, then withdraws the
// share of profit above the threshold that has not been withdrawn yet.
func (s *TradingService) bookTrade(ctx context.Context, trade domain.TradeRecord) {
	op := "bookTrade"

	s.mu.Lock()
	s.capital.ApplyPnl(trade.PNL)
	s.daily.Record(trade)
	withdrawal := s.risk.Withdrawal(s.capital)
	s.capital.Withdraw(withdrawal)
	capital := s.capital
	s.mu.Unlock()

	s.logger.Info(ctx, op+": Trade booked", map[string]interface{}{
		"positionID": trade.PositionID,
		"symbol":     trade.Symbol,
		"pnl":        trade.PNL,
		"pnlPct":     trade.PnlPct,
		"result":     trade.Result,
		"reason":     trade.CloseReason,
		"balance":    capital.Balance,
	})
	if withdrawal > 0 {
		s.logger.Info(ctx, op+": Profit withdrawn", map[string]interface{}{
			"amount":         withdrawal,
			"totalWithdrawn": capital.TotalWithdrawn,
			"balance":        capital.Balance,
		})
		s.persist(ctx, ports.KeyTotalWithdrawnAmount, capital.TotalWithdrawn)
	}

	s.metrics.SetBalance(capital.Balance)
	s.metrics.SetProfit(capital.Profit(), capital.ProfitPct()*100)
	s.persist(ctx, ports.KeyPositionHistory, s.positions.History())
}

// publish fans the event out to every publisher. A failing publisher is logged
// and does not affect the others.
func (s *TradingService) publish(ctx context.Context, ev domain.LifecycleEvent) {
	if len(s.publishers) == 0 {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	for i, p := range s.publishers {
		if err := p.Publish(pubCtx, ev); err != nil {
			s.logger.Warn(ctx, "Failed to publish lifecycle event", map[string]interface{}{
				"publisher": fmt.Sprintf("%T#%d", p, i),
				"event":     ev.Type,
				"symbol":    ev.Position.Symbol,
				"error":     err.Error(),
			})
		}
	}
}
