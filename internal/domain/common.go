package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// PositionSide is the direction of an open position. The zero value means flat.
type PositionSide string

const (
	Flat  PositionSide = ""
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// EntrySide returns the order side that opens a position in this direction.
func (s PositionSide) EntrySide() OrderSide {
	if s == Short {
		return Sell
	}
	return Buy
}

// ExitSide returns the order side that reduces a position in this direction.
func (s PositionSide) ExitSide() OrderSide {
	if s == Short {
		return Buy
	}
	return Sell
}

// Opposite returns the reverse direction. Flat stays flat.
func (s PositionSide) Opposite() PositionSide {
	switch s {
	case Long:
		return Short
	case Short:
		return Long
	default:
		return Flat
	}
}

// Sign is +1 for longs and -1 for shorts.
func (s PositionSide) Sign() float64 {
	if s == Short {
		return -1
	}
	return 1
}

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonSignal    CloseReason = "SIGNAL"
	CloseReasonReversal  CloseReason = "REVERSAL"
	CloseReasonTimeLimit CloseReason = "TIME_LIMIT" // Max trade duration exceeded
	CloseReasonManual    CloseReason = "MANUAL"
	CloseReasonExchange  CloseReason = "EXCHANGE" // Exchange reported zero size (TP/SL/liquidation)
)
