package domain

import "time"

// TradeResult classifies a closed position.
type TradeResult string

const (
	ResultWin  TradeResult = "win"
	ResultLoss TradeResult = "loss"
)

// TradeRecord is an append-only position history entry written when a position closes.
type TradeRecord struct {
	PositionID  string        `json:"positionId"`
	Symbol      string        `json:"symbol"`
	Side        PositionSide  `json:"side"`
	EntryPrice  float64       `json:"entryPrice"`
	ExitPrice   float64       `json:"exitPrice"`
	Quantity    float64       `json:"quantity"`
	Leverage    int           `json:"leverage"`
	PNL         float64       `json:"pnl"`    // Realized quote amount
	PnlPct      float64       `json:"pnlPct"` // Leveraged return in percent
	Result      TradeResult   `json:"result"`
	EntryTime   time.Time     `json:"entryTime"`
	ExitTime    time.Time     `json:"exitTime"`
	Duration    time.Duration `json:"duration"`
	CloseReason CloseReason   `json:"closeReason"`
}

// NewTradeRecord closes out pos at exitPrice.
func NewTradeRecord(pos *Position, exitPrice float64, exitTime time.Time, reason CloseReason) TradeRecord {
	rec := TradeRecord{
		PositionID:  pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    pos.Quantity,
		Leverage:    pos.Leverage,
		PNL:         pos.PnlAmount(exitPrice),
		PnlPct:      pos.PnlPct(exitPrice),
		EntryTime:   pos.EntryTime,
		ExitTime:    exitTime,
		Duration:    exitTime.Sub(pos.EntryTime),
		CloseReason: reason,
	}
	if rec.PnlPct > 0 {
		rec.Result = ResultWin
	} else {
		rec.Result = ResultLoss
	}
	return rec
}

// IsWin reports whether the trade closed in profit.
func (t TradeRecord) IsWin() bool {
	return t.Result == ResultWin
}
