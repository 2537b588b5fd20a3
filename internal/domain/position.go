package domain

import "time"

// Protection holds the protective orders attached to a position.
// A zero price means the order is not set.
type Protection struct {
	TakeProfit     float64 `json:"takeProfit,omitempty"`
	StopLoss       float64 `json:"stopLoss,omitempty"`
	TrailingActive bool    `json:"trailingActive"`
}

// Position represents a leveraged position held on the exchange.
type Position struct {
	ID               string       `json:"id"` // Exchange order id of the opening order, or the exchange position id when adopted
	Symbol           string       `json:"symbol"`
	Side             PositionSide `json:"side"`
	EntryPrice       float64      `json:"entryPrice"`
	Quantity         float64      `json:"quantity"` // Contract size in base asset units
	Margin           float64      `json:"margin"`   // Quote asset committed at open
	Leverage         int          `json:"leverage"`
	EntryTime        time.Time    `json:"entryTime"`
	CurrentPrice     float64      `json:"currentPrice"`
	UnrealizedPnlPct float64      `json:"unrealizedPnlPct"`
	Protection       Protection   `json:"protection"`
}

// PnlPct returns the leveraged return in percent if the position were closed at price.
func (p *Position) PnlPct(price float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	lev := float64(p.Leverage)
	if lev <= 0 {
		lev = 1
	}
	return p.Side.Sign() * (price - p.EntryPrice) / p.EntryPrice * lev * 100
}

// PnlAmount returns the realized quote amount if the position were closed at price.
func (p *Position) PnlAmount(price float64) float64 {
	return p.Side.Sign() * (price - p.EntryPrice) * p.Quantity
}

// Age returns how long the position has been open.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// MarkPrice updates the current price and the unrealized return.
func (p *Position) MarkPrice(price float64) {
	if price <= 0 {
		return
	}
	p.CurrentPrice = price
	p.UnrealizedPnlPct = p.PnlPct(price)
}
