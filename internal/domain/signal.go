package domain

import "time"

// SignalType is the action a signal asks for.
type SignalType string

const (
	SignalBuy        SignalType = "BUY"
	SignalSell       SignalType = "SELL"
	SignalCloseLong  SignalType = "CLOSE_LONG"
	SignalCloseShort SignalType = "CLOSE_SHORT"
)

// Signal is a trade decision produced by the strategy.
type Signal struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	Type        SignalType `json:"type"`
	Price       float64    `json:"price"`
	Time        time.Time  `json:"time"`
	Strength    float64    `json:"strength"` // 0..100
	Reason      string     `json:"reason"`
	Reverse     bool       `json:"reverse,omitempty"`  // Close then open the opposite side
	Rejected    bool       `json:"rejected,omitempty"` // Logged only, never routed
	FractalTime time.Time  `json:"fractalTime"`
}

// EntrySide returns the position side an open signal asks for, or Flat.
func (s Signal) EntrySide() PositionSide {
	switch s.Type {
	case SignalBuy:
		return Long
	case SignalSell:
		return Short
	default:
		return Flat
	}
}

// ClosingSide returns the position side a close signal targets, or Flat.
func (s Signal) ClosingSide() PositionSide {
	switch s.Type {
	case SignalCloseLong:
		return Long
	case SignalCloseShort:
		return Short
	default:
		return Flat
	}
}
