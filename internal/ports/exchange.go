package ports

import (
	"context"
	"time"

	"fractalTrader/internal/domain"
)

// OrderType is the execution type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// MarginMode is the margin mode used for an instrument.
type MarginMode string

const (
	MarginIsolated MarginMode = "ISOLATED"
	MarginCrossed  MarginMode = "CROSSED"
)

// ProtectionKind selects a protective order type.
type ProtectionKind string

const (
	ProtectionTakeProfit ProtectionKind = "TAKE_PROFIT"
	ProtectionStopLoss   ProtectionKind = "STOP_LOSS"
)

// OrderRequest describes an order to submit.
type OrderRequest struct {
	Symbol     string
	Side       domain.OrderSide
	Type       OrderType
	Quantity   float64
	Price      float64 // Limit orders only
	ReduceOnly bool
	TakeProfit float64 // Used by PlaceOrderWithProtection, 0 = none
	StopLoss   float64 // Used by PlaceOrderWithProtection, 0 = none
}

// OrderAck represents the essential details returned after placing an order.
type OrderAck struct {
	OrderID       string    // Exchange's order ID
	ClientOrderID string    // Client-generated idempotency key
	Symbol        string    // Symbol for the order
	AvgPrice      float64   // Average filled price, 0 if unknown
	ExecutedQty   float64   // Quantity filled
	Status        string    // Order status (e.g., NEW, FILLED)
	Timestamp     time.Time // Time the order response was generated
}

// RawPosition is an exchange-reported position, normalized at the gateway.
type RawPosition struct {
	ID            string // Exchange position id (the symbol in one-way mode)
	Symbol        string
	Side          domain.PositionSide
	Quantity      float64 // Absolute size
	EntryPrice    float64
	MarkPrice     float64
	Leverage      int
	UnrealizedPnl float64
}

// Balance is the account balance for one asset.
type Balance struct {
	Asset     string
	Available float64
	Frozen    float64
}

// Total returns available plus frozen funds.
func (b Balance) Total() float64 {
	return b.Available + b.Frozen
}

// Ticker is a 24h market summary of one instrument.
type Ticker struct {
	Symbol         string
	LastPrice      float64
	QuoteVolume    float64
	PriceChangePct float64
}

// ExchangeClient defines the gateway to a derivatives exchange.
// Every failure wraps a sentinel from errors.go so callers can tell
// transient failures (IsTransient) from rejections (IsRejected).
type ExchangeClient interface {
	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetCandles returns the latest candles, oldest first.
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error)

	// GetTicker returns the last traded price.
	GetTicker(ctx context.Context, symbol string) (float64, error)

	// ListTickers returns 24h summaries of all instruments.
	ListTickers(ctx context.Context) ([]Ticker, error)

	// GetPositions returns all non-zero positions.
	GetPositions(ctx context.Context) ([]RawPosition, error)

	// GetAccountBalance returns the balance of an asset (e.g., "USDT").
	GetAccountBalance(ctx context.Context, asset string) (Balance, error)

	// SetLeverage sets margin mode and leverage for a symbol.
	SetLeverage(ctx context.Context, symbol string, mode MarginMode, leverage int) error

	// PlaceOrder submits a plain order.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderAck, error)

	// PlaceOrderWithProtection submits an entry order together with its TP/SL.
	// Either the whole set is in place on success or the entry is unwound.
	PlaceOrderWithProtection(ctx context.Context, req OrderRequest) (*OrderAck, error)

	// ClosePosition flattens the whole position of a symbol.
	ClosePosition(ctx context.Context, symbol string) (*OrderAck, error)

	// SetProtection sets or replaces a take-profit or stop-loss order.
	SetProtection(ctx context.Context, symbol string, side domain.PositionSide, kind ProtectionKind, triggerPrice, quantity float64) (*OrderAck, error)

	// SetTrailingStop places a trailing stop with the given callback ratio (0.01 = 1%).
	SetTrailingStop(ctx context.Context, symbol string, side domain.PositionSide, callbackRatio, quantity float64) (*OrderAck, error)
}
