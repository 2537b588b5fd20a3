package binanceclient

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
)

// --- Translation Helpers ---
// Raw payloads are normalized here once; the core never sees exchange field names.

func translateKlines(klines []*futures.Kline) ([]domain.Candle, error) {
	candles := make([]domain.Candle, 0, len(klines))
	for _, bk := range klines {
		c, err := translateKline(bk)
		if err != nil {
			return nil, fmt.Errorf("failed to translate kline: %w: %w", ports.ErrUnknown, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func translateKline(bk *futures.Kline) (domain.Candle, error) {
	if bk == nil {
		return domain.Candle{}, errors.New("received nil kline")
	}
	open, err := strconv.ParseFloat(bk.Open, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing open price '%s': %w", bk.Open, err)
	}
	high, err := strconv.ParseFloat(bk.High, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing high price '%s': %w", bk.High, err)
	}
	low, err := strconv.ParseFloat(bk.Low, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing low price '%s': %w", bk.Low, err)
	}
	cls, err := strconv.ParseFloat(bk.Close, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing close price '%s': %w", bk.Close, err)
	}
	vol, err := strconv.ParseFloat(bk.Volume, 64)
	if err != nil {
		return domain.Candle{}, fmt.Errorf("parsing volume '%s': %w", bk.Volume, err)
	}

	return domain.Candle{
		Time:      time.UnixMilli(bk.OpenTime).UTC(),
		CloseTime: time.UnixMilli(bk.CloseTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
	}, nil
}

func translateTicker(s *futures.PriceChangeStats) ports.Ticker {
	last, _ := strconv.ParseFloat(s.LastPrice, 64)
	quoteVolume, _ := strconv.ParseFloat(s.QuoteVolume, 64)
	change, _ := strconv.ParseFloat(s.PriceChangePercent, 64)
	return ports.Ticker{
		Symbol:         s.Symbol,
		LastPrice:      last,
		QuoteVolume:    quoteVolume,
		PriceChangePct: change,
	}
}

// translatePositionRisk returns false for flat entries.
func translatePositionRisk(pos *futures.PositionRisk) (ports.RawPosition, bool) {
	if pos == nil {
		return ports.RawPosition{}, false
	}
	amt, _ := strconv.ParseFloat(pos.PositionAmt, 64)
	if amt == 0 {
		return ports.RawPosition{}, false
	}
	entryPrice, _ := strconv.ParseFloat(pos.EntryPrice, 64)
	markPrice, _ := strconv.ParseFloat(pos.MarkPrice, 64)
	unProfit, _ := strconv.ParseFloat(pos.UnRealizedProfit, 64)
	leverage, _ := strconv.Atoi(pos.Leverage) // Leverage is string in go-binance

	side := domain.Long
	if amt < 0 {
		side = domain.Short
	}
	return ports.RawPosition{
		ID:            pos.Symbol, // One-way mode: one position per symbol
		Symbol:        pos.Symbol,
		Side:          side,
		Quantity:      math.Abs(amt),
		EntryPrice:    entryPrice,
		MarkPrice:     markPrice,
		Leverage:      leverage,
		UnrealizedPnl: unProfit,
	}, true
}

func translateOrderResponse(order *futures.CreateOrderResponse) *ports.OrderAck {
	if order == nil {
		return nil
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderAck{
		OrderID:       strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		AvgPrice:      avgPrice,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		Timestamp:     time.UnixMilli(order.UpdateTime).UTC(),
	}
}

func translateOrder(order *futures.Order) *ports.OrderAck {
	if order == nil {
		return nil
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderAck{
		OrderID:       strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		AvgPrice:      avgPrice,
		ExecutedQty:   execQty,
		Status:        string(order.Status),
		Timestamp:     time.UnixMilli(order.UpdateTime).UTC(),
	}
}
