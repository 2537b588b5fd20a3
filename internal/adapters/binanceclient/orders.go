package binanceclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
)

// Binance accepts trailing callback rates between 0.1% and 5%.
const (
	minCallbackRate = 0.1
	maxCallbackRate = 5.0
)

type symbolPrecision struct {
	price    int32
	quantity int32
}

var defaultPrecision = symbolPrecision{price: 2, quantity: 3}

// precisionFor returns the price and quantity decimals of symbol. Exchange
// info is fetched once and cached; failures fall back to conservative defaults.
func (c *Client) precisionFor(ctx context.Context, symbol string) symbolPrecision {
	op := "precisionFor"
	c.mu.RLock()
	p, ok := c.precision[symbol]
	c.mu.RUnlock()
	if ok {
		return p
	}

	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		c.logger.Warn(ctx, op+": Exchange info unavailable, using default precision", map[string]interface{}{"symbol": symbol, "error": err.Error()})
		return defaultPrecision
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range info.Symbols {
		c.precision[s.Symbol] = symbolPrecision{price: int32(s.PricePrecision), quantity: int32(s.QuantityPrecision)}
	}
	p, ok = c.precision[symbol]
	if !ok {
		return defaultPrecision
	}
	return p
}

// formatQuantity truncates so the order never exceeds the sized amount.
func formatQuantity(quantity float64, p symbolPrecision) string {
	return decimal.NewFromFloat(quantity).Truncate(p.quantity).String()
}

func formatPrice(price float64, p symbolPrecision) string {
	return decimal.NewFromFloat(price).StringFixed(p.price)
}

// formatCallbackRate converts a ratio (0.005) into Binance's percent string ("0.5").
func formatCallbackRate(ratio float64) string {
	rate := ratio * 100
	if rate < minCallbackRate {
		rate = minCallbackRate
	}
	if rate > maxCallbackRate {
		rate = maxCallbackRate
	}
	return decimal.NewFromFloat(rate).Round(1).String()
}

// createOrder submits an order built by build. The client order id stays the
// same across transport retries, so a retried request that already reached the
// exchange resolves to the original order instead of a duplicate.
func (c *Client) createOrder(ctx context.Context, op, symbol string, build func(s *futures.CreateOrderService) *futures.CreateOrderService) (*ports.OrderAck, error) {
	clientID := c.newOrderID()
	var ack *ports.OrderAck
	err := c.withRetry(ctx, op, func() error {
		resp, err := build(c.futuresClient.NewCreateOrderService()).NewClientOrderID(clientID).Do(ctx)
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeDuplicateClientID {
			order, lookupErr := c.futuresClient.NewGetOrderService().Symbol(symbol).OrigClientOrderID(clientID).Do(ctx)
			if lookupErr != nil {
				return c.handleError(ctx, lookupErr, op)
			}
			ack = translateOrder(order)
			return nil
		}
		if err != nil {
			return c.handleError(ctx, err, op)
		}
		ack = translateOrderResponse(resp)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ack, nil
}

// PlaceOrder places a plain market or limit order.
func (c *Client) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderAck, error) {
	op := "PlaceOrder"
	prec := c.precisionFor(ctx, req.Symbol)
	quantity := formatQuantity(req.Quantity, prec)
	if decimal.RequireFromString(quantity).IsZero() {
		return nil, fmt.Errorf("%s failed: %w: quantity %.8f rounds to zero", op, ports.ErrInvalidRequest, req.Quantity)
	}

	ack, err := c.createOrder(ctx, op, req.Symbol, func(s *futures.CreateOrderService) *futures.CreateOrderService {
		s = s.Symbol(req.Symbol).
			Side(futures.SideType(req.Side)).
			Quantity(quantity).
			NewOrderResponseType(futures.NewOrderRespTypeRESULT)
		if req.Type == ports.OrderTypeLimit {
			s = s.Type(futures.OrderTypeLimit).TimeInForce(futures.TimeInForceTypeGTC).Price(formatPrice(req.Price, prec))
		} else {
			s = s.Type(futures.OrderTypeMarket)
		}
		if req.ReduceOnly {
			s = s.ReduceOnly(true)
		}
		return s
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":   req.Symbol,
		"side":     req.Side,
		"type":     req.Type,
		"quantity": quantity,
		"orderID":  ack.OrderID,
		"avgPrice": ack.AvgPrice,
	})
	return ack, nil
}

// PlaceOrderWithProtection places the entry order and then its take-profit and
// stop-loss. If a protective order cannot be placed the entry is closed again.
func (c *Client) PlaceOrderWithProtection(ctx context.Context, req ports.OrderRequest) (*ports.OrderAck, error) {
	op := "PlaceOrderWithProtection"
	entry := req
	entry.TakeProfit, entry.StopLoss = 0, 0
	ack, err := c.PlaceOrder(ctx, entry)
	if err != nil {
		return nil, err
	}

	side := domain.Long
	if req.Side == domain.Sell {
		side = domain.Short
	}
	quantity := ack.ExecutedQty
	if quantity <= 0 {
		quantity = req.Quantity
	}

	protective := []struct {
		kind  ports.ProtectionKind
		price float64
	}{
		{ports.ProtectionStopLoss, req.StopLoss},
		{ports.ProtectionTakeProfit, req.TakeProfit},
	}
	for _, p := range protective {
		if p.price <= 0 {
			continue
		}
		if _, err := c.SetProtection(ctx, req.Symbol, side, p.kind, p.price, quantity); err != nil {
			c.logger.Warn(ctx, op+": Attempting emergency close due to protective order failure...", map[string]interface{}{"symbol": req.Symbol, "kind": p.kind})
			if closeErr := c.emergencyClose(ctx, req.Symbol, side, quantity); closeErr != nil {
				c.logger.Error(ctx, closeErr, op+": EMERGENCY CLOSE FAILED", map[string]interface{}{"symbol": req.Symbol})
			}
			return nil, fmt.Errorf("%s failed: %s order failed after entry: %w (emergency close attempted)", op, p.kind, err)
		}
	}
	return ack, nil
}

// emergencyClose removes any protective orders and flattens a freshly opened position.
func (c *Client) emergencyClose(ctx context.Context, symbol string, side domain.PositionSide, quantity float64) error {
	op := "emergencyClose"
	c.cancelAllWarn(ctx, symbol)
	_, err := c.PlaceOrder(ctx, ports.OrderRequest{
		Symbol:     symbol,
		Side:       side.ExitSide(),
		Type:       ports.OrderTypeMarket,
		Quantity:   quantity,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("%s: emergency close order placement failed: %w", op, err)
	}
	c.logger.Info(ctx, op+": Emergency close order placed successfully", map[string]interface{}{"symbol": symbol})
	return nil
}

// ClosePosition flattens the whole position of symbol with a reduce-only market
// order and cancels the symbol's remaining open orders.
func (c *Client) ClosePosition(ctx context.Context, symbol string) (*ports.OrderAck, error) {
	op := "ClosePosition"
	pos, err := c.getPosition(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, fmt.Errorf("%s failed: %w: no open position for %s", op, ports.ErrPositionNotFound, symbol)
	}

	ack, err := c.PlaceOrder(ctx, ports.OrderRequest{
		Symbol:     symbol,
		Side:       pos.Side.ExitSide(),
		Type:       ports.OrderTypeMarket,
		Quantity:   pos.Quantity,
		ReduceOnly: true,
	})
	if err != nil {
		return nil, err
	}
	c.cancelAllWarn(ctx, symbol)
	return ack, nil
}

// cancelAllWarn cancels every open order of symbol and logs a warning on failure.
func (c *Client) cancelAllWarn(ctx context.Context, symbol string) {
	op := "cancelAllWarn"
	err := c.withRetry(ctx, op, func() error {
		return c.handleError(ctx, c.futuresClient.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx), op)
	})
	if err != nil {
		c.logger.Warn(ctx, op+": Failed to cancel open orders", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}
}

// cancelOrdersOfType cancels the open orders of symbol whose type is one of types.
func (c *Client) cancelOrdersOfType(ctx context.Context, symbol string, types ...futures.OrderType) error {
	op := "cancelOrdersOfType"
	var orders []*futures.Order
	err := c.withRetry(ctx, op, func() error {
		var err error
		orders, err = c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
		return c.handleError(ctx, err, op)
	})
	if err != nil {
		return err
	}

	for _, o := range orders {
		if !matchesType(o, types) {
			continue
		}
		_, err := c.futuresClient.NewCancelOrderService().Symbol(symbol).OrderID(o.OrderID).Do(ctx)
		if err == nil {
			continue
		}
		err = c.handleError(ctx, err, op)
		// Ignore "Order does not exist" errors, as it might have already been filled or cancelled.
		if errors.Is(err, ports.ErrOrderNotFound) {
			c.logger.Warn(ctx, op+": Order not found, likely already filled or cancelled", map[string]interface{}{"orderID": o.OrderID})
			continue
		}
		return err
	}
	return nil
}

func matchesType(o *futures.Order, types []futures.OrderType) bool {
	for _, t := range types {
		if o.Type == t || o.OrigType == t {
			return true
		}
	}
	return false
}

// SetProtection replaces the take-profit or stop-loss order of a position.
func (c *Client) SetProtection(ctx context.Context, symbol string, side domain.PositionSide, kind ports.ProtectionKind, triggerPrice, quantity float64) (*ports.OrderAck, error) {
	op := "SetProtection"
	orderType := futures.OrderTypeStopMarket
	if kind == ports.ProtectionTakeProfit {
		orderType = futures.OrderTypeTakeProfitMarket
	}
	if triggerPrice <= 0 || quantity <= 0 {
		return nil, fmt.Errorf("%s failed: %w: trigger price and quantity must be positive", op, ports.ErrInvalidRequest)
	}

	if err := c.cancelOrdersOfType(ctx, symbol, orderType); err != nil {
		return nil, err
	}

	prec := c.precisionFor(ctx, symbol)
	stopPrice := formatPrice(triggerPrice, prec)
	qty := formatQuantity(quantity, prec)
	ack, err := c.createOrder(ctx, op, symbol, func(s *futures.CreateOrderService) *futures.CreateOrderService {
		return s.Symbol(symbol).
			Side(futures.SideType(side.ExitSide())).
			Type(orderType).
			StopPrice(stopPrice).
			Quantity(qty).
			ReduceOnly(true).
			WorkingType(futures.WorkingTypeMarkPrice)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":    symbol,
		"kind":      kind,
		"stopPrice": stopPrice,
		"quantity":  qty,
		"orderID":   ack.OrderID,
	})
	return ack, nil
}

// SetTrailingStop places a trailing stop market order for a position.
func (c *Client) SetTrailingStop(ctx context.Context, symbol string, side domain.PositionSide, callbackRatio, quantity float64) (*ports.OrderAck, error) {
	op := "SetTrailingStop"
	if quantity <= 0 {
		return nil, fmt.Errorf("%s failed: %w: quantity must be positive", op, ports.ErrInvalidRequest)
	}
	if err := c.cancelOrdersOfType(ctx, symbol, futures.OrderTypeTrailingStopMarket); err != nil {
		return nil, err
	}

	prec := c.precisionFor(ctx, symbol)
	rate := formatCallbackRate(callbackRatio)
	qty := formatQuantity(quantity, prec)
	ack, err := c.createOrder(ctx, op, symbol, func(s *futures.CreateOrderService) *futures.CreateOrderService {
		return s.Symbol(symbol).
			Side(futures.SideType(side.ExitSide())).
			Type(futures.OrderTypeTrailingStopMarket).
			CallbackRate(rate).
			Quantity(qty).
			ReduceOnly(true).
			WorkingType(futures.WorkingTypeMarkPrice)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":       symbol,
		"callbackRate": rate,
		"quantity":     qty,
		"orderID":      ack.OrderID,
	})
	return ack, nil
}
