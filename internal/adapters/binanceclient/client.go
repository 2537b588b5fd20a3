package binanceclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"

	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// Binance code for "No need to change margin type."
	codeMarginTypeUnchanged = -4046
	// Binance code for a reused client order id.
	codeDuplicateClientID = -4116
)

// Client implements the ports.ExchangeClient interface using the go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger
	maxRetries    int
	retryDelay    time.Duration
	newOrderID    func() string

	mu        sync.RWMutex
	precision map[string]symbolPrecision
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	BaseURL    string // Overrides the production/testnet URL when set
	Logger     ports.Logger
	MaxRetries int           // Transport retries after the first attempt
	RetryDelay time.Duration // Fixed delay between retries
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	default:
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		maxRetries:    maxRetries,
		retryDelay:    retryDelay,
		newOrderID:    newClientOrderID,
		precision:     make(map[string]symbolPrecision),
	}, nil
}

// newClientOrderID returns an id accepted by Binance (at most 36 chars of [A-Za-z0-9_-]).
func newClientOrderID() string {
	return "ft" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		mappedErr := mapAPICode(apiErr.Code)
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	var netErr net.Error
	var syntaxErr *json.SyntaxError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	case errors.As(err, &syntaxErr):
		// Gateways in front of the API answer 5xx with HTML bodies.
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeUnavailable, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// mapAPICode maps Binance error codes onto ports errors.
func mapAPICode(code int64) error {
	switch code {
	case 0: // Non-JSON error body, typically a 5xx from a gateway
		return ports.ErrExchangeUnavailable
	case -1000, -1001, -1016: // Unknown/internal error, disconnected, service shutting down
		return ports.ErrExchangeUnavailable
	case -1003, -1015: // Too many requests / orders
		return ports.ErrRateLimited
	case -1007, -1021: // Timeout waiting for backend / timestamp outside recvWindow
		return ports.ErrTimeout
	case -1022: // Signature for this request is not valid
		return ports.ErrAuthenticationFailed
	case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
		return ports.ErrInvalidRequest
	case -2010, -2022, codeDuplicateClientID: // New order rejected / ReduceOnly rejected / duplicate client id
		return ports.ErrOrderPlacementFailed
	case -2011: // Cancel order rejected
		return ports.ErrOrderCancelFailed
	case -2013: // Order does not exist
		return ports.ErrOrderNotFound
	case -2014, -2015: // API-key format invalid / invalid key, IP or permissions
		return ports.ErrInvalidAPIKeys
	case -2019, -2027, -3005, -3041, -4047: // Margin or balance insufficient, position limit at leverage
		return ports.ErrInsufficientFunds
	case -4003, -4014, -4164: // Qty/price not within range, notional too small
		return ports.ErrInvalidRequest
	case -4028, -4015, -4048: // Leverage invalid / margin type cannot change with open orders or position
		return ports.ErrLeverageRejected
	case -4044: // Position not found
		return ports.ErrPositionNotFound
	default:
		return ports.ErrUnknown
	}
}

// withRetry runs fn, retrying transient failures with a fixed delay. Rejections
// and unknown errors are returned immediately.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	b := &backoff.Backoff{Min: c.retryDelay, Max: c.retryDelay, Factor: 1}
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !ports.IsTransient(err) || attempt >= c.maxRetries {
			return err
		}
		delay := b.Duration()
		c.logger.Warn(ctx, op+": Transient failure, retrying", map[string]interface{}{
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"error":   err.Error(),
		})
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%s operation canceled: %w: %w", op, ports.ErrContextCanceled, ctx.Err())
		case <-t.C:
		}
	}
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.withRetry(ctx, op, func() error {
		return c.handleError(ctx, c.futuresClient.NewPingService().Do(ctx), op)
	})
	if err != nil {
		return err
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetCandles retrieves the latest candles for a symbol, oldest first.
func (c *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	op := "GetCandles"
	var klines []*futures.Kline
	err := c.withRetry(ctx, op, func() error {
		var err error
		klines, err = c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
		return c.handleError(ctx, err, op)
	})
	if err != nil {
		return nil, err
	}
	return translateKlines(klines)
}

// GetCandlesRange fetches all candles for a symbol/interval between start and end time.
func (c *Client) GetCandlesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Candle, error) {
	op := "GetCandlesRange"
	var all []domain.Candle
	const maxLimit = 1500
	from := start

	for {
		var klines []*futures.Kline
		err := c.withRetry(ctx, op, func() error {
			var err error
			klines, err = c.futuresClient.NewKlinesService().
				Symbol(symbol).
				Interval(interval).
				StartTime(from.UnixMilli()).
				EndTime(end.UnixMilli()).
				Limit(maxLimit).
				Do(ctx)
			return c.handleError(ctx, err, op)
		})
		if err != nil {
			return nil, err
		}
		if len(klines) == 0 {
			break
		}
		candles, err := translateKlines(klines)
		if err != nil {
			return nil, err
		}
		all = append(all, candles...)

		from = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		if from.After(end) || len(klines) < maxLimit {
			break
		}
	}
	return all, nil
}

// GetTicker retrieves the last traded price for a given symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (float64, error) {
	op := "GetTicker"
	var stats []*futures.PriceChangeStats
	err := c.withRetry(ctx, op, func() error {
		var err error
		stats, err = c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
		return c.handleError(ctx, err, op)
	})
	if err != nil {
		return 0, err
	}
	if len(stats) == 0 {
		return 0, fmt.Errorf("%s failed: %w: no ticker data returned for symbol %s", op, ports.ErrNotFound, symbol)
	}

	price, err := strconv.ParseFloat(stats[0].LastPrice, 64)
	if err != nil {
		return 0, fmt.Errorf("%s failed: %w: could not parse price '%s': %w", op, ports.ErrUnknown, stats[0].LastPrice, err)
	}
	return price, nil
}

// ListTickers retrieves the 24h statistics of every symbol.
func (c *Client) ListTickers(ctx context.Context) ([]ports.Ticker, error) {
	op := "ListTickers"
	var stats []*futures.PriceChangeStats
	err := c.withRetry(ctx, op, func() error {
		var err error
		stats, err = c.futuresClient.NewListPriceChangeStatsService().Do(ctx)
		return c.handleError(ctx, err, op)
	})
	if err != nil {
		return nil, err
	}

	tickers := make([]ports.Ticker, 0, len(stats))
	for _, s := range stats {
		if s == nil {
			continue
		}
		tickers = append(tickers, translateTicker(s))
	}
	return tickers, nil
}

// GetPositions retrieves every non-zero position of the account.
func (c *Client) GetPositions(ctx context.Context) ([]ports.RawPosition, error) {
	op := "GetPositions"
	var risks []*futures.PositionRisk
	err := c.withRetry(ctx, op, func() error {
		var err error
		risks, err = c.futuresClient.NewGetPositionRiskService().Do(ctx)
		return c.handleError(ctx, err, op)
	})
	if err != nil {
		return nil, err
	}

	positions := make([]ports.RawPosition, 0, len(risks))
	for _, r := range risks {
		if pos, ok := translatePositionRisk(r); ok {
			positions = append(positions, pos)
		}
	}
	return positions, nil
}

// getPosition returns the non-zero position of symbol, or nil.
func (c *Client) getPosition(ctx context.Context, symbol string) (*ports.RawPosition, error) {
	op := "getPosition"
	var risks []*futures.PositionRisk
	err := c.withRetry(ctx, op, func() error {
		var err error
		risks, err = c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
		return c.handleError(ctx, err, op)
	})
	if err != nil {
		return nil, err
	}
	for _, r := range risks {
		if pos, ok := translatePositionRisk(r); ok {
			return &pos, nil
		}
	}
	return nil, nil
}

// GetAccountBalance retrieves the balance of a specific asset (e.g., "USDT").
func (c *Client) GetAccountBalance(ctx context.Context, asset string) (ports.Balance, error) {
	op := "GetAccountBalance"
	var account *futures.Account
	err := c.withRetry(ctx, op, func() error {
		var err error
		account, err = c.futuresClient.NewGetAccountService().Do(ctx)
		return c.handleError(ctx, err, op)
	})
	if err != nil {
		return ports.Balance{}, err
	}

	for _, bal := range account.Assets {
		if bal.Asset != asset {
			continue
		}
		wallet, err := strconv.ParseFloat(bal.WalletBalance, 64)
		if err != nil {
			return ports.Balance{}, fmt.Errorf("%s failed: %w: could not parse balance '%s' for asset %s: %w", op, ports.ErrUnknown, bal.WalletBalance, asset, err)
		}
		available, err := strconv.ParseFloat(bal.AvailableBalance, 64)
		if err != nil {
			return ports.Balance{}, fmt.Errorf("%s failed: %w: could not parse available balance '%s' for asset %s: %w", op, ports.ErrUnknown, bal.AvailableBalance, asset, err)
		}
		frozen := wallet - available
		if frozen < 0 {
			frozen = 0
		}
		return ports.Balance{Asset: asset, Available: available, Frozen: frozen}, nil
	}

	return ports.Balance{}, fmt.Errorf("%s failed: %w: asset %s not found in account balance", op, ports.ErrNotFound, asset)
}

// SetLeverage sets the margin mode and leverage for a specific symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, mode ports.MarginMode, leverage int) error {
	op := "SetLeverage"
	marginType := futures.MarginTypeIsolated
	if mode == ports.MarginCrossed {
		marginType = futures.MarginTypeCrossed
	}

	err := c.withRetry(ctx, op, func() error {
		err := c.futuresClient.NewChangeMarginTypeService().Symbol(symbol).MarginType(marginType).Do(ctx)
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeMarginTypeUnchanged {
			return nil
		}
		return c.handleError(ctx, err, op)
	})
	if err != nil {
		return err
	}

	err = c.withRetry(ctx, op, func() error {
		_, err := c.futuresClient.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
		return c.handleError(ctx, err, op)
	})
	if err != nil {
		return err
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "leverage": leverage, "marginMode": mode})
	return nil
}
