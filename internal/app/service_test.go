package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fractalTrader/config"
	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
	"fractalTrader/internal/strategy/indicators"
)

// --- Mocks ---

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockExchange keeps one position per symbol, filled instantly at the ticker price.
type mockExchange struct {
	mu        sync.Mutex
	available float64
	prices    map[string]float64
	positions map[string]ports.RawPosition
	orders    []ports.OrderRequest
	closes    []string
	tickers   []ports.Ticker
	wave      bool // candles oscillate instead of staying flat
	nextID    int
	pingErr   error
	calls     atomic.Int64
}

func newMockExchange() *mockExchange {
	return &mockExchange{
		available: 1000,
		prices:    map[string]float64{"BTCUSDT": 100, "ETHUSDT": 10, "SOLUSDT": 20},
		positions: map[string]ports.RawPosition{},
	}
}

func (e *mockExchange) setPrice(symbol string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

func (e *mockExchange) orderCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.orders)
}

func (e *mockExchange) Ping(ctx context.Context) error { return e.pingErr }

func (e *mockExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	e.calls.Add(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	base := e.prices[symbol]
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, limit)
	for i := range out {
		price := base
		if e.wave {
			price = base + base*0.02*math.Sin(float64(i)/3)
		}
		out[i] = domain.Candle{
			Time:      start.Add(time.Duration(i) * time.Minute),
			CloseTime: start.Add(time.Duration(i+1)*time.Minute - time.Millisecond),
			Open:      price,
			High:      price * 1.001,
			Low:       price * 0.999,
			Close:     price,
			Volume:    10,
		}
	}
	return out, nil
}

func (e *mockExchange) GetTicker(ctx context.Context, symbol string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.prices[symbol]
	if !ok {
		return 0, ports.ErrNotFound
	}
	return p, nil
}

func (e *mockExchange) ListTickers(ctx context.Context) ([]ports.Ticker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ports.Ticker(nil), e.tickers...), nil
}

func (e *mockExchange) GetPositions(ctx context.Context) ([]ports.RawPosition, error) {
	e.calls.Add(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ports.RawPosition, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	return out, nil
}

func (e *mockExchange) GetAccountBalance(ctx context.Context, asset string) (ports.Balance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ports.Balance{Asset: asset, Available: e.available}, nil
}

func (e *mockExchange) SetLeverage(ctx context.Context, symbol string, mode ports.MarginMode, leverage int) error {
	return nil
}

func (e *mockExchange) PlaceOrder(ctx context.Context, req ports.OrderRequest) (*ports.OrderAck, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.orders = append(e.orders, req)
	e.nextID++
	price := e.prices[req.Symbol]
	side := domain.Long
	if req.Side == domain.Sell {
		side = domain.Short
	}
	e.positions[req.Symbol] = ports.RawPosition{
		ID: req.Symbol, Symbol: req.Symbol, Side: side, Quantity: req.Quantity,
		EntryPrice: price, MarkPrice: price, Leverage: 5,
	}
	return &ports.OrderAck{OrderID: fmt.Sprintf("%d", e.nextID), Symbol: req.Symbol, AvgPrice: price, ExecutedQty: req.Quantity}, nil
}

func (e *mockExchange) PlaceOrderWithProtection(ctx context.Context, req ports.OrderRequest) (*ports.OrderAck, error) {
	return e.PlaceOrder(ctx, req)
}

func (e *mockExchange) ClosePosition(ctx context.Context, symbol string) (*ports.OrderAck, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.positions[symbol]; !ok {
		return nil, ports.ErrPositionNotFound
	}
	delete(e.positions, symbol)
	e.closes = append(e.closes, symbol)
	return &ports.OrderAck{OrderID: "close", Symbol: symbol, AvgPrice: e.prices[symbol]}, nil
}

func (e *mockExchange) SetProtection(ctx context.Context, symbol string, side domain.PositionSide, kind ports.ProtectionKind, triggerPrice, quantity float64) (*ports.OrderAck, error) {
	return &ports.OrderAck{Symbol: symbol}, nil
}

func (e *mockExchange) SetTrailingStop(ctx context.Context, symbol string, side domain.PositionSide, callbackRatio, quantity float64) (*ports.OrderAck, error) {
	return &ports.OrderAck{Symbol: symbol}, nil
}

// memStore JSON-encodes values like the real adapters do.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: map[string][]byte{}}
}

func (s *memStore) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (s *memStore) Set(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = raw
	return nil
}

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.EventType
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// --- Helpers ---

func testConfig() config.Config {
	return config.Config{
		APIKey:                  "key",
		SecretKey:               "secret",
		IsTestnet:               true,
		TradingPairs:            []string{"BTCUSDT"},
		MaxInstruments:          3,
		QuoteAsset:              "USDT",
		CandleInterval:          "1m",
		CandleLimit:             50,
		ScanTopN:                5,
		EMAFast:                 3,
		EMAMedium:               5,
		EMASlow:                 8,
		TrendEMA:                2,
		PACLength:               5,
		FractalLookback:         2,
		WilliamsFractals:        true,
		PositionSizePercent:     0.1,
		Leverage:                5,
		MarginMode:              "ISOLATED",
		TakeProfitPercent:       0.02,
		StopLossPercent:         0.01,
		MaxTradeDuration:        time.Hour,
		TrailingActivation:      0.5,
		TrailingCallbackPercent: 0.005,
		MaxOpenPositions:        2,
		MinSignalStrength:       10,
		AllowShort:              true,
		MinNotional:             5,
		BalanceSafetyMargin:     0.95,
		MarketRefreshInterval:   20 * time.Millisecond,
		StrategyInterval:        20 * time.Millisecond,
		ReconcileInterval:       20 * time.Millisecond,
		StatusInterval:          20 * time.Millisecond,
		BalanceHistoryInterval:  time.Minute,
		DailyCheckInterval:      20 * time.Millisecond,
		DurationCheckInterval:   20 * time.Millisecond,
		MaxRetries:              1,
		RetryDelay:              time.Millisecond,
		SignalLogSize:           20,
		StoreBackend:            "sqlite",
		DBPath:                  "unused.db",
	}
}

func newTestService(t *testing.T, cfg config.Config, ex *mockExchange, store *memStore, publishers ...ports.EventPublisher) *TradingService {
	t.Helper()
	svc, err := NewTradingService(Dependencies{
		Config:     cfg,
		Logger:     &mockLogger{},
		Exchange:   ex,
		Store:      store,
		Publishers: publishers,
	})
	require.NoError(t, err)
	return svc
}

func initializedService(t *testing.T, cfg config.Config, ex *mockExchange, store *memStore, publishers ...ports.EventPublisher) *TradingService {
	t.Helper()
	svc := newTestService(t, cfg, ex, store, publishers...)
	require.NoError(t, svc.Initialize(context.Background()))
	return svc
}

func signal(symbol string, typ domain.SignalType, price, strength float64) domain.Signal {
	return domain.Signal{
		ID:       fmt.Sprintf("%s-%s-%.0f", symbol, typ, price),
		Symbol:   symbol,
		Type:     typ,
		Price:    price,
		Time:     time.Now().UTC(),
		Strength: strength,
		Reason:   "test",
	}
}

// --- Tests ---

func TestNewTradingService_RequiresDependencies(t *testing.T) {
	_, err := NewTradingService(Dependencies{Config: testConfig(), Logger: &mockLogger{}})
	assert.Error(t, err)
}

func TestInitialize_MissingCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = ""
	svc := newTestService(t, cfg, newMockExchange(), newMemStore())

	err := svc.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
	assert.Equal(t, StateError, svc.State())

	assert.False(t, svc.Start(context.Background()), "start must refuse an invalid configuration")
	assert.False(t, svc.IsRunning())
	assert.Contains(t, svc.GetStatus().LastError, "BINANCE_API_KEY")
}

func TestInitialize_ExchangeUnreachable(t *testing.T) {
	ex := newMockExchange()
	ex.pingErr = ports.ErrExchangeUnavailable
	svc := newTestService(t, testConfig(), ex, newMemStore())

	err := svc.Initialize(context.Background())
	assert.ErrorIs(t, err, ports.ErrExchangeUnavailable)
	assert.Equal(t, StateError, svc.State())
}

func TestInitialize_RestoresPersistedState(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	leverage := 10
	require.NoError(t, store.Set(ctx, ports.KeyBotConfig, config.Patch{Leverage: &leverage}))
	require.NoError(t, store.Set(ctx, ports.KeyTradingPairs, []string{"ETHUSDT", "SOLUSDT"}))
	require.NoError(t, store.Set(ctx, ports.KeyTotalWithdrawnAmount, 12.5))
	require.NoError(t, store.Set(ctx, ports.KeyPositionHistory, []domain.TradeRecord{
		{PositionID: "1", Symbol: "ETHUSDT", Side: domain.Long, PNL: 4, Result: domain.ResultWin, ExitTime: time.Now().UTC()},
	}))

	ex := newMockExchange()
	ex.positions["BTCUSDT"] = ports.RawPosition{ID: "BTCUSDT", Symbol: "BTCUSDT", Side: domain.Short, Quantity: 1, EntryPrice: 100, MarkPrice: 100, Leverage: 5}

	svc := initializedService(t, testConfig(), ex, store)

	assert.Equal(t, []string{"ETHUSDT", "SOLUSDT"}, svc.TradingPairs())
	assert.Equal(t, 10, svc.config().Leverage)

	status := svc.GetStatus()
	assert.Equal(t, StateStopped, status.State)
	assert.InDelta(t, 1000, status.Balance, 1e-9)
	assert.InDelta(t, 12.5, status.TotalWithdrawn, 1e-9)
	assert.Equal(t, 1, status.TotalTrades)
	assert.Equal(t, 1, status.ActivePositions, "exchange position is adopted")
	assert.Equal(t, domain.Short, svc.positions.SideOf("BTCUSDT"))
}

func TestInitialize_IgnoresInvalidPersistedConfig(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	leverage := 500
	require.NoError(t, store.Set(ctx, ports.KeyBotConfig, config.Patch{Leverage: &leverage}))

	svc := initializedService(t, testConfig(), newMockExchange(), store)
	assert.Equal(t, 5, svc.config().Leverage)
}

func TestStartStop_Idempotent(t *testing.T) {
	ctx := context.Background()
	ex := newMockExchange()
	store := newMemStore()
	svc := newTestService(t, testConfig(), ex, store)

	assert.True(t, svc.Start(ctx))
	assert.True(t, svc.Start(ctx), "second start is a no-op")
	assert.True(t, svc.IsRunning())

	require.Eventually(t, func() bool { return store.has(ports.KeyBalanceHistory) }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return ex.calls.Load() >= 4 }, time.Second, 5*time.Millisecond)

	assert.True(t, svc.Stop(ctx))
	assert.True(t, svc.Stop(ctx), "second stop is a no-op")
	assert.False(t, svc.IsRunning())
	assert.Equal(t, StateStopped, svc.State())

	calls := ex.calls.Load()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, calls, ex.calls.Load(), "no task may run after stop")

	assert.True(t, store.has(ports.KeyPositionHistory))
	assert.True(t, store.has(ports.KeyPerformanceHistory))
	assert.True(t, store.has(ports.KeyTotalWithdrawnAmount))

	// Restart after a stop.
	assert.True(t, svc.Start(ctx))
	assert.True(t, svc.Stop(ctx))
}

func TestHandleSignal_Routing(t *testing.T) {
	ctx := context.Background()

	t.Run("below minimum strength", func(t *testing.T) {
		ex := newMockExchange()
		svc := initializedService(t, testConfig(), ex, newMemStore())

		require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalBuy, 100, 5)))
		assert.Zero(t, ex.orderCount())
	})

	t.Run("buy opens long with protection", func(t *testing.T) {
		ex := newMockExchange()
		svc := initializedService(t, testConfig(), ex, newMemStore())

		require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalBuy, 100, 50)))
		pos, ok := svc.positions.Position("BTCUSDT")
		require.True(t, ok)
		assert.Equal(t, domain.Long, pos.Side)
		assert.InDelta(t, 102, pos.Protection.TakeProfit, 1e-9)
		assert.InDelta(t, 99, pos.Protection.StopLoss, 1e-9)
		assert.InDelta(t, 5, pos.Quantity, 1e-9)

		// Same side again is ignored.
		require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalBuy, 101, 50)))
		assert.Equal(t, 1, ex.orderCount())

		status := svc.GetStatus()
		require.Len(t, status.TradingPairs, 1)
		assert.Equal(t, domain.Long, status.TradingPairs[0].OpenSide)
		require.NotNil(t, status.TradingPairs[0].LastSignal)
		assert.Equal(t, domain.SignalBuy, status.TradingPairs[0].LastSignal.Type)
	})

	t.Run("short entries ignored when shorting is disabled", func(t *testing.T) {
		cfg := testConfig()
		cfg.AllowShort = false
		ex := newMockExchange()
		svc := initializedService(t, cfg, ex, newMemStore())

		require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalSell, 100, 50)))
		assert.Zero(t, ex.orderCount())
		assert.Equal(t, domain.Flat, svc.positions.SideOf("BTCUSDT"))
	})

	t.Run("opposite entry reverses the position", func(t *testing.T) {
		ex := newMockExchange()
		svc := initializedService(t, testConfig(), ex, newMemStore())

		require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalBuy, 100, 50)))
		require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalSell, 100, 50)))

		assert.Equal(t, domain.Short, svc.positions.SideOf("BTCUSDT"))
		assert.Equal(t, []string{"BTCUSDT"}, ex.closes)
		history := svc.positions.History()
		require.Len(t, history, 1)
		assert.Equal(t, domain.CloseReasonReversal, history[0].CloseReason)
		assert.Equal(t, domain.Long, history[0].Side)
	})

	t.Run("close signal applies only to the matching side", func(t *testing.T) {
		ex := newMockExchange()
		svc := initializedService(t, testConfig(), ex, newMemStore())
		require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalBuy, 100, 50)))

		require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalCloseShort, 100, 50)))
		assert.Equal(t, domain.Long, svc.positions.SideOf("BTCUSDT"))

		require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalCloseLong, 100, 50)))
		assert.Equal(t, domain.Flat, svc.positions.SideOf("BTCUSDT"))
		history := svc.positions.History()
		require.Len(t, history, 1)
		assert.Equal(t, domain.CloseReasonSignal, history[0].CloseReason)
	})

	t.Run("open position ceiling", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxOpenPositions = 1
		cfg.TradingPairs = []string{"BTCUSDT", "ETHUSDT"}
		ex := newMockExchange()
		svc := initializedService(t, cfg, ex, newMemStore())

		require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalBuy, 100, 50)))
		require.NoError(t, svc.handleSignal(ctx, signal("ETHUSDT", domain.SignalBuy, 10, 50)))
		assert.Equal(t, 1, ex.orderCount())
		assert.Equal(t, domain.Flat, svc.positions.SideOf("ETHUSDT"))
	})

	t.Run("sizing decline is not an error", func(t *testing.T) {
		ex := newMockExchange()
		ex.available = 1
		svc := initializedService(t, testConfig(), ex, newMemStore())

		assert.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalBuy, 100, 50)))
		assert.Zero(t, ex.orderCount())
	})
}

// sellFractalSet ends on a confirmed sell fractal two candles back: closes
// climb to 107 then fall through a falling trend EMA.
func sellFractalSet(t *testing.T, cfg config.Config, symbol string) indicators.IndicatorSet {
	t.Helper()
	closes := []float64{100, 101, 102, 103, 104, 105, 106, 107, 103, 100}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]domain.Candle, len(closes))
	for i, c := range closes {
		candles[i] = domain.Candle{
			Time:      start.Add(time.Duration(i) * time.Minute),
			CloseTime: start.Add(time.Duration(i+1)*time.Minute - time.Millisecond),
			Open:      c,
			High:      c * 1.001,
			Low:       c * 0.999,
			Close:     c,
			Volume:    10,
		}
	}
	set := indicators.Compute(symbol, candles, indicatorSettings(cfg), start)
	require.Len(t, set.SellFractals, 1)
	return set
}

func TestHandleSignal_StrategyReversal(t *testing.T) {
	ctx := context.Background()

	t.Run("close and reverse enters the opposite side", func(t *testing.T) {
		cfg := testConfig()
		cfg.MinSignalStrength = 1
		ex := newMockExchange()
		svc := initializedService(t, cfg, ex, newMemStore())
		require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalBuy, 100, 50)))

		sig := svc.strategy.Evaluate(ctx, sellFractalSet(t, cfg, "BTCUSDT"), svc.positions.SideOf("BTCUSDT"))
		require.NotNil(t, sig)
		require.Equal(t, domain.SignalCloseLong, sig.Type)
		require.True(t, sig.Reverse)

		require.NoError(t, svc.handleSignal(ctx, *sig))

		pos, ok := svc.positions.Position("BTCUSDT")
		require.True(t, ok)
		assert.Equal(t, domain.Short, pos.Side)
		assert.InDelta(t, 98, pos.Protection.TakeProfit, 1e-9)
		assert.InDelta(t, 101, pos.Protection.StopLoss, 1e-9)
		assert.Equal(t, 2, ex.orderCount())
		history := svc.positions.History()
		require.Len(t, history, 1)
		assert.Equal(t, domain.CloseReasonReversal, history[0].CloseReason)

		assert.Nil(t, svc.strategy.Evaluate(ctx, sellFractalSet(t, cfg, "BTCUSDT"), domain.Short), "fractal is handled once")
	})

	t.Run("reverse into a disabled short only closes", func(t *testing.T) {
		cfg := testConfig()
		cfg.AllowShort = false
		ex := newMockExchange()
		svc := initializedService(t, cfg, ex, newMemStore())
		require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalBuy, 100, 50)))

		sig := signal("BTCUSDT", domain.SignalCloseLong, 100, 50)
		sig.Reverse = true
		require.NoError(t, svc.handleSignal(ctx, sig))
		assert.Equal(t, domain.Flat, svc.positions.SideOf("BTCUSDT"))
		assert.Equal(t, 1, ex.orderCount())
	})

	t.Run("reverse respects the position ceiling", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxOpenPositions = 1
		ex := newMockExchange()
		svc := initializedService(t, cfg, ex, newMemStore())
		require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalSell, 100, 50)))

		sig := signal("BTCUSDT", domain.SignalCloseShort, 100, 50)
		sig.Reverse = true
		require.NoError(t, svc.handleSignal(ctx, sig))
		assert.Equal(t, domain.Long, svc.positions.SideOf("BTCUSDT"), "the closed slot is reused")
	})
}

func TestBookTrade_WithdrawsProfitAboveThreshold(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.WithdrawalThreshold = 20
	cfg.WithdrawalPercent = 0.5
	ex := newMockExchange()
	store := newMemStore()
	failing := &recordingPublisher{err: errors.New("broker down")}
	recording := &recordingPublisher{}
	svc := initializedService(t, cfg, ex, store, failing, recording)

	trade := func() {
		ex.setPrice("BTCUSDT", 100)
		require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalBuy, 100, 50)))
		ex.setPrice("BTCUSDT", 110)
		require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalCloseLong, 110, 50)))
	}

	// +50 profit: half of the 30 above the threshold is withdrawn.
	trade()
	status := svc.GetStatus()
	assert.InDelta(t, 1035, status.Balance, 1e-6)
	assert.InDelta(t, 985, status.InitialBalance, 1e-6)
	assert.InDelta(t, 15, status.TotalWithdrawn, 1e-6)
	assert.InDelta(t, 50, status.TotalProfit, 1e-6)
	assert.InDelta(t, 50.0/985*100, status.ProfitPct, 1e-6)
	assert.Equal(t, 1, status.TradesToday)

	// Another +50: only the new excess is withdrawn.
	trade()
	status = svc.GetStatus()
	assert.InDelta(t, 40, status.TotalWithdrawn, 1e-6)
	assert.InDelta(t, 1060, status.Balance, 1e-6)
	assert.InDelta(t, 100, status.TotalProfit, 1e-6)
	assert.InDelta(t, 100, status.WinRate, 1e-9)

	var persisted float64
	found, err := store.Get(ctx, ports.KeyTotalWithdrawnAmount, &persisted)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 40, persisted, 1e-6)

	var history []domain.TradeRecord
	found, err = store.Get(ctx, ports.KeyPositionHistory, &history)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, history, 2)

	assert.Equal(t, []domain.EventType{domain.EventOpened, domain.EventClosed, domain.EventOpened, domain.EventClosed}, recording.types(),
		"a failing publisher does not block the others")
}

func TestBookTrade_WithdrawalAfterRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.WithdrawalThreshold = 20
	cfg.WithdrawalPercent = 0.5
	ex := newMockExchange()
	store := newMemStore()
	require.NoError(t, store.Set(ctx, ports.KeyTotalWithdrawnAmount, 40.0))
	svc := initializedService(t, cfg, ex, store)

	require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalBuy, 100, 50)))
	ex.setPrice("BTCUSDT", 110)
	require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalCloseLong, 110, 50)))

	status := svc.GetStatus()
	assert.InDelta(t, 1035, status.Balance, 1e-6, "withdrawals of earlier runs do not block this one")
	assert.InDelta(t, 55, status.TotalWithdrawn, 1e-6)

	var persisted float64
	found, err := store.Get(ctx, ports.KeyTotalWithdrawnAmount, &persisted)
	require.NoError(t, err)
	require.True(t, found)
	assert.InDelta(t, 55, persisted, 1e-6)
}

func TestStart_ClosesPositionsPastMaxDuration(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxTradeDuration = 60 * time.Millisecond
	ex := newMockExchange()
	svc := initializedService(t, cfg, ex, newMemStore())
	require.NoError(t, svc.handleSignal(ctx, signal("BTCUSDT", domain.SignalBuy, 100, 50)))

	require.True(t, svc.Start(ctx))
	require.Eventually(t, func() bool { return len(svc.positions.History()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.True(t, svc.Stop(ctx))

	history := svc.positions.History()
	require.Len(t, history, 1)
	assert.Equal(t, domain.CloseReasonTimeLimit, history[0].CloseReason)
	assert.Equal(t, domain.Flat, svc.positions.SideOf("BTCUSDT"))
	assert.Equal(t, []string{"BTCUSDT"}, ex.closes)

	status := svc.GetStatus()
	assert.Equal(t, 1, status.TradesToday)
	assert.Equal(t, 1, status.TotalTrades)
}

func TestCheckRollover_ExactlyOncePerDay(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := newTestService(t, testConfig(), newMockExchange(), store)
	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	svc.now = func() time.Time { return day1 }
	require.NoError(t, svc.Initialize(ctx))

	svc.bookTrade(ctx, domain.TradeRecord{PositionID: "1", Symbol: "BTCUSDT", PNL: 10, Result: domain.ResultWin})
	require.NoError(t, svc.checkRollover(ctx))
	assert.Empty(t, svc.GetStatus().Performance, "same day, nothing to roll over")

	svc.now = func() time.Time { return day1.Add(2 * time.Minute) }
	require.NoError(t, svc.checkRollover(ctx))
	require.NoError(t, svc.checkRollover(ctx))

	status := svc.GetStatus()
	require.Len(t, status.Performance, 1)
	record := status.Performance[0]
	assert.Equal(t, "2026-03-01", record.Date)
	assert.Equal(t, 1, record.Trades)
	assert.InDelta(t, 10, record.Profit, 1e-9)
	assert.InDelta(t, 1010, record.EndBalance, 1e-9)

	assert.Equal(t, "2026-03-02", status.Daily.Date)
	assert.Zero(t, status.TradesToday)
	assert.InDelta(t, 1010, status.Daily.StartBalance, 1e-9)

	var persisted []domain.DailyRecord
	found, err := store.Get(ctx, ports.KeyPerformanceHistory, &persisted)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, persisted, 1)
}

func TestUpdateStatus_SamplesBalanceHistory(t *testing.T) {
	ctx := context.Background()
	svc := initializedService(t, testConfig(), newMockExchange(), newMemStore())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	require.NoError(t, svc.updateStatus(ctx))
	require.NoError(t, svc.updateStatus(ctx))
	assert.Len(t, svc.GetStatus().BalanceHistory, 1, "samples are throttled")

	now = now.Add(time.Minute)
	require.NoError(t, svc.updateStatus(ctx))
	assert.Len(t, svc.GetStatus().BalanceHistory, 2)
}

func TestUpdateConfig(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := initializedService(t, testConfig(), newMockExchange(), store)

	bad := 0
	assert.False(t, svc.UpdateConfig(ctx, config.Patch{Leverage: &bad}))
	assert.Equal(t, 5, svc.config().Leverage)
	assert.False(t, store.has(ports.KeyBotConfig))

	leverage := 10
	allowShort := false
	require.True(t, svc.UpdateConfig(ctx, config.Patch{Leverage: &leverage, AllowShort: &allowShort, TradingPairs: []string{"ethusdt"}}))
	assert.Equal(t, 10, svc.config().Leverage)
	assert.False(t, svc.config().AllowShort)
	assert.Equal(t, []string{"ETHUSDT"}, svc.TradingPairs())

	var persisted config.Patch
	found, err := store.Get(ctx, ports.KeyBotConfig, &persisted)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, persisted.Leverage)
	assert.Equal(t, 10, *persisted.Leverage)

	// The new snapshot reaches the components.
	ex := svc.exchange.(*mockExchange)
	require.NoError(t, svc.handleSignal(ctx, signal("ETHUSDT", domain.SignalSell, 10, 50)))
	assert.Zero(t, ex.orderCount())
}

func TestSelectInstrumentForTrading(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MaxInstruments = 2
	store := newMemStore()
	svc := initializedService(t, cfg, newMockExchange(), store)

	assert.False(t, svc.SelectInstrumentForTrading(ctx, "DOGEUSDT"), "unknown instrument")
	assert.True(t, svc.SelectInstrumentForTrading(ctx, " ethusdt "))
	assert.True(t, svc.SelectInstrumentForTrading(ctx, "BTCUSDT"), "already tracked")
	assert.False(t, svc.SelectInstrumentForTrading(ctx, "SOLUSDT"), "instrument limit")
	assert.False(t, svc.SelectInstrumentForTrading(ctx, ""))

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, svc.TradingPairs())
	var pairs []string
	found, err := store.Get(ctx, ports.KeyTradingPairs, &pairs)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, pairs)
}

func TestScanMarket(t *testing.T) {
	ex := newMockExchange()
	ex.wave = true
	ex.tickers = []ports.Ticker{
		{Symbol: "BTCUSDT", LastPrice: 100, QuoteVolume: 1e9},
		{Symbol: "ETHUSDT", LastPrice: 10, QuoteVolume: 5e8},
		{Symbol: "ETHBTC", LastPrice: 0.05, QuoteVolume: 1e7},
	}
	svc := initializedService(t, testConfig(), ex, newMemStore())
	assert.True(t, svc.GetStatus().LastScanTime.IsZero())

	ranked, err := svc.ScanMarket(context.Background())
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	for _, r := range ranked {
		assert.NotEqual(t, "ETHBTC", r.Symbol)
	}
	assert.False(t, svc.GetStatus().LastScanTime.IsZero())
}

func TestStatusSummary(t *testing.T) {
	st := StatusSnapshot{
		State:       StateRunning,
		Balance:     1050,
		TotalProfit: 50,
		ProfitPct:   5,
		Positions:   []domain.Position{{Symbol: "BTCUSDT", Side: domain.Long, EntryPrice: 100, UnrealizedPnlPct: 2.5}},
		LastError:   "boom",
	}
	text := st.Summary()
	assert.Contains(t, text, "State: running")
	assert.Contains(t, text, "Balance: 1050.00")
	assert.Contains(t, text, "BTCUSDT LONG")
	assert.Contains(t, text, "Last error: boom")
}
