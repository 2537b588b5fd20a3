package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fractalTrader/config"
	"fractalTrader/internal/domain"
	"fractalTrader/internal/marketdata"
	"fractalTrader/internal/ports"
	"fractalTrader/internal/position"
	"fractalTrader/internal/risk"
	"fractalTrader/internal/strategy"
	"fractalTrader/internal/strategy/indicators"
)

// State is the lifecycle state of the trading service.
type State string

const (
	StateStopped      State = "stopped"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateStopping     State = "stopping"
	StateError        State = "error"
)

const (
	maxBalanceHistory     = 500 // Samples kept in memory and persisted
	maxPerformanceHistory = 366 // Daily records kept
	publishTimeout        = 5 * time.Second
)

// Dependencies are the collaborators of the trading service.
type Dependencies struct {
	Config     config.Config
	Logger     ports.Logger
	Exchange   ports.ExchangeClient
	Store      ports.Store
	Publishers []ports.EventPublisher
	Metrics    ports.MetricsRecorder
}

// TradingService orchestrates the trading bot's operations: it runs the
// periodic tasks, routes signals to the position manager and owns the
// capital policy and aggregate status.
type TradingService struct {
	logger     ports.Logger
	exchange   ports.ExchangeClient
	store      ports.Store
	publishers []ports.EventPublisher
	metrics    ports.MetricsRecorder
	now        func() time.Time

	risk      *risk.RiskManager
	positions *position.Manager
	strategy  *strategy.Strategy
	market    *marketdata.Cache
	scanner   *marketdata.Scanner

	lifecycleMu sync.Mutex // Serializes Initialize, Start and Stop
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// State fields
	mu                sync.RWMutex // Protects access to state fields below
	cfg               config.Config
	state             State
	initialized       bool
	lastError         string
	lastScanTime      time.Time
	capital           domain.CapitalState
	daily             domain.DailyPerformance
	performance       []domain.DailyRecord
	balanceHistory    []domain.BalanceSample
	lastSignals       map[string]domain.Signal
	persistedSignalID string
}

// NewTradingService creates a new application service instance and the
// components it drives from the configuration snapshot.
func NewTradingService(deps Dependencies) (*TradingService, error) {
	// Validate dependencies
	if deps.Logger == nil || deps.Exchange == nil || deps.Store == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}
	if deps.Metrics == nil {
		deps.Metrics = ports.NopMetrics{}
	}
	cfg := deps.Config

	riskManager := risk.NewRiskManager(riskConfig(cfg))
	positions, err := position.NewManager(positionConfig(cfg), deps.Exchange, riskManager, deps.Logger, deps.Metrics)
	if err != nil {
		return nil, err
	}
	strat, err := strategy.New(strategyConfig(cfg), deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrConfigurationError, err)
	}

	s := &TradingService{
		logger:      deps.Logger,
		exchange:    deps.Exchange,
		store:       deps.Store,
		publishers:  deps.Publishers,
		metrics:     deps.Metrics,
		now:         func() time.Time { return time.Now().UTC() },
		risk:        riskManager,
		positions:   positions,
		strategy:    strat,
		market:      marketdata.NewCache(deps.Exchange, deps.Logger, cfg.CandleInterval, cfg.CandleLimit, indicatorSettings(cfg)),
		scanner:     marketdata.NewScanner(deps.Exchange, deps.Logger, cfg.QuoteAsset, cfg.CandleInterval, cfg.ScanTopN),
		cfg:         cfg,
		state:       StateStopped,
		lastSignals: make(map[string]domain.Signal),
	}
	positions.SetEventSink(s.onLifecycleEvent)
	return s, nil
}

// --- Component configuration ---

func riskConfig(c config.Config) risk.RiskConfig {
	return risk.RiskConfig{
		PositionSizePercent: c.PositionSizePercent,
		BalanceSafetyMargin: c.BalanceSafetyMargin,
		MinNotional:         c.MinNotional,
		StopLossPercent:     c.StopLossPercent,
		TakeProfitPercent:   c.TakeProfitPercent,
		TrailingActivation:  c.TrailingActivation,
		WithdrawalThreshold: c.WithdrawalThreshold,
		WithdrawalPercent:   c.WithdrawalPercent,
	}
}

func positionConfig(c config.Config) position.Config {
	return position.Config{
		Leverage:         c.Leverage,
		MarginMode:       ports.MarginMode(c.MarginMode),
		QuoteAsset:       c.QuoteAsset,
		MaxOpenPositions: c.MaxOpenPositions,
		MaxTradeDuration: c.MaxTradeDuration,
		TrailingCallback: c.TrailingCallbackPercent,
		SettleDelay:      c.SettleDelay,
	}
}

func strategyConfig(c config.Config) strategy.Config {
	return strategy.Config{
		FractalLookback: c.FractalLookback,
		AllowShort:      c.AllowShort,
		SignalLogSize:   c.SignalLogSize,
	}
}

func indicatorSettings(c config.Config) indicators.Settings {
	return indicators.Settings{
		EMAFast:          c.EMAFast,
		EMAMedium:        c.EMAMedium,
		EMASlow:          c.EMASlow,
		TrendEMA:         c.TrendEMA,
		PACLength:        c.PACLength,
		WilliamsFractals: c.WilliamsFractals,
		UseHeikinAshi:    c.UseHeikinAshi,
	}
}

// applyComponents hands a new snapshot to every component.
func (s *TradingService) applyComponents(cfg config.Config) error {
	if err := s.strategy.ApplyConfig(strategyConfig(cfg)); err != nil {
		return err
	}
	s.risk.ApplyConfig(riskConfig(cfg))
	s.positions.ApplyConfig(positionConfig(cfg))
	s.market.ApplySettings(cfg.CandleInterval, cfg.CandleLimit, indicatorSettings(cfg))
	return nil
}

func (s *TradingService) config() config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *TradingService) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *TradingService) setLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err.Error()
}

// --- Lifecycle ---

// Initialize validates the configuration, checks the exchange, restores
// persisted state and records the starting capital. It is a no-op once it has
// succeeded. Failures move the service to the error state.
func (s *TradingService) Initialize(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.initializeLocked(ctx)
}

func (s *TradingService) initializeLocked(ctx context.Context) error {
	op := "Initialize"
	s.mu.RLock()
	done := s.initialized
	s.mu.RUnlock()
	if done {
		return nil
	}

	s.setState(StateInitializing)
	s.logger.Info(ctx, "Initializing Trading Service...")

	if err := s.initialize(ctx); err != nil {
		s.mu.Lock()
		s.state = StateError
		s.lastError = err.Error()
		s.mu.Unlock()
		s.logger.Error(ctx, err, op+": Initialization failed")
		return err
	}

	s.mu.Lock()
	s.initialized = true
	s.state = StateStopped
	s.lastError = ""
	fields := map[string]interface{}{
		"balance":        s.capital.Balance,
		"totalWithdrawn": s.capital.TotalWithdrawn,
		"tradingPairs":   s.cfg.TradingPairs,
	}
	s.mu.Unlock()
	s.logger.Info(ctx, op+": Trading Service initialized", fields)
	return nil
}

func (s *TradingService) initialize(ctx context.Context) error {
	op := "Initialize"
	cfg := s.config()
	if err := cfg.ValidateCredentials(); err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConfigurationError, err)
	}

	// Persisted runtime settings override the loaded snapshot when they are still valid.
	cfg = s.restoreConfig(ctx, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConfigurationError, err)
	}
	if err := s.applyComponents(cfg); err != nil {
		return fmt.Errorf("%s failed: %w: %w", op, ports.ErrConfigurationError, err)
	}

	if err := s.exchange.Ping(ctx); err != nil {
		return fmt.Errorf("%s failed: exchange unreachable: %w", op, err)
	}
	balance, err := s.exchange.GetAccountBalance(ctx, cfg.QuoteAsset)
	if err != nil {
		return fmt.Errorf("%s failed: fetch balance: %w", op, err)
	}

	state := s.restoreState(ctx)
	s.positions.RestoreHistory(state.history)
	s.strategy.Restore(state.signals)

	now := s.now()
	s.mu.Lock()
	s.cfg = cfg
	s.capital = domain.CapitalState{
		Balance:        balance.Total(),
		InitialBalance: balance.Total(),
		TotalWithdrawn: state.withdrawn,
	}
	s.daily = domain.NewDailyPerformance(now, balance.Total())
	s.performance = state.performance
	s.balanceHistory = state.balanceHistory
	s.mu.Unlock()

	// Adopt positions left open by a previous run.
	if err := s.positions.Reconcile(ctx); err != nil {
		s.logger.Warn(ctx, op+": Initial reconciliation failed", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

// Start runs the periodic tasks, initializing first if needed. It reports
// whether the service is running when it returns; calling it while running is a no-op.
func (s *TradingService) Start(ctx context.Context) bool {
	op := "Start"
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state == StateRunning {
		return true
	}
	if err := s.initializeLocked(ctx); err != nil {
		return false
	}

	s.logger.Info(ctx, "Starting Trading Service...")
	s.positions.Resume()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	cfg := s.config()
	tasks := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context) error
	}{
		{"market", cfg.MarketRefreshInterval, s.refreshMarket},
		{"strategy", cfg.StrategyInterval, s.evaluateStrategy},
		{"reconcile", cfg.ReconcileInterval, s.reconcilePositions},
		{"duration", cfg.DurationCheckInterval, s.checkDurations},
		{"status", cfg.StatusInterval, s.updateStatus},
		{"daily", cfg.DailyCheckInterval, s.checkRollover},
	}
	for _, t := range tasks {
		s.wg.Add(1)
		go s.runTask(runCtx, t.name, t.interval, t.fn)
	}

	s.setState(StateRunning)
	s.logger.Info(ctx, op+": Trading Service started", map[string]interface{}{"tasks": len(tasks)})
	return true
}

// Stop cancels every task, waits for them to return and flushes history to
// the store. In-flight exchange calls complete but their results are
// discarded. Calling it while stopped is a no-op.
func (s *TradingService) Stop(ctx context.Context) bool {
	op := "Stop"
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state != StateRunning {
		return true
	}

	s.logger.Info(ctx, "Stopping Trading Service...")
	s.setState(StateStopping)
	s.positions.Halt()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wg.Wait()

	s.flush(ctx)
	s.setState(StateStopped)
	s.logger.Info(ctx, op+": Trading Service stopped")
	return true
}

// IsRunning reports whether the periodic tasks are active.
func (s *TradingService) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateRunning
}

// State returns the current lifecycle state.
func (s *TradingService) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
