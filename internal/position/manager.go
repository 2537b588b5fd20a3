package position

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"fractalTrader/internal/domain"
	"fractalTrader/internal/ports"
	"fractalTrader/internal/risk"
)

// Config is the part of the configuration snapshot the manager consumes.
type Config struct {
	Leverage         int
	MarginMode       ports.MarginMode
	QuoteAsset       string
	MaxOpenPositions int
	MaxTradeDuration time.Duration
	TrailingCallback float64 // Callback ratio, 0.005 = 0.5%
	SettleDelay      time.Duration
}

// OpenRequest describes a position to open.
type OpenRequest struct {
	Symbol         string
	Side           domain.PositionSide
	ReferencePrice float64
	Margin         float64 // Explicit margin in quote asset, 0 uses the configured percentage
	TakeProfit     float64 // 0 = none
	StopLoss       float64 // 0 = none
}

// CloseRequest identifies the position to close. ID wins over Symbol.
type CloseRequest struct {
	ID     string
	Symbol string
	Reason domain.CloseReason
}

// EventSink receives lifecycle events. It is called without manager locks held
// and must not block for long.
type EventSink func(ctx context.Context, ev domain.LifecycleEvent)

// Manager owns the open-position set. It is the only component that places or
// closes orders on the exchange.
type Manager struct {
	exchange ports.ExchangeClient
	risk     *risk.RiskManager
	logger   ports.Logger
	metrics  ports.MetricsRecorder

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	cfgMu sync.RWMutex
	cfg   Config

	mu             sync.Mutex
	open           map[string]*domain.Position // by symbol
	pending        int                         // opens in flight
	locks          map[string]*sync.Mutex
	history        []domain.TradeRecord
	recentlyClosed map[string]time.Time
	halted         bool
	sink           EventSink
}

// NewManager creates a position manager.
func NewManager(cfg Config, exchange ports.ExchangeClient, riskManager *risk.RiskManager, logger ports.Logger, metrics ports.MetricsRecorder) (*Manager, error) {
	if exchange == nil || riskManager == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for position manager")
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Manager{
		exchange:       exchange,
		risk:           riskManager,
		logger:         logger,
		metrics:        metrics,
		now:            func() time.Time { return time.Now().UTC() },
		sleep:          sleepContext,
		cfg:            cfg,
		open:           make(map[string]*domain.Position),
		locks:          make(map[string]*sync.Mutex),
		recentlyClosed: make(map[string]time.Time),
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ApplyConfig swaps in a new configuration snapshot.
func (m *Manager) ApplyConfig(cfg Config) {
	m.cfgMu.Lock()
	defer m.cfgMu.Unlock()
	m.cfg = cfg
}

func (m *Manager) config() Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// SetEventSink registers the receiver of lifecycle events.
func (m *Manager) SetEventSink(sink EventSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// Halt stops all state mutation. Exchange calls already in flight complete,
// but their results are discarded.
func (m *Manager) Halt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = true
}

// Resume re-enables state mutation after Halt.
func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted = false
}

func (m *Manager) isHalted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// symbolLock returns the mutex linearizing operations on one instrument.
func (m *Manager) symbolLock(symbol string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		m.locks[symbol] = l
	}
	return l
}

func (m *Manager) emit(ctx context.Context, typ domain.EventType, pos domain.Position, trade *domain.TradeRecord) {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink == nil {
		return
	}
	sink(ctx, domain.LifecycleEvent{Type: typ, Time: m.now(), Position: pos, Trade: trade})
}

// Open sizes and opens a position. Any failing step aborts the open and
// nothing is recorded locally.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*domain.Position, error) {
	op := "Open"
	fields := map[string]interface{}{"symbol": req.Symbol, "side": req.Side, "referencePrice": req.ReferencePrice}

	pos, err := m.openLocked(ctx, req)
	m.metrics.IncOrder("open", err == nil)
	if err != nil {
		if errors.Is(err, ports.ErrSizing) {
			m.logger.Warn(ctx, op+": Open declined by sizing", map[string]interface{}{"symbol": req.Symbol, "reason": err.Error()})
		} else {
			m.logger.Error(ctx, err, op+": Failed to open position", fields)
		}
		return nil, err
	}

	m.logger.Info(ctx, op+": Position opened", map[string]interface{}{
		"positionID": pos.ID,
		"symbol":     pos.Symbol,
		"side":       pos.Side,
		"entryPrice": pos.EntryPrice,
		"quantity":   pos.Quantity,
		"margin":     pos.Margin,
		"takeProfit": pos.Protection.TakeProfit,
		"stopLoss":   pos.Protection.StopLoss,
	})
	m.emit(ctx, domain.EventOpened, *pos, nil)
	return pos, nil
}

func (m *Manager) openLocked(ctx context.Context, req OpenRequest) (*domain.Position, error) {
	op := "Open"
	if req.Symbol == "" || req.ReferencePrice <= 0 {
		return nil, fmt.Errorf("%s failed: %w: symbol and reference price are required", op, ports.ErrInvalidRequest)
	}
	if req.Side != domain.Long && req.Side != domain.Short {
		return nil, fmt.Errorf("%s failed: %w: side %q", op, ports.ErrInvalidRequest, req.Side)
	}

	lock := m.symbolLock(req.Symbol)
	lock.Lock()
	defer lock.Unlock()

	if err := m.reserve(req.Symbol); err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	defer m.release()

	cfg := m.config()
	balance, err := m.exchange.GetAccountBalance(ctx, cfg.QuoteAsset)
	if err != nil {
		return nil, fmt.Errorf("%s failed: fetch balance: %w", op, err)
	}

	size, err := m.risk.PositionSize(balance.Available, req.Margin, req.ReferencePrice, cfg.Leverage)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	if size.Clamped {
		m.logger.Warn(ctx, op+": Margin clamped to balance safety margin", map[string]interface{}{
			"symbol":    req.Symbol,
			"requested": req.Margin,
			"margin":    size.Margin,
			"available": balance.Available,
		})
	}

	if err := m.exchange.SetLeverage(ctx, req.Symbol, cfg.MarginMode, cfg.Leverage); err != nil {
		return nil, fmt.Errorf("%s failed: set leverage: %w", op, err)
	}

	order := ports.OrderRequest{
		Symbol:     req.Symbol,
		Side:       req.Side.EntrySide(),
		Type:       ports.OrderTypeMarket,
		Quantity:   size.Quantity,
		TakeProfit: req.TakeProfit,
		StopLoss:   req.StopLoss,
	}
	var ack *ports.OrderAck
	if req.TakeProfit > 0 || req.StopLoss > 0 {
		ack, err = m.exchange.PlaceOrderWithProtection(ctx, order)
	} else {
		ack, err = m.exchange.PlaceOrder(ctx, order)
	}
	if err != nil {
		return nil, fmt.Errorf("%s failed: place order: %w", op, err)
	}

	// An interrupted settle leaves the exchange position for Reconcile to adopt.
	if err := m.sleep(ctx, cfg.SettleDelay); err != nil {
		return nil, fmt.Errorf("%s failed: settle: %w", op, err)
	}

	raw, err := m.fetchPosition(ctx, req.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%s failed: confirm position: %w", op, err)
	}
	if raw == nil || raw.Side != req.Side {
		return nil, fmt.Errorf("%s failed: %w: order %s acknowledged but no %s position reported for %s",
			op, ports.ErrStaleState, ack.OrderID, req.Side, req.Symbol)
	}

	pos := &domain.Position{
		ID:         ack.OrderID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		EntryPrice: firstPositive(raw.EntryPrice, ack.AvgPrice, req.ReferencePrice),
		Quantity:   firstPositive(raw.Quantity, ack.ExecutedQty, size.Quantity),
		Margin:     size.Margin,
		Leverage:   cfg.Leverage,
		EntryTime:  m.now(),
		Protection: domain.Protection{TakeProfit: req.TakeProfit, StopLoss: req.StopLoss},
	}
	if raw.Leverage > 0 {
		pos.Leverage = raw.Leverage
	}
	pos.MarkPrice(firstPositive(raw.MarkPrice, pos.EntryPrice))

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halted {
		return nil, fmt.Errorf("%s failed: %w", op, ports.ErrHalted)
	}
	m.open[req.Symbol] = pos
	cp := *pos
	return &cp, nil
}

// reserve claims an open slot for symbol.
func (m *Manager) reserve(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halted {
		return ports.ErrHalted
	}
	if _, ok := m.open[symbol]; ok {
		return fmt.Errorf("%w: %s", ports.ErrPositionExists, symbol)
	}
	limit := m.config().MaxOpenPositions
	if limit > 0 && len(m.open)+m.pending >= limit {
		return fmt.Errorf("%w: %d", ports.ErrPositionLimit, limit)
	}
	m.pending++
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending--
}

// fetchPosition returns the exchange position of symbol, or nil if flat.
func (m *Manager) fetchPosition(ctx context.Context, symbol string) (*ports.RawPosition, error) {
	raws, err := m.exchange.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	for i := range raws {
		if raws[i].Symbol == symbol && raws[i].Quantity > 0 {
			return &raws[i], nil
		}
	}
	return nil, nil
}

// Close closes a position resolved by id first, then by symbol. When neither
// resolves locally the symbol is closed directly on the exchange.
func (m *Manager) Close(ctx context.Context, req CloseRequest) (*domain.TradeRecord, error) {
	op := "Close"
	if req.Reason == "" {
		req.Reason = domain.CloseReasonManual
	}
	fields := map[string]interface{}{"positionID": req.ID, "symbol": req.Symbol, "reason": req.Reason}

	symbol, byID := m.resolve(req)
	if symbol == "" {
		err := fmt.Errorf("%s failed: %w: id %q", op, ports.ErrPositionNotFound, req.ID)
		m.logger.Warn(ctx, op+": Nothing to close", fields)
		return nil, err
	}

	pos, rec, err := m.closeLocked(ctx, symbol, req, byID)
	m.metrics.IncOrder("close", err == nil)
	if err != nil {
		m.logger.Error(ctx, err, op+": Failed to close position", fields)
		return nil, err
	}

	m.logger.Info(ctx, op+": Position closed", map[string]interface{}{
		"positionID": rec.PositionID,
		"symbol":     rec.Symbol,
		"side":       rec.Side,
		"exitPrice":  rec.ExitPrice,
		"pnl":        rec.PNL,
		"pnlPct":     rec.PnlPct,
		"result":     rec.Result,
		"reason":     rec.CloseReason,
	})
	m.emit(ctx, domain.EventClosed, pos, rec)
	return rec, nil
}

// resolve maps a close request to a symbol. byID reports that the id matched.
func (m *Manager) resolve(req CloseRequest) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ID != "" {
		for sym, pos := range m.open {
			if pos.ID == req.ID {
				return sym, true
			}
		}
	}
	return req.Symbol, false
}

func (m *Manager) closeLocked(ctx context.Context, symbol string, req CloseRequest, byID bool) (domain.Position, *domain.TradeRecord, error) {
	op := "Close"
	lock := m.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if m.halted {
		m.mu.Unlock()
		return domain.Position{}, nil, fmt.Errorf("%s failed: %w", op, ports.ErrHalted)
	}
	local, tracked := m.open[symbol]
	var pos domain.Position
	if tracked {
		pos = *local
	}
	m.mu.Unlock()

	if byID && (!tracked || pos.ID != req.ID) {
		return domain.Position{}, nil, fmt.Errorf("%s failed: %w: position %s changed while waiting", op, ports.ErrStaleState, req.ID)
	}

	if !tracked {
		raw, err := m.fetchPosition(ctx, symbol)
		if err != nil {
			return domain.Position{}, nil, fmt.Errorf("%s failed: fetch positions: %w", op, err)
		}
		if raw == nil {
			return domain.Position{}, nil, fmt.Errorf("%s failed: %w: %s", op, ports.ErrPositionNotFound, symbol)
		}
		pos = positionFromRaw(*raw, m.now())
		m.logger.Warn(ctx, op+": Closing exchange position not tracked locally", map[string]interface{}{
			"symbol":   symbol,
			"side":     pos.Side,
			"quantity": pos.Quantity,
		})
	}

	ack, err := m.exchange.ClosePosition(ctx, symbol)
	if err != nil {
		return domain.Position{}, nil, fmt.Errorf("%s failed: %w", op, err)
	}
	exit := m.exitPrice(ctx, symbol, ack, pos)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halted {
		return domain.Position{}, nil, fmt.Errorf("%s failed: %w", op, ports.ErrHalted)
	}
	rec := m.recordCloseLocked(&pos, exit, req.Reason)
	return pos, &rec, nil
}

// recordCloseLocked removes symbol from the open set and appends the trade.
// Callers hold m.mu.
func (m *Manager) recordCloseLocked(pos *domain.Position, exit float64, reason domain.CloseReason) domain.TradeRecord {
	now := m.now()
	pos.MarkPrice(exit)
	rec := domain.NewTradeRecord(pos, exit, now, reason)
	if cur, ok := m.open[pos.Symbol]; ok && cur.ID == pos.ID {
		delete(m.open, pos.Symbol)
	}
	m.history = append(m.history, rec)
	m.recentlyClosed[pos.Symbol] = now
	return rec
}

// exitPrice re-fetches the market price after a close acknowledgment.
func (m *Manager) exitPrice(ctx context.Context, symbol string, ack *ports.OrderAck, pos domain.Position) float64 {
	price, err := m.exchange.GetTicker(ctx, symbol)
	if err == nil && price > 0 {
		return price
	}
	if err != nil {
		m.logger.Warn(ctx, "exitPrice: Ticker unavailable, using fallback price", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}
	var fill float64
	if ack != nil {
		fill = ack.AvgPrice
	}
	return firstPositive(fill, pos.CurrentPrice, pos.EntryPrice)
}

// SetProtection sets or replaces the take-profit and/or stop-loss of an open
// position. A zero price leaves that order untouched.
func (m *Manager) SetProtection(ctx context.Context, symbol string, takeProfit, stopLoss float64) error {
	op := "SetProtection"
	pos, err := m.protect(ctx, symbol, takeProfit, stopLoss)
	m.metrics.IncOrder("protect", err == nil)
	if err != nil {
		m.logger.Error(ctx, err, op+": Failed to update protection", map[string]interface{}{"symbol": symbol})
		return err
	}
	m.logger.Info(ctx, op+": Protection updated", map[string]interface{}{
		"symbol":     symbol,
		"takeProfit": pos.Protection.TakeProfit,
		"stopLoss":   pos.Protection.StopLoss,
	})
	m.emit(ctx, domain.EventProtectionUpdated, pos, nil)
	return nil
}

func (m *Manager) protect(ctx context.Context, symbol string, takeProfit, stopLoss float64) (domain.Position, error) {
	op := "SetProtection"
	if takeProfit <= 0 && stopLoss <= 0 {
		return domain.Position{}, fmt.Errorf("%s failed: %w: no protective price given", op, ports.ErrInvalidRequest)
	}

	lock := m.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	pos, ok := m.Position(symbol)
	if !ok {
		return domain.Position{}, fmt.Errorf("%s failed: %w: %s", op, ports.ErrPositionNotFound, symbol)
	}

	orders := []struct {
		kind  ports.ProtectionKind
		price float64
	}{
		{ports.ProtectionTakeProfit, takeProfit},
		{ports.ProtectionStopLoss, stopLoss},
	}
	for _, o := range orders {
		if o.price <= 0 {
			continue
		}
		if _, err := m.exchange.SetProtection(ctx, symbol, pos.Side, o.kind, o.price, pos.Quantity); err != nil {
			return domain.Position{}, fmt.Errorf("%s failed: %s: %w", op, o.kind, err)
		}
		m.mutate(symbol, pos.ID, func(p *domain.Position) {
			if o.kind == ports.ProtectionTakeProfit {
				p.Protection.TakeProfit = o.price
			} else {
				p.Protection.StopLoss = o.price
			}
		})
	}

	pos, _ = m.Position(symbol)
	return pos, nil
}

// mutate applies fn to the open position of symbol if it still has id.
func (m *Manager) mutate(symbol, id string, fn func(p *domain.Position)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halted {
		return false
	}
	p, ok := m.open[symbol]
	if !ok || p.ID != id {
		return false
	}
	fn(p)
	return true
}

// SetTrailingStop arms a trailing stop for the position of symbol. A position
// is armed at most once.
func (m *Manager) SetTrailingStop(ctx context.Context, symbol string) error {
	op := "SetTrailingStop"
	pos, armed, err := m.trail(ctx, symbol)
	m.metrics.IncOrder("trailing", err == nil)
	if err != nil {
		m.logger.Error(ctx, err, op+": Failed to arm trailing stop", map[string]interface{}{"symbol": symbol})
		return err
	}
	if !armed {
		return nil
	}
	m.logger.Info(ctx, op+": Trailing stop armed", map[string]interface{}{
		"symbol":   symbol,
		"price":    pos.CurrentPrice,
		"quantity": pos.Quantity,
	})
	m.emit(ctx, domain.EventProtectionUpdated, pos, nil)
	return nil
}

func (m *Manager) trail(ctx context.Context, symbol string) (domain.Position, bool, error) {
	op := "SetTrailingStop"
	lock := m.symbolLock(symbol)
	lock.Lock()
	defer lock.Unlock()

	pos, ok := m.Position(symbol)
	if !ok {
		return domain.Position{}, false, fmt.Errorf("%s failed: %w: %s", op, ports.ErrPositionNotFound, symbol)
	}
	if pos.Protection.TrailingActive {
		return pos, false, nil
	}
	if pos.Quantity <= 0 {
		return domain.Position{}, false, fmt.Errorf("%s failed: %w: unknown position size", op, ports.ErrStaleState)
	}

	callback := m.config().TrailingCallback
	if _, err := m.exchange.SetTrailingStop(ctx, symbol, pos.Side, callback, pos.Quantity); err != nil {
		return domain.Position{}, false, fmt.Errorf("%s failed: %w", op, err)
	}
	if !m.mutate(symbol, pos.ID, func(p *domain.Position) { p.Protection.TrailingActive = true }) {
		return domain.Position{}, false, fmt.Errorf("%s failed: %w: position %s changed", op, ports.ErrStaleState, pos.ID)
	}
	pos.Protection.TrailingActive = true
	return pos, true, nil
}

// ArmTrailingStops arms the trailing stop of every open position whose price
// has travelled the configured share of the way to its take-profit.
func (m *Manager) ArmTrailingStops(ctx context.Context) (int, error) {
	armed := 0
	var errs []error
	for _, pos := range m.OpenPositions() {
		if !m.risk.ShouldArmTrailing(&pos, pos.CurrentPrice) {
			continue
		}
		if err := m.SetTrailingStop(ctx, pos.Symbol); err != nil {
			errs = append(errs, err)
			continue
		}
		armed++
	}
	return armed, errors.Join(errs...)
}

// CloseExpired force-closes, by instrument, every position open longer than
// the configured maximum trade duration.
func (m *Manager) CloseExpired(ctx context.Context) ([]domain.TradeRecord, error) {
	op := "CloseExpired"
	limit := m.config().MaxTradeDuration
	if limit <= 0 {
		return nil, nil
	}

	now := m.now()
	var closed []domain.TradeRecord
	var errs []error
	for _, pos := range m.OpenPositions() {
		age := pos.Age(now)
		if age <= limit {
			continue
		}
		m.logger.Info(ctx, op+": Position exceeded max trade duration", map[string]interface{}{
			"symbol": pos.Symbol,
			"age":    age.String(),
			"limit":  limit.String(),
		})
		rec, err := m.Close(ctx, CloseRequest{Symbol: pos.Symbol, Reason: domain.CloseReasonTimeLimit})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		closed = append(closed, *rec)
	}
	return closed, errors.Join(errs...)
}

// Reconcile re-fetches exchange positions and folds them into local state:
// prices and sizes are refreshed, positions gone from the exchange are closed
// with reason EXCHANGE, and untracked exchange positions are adopted.
func (m *Manager) Reconcile(ctx context.Context) error {
	op := "Reconcile"
	fetchedAt := m.now()
	raws, err := m.exchange.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	onExchange := make(map[string]ports.RawPosition, len(raws))
	for _, r := range raws {
		if r.Quantity > 0 {
			onExchange[r.Symbol] = r
		}
	}

	symbols := m.symbols()
	for sym := range onExchange {
		if _, ok := m.Position(sym); !ok {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		raw, found := onExchange[sym]
		m.reconcileSymbol(ctx, sym, raw, found, fetchedAt)
	}
	return nil
}

func (m *Manager) reconcileSymbol(ctx context.Context, symbol string, raw ports.RawPosition, onExchange bool, fetchedAt time.Time) {
	op := "Reconcile"
	lock := m.symbolLock(symbol)
	lock.Lock()

	m.mu.Lock()
	if m.halted {
		m.mu.Unlock()
		lock.Unlock()
		return
	}
	local, tracked := m.open[symbol]

	switch {
	case tracked && onExchange:
		if raw.Side != local.Side {
			m.logger.Warn(ctx, op+": Exchange reports a different side, following the exchange", map[string]interface{}{
				"symbol": symbol,
				"local":  local.Side,
				"remote": raw.Side,
			})
			local.Side = raw.Side
		}
		local.Quantity = raw.Quantity
		if raw.EntryPrice > 0 {
			local.EntryPrice = raw.EntryPrice
		}
		if raw.Leverage > 0 {
			local.Leverage = raw.Leverage
		}
		local.MarkPrice(raw.MarkPrice)
		m.mu.Unlock()
		lock.Unlock()

	case tracked && !onExchange:
		// Opened after the snapshot was taken.
		if local.EntryTime.After(fetchedAt) {
			m.mu.Unlock()
			lock.Unlock()
			return
		}
		pos := *local
		m.mu.Unlock()

		exit := m.exitPrice(ctx, symbol, nil, pos)
		m.mu.Lock()
		if m.halted || m.open[symbol] != local {
			m.mu.Unlock()
			lock.Unlock()
			return
		}
		rec := m.recordCloseLocked(&pos, exit, domain.CloseReasonExchange)
		m.mu.Unlock()
		lock.Unlock()

		m.logger.Info(ctx, op+": Position closed on the exchange", map[string]interface{}{
			"positionID": rec.PositionID,
			"symbol":     symbol,
			"exitPrice":  rec.ExitPrice,
			"pnl":        rec.PNL,
		})
		m.emit(ctx, domain.EventClosed, pos, &rec)

	case !tracked && onExchange:
		// Closed after the snapshot was taken.
		if closedAt, ok := m.recentlyClosed[symbol]; ok && !closedAt.Before(fetchedAt) {
			m.mu.Unlock()
			lock.Unlock()
			return
		}
		pos := positionFromRaw(raw, m.now())
		m.open[symbol] = &pos
		m.mu.Unlock()
		lock.Unlock()

		m.logger.Warn(ctx, op+": Adopted untracked exchange position", map[string]interface{}{
			"positionID": pos.ID,
			"symbol":     symbol,
			"side":       pos.Side,
			"quantity":   pos.Quantity,
			"entryPrice": pos.EntryPrice,
		})
		m.emit(ctx, domain.EventOpened, pos, nil)

	default:
		m.mu.Unlock()
		lock.Unlock()
	}
}

// positionFromRaw builds a local position from an exchange snapshot. The entry
// time is unknown, so seenAt is used.
func positionFromRaw(raw ports.RawPosition, seenAt time.Time) domain.Position {
	id := raw.ID
	if id == "" {
		id = raw.Symbol
	}
	lev := raw.Leverage
	if lev <= 0 {
		lev = 1
	}
	pos := domain.Position{
		ID:         id,
		Symbol:     raw.Symbol,
		Side:       raw.Side,
		EntryPrice: raw.EntryPrice,
		Quantity:   raw.Quantity,
		Margin:     raw.EntryPrice * raw.Quantity / float64(lev),
		Leverage:   lev,
		EntryTime:  seenAt,
	}
	pos.MarkPrice(firstPositive(raw.MarkPrice, raw.EntryPrice))
	return pos
}

// Position returns a copy of the open position of symbol.
func (m *Manager) Position(symbol string) (domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.open[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// SideOf returns the side held on symbol, or Flat.
func (m *Manager) SideOf(symbol string) domain.PositionSide {
	pos, ok := m.Position(symbol)
	if !ok {
		return domain.Flat
	}
	return pos.Side
}

// OpenPositions returns copies of all open positions ordered by symbol.
func (m *Manager) OpenPositions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OpenCount returns the number of open positions.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

func (m *Manager) symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.open))
	for sym := range m.open {
		out = append(out, sym)
	}
	return out
}

// History returns a copy of the position history, oldest first.
func (m *Manager) History() []domain.TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TradeRecord, len(m.history))
	copy(out, m.history)
	return out
}

// RestoreHistory seeds the position history from persistence. Records
// appended since start are kept after the restored ones.
func (m *Manager) RestoreHistory(records []domain.TradeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	restored := make([]domain.TradeRecord, 0, len(records)+len(m.history))
	restored = append(restored, records...)
	m.history = append(restored, m.history...)
}

func firstPositive(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
