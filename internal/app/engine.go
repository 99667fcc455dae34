package app

import (
	"context"
	"errors"
	"kiwoombot/clients/kiwoomcond"
	"kiwoombot/clients/kiwoomtrade"
	"kiwoombot/clients/notifier"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ConditionSearcher is the condition-search surface the engine consumes.
type ConditionSearcher interface {
	Search(ctx context.Context, conditionID string, mode kiwoomcond.SearchMode) ([]string, error)
	Unsubscribe(conditionID string) error
	Realtime() <-chan kiwoomcond.RealtimeEvent
}

// OrderGateway is the order-submission surface the engine consumes.
type OrderGateway interface {
	Buy(ctx context.Context, symbol string, quantity, price int64) (*kiwoomtrade.OrderResult, error)
}

// EngineSettings is the immutable per-run trading configuration.
type EngineSettings struct {
	ConditionID   string
	ConditionName string

	BuyAmount    int64
	MaxPositions int

	MarketOrder bool
	TickOffset  int

	TickInterval      time.Duration
	OrderTimeout      time.Duration
	PendingTimeout    time.Duration
	BlacklistCooldown time.Duration
	OrdersPerSecond   float64
}

// Engine turns condition-search matches into buy orders. A single goroutine
// consumes the realtime stream and the periodic tick, so all book mutations
// for a symbol happen in arrival order; order dispatch itself is async and
// guarded by the book's reservations.
type Engine struct {
	logger   *zap.Logger
	searcher ConditionSearcher
	gateway  OrderGateway
	notifier notifier.Notifier
	pricing  PricingStrategy
	limiter  *rate.Limiter

	settings EngineSettings
	book     *book

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewEngine(
	logger *zap.Logger,
	searcher ConditionSearcher,
	gateway OrderGateway,
	notif notifier.Notifier,
	pricing PricingStrategy,
	settings EngineSettings,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pricing == nil {
		pricing = FixedPricing{}
	}
	if notif == nil {
		notif = notifier.NewMultiNotifier()
	}

	rps := settings.OrdersPerSecond
	if rps <= 0 {
		rps = 1.0
	}

	return &Engine{
		logger:   logger,
		searcher: searcher,
		gateway:  gateway,
		notifier: notif,
		pricing:  pricing,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		settings: settings,
		book:     newBook(settings.MaxPositions),
	}
}

// Start subscribes to the configured condition and begins trading on the
// initial result set and subsequent realtime events.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	e.mu.Unlock()

	e.logger.Info("auto-trading starting",
		zap.String("conditionID", e.settings.ConditionID),
		zap.String("conditionName", e.settings.ConditionName),
		zap.Int64("buyAmount", e.settings.BuyAmount),
		zap.Int("maxPositions", e.settings.MaxPositions),
		zap.Bool("marketOrder", e.settings.MarketOrder),
	)

	if err := e.subscribe(runCtx); err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		cancel()
		return err
	}

	go e.run(runCtx)

	e.sendAlert(notifier.OrderAlert{
		Reason:        notifier.AlertReasonEngineStarted,
		ConditionID:   e.settings.ConditionID,
		ConditionName: e.settings.ConditionName,
		Timestamp:     time.Now(),
	})

	return nil
}

// subscribe issues the realtime search and seeds the book from the initial
// result set. A search timeout degrades to an empty seed; the realtime
// stream still delivers entries as they happen.
func (e *Engine) subscribe(ctx context.Context) error {
	symbols, err := e.searcher.Search(ctx, e.settings.ConditionID, kiwoomcond.SearchRealtime)
	if err != nil {
		if errors.Is(err, kiwoomcond.ErrRequestTimeout) {
			e.logger.Warn("initial condition search timed out, starting with empty set",
				zap.String("conditionID", e.settings.ConditionID),
			)
			return nil
		}
		return err
	}

	e.logger.Info("initial condition matches",
		zap.String("conditionID", e.settings.ConditionID),
		zap.Int("count", len(symbols)),
	)

	for _, symbol := range symbols {
		e.book.Track(symbol)
		e.evaluate(symbol)
	}
	return nil
}

// Resubscribe re-issues the realtime search after a reconnect.
func (e *Engine) Resubscribe(ctx context.Context) error {
	e.mu.Lock()
	running := e.running
	e.mu.Unlock()
	if !running {
		return errors.New("engine not running")
	}
	return e.subscribe(ctx)
}

// Stop halts evaluation and cancels the realtime subscription. Open
// positions stay on the book; in-flight orders run to completion with
// their own deadline.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	done := e.done
	e.mu.Unlock()

	cancel()
	<-done

	if err := e.searcher.Unsubscribe(e.settings.ConditionID); err != nil {
		e.logger.Warn("realtime unsubscribe failed", zap.Error(err))
	}

	counts := e.book.Counts()
	e.logger.Info("auto-trading stopped",
		zap.Int("positions", counts.Positions),
		zap.Int("pending", counts.Pending),
	)

	e.sendAlert(notifier.OrderAlert{
		Reason:        notifier.AlertReasonEngineStopped,
		ConditionID:   e.settings.ConditionID,
		ConditionName: e.settings.ConditionName,
		Timestamp:     time.Now(),
	})
}

// Status returns the current book counts.
func (e *Engine) Status() BookCounts {
	return e.book.Counts()
}

// Positions returns the open positions.
func (e *Engine) Positions() []Position {
	return e.book.Positions()
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.settings.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-e.searcher.Realtime():
			if !ok {
				e.logger.Warn("realtime stream closed")
				return
			}
			e.handleEvent(ev)

		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) handleEvent(ev kiwoomcond.RealtimeEvent) {
	if ev.Insert {
		if e.book.Track(ev.Symbol) {
			e.logger.Info("symbol entered condition", zap.String("symbol", ev.Symbol))
		}
		e.evaluate(ev.Symbol)
		return
	}

	if e.book.Untrack(ev.Symbol) {
		e.logger.Info("symbol left condition", zap.String("symbol", ev.Symbol))
	}
}

// tick expires stale reservations and re-evaluates everything the
// condition currently matches.
func (e *Engine) tick() {
	now := time.Now()

	for _, symbol := range e.book.ExpirePending(now, e.settings.PendingTimeout) {
		e.logger.Warn("pending order expired", zap.String("symbol", symbol))
	}

	for _, symbol := range e.book.TrackedSymbols() {
		counts := e.book.Counts()
		if counts.Positions+counts.Pending >= e.settings.MaxPositions {
			break
		}
		e.evaluate(symbol)
	}
}

// evaluate reserves the symbol and dispatches a buy if it is eligible.
// Ineligible symbols are skipped silently; that is the common case on
// every tick.
func (e *Engine) evaluate(symbol string) {
	if !e.book.Reserve(symbol, time.Now()) {
		return
	}

	e.logger.Info("dispatching buy", zap.String("symbol", symbol))
	go e.dispatch(symbol)
}

// dispatch submits one buy order. It runs on its own deadline, detached
// from the engine context, so a Stop does not abandon an order the broker
// may already have accepted.
func (e *Engine) dispatch(symbol string) {
	ctx, cancel := context.WithTimeout(context.Background(), e.settings.OrderTimeout)
	defer cancel()

	if err := e.limiter.Wait(ctx); err != nil {
		e.logger.Warn("order rate limit wait aborted",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		e.book.Release(symbol)
		return
	}

	quantity := e.quantity(symbol)

	var price int64
	if !e.settings.MarketOrder {
		price = e.pricing.ReferencePrice(symbol) + int64(e.settings.TickOffset)
	}

	result, err := e.gateway.Buy(ctx, symbol, quantity, price)
	if err != nil {
		e.logger.Warn("buy failed",
			zap.String("symbol", symbol),
			zap.Error(err),
		)
		e.book.Fail(symbol, time.Now(), e.settings.BlacklistCooldown)
		e.sendAlert(notifier.OrderAlert{
			Reason:        notifier.AlertReasonOrderFailed,
			Symbol:        symbol,
			ConditionID:   e.settings.ConditionID,
			ConditionName: e.settings.ConditionName,
			Quantity:      quantity,
			Price:         price,
			Error:         err.Error(),
			Timestamp:     time.Now(),
		})
		return
	}

	position := Position{
		Symbol:   symbol,
		Quantity: quantity,
		Price:    price,
		OrderNo:  result.OrderNo,
		OpenedAt: time.Now(),
	}
	e.book.Commit(position)

	e.logger.Info("position opened",
		zap.String("symbol", symbol),
		zap.Int64("quantity", quantity),
		zap.String("orderNo", result.OrderNo),
	)

	e.sendAlert(notifier.OrderAlert{
		Reason:        notifier.AlertReasonPositionOpened,
		Symbol:        symbol,
		ConditionID:   e.settings.ConditionID,
		ConditionName: e.settings.ConditionName,
		Quantity:      quantity,
		Price:         price,
		OrderNo:       result.OrderNo,
		Timestamp:     time.Now(),
	})
}

// quantity sizes the order from the per-position budget, minimum one share.
func (e *Engine) quantity(symbol string) int64 {
	ref := e.pricing.ReferencePrice(symbol)
	if ref <= 0 {
		ref = defaultReferencePrice
	}
	quantity := e.settings.BuyAmount / ref
	if quantity < 1 {
		quantity = 1
	}
	return quantity
}

// sendAlert fans the alert out without blocking the trading loops.
func (e *Engine) sendAlert(alert notifier.OrderAlert) {
	go e.notifier.SendOrderAlert(alert)
}
