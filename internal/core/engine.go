package core

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/ingest"
	"main/internal/obs"
	"main/internal/og"
	"main/internal/ops"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/state"
	"main/internal/strategy"
)

// tickHistory bounds the per-symbol quote window the strategy sees.
const tickHistory = 256

// Config collects the engine's collaborators.
type Config struct {
	Queue    *bus.Queue
	Board    *ingest.Board
	Feed     ingest.Feed
	Gate     *risk.Gate
	Executor *og.Executor
	Ledger   *state.Ledger
	Strategy strategy.Strategy
	Metrics  *obs.Metrics
	Windows  []ops.Window

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

// Engine runs the serialized event loop. All state below the queue is
// single-writer: only the loop goroutine touches it.
type Engine struct {
	cfg Config

	ticks    map[schema.Symbol][]schema.Quote
	buyPool  *schema.Pool
	sellPool map[schema.Symbol]bool
	watched  map[schema.Symbol]bool
	stopping bool
}

// NewEngine wires the engine. Run starts the day and consumes events.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Queue == nil || cfg.Board == nil || cfg.Feed == nil {
		return nil, errors.New("engine requires queue, board and feed")
	}
	if cfg.Gate == nil || cfg.Executor == nil || cfg.Ledger == nil || cfg.Strategy == nil {
		return nil, errors.New("engine requires gate, executor, ledger and strategy")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		cfg:      cfg,
		ticks:    make(map[schema.Symbol][]schema.Quote),
		buyPool:  schema.NewPool(nil),
		sellPool: make(map[schema.Symbol]bool),
		watched:  make(map[schema.Symbol]bool),
	}, nil
}

// Run selects today's pools, starts the feed and consumes the queue
// until the context is done or the queue is closed.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.startDay(ctx); err != nil {
		return err
	}

	feedErr := make(chan error, 1)
	go func() {
		feedErr <- e.cfg.Feed.Run(ctx, e.onQuote)
	}()

	e.cfg.Queue.Run(ctx, func(ev bus.Event) { e.handle(ctx, ev) })

	select {
	case err := <-feedErr:
		if err != nil && ctx.Err() == nil {
			return errors.Wrap(err, "market feed")
		}
	default:
	}
	return nil
}

// onQuote runs on the feed goroutine: park the quote on the board and
// wake the loop only when the symbol was not already pending.
func (e *Engine) onQuote(q schema.Quote) {
	if !e.cfg.Board.Put(q) {
		e.cfg.Metrics.IncQueueDrop()
		return
	}
	if err := e.cfg.Queue.TryPublish(bus.TickArrived{Symbol: q.Symbol}); err != nil {
		if stderrors.Is(err, bus.ErrQueueClosed) {
			e.cfg.Metrics.IncQueueClosed()
		} else {
			e.cfg.Metrics.IncQueueDrop()
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev bus.Event) {
	start := time.Now()
	switch v := ev.(type) {
	case bus.TickArrived:
		e.handleTick(ctx, v.Symbol)
	case bus.SubmitResult:
		e.cfg.Executor.HandleSubmitResult(v)
	case bus.BrokerAccepted:
		e.cfg.Executor.HandleAccepted(v)
	case bus.BrokerRejected:
		e.cfg.Executor.HandleRejected(v)
	case bus.BrokerFilled:
		e.cfg.Executor.HandleFilled(v)
	case bus.BrokerCancelled:
		e.cfg.Executor.HandleCancelled(v)
	case bus.DayReset:
		e.resetDay(ctx)
	case bus.Stop:
		e.stopping = true
		if err := e.cfg.Feed.Close(); err != nil {
			logs.Warnf("close feed: %v", err)
		}
		logs.Infof("engine stopping: draining %d open orders", e.cfg.Executor.OpenCount())
	}
	e.cfg.Metrics.ObserveLoop(time.Since(start))
}

// handleTick drains the coalesced quote and evaluates sells before
// buys so freed capacity is visible to the buy path. Once the engine
// is stopping, straggler ticks still on the queue produce no new
// submissions on either side.
func (e *Engine) handleTick(ctx context.Context, symbol schema.Symbol) {
	q, ok := e.cfg.Board.Take(symbol)
	if !ok {
		return
	}
	e.cfg.Metrics.IncTick()

	if e.stopping {
		return
	}

	window := append(e.ticks[symbol], q)
	if len(window) > tickHistory {
		window = window[len(window)-tickHistory:]
	}
	e.ticks[symbol] = window

	if !e.inWindow() {
		return
	}

	snap := e.cfg.Ledger.Snapshot(symbol)
	if e.sellPool[symbol] && snap.Position.Held > 0 {
		if intent, ok := e.cfg.Strategy.SellSignal(symbol, window, snap.Position); ok {
			e.dispatch(ctx, intent)
		}
	}
	if e.buyPool.Contains(symbol) {
		if intent, ok := e.cfg.Strategy.BuySignal(symbol, window); ok {
			e.dispatch(ctx, intent)
		}
	}
}

// dispatch runs one intent through the gate and hands approved sizes
// to the executor.
func (e *Engine) dispatch(ctx context.Context, intent schema.OrderIntent) {
	e.cfg.Metrics.IncSignal()

	eligible := intent.Side == schema.SideSell || e.buyPool.Contains(intent.Symbol)
	snap := e.cfg.Ledger.Snapshot(intent.Symbol)
	verdict := e.cfg.Gate.Evaluate(intent, eligible, snap)
	e.cfg.Metrics.ObserveVerdict(verdict)

	switch verdict.Action {
	case schema.VerdictReject:
		logs.Infof("intent rejected: %s %s qty=%d reason=%s signal=%s",
			intent.Side, intent.Symbol, intent.Qty, verdict.Reason, intent.Signal)
		return
	case schema.VerdictShrink:
		logs.Infof("intent shrunk: %s %s qty=%d->%d reason=%s",
			intent.Side, intent.Symbol, intent.Qty, verdict.Qty, verdict.Reason)
	}
	ord := e.cfg.Executor.Begin(ctx, intent, verdict.Qty)
	if intent.Side == schema.SideBuy {
		e.sellPool[ord.Symbol] = true
	}
}

// startDay builds today's pools and subscribes the union of buy
// candidates and held symbols.
func (e *Engine) startDay(ctx context.Context) error {
	symbols, err := e.cfg.Strategy.SelectBuyPool(ctx)
	if err != nil {
		return errors.Wrap(err, "select buy pool")
	}
	e.buyPool = schema.NewPool(symbols)

	held := e.cfg.Ledger.HeldSymbols()
	e.sellPool = make(map[schema.Symbol]bool, len(held))
	for _, s := range e.cfg.Strategy.SelectSellPool(ctx, held) {
		e.sellPool[s] = true
	}

	want := make(map[schema.Symbol]bool, e.buyPool.Len()+len(e.sellPool))
	for _, s := range e.buyPool.Symbols() {
		want[s] = true
	}
	for s := range e.sellPool {
		want[s] = true
	}
	if err := e.reconcileSubscriptions(ctx, want); err != nil {
		return err
	}
	logs.Infof("session start: buy pool=%d sell pool=%d watched=%d",
		e.buyPool.Len(), len(e.sellPool), len(e.watched))
	return nil
}

// reconcileSubscriptions diffs the wanted set against the current one.
func (e *Engine) reconcileSubscriptions(ctx context.Context, want map[schema.Symbol]bool) error {
	var add, drop []schema.Symbol
	for s := range want {
		if !e.watched[s] {
			add = append(add, s)
		}
	}
	for s := range e.watched {
		if !want[s] {
			drop = append(drop, s)
		}
	}
	if len(drop) > 0 {
		if err := e.cfg.Feed.Unsubscribe(ctx, drop); err != nil {
			logs.Warnf("unsubscribe %d symbols: %v", len(drop), err)
		}
	}
	if len(add) > 0 {
		if err := e.cfg.Feed.Subscribe(ctx, add); err != nil {
			return errors.Wrap(err, "subscribe")
		}
	}
	e.watched = want
	return nil
}

// resetDay clears daily counters and per-session state, then rebuilds
// the pools from fresh history.
func (e *Engine) resetDay(ctx context.Context) {
	logs.Infof("day reset: spent_today=%s", e.cfg.Ledger.SpentToday())
	e.cfg.Ledger.ResetDay()
	e.cfg.Strategy.ResetDay()
	e.ticks = make(map[schema.Symbol][]schema.Quote)
	if err := e.startDay(ctx); err != nil {
		logs.Errorf("day reset: %v", err)
	}
}

func (e *Engine) inWindow() bool {
	if len(e.cfg.Windows) == 0 {
		return true
	}
	now := e.cfg.Now()
	for _, w := range e.cfg.Windows {
		if w.Contains(now) {
			return true
		}
	}
	return false
}

// Drain publishes Stop, waits for in-flight orders to resolve and then
// closes the queue. Bounded by the context.
func (e *Engine) Drain(ctx context.Context) {
	if err := e.cfg.Queue.Publish(ctx, bus.Stop{}); err != nil {
		logs.Warnf("publish stop: %v", err)
	}

	done := make(chan struct{})
	go func() {
		e.cfg.Executor.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logs.Warnf("drain timed out with %d open orders", e.cfg.Executor.OpenCount())
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for e.cfg.Executor.OpenCount() > 0 {
		select {
		case <-ctx.Done():
			e.cfg.Queue.Close()
			return
		case <-ticker.C:
		}
	}
	e.cfg.Queue.Close()
}
