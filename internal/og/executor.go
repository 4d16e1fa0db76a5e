package og

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/journal"
	"main/internal/obs"
	"main/internal/schema"
	"main/internal/state"
	"main/pkg/backoff"
	"main/pkg/id"
)

// Config controls submission retry behavior and optional recording.
type Config struct {
	MaxAttempts   int
	SubmitTimeout time.Duration
	Backoff       backoff.Policy
	Metrics       *obs.Metrics
	Journal       *journal.Journal
}

// DefaultConfig returns the retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		SubmitTimeout: 3 * time.Second,
		Backoff:       backoff.Default(),
	}
}

// Executor owns the order lifecycle: it converts an approved intent
// into a broker order, dispatches the submission off the engine loop,
// and reconciles acknowledgement, fill and cancel callbacks back into
// the ledger. All Handle* methods run on the engine loop; the lock only
// guards reads from the status server.
type Executor struct {
	cfg    Config
	broker Broker
	queue  *bus.Queue
	ledger *state.Ledger

	mu     sync.RWMutex
	orders map[string]*schema.Order
	open   int // non-terminal order count, for drain

	wg sync.WaitGroup
}

// NewExecutor creates an executor bound to one broker session.
func NewExecutor(cfg Config, broker Broker, queue *bus.Queue, ledger *state.Ledger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 3 * time.Second
	}
	return &Executor{
		cfg:    cfg,
		broker: broker,
		queue:  queue,
		ledger: ledger,
		orders: make(map[string]*schema.Order),
	}
}

// Begin accepts an approved intent: reserves its exposure in the
// ledger, records the order as submitted and dispatches the broker
// call out-of-band so the engine loop never blocks on the wire.
func (e *Executor) Begin(ctx context.Context, intent schema.OrderIntent, qty schema.Quantity) *schema.Order {
	ord := &schema.Order{
		ID:        id.New(),
		Symbol:    intent.Symbol,
		Side:      intent.Side,
		Qty:       qty,
		LeavesQty: qty,
		Price:     intent.Price,
		State:     schema.OrderStateProposed,
		Signal:    intent.Signal,
		CreatedAt: time.Now().UTC().UnixNano(),
	}

	e.ledger.Apply(state.Event{
		Kind:   state.EventAccepted,
		Symbol: ord.Symbol,
		Side:   ord.Side,
		Qty:    ord.Qty,
		Price:  ord.Price,
	})

	e.mu.Lock()
	ord.State = schema.OrderStateSubmitted
	e.orders[ord.ID] = ord
	e.open++
	e.mu.Unlock()

	req := SubmitRequest{
		ClientID: ord.ID,
		Symbol:   ord.Symbol,
		Side:     ord.Side,
		Qty:      ord.Qty,
		Price:    ord.Price,
	}
	e.wg.Add(1)
	go e.submit(ctx, req)

	e.cfg.Metrics.IncOrderOpened()
	e.record(*ord)
	logs.Infof("order submitted: id=%s %s %s qty=%d price=%d signal=%s",
		ord.ID, ord.Side, ord.Symbol, ord.Qty, ord.Price, ord.Signal)
	return ord
}

// record persists the order row when a journal is configured.
func (e *Executor) record(ord schema.Order) {
	if e.cfg.Journal == nil {
		return
	}
	if err := e.cfg.Journal.RecordOrder(ord); err != nil {
		logs.Errorf("journal order %s: %v", ord.ID, err)
	}
}

func (e *Executor) submit(ctx context.Context, req SubmitRequest) {
	defer e.wg.Done()

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
		brokerID, err := e.broker.Submit(cctx, req)
		cancel()
		if err == nil {
			_ = e.queue.Publish(ctx, bus.SubmitResult{OrderID: req.ClientID, BrokerID: brokerID})
			return
		}
		lastErr = err
		if IsPermanent(err) {
			break
		}
		logs.Warnf("order submit attempt %d/%d failed: id=%s err=%v",
			attempt, e.cfg.MaxAttempts, req.ClientID, err)
		if attempt == e.cfg.MaxAttempts {
			break
		}
		e.cfg.Metrics.IncSubmitRetry()
		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = e.cfg.MaxAttempts
		case <-time.After(e.cfg.Backoff.Next(attempt)):
		}
	}
	_ = e.queue.Publish(ctx, bus.SubmitResult{OrderID: req.ClientID, Err: lastErr})
}

// HandleSubmitResult resolves the out-of-band submission attempt. A
// failed submission, retries exhausted, abandons the order and releases
// its reserved exposure.
func (e *Executor) HandleSubmitResult(ev bus.SubmitResult) {
	ord, ok := e.lookup(ev.OrderID)
	if !ok {
		logs.Warnf("submit result for unknown order %s, ignored", ev.OrderID)
		return
	}
	if ord.State.Terminal() {
		logs.Warnf("submit result for terminal order %s (%s), ignored", ord.ID, ord.State)
		return
	}
	if ev.Err == nil {
		e.mu.Lock()
		ord.BrokerID = ev.BrokerID
		e.mu.Unlock()
		e.record(*ord)
		return
	}

	logs.Errorf("order abandoned after %d attempts: id=%s err=%v", e.cfg.MaxAttempts, ord.ID, ev.Err)
	if IsPermanent(ev.Err) {
		e.resolve(ord, schema.OrderStateRejected)
		return
	}
	e.resolve(ord, schema.OrderStateAbandoned)
}

// HandleAccepted applies the broker acknowledgement.
func (e *Executor) HandleAccepted(ev bus.BrokerAccepted) {
	ord, ok := e.lookup(ev.OrderID)
	if !ok {
		logs.Warnf("ack for unknown order %s, ignored", ev.OrderID)
		return
	}
	if ord.State.Terminal() {
		logs.Warnf("ack for terminal order %s (%s), ignored", ord.ID, ord.State)
		return
	}
	e.mu.Lock()
	if ord.State == schema.OrderStateSubmitted {
		ord.State = schema.OrderStateAccepted
	}
	e.mu.Unlock()
	e.record(*ord)
}

// HandleRejected applies a broker rejection and releases the unfilled
// remainder.
func (e *Executor) HandleRejected(ev bus.BrokerRejected) {
	ord, ok := e.lookup(ev.OrderID)
	if !ok {
		logs.Warnf("reject for unknown order %s, ignored", ev.OrderID)
		return
	}
	if ord.State.Terminal() {
		logs.Warnf("reject for terminal order %s (%s), ignored", ord.ID, ord.State)
		return
	}
	logs.Warnf("order rejected by broker: id=%s reason=%s", ord.ID, ev.Reason)
	e.resolve(ord, schema.OrderStateRejected)
}

// HandleFilled applies a fill callback. Fills for terminal orders and
// fills exceeding the open remainder are dropped.
func (e *Executor) HandleFilled(ev bus.BrokerFilled) {
	ord, ok := e.lookup(ev.OrderID)
	if !ok {
		logs.Warnf("fill for unknown order %s, ignored", ev.OrderID)
		return
	}
	if ord.State.Terminal() {
		logs.Warnf("fill for terminal order %s (%s), ignored", ord.ID, ord.State)
		return
	}
	if ev.Qty <= 0 || ev.Qty > ord.LeavesQty {
		logs.Warnf("fill qty %d out of range for order %s (leaves %d), ignored",
			ev.Qty, ord.ID, ord.LeavesQty)
		return
	}

	e.mu.Lock()
	// a fill arriving before the ack implies the broker accepted the
	// order; record the acceptance so the lifecycle never skips it
	if ord.State == schema.OrderStateSubmitted {
		ord.State = schema.OrderStateAccepted
		logs.Warnf("fill before ack for order %s, treating as accepted", ord.ID)
	}
	prevCost, _ := schema.Value(ord.AvgFill, ord.FilledQty)
	addCost, _ := schema.Value(ev.Price, ev.Qty)
	ord.FilledQty += ev.Qty
	ord.LeavesQty -= ev.Qty
	if ord.FilledQty > 0 {
		ord.AvgFill = schema.Price((int64(prevCost) + int64(addCost)) / int64(ord.FilledQty))
	}
	if ord.LeavesQty == 0 {
		ord.State = schema.OrderStateFilled
		e.open--
	} else {
		ord.State = schema.OrderStatePartFilled
	}
	e.mu.Unlock()

	e.ledger.Apply(state.Event{
		Kind:         state.EventFilled,
		Symbol:       ord.Symbol,
		Side:         ord.Side,
		Qty:          ev.Qty,
		Price:        ev.Price,
		ReservePrice: ord.Price,
	})
	e.record(*ord)
	if e.cfg.Journal != nil {
		if err := e.cfg.Journal.RecordFill(ord.ID, ord.Symbol, ord.Side, ev.Qty, ev.Price, time.Now().UTC().UnixNano()); err != nil {
			logs.Errorf("journal fill for %s: %v", ord.ID, err)
		}
	}
	if ord.State == schema.OrderStateFilled {
		e.cfg.Metrics.IncOrderClosed()
		e.cfg.Metrics.ObserveOrderFlow(time.Duration(time.Now().UTC().UnixNano() - ord.CreatedAt))
	}
	logs.Infof("order fill: id=%s %s %s qty=%d price=%d state=%s",
		ord.ID, ord.Side, ord.Symbol, ev.Qty, ev.Price, ord.State)
}

// HandleCancelled applies a broker cancel and releases the remainder.
func (e *Executor) HandleCancelled(ev bus.BrokerCancelled) {
	ord, ok := e.lookup(ev.OrderID)
	if !ok {
		logs.Warnf("cancel for unknown order %s, ignored", ev.OrderID)
		return
	}
	if ord.State.Terminal() {
		logs.Warnf("cancel for terminal order %s (%s), ignored", ord.ID, ord.State)
		return
	}
	e.resolve(ord, schema.OrderStateCancelled)
}

// resolve moves an order to a terminal non-filled state and releases
// the exposure still reserved for its unfilled remainder.
func (e *Executor) resolve(ord *schema.Order, terminal schema.OrderState) {
	e.mu.Lock()
	leaves := ord.LeavesQty
	ord.LeavesQty = 0
	ord.State = terminal
	e.open--
	e.mu.Unlock()

	e.record(*ord)
	e.cfg.Metrics.IncOrderClosed()
	e.cfg.Metrics.ObserveOrderFlow(time.Duration(time.Now().UTC().UnixNano() - ord.CreatedAt))

	if leaves <= 0 {
		return
	}
	kind := state.EventRejected
	if terminal == schema.OrderStateCancelled {
		kind = state.EventCancelled
	}
	e.ledger.Apply(state.Event{
		Kind:         kind,
		Symbol:       ord.Symbol,
		Side:         ord.Side,
		Qty:          leaves,
		ReservePrice: ord.Price,
	})
}

func (e *Executor) lookup(orderID string) (*schema.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ord, ok := e.orders[orderID]
	return ord, ok
}

// Order returns a copy of one order.
func (e *Executor) Order(orderID string) (schema.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if ord, ok := e.orders[orderID]; ok {
		return *ord, true
	}
	return schema.Order{}, false
}

// Orders returns copies of every tracked order.
func (e *Executor) Orders() []schema.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]schema.Order, 0, len(e.orders))
	for _, ord := range e.orders {
		out = append(out, *ord)
	}
	return out
}

// OpenCount returns the number of orders not yet terminal.
func (e *Executor) OpenCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.open
}

// Wait blocks until every dispatched submission goroutine has
// published its result.
func (e *Executor) Wait() {
	e.wg.Wait()
}
