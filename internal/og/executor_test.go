package og

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/schema"
	"main/internal/state"
	"main/pkg/backoff"
)

// stubBroker answers Submit synchronously and never calls back.
type stubBroker struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubBroker) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return fmt.Sprintf("B-%d", s.calls), nil
}

func (s *stubBroker) Cancel(ctx context.Context, clientID string) error { return nil }

func (s *stubBroker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func testConfig() Config {
	return Config{
		MaxAttempts:   3,
		SubmitTimeout: time.Second,
		Backoff:       backoff.Policy{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
	}
}

func buyIntent() schema.OrderIntent {
	return schema.OrderIntent{Symbol: "600000", Side: schema.SideBuy, Qty: 1000, Price: 1000, Signal: "board_hitting"}
}

// drainSubmits waits out the submission goroutines and feeds their
// results back into the executor, like the engine loop would.
func drainSubmits(e *Executor, q *bus.Queue) {
	e.Wait()
	q.Close()
	q.Run(context.Background(), func(ev bus.Event) {
		if sr, ok := ev.(bus.SubmitResult); ok {
			e.HandleSubmitResult(sr)
		}
	})
}

func TestBeginReservesAndRecordsBrokerID(t *testing.T) {
	q := bus.NewQueue(16)
	ledger := state.NewLedger()
	e := NewExecutor(testConfig(), &stubBroker{}, q, ledger)

	ord := e.Begin(context.Background(), buyIntent(), 1000)
	require.Equal(t, schema.OrderStateSubmitted, ord.State)
	assert.Equal(t, 1, e.OpenCount())

	snap := ledger.Snapshot("600000")
	assert.Equal(t, schema.Quantity(1000), snap.Position.PendingBuy)
	assert.Equal(t, schema.Notional(1_000_000), snap.SpentToday)

	drainSubmits(e, q)
	got, ok := e.Order(ord.ID)
	require.True(t, ok)
	assert.Equal(t, "B-1", got.BrokerID)
	assert.Equal(t, schema.OrderStateSubmitted, got.State)
}

func TestRetryExhaustionAbandonsAndReleases(t *testing.T) {
	q := bus.NewQueue(16)
	ledger := state.NewLedger()
	broker := &stubBroker{err: fmt.Errorf("connection reset")}
	e := NewExecutor(testConfig(), broker, q, ledger)

	ord := e.Begin(context.Background(), buyIntent(), 1000)
	drainSubmits(e, q)

	got, ok := e.Order(ord.ID)
	require.True(t, ok)
	assert.Equal(t, schema.OrderStateAbandoned, got.State)
	assert.Equal(t, 3, broker.callCount())
	assert.Equal(t, 0, e.OpenCount())

	// no pending exposure survives an abandoned order
	snap := ledger.Snapshot("600000")
	assert.Equal(t, schema.Quantity(0), snap.Position.PendingBuy)
	assert.Equal(t, schema.Notional(0), snap.PortfolioValue)
	// the daily counter stays where acceptance put it
	assert.Equal(t, schema.Notional(1_000_000), snap.SpentToday)
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	q := bus.NewQueue(16)
	ledger := state.NewLedger()
	broker := &stubBroker{err: Permanent("invalid symbol")}
	e := NewExecutor(testConfig(), broker, q, ledger)

	ord := e.Begin(context.Background(), buyIntent(), 1000)
	drainSubmits(e, q)

	got, _ := e.Order(ord.ID)
	assert.Equal(t, schema.OrderStateRejected, got.State)
	assert.Equal(t, 1, broker.callCount())
	assert.Equal(t, schema.Quantity(0), ledger.Snapshot("600000").Position.PendingBuy)
}

func TestPartialFillsAccumulate(t *testing.T) {
	q := bus.NewQueue(16)
	ledger := state.NewLedger()
	e := NewExecutor(testConfig(), &stubBroker{}, q, ledger)

	ord := e.Begin(context.Background(), buyIntent(), 1000)
	drainSubmits(e, q)
	e.HandleAccepted(bus.BrokerAccepted{OrderID: ord.ID})

	e.HandleFilled(bus.BrokerFilled{OrderID: ord.ID, Qty: 400, Price: 900})
	got, _ := e.Order(ord.ID)
	require.Equal(t, schema.OrderStatePartFilled, got.State)
	assert.Equal(t, schema.Quantity(600), got.LeavesQty)

	e.HandleFilled(bus.BrokerFilled{OrderID: ord.ID, Qty: 600, Price: 1000})
	got, _ = e.Order(ord.ID)
	require.Equal(t, schema.OrderStateFilled, got.State)
	assert.Equal(t, schema.Quantity(1000), got.FilledQty)
	// (400*900 + 600*1000) / 1000
	assert.Equal(t, schema.Price(960), got.AvgFill)
	assert.Equal(t, 0, e.OpenCount())

	snap := ledger.Snapshot("600000")
	assert.Equal(t, schema.Quantity(1000), snap.Position.Held)
}

func TestDuplicateCallbacksAreIdempotent(t *testing.T) {
	q := bus.NewQueue(16)
	ledger := state.NewLedger()
	e := NewExecutor(testConfig(), &stubBroker{}, q, ledger)

	ord := e.Begin(context.Background(), buyIntent(), 1000)
	drainSubmits(e, q)
	e.HandleAccepted(bus.BrokerAccepted{OrderID: ord.ID})
	e.HandleFilled(bus.BrokerFilled{OrderID: ord.ID, Qty: 1000, Price: 1000})

	before, _ := e.Order(ord.ID)
	snapBefore := ledger.Snapshot("600000")

	// replays of every callback land on a terminal order
	e.HandleFilled(bus.BrokerFilled{OrderID: ord.ID, Qty: 1000, Price: 1000})
	e.HandleAccepted(bus.BrokerAccepted{OrderID: ord.ID})
	e.HandleCancelled(bus.BrokerCancelled{OrderID: ord.ID})
	e.HandleRejected(bus.BrokerRejected{OrderID: ord.ID, Reason: "dup"})

	after, _ := e.Order(ord.ID)
	assert.Equal(t, before, after)
	assert.Equal(t, snapBefore, ledger.Snapshot("600000"))
}

func TestFillBeforeAckImpliesAcceptance(t *testing.T) {
	q := bus.NewQueue(16)
	ledger := state.NewLedger()
	e := NewExecutor(testConfig(), &stubBroker{}, q, ledger)

	ord := e.Begin(context.Background(), buyIntent(), 1000)
	drainSubmits(e, q)
	got, _ := e.Order(ord.ID)
	require.Equal(t, schema.OrderStateSubmitted, got.State)

	// the broker's fill overtook its ack: the fill implies acceptance
	e.HandleFilled(bus.BrokerFilled{OrderID: ord.ID, Qty: 400, Price: 1000})
	got, _ = e.Order(ord.ID)
	assert.Equal(t, schema.OrderStatePartFilled, got.State)
	assert.Equal(t, schema.Quantity(400), ledger.Snapshot("600000").Position.Held)

	// the late ack must not regress the state
	e.HandleAccepted(bus.BrokerAccepted{OrderID: ord.ID})
	got, _ = e.Order(ord.ID)
	assert.Equal(t, schema.OrderStatePartFilled, got.State)

	e.HandleFilled(bus.BrokerFilled{OrderID: ord.ID, Qty: 600, Price: 1000})
	got, _ = e.Order(ord.ID)
	assert.Equal(t, schema.OrderStateFilled, got.State)
	assert.Equal(t, 0, e.OpenCount())
}

func TestOverfillIsDropped(t *testing.T) {
	q := bus.NewQueue(16)
	ledger := state.NewLedger()
	e := NewExecutor(testConfig(), &stubBroker{}, q, ledger)

	ord := e.Begin(context.Background(), buyIntent(), 1000)
	drainSubmits(e, q)
	e.HandleFilled(bus.BrokerFilled{OrderID: ord.ID, Qty: 1500, Price: 1000})

	got, _ := e.Order(ord.ID)
	assert.Equal(t, schema.Quantity(0), got.FilledQty)
	assert.Equal(t, schema.OrderStateSubmitted, got.State)
}

func TestCancelReleasesRemainder(t *testing.T) {
	q := bus.NewQueue(16)
	ledger := state.NewLedger()
	e := NewExecutor(testConfig(), &stubBroker{}, q, ledger)

	ord := e.Begin(context.Background(), buyIntent(), 1000)
	drainSubmits(e, q)
	e.HandleAccepted(bus.BrokerAccepted{OrderID: ord.ID})
	e.HandleFilled(bus.BrokerFilled{OrderID: ord.ID, Qty: 300, Price: 1000})
	e.HandleCancelled(bus.BrokerCancelled{OrderID: ord.ID})

	got, _ := e.Order(ord.ID)
	assert.Equal(t, schema.OrderStateCancelled, got.State)
	assert.Equal(t, schema.Quantity(0), got.LeavesQty)

	snap := ledger.Snapshot("600000")
	assert.Equal(t, schema.Quantity(300), snap.Position.Held)
	assert.Equal(t, schema.Quantity(0), snap.Position.PendingBuy)
	assert.Equal(t, schema.Notional(300_000), snap.PortfolioValue)
}

func TestUnknownOrderCallbacksIgnored(t *testing.T) {
	q := bus.NewQueue(16)
	e := NewExecutor(testConfig(), &stubBroker{}, q, state.NewLedger())
	e.HandleFilled(bus.BrokerFilled{OrderID: "missing", Qty: 100, Price: 100})
	e.HandleAccepted(bus.BrokerAccepted{OrderID: "missing"})
	assert.Equal(t, 0, e.OpenCount())
}

func TestSimBrokerFillsThroughQueue(t *testing.T) {
	q := bus.NewQueue(64)
	ledger := state.NewLedger()
	broker := NewSimBroker(SimConfig{AutoFill: true, FillChunks: 2}, q)
	e := NewExecutor(testConfig(), broker, q, ledger)

	ord := e.Begin(context.Background(), buyIntent(), 1000)

	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go q.Run(ctx, func(ev bus.Event) {
		switch v := ev.(type) {
		case bus.SubmitResult:
			e.HandleSubmitResult(v)
		case bus.BrokerAccepted:
			e.HandleAccepted(v)
		case bus.BrokerFilled:
			e.HandleFilled(v)
			if got, _ := e.Order(ord.ID); got.State == schema.OrderStateFilled {
				close(done)
			}
		}
	})

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for fills")
	}
	got, _ := e.Order(ord.ID)
	assert.Equal(t, schema.Quantity(1000), got.FilledQty)
	assert.Equal(t, schema.Price(1000), got.AvgFill)
	assert.Equal(t, schema.Quantity(1000), ledger.Snapshot("600000").Position.Held)
}
