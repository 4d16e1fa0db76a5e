package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/bus"
	"main/internal/ingest"
	"main/internal/obs"
	"main/internal/og"
	"main/internal/ops"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/state"
	"main/pkg/backoff"
)

// scriptedStrategy buys the pool symbol when the price reaches buyAt
// and sells everything when it falls to sellAt.
type scriptedStrategy struct {
	mu     sync.Mutex
	pool   []schema.Symbol
	buyAt  schema.Price
	sellAt schema.Price
	qty    schema.Quantity
	bought bool
}

func (s *scriptedStrategy) SelectBuyPool(ctx context.Context) ([]schema.Symbol, error) {
	return s.pool, nil
}

func (s *scriptedStrategy) SelectSellPool(ctx context.Context, held []schema.Symbol) []schema.Symbol {
	return held
}

func (s *scriptedStrategy) BuySignal(symbol schema.Symbol, ticks []schema.Quote) (schema.OrderIntent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := ticks[len(ticks)-1].Last
	if s.bought || last < s.buyAt {
		return schema.OrderIntent{}, false
	}
	s.bought = true
	return schema.OrderIntent{Symbol: symbol, Side: schema.SideBuy, Qty: s.qty, Price: last, Signal: "scripted"}, true
}

func (s *scriptedStrategy) SellSignal(symbol schema.Symbol, ticks []schema.Quote, pos state.Position) (schema.OrderIntent, bool) {
	last := ticks[len(ticks)-1].Last
	if s.sellAt <= 0 || last > s.sellAt {
		return schema.OrderIntent{}, false
	}
	available := pos.Held - pos.PendingSell
	if available <= 0 {
		return schema.OrderIntent{}, false
	}
	return schema.OrderIntent{Symbol: symbol, Side: schema.SideSell, Qty: available, Price: last, Signal: "scripted"}, true
}

func (s *scriptedStrategy) ResetDay() {
	s.mu.Lock()
	s.bought = false
	s.mu.Unlock()
}

type fixture struct {
	queue   *bus.Queue
	feed    *ingest.SimFeed
	ledger  *state.Ledger
	exec    *og.Executor
	metrics *obs.Metrics
	engine  *Engine
	cancel  context.CancelFunc
	done    chan error
}

func startEngine(t *testing.T, strat *scriptedStrategy, limits schema.RiskLimits, windows []ops.Window, now func() time.Time) *fixture {
	t.Helper()

	queue := bus.NewQueue(1024)
	feed := ingest.NewSimFeed()
	ledger := state.NewLedger()
	metrics := obs.NewMetrics()
	broker := og.NewSimBroker(og.SimConfig{AutoFill: true}, queue)
	exec := og.NewExecutor(og.Config{
		MaxAttempts:   2,
		SubmitTimeout: time.Second,
		Backoff:       backoff.Policy{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2},
		Metrics:       metrics,
	}, broker, queue, ledger)

	engine, err := NewEngine(Config{
		Queue:    queue,
		Board:    ingest.NewBoard(),
		Feed:     feed,
		Gate:     risk.NewGate(limits),
		Executor: exec,
		Ledger:   ledger,
		Strategy: strat,
		Metrics:  metrics,
		Windows:  windows,
		Now:      now,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	f := &fixture{queue: queue, feed: feed, ledger: ledger, exec: exec, metrics: metrics, engine: engine, cancel: cancel, done: done}
	t.Cleanup(func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer drainCancel()
		engine.Drain(drainCtx)
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	})
	return f
}

func wideLimits() schema.RiskLimits {
	return schema.RiskLimits{
		MaxPortfolioValue:   100_000_000,
		MaxBuyValuePerDay:   100_000_000,
		MaxBuyValuePerStock: 100_000_000,
	}
}

func push(f *fixture, sym string, last schema.Price, ts int64) {
	f.feed.Push(schema.Quote{Symbol: schema.Symbol(sym), Last: last, Ts: ts})
}

func TestEngineBuysOnSignal(t *testing.T) {
	strat := &scriptedStrategy{pool: []schema.Symbol{"600000"}, buyAt: 1100, qty: 1000}
	f := startEngine(t, strat, wideLimits(), nil, nil)

	push(f, "600000", 1000, 1)
	// wait for the first tick to drain off the board; pushing again
	// while it is pending would coalesce the two quotes into one tick
	require.Eventually(t, func() bool {
		return f.metrics.Snapshot().Ticks >= 1
	}, 3*time.Second, 10*time.Millisecond, "first tick should be processed")
	push(f, "600000", 1100, 2)

	require.Eventually(t, func() bool {
		return f.ledger.Snapshot("600000").Position.Held == 1000
	}, 3*time.Second, 10*time.Millisecond, "buy order should fill")

	snap := f.ledger.Snapshot("600000")
	assert.Equal(t, schema.Notional(1_100_000), snap.SpentToday)
	assert.Equal(t, schema.Price(1100), snap.Position.AvgCost)

	m := f.metrics.Snapshot()
	assert.GreaterOrEqual(t, m.Ticks, uint64(2))
	assert.Equal(t, uint64(1), m.VerdictAllows)
}

func TestEngineSellsBeforeBuys(t *testing.T) {
	strat := &scriptedStrategy{pool: []schema.Symbol{"600000"}, buyAt: 1100, sellAt: 900, qty: 500}
	f := startEngine(t, strat, wideLimits(), nil, nil)

	push(f, "600000", 1100, 1)
	require.Eventually(t, func() bool {
		return f.ledger.Snapshot("600000").Position.Held == 500
	}, 3*time.Second, 10*time.Millisecond)

	push(f, "600000", 880, 2)
	require.Eventually(t, func() bool {
		return f.ledger.Snapshot("600000").Position.Held == 0
	}, 3*time.Second, 10*time.Millisecond, "sell should flatten the position")

	assert.Equal(t, schema.Notional(0), f.ledger.PortfolioValue())
}

func TestEngineIgnoresSymbolsOutsidePool(t *testing.T) {
	strat := &scriptedStrategy{pool: []schema.Symbol{"600000"}, buyAt: 1, qty: 100}
	f := startEngine(t, strat, wideLimits(), nil, nil)

	// not in the pool, the sim feed drops it at subscription level
	push(f, "600519", 5000, 1)
	push(f, "600000", 1000, 2)

	require.Eventually(t, func() bool {
		return f.ledger.Snapshot("600000").Position.Held == 100
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, schema.Quantity(0), f.ledger.Snapshot("600519").Position.Held)
}

func TestEngineRespectsTradingWindows(t *testing.T) {
	windows := []ops.Window{{OpenMin: 9*60 + 30, CloseMin: 11*60 + 30}}
	lunch := time.Date(2026, 8, 26, 12, 0, 0, 0, time.Local)
	strat := &scriptedStrategy{pool: []schema.Symbol{"600000"}, buyAt: 1, qty: 100}
	f := startEngine(t, strat, wideLimits(), windows, func() time.Time { return lunch })

	push(f, "600000", 1000, 1)

	require.Eventually(t, func() bool {
		return f.metrics.Snapshot().Ticks >= 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(0), f.metrics.Snapshot().Signals)
	assert.Equal(t, 0, f.exec.OpenCount())
}

func TestEngineRejectsOverCap(t *testing.T) {
	limits := wideLimits()
	limits.MaxPortfolioValue = 1 // nothing fits
	strat := &scriptedStrategy{pool: []schema.Symbol{"600000"}, buyAt: 1, qty: 100}
	f := startEngine(t, strat, limits, nil, nil)

	push(f, "600000", 1000, 1)

	require.Eventually(t, func() bool {
		return f.metrics.Snapshot().VerdictRejects >= 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, schema.Quantity(0), f.ledger.Snapshot("600000").Position.Held)
	assert.Contains(t, f.metrics.Snapshot().RejectReasons, "PORTFOLIO_CAP_EXCEEDED")
}

func TestEngineStopsAllSubmissionsAfterStop(t *testing.T) {
	strat := &scriptedStrategy{pool: []schema.Symbol{"600000"}, buyAt: 1100, sellAt: 900, qty: 500}
	f := startEngine(t, strat, wideLimits(), nil, nil)

	push(f, "600000", 1100, 1)
	require.Eventually(t, func() bool {
		return f.ledger.Snapshot("600000").Position.Held == 500
	}, 3*time.Second, 10*time.Millisecond)

	ticksBefore := f.metrics.Snapshot().Ticks

	// Stop is queued ahead of the straggler tick, so the loop marks
	// itself stopping before the tick is handled. The tick would fire
	// the sell and must not reach the executor.
	require.NoError(t, f.queue.TryPublish(bus.Stop{}))
	f.engine.cfg.Board.Put(schema.Quote{Symbol: "600000", Last: 880, Ts: 2})
	require.NoError(t, f.queue.TryPublish(bus.TickArrived{Symbol: "600000"}))

	require.Eventually(t, func() bool {
		return f.metrics.Snapshot().Ticks > ticksBefore
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, f.exec.OpenCount())
	assert.Equal(t, schema.Quantity(500), f.ledger.Snapshot("600000").Position.Held)
	assert.Equal(t, schema.Quantity(0), f.ledger.Snapshot("600000").Position.PendingSell)
}

func TestEngineDayResetRebuildsPools(t *testing.T) {
	strat := &scriptedStrategy{pool: []schema.Symbol{"600000"}, buyAt: 1100, qty: 500}
	f := startEngine(t, strat, wideLimits(), nil, nil)

	push(f, "600000", 1100, 1)
	require.Eventually(t, func() bool {
		return f.ledger.Snapshot("600000").Position.Held == 500
	}, 3*time.Second, 10*time.Millisecond)
	spent := f.ledger.SpentToday()
	require.Greater(t, int64(spent), int64(0))

	require.NoError(t, f.queue.TryPublish(bus.DayReset{}))
	require.Eventually(t, func() bool {
		return f.ledger.SpentToday() == 0
	}, 3*time.Second, 10*time.Millisecond, "day reset should clear counters")

	// position carries over and the strategy may buy again
	assert.Equal(t, schema.Quantity(500), f.ledger.Snapshot("600000").Position.Held)
	push(f, "600000", 1100, 2)
	require.Eventually(t, func() bool {
		return f.ledger.Snapshot("600000").Position.Held == 1000
	}, 3*time.Second, 10*time.Millisecond)
}
