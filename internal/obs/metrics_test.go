package obs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"main/internal/schema"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.IncTick()
	m.IncTick()
	m.IncSignal()
	m.IncQueueDrop()
	m.IncSubmitRetry()
	m.IncOrderOpened()
	m.IncOrderClosed()

	s := m.Snapshot()
	assert.Equal(t, uint64(2), s.Ticks)
	assert.Equal(t, uint64(1), s.Signals)
	assert.Equal(t, uint64(1), s.QueueDrops)
	assert.Equal(t, uint64(1), s.SubmitRetries)
	assert.Equal(t, uint64(1), s.OrdersOpened)
	assert.Equal(t, uint64(1), s.OrdersClosed)
}

func TestMetricsVerdictReasons(t *testing.T) {
	m := NewMetrics()
	m.ObserveVerdict(schema.Verdict{Action: schema.VerdictAllow, Qty: 100})
	m.ObserveVerdict(schema.Verdict{Action: schema.VerdictShrink, Qty: 50, Reason: schema.ReasonDailyCap})
	m.ObserveVerdict(schema.Verdict{Action: schema.VerdictReject, Reason: schema.ReasonNoHolding})
	m.ObserveVerdict(schema.Verdict{Action: schema.VerdictReject, Reason: schema.ReasonNoHolding})

	s := m.Snapshot()
	assert.Equal(t, uint64(1), s.VerdictAllows)
	assert.Equal(t, uint64(1), s.VerdictShrinks)
	assert.Equal(t, uint64(2), s.VerdictRejects)
	assert.Equal(t, uint64(2), s.RejectReasons["NO_HOLDING"])
	assert.Equal(t, uint64(1), s.RejectReasons["DAILY_CAP_EXCEEDED"])
}

func TestLatencyStats(t *testing.T) {
	var l LatencyStats
	l.Observe(10 * time.Millisecond)
	l.Observe(20 * time.Millisecond)
	l.Observe(30 * time.Millisecond)

	s := l.Snapshot()
	assert.Equal(t, uint64(3), s.Count)
	assert.Equal(t, 10*time.Millisecond, s.Min)
	assert.Equal(t, 30*time.Millisecond, s.Max)
	assert.Equal(t, 20*time.Millisecond, s.Avg)
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	m.IncTick()
	m.ObserveVerdict(schema.Verdict{})
	m.ObserveLoop(time.Millisecond)
	assert.Equal(t, Snapshot{}, m.Snapshot())
}
