package obs

import (
	"sync/atomic"
	"time"

	"main/internal/schema"
)

const maxRejectReason = int(schema.ReasonPortfolioCap)

// Metrics collects lightweight counters and latency stats for the
// event loop, the risk gate and the order path.
type Metrics struct {
	ticks        uint64
	signals      uint64
	verdictAllow uint64
	verdictShrnk uint64
	verdictRejct uint64
	reasonCounts [maxRejectReason + 1]uint64

	queueDrops    uint64
	queueClosed   uint64
	submitRetries uint64
	ordersOpened  uint64
	ordersClosed  uint64

	loopLatency      LatencyStats
	orderFlowLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Ticks            uint64
	Signals          uint64
	VerdictAllows    uint64
	VerdictShrinks   uint64
	VerdictRejects   uint64
	RejectReasons    map[string]uint64
	QueueDrops       uint64
	QueueClosed      uint64
	SubmitRetries    uint64
	OrdersOpened     uint64
	OrdersClosed     uint64
	LoopLatency      LatencySnapshot
	OrderFlowLatency LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncTick records a processed market tick.
func (m *Metrics) IncTick() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ticks, 1)
}

// IncSignal records a strategy intent reaching the risk gate.
func (m *Metrics) IncSignal() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.signals, 1)
}

// ObserveVerdict counts the gate outcome and its reason.
func (m *Metrics) ObserveVerdict(v schema.Verdict) {
	if m == nil {
		return
	}
	switch v.Action {
	case schema.VerdictAllow:
		atomic.AddUint64(&m.verdictAllow, 1)
	case schema.VerdictShrink:
		atomic.AddUint64(&m.verdictShrnk, 1)
	case schema.VerdictReject:
		atomic.AddUint64(&m.verdictRejct, 1)
	}
	idx := int(v.Reason)
	if idx > 0 && idx < len(m.reasonCounts) {
		atomic.AddUint64(&m.reasonCounts[idx], 1)
	}
}

// IncQueueDrop records a coalesced or dropped queue publish.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records a publish attempt against a closed queue.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// IncSubmitRetry records a broker submission retry.
func (m *Metrics) IncSubmitRetry() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.submitRetries, 1)
}

// IncOrderOpened records an order entering the open set.
func (m *Metrics) IncOrderOpened() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersOpened, 1)
}

// IncOrderClosed records an order reaching a terminal state.
func (m *Metrics) IncOrderClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersClosed, 1)
}

// ObserveLoop measures a single event-loop iteration.
func (m *Metrics) ObserveLoop(d time.Duration) {
	if m == nil {
		return
	}
	m.loopLatency.Observe(d)
}

// ObserveOrderFlow measures signal-to-terminal order latency.
func (m *Metrics) ObserveOrderFlow(d time.Duration) {
	if m == nil {
		return
	}
	m.orderFlowLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	reasons := make(map[string]uint64)
	for i := 1; i < len(m.reasonCounts); i++ {
		if v := atomic.LoadUint64(&m.reasonCounts[i]); v > 0 {
			reasons[schema.RejectReason(i).String()] = v
		}
	}
	return Snapshot{
		Ticks:            atomic.LoadUint64(&m.ticks),
		Signals:          atomic.LoadUint64(&m.signals),
		VerdictAllows:    atomic.LoadUint64(&m.verdictAllow),
		VerdictShrinks:   atomic.LoadUint64(&m.verdictShrnk),
		VerdictRejects:   atomic.LoadUint64(&m.verdictRejct),
		RejectReasons:    reasons,
		QueueDrops:       atomic.LoadUint64(&m.queueDrops),
		QueueClosed:      atomic.LoadUint64(&m.queueClosed),
		SubmitRetries:    atomic.LoadUint64(&m.submitRetries),
		OrdersOpened:     atomic.LoadUint64(&m.ordersOpened),
		OrdersClosed:     atomic.LoadUint64(&m.ordersClosed),
		LoopLatency:      m.loopLatency.Snapshot(),
		OrderFlowLatency: m.orderFlowLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
