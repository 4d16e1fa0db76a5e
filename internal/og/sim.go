package og

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/bus"
	"main/internal/schema"
)

// SimConfig controls the simulated broker used for paper trading and
// tests.
type SimConfig struct {
	// AckDelay and FillDelay pace the callbacks; zero means immediate.
	AckDelay  time.Duration
	FillDelay time.Duration
	// FillChunks splits the fill into n partial fills (default 1).
	FillChunks int
	// AutoFill drives accepted orders straight to filled at the
	// requested price. Disable to leave orders open.
	AutoFill bool
	// FailSubmits makes the first n Submit calls fail transiently.
	FailSubmits int
	// HardReject maps symbols to a permanent rejection reason.
	HardReject map[schema.Symbol]string
}

// SimBroker is an in-process broker session: orders are acknowledged
// and filled at their requested price, with callbacks re-entering the
// engine through the event queue like a real gateway's would.
type SimBroker struct {
	cfg   SimConfig
	queue *bus.Queue

	mu       sync.Mutex
	nextID   int64
	failLeft int
}

// NewSimBroker creates a simulated broker publishing into queue.
func NewSimBroker(cfg SimConfig, queue *bus.Queue) *SimBroker {
	if cfg.FillChunks <= 0 {
		cfg.FillChunks = 1
	}
	return &SimBroker{cfg: cfg, queue: queue, failLeft: cfg.FailSubmits}
}

// Submit implements Broker.
func (b *SimBroker) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	b.mu.Lock()
	if b.failLeft > 0 {
		b.failLeft--
		b.mu.Unlock()
		return "", errors.New("sim broker: connection timed out")
	}
	if reason, ok := b.cfg.HardReject[req.Symbol]; ok {
		b.mu.Unlock()
		return "", Permanent(reason)
	}
	b.nextID++
	brokerID := fmt.Sprintf("SIM-%d", b.nextID)
	b.mu.Unlock()

	go b.acknowledge(req)
	return brokerID, nil
}

// Cancel implements Broker.
func (b *SimBroker) Cancel(ctx context.Context, clientID string) error {
	return b.queue.Publish(ctx, bus.BrokerCancelled{OrderID: clientID})
}

func (b *SimBroker) acknowledge(req SubmitRequest) {
	ctx := context.Background()
	if b.cfg.AckDelay > 0 {
		time.Sleep(b.cfg.AckDelay)
	}
	if err := b.queue.Publish(ctx, bus.BrokerAccepted{OrderID: req.ClientID}); err != nil {
		return
	}
	if !b.cfg.AutoFill {
		return
	}

	chunks := b.cfg.FillChunks
	remaining := req.Qty
	for i := 0; i < chunks && remaining > 0; i++ {
		if b.cfg.FillDelay > 0 {
			time.Sleep(b.cfg.FillDelay)
		}
		qty := remaining / schema.Quantity(chunks-i)
		if qty <= 0 || i == chunks-1 {
			qty = remaining
		}
		remaining -= qty
		if err := b.queue.Publish(ctx, bus.BrokerFilled{
			OrderID: req.ClientID,
			Qty:     qty,
			Price:   req.Price,
		}); err != nil {
			return
		}
	}
}
