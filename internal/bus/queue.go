package bus

import (
	"context"
	"sync/atomic"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Event is one unit on the engine's serialized queue. Exactly one of
// the payload variants below implements it.
type Event interface {
	event()
}

// TickArrived signals that a fresh quote is waiting on the coalescing
// board for the symbol. It carries no price: the handler reads the
// latest value at processing time.
type TickArrived struct {
	Symbol schema.Symbol
}

// SubmitResult re-enters the loop after an out-of-band broker
// submission attempt concludes.
type SubmitResult struct {
	OrderID  string
	BrokerID string
	Err      error
}

// BrokerAccepted is the broker's acknowledgement callback.
type BrokerAccepted struct {
	OrderID string
}

// BrokerRejected is the broker's rejection callback.
type BrokerRejected struct {
	OrderID string
	Reason  string
}

// BrokerFilled is a (possibly partial) fill callback.
type BrokerFilled struct {
	OrderID string
	Qty     schema.Quantity
	Price   schema.Price
}

// BrokerCancelled is the broker's cancel callback.
type BrokerCancelled struct {
	OrderID string
}

// DayReset clears daily counters at a session boundary.
type DayReset struct{}

// Stop asks the engine to stop submitting and drain in-flight orders.
type Stop struct{}

func (TickArrived) event()     {}
func (SubmitResult) event()    {}
func (BrokerAccepted) event()  {}
func (BrokerRejected) event()  {}
func (BrokerFilled) event()    {}
func (BrokerCancelled) event() {}
func (DayReset) event()        {}
func (Stop) event()            {}

// Queue is a bounded, non-blocking event queue with a single consumer.
// The event channel itself is never closed; Close signals through a
// separate done channel, so a publisher racing Close can never panic
// on a send to a closed channel.
type Queue struct {
	ch     chan Event
	done   chan struct{}
	closed atomic.Bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan Event, capacity),
		done: make(chan struct{}),
	}
}

// TryPublish enqueues an event without blocking.
func (q *Queue) TryPublish(e Event) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Publish enqueues an event, blocking until there is room, the queue
// closes or the context is done. Broker callbacks use it so
// acknowledgements are never dropped under burst.
func (q *Queue) Publish(ctx context.Context, e Event) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- e:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the queue from accepting new events.
func (q *Queue) Close() {
	if q.closed.CompareAndSwap(false, true) {
		close(q.done)
	}
}

// Run consumes events until the context is done or the queue is
// closed. Events already buffered when Close lands are still handled.
func (q *Queue) Run(ctx context.Context, handler func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-q.ch:
			handler(e)
		case <-q.done:
			for {
				select {
				case e := <-q.ch:
					handler(e)
				default:
					return
				}
			}
		}
	}
}
