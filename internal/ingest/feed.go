package ingest

import (
	"context"
	"sync"

	"main/internal/schema"
)

// Feed is the market data capability interface. A feed delivers
// normalized quotes for subscribed symbols to the handler passed to
// Run; delivery order is per-symbol monotonic but otherwise unordered.
type Feed interface {
	Subscribe(ctx context.Context, symbols []schema.Symbol) error
	Unsubscribe(ctx context.Context, symbols []schema.Symbol) error
	Run(ctx context.Context, handler func(schema.Quote)) error
	Close() error
}

// Board coalesces inbound ticks to latest-value-wins per symbol. Ticks
// arriving faster than the engine processes them overwrite the pending
// value instead of queueing, which bounds memory and keeps the engine
// from acting on stale prices.
type Board struct {
	mu      sync.Mutex
	latest  map[schema.Symbol]schema.Quote
	pending map[schema.Symbol]bool
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{
		latest:  make(map[schema.Symbol]schema.Quote),
		pending: make(map[schema.Symbol]bool),
	}
}

// Put stores the quote if it is not older than the one already held.
// It returns true when no tick for the symbol is currently awaiting
// processing, i.e. the caller should enqueue a tick notice.
func (b *Board) Put(q schema.Quote) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if held, ok := b.latest[q.Symbol]; ok && !q.Newer(held) {
		return false
	}
	b.latest[q.Symbol] = q
	if b.pending[q.Symbol] {
		return false
	}
	b.pending[q.Symbol] = true
	return true
}

// Take returns the latest quote for the symbol and clears its pending
// mark. ok is false when no quote has ever arrived.
func (b *Board) Take(symbol schema.Symbol) (schema.Quote, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[symbol] = false
	q, ok := b.latest[symbol]
	return q, ok
}

// Last peeks at the latest quote without touching the pending mark.
func (b *Board) Last(symbol schema.Symbol) (schema.Quote, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.latest[symbol]
	return q, ok
}
