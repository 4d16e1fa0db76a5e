package ingest

import (
	"context"
	"sync"

	"main/internal/schema"
)

// SimFeed is an in-process feed driven by Push, used for paper trading
// and tests. Quotes for unsubscribed symbols are dropped like a real
// feed would drop them.
type SimFeed struct {
	ch      chan schema.Quote
	closed  chan struct{}
	closeMu sync.Once

	mu         sync.Mutex
	subscribed map[schema.Symbol]struct{}
}

// NewSimFeed creates a sim feed with a small delivery buffer.
func NewSimFeed() *SimFeed {
	return &SimFeed{
		ch:         make(chan schema.Quote, 256),
		closed:     make(chan struct{}),
		subscribed: make(map[schema.Symbol]struct{}),
	}
}

// Push injects a quote. It blocks when the delivery buffer is full.
func (f *SimFeed) Push(q schema.Quote) {
	select {
	case f.ch <- q:
	case <-f.closed:
	}
}

// Subscribe implements Feed.
func (f *SimFeed) Subscribe(ctx context.Context, symbols []schema.Symbol) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		f.subscribed[s] = struct{}{}
	}
	return nil
}

// Unsubscribe implements Feed.
func (f *SimFeed) Unsubscribe(ctx context.Context, symbols []schema.Symbol) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range symbols {
		delete(f.subscribed, s)
	}
	return nil
}

// Run implements Feed.
func (f *SimFeed) Run(ctx context.Context, handler func(schema.Quote)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.closed:
			return nil
		case q := <-f.ch:
			f.mu.Lock()
			_, ok := f.subscribed[q.Symbol]
			f.mu.Unlock()
			if ok {
				handler(q)
			}
		}
	}
}

// Close implements Feed.
func (f *SimFeed) Close() error {
	f.closeMu.Do(func() { close(f.closed) })
	return nil
}
