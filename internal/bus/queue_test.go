package bus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryPublishFullQueue(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.TryPublish(TickArrived{Symbol: "600000"}))
	assert.Equal(t, ErrQueueFull, q.TryPublish(TickArrived{Symbol: "600519"}))
}

func TestPublishAfterCloseFails(t *testing.T) {
	q := NewQueue(4)
	q.Close()
	assert.Equal(t, ErrQueueClosed, q.TryPublish(Stop{}))
	assert.Equal(t, ErrQueueClosed, q.Publish(context.Background(), Stop{}))
}

func TestRunDrainsInOrder(t *testing.T) {
	q := NewQueue(8)
	require.NoError(t, q.TryPublish(TickArrived{Symbol: "a"}))
	require.NoError(t, q.TryPublish(TickArrived{Symbol: "b"}))
	require.NoError(t, q.TryPublish(DayReset{}))
	q.Close()

	var got []Event
	q.Run(context.Background(), func(ev Event) { got = append(got, ev) })

	require.Len(t, got, 3)
	assert.Equal(t, TickArrived{Symbol: "a"}, got[0])
	assert.Equal(t, TickArrived{Symbol: "b"}, got[1])
	assert.Equal(t, DayReset{}, got[2])
}

func TestRunStopsOnContext(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Run(ctx, func(Event) { t.Fatal("no event expected") })
}

func TestCloseUnblocksPendingPublish(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.TryPublish(Stop{}))

	done := make(chan error, 1)
	go func() {
		done <- q.Publish(context.Background(), DayReset{})
	}()

	q.Close()
	assert.Equal(t, ErrQueueClosed, <-done)
}

func TestConcurrentPublishAndClose(t *testing.T) {
	q := NewQueue(2)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				_ = q.TryPublish(TickArrived{Symbol: "600000"})
			}
		}()
	}
	q.Close()
	wg.Wait()

	assert.Equal(t, ErrQueueClosed, q.TryPublish(Stop{}))
}

func TestPublishBlocksUntilConsumed(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.TryPublish(Stop{}))

	done := make(chan error, 1)
	go func() {
		done <- q.Publish(context.Background(), DayReset{})
	}()

	ctx, cancel := context.WithCancel(context.Background())
	seen := 0
	go q.Run(ctx, func(Event) {
		seen++
		if seen == 2 {
			cancel()
		}
	})

	require.NoError(t, <-done)
	<-ctx.Done()
}
