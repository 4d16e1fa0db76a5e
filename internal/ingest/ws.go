package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/schema"
	"main/pkg/backoff"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 20 * time.Second
)

// WSFeed streams quotes from the market data endpoint over a single
// websocket connection, reconnecting with backoff and replaying the
// active subscriptions after each reconnect.
type WSFeed struct {
	url     string
	retry   backoff.Policy
	nextID  int64
	sendCh  chan []byte
	closed  chan struct{}
	closeMu sync.Once

	mu         sync.Mutex
	subscribed map[schema.Symbol]struct{}
}

// NewWSFeed creates a feed client for the given endpoint.
func NewWSFeed(url string) *WSFeed {
	return &WSFeed{
		url:        url,
		retry:      backoff.Default(),
		sendCh:     make(chan []byte, 256),
		closed:     make(chan struct{}),
		subscribed: make(map[schema.Symbol]struct{}),
	}
}

// Subscribe implements Feed.
func (f *WSFeed) Subscribe(ctx context.Context, symbols []schema.Symbol) error {
	f.mu.Lock()
	fresh := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := f.subscribed[s]; ok {
			continue
		}
		f.subscribed[s] = struct{}{}
		fresh = append(fresh, string(s))
	}
	f.mu.Unlock()
	if len(fresh) == 0 {
		return nil
	}
	return f.send(ctx, subscribeRequest{
		Action:  "subscribe",
		Symbols: fresh,
		ID:      atomic.AddInt64(&f.nextID, 1),
	})
}

// Unsubscribe implements Feed.
func (f *WSFeed) Unsubscribe(ctx context.Context, symbols []schema.Symbol) error {
	f.mu.Lock()
	gone := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := f.subscribed[s]; !ok {
			continue
		}
		delete(f.subscribed, s)
		gone = append(gone, string(s))
	}
	f.mu.Unlock()
	if len(gone) == 0 {
		return nil
	}
	return f.send(ctx, subscribeRequest{
		Action:  "unsubscribe",
		Symbols: gone,
		ID:      atomic.AddInt64(&f.nextID, 1),
	})
}

func (f *WSFeed) send(ctx context.Context, req subscribeRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshal subscribe request")
	}
	select {
	case f.sendCh <- raw:
		return nil
	case <-f.closed:
		return errors.New("feed closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dials the endpoint and pumps quotes into handler until the
// context is done or the feed is closed. Connection loss triggers a
// backoff reconnect and a subscription replay; a malformed frame is
// logged and skipped, never fatal.
func (f *WSFeed) Run(ctx context.Context, handler func(schema.Quote)) error {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.closed:
			return nil
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
		if err != nil {
			attempt++
			wait := f.retry.Next(attempt)
			logs.Warnf("feed dial failed (attempt %d), retrying in %s: %v", attempt, wait, err)
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return nil
			case <-f.closed:
				return nil
			}
		}
		attempt = 0
		logs.Infof("feed connected: %s", f.url)

		if err := f.resubscribe(conn); err != nil {
			logs.Errorf("subscription replay failed: %v", err)
			_ = conn.Close()
			continue
		}
		f.pump(ctx, conn, handler)
		_ = conn.Close()
	}
}

// resubscribe replays the active subscription set on a new connection.
func (f *WSFeed) resubscribe(conn *websocket.Conn) error {
	f.mu.Lock()
	symbols := make([]string, 0, len(f.subscribed))
	for s := range f.subscribed {
		symbols = append(symbols, string(s))
	}
	f.mu.Unlock()
	if len(symbols) == 0 {
		return nil
	}
	raw, err := json.Marshal(subscribeRequest{
		Action:  "subscribe",
		Symbols: symbols,
		ID:      atomic.AddInt64(&f.nextID, 1),
	})
	if err != nil {
		return errors.Wrap(err, "marshal resubscribe")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, raw)
}

// pump runs the read and write loops until either fails.
func (f *WSFeed) pump(ctx context.Context, conn *websocket.Conn, handler func(schema.Quote)) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case raw := <-f.sendCh:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
					logs.Warnf("feed write failed: %v", err)
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-ctx.Done():
				return
			case <-f.closed:
				return
			}
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	for {
		select {
		case <-done:
			return
		default:
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			logs.Warnf("feed read failed, reconnecting: %v", err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var ack subscribeResponse
		if err := json.Unmarshal(raw, &ack); err == nil && ack.ID != 0 {
			continue // control acknowledgement
		}
		quote, err := decodeTick(raw)
		if err != nil {
			logs.Warnf("dropping malformed tick: %v", err)
			continue
		}
		handler(quote)
	}
}

// Close stops the feed permanently.
func (f *WSFeed) Close() error {
	f.closeMu.Do(func() { close(f.closed) })
	return nil
}
