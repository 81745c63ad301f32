package finnhub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	mu     sync.Mutex
	subs   []string
	tokens []string
	conns  []*websocket.Conn
	frames []string
}

func (f *fakeFeed) handler(t *testing.T) http.HandlerFunc {
	up := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		f.mu.Lock()
		f.tokens = append(f.tokens, r.URL.Query().Get("token"))
		f.conns = append(f.conns, conn)
		frames := append([]string(nil), f.frames...)
		f.mu.Unlock()

		for _, fr := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(fr))
		}
		for {
			var sub subscription
			if err := conn.ReadJSON(&sub); err != nil {
				return
			}
			f.mu.Lock()
			f.subs = append(f.subs, sub.Symbol)
			f.mu.Unlock()
		}
	}
}

func (f *fakeFeed) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subs...)
}

func (f *fakeFeed) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		_ = c.Close()
	}
}

func newFeed(t *testing.T, frames ...string) (*fakeFeed, string) {
	f := &fakeFeed{frames: frames}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return f, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDecode(t *testing.T) {
	trades, err := decode([]byte(`{"type":"trade","data":[{"s":"AAPL","p":101.5,"v":3,"t":1709562600123},{"s":"","p":1,"v":1,"t":1}]}`))
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "AAPL", trades[0].Symbol)
	assert.Equal(t, int64(1709562600123), trades[0].Timestamp)
	assert.Equal(t, time.Date(2024, 3, 4, 14, 30, 0, 123e6, time.UTC), trades[0].Time())

	trades, err = decode([]byte(`{"type":"ping"}`))
	assert.NoError(t, err)
	assert.Empty(t, trades)

	_, err = decode([]byte(`{"type":"error","msg":"Invalid symbol"}`))
	assert.ErrorContains(t, err, "Invalid symbol")

	trades, err = decode([]byte(`not json`))
	assert.NoError(t, err)
	assert.Empty(t, trades)
}

func TestClientStreamsTrades(t *testing.T) {
	feed, url := newFeed(t,
		`{"type":"ping"}`,
		`{"type":"trade","data":[{"s":"AAPL","p":101.5,"v":3,"t":1709562600123}]}`,
	)
	c := New(Config{APIKey: "secret", WebsocketURL: url, Symbols: []string{"AAPL", "MSFT"}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	t.Cleanup(func() { _ = c.Close() })
	assert.True(t, c.IsConnected())
	require.NoError(t, c.Subscribe(ctx))

	trades, _ := c.Read(ctx)
	select {
	case tr := <-trades:
		require.NotNil(t, tr)
		assert.Equal(t, "AAPL", tr.Symbol)
		assert.Equal(t, 101.5, tr.Price)
	case <-ctx.Done():
		t.Fatal("no trade received")
	}

	assert.Eventually(t, func() bool { return len(feed.subscriptions()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"AAPL", "MSFT"}, feed.subscriptions())
	feed.mu.Lock()
	assert.Equal(t, []string{"secret"}, feed.tokens)
	feed.mu.Unlock()
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	feed, url := newFeed(t)
	c := New(Config{WebsocketURL: url, Symbols: []string{"AAPL"}, ReconnectDelay: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe(ctx))
	_, errs := c.Read(ctx)

	feed.dropAll()
	select {
	case err := <-errs:
		require.Error(t, err)
	case <-ctx.Done():
		t.Fatal("drop not reported")
	}

	require.NoError(t, c.Reconnect(ctx))
	t.Cleanup(func() { _ = c.Close() })
	assert.True(t, c.IsConnected())
	assert.Eventually(t, func() bool { return len(feed.subscriptions()) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestReadWithoutConnection(t *testing.T) {
	c := New(Config{WebsocketURL: "ws://127.0.0.1:1"})
	trades, errs := c.Read(context.Background())
	assert.ErrorIs(t, <-errs, errNotConnected)
	_, ok := <-trades
	assert.False(t, ok)
	assert.ErrorIs(t, c.Subscribe(context.Background()), errNotConnected)
}

func TestReconnectGivesUp(t *testing.T) {
	c := New(Config{
		WebsocketURL:    "ws://127.0.0.1:1",
		ReconnectDelay:  5 * time.Millisecond,
		ReconnectMax:    10 * time.Millisecond,
		ReconnectGiveUp: 50 * time.Millisecond,
	})
	err := c.Reconnect(context.Background())
	assert.Error(t, err)
	assert.False(t, c.IsConnected())
}
