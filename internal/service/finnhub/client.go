package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"SwingPull/internal/domain/models"
	drepo "SwingPull/internal/domain/repository"
	applogger "SwingPull/pkg/logger"
)

var errNotConnected = errors.New("finnhub not connected")

// Config holds the websocket settings.
type Config struct {
	APIKey          string
	WebsocketURL    string
	Symbols         []string
	ReconnectDelay  time.Duration // first retry delay, doubled up to ReconnectMax
	ReconnectMax    time.Duration
	ReconnectGiveUp time.Duration // 0 retries until the context ends
	PingInterval    time.Duration
	BufferSize      int
}

// Client implements a MarketStream backed by the Finnhub trade websocket.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	l      *applogger.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	wmu       sync.Mutex // one writer at a time
	dropped   uint64
}

// New creates a new Finnhub MarketStream.
func New(cfg Config) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectDelay {
		cfg.ReconnectMax = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	return &Client{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (c *Client) SetLogger(l *applogger.Logger) { c.l = l }

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.WebsocketURL)
	if err != nil {
		return "", fmt.Errorf("finnhub url: %w", err)
	}
	if c.cfg.APIKey != "" {
		q := u.Query()
		q.Set("token", c.cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u, err := c.endpoint()
	if err != nil {
		return err
	}
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	readTimeout := 3 * c.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	if c.l != nil {
		c.l.Info("finnhub connected", applogger.String("url", c.cfg.WebsocketURL))
	}
	return nil
}

func (c *Client) current() *websocket.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return nil
	}
	return c.conn
}

func (c *Client) write(conn *websocket.Conn, fn func() error) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return fn()
}

type subscription struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

// Subscribe subscribes to configured symbols.
func (c *Client) Subscribe(ctx context.Context) error {
	conn := c.current()
	if conn == nil {
		return errNotConnected
	}
	for _, s := range c.cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := subscription{Type: "subscribe", Symbol: s}
		if err := c.write(conn, func() error { return conn.WriteJSON(msg) }); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		if c.l != nil {
			c.l.Debug("finnhub subscribed", applogger.String("symbol", s))
		}
	}
	return nil
}

type fhTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type fhMessage struct {
	Type string    `json:"type"`
	Data []fhTrade `json:"data"`
	Msg  string    `json:"msg"`
}

// decode turns one frame into trades. Pings and unknown frames yield nothing.
func decode(b []byte) ([]*models.Trade, error) {
	var m fhMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, nil
	}
	switch m.Type {
	case "trade":
		out := make([]*models.Trade, 0, len(m.Data))
		for _, d := range m.Data {
			if d.S == "" || d.P <= 0 || d.T <= 0 {
				continue
			}
			out = append(out, &models.Trade{Symbol: d.S, Timestamp: d.T, Price: d.P, Volume: d.V})
		}
		return out, nil
	case "error":
		return nil, fmt.Errorf("finnhub: %s", m.Msg)
	}
	return nil, nil
}

// Read streams trades until the connection fails or ctx ends. A failure is sent on
// the error channel once; both channels are then closed.
func (c *Client) Read(ctx context.Context) (<-chan *models.Trade, <-chan error) {
	trades := make(chan *models.Trade, c.cfg.BufferSize)
	errs := make(chan error, 1)

	conn := c.current()
	if conn == nil {
		errs <- errNotConnected
		close(errs)
		close(trades)
		return trades, errs
	}

	done := make(chan struct{})
	go c.pingLoop(ctx, conn, done)

	go func() {
		defer close(trades)
		defer close(errs)
		defer close(done)
		for {
			if ctx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("finnhub read: %w", err)
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(3 * c.cfg.PingInterval))
			batch, err := decode(b)
			if err != nil {
				if c.l != nil {
					c.l.Warn("finnhub error frame", applogger.Error(err))
				}
				continue
			}
			for _, t := range batch {
				select {
				case trades <- t:
				case <-ctx.Done():
					return
				default:
					c.mu.Lock()
					c.dropped++
					n := c.dropped
					c.mu.Unlock()
					if c.l != nil && n%1000 == 1 {
						c.l.Warn("finnhub trade dropped, consumer behind", applogger.Int("dropped_total", int(n)))
					}
				}
			}
		}
	}()

	return trades, errs
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := c.write(conn, func() error { return conn.WriteMessage(websocket.PingMessage, nil) }); err != nil {
				return
			}
		}
	}
}

// Reconnect closes the connection and dials again with exponential backoff, then
// resubscribes.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.ReconnectDelay
	bo.MaxInterval = c.cfg.ReconnectMax
	bo.MaxElapsedTime = c.cfg.ReconnectGiveUp

	attempt := 0
	op := func() error {
		attempt++
		if err := c.Connect(ctx); err != nil {
			return err
		}
		if err := c.Subscribe(ctx); err != nil {
			_ = c.Close()
			return err
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		if c.l != nil {
			c.l.Warn("finnhub reconnect failed",
				applogger.Int("attempt", attempt),
				applogger.Duration("retry_in", next),
				applogger.Error(err),
			)
		}
	}
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = c.write(conn, func() error {
		return conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})
	return conn.Close()
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

var _ drepo.MarketStream = (*Client)(nil)
