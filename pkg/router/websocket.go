package router

import (
	"context"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	apperrors "github.com/odvcencio/actionator/pkg/errors"
	"github.com/odvcencio/actionator/pkg/logging"
)

const (
	initialBackoff     = 500 * time.Millisecond
	maxBackoff         = 30 * time.Second
	defaultDialTimeout = 15 * time.Second
	defaultPingEvery   = 30 * time.Second
	pingTimeout        = 5 * time.Second
	maxFrameBytes      = 1 << 20
)

// DialOptions configures a WebSocket push channel.
type DialOptions struct {
	// NoReconnect makes the first disconnect final.
	NoReconnect bool
	// PingInterval defaults to 30s; negative disables keepalive pings.
	PingInterval time.Duration
	DialTimeout  time.Duration
	// ReconnectMin and ReconnectMax bound the redial backoff; they default
	// to 500ms and 30s.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Header       http.Header
	Logger       *logging.Logger
}

// WebSocketChannel is a push Channel over one WebSocket connection. After a
// disconnect it redials with exponential backoff; frames sent while it was
// down are lost.
type WebSocketChannel struct {
	url    string
	opts   DialOptions
	logger *logging.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	stopPing context.CancelFunc
	closed   bool
}

// Dial connects to the push endpoint at url. The first connection attempt is
// made before Dial returns.
func Dial(ctx context.Context, url string, opts DialOptions) (*WebSocketChannel, error) {
	if opts.PingInterval == 0 {
		opts.PingInterval = defaultPingEvery
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = initialBackoff
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = max(maxBackoff, opts.ReconnectMin)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	c := &WebSocketChannel{url: url, opts: opts, logger: logger}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *WebSocketChannel) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{HTTPHeader: c.opts.Header})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return apperrors.Wrap(err, apperrors.ErrCodeChannel, "dial push channel").
			WithContext("url", c.url).
			WithContext("status", status).
			WithRetryable(status != http.StatusForbidden)
	}
	conn.SetReadLimit(maxFrameBytes)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client closed")
		return ErrChannelClosed
	}
	c.conn = conn
	c.stopPing = c.startPing(conn)
	c.mu.Unlock()
	return nil
}

// startPing keeps the connection alive. A failed ping closes the connection
// so the pending Read fails and the channel redials.
func (c *WebSocketChannel) startPing(conn *websocket.Conn) context.CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	if c.opts.PingInterval < 0 {
		return cancel
	}
	go func() {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, pingCancel := context.WithTimeout(ctx, pingTimeout)
				err := conn.Ping(pingCtx)
				pingCancel()
				if err != nil {
					if ctx.Err() == nil {
						c.logger.Debug("push channel ping failed", "error", err)
						_ = conn.Close(websocket.StatusGoingAway, "ping timeout")
					}
					return
				}
			}
		}
	}()
	return cancel
}

func (c *WebSocketChannel) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrChannelClosed
	}
	return c.conn, nil
}

func (c *WebSocketChannel) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	if c.stopPing != nil {
		c.stopPing()
		c.stopPing = nil
	}
	c.conn = nil
	c.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "client closed")
}

// Read returns the next text frame, redialing as needed.
func (c *WebSocketChannel) Read(ctx context.Context) ([]byte, error) {
	backoff := c.opts.ReconnectMin
	for {
		conn, err := c.current()
		if err != nil {
			return nil, err
		}

		if conn == nil {
			metricReconnects.Inc()
			if err := c.connect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if !apperrors.IsRetryable(err) {
					return nil, err
				}
				c.logger.Warn("push channel reconnect failed", "error", err, "retry_in", backoff)
				if err := sleepCtx(ctx, backoff); err != nil {
					return nil, err
				}
				backoff = min(backoff*2, c.opts.ReconnectMax)
				continue
			}
			c.logger.Info("push channel reconnected", "url", c.url)
			backoff = c.opts.ReconnectMin
			continue
		}

		typ, data, err := conn.Read(ctx)
		if err == nil {
			if typ != websocket.MessageText {
				continue
			}
			return data, nil
		}

		c.drop(conn)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, cerr := c.current(); cerr != nil {
			return nil, cerr
		}
		if c.opts.NoReconnect {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeChannel, "push channel disconnected")
		}
		c.logger.Warn("push channel disconnected", "error", err, "reconnect_in", backoff)
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
	}
}

// Close closes the connection and makes every later Read fail with
// ErrChannelClosed.
func (c *WebSocketChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.stopPing != nil {
		c.stopPing()
		c.stopPing = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closed")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
