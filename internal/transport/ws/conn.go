// Package ws streams pkg/engine's live trace collector to connected
// clients over WebSocket, adapted from the teacher's internal/websocket:
// the same ping/pong keepalive wrapper and connection registry, pointed
// at trace entries instead of terminal session bytes.
package ws

import (
	"context"
	"log/slog"
	"sync"
	"time"

	wsconn "nhooyr.io/websocket"
)

// Conn wraps a nhooyr.io/websocket.Conn with server-side ping/pong
// keepalive and graceful close-frame logic.
type Conn struct {
	inner  *wsconn.Conn
	opts   Options
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// WrapConn wraps an accepted WebSocket connection with ping/pong
// keepalive. The returned Conn starts a background goroutine that pings
// the peer at the configured interval. Call Close to stop the goroutine
// and close the connection.
//
// The caller must have an active read loop on the connection for pong
// responses to be processed (nhooyr.io/websocket v1.x requirement).
func WrapConn(ctx context.Context, c *wsconn.Conn, options ...Option) *Conn {
	opts := applyOptions(options)
	ctx, cancel := context.WithCancel(ctx)
	conn := &Conn{
		inner:  c,
		opts:   opts,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go conn.pingLoop(ctx)
	return conn
}

// Inner returns the underlying nhooyr.io/websocket.Conn for direct
// read/write.
func (c *Conn) Inner() *wsconn.Conn {
	return c.inner
}

// Close sends a close frame and shuts down the connection.
func (c *Conn) Close(code wsconn.StatusCode, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	<-c.done
	return c.inner.Close(code, reason)
}

// CloseWithContext sends a close frame within the given context
// deadline.
func (c *Conn) CloseWithContext(ctx context.Context, code wsconn.StatusCode, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()

	select {
	case <-c.done:
	case <-ctx.Done():
	}
	return c.inner.Close(code, reason)
}

// ForceClose immediately closes the underlying connection without
// sending a close frame. Used when the connection is already broken.
func (c *Conn) ForceClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	c.inner.CloseNow()
}

func (c *Conn) pingLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, c.opts.PongTimeout)
			err := c.inner.Ping(pingCtx)
			pingCancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.opts.Logger.Warn("pong timeout, closing connection", slog.String("error", err.Error()))
				c.inner.CloseNow()
				return
			}
		}
	}
}
