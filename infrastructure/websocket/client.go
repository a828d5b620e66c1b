// Package websocket carries hub events over gorilla/websocket connections:
// one Client per connection, with its read and write pumps, rate limiting and
// the HTTP upgrade handler.
package websocket

import (
	"chat-hub/contract"
	"chat-hub/domain/event"
	"chat-hub/errors"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Inbound receives what a client reads from its connection.
type Inbound interface {
	Handle(ctx context.Context, raw []byte) error
	Fail(ctx context.Context, inbound string, err error)
}

// Client is the transport of one connected session.
// Outbound events are queued in a bounded buffer drained by the write pump,
// so a slow client never blocks the hub: when the buffer is full the event is dropped.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	log     *slog.Logger
	addr    string
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
}

var _ contract.Transport = (*Client)(nil)

func NewClient(conn *websocket.Conn, log *slog.Logger, addr string, config Config) *Client {
	if conn != nil && config.MaxMessageSize > 0 {
		conn.SetReadLimit(config.MaxMessageSize)
	}
	return &Client{
		conn:    conn,
		send:    make(chan []byte, max(config.SendBufferSize, 1)),
		log:     log.With("addr", addr),
		addr:    addr,
		limiter: newRateLimiter(config.RateLimitBurst, config.RateLimitInterval),
	}
}

// Send encodes the event and queues it without blocking.
func (c *Client) Send(ctx context.Context, env event.Envelope) error {
	if err := ctx.Err(); err != nil {
		return errors.Delivery(err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Event, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.Delivery(errors.ErrTransportStopped)
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errors.Delivery(fmt.Errorf("%s to %s: %w", env.Event, c.addr, errors.ErrSinkFull))
	}
}

// Stop closes the outbound buffer; the write pump then sends a close frame.
// Calling it twice is harmless.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump feeds every frame to inbound until the connection fails.
// Frames over the rate limit are rejected with an error event and dropped.
func (c *Client) readPump(ctx context.Context, inbound Inbound) {
	defer func() {
		c.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("Error closing connection in readPump", "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.limiter.Allow() {
			c.log.Debug("Rate limit exceeded, dropping event")
			inbound.Fail(ctx, eventName(raw), errors.ErrRateLimited)
			continue
		}

		// The error has already been reported to the client
		_ = inbound.Handle(ctx, raw)
	}
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("Error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("Frame exceeded the maximum size, closing")
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.log.Debug("Client disconnected", "error", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("Connection closed", "error", err)
	default:
		c.log.Warn("Websocket read error", "error", err)
	}
}

// writePump is the only writer of the connection.
// Each event is its own text frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("Error closing connection in writePump", "error", err)
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			if !c.write(payload, ok) {
				return
			}
		case <-ticker.C:
			if !c.ping() {
				return
			}
		}
	}
}

func (c *Client) write(payload []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if !ok {
		err := c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil && !isExpectedCloseError(err) {
			c.log.Debug("Error writing close message", "error", err)
		}
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Debug("Error writing message", "error", err)
		return false
	}
	return true
}

func (c *Client) ping() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("Error writing ping", "error", err)
		return false
	}
	return true
}

// eventName extracts the inbound event name for error reporting, if any.
func eventName(raw []byte) string {
	var inbound event.Inbound
	_ = json.Unmarshal(raw, &inbound)
	return inbound.Event
}
