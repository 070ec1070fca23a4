package realtime

import (
	"context"
	"sync"
	"time"

	v1 "invoicechat/shared/contracts/chat/v1"
)

// Client is one connected websocket session. Outbound envelopes go through
// Offer; the writer goroutine drains Send. Send is never closed.
type Client struct {
	SessionID   string
	Origin      string
	ConnectedAt time.Time
	Send        chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(sessionID, origin string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		SessionID:   sessionID,
		Origin:      origin,
		ConnectedAt: time.Now().UTC(),
		Send:        make(chan v1.Envelope, sendQueueSize),
		done:        make(chan struct{}),
	}
}

// Offer queues env without blocking. It reports false when the queue is full
// or the session is going away; a chat reply is not worth stalling the turn for.
func (c *Client) Offer(ctx context.Context, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-c.Done():
		return false
	default:
	}
	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}

// Done is closed when the session is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close is idempotent.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })
}
