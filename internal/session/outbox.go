package session

import (
	"context"
	"sync"

	"github.com/h1v3-io/helpdesk/internal/connector"
)

// outbox is an unbounded FIFO between a session, which must not block
// while it holds its lock, and the goroutine sending to the platform.
type outbox struct {
	mu     sync.Mutex
	queue  []connector.OutboundMessage
	closed bool
	wake   chan struct{}
}

func newOutbox() *outbox {
	return &outbox{wake: make(chan struct{}, 1)}
}

func (o *outbox) push(m connector.OutboundMessage) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.queue = append(o.queue, m)
	o.mu.Unlock()
	o.signal()
}

// close lets drain return once the queue is empty.
func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) drain(ctx context.Context, send func(connector.OutboundMessage)) {
	for {
		o.mu.Lock()
		batch := o.queue
		o.queue = nil
		done := o.closed
		o.mu.Unlock()

		for _, m := range batch {
			send(m)
		}
		if done && len(batch) == 0 {
			return
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-o.wake:
		case <-ctx.Done():
			return
		}
	}
}
