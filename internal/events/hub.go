// Package events fans execution lifecycle events out to subscribers.
// Publishing is best-effort: failures are logged and never affect an
// execution's status
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loomworks/loom/pkg/api"
	"github.com/loomworks/loom/pkg/log"
)

type (
	// Hub distributes lifecycle events to any number of subscribers
	Hub interface {
		Publish(context.Context, *api.Event)
		Subscribe() (<-chan *api.Event, func())
		Close() error
	}

	// Loopback is an in-process Hub used by tests and store-free
	// deployments. Slow subscribers drop events rather than blocking the
	// engine
	Loopback struct {
		mu     sync.Mutex
		subs   map[chan *api.Event]struct{}
		closed bool
	}
)

const subscriberBuffer = 64

var _ Hub = (*Loopback)(nil)

// NewLoopback creates an in-process event hub
func NewLoopback() *Loopback {
	return &Loopback{
		subs: map[chan *api.Event]struct{}{},
	}
}

func (h *Loopback) Publish(_ context.Context, ev *api.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("Dropping event for slow subscriber",
				slog.String("event_type", string(ev.Type)),
				log.ExecutionID(ev.ExecutionID))
		}
	}
}

func (h *Loopback) Subscribe() (<-chan *api.Event, func()) {
	ch := make(chan *api.Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *Loopback) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
	}
	h.subs = map[chan *api.Event]struct{}{}
	return nil
}
