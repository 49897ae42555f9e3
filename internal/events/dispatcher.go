// Package events dispatches fire-and-forget notifications after metadata
// transactions commit. Dispatch never blocks a request and never rolls one
// back: when the buffer is full the event is dropped with a warning.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Type names a notification kind.
type Type string

const (
	// TypeValueApproved fires after an entry gains its approval stamp.
	TypeValueApproved Type = "value.approved"
	// TypeValueRejected fires after an entry's source flips to its rejected variant.
	TypeValueRejected Type = "value.rejected"
	// TypeAssetComplete fires when an asset's last pending value resolves.
	TypeAssetComplete Type = "asset.complete"
	// TypeBulkExecuted fires after a bulk execute finishes, successes or not.
	TypeBulkExecuted Type = "bulk.executed"
)

// Event is one dispatched notification.
type Event struct {
	Type    Type
	AssetID string
	FieldID string
	EntryID int64
	Actor   string
	At      time.Time
}

// Handler consumes dispatched events. Handlers run on the dispatcher's worker
// goroutine; slow handlers delay later events, they never delay requests.
type Handler interface {
	Handle(ctx context.Context, ev Event)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev Event)

func (f HandlerFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Dispatcher fans events out to registered handlers from a single worker,
// rate-limited so a burst of approvals cannot stampede downstream consumers.
type Dispatcher struct {
	ch       chan Event
	limiter  *rate.Limiter
	mu       sync.RWMutex
	handlers []Handler
	done     chan struct{}
	once     sync.Once
}

// NewDispatcher creates a dispatcher with the given buffer size and a
// per-second dispatch limit. perSec <= 0 disables limiting.
func NewDispatcher(bufferSize int, perSec float64) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	limit := rate.Inf
	if perSec > 0 {
		limit = rate.Limit(perSec)
	}
	return &Dispatcher{
		ch:      make(chan Event, bufferSize),
		limiter: rate.NewLimiter(limit, 1),
		done:    make(chan struct{}),
	}
}

// Subscribe registers a handler for all subsequent events.
func (d *Dispatcher) Subscribe(h Handler) {
	d.mu.Lock()
	d.handlers = append(d.handlers, h)
	d.mu.Unlock()
}

// Publish enqueues an event without blocking. Full buffer drops the event.
func (d *Dispatcher) Publish(ev Event) {
	select {
	case d.ch <- ev:
	default:
		zap.L().Warn("events: buffer full, dropping event",
			zap.String("type", string(ev.Type)),
			zap.String("asset_id", ev.AssetID))
	}
}

// Run delivers queued events until the context is cancelled or Close drains
// the queue. Call from its own goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-d.ch:
			if !ok {
				return
			}
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
			d.dispatch(ctx, ev)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, ev Event) {
	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()
	for _, h := range handlers {
		h.Handle(ctx, ev)
	}
}

// Close stops accepting events and waits for the worker to finish the queue.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.ch) })
	<-d.done
}
