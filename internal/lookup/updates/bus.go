// Package updates fans lookup records out to interested parties: in-process
// subscribers through the Bus, and other processes through the Redis and
// Kafka relays.
package updates

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"verigate/internal/lookup/metrics"
	"verigate/internal/lookup/models"
	"verigate/internal/lookup/ports"
	"verigate/pkg/requestcontext"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("update bus closed")

var _ ports.Publisher = (*Bus)(nil)

// Handler receives one event. Delivery is at-least-once, so handlers must
// tolerate seeing the same record twice.
type Handler func(ctx context.Context, event models.Event)

// Subscription is a handle returned by Subscribe. An empty candidate id
// receives every event.
type Subscription struct {
	id          uint64
	candidateID string
	handler     Handler
}

// CandidateID returns the candidate this subscription listens for.
func (s *Subscription) CandidateID() string {
	return s.candidateID
}

// Bus is an in-process publish/subscribe hub keyed by candidate.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]*Subscription
	closed  bool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Bus)

func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:   make(map[uint64]*Subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for events about candidateID.
func (b *Bus) Subscribe(candidateID string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{id: b.nextID, candidateID: candidateID, handler: handler}
	if !b.closed {
		b.subs[sub.id] = sub
	}
	return sub
}

// SubscribeAll registers handler for every event.
func (b *Bus) SubscribeAll(handler Handler) *Subscription {
	return b.Subscribe("", handler)
}

// SubscribeContext subscribes until ctx is done.
func (b *Bus) SubscribeContext(ctx context.Context, candidateID string, handler Handler) *Subscription {
	sub := b.Subscribe(candidateID, handler)
	context.AfterFunc(ctx, func() {
		b.Unsubscribe(sub)
	})
	return sub
}

// Unsubscribe removes sub. Unknown or nil subscriptions are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub.id)
}

// Publish delivers event to matching subscribers on the caller's goroutine.
// A panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(ctx context.Context, event models.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.candidateID == "" || sub.candidateID == event.Record.CandidateID {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	if event.PublishedAt.IsZero() {
		event.PublishedAt = nowUTC(ctx)
	}
	for _, sub := range targets {
		b.deliver(ctx, sub, event)
	}
	b.metrics.IncrementPublished("memory")
	return nil
}

func (b *Bus) deliver(ctx context.Context, sub *Subscription, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "update handler panicked",
				"candidate_id", event.Record.CandidateID,
				"record_id", event.Record.ID,
				"panic", r,
			)
		}
	}()
	sub.handler(ctx, event)
}

// Len reports the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close drops all subscriptions. Later publishes fail with ErrBusClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[uint64]*Subscription)
}

func nowUTC(ctx context.Context) time.Time {
	return requestcontext.Now(ctx).UTC()
}
