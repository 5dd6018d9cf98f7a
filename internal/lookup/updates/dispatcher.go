package updates

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"verigate/internal/lookup/models"
	"verigate/internal/lookup/ports"
)

// DefaultDeliveredCapacity is how many recent record IDs a Dispatcher
// remembers. Redeliveries arrive close to the original, so only the recent
// window is kept.
const DefaultDeliveredCapacity = 4096

// Dispatcher applies the profile side effect of new lookup records. It
// writes each successful record to the candidate profile once, however many
// times the record is delivered, and clears the matching pending job.
type Dispatcher struct {
	profiles ports.ProfileWriter
	queue    ports.JobQueue
	logger   *slog.Logger

	mu        sync.Mutex
	delivered map[uuid.UUID]int
	ring      []uuid.UUID
	next      int
	sub       *Subscription
	bus       *Bus
}

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDeliveredCapacity bounds the number of record IDs kept for
// deduplication.
func WithDeliveredCapacity(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.ring = make([]uuid.UUID, n)
		}
	}
}

func NewDispatcher(profiles ports.ProfileWriter, queue ports.JobQueue, opts ...DispatcherOption) (*Dispatcher, error) {
	if profiles == nil {
		return nil, fmt.Errorf("profile writer is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("job queue is required")
	}
	d := &Dispatcher{
		profiles:  profiles,
		queue:     queue,
		logger:    slog.Default(),
		delivered: make(map[uuid.UUID]int),
		ring:      make([]uuid.UUID, DefaultDeliveredCapacity),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Attach subscribes the dispatcher to every event on bus.
func (d *Dispatcher) Attach(bus *Bus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sub != nil {
		return
	}
	d.bus = bus
	d.sub = bus.SubscribeAll(d.Handle)
}

// Detach removes the dispatcher's subscription.
func (d *Dispatcher) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sub != nil {
		d.bus.Unsubscribe(d.sub)
		d.sub = nil
	}
}

// Handle processes one delivery.
func (d *Dispatcher) Handle(ctx context.Context, event models.Event) {
	record := event.Record
	if !d.claim(record.ID) {
		return
	}

	if _, err := d.queue.MarkCompleted(ctx, record.CandidateID, record.LookupType); err != nil {
		d.logger.WarnContext(ctx, "failed to clear pending job",
			"candidate_id", record.CandidateID,
			"lookup_type", record.LookupType,
			"error", err,
		)
	}

	if !record.IsSuccess() {
		return
	}
	if err := d.profiles.RecordVerified(ctx, record); err != nil {
		// let a redelivery try again
		d.release(record.ID)
		d.logger.ErrorContext(ctx, "failed to record verification on profile",
			"candidate_id", record.CandidateID,
			"record_id", record.ID,
			"error", err,
		)
	}
}

// claim remembers id in the next ring slot, evicting the oldest claim once
// the ring is full.
func (d *Dispatcher) claim(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, seen := d.delivered[id]; seen {
		return false
	}
	slot := d.next
	if old := d.ring[slot]; old != uuid.Nil {
		if s, ok := d.delivered[old]; ok && s == slot {
			delete(d.delivered, old)
		}
	}
	d.ring[slot] = id
	d.delivered[id] = slot
	d.next = (slot + 1) % len(d.ring)
	return true
}

// Remembered reports how many record IDs are held for deduplication.
func (d *Dispatcher) Remembered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func (d *Dispatcher) release(id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.delivered, id)
}
