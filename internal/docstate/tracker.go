package docstate

import (
	"context"
	"fmt"
	"sync"

	"verigate/internal/lookup/models"
	"verigate/internal/lookup/updates"
)

const changesBuffer = 16

// Snapshot is a point-in-time copy of a candidate's documents.
type Snapshot struct {
	CandidateID string                         `json:"candidate_id"`
	Documents   map[models.LookupType]Document `json:"documents"`
}

// Tracker owns one candidate's documents and keeps them current with
// records published on the bus.
type Tracker struct {
	candidateID string
	bus         *updates.Bus
	sub         *updates.Subscription

	mu      sync.Mutex
	docs    map[models.LookupType]*Document
	changes chan Snapshot
	closed  bool
}

// NewTracker subscribes to the candidate's records and tracks the given
// document types.
func NewTracker(bus *updates.Bus, candidateID string, types ...models.LookupType) (*Tracker, error) {
	if bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	if candidateID == "" {
		return nil, fmt.Errorf("candidate id is required")
	}
	t := &Tracker{
		candidateID: candidateID,
		bus:         bus,
		docs:        make(map[models.LookupType]*Document, len(types)),
		changes:     make(chan Snapshot, changesBuffer),
	}
	for _, lt := range types {
		t.docs[lt] = NewDocument(lt)
	}
	t.sub = bus.Subscribe(candidateID, t.handle)
	return t, nil
}

func (t *Tracker) handle(_ context.Context, event models.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc, ok := t.docs[event.Record.LookupType]
	if !ok || t.closed {
		return
	}
	if doc.ApplyRecord(event.Record) {
		t.emitLocked()
	}
}

// Update runs fn against the document of type lt and emits a snapshot when
// fn succeeds.
func (t *Tracker) Update(lt models.LookupType, fn func(*Document) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("tracker closed")
	}
	doc, ok := t.docs[lt]
	if !ok {
		return fmt.Errorf("document %s is not tracked", lt)
	}
	if err := fn(doc); err != nil {
		return err
	}
	t.emitLocked()
	return nil
}

// Document returns a copy of one document.
func (t *Tracker) Document(lt models.LookupType) (Document, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	doc, ok := t.docs[lt]
	if !ok {
		return Document{}, false
	}
	return doc.Clone(), true
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Changes delivers a snapshot after every change. A slow reader loses the
// oldest snapshots, never the latest.
func (t *Tracker) Changes() <-chan Snapshot {
	return t.changes
}

// Close unsubscribes from the bus and closes Changes.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.bus.Unsubscribe(t.sub)
	close(t.changes)
}

func (t *Tracker) snapshotLocked() Snapshot {
	s := Snapshot{CandidateID: t.candidateID, Documents: make(map[models.LookupType]Document, len(t.docs))}
	for lt, doc := range t.docs {
		s.Documents[lt] = doc.Clone()
	}
	return s
}

func (t *Tracker) emitLocked() {
	s := t.snapshotLocked()
	for {
		select {
		case t.changes <- s:
			return
		default:
		}
		select {
		case <-t.changes:
		default:
		}
	}
}
