package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"verigate/internal/docstate"
	"verigate/internal/lookup/models"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/platform/httputil"
	"verigate/pkg/requestcontext"
)

// Server-sent event names.
const (
	EventSnapshot     = "snapshot"
	EventNotification = "notification"
)

const changesBacklog = 16

// trackedTypes are the documents a candidate page shows.
var trackedTypes = []models.LookupType{
	models.LookupMobile,
	models.LookupPAN,
	models.LookupPANVerification,
	models.LookupMobileToUAN,
	models.LookupPANToUAN,
	models.LookupUANFullHistory,
}

// NotificationEvent is a record-driven notification for one candidate.
type NotificationEvent struct {
	Notification
	LookupType models.LookupType `json:"lookup_type"`
	RecordID   string            `json:"record_id"`
}

// HandleEvents handles GET /v1/candidates/{candidateID}/events. It streams
// the candidate's document snapshots and a notification for every record,
// until the client goes away.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	candidateID := chi.URLParam(r, "candidateID")

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}

	tracker, err := docstate.NewTracker(h.bus, candidateID, trackedTypes...)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "cannot track candidate"))
		return
	}
	defer tracker.Close()

	notes := make(chan NotificationEvent, changesBacklog)
	sub := h.bus.SubscribeContext(ctx, candidateID, func(_ context.Context, event models.Event) {
		note := NotificationEvent{
			Notification: NotifyRecord(event.Record),
			LookupType:   event.Record.LookupType,
			RecordID:     event.Record.ID.String(),
		}
		select {
		case notes <- note:
		default:
		}
	})
	defer h.bus.Unsubscribe(sub)

	if err := h.seed(ctx, tracker, candidateID); err != nil {
		h.logger.ErrorContext(ctx, "failed to load document state",
			"request_id", requestID,
			"candidate_id", candidateID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load document state"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, EventSnapshot, tracker.Snapshot()); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case snapshot, open := <-tracker.Changes():
			if !open {
				return
			}
			err = writeEvent(w, EventSnapshot, snapshot)
		case note := <-notes:
			err = writeEvent(w, EventNotification, note)
		case <-heartbeat.C:
			_, err = fmt.Fprint(w, ": keep-alive\n\n")
		}
		if err != nil {
			h.logger.DebugContext(ctx, "event stream closed",
				"request_id", requestID,
				"candidate_id", candidateID,
				"error", err,
			)
			return
		}
		flusher.Flush()
	}
}

// seed loads the stored records and pending jobs so a new stream starts
// from the candidate's current state rather than idle documents.
func (h *Handler) seed(ctx context.Context, tracker *docstate.Tracker, candidateID string) error {
	grouped, err := h.results.GroupByType(ctx, candidateID, trackedTypes)
	if err != nil {
		return err
	}
	for lt, records := range grouped {
		for i := len(records) - 1; i >= 0; i-- {
			record := *records[i]
			if err := tracker.Update(lt, func(d *docstate.Document) error {
				d.ApplyRecord(record)
				return nil
			}); err != nil {
				return err
			}
		}
	}
	for _, lt := range trackedTypes {
		entry, err := h.queue.Pending(ctx, candidateID, lt)
		if err != nil {
			return err
		}
		if entry == nil {
			continue
		}
		if err := tracker.Update(lt, func(d *docstate.Document) error {
			if d.Value == "" {
				d.Value = entry.LookupValue
			}
			return d.ApplyOutcome(models.AlreadyQueued(entry))
		}); err != nil {
			return err
		}
	}
	// Seeding emitted intermediate snapshots; the stream opens with one.
	drain(tracker.Changes())
	return nil
}

func drain(ch <-chan docstate.Snapshot) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}
