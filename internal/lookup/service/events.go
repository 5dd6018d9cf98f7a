package service

import (
	"context"
	"log/slog"

	"verigate/internal/lookup/models"
	"verigate/pkg/requestcontext"
)

// publish announces a stored record. The record is already durable, so a
// publish failure is logged and callers resynchronize from the store.
func publish(ctx context.Context, logger *slog.Logger, publisher Publisher, record models.LookupRecord) {
	if publisher == nil {
		return
	}
	event := models.Event{Record: record, PublishedAt: requestcontext.Now(ctx)}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.WarnContext(ctx, "failed to publish lookup record",
			"record_id", record.ID,
			"candidate_id", record.CandidateID,
			"error", err,
		)
	}
}

// logAudit writes a structured audit line tagged with the request ID.
func logAudit(ctx context.Context, logger *slog.Logger, event string, attrs ...any) {
	if logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	attrs = append(attrs, "event", event, "log_type", "audit")
	logger.InfoContext(ctx, event, attrs...)
}
