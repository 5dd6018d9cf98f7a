package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"verigate/internal/employment"
	"verigate/internal/lookup/models"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/platform/httputil"
	"verigate/pkg/requestcontext"
)

// HandleRequestLookup handles POST /v1/candidates/{candidateID}/lookups.
func (h *Handler) HandleRequestLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()
	candidateID := chi.URLParam(r, "candidateID")

	req, ok := httputil.DecodeAndPrepare[LookupRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	outcome, err := h.coordinator.RequestLookup(ctx, models.LookupRequest{
		CandidateID:     candidateID,
		OrganizationID:  requestcontext.OrganizationID(ctx),
		UserID:          requestcontext.UserID(ctx),
		LookupType:      req.ParsedType(),
		RawValue:        req.Value,
		CandidateMobile: req.CandidateMobile,
		EmployerName:    req.EmployerName,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "lookup failed",
			"request_id", requestID,
			"candidate_id", candidateID,
			"lookup_type", req.ParsedType(),
			"error", err,
		)
		writeLookupError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "lookup handled",
		"request_id", requestID,
		"candidate_id", candidateID,
		"lookup_type", req.ParsedType(),
		"outcome", outcome.Kind,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	status := http.StatusOK
	if outcome.Kind == models.OutcomeQueued || outcome.Kind == models.OutcomeAlreadyQueued {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, FromOutcome(outcome))
}

// HandleListLookups handles GET /v1/candidates/{candidateID}/lookups.
func (h *Handler) HandleListLookups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	candidateID := chi.URLParam(r, "candidateID")

	types, err := parseTypes(r.URL.Query().Get("types"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	grouped, err := h.results.GroupByType(ctx, candidateID, types)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list lookups",
			"request_id", requestcontext.RequestID(ctx),
			"candidate_id", candidateID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list lookups"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &HistoryResponse{CandidateID: candidateID, Lookups: grouped})
}

// HandleLatestLookup handles GET /v1/candidates/{candidateID}/lookups/latest.
func (h *Handler) HandleLatestLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	candidateID := chi.URLParam(r, "candidateID")

	types, err := parseTypes(r.URL.Query().Get("types"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	record, err := h.results.FindLatest(ctx, candidateID, types)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to find latest lookup",
			"request_id", requestcontext.RequestID(ctx),
			"candidate_id", candidateID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to find latest lookup"))
		return
	}
	if record == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no lookups recorded"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

// HandleQueueStatus handles GET /v1/candidates/{candidateID}/queue/{lookupType}.
func (h *Handler) HandleQueueStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	candidateID := chi.URLParam(r, "candidateID")

	lt, err := models.ParseLookupType(chi.URLParam(r, "lookupType"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entry, err := h.queue.Pending(ctx, candidateID, lt)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read queue",
			"request_id", requestcontext.RequestID(ctx),
			"candidate_id", candidateID,
			"lookup_type", lt,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read queue"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &QueueStatusResponse{Pending: entry != nil, Entry: entry})
}

// HandleDualEmployment handles POST /v1/candidates/{candidateID}/dual-employment.
func (h *Handler) HandleDualEmployment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	candidateID := chi.URLParam(r, "candidateID")

	req, ok := httputil.DecodeAndPrepare[DualEmploymentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	results, err := h.verifier.Verify(ctx, employment.VerifyRequest{
		CandidateID:    candidateID,
		UAN:            req.UAN,
		WorkHistory:    req.WorkHistory,
		OrganizationID: requestcontext.OrganizationID(ctx),
		UserID:         requestcontext.UserID(ctx),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "dual employment check failed",
			"request_id", requestID,
			"candidate_id", candidateID,
			"error", err,
		)
		writeLookupError(w, err)
		return
	}
	if results == nil {
		results = []models.DualEmploymentResult{}
	}
	httputil.WriteJSON(w, http.StatusOK, &DualEmploymentResponse{
		UAN:        req.UAN,
		Results:    results,
		VerifiedAt: requestcontext.Now(ctx),
	})
}
