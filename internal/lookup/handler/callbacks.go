package handler

import (
	"crypto/subtle"
	"net/http"

	"verigate/internal/lookup/models"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/platform/httputil"
	"verigate/pkg/requestcontext"
)

// HandleProviderCallback handles POST /v1/provider/callbacks: a provider
// pushing the answer for a job it previously deferred.
func (h *Handler) HandleProviderCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	if !h.validCallbackSecret(r.Header.Get(CallbackSecretHeader)) {
		h.logger.WarnContext(ctx, "rejected provider callback",
			"request_id", requestID,
			"client_ip", requestcontext.ClientIP(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid callback secret"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[CallbackRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	record, err := h.completer.Complete(ctx, models.Completion{
		CandidateID: req.CandidateID,
		LookupType:  req.parsedType,
		LookupValue: req.LookupValue,
		StatusCode:  *req.StatusCode,
		Data:        req.Data,
		Message:     req.Message,
		Source:      models.SourcePush,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "provider callback failed",
			"request_id", requestID,
			"candidate_id", req.CandidateID,
			"lookup_type", req.parsedType,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) validCallbackSecret(got string) bool {
	if h.callbackSecret == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.callbackSecret)) == 1
}
