package handler

import (
	"time"

	"verigate/internal/lookup/models"
)

// LookupResponse is the HTTP response for POST /lookups.
type LookupResponse struct {
	Outcome      models.OutcomeKind   `json:"outcome"`
	Record       *models.LookupRecord `json:"record,omitempty"`
	Entry        *models.QueueEntry   `json:"entry,omitempty"`
	Notification Notification         `json:"notification"`
}

func FromOutcome(outcome *models.LookupOutcome) *LookupResponse {
	return &LookupResponse{
		Outcome:      outcome.Kind,
		Record:       outcome.Record,
		Entry:        outcome.Entry,
		Notification: Notify(outcome, nil),
	}
}

// HistoryResponse is the grouped audit trail for a candidate.
type HistoryResponse struct {
	CandidateID string                                        `json:"candidate_id"`
	Lookups     map[models.LookupType][]*models.LookupRecord `json:"lookups"`
}

// QueueStatusResponse lets a client resynchronize its pending indicator.
type QueueStatusResponse struct {
	Pending bool               `json:"pending"`
	Entry   *models.QueueEntry `json:"entry,omitempty"`
}

// DualEmploymentResponse lists the candidate's employers that overlap with
// the latest reported one.
type DualEmploymentResponse struct {
	UAN        string                        `json:"uan"`
	Results    []models.DualEmploymentResult `json:"results"`
	VerifiedAt time.Time                     `json:"verified_at"`
}
