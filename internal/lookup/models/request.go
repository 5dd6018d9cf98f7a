package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// LookupRequest is a caller's request to verify one document value.
type LookupRequest struct {
	CandidateID     string
	OrganizationID  string
	UserID          string
	LookupType      LookupType
	RawValue        string
	CandidateMobile string
	EmployerName    string
}

// ProviderCall is what an executor receives after validation and normalization.
type ProviderCall struct {
	TransactionID   string
	CandidateID     string
	OrganizationID  string
	UserID          string
	LookupType      LookupType
	Value           string
	CandidateMobile string
	EmployerName    string
}

// NewTransactionID builds the caller-generated, per-attempt transaction ID.
// Providers do not deduplicate, so every attempt must get a fresh one.
func NewTransactionID(candidateID string, t LookupType, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", candidateID, t.DocType(), at.UnixMilli())
}

// ProviderAnswer is an executor's normalized answer.
type ProviderAnswer struct {
	// Deferred is set when the provider will answer out of band.
	Deferred      bool
	ProviderJobID string
	StatusCode    int
	Data          json.RawMessage
	Message       string
}

// OutcomeKind tags a LookupOutcome.
type OutcomeKind string

const (
	OutcomeCompleted      OutcomeKind = "completed"
	OutcomeCachedNotFound OutcomeKind = "cached_not_found"
	OutcomeAlreadyQueued  OutcomeKind = "already_queued"
	OutcomeQueued         OutcomeKind = "queued"
)

// LookupOutcome is the coordinator's structured result. Record is set for
// Completed and CachedNotFound; Entry for Queued and AlreadyQueued.
type LookupOutcome struct {
	Kind    OutcomeKind   `json:"kind"`
	Record  *LookupRecord `json:"record,omitempty"`
	Entry   *QueueEntry   `json:"entry,omitempty"`
	Message string        `json:"message,omitempty"`
}

func Completed(record *LookupRecord) *LookupOutcome {
	return &LookupOutcome{Kind: OutcomeCompleted, Record: record, Message: record.Message}
}

func CachedNotFound(record *LookupRecord) *LookupOutcome {
	return &LookupOutcome{Kind: OutcomeCachedNotFound, Record: record}
}

func AlreadyQueued(entry *QueueEntry) *LookupOutcome {
	return &LookupOutcome{Kind: OutcomeAlreadyQueued, Entry: entry}
}

func Queued(entry *QueueEntry, message string) *LookupOutcome {
	return &LookupOutcome{Kind: OutcomeQueued, Entry: entry, Message: message}
}

// Event announces that a lookup record was created, by any process.
type Event struct {
	Record      LookupRecord `json:"record"`
	PublishedAt time.Time    `json:"published_at"`
}

// CompletionSource is how a deferred job's answer arrived.
type CompletionSource string

const (
	SourcePush      CompletionSource = "push"
	SourcePoll      CompletionSource = "poll"
	SourceExhausted CompletionSource = "exhausted"
)

// Completion is a deferred job's final answer.
type Completion struct {
	CandidateID string
	LookupType  LookupType
	LookupValue string
	StatusCode  int
	Data        json.RawMessage
	Message     string
	Source      CompletionSource
}
