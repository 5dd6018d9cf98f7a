package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "verigate/pkg/domain-errors"
)

// LookupType identifies what a lookup asks the provider for.
type LookupType string

const (
	LookupMobileToUAN     LookupType = "mobile_to_uan"
	LookupPANToUAN        LookupType = "pan_to_uan"
	LookupUANFullHistory  LookupType = "uan_full_history"
	LookupMobile          LookupType = "mobile"
	LookupPAN             LookupType = "pan"
	LookupPANVerification LookupType = "pan_verification"
)

var lookupTypes = map[LookupType]struct{}{
	LookupMobileToUAN:     {},
	LookupPANToUAN:        {},
	LookupUANFullHistory:  {},
	LookupMobile:          {},
	LookupPAN:             {},
	LookupPANVerification: {},
}

// ParseLookupType validates a lookup type received from a caller.
func ParseLookupType(s string) (LookupType, error) {
	t := LookupType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unsupported lookup type %q", s))
	}
	return t, nil
}

func (t LookupType) IsValid() bool {
	_, ok := lookupTypes[t]
	return ok
}

func (t LookupType) String() string {
	return string(t)
}

// IsMobile reports whether the lookup value is a mobile number.
func (t LookupType) IsMobile() bool {
	return t == LookupMobile || t == LookupMobileToUAN
}

// RequiresCandidateMobile is true for PAN based UAN searches; the provider
// runs a two-factor identity check against the candidate's mobile.
func (t LookupType) RequiresCandidateMobile() bool {
	return t == LookupPAN || t == LookupPANToUAN
}

// RequiresEmployer is true when the provider needs the latest employer name.
func (t LookupType) RequiresEmployer() bool {
	return t == LookupUANFullHistory
}

// DocType is the short document code used in transaction IDs.
func (t LookupType) DocType() string {
	switch t {
	case LookupMobile, LookupMobileToUAN:
		return "MOBILE"
	case LookupPAN, LookupPANToUAN, LookupPANVerification:
		return "PAN"
	case LookupUANFullHistory:
		return "UAN"
	default:
		return strings.ToUpper(string(t))
	}
}

// Normalize reduces a raw lookup value to the form used for caching and
// provider calls: mobile numbers keep their last 10 digits, everything else
// is trimmed and passed through as entered.
func Normalize(t LookupType, raw string) (string, error) {
	var value string
	switch {
	case t.IsMobile():
		value = lastDigits(raw, 10)
	default:
		value = strings.TrimSpace(raw)
	}
	if value == "" {
		return "", dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s value is required", t))
	}
	return value, nil
}

// NormalizeMobile applies mobile normalization to a free-form number.
func NormalizeMobile(raw string) string {
	return lastDigits(raw, 10)
}

func lastDigits(raw string, n int) string {
	digits := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] >= '0' && raw[i] <= '9' {
			digits = append(digits, raw[i])
		}
	}
	if len(digits) > n {
		digits = digits[len(digits)-n:]
	}
	return string(digits)
}

// Provider status codes stored on lookup records.
const (
	// StatusFailed is assigned by the engine when a deferred job fails.
	StatusFailed = 0
	// StatusSuccess is the provider's success code.
	StatusSuccess = 1
	// StatusNotFound means the provider definitively has no data for the value.
	StatusNotFound = 9
)

// LookupRecord is one completed provider response. Records are append-only.
type LookupRecord struct {
	ID           uuid.UUID       `json:"id"`
	CandidateID  string          `json:"candidate_id"`
	LookupType   LookupType      `json:"lookup_type"`
	LookupValue  string          `json:"lookup_value"`
	ResponseData json.RawMessage `json:"response_data,omitempty"`
	StatusCode   int             `json:"status_code"`
	Message      string          `json:"message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// IsNegative reports a permanent "not found" result.
func (r *LookupRecord) IsNegative() bool {
	return r != nil && r.StatusCode == StatusNotFound
}

func (r *LookupRecord) IsSuccess() bool {
	return r != nil && r.StatusCode == StatusSuccess
}

// QueueStatus is the lifecycle of a deferred provider job.
type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusCompleted QueueStatus = "completed"
)

// QueueEntry tracks a job the provider answers out of band.
type QueueEntry struct {
	ID            uuid.UUID   `json:"id"`
	CandidateID   string      `json:"candidate_id"`
	LookupType    LookupType  `json:"lookup_type"`
	LookupValue   string      `json:"lookup_value"`
	ProviderJobID string      `json:"provider_job_id,omitempty"`
	Status        QueueStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

func (e *QueueEntry) IsPending() bool {
	return e != nil && e.Status == QueueStatusPending
}
