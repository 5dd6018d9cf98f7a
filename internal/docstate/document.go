// Package docstate tracks the verification state of a candidate's documents
// as lookups are requested and their records arrive.
package docstate

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"verigate/internal/lookup/models"
	historyprovider "verigate/internal/lookup/providers/employment"
)

// Phase is the document's current state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseEditing   Phase = "editing"
	PhaseVerifying Phase = "verifying"
	PhaseQueued    Phase = "queued"
	PhaseVerified  Phase = "verified"
	PhaseFailed    Phase = "failed"
)

var (
	ErrContactAdmin      = errors.New("verified document cannot be edited, contact admin")
	ErrInvalidTransition = errors.New("invalid document state transition")
	ErrEmptyValue        = errors.New("document value is required")
)

// NotFoundReason is shown when the provider has no record of the value.
const NotFoundReason = "No record found for this document"

// Document is one verifiable document of a candidate. Fields besides Phase
// are only meaningful in the phases that set them.
type Document struct {
	Type             models.LookupType             `json:"type"`
	Phase            Phase                         `json:"phase"`
	Value            string                        `json:"value,omitempty"`
	Draft            string                        `json:"draft,omitempty"`
	VerificationDate *time.Time                    `json:"verification_date,omitempty"`
	FailureReason    string                        `json:"failure_reason,omitempty"`
	DualEmployment   []models.DualEmploymentResult `json:"dual_employment,omitempty"`
	DetailsExpanded  bool                          `json:"details_expanded,omitempty"`

	beforeEdit Phase
	overridden bool
	applied    map[uuid.UUID]struct{}
}

func NewDocument(t models.LookupType) *Document {
	return &Document{Type: t, Phase: PhaseIdle}
}

func (d *Document) IsVerified() bool { return d.Phase == PhaseVerified }
func (d *Document) IsQueued() bool   { return d.Phase == PhaseQueued }

// BeginEdit opens the value for editing. A verified document stays locked
// until AdminOverride.
func (d *Document) BeginEdit() error {
	switch d.Phase {
	case PhaseVerified:
		if !d.overridden {
			return ErrContactAdmin
		}
	case PhaseEditing:
		return nil
	case PhaseVerifying:
		return ErrInvalidTransition
	}
	d.beforeEdit = d.Phase
	d.Draft = d.Value
	d.Phase = PhaseEditing
	return nil
}

func (d *Document) SetValue(value string) error {
	if d.Phase != PhaseEditing {
		return ErrInvalidTransition
	}
	d.Draft = value
	return nil
}

// CancelEdit discards the draft and returns to the phase before editing.
func (d *Document) CancelEdit() error {
	if d.Phase != PhaseEditing {
		return ErrInvalidTransition
	}
	d.Draft = ""
	d.Phase = d.beforeEdit
	return nil
}

// BeginVerify marks a verification request as in flight. From Editing the
// draft becomes the value.
func (d *Document) BeginVerify() error {
	switch d.Phase {
	case PhaseEditing:
		d.Value = d.Draft
		d.Draft = ""
	case PhaseVerified:
		if !d.overridden {
			return ErrContactAdmin
		}
	case PhaseVerifying:
		return ErrInvalidTransition
	}
	if d.Value == "" {
		return ErrEmptyValue
	}
	d.Phase = PhaseVerifying
	d.FailureReason = ""
	return nil
}

// ApplyOutcome moves the document according to a lookup outcome.
func (d *Document) ApplyOutcome(outcome *models.LookupOutcome) error {
	if outcome == nil {
		return ErrInvalidTransition
	}
	switch outcome.Kind {
	case models.OutcomeCompleted, models.OutcomeCachedNotFound:
		if outcome.Record == nil {
			return ErrInvalidTransition
		}
		d.ApplyRecord(*outcome.Record)
	case models.OutcomeQueued, models.OutcomeAlreadyQueued:
		if d.Phase != PhaseVerified {
			d.Phase = PhaseQueued
		}
	default:
		return ErrInvalidTransition
	}
	return nil
}

// ApplyRecord applies a lookup record. The same record applied twice is a
// no-op, and a failure never downgrades a verified document. A successful
// full-history record also carries the employer findings. Reports whether
// the document changed.
func (d *Document) ApplyRecord(record models.LookupRecord) bool {
	if record.LookupType != d.Type {
		return false
	}
	if _, seen := d.applied[record.ID]; seen {
		return false
	}
	if d.applied == nil {
		d.applied = make(map[uuid.UUID]struct{})
	}
	d.applied[record.ID] = struct{}{}

	if record.IsSuccess() {
		at := record.CreatedAt
		d.Phase = PhaseVerified
		d.Value = record.LookupValue
		d.VerificationDate = &at
		d.FailureReason = ""
		d.overridden = false
		if record.LookupType == models.LookupUANFullHistory {
			d.applyEmployers(record)
		}
		return true
	}
	if d.Phase == PhaseVerified || d.Phase == PhaseEditing {
		return false
	}
	reason := record.Message
	if record.IsNegative() || reason == "" {
		reason = NotFoundReason
	}
	d.fail(reason)
	return true
}

func (d *Document) applyEmployers(record models.LookupRecord) {
	// unreadable history still verifies the UAN, with no findings
	results, _ := historyprovider.ParseEmployers(record.ResponseData)
	d.DualEmployment = append([]models.DualEmploymentResult{}, results...)
	d.DetailsExpanded = true
}

// Fail records a failed verification with a user-visible reason.
func (d *Document) Fail(reason string) error {
	if d.Phase == PhaseVerified {
		return ErrInvalidTransition
	}
	d.fail(reason)
	return nil
}

func (d *Document) fail(reason string) {
	d.Phase = PhaseFailed
	d.FailureReason = reason
	d.VerificationDate = nil
	d.DualEmployment = []models.DualEmploymentResult{}
	d.DetailsExpanded = false
}

// CompleteDualEmployment verifies a UAN document with its employer findings.
func (d *Document) CompleteDualEmployment(results []models.DualEmploymentResult, at time.Time) error {
	if d.Phase != PhaseVerifying && d.Phase != PhaseQueued {
		return ErrInvalidTransition
	}
	d.Phase = PhaseVerified
	d.DualEmployment = append([]models.DualEmploymentResult{}, results...)
	d.DetailsExpanded = true
	d.VerificationDate = &at
	d.FailureReason = ""
	d.overridden = false
	return nil
}

// AdminOverride unlocks a verified document for one edit and re-verify.
func (d *Document) AdminOverride() {
	d.overridden = true
}

// Clone returns a copy safe to hand to other goroutines.
func (d *Document) Clone() Document {
	c := *d
	c.applied = nil
	if d.VerificationDate != nil {
		at := *d.VerificationDate
		c.VerificationDate = &at
	}
	if d.DualEmployment != nil {
		c.DualEmployment = append([]models.DualEmploymentResult{}, d.DualEmployment...)
	}
	return c
}
