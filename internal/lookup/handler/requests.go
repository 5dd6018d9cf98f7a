package handler

import (
	"encoding/json"
	"strings"

	"github.com/asaskevich/govalidator"

	"verigate/internal/employment"
	"verigate/internal/lookup/models"
	dErrors "verigate/pkg/domain-errors"
)

// LookupRequest is the body of POST /v1/candidates/{candidateID}/lookups.
type LookupRequest struct {
	LookupType      string `json:"lookup_type"`
	Value           string `json:"value"`
	CandidateMobile string `json:"candidate_mobile,omitempty"`
	EmployerName    string `json:"employer_name,omitempty"`

	parsedType models.LookupType
}

func (r *LookupRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if !govalidator.StringLength(r.Value, "1", "64") {
		return dErrors.New(dErrors.CodeValidation, "value must be 1 to 64 characters")
	}
	if len(r.EmployerName) > 256 {
		return dErrors.New(dErrors.CodeValidation, "employer_name must be at most 256 characters")
	}
	if r.CandidateMobile != "" && !govalidator.Matches(r.CandidateMobile, `^[0-9+\-\s()]{6,20}$`) {
		return dErrors.New(dErrors.CodeValidation, "candidate_mobile is not a phone number")
	}
	lt, err := models.ParseLookupType(r.LookupType)
	if err != nil {
		return err
	}
	r.parsedType = lt
	return nil
}

func (r *LookupRequest) ParsedType() models.LookupType {
	return r.parsedType
}

// DualEmploymentRequest is the body of POST /v1/candidates/{candidateID}/dual-employment.
type DualEmploymentRequest struct {
	UAN         string                        `json:"uan"`
	WorkHistory []employment.WorkHistoryEntry `json:"work_history"`
}

func (r *DualEmploymentRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.UAN = strings.TrimSpace(r.UAN)
	if !govalidator.IsNumeric(r.UAN) || !govalidator.StringLength(r.UAN, "12", "12") {
		return dErrors.New(dErrors.CodeValidation, "uan must be 12 digits")
	}
	if len(r.WorkHistory) > 50 {
		return dErrors.New(dErrors.CodeValidation, "work_history must have at most 50 entries")
	}
	return nil
}

// CallbackRequest is a provider's completion of a deferred job.
type CallbackRequest struct {
	CandidateID string          `json:"candidate_id"`
	LookupType  string          `json:"lookup_type"`
	LookupValue string          `json:"lookup_value"`
	StatusCode  *int            `json:"status_code"`
	Data        json.RawMessage `json:"data,omitempty"`
	Message     string          `json:"message,omitempty"`

	parsedType models.LookupType
}

func (r *CallbackRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if !govalidator.StringLength(r.CandidateID, "1", "128") {
		return dErrors.New(dErrors.CodeValidation, "candidate_id is required")
	}
	if r.StatusCode == nil {
		return dErrors.New(dErrors.CodeValidation, "status_code is required")
	}
	switch *r.StatusCode {
	case models.StatusFailed, models.StatusSuccess, models.StatusNotFound:
	default:
		return dErrors.New(dErrors.CodeValidation, "status_code must be 0, 1 or 9")
	}
	if len(r.Data) > 0 && !govalidator.IsJSON(string(r.Data)) {
		return dErrors.New(dErrors.CodeValidation, "data must be JSON")
	}
	lt, err := models.ParseLookupType(r.LookupType)
	if err != nil {
		return err
	}
	r.parsedType = lt
	return nil
}

// parseTypes reads a comma separated ?types= filter. Empty means all.
func parseTypes(raw string) ([]models.LookupType, error) {
	var types []models.LookupType
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		lt, err := models.ParseLookupType(part)
		if err != nil {
			return nil, err
		}
		types = append(types, lt)
	}
	return types, nil
}
