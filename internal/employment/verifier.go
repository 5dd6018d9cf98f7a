// Package employment checks a candidate's UAN for concurrent employment
// with the employer the candidate last reported.
package employment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"verigate/internal/lookup/models"
	historyprovider "verigate/internal/lookup/providers/employment"
	dErrors "verigate/pkg/domain-errors"
)

var (
	ErrMissingEmployer     = dErrors.New(dErrors.CodeValidation, "work history has no employer")
	ErrVerificationPending = dErrors.New(dErrors.CodeConflict, "employment verification is still in progress")
	ErrNoEmploymentHistory = dErrors.New(dErrors.CodeNotFound, "no employment history found for this UAN")
)

// WorkHistoryEntry is one employer the candidate reported.
type WorkHistoryEntry struct {
	Company string `json:"company"`
	Years   string `json:"years"`
}

type VerifyRequest struct {
	CandidateID    string
	UAN            string
	WorkHistory    []WorkHistoryEntry
	OrganizationID string
	UserID         string
}

// LookupRequester runs one lookup attempt.
type LookupRequester interface {
	RequestLookup(ctx context.Context, req models.LookupRequest) (*models.LookupOutcome, error)
}

type Verifier struct {
	lookups LookupRequester
	logger  *slog.Logger
}

type Option func(*Verifier)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

func New(lookups LookupRequester, opts ...Option) (*Verifier, error) {
	if lookups == nil {
		return nil, fmt.Errorf("lookup requester is required")
	}
	v := &Verifier{lookups: lookups, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// LatestEmployer returns the company of the entry whose years start latest.
// Ties keep the reported order; unparsable years sort as zero.
func LatestEmployer(history []WorkHistoryEntry) (string, error) {
	if len(history) == 0 {
		return "", ErrMissingEmployer
	}
	sorted := append([]WorkHistoryEntry(nil), history...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return startYear(sorted[i].Years) > startYear(sorted[j].Years)
	})
	company := strings.TrimSpace(sorted[0].Company)
	if company == "" {
		return "", ErrMissingEmployer
	}
	return company, nil
}

func startYear(years string) int {
	s := strings.TrimSpace(years)
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	if end >= 0 {
		s = s[:end]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Verify requests the UAN's full history filtered against the latest
// employer and returns the employer findings.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest) ([]models.DualEmploymentResult, error) {
	employer, err := LatestEmployer(req.WorkHistory)
	if err != nil {
		return nil, err
	}
	outcome, err := v.lookups.RequestLookup(ctx, models.LookupRequest{
		CandidateID:    req.CandidateID,
		OrganizationID: req.OrganizationID,
		UserID:         req.UserID,
		LookupType:     models.LookupUANFullHistory,
		RawValue:       req.UAN,
		EmployerName:   employer,
	})
	if err != nil {
		return nil, err
	}

	switch outcome.Kind {
	case models.OutcomeQueued, models.OutcomeAlreadyQueued:
		return nil, ErrVerificationPending
	case models.OutcomeCachedNotFound:
		return nil, ErrNoEmploymentHistory
	}
	record := outcome.Record
	if record == nil || record.IsNegative() {
		return nil, ErrNoEmploymentHistory
	}
	if !record.IsSuccess() {
		return nil, dErrors.New(dErrors.CodeProvider, record.Message)
	}
	results, err := historyprovider.ParseEmployers(record.ResponseData)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProvider, "employment history could not be read")
	}
	v.logger.InfoContext(ctx, "dual employment verified",
		"candidate_id", req.CandidateID,
		"employer", employer,
		"employers_found", len(results),
	)
	return results, nil
}
