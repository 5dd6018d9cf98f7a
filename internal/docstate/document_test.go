package docstate

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"verigate/internal/lookup/models"
)

type DocumentSuite struct {
	suite.Suite
	doc *Document
	now time.Time
}

func TestDocumentSuite(t *testing.T) {
	suite.Run(t, new(DocumentSuite))
}

func (s *DocumentSuite) SetupTest() {
	s.doc = NewDocument(models.LookupPANVerification)
	s.now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
}

func (s *DocumentSuite) record(status int, message string) models.LookupRecord {
	return models.LookupRecord{
		ID:          uuid.New(),
		CandidateID: "cand-1",
		LookupType:  models.LookupPANVerification,
		LookupValue: "ABCDE1234F",
		StatusCode:  status,
		Message:     message,
		CreatedAt:   s.now,
	}
}

func (s *DocumentSuite) edit(value string) {
	s.Require().NoError(s.doc.BeginEdit())
	s.Require().NoError(s.doc.SetValue(value))
}

// =============================================================================
// Editing
// =============================================================================

func (s *DocumentSuite) TestEditing() {
	s.Run("cancel returns to previous phase", func() {
		s.edit("ABCDE1234F")
		s.Equal(PhaseEditing, s.doc.Phase)
		s.Require().NoError(s.doc.CancelEdit())
		s.Equal(PhaseIdle, s.doc.Phase)
		s.Empty(s.doc.Value)
	})

	s.Run("set value outside editing fails", func() {
		s.ErrorIs(s.doc.SetValue("x"), ErrInvalidTransition)
	})

	s.Run("verify without value fails", func() {
		s.ErrorIs(s.doc.BeginVerify(), ErrEmptyValue)
	})
}

func (s *DocumentSuite) TestVerifiedDocumentIsLocked() {
	s.edit("ABCDE1234F")
	s.Require().NoError(s.doc.BeginVerify())
	s.True(s.doc.ApplyRecord(s.record(models.StatusSuccess, "")))

	s.ErrorIs(s.doc.BeginEdit(), ErrContactAdmin)
	s.ErrorIs(s.doc.BeginVerify(), ErrContactAdmin)
	s.EqualError(ErrContactAdmin, "verified document cannot be edited, contact admin")

	s.doc.AdminOverride()
	s.Require().NoError(s.doc.BeginEdit())
	s.Require().NoError(s.doc.SetValue("ZZZZZ9999Z"))
	s.Require().NoError(s.doc.BeginVerify())
	s.Equal("ZZZZZ9999Z", s.doc.Value)
}

// =============================================================================
// Outcomes and records
// =============================================================================

func (s *DocumentSuite) TestApplyOutcome() {
	s.Run("queued", func() {
		s.SetupTest()
		s.edit("ABCDE1234F")
		s.Require().NoError(s.doc.BeginVerify())
		s.Require().NoError(s.doc.ApplyOutcome(models.Queued(&models.QueueEntry{}, "pending")))
		s.True(s.doc.IsQueued())
	})

	s.Run("completed success", func() {
		s.SetupTest()
		s.edit("abcde1234f")
		s.Require().NoError(s.doc.BeginVerify())
		rec := s.record(models.StatusSuccess, "")
		s.Require().NoError(s.doc.ApplyOutcome(models.Completed(&rec)))
		s.True(s.doc.IsVerified())
		s.Equal("ABCDE1234F", s.doc.Value)
		s.Equal(s.now, *s.doc.VerificationDate)
	})

	s.Run("cached not found fails with reason", func() {
		s.SetupTest()
		s.edit("ABCDE1234F")
		s.Require().NoError(s.doc.BeginVerify())
		rec := s.record(models.StatusNotFound, "")
		s.Require().NoError(s.doc.ApplyOutcome(models.CachedNotFound(&rec)))
		s.Equal(PhaseFailed, s.doc.Phase)
		s.Equal(NotFoundReason, s.doc.FailureReason)
	})

	s.Run("nil outcome rejected", func() {
		s.ErrorIs(s.doc.ApplyOutcome(nil), ErrInvalidTransition)
	})
}

func (s *DocumentSuite) TestApplyRecordIsIdempotent() {
	s.edit("ABCDE1234F")
	s.Require().NoError(s.doc.BeginVerify())
	s.Require().NoError(s.doc.ApplyOutcome(models.Queued(&models.QueueEntry{}, "")))

	rec := s.record(models.StatusSuccess, "")
	s.True(s.doc.ApplyRecord(rec))
	s.False(s.doc.ApplyRecord(rec))
	s.True(s.doc.IsVerified())
	s.False(s.doc.IsQueued())
}

func (s *DocumentSuite) TestFailureNeverDowngradesVerified() {
	s.True(s.doc.ApplyRecord(s.record(models.StatusSuccess, "")))
	s.False(s.doc.ApplyRecord(s.record(models.StatusFailed, "Provider timed out")))
	s.True(s.doc.IsVerified())
	s.ErrorIs(s.doc.Fail("nope"), ErrInvalidTransition)
}

func (s *DocumentSuite) TestAsyncFailureKeepsProviderMessage() {
	s.edit("ABCDE1234F")
	s.Require().NoError(s.doc.BeginVerify())
	s.True(s.doc.ApplyRecord(s.record(models.StatusFailed, "Invalid PAN")))
	s.Equal(PhaseFailed, s.doc.Phase)
	s.Equal("Invalid PAN", s.doc.FailureReason)
}

func (s *DocumentSuite) TestRecordForOtherTypeIgnored() {
	rec := s.record(models.StatusSuccess, "")
	rec.LookupType = models.LookupMobile
	s.False(s.doc.ApplyRecord(rec))
	s.Equal(PhaseIdle, s.doc.Phase)
}

// =============================================================================
// Dual employment
// =============================================================================

func (s *DocumentSuite) TestDualEmployment() {
	doc := NewDocument(models.LookupUANFullHistory)
	s.Require().NoError(doc.BeginEdit())
	s.Require().NoError(doc.SetValue("100200300400"))
	s.Require().NoError(doc.BeginVerify())

	results := []models.DualEmploymentResult{{EstablishmentName: "Acme", ExitDate: "NA", Overlap: true}}
	s.Require().NoError(doc.CompleteDualEmployment(results, s.now))
	s.True(doc.IsVerified())
	s.True(doc.DetailsExpanded)
	s.Equal(results, doc.DualEmployment)

	other := NewDocument(models.LookupUANFullHistory)
	s.ErrorIs(other.CompleteDualEmployment(results, s.now), ErrInvalidTransition)

	s.Require().NoError(other.BeginEdit())
	s.Require().NoError(other.SetValue("1"))
	s.Require().NoError(other.BeginVerify())
	s.Require().NoError(other.Fail("No employment history"))
	s.NotNil(other.DualEmployment)
	s.Empty(other.DualEmployment)
}

func (s *DocumentSuite) TestCloneIsIndependent() {
	s.True(s.doc.ApplyRecord(s.record(models.StatusSuccess, "")))
	clone := s.doc.Clone()
	*clone.VerificationDate = time.Time{}
	s.Equal(s.now, *s.doc.VerificationDate)
}
