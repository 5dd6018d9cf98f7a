package handler

import (
	"errors"
	"fmt"
	"net/http"

	"verigate/internal/lookup/models"
	dErrors "verigate/pkg/domain-errors"
	"verigate/pkg/platform/httputil"
)

// Level is the severity of a user-visible notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is the single user-visible message for a lookup attempt or
// an asynchronous completion.
type Notification struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Notify translates a coordinator result into the notification shown to the
// operator who requested it.
func Notify(outcome *models.LookupOutcome, err error) Notification {
	if err != nil {
		return notifyError(err)
	}
	if outcome == nil {
		return Notification{Level: LevelError, Message: "Verification failed"}
	}
	switch outcome.Kind {
	case models.OutcomeQueued, models.OutcomeAlreadyQueued:
		return Notification{Level: LevelInfo, Message: "Verification in progress"}
	case models.OutcomeCachedNotFound:
		return Notification{Level: LevelWarning, Message: notFoundMessage(outcome.Record)}
	default:
		if outcome.Record == nil {
			return Notification{Level: LevelError, Message: "Verification failed"}
		}
		return NotifyRecord(*outcome.Record)
	}
}

// NotifyRecord is the notification for a recorded result, including the
// later one delivered when a queued job completes.
func NotifyRecord(record models.LookupRecord) Notification {
	switch {
	case record.IsSuccess():
		return Notification{Level: LevelSuccess, Message: fmt.Sprintf("%s verified", label(record.LookupType))}
	case record.IsNegative():
		return Notification{Level: LevelWarning, Message: notFoundMessage(&record)}
	case record.Message != "":
		return Notification{Level: LevelError, Message: record.Message}
	default:
		return Notification{Level: LevelError, Message: fmt.Sprintf("%s verification failed", label(record.LookupType))}
	}
}

// ErrorResponse is the error body of the lookup endpoints. It carries the
// notification for the failure next to the usual error fields.
type ErrorResponse struct {
	httputil.ErrorResponse
	Notification Notification `json:"notification"`
}

func writeLookupError(w http.ResponseWriter, err error) {
	httputil.WriteJSON(w, httputil.StatusFor(dErrors.CodeOf(err)), &ErrorResponse{
		ErrorResponse: httputil.NewErrorResponse(err),
		Notification:  Notify(nil, err),
	})
}

func notifyError(err error) Notification {
	var de *dErrors.Error
	if !errors.As(err, &de) || de.Code == dErrors.CodeInternal {
		return Notification{Level: LevelError, Message: "Verification failed, please try again"}
	}
	if de.Code == dErrors.CodeConflict {
		return Notification{Level: LevelInfo, Message: de.Message}
	}
	return Notification{Level: LevelError, Message: de.Message}
}

func notFoundMessage(record *models.LookupRecord) string {
	if record != nil && record.Message != "" {
		return record.Message
	}
	if record != nil {
		return fmt.Sprintf("No record found for this %s", label(record.LookupType))
	}
	return "No record found"
}

func label(t models.LookupType) string {
	switch t.DocType() {
	case "PAN", "UAN":
		return t.DocType()
	case "MOBILE":
		return "Mobile number"
	default:
		return string(t)
	}
}
