package response

import (
	"errors"
	"net/http"

	"github.com/cmlabs-hris/attendance-engine/internal/domain/attendance"
	"github.com/cmlabs-hris/attendance-engine/internal/pkg/validator"
)

// HandleError maps domain errors to HTTP responses
func HandleError(w http.ResponseWriter, err error) {
	// Check if it's a validation error
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		ValidationError(w, validationErrs.ToMap())
		return
	}

	switch {
	// Caller errors
	case errors.Is(err, attendance.ErrEmployeeRequired):
		Forbidden(w, "An employee account is required")
	case errors.Is(err, attendance.ErrBusy):
		ConflictWithCode(w, "OPERATION_IN_PROGRESS", err.Error())
	case errors.Is(err, attendance.ErrSessionClosed):
		ServiceUnavailable(w, "Attendance session closed, please retry")

	// Check-in gates
	case errors.Is(err, attendance.ErrInvalidCoordinates):
		BadRequest(w, "Location unavailable or invalid", nil)
	case errors.Is(err, attendance.ErrAlreadyCheckedIn):
		ConflictWithCode(w, attendance.CodeAlreadyCheckedIn, validationMessage(err))
	case errors.Is(err, attendance.ErrNoScheduleFound):
		UnprocessableEntity(w, "NO_SCHEDULE", validationMessage(err))
	case errors.Is(err, attendance.ErrNoWorkLocation):
		UnprocessableEntity(w, "NO_WORK_LOCATION", validationMessage(err))
	case errors.Is(err, attendance.ErrOutsideCheckinWindow):
		UnprocessableEntity(w, "OUTSIDE_CHECKIN_WINDOW", validationMessage(err))
	case errors.Is(err, attendance.ErrOutsideAllowedRadius):
		UnprocessableEntity(w, "OUTSIDE_ALLOWED_RADIUS", validationMessage(err))

	// Check-out gates
	case errors.Is(err, attendance.ErrNotCheckedIn):
		ConflictWithCode(w, attendance.CodeNotCheckedIn, validationMessage(err))

	// Classified engine errors
	case attendance.KindOf(err) == attendance.KindConflict:
		ConflictWithCode(w, attendance.CodeOf(err), err.Error())
	case attendance.KindOf(err) == attendance.KindTransport:
		BadGateway(w, "Attendance server unavailable, changes were reverted")
	case attendance.KindOf(err) == attendance.KindData:
		BadGateway(w, "Attendance server returned unreadable data")
	case attendance.KindOf(err) == attendance.KindValidation:
		UnprocessableEntity(w, "VALIDATION_ERROR", validationMessage(err))

	// Default
	default:
		InternalServerError(w, "An unexpected error occurred")
	}
}

// validationMessage prefers the classified message, which carries details
// such as the distance to the work location.
func validationMessage(err error) string {
	var e *attendance.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
