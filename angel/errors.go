package angel

import (
	"errors"
	"fmt"
)

var (
	ErrReminderNotFound     = errors.New("reminder not found")
	ErrEmptyReminderMessage = errors.New("reminder message can't be empty")
	ErrReminderMessageLong  = errors.New("reminder message is too long")
	ErrMissingChannel       = errors.New("reminder channel is required")
	ErrMissingCreator       = errors.New("reminder creator is required")
	ErrInvalidReminderTime  = errors.New("couldn't understand the reminder time")
	ErrReminderInPast       = errors.New("reminder time is in the past")
	ErrInvalidInterval      = errors.New("recurrence interval must be at least one minute")
	ErrInvalidMention       = errors.New("invalid mention target")
	ErrInvalidTrait         = errors.New("invalid trait")

	ErrUpstreamTimeout     = errors.New("upstream request timed out")
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	ErrNotConfigured       = errors.New("service not configured")
)

// ValidationError is bad user input. Message is shown to the user as-is.
type ValidationError struct {
	Err     error
	Message string
}

func newValidationError(err error, format string, args ...any) *ValidationError {
	return &ValidationError{Err: err, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ExternalError is a failed call to a third party (AI, image or gift
// code source). Err wraps ErrUpstreamTimeout or ErrUpstreamUnavailable.
type ExternalError struct {
	Service string
	Err     error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Service, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

// userErrorMessage renders err for a Discord reply. Anything that isn't
// a validation or upstream failure is reported with the generic message.
func userErrorMessage(err error, generic string) string {
	var validationErr *ValidationError
	var externalErr *ExternalError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &validationErr):
		if validationErr.Message != "" {
			return "❌ " + validationErr.Message
		}
		return "❌ " + validationErr.Err.Error()
	case errors.Is(err, ErrReminderNotFound):
		return "❌ Reminder not found, or it isn't yours to delete."
	case errors.Is(err, ErrNotConfigured):
		return "⚠️ This feature isn't configured on this bot."
	case errors.As(err, &externalErr) && errors.Is(err, ErrUpstreamTimeout):
		return fmt.Sprintf(
			"⏱️ The %s took too long to respond. Please try again later.",
			externalErr.Service,
		)
	case errors.As(err, &externalErr):
		return fmt.Sprintf(
			"⚠️ The %s is unavailable right now. Please try again later.",
			externalErr.Service,
		)
	default:
		return generic
	}
}
