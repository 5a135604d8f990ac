package services

import (
	"errors"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/Qrinee/m2backend/internal/validation"
)

var (
	// ErrForbidden is returned when the caller may not act on a resource.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict is returned when a write collides with an existing document.
	ErrConflict = errors.New("conflict")
	// ErrEmailExists is returned when registering or changing to a taken address.
	ErrEmailExists = &conflictError{msg: "Użytkownik z tym adresem email już istnieje"}
	// ErrInvalidCredentials is returned for a wrong email or password.
	ErrInvalidCredentials = errors.New("Nieprawidłowy email lub hasło")
	// ErrInactiveAccount is returned when a deactivated user tries to log in.
	ErrInactiveAccount = errors.New("Konto jest nieaktywne")
	// ErrInvalidResetToken is returned for unknown, used or expired reset tokens.
	ErrInvalidResetToken = errors.New("Link resetujący jest nieprawidłowy lub wygasł")
)

type conflictError struct {
	msg string
}

func (e *conflictError) Error() string { return e.msg }
func (e *conflictError) Unwrap() error { return ErrConflict }

// ValidationError reports rejected input. Nothing has been written when it is returned.
type ValidationError struct {
	Message string
	Fields  []validation.FieldError
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError with a single message.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// fromRequestValidation converts a validator failure, or returns nil.
func fromRequestValidation(verr *validation.RequestValidationError) error {
	if verr == nil {
		return nil
	}
	return &ValidationError{Message: verr.Error(), Fields: verr.Errors()}
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
