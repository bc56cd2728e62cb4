package services

import (
	"errors"
	"strings"

	"github.com/natours/apiserver/internal/store"
)

// Expected outcomes. Callers branch on them with errors.Is; anything else is
// an internal failure.
var (
	ErrValidation            = errors.New("validation failed")
	ErrInvalidCredentials    = errors.New("incorrect email or password")
	ErrUnauthenticated       = errors.New("you are not logged in, please log in to get access")
	ErrForbidden             = errors.New("you do not have permission to perform this action")
	ErrTokenInvalidOrExpired = errors.New("token is invalid or has expired")
	ErrDeliveryFailed        = errors.New("there was an error sending the email, try again later")
	ErrAccountNotFound       = errors.New("there is no user with that email address")
	ErrDuplicateKey          = store.ErrDuplicateKey
)

// Error is an expected outcome with a message that is safe to show clients.
type Error struct {
	Kind    error
	Message string
	cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind error, message string, cause error) error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

func invalid(message string) error {
	return newError(ErrValidation, message)
}

// storeError turns store validation and uniqueness failures into expected
// outcomes and leaves everything else untouched.
func storeError(err error) error {
	switch {
	case errors.Is(err, store.ErrInvalidRecord):
		msg := strings.TrimPrefix(err.Error(), store.ErrInvalidRecord.Error()+": ")
		return wrapError(ErrValidation, msg, err)
	case errors.Is(err, store.ErrDuplicateKey):
		return wrapError(ErrDuplicateKey, "an account with this email already exists", err)
	default:
		return err
	}
}
