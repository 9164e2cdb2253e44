// Package apperror defines the error vocabulary shared by every layer.
//
// Lower layers return (or wrap) one of the sentinel errors below; the HTTP
// layer is the only place that turns them into status codes, redirects or
// user-facing messages. Callers test for a kind with errors.Is and extract
// the human-readable message with errors.As(err, &*AppError).
package apperror

import (
	"errors"
	"fmt"
)

// Generic kinds used by the CRUD parts of the application.
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// OAuth login failure kinds. Each one ends a single login attempt and is
// surfaced to the browser only as an opaque error code.
var (
	// ErrConfiguration means the provider is unknown or has no client
	// credentials. The login option must be hidden, not attempted.
	ErrConfiguration = errors.New("provider not configured")

	// ErrInvalidState covers a missing, unknown, expired, replayed or
	// provider-mismatched state token. Which check failed is never revealed.
	ErrInvalidState = errors.New("invalid oauth state")

	// ErrOAuthExchange is a failed authorization-code exchange.
	ErrOAuthExchange = errors.New("oauth code exchange failed")

	// ErrOAuthProfile is a failed or unparseable profile fetch.
	ErrOAuthProfile = errors.New("oauth profile fetch failed")

	// ErrResolution means the profile could not be mapped to an account,
	// e.g. username disambiguation ran out of candidates.
	ErrResolution = errors.New("account resolution failed")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized returns an AppError for failed or missing authentication.
// The message is shown to the user, so it must not say which part failed.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// OAuth wraps cause under one of the OAuth failure kinds. The cause stays in
// the chain for logging; Message is the generic text safe to show a user.
//
//	return apperror.OAuth(apperror.ErrOAuthExchange, err)
func OAuth(kind error, cause error) *AppError {
	msg := "sign-in failed, please try again"
	switch kind {
	case ErrConfiguration:
		msg = "this sign-in option is not available"
	case ErrResolution:
		msg = "could not create your account, please try again"
	}
	return &AppError{
		Err:     &kindError{kind: kind, cause: cause},
		Message: msg,
	}
}

// kindError lets errors.Is match both the kind sentinel and the original
// cause (e.g. a *oauth2.RetrieveError) through a single AppError.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

func (e *kindError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}
