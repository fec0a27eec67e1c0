package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict means the identity provider already holds a user with the same username or email.
	ErrConflict = errors.New("user already exists")
	// ErrNotFound means the requested user has no record at the identity provider.
	ErrNotFound = errors.New("user not found")
	// ErrUpstream covers any other failed call to the identity provider.
	ErrUpstream = errors.New("identity provider failure")
	// ErrValidation marks malformed input rejected before reaching the provider.
	ErrValidation = errors.New("invalid input")
)

// DirectoryError is a domain error raised by the user directory adapter.
// Kind is one of the sentinels above and is what errors.Is matches against.
type DirectoryError struct {
	Kind   error
	Op     string
	Status int
	Reason string
}

func (e *DirectoryError) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *DirectoryError) Unwrap() error { return e.Kind }

// ProviderError is returned by identity provider clients for non-success responses.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("identity provider: status %d", e.StatusCode)
	}
	return fmt.Sprintf("identity provider: status %d: %s", e.StatusCode, e.Message)
}
