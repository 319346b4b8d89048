// Package errdefs defines the error taxonomy shared across the portal.
// Callers classify failures with errors.Is/errors.As rather than string
// matching.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated indicates missing or invalid credentials
	// (no session, or the tracker rejected the email/token pair).
	ErrUnauthenticated = errors.New("authentication required")

	// ErrForbidden indicates the caller is authenticated but lacks
	// admin-group membership for a PII request.
	ErrForbidden = errors.New("not authorized")

	// ErrNotFound indicates a missing ticket, transition or attachment.
	ErrNotFound = errors.New("not found")

	// ErrTicketBusy indicates an extraction run is already in progress
	// for the same ticket key.
	ErrTicketBusy = errors.New("extraction already in progress for ticket")
)

// UpstreamError carries the status code and response body of a non-success
// response from an external collaborator (tracker, PII store, chat webhook).
type UpstreamError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s responded %d: %s", e.Service, e.StatusCode, e.Body)
}

// ParseError marks a single input file as unreadable. It never fails the
// whole pipeline run, only the file it names.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
