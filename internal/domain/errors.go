package domain

import "fmt"

// Error types for consistent error handling across the ledger.

// ErrNotAuthenticated indicates a remote-dependent flow ran without an identity.
type ErrNotAuthenticated struct {
	Reason string
}

func (e *ErrNotAuthenticated) Error() string {
	if e.Reason != "" {
		return "not authenticated: " + e.Reason
	}
	return "not authenticated"
}

// ErrRemoteRejected indicates the remote store refused a write or query
// (constraint or validation failure). It is surfaced verbatim, never retried.
type ErrRemoteRejected struct {
	Table string
	Op    string
	Err   error
}

func (e *ErrRemoteRejected) Error() string {
	return fmt.Sprintf("remote rejected %s on %s: %v", e.Op, e.Table, e.Err)
}

func (e *ErrRemoteRejected) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a transport failure talking to an external service.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrConflict indicates the operation conflicts with existing data,
// e.g. deleting an account that transactions still reference.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}
