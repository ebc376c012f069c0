package domain

import (
	"errors"
	"fmt"
)

// ============================================================
// Ledger error taxonomy
// ============================================================

// ErrNotFound indicates an owner-scoped record does not exist. Records of
// other owners are reported the same way.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Resource, e.ID)
}

// IsNotFound reports whether err is (or wraps) an ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

// ErrValidation rejects caller input. Field names the JSON field at fault.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ErrConflict indicates the request clashes with stored state, such as
// deleting a card that still has unpaid installments or a duplicate key.
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrPersistence indicates the ledger store failed. The service never
// retries these; the store client may retry reads before giving up.
type ErrPersistence struct {
	Store string
	Err   error
}

func (e *ErrPersistence) Error() string {
	return fmt.Sprintf("%s store: %v", e.Store, e.Err)
}

func (e *ErrPersistence) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates a store call exceeded its deadline.
type ErrTimeout struct {
	Operation string
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("%s timed out", e.Operation)
}

// ErrCircuitOpen indicates the store's circuit breaker is rejecting calls.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("%s temporarily unavailable (circuit open)", e.Service)
}

// ErrUnauthorized indicates a missing, invalid or expired access token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}
