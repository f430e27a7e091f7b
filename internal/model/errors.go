package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a requested rule or transaction does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a bank account IBAN is already registered.
	// Duplicate transactions are counted by imports, never returned.
	ErrDuplicate = errors.New("duplicate")
	// ErrStaleReference reports rule or account data that can no longer be resolved.
	ErrStaleReference = errors.New("reference no longer valid")
)

// ValidationError describes a missing or malformed rule/condition field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every violation found in one input.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, ve := range v {
		msgs[i] = ve.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// PersistenceError is a batch-level storage failure. The batch was rolled back.
type PersistenceError struct {
	Op        string
	Attempted int
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: batch of %d records rolled back: %v", e.Op, e.Attempted, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
