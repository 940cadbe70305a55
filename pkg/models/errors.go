package models

import (
	"errors"
	"fmt"
)

// MalformedEventError indicates a message that cannot be parsed into a
// ChangeEvent. Fatal: the message is dead-lettered and acknowledged.
type MalformedEventError struct {
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed change event: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed change event: %s", e.Reason)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

// UnknownSourceTableError indicates an event for a table outside the
// replicated set. Fatal: dead-lettered and acknowledged.
type UnknownSourceTableError struct {
	Table string
}

func (e *UnknownSourceTableError) Error() string {
	return fmt.Sprintf("unknown source table %q", e.Table)
}

// UnmappableForeignKeyError indicates a payload whose required parent
// reference is missing or empty, so no edge endpoint can be resolved.
// Fatal: dead-lettered and acknowledged.
type UnmappableForeignKeyError struct {
	Table SourceTable
	RowID string
	Field string
}

func (e *UnmappableForeignKeyError) Error() string {
	return fmt.Sprintf("unmappable foreign key %s on %s/%s", e.Field, e.Table, e.RowID)
}

// StoreUnavailableError indicates the graph or state store could not be
// reached. Transient: the apply is retried with backoff before giving up.
type StoreUnavailableError struct {
	Store string
	Err   error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s store unavailable: %v", e.Store, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// IsFatalEventError reports whether the error means the event itself is
// unprocessable and must be dead-lettered rather than retried.
func IsFatalEventError(err error) bool {
	var malformed *MalformedEventError
	var unknownTable *UnknownSourceTableError
	var unmappable *UnmappableForeignKeyError
	return errors.As(err, &malformed) || errors.As(err, &unknownTable) || errors.As(err, &unmappable)
}

// IsStoreUnavailable reports whether the error is a transient store outage.
func IsStoreUnavailable(err error) bool {
	var unavailable *StoreUnavailableError
	return errors.As(err, &unavailable)
}
