package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidationError reports malformed input. Nothing was changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError reports a reference to an entry or item that does not exist.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// CapacityExceededError reports usage larger than the purchased quantity.
// Nothing was committed.
type CapacityExceededError struct {
	Item      string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("usage of %s for %q exceeds available %s", e.Requested, e.Item, e.Available)
}

// PersistenceError wraps a document store failure.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
