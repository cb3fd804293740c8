package sequence

import (
	"errors"
	"fmt"
)

// Kind classifies why an allocation failed.
type Kind string

const (
	// KindExhausted means every attempt lost a write race.
	KindExhausted Kind = "exhausted"
	// KindStoreUnavailable means the store failed for a reason other than a conflict.
	KindStoreUnavailable Kind = "store_unavailable"
)

// ErrMalformedCounter is wrapped when the counter record cannot be decoded.
var ErrMalformedCounter = errors.New("malformed counter record")

// AllocationError is returned by Allocate when no number could be assigned.
type AllocationError struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *AllocationError) Error() string {
	switch e.Kind {
	case KindExhausted:
		return fmt.Sprintf("allocate order number: gave up after %d conflicting attempts", e.Attempts)
	default:
		return fmt.Sprintf("allocate order number: store unavailable after %d attempts: %v", e.Attempts, e.Err)
	}
}

func (e *AllocationError) Unwrap() error { return e.Err }

// KindOf reports the allocation failure kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var allocErr *AllocationError
	if errors.As(err, &allocErr) {
		return allocErr.Kind, true
	}
	return "", false
}
