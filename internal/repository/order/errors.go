package order

import (
	"errors"
	"fmt"
)

// Kind classifies persistence failures.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindDuplicateKey     Kind = "duplicate_key"
	KindStoreUnavailable Kind = "store_unavailable"
	KindNotFound         Kind = "not_found"
	KindCorrupt          Kind = "corrupt"
)

// ErrCorrupt is wrapped when a stored record cannot be parsed.
var ErrCorrupt = errors.New("corrupt order record")

// PersistError describes why an order record could not be saved or loaded.
type PersistError struct {
	Kind Kind
	Key  string
	Err  error
}

func (e *PersistError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("order record %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("order record %s (%s): %v", e.Key, e.Kind, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// KindOf reports the persistence failure kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var persistErr *PersistError
	if errors.As(err, &persistErr) {
		return persistErr.Kind, true
	}
	return "", false
}

func invalid(format string, args ...any) error {
	return &PersistError{Kind: KindInvalidInput, Err: fmt.Errorf(format, args...)}
}
