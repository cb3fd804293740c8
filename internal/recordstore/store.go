// Package recordstore provides versioned key-value storage with optimistic
// concurrency. A read returns the stored bytes together with an opaque version
// token; a write succeeds only when the caller's expected token still matches.
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Version is an opaque token identifying the stored revision of a key.
// The zero value means "no version": a write carrying it only creates.
type Version string

// Entry is a stored value together with its version.
type Entry struct {
	Value   []byte
	Version Version
}

var (
	// ErrNotFound is returned by Read when the key does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by Write when the expected version does not match
	// the stored one, or when a create targets an existing key.
	ErrConflict = errors.New("record version conflict")
	// ErrInvalidKey is returned for keys that are empty or escape the keyspace.
	ErrInvalidKey = errors.New("invalid record key")
)

// Store is a versioned key-value backend.
//
// Write with an empty expected version creates the key and fails with
// ErrConflict if it already exists. Write with a non-empty expected version
// replaces the value only if the stored version matches, otherwise it fails
// with ErrConflict and leaves the store untouched. Every successful write
// yields a new version. Any other error is a backend failure and is never
// retried here.
type Store interface {
	Read(ctx context.Context, key string) (Entry, error)
	Write(ctx context.Context, key string, value []byte, message string, expected Version) (Version, error)
}

// IsConflict reports whether err is a version conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound reports whether err signals a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ValidateKey rejects keys that could escape a directory-shaped keyspace.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
