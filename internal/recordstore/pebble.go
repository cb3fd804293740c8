package recordstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"
)

const pebbleKeyPrefix = "record/"

// PebbleStore keeps records in an embedded pebble database. Pebble holds an
// exclusive lock on its directory, so the mutex below is the only writer
// coordination required.
type PebbleStore struct {
	mu sync.Mutex
	db *pebble.DB
}

// OpenPebbleStore opens (or creates) the database in dir.
func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

// Close releases the database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// Read decodes the entry stored for key.
func (s *PebbleStore) Read(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}

	rec, err := s.get(key)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Value: rec.value, Version: pebbleVersion(rec.revision)}, nil
}

// Write compares and sets under the store mutex with a synced write.
func (s *PebbleStore) Write(ctx context.Context, key string, value []byte, message string, expected Version) (Version, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ValidateKey(key); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.get(key)
	exists := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	switch {
	case expected == "" && exists:
		return "", ErrConflict
	case expected != "" && (!exists || pebbleVersion(current.revision) != expected):
		return "", ErrConflict
	}

	next := pebbleRecord{revision: current.revision + 1, message: message, value: value}
	if err := s.db.Set(pebbleKey(key), encodePebbleRecord(next), pebble.Sync); err != nil {
		return "", fmt.Errorf("pebble set %s: %w", key, err)
	}
	return pebbleVersion(next.revision), nil
}

func (s *PebbleStore) get(key string) (pebbleRecord, error) {
	raw, closer, err := s.db.Get(pebbleKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return pebbleRecord{}, ErrNotFound
	}
	if err != nil {
		return pebbleRecord{}, fmt.Errorf("pebble get %s: %w", key, err)
	}
	defer closer.Close()

	rec, err := decodePebbleRecord(raw)
	if err != nil {
		return pebbleRecord{}, fmt.Errorf("pebble decode %s: %w", key, err)
	}
	return rec, nil
}

type pebbleRecord struct {
	revision uint64
	message  string
	value    []byte
}

// binary encoding: [revision:8][messageLen:4][message][value]
func encodePebbleRecord(r pebbleRecord) []byte {
	buf := make([]byte, 12+len(r.message)+len(r.value))
	binary.BigEndian.PutUint64(buf[0:8], r.revision)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(r.message)))
	copy(buf[12:], r.message)
	copy(buf[12+len(r.message):], r.value)
	return buf
}

// decodePebbleRecord copies out of b, which pebble reuses after closer.Close.
func decodePebbleRecord(b []byte) (pebbleRecord, error) {
	if len(b) < 12 {
		return pebbleRecord{}, errors.New("record too short")
	}
	msgLen := int(binary.BigEndian.Uint32(b[8:12]))
	if len(b) < 12+msgLen {
		return pebbleRecord{}, errors.New("record message truncated")
	}
	return pebbleRecord{
		revision: binary.BigEndian.Uint64(b[0:8]),
		message:  string(b[12 : 12+msgLen]),
		value:    append([]byte(nil), b[12+msgLen:]...),
	}, nil
}

func pebbleKey(key string) []byte {
	return []byte(pebbleKeyPrefix + key)
}

func pebbleVersion(revision uint64) Version {
	return Version(strconv.FormatUint(revision, 10))
}

var _ Store = (*PebbleStore)(nil)
