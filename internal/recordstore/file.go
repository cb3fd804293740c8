package recordstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

const (
	lockSuffix      = ".lock"
	tempSuffix      = ".tmp"
	historyFile     = ".history"
	defaultLockPoll = 5 * time.Millisecond
)

// FileStore maps keys onto files below a root directory. Writers serialize on
// an advisory lock over a per-key lock file, so independent processes sharing
// the directory observe a consistent compare-and-write. The kernel drops the
// lock when its holder exits. Versions are content hashes.
type FileStore struct {
	root      string
	pollEvery time.Duration
	logger    *zap.Logger
}

// NewFileStore prepares root and returns a store writing below it.
func NewFileStore(root string, logger *zap.Logger) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("file store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		root:      root,
		pollEvery: defaultLockPoll,
		logger:    logger,
	}, nil
}

// Read returns the file contents and their hash.
func (s *FileStore) Read(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	path, err := s.path(key)
	if err != nil {
		return Entry{}, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("read %s: %w", key, err)
	}
	return Entry{Value: data, Version: contentVersion(data)}, nil
}

// Write replaces the file if its current hash matches expected.
func (s *FileStore) Write(ctx context.Context, key string, value []byte, message string, expected Version) (Version, error) {
	path, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %s: %w", key, err)
	}

	unlock, err := s.lock(ctx, path)
	if err != nil {
		return "", fmt.Errorf("lock %s: %w", key, err)
	}
	defer unlock()

	current, err := os.ReadFile(path)
	exists := err == nil
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	switch {
	case expected == "" && exists:
		return "", ErrConflict
	case expected != "" && (!exists || contentVersion(current) != expected):
		return "", ErrConflict
	}

	if err := writeAtomic(path, value); err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}

	version := contentVersion(value)
	if err := s.appendHistory(key, version, message); err != nil {
		s.logger.Warn("record history append failed", zap.String("key", key), zap.Error(err))
	}
	return version, nil
}

func (s *FileStore) path(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if strings.HasSuffix(key, lockSuffix) || strings.HasSuffix(key, tempSuffix) || key == historyFile {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// lock takes the advisory lock on path.lock, polling until ctx expires. The
// lock file itself stays in place; removing it would let a waiter lock an
// unlinked inode.
func (s *FileStore) lock(ctx context.Context, path string) (func(), error) {
	fl := flock.New(path + lockSuffix)
	locked, err := fl.TryLockContext(ctx, s.pollEvery)
	if err != nil {
		_ = fl.Close()
		return nil, err
	}
	if !locked {
		_ = fl.Close()
		return nil, ctx.Err()
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("record lock release failed", zap.String("lock", fl.Path()), zap.Error(err))
		}
	}, nil
}

func (s *FileStore) appendHistory(key string, version Version, message string) error {
	f, err := os.OpenFile(filepath.Join(s.root, historyFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	line := fmt.Sprintf("%s\t%s\t%s\t%s\n", time.Now().UTC().Format(time.RFC3339Nano), key, version, strings.ReplaceAll(message, "\n", " "))
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeAtomic(path string, value []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*"+tempSuffix)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func contentVersion(data []byte) Version {
	sum := sha256.Sum256(data)
	return Version(hex.EncodeToString(sum[:]))
}

var _ Store = (*FileStore)(nil)
