package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/uptrace/bun"
)

// recordRow is the relational shape of a versioned record.
type recordRow struct {
	bun.BaseModel `bun:"table:records"`

	Key       string    `bun:"record_key,pk"`
	Value     []byte    `bun:"value,notnull"`
	Version   int64     `bun:"version,notnull"`
	Message   string    `bun:"message"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// SQLStore keeps records in the "records" table. Conditional writes are a
// single UPDATE guarded by the version column, so the database arbitrates
// between competing writers.
type SQLStore struct {
	db *bun.DB
}

// NewSQLStore uses db for both reads and writes. Reads must not go to a
// lagging replica: a stale version would only ever produce conflicts.
func NewSQLStore(db *bun.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Read selects the row for key.
func (s *SQLStore) Read(ctx context.Context, key string) (Entry, error) {
	if err := ValidateKey(key); err != nil {
		return Entry{}, err
	}

	row := new(recordRow)
	err := s.db.NewSelect().Model(row).Where("record_key = ?", key).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("select %s: %w", key, err)
	}
	return Entry{Value: row.Value, Version: sqlVersion(row.Version)}, nil
}

// Write inserts (expected == "") or updates the row when the version matches.
func (s *SQLStore) Write(ctx context.Context, key string, value []byte, message string, expected Version) (Version, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	now := time.Now().UTC()

	if expected == "" {
		row := &recordRow{Key: key, Value: value, Version: 1, Message: message, UpdatedAt: now}
		res, err := s.db.NewInsert().Model(row).Ignore().Exec(ctx)
		if err != nil {
			return "", fmt.Errorf("insert %s: %w", key, err)
		}
		return affected(res, key, sqlVersion(1))
	}

	revision, err := strconv.ParseInt(string(expected), 10, 64)
	if err != nil {
		// tokens minted by another backend can never match this table
		return "", ErrConflict
	}

	res, err := s.db.NewUpdate().
		Model((*recordRow)(nil)).
		Set("value = ?", value).
		Set("version = ?", revision+1).
		Set("message = ?", message).
		Set("updated_at = ?", now).
		Where("record_key = ?", key).
		Where("version = ?", revision).
		Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("update %s: %w", key, err)
	}
	return affected(res, key, sqlVersion(revision+1))
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func affected(res sql.Result, key string, version Version) (Version, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("rows affected for %s: %w", key, err)
	}
	if n == 0 {
		return "", ErrConflict
	}
	return version, nil
}

func sqlVersion(revision int64) Version {
	return Version(strconv.FormatInt(revision, 10))
}

var _ Store = (*SQLStore)(nil)
