package recordstore

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var storeTracer = otel.Tracer("github.com/Additional-Code/preorder/recordstore")

// WithTimeout bounds every call with d. An expired deadline surfaces as
// context.DeadlineExceeded, never as ErrConflict.
func WithTimeout(next Store, d time.Duration) Store {
	if d <= 0 {
		return next
	}
	return &timeoutStore{next: next, timeout: d}
}

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

func (s *timeoutStore) Read(ctx context.Context, key string) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.Read(ctx, key)
}

func (s *timeoutStore) Write(ctx context.Context, key string, value []byte, message string, expected Version) (Version, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.Write(ctx, key, value, message, expected)
}

// WithTracing records a span per call, tagged with the backend driver.
func WithTracing(next Store, driver string) Store {
	return &tracedStore{next: next, driver: driver}
}

type tracedStore struct {
	next   Store
	driver string
}

func (s *tracedStore) Read(ctx context.Context, key string) (Entry, error) {
	ctx, span := storeTracer.Start(ctx, "RecordStore.Read", trace.WithAttributes(
		attribute.String("record.key", key),
		attribute.String("record.driver", s.driver),
	))
	defer span.End()

	entry, err := s.next.Read(ctx, key)
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("record.version", string(entry.Version)))
	case errors.Is(err, ErrNotFound):
		span.SetAttributes(attribute.Bool("record.missing", true))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
	}
	return entry, err
}

func (s *tracedStore) Write(ctx context.Context, key string, value []byte, message string, expected Version) (Version, error) {
	ctx, span := storeTracer.Start(ctx, "RecordStore.Write", trace.WithAttributes(
		attribute.String("record.key", key),
		attribute.String("record.driver", s.driver),
		attribute.String("record.expected_version", string(expected)),
		attribute.Int("record.size", len(value)),
	))
	defer span.End()

	version, err := s.next.Write(ctx, key, value, message, expected)
	switch {
	case err == nil:
		span.SetAttributes(attribute.String("record.version", string(version)))
	case errors.Is(err, ErrConflict):
		span.SetAttributes(attribute.Bool("record.conflict", true))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
	}
	return version, err
}

func (s *timeoutStore) Unwrap() Store { return s.next }

func (s *tracedStore) Unwrap() Store { return s.next }

// Ping checks the innermost backend of s when it holds a connection; other
// backends are always reachable.
func Ping(ctx context.Context, s Store) error {
	for s != nil {
		if p, ok := s.(Pinger); ok {
			return p.Ping(ctx)
		}
		u, ok := s.(interface{ Unwrap() Store })
		if !ok {
			return nil
		}
		s = u.Unwrap()
	}
	return nil
}
