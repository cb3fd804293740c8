// Package sequence hands out order numbers from a counter kept in the record
// store. The counter is never cached: every allocation re-reads it and commits
// the increment with a conditional write.
package sequence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/preorder/internal/config"
	"github.com/Additional-Code/preorder/internal/recordstore"
)

const (
	instrumentationName = "github.com/Additional-Code/preorder/sequence"
	incrementMessage    = "increment"
	defaultMaxAttempts  = 8
)

var allocatorTracer = otel.Tracer(instrumentationName)

type counterDoc struct {
	Counter int64 `json:"counter"`
}

// Allocator assigns strictly increasing order numbers.
type Allocator struct {
	store          recordstore.Store
	key            string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *zap.Logger
	metrics        allocatorMetrics
}

// Params defines dependencies for constructing an Allocator.
type Params struct {
	fx.In

	Store  recordstore.Store
	Config config.Config
	Logger *zap.Logger
}

// NewAllocator wires an Allocator from the Fx graph.
func NewAllocator(p Params) *Allocator {
	return New(p.Store, p.Config.Store.CounterKey, p.Config.Sequence, p.Logger)
}

// New builds an Allocator over store using the counter stored under key.
func New(store recordstore.Store, key string, cfg config.Sequence, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if key == "" {
		key = "counter"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 10 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	m, err := newAllocatorMetrics(otel.Meter(instrumentationName))
	if err != nil {
		logger.Warn("sequence metrics unavailable", zap.Error(err))
		m, _ = newAllocatorMetrics(noop.NewMeterProvider().Meter(instrumentationName))
	}

	return &Allocator{
		store:          store,
		key:            key,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		logger:         logger,
		metrics:        m,
	}
}

// Allocate reserves the next order number. A number is returned only after
// the incremented counter has been committed; a number is never returned
// twice, but one may be burned if the caller fails to use it.
func (a *Allocator) Allocate(ctx context.Context) (int64, error) {
	ctx, span := allocatorTracer.Start(ctx, "Allocator.Allocate", trace.WithAttributes(
		attribute.String("counter.key", a.key),
	))
	defer span.End()

	var (
		attempts int
		number   int64
	)
	backoff := retry.WithMaxRetries(uint64(a.maxAttempts-1),
		retry.WithCappedDuration(a.maxBackoff, retry.NewExponential(a.initialBackoff)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		n, err := a.attempt(ctx)
		if errors.Is(err, recordstore.ErrConflict) {
			a.metrics.conflicts.Add(ctx, 1)
			a.logger.Debug("counter write conflict", zap.Int("attempt", attempts))
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		number = n
		return nil
	})
	span.SetAttributes(attribute.Int("allocation.attempts", attempts))

	if err != nil {
		kind := KindStoreUnavailable
		if errors.Is(err, recordstore.ErrConflict) {
			kind = KindExhausted
		}
		a.metrics.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		a.logger.Warn("order number allocation failed",
			zap.String("kind", string(kind)),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return 0, &AllocationError{Kind: kind, Attempts: attempts, Err: err}
	}

	a.metrics.allocations.Add(ctx, 1)
	span.SetAttributes(attribute.Int64("order.number", number))
	return number, nil
}

// attempt performs one read-increment-write cycle.
func (a *Allocator) attempt(ctx context.Context) (int64, error) {
	current, version, err := a.read(ctx)
	if err != nil {
		return 0, err
	}

	candidate := current + 1
	payload, err := encodeCounter(candidate)
	if err != nil {
		return 0, err
	}
	if _, err := a.store.Write(ctx, a.key, payload, incrementMessage, version); err != nil {
		return 0, err
	}
	return candidate, nil
}

// Current returns the last committed order number, 0 when none was allocated.
func (a *Allocator) Current(ctx context.Context) (int64, error) {
	current, _, err := a.read(ctx)
	return current, err
}

// Seed creates the counter at start when it does not exist yet. It reports
// whether the counter was created; an existing counter is left untouched.
func (a *Allocator) Seed(ctx context.Context, start int64) (bool, error) {
	if start < 0 {
		return false, fmt.Errorf("counter seed must not be negative: %d", start)
	}
	payload, err := encodeCounter(start)
	if err != nil {
		return false, err
	}
	_, err = a.store.Write(ctx, a.key, payload, "seed counter at "+strconv.FormatInt(start, 10), "")
	if errors.Is(err, recordstore.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("seed counter: %w", err)
	}
	return true, nil
}

func (a *Allocator) read(ctx context.Context) (int64, recordstore.Version, error) {
	entry, err := a.store.Read(ctx, a.key)
	if errors.Is(err, recordstore.ErrNotFound) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("read counter: %w", err)
	}
	current, err := decodeCounter(entry.Value)
	if err != nil {
		return 0, "", err
	}
	return current, entry.Version, nil
}

func encodeCounter(n int64) ([]byte, error) {
	return json.Marshal(counterDoc{Counter: n})
}

func decodeCounter(data []byte) (int64, error) {
	var doc struct {
		Counter *int64 `json:"counter"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedCounter, err)
	}
	if doc.Counter == nil {
		return 0, fmt.Errorf("%w: missing counter field", ErrMalformedCounter)
	}
	if *doc.Counter < 0 {
		return 0, fmt.Errorf("%w: negative value %d", ErrMalformedCounter, *doc.Counter)
	}
	return *doc.Counter, nil
}

type allocatorMetrics struct {
	allocations metric.Int64Counter
	conflicts   metric.Int64Counter
	failures    metric.Int64Counter
}

func newAllocatorMetrics(meter metric.Meter) (allocatorMetrics, error) {
	allocations, err := meter.Int64Counter("preorder.sequence.allocations",
		metric.WithDescription("Order numbers successfully allocated"))
	if err != nil {
		return allocatorMetrics{}, err
	}
	conflicts, err := meter.Int64Counter("preorder.sequence.conflicts",
		metric.WithDescription("Counter writes rejected by a concurrent update"))
	if err != nil {
		return allocatorMetrics{}, err
	}
	failures, err := meter.Int64Counter("preorder.sequence.failures",
		metric.WithDescription("Allocations that returned an error, by kind"))
	if err != nil {
		return allocatorMetrics{}, err
	}
	return allocatorMetrics{allocations: allocations, conflicts: conflicts, failures: failures}, nil
}
