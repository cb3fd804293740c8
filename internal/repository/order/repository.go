package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Additional-Code/preorder/internal/config"
	"github.com/Additional-Code/preorder/internal/entity"
	"github.com/Additional-Code/preorder/internal/recordstore"
)

var repoTracer = otel.Tracer("github.com/Additional-Code/preorder/repository/order")

// Persister writes finalized orders to the record store, one create-only
// record per order.
type Persister struct {
	store  recordstore.Store
	prefix string
	logger *zap.Logger
}

// NewPersister wires a persister using the configured orders prefix.
func NewPersister(store recordstore.Store, cfg config.Config, logger *zap.Logger) *Persister {
	return New(store, cfg.Store.OrdersPrefix, logger)
}

// New builds a persister storing records below prefix.
func New(store recordstore.Store, prefix string, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{store: store, prefix: prefix, logger: logger}
}

// Save validates order, renders it and creates the record for number n. Items
// with a quantity below one are left out of the record. It returns the record
// key. An existing record is never overwritten.
func (p *Persister) Save(ctx context.Context, n int64, order entity.Order) (string, error) {
	if err := validate(n, order); err != nil {
		return "", err
	}
	key := RecordKey(n, order.CustomerName)

	ctx, span := repoTracer.Start(ctx, "OrderPersister.Save", trace.WithAttributes(
		attribute.Int64("order.number", n),
		attribute.String("order.key", key),
	))
	defer span.End()

	order.Number = n
	order.Items = orderedItems(order.Items)
	body, err := encodeRecord(order)
	if err != nil {
		return "", &PersistError{Kind: KindInvalidInput, Key: key, Err: err}
	}

	_, err = p.store.Write(ctx, p.Path(key), body, "new order "+key, "")
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, recordstore.ErrConflict):
		span.SetStatus(codes.Error, "duplicate key")
		p.logger.Error("order record already exists", zap.String("key", key))
		return "", &PersistError{Kind: KindDuplicateKey, Key: key, Err: err}
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		return "", &PersistError{Kind: KindStoreUnavailable, Key: key, Err: err}
	}
}

// Load reads the record stored under key back into an order.
func (p *Persister) Load(ctx context.Context, key string) (entity.Order, error) {
	n, err := ParseRecordKey(key)
	if err != nil {
		return entity.Order{}, &PersistError{Kind: KindInvalidInput, Key: key, Err: err}
	}

	ctx, span := repoTracer.Start(ctx, "OrderPersister.Load", trace.WithAttributes(attribute.String("order.key", key)))
	defer span.End()

	entry, err := p.store.Read(ctx, p.Path(key))
	if errors.Is(err, recordstore.ErrNotFound) {
		return entity.Order{}, &PersistError{Kind: KindNotFound, Key: key, Err: err}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read failed")
		return entity.Order{}, &PersistError{Kind: KindStoreUnavailable, Key: key, Err: err}
	}

	order, err := decodeRecord(entry.Value)
	if err != nil {
		span.SetStatus(codes.Error, "corrupt record")
		return entity.Order{}, &PersistError{Kind: KindCorrupt, Key: key, Err: err}
	}
	order.Number = n
	return order, nil
}

// Path maps a record key onto its store key.
func (p *Persister) Path(key string) string {
	return p.prefix + key + recordSuffix
}

func validate(n int64, o entity.Order) error {
	if n <= 0 {
		return invalid("order number must be positive, got %d", n)
	}
	if strings.TrimSpace(o.CustomerName) == "" {
		return invalid("customer name is required")
	}
	if err := plainText("customer name", o.CustomerName); err != nil {
		return err
	}
	if strings.TrimSpace(o.TableID) == "" {
		return invalid("table is required")
	}
	if err := plainText("table", o.TableID); err != nil {
		return err
	}
	if o.Covers < 0 {
		return invalid("covers must not be negative, got %d", o.Covers)
	}
	for i, item := range o.Items {
		if strings.TrimSpace(item.Name) == "" {
			return invalid("item %d has no name", i+1)
		}
		if err := plainText(fmt.Sprintf("item %d name", i+1), item.Name); err != nil {
			return err
		}
	}
	return nil
}

// plainText rejects control characters: the csv reader folds \r\n inside
// quoted fields to \n, so they would not survive a round trip.
func plainText(field, value string) error {
	if i := strings.IndexFunc(value, unicode.IsControl); i >= 0 {
		r, _ := utf8.DecodeRuneInString(value[i:])
		return invalid("%s contains control character %U", field, r)
	}
	return nil
}

// orderedItems returns the items with a positive quantity, in their original order.
func orderedItems(items []entity.LineItem) []entity.LineItem {
	var kept []entity.LineItem
	for _, item := range items {
		if item.Quantity > 0 {
			kept = append(kept, item)
		}
	}
	return kept
}
