package order

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/preorder/internal/cache"
	"github.com/Additional-Code/preorder/internal/config"
	"github.com/Additional-Code/preorder/internal/entity"
	"github.com/Additional-Code/preorder/internal/menu"
	"github.com/Additional-Code/preorder/internal/messaging"
	repo "github.com/Additional-Code/preorder/internal/repository/order"
	"github.com/Additional-Code/preorder/internal/sequence"
	"github.com/Additional-Code/preorder/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/preorder/service/order")

// Allocator hands out order numbers.
type Allocator interface {
	Allocate(ctx context.Context) (int64, error)
}

// Persister stores and loads order records.
type Persister interface {
	Save(ctx context.Context, n int64, order entity.Order) (string, error)
	Load(ctx context.Context, key string) (entity.Order, error)
}

// Submission is an order as filled in on the form. Quantities are keyed by
// menu item name and kept raw: blank or non-numeric values count as zero.
type Submission struct {
	CustomerName string
	TableID      string
	Covers       int
	Quantities   map[string]string
}

// ReceiptLine is one priced line of a receipt.
type ReceiptLine struct {
	Name      string
	Quantity  int
	UnitPrice float64
	Subtotal  float64
}

// Receipt confirms a committed order.
type Receipt struct {
	Number int64
	Key    string
	Order  entity.Order
	Lines  []ReceiptLine
	Total  float64
}

// Service accepts pre-order submissions: it numbers them, records them and
// announces them to the kitchen.
type Service struct {
	allocator Allocator
	persister Persister
	menu      *menu.Menu
	cache     cache.Store
	cacheTTL  time.Duration
	publisher messaging.Client
	logger    *zap.Logger
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Allocator *sequence.Allocator
	Persister *repo.Persister
	Menu      *menu.Menu
	Cache     cache.Store
	Publisher messaging.Client
	Config    config.Config
	Logger    *zap.Logger
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return New(p.Allocator, p.Persister, p.Menu, p.Cache, p.Publisher, p.Config.Cache.DefaultTTL, p.Logger)
}

// New builds a Service. Nil cache, publisher and logger fall back to no-ops.
func New(allocator Allocator, persister Persister, m *menu.Menu, c cache.Store, publisher messaging.Client, cacheTTL time.Duration, logger *zap.Logger) *Service {
	if m == nil {
		m = menu.New(nil)
	}
	if c == nil {
		c = cache.Noop()
	}
	if publisher == nil {
		publisher = messaging.Noop("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		allocator: allocator,
		persister: persister,
		menu:      m,
		cache:     c,
		cacheTTL:  cacheTTL,
		publisher: publisher,
		logger:    logger,
	}
}

// Menu returns the items that can be ordered.
func (s *Service) Menu() []menu.Item {
	return s.menu.Items()
}

// Submit allocates a number for the submission and records it. The number is
// burned if the record cannot be written.
func (s *Service) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Submit", trace.WithAttributes(
		attribute.String("order.table", sub.TableID),
	))
	defer span.End()

	if err := validateSubmission(sub); err != nil {
		return Receipt{}, err
	}
	order, lines, total := s.price(sub)
	span.SetAttributes(attribute.Int("order.lines", len(lines)))

	n, err := s.allocator.Allocate(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocation failed")
		return Receipt{}, mapError(err)
	}
	order.Number = n
	span.SetAttributes(attribute.Int64("order.number", n))

	key, err := s.persister.Save(ctx, n, order)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		s.logger.Error("order number burned; record not saved",
			zap.Int64("number", n),
			zap.String("customer", order.CustomerName),
			zap.Error(err),
		)
		return Receipt{}, mapError(err)
	}

	s.logger.Info("order recorded",
		zap.Int64("number", n),
		zap.String("key", key),
		zap.Int("items", order.ItemCount()),
	)

	if err := s.storeInCache(ctx, key, order); err != nil {
		s.logger.Warn("order cache write failed", zap.String("key", key), zap.Error(err))
	}
	s.publishOrderPlaced(ctx, key, order, total)

	return Receipt{Number: n, Key: key, Order: order, Lines: lines, Total: total}, nil
}

// Get loads a recorded order by key, consulting the cache first.
func (s *Service) Get(ctx context.Context, key string) (entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.String("order.key", key)))
	defer span.End()

	if order, err := s.getFromCache(ctx, key); err == nil {
		return order, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("order cache read failed", zap.String("key", key), zap.Error(err))
	}

	order, err := s.persister.Load(ctx, key)
	if err != nil {
		if kind, _ := repo.KindOf(err); kind != repo.KindNotFound {
			span.RecordError(err)
			span.SetStatus(codes.Error, "load failed")
		}
		return entity.Order{}, mapError(err)
	}

	if err := s.storeInCache(ctx, key, order); err != nil {
		s.logger.Warn("order cache write failed", zap.String("key", key), zap.Error(err))
	}
	return order, nil
}

// price keeps the menu items with a positive quantity, in menu order.
func (s *Service) price(sub Submission) (entity.Order, []ReceiptLine, float64) {
	order := entity.Order{
		CustomerName: sub.CustomerName,
		TableID:      sub.TableID,
		Covers:       sub.Covers,
	}
	var (
		lines []ReceiptLine
		total float64
	)
	for _, item := range s.menu.Items() {
		qty := parseQuantity(sub.Quantities[item.Name])
		if qty <= 0 {
			continue
		}
		subtotal := roundCents(float64(qty) * item.Price)
		order.Items = append(order.Items, entity.LineItem{Name: item.Name, Quantity: qty})
		lines = append(lines, ReceiptLine{Name: item.Name, Quantity: qty, UnitPrice: item.Price, Subtotal: subtotal})
		total += subtotal
	}
	return order, lines, roundCents(total)
}

func validateSubmission(sub Submission) error {
	switch {
	case strings.TrimSpace(sub.CustomerName) == "":
		return errorbank.BadRequest("customer name is required", errorbank.WithDetail("field", "customer"))
	case strings.TrimSpace(sub.TableID) == "":
		return errorbank.BadRequest("table is required", errorbank.WithDetail("field", "table"))
	case hasControl(sub.CustomerName):
		return errorbank.BadRequest("customer name must be a single line of text", errorbank.WithDetail("field", "customer"))
	case hasControl(sub.TableID):
		return errorbank.BadRequest("table must be a single line of text", errorbank.WithDetail("field", "table"))
	case sub.Covers < 0:
		return errorbank.BadRequest("covers must not be negative", errorbank.WithDetail("field", "covers"))
	}
	return nil
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

func parseQuantity(raw string) int {
	qty, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return qty
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func mapError(err error) error {
	if kind, ok := sequence.KindOf(err); ok {
		switch kind {
		case sequence.KindExhausted:
			return errorbank.Unavailable("too many simultaneous orders, please retry", errorbank.WithCause(err))
		default:
			return errorbank.Unavailable("order numbering is unavailable", errorbank.WithCause(err))
		}
	}
	if kind, ok := repo.KindOf(err); ok {
		switch kind {
		case repo.KindInvalidInput:
			return errorbank.BadRequest("invalid order", errorbank.WithCause(err))
		case repo.KindDuplicateKey:
			return errorbank.Conflict("order record already exists", errorbank.WithCause(err))
		case repo.KindNotFound:
			return errorbank.NotFound("order not found", errorbank.WithCause(err))
		case repo.KindCorrupt:
			return errorbank.Internal("order record is unreadable", errorbank.WithCause(err))
		default:
			return errorbank.Unavailable("order storage is unavailable", errorbank.WithCause(err))
		}
	}
	return errorbank.Internal("order processing failed", errorbank.WithCause(err))
}

func cacheKey(key string) string {
	return "orders:" + key
}

func (s *Service) getFromCache(ctx context.Context, key string) (entity.Order, error) {
	data, err := s.cache.Get(ctx, cacheKey(key))
	if err != nil {
		return entity.Order{}, err
	}
	var order entity.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return entity.Order{}, err
	}
	return order, nil
}

func (s *Service) storeInCache(ctx context.Context, key string, order entity.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, cacheKey(key), data, s.cacheTTL)
}
