package order

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Additional-Code/preorder/internal/dto"
	"github.com/Additional-Code/preorder/internal/entity"
	"github.com/Additional-Code/preorder/internal/presentation/http/response"
	service "github.com/Additional-Code/preorder/internal/service/order"
	"github.com/Additional-Code/preorder/pkg/errorbank"
)

var httpTracer = otel.Tracer("github.com/Additional-Code/preorder/transport/http/order")

// form fields that are not item quantities
const (
	fieldCustomer = "customer"
	fieldTable    = "table"
	fieldCovers   = "covers"
)

const maxQuantity = math.MaxInt32

// Handler exposes order endpoints over HTTP.
type Handler struct {
	svc *service.Service
}

// NewHandler constructs an order Handler.
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Register routes with provided Echo instance.
func Register(e *echo.Echo, h *Handler) {
	e.GET("/menu", h.menu)
	g := e.Group("/orders")
	g.POST("", h.submit)
	g.GET("/:key", h.getByKey)
}

type submitPayload struct {
	Customer string         `json:"customer"`
	Table    string         `json:"table"`
	Covers   int            `json:"covers"`
	Items    map[string]any `json:"items"`
}

func (h *Handler) submit(c echo.Context) error {
	b := response.New(c)

	sub, err := bindSubmission(c)
	if err != nil {
		return b.WithError(err).Build()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.submit", trace.WithAttributes(
		attribute.String("order.table", sub.TableID),
	))
	defer span.End()

	receipt, err := h.svc.Submit(ctx, sub)
	if err != nil {
		return b.WithError(err).Build()
	}

	return b.WithStatus(http.StatusCreated).WithData(toReceiptDTO(receipt)).Build()
}

func (h *Handler) getByKey(c echo.Context) error {
	b := response.New(c)
	key := c.Param("key")

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.getByKey", trace.WithAttributes(attribute.String("order.key", key)))
	defer span.End()

	order, err := h.svc.Get(ctx, key)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(toOrderDTO(key, order)).Build()
}

func (h *Handler) menu(c echo.Context) error {
	items := h.svc.Menu()
	out := make([]dto.MenuItem, 0, len(items))
	for _, item := range items {
		out = append(out, dto.MenuItem{Name: item.Name, Price: item.Price})
	}
	return response.New(c).WithData(out).WithMeta("count", len(out)).Build()
}

// jsonQuantity renders a decoded JSON quantity in the form used by form
// posts. Strings pass through untouched; numbers must be integers.
func jsonQuantity(v any) (string, error) {
	switch q := v.(type) {
	case nil:
		return "", nil
	case string:
		return q, nil
	case float64:
		if q != math.Trunc(q) || math.Abs(q) > maxQuantity {
			return "", fmt.Errorf("quantity %v is not a whole number", q)
		}
		return strconv.FormatInt(int64(q), 10), nil
	default:
		return "", fmt.Errorf("quantity has JSON type %T", v)
	}
}

// bindSubmission accepts either a JSON body or a form post where every field
// other than customer, table and covers is an item quantity keyed by name.
func bindSubmission(c echo.Context) (service.Submission, error) {
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var payload submitPayload
		if err := c.Bind(&payload); err != nil {
			return service.Submission{}, errorbank.BadRequest("invalid payload", errorbank.WithCause(err))
		}
		sub := service.Submission{
			CustomerName: payload.Customer,
			TableID:      payload.Table,
			Covers:       payload.Covers,
			Quantities:   make(map[string]string, len(payload.Items)),
		}
		for name, qty := range payload.Items {
			raw, err := jsonQuantity(qty)
			if err != nil {
				return service.Submission{}, errorbank.BadRequest("item quantities must be whole numbers",
					errorbank.WithCause(err), errorbank.WithDetail("item", name))
			}
			sub.Quantities[name] = raw
		}
		return sub, nil
	}

	form, err := c.FormParams()
	if err != nil {
		return service.Submission{}, errorbank.BadRequest("invalid form", errorbank.WithCause(err))
	}
	sub := service.Submission{
		CustomerName: form.Get(fieldCustomer),
		TableID:      form.Get(fieldTable),
		Quantities:   make(map[string]string, len(form)),
	}
	if raw := strings.TrimSpace(form.Get(fieldCovers)); raw != "" {
		covers, err := strconv.Atoi(raw)
		if err != nil {
			return service.Submission{}, errorbank.BadRequest("covers must be a number",
				errorbank.WithCause(err), errorbank.WithDetail("field", fieldCovers))
		}
		sub.Covers = covers
	}
	for name, values := range form {
		switch name {
		case fieldCustomer, fieldTable, fieldCovers:
			continue
		}
		if len(values) > 0 {
			sub.Quantities[name] = values[0]
		}
	}
	return sub, nil
}

func toReceiptDTO(r service.Receipt) dto.ReceiptResponse {
	out := dto.ReceiptResponse{
		Number:   r.Number,
		Key:      r.Key,
		Customer: r.Order.CustomerName,
		Table:    r.Order.TableID,
		Covers:   r.Order.Covers,
		Lines:    make([]dto.ReceiptLine, 0, len(r.Lines)),
		Total:    r.Total,
	}
	for _, line := range r.Lines {
		out.Lines = append(out.Lines, dto.ReceiptLine{
			Name:      line.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.Subtotal,
		})
	}
	return out
}

func toOrderDTO(key string, order entity.Order) dto.OrderResponse {
	out := dto.OrderResponse{
		Key:      key,
		Number:   order.Number,
		Customer: order.CustomerName,
		Table:    order.TableID,
		Covers:   order.Covers,
		Items:    make([]dto.OrderItem, 0, len(order.Items)),
	}
	for _, item := range order.Items {
		out.Items = append(out.Items, dto.OrderItem{Name: item.Name, Quantity: item.Quantity})
	}
	return out
}
