package order

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/preorder/internal/messaging"
	ordersvc "github.com/Additional-Code/preorder/internal/service/order"
	"github.com/Additional-Code/preorder/internal/worker"
)

var workerTracer = otel.Tracer("github.com/Additional-Code/preorder/worker/order")

// Module registers order-related worker handlers.
var Module = fx.Module("worker_order",
	fx.Provide(
		fx.Annotate(
			NewOrderPlacedHandler,
			fx.ResultTags(`group:"worker.handlers"`),
		),
	),
)

// NewOrderPlacedHandler prints a kitchen ticket for every placed order.
func NewOrderPlacedHandler(logger *zap.Logger) worker.HandlerRegistration {
	handler := func(ctx context.Context, msg messaging.Message) error {
		_, span := workerTracer.Start(ctx, "worker.orders.placed", trace.WithAttributes(
			attribute.String("messaging.topic", msg.Topic),
			attribute.Int64("messaging.offset", msg.Offset),
		))
		defer span.End()

		var event ordersvc.OrderPlacedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "decode error")
			return fmt.Errorf("decode order placed: %w", err)
		}
		span.SetAttributes(attribute.Int64("order.number", event.Number))

		logger.Info("kitchen ticket",
			zap.Int64("number", event.Number),
			zap.String("table", event.Table),
			zap.Int("covers", event.Covers),
			zap.String("ticket", Ticket(event)),
		)
		return nil
	}

	return worker.HandlerRegistration{
		EventType: ordersvc.EventOrderPlaced,
		Handler:   handler,
	}
}

// Ticket renders the plain-text ticket handed to the kitchen.
func Ticket(event ordersvc.OrderPlacedEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ORDER #%d  table %s  covers %d\n", event.Number, event.Table, event.Covers)
	fmt.Fprintf(&b, "for %s\n", event.Customer)
	if len(event.Items) == 0 {
		b.WriteString("  (no items)\n")
	}
	for _, item := range event.Items {
		fmt.Fprintf(&b, "  %3d x %s\n", item.Quantity, item.Name)
	}
	return b.String()
}
