package order

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Additional-Code/preorder/internal/entity"
	"github.com/Additional-Code/preorder/internal/messaging"
)

// EventOrderPlaced is the event-type header of OrderPlacedEvent messages.
const EventOrderPlaced = "order.placed"

// OrderPlacedEvent is emitted after an order record has been written.
type OrderPlacedEvent struct {
	Number   int64           `json:"number"`
	Key      string          `json:"key"`
	Customer string          `json:"customer"`
	Table    string          `json:"table"`
	Covers   int             `json:"covers"`
	Items    []EventLineItem `json:"items"`
	Total    float64         `json:"total"`
	PlacedAt time.Time       `json:"placed_at"`
}

// EventLineItem is one ordered item in an OrderPlacedEvent.
type EventLineItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// publishOrderPlaced is best effort: the record is already committed.
func (s *Service) publishOrderPlaced(ctx context.Context, key string, order entity.Order, total float64) {
	event := OrderPlacedEvent{
		Number:   order.Number,
		Key:      key,
		Customer: order.CustomerName,
		Table:    order.TableID,
		Covers:   order.Covers,
		Total:    total,
		PlacedAt: time.Now().UTC(),
	}
	for _, item := range order.Items {
		event.Items = append(event.Items, EventLineItem{Name: item.Name, Quantity: item.Quantity})
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshal order placed", zap.Error(err))
		return
	}
	headers := map[string]string{messaging.HeaderEventType: EventOrderPlaced}
	if err := s.publisher.Publish(ctx, []byte(strconv.FormatInt(order.Number, 10)), payload, headers); err != nil {
		s.logger.Error("publish order placed", zap.Int64("number", order.Number), zap.Error(err))
	}
}
