package order

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Additional-Code/preorder/internal/messaging"
	ordersvc "github.com/Additional-Code/preorder/internal/service/order"
)

func TestTicket(t *testing.T) {
	ticket := Ticket(ordersvc.OrderPlacedEvent{
		Number:   12,
		Customer: "Anna",
		Table:    "T4",
		Covers:   3,
		Items: []ordersvc.EventLineItem{
			{Name: "Polenta e salsiccia", Quantity: 2},
			{Name: "Caffè", Quantity: 10},
		},
	})
	require.Equal(t, "ORDER #12  table T4  covers 3\n"+
		"for Anna\n"+
		"    2 x Polenta e salsiccia\n"+
		"   10 x Caffè\n", ticket)

	require.Contains(t, Ticket(ordersvc.OrderPlacedEvent{Number: 1}), "(no items)")
}

func TestOrderPlacedHandlerLogsTicket(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	reg := NewOrderPlacedHandler(zap.New(core))
	require.Equal(t, ordersvc.EventOrderPlaced, reg.EventType)

	payload, err := json.Marshal(ordersvc.OrderPlacedEvent{Number: 5, Table: "2", Customer: "Bo"})
	require.NoError(t, err)

	require.NoError(t, reg.Handler(context.Background(), messaging.Message{Topic: "orders.placed", Value: payload}))
	entries := logs.FilterMessage("kitchen ticket").All()
	require.Len(t, entries, 1)
	require.EqualValues(t, 5, entries[0].ContextMap()["number"])

	err = reg.Handler(context.Background(), messaging.Message{Value: []byte("{")})
	require.Error(t, err)
}
