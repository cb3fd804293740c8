package order

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/Additional-Code/preorder/internal/config"
	"github.com/Additional-Code/preorder/internal/dto"
	"github.com/Additional-Code/preorder/internal/menu"
	"github.com/Additional-Code/preorder/internal/recordstore"
	repo "github.com/Additional-Code/preorder/internal/repository/order"
	"github.com/Additional-Code/preorder/internal/sequence"
	service "github.com/Additional-Code/preorder/internal/service/order"
)

func newTestServer(t *testing.T) *echo.Echo {
	t.Helper()
	store := recordstore.NewMemoryStore()
	svc := service.New(
		sequence.New(store, "counter", config.Sequence{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}, nil),
		repo.New(store, "orders/", nil),
		menu.New([]menu.Item{{Name: "Polenta", Price: 8.5}, {Name: "Vin brulé", Price: 3}}),
		nil, nil, time.Minute, nil,
	)
	e := echo.New()
	Register(e, NewHandler(svc))
	return e
}

func do(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
	Error   struct {
		Kind string `json:"kind"`
	} `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) envelope[T] {
	t.Helper()
	var out envelope[T]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSubmitJSONThenGet(t *testing.T) {
	e := newTestServer(t)

	body := `{"customer":"Anna O'Brien #2","table":"T4","covers":2,"items":{"Polenta":2,"Vin brulé":"1"}}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := do(e, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	receipt := decode[dto.ReceiptResponse](t, rec).Data
	require.EqualValues(t, 1, receipt.Number)
	require.Equal(t, "1_AnnaOBrien2", receipt.Key)
	require.Len(t, receipt.Lines, 2)
	require.Equal(t, 20.0, receipt.Total)

	rec = do(e, httptest.NewRequest(http.MethodGet, "/orders/"+receipt.Key, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	order := decode[dto.OrderResponse](t, rec).Data
	require.Equal(t, "Anna O'Brien #2", order.Customer)
	require.Equal(t, []dto.OrderItem{{Name: "Polenta", Quantity: 2}, {Name: "Vin brulé", Quantity: 1}}, order.Items)
}

func TestSubmitForm(t *testing.T) {
	e := newTestServer(t)

	form := url.Values{}
	form.Set("customer", "Bo")
	form.Set("table", "3")
	form.Set("covers", "4")
	form.Set("Polenta", "")
	form.Set("Vin brulé", "2")
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := do(e, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	receipt := decode[dto.ReceiptResponse](t, rec).Data
	require.Equal(t, 4, receipt.Covers)
	require.Equal(t, []dto.ReceiptLine{{Name: "Vin brulé", Quantity: 2, UnitPrice: 3, Subtotal: 6}}, receipt.Lines)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	e := newTestServer(t)

	form := url.Values{"customer": {"Bo"}, "table": {"3"}, "covers": {"many"}}
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := do(e, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"customer":"","table":"1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = do(e, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "bad_request", decode[any](t, rec).Error.Kind)
}

func TestSubmitJSONLargeQuantityKeepsDigits(t *testing.T) {
	e := newTestServer(t)

	body := `{"customer":"Bo","table":"3","covers":1,"items":{"Polenta":1000000}}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := do(e, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	receipt := decode[dto.ReceiptResponse](t, rec).Data
	require.Equal(t, []dto.ReceiptLine{{Name: "Polenta", Quantity: 1000000, UnitPrice: 8.5, Subtotal: 8500000}}, receipt.Lines)
}

func TestSubmitJSONRejectsFractionalQuantity(t *testing.T) {
	e := newTestServer(t)

	for _, items := range []string{`{"Polenta":2.5}`, `{"Polenta":true}`, `{"Polenta":[1]}`} {
		body := `{"customer":"Bo","table":"3","covers":1,"items":` + items + `}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := do(e, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, items)
		require.Equal(t, "bad_request", decode[any](t, rec).Error.Kind)
	}

	rec := do(e, httptest.NewRequest(http.MethodGet, "/orders/1_Bo", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetUnknownOrder(t *testing.T) {
	e := newTestServer(t)
	rec := do(e, httptest.NewRequest(http.MethodGet, "/orders/42_Nobody", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMenu(t *testing.T) {
	e := newTestServer(t)
	rec := do(e, httptest.NewRequest(http.MethodGet, "/menu", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]dto.MenuItem](t, rec).Data
	require.Equal(t, []dto.MenuItem{{Name: "Polenta", Price: 8.5}, {Name: "Vin brulé", Price: 3}}, items)
}
