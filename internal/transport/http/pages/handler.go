package pages

import (
	"errors"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"github.com/Additional-Code/preorder/internal/pages"
	"github.com/Additional-Code/preorder/internal/presentation/http/response"
	"github.com/Additional-Code/preorder/pkg/errorbank"
)

// Module wires the static page endpoint.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)

// Handler serves the static text pages.
type Handler struct {
	reader *pages.Reader
}

// NewHandler constructs a page Handler.
func NewHandler(reader *pages.Reader) *Handler {
	return &Handler{reader: reader}
}

// Register mounts GET /pages/:name.
func Register(e *echo.Echo, h *Handler) {
	e.GET("/pages/:name", h.get)
}

type pageResponse struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

func (h *Handler) get(c echo.Context) error {
	b := response.New(c)
	name := c.Param("name")

	text, err := h.reader.Read(name)
	if errors.Is(err, pages.ErrUnknownPage) {
		return b.WithError(errorbank.NotFound("page not found",
			errorbank.WithDetail("available", pages.Names()))).Build()
	}
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(pageResponse{Name: name, Text: text}).Build()
}
