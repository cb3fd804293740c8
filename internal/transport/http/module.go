package http

import (
	"go.uber.org/fx"

	ordertransport "github.com/Additional-Code/preorder/internal/transport/http/order"
	pagestransport "github.com/Additional-Code/preorder/internal/transport/http/pages"
)

// Module aggregates all HTTP transport handlers.
var Module = fx.Options(
	ordertransport.Module,
	pagestransport.Module,
)
