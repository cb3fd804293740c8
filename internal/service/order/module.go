package order

import (
	"go.uber.org/fx"

	repo "github.com/Additional-Code/preorder/internal/repository/order"
	"github.com/Additional-Code/preorder/internal/sequence"
)

// Module provides the order submission service to Fx. It expects the
// sequence and repository/order modules in the same graph.
var Module = fx.Provide(NewService)

var (
	_ Allocator = (*sequence.Allocator)(nil)
	_ Persister = (*repo.Persister)(nil)
)
