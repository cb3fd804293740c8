package order

import "go.uber.org/fx"

// Module mounts the menu and order endpoints on the shared Echo router.
var Module = fx.Options(
	fx.Provide(NewHandler),
	fx.Invoke(Register),
)
