package order

import "go.uber.org/fx"

// Module provides the order persister to Fx.
var Module = fx.Provide(NewPersister)
