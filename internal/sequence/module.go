package sequence

import "go.uber.org/fx"

// Module provides the order number allocator to Fx.
var Module = fx.Provide(NewAllocator)
