package app

import (
	"go.uber.org/fx"

	"github.com/Additional-Code/preorder/internal/cache"
	"github.com/Additional-Code/preorder/internal/config"
	"github.com/Additional-Code/preorder/internal/logger"
	"github.com/Additional-Code/preorder/internal/menu"
	"github.com/Additional-Code/preorder/internal/messaging"
	"github.com/Additional-Code/preorder/internal/observability"
	"github.com/Additional-Code/preorder/internal/pages"
	"github.com/Additional-Code/preorder/internal/recordstore"
	repositoryorder "github.com/Additional-Code/preorder/internal/repository/order"
	"github.com/Additional-Code/preorder/internal/sequence"
	grpcserver "github.com/Additional-Code/preorder/internal/server/grpc"
	httpserver "github.com/Additional-Code/preorder/internal/server/http"
	serviceorder "github.com/Additional-Code/preorder/internal/service/order"
	transporthttp "github.com/Additional-Code/preorder/internal/transport/http"
	"github.com/Additional-Code/preorder/internal/worker"
	workerorder "github.com/Additional-Code/preorder/internal/worker/order"
)

// Store provides configuration, logging, telemetry and the record store
// with the order number allocator on top. CLI maintenance commands build on it.
var Store = fx.Options(
	config.Module,
	logger.Module,
	observability.Module,
	recordstore.Module,
	sequence.Module,
)

// Core provides the foundational modules shared across executables.
var Core = fx.Options(
	Store,
	cache.Module,
	menu.Module,
	messaging.Module,
	pages.Module,
	repositoryorder.Module,
	serviceorder.Module,
)

// HTTP wires the HTTP and gRPC health transports on top of the core modules.
var HTTP = fx.Options(
	Core,
	httpserver.Module,
	grpcserver.Module,
	transporthttp.Module,
)

// Worker exposes background processing of order events.
var Worker = fx.Options(
	Core,
	worker.Module,
	workerorder.Module,
)

// Module is the default application wiring (HTTP only).
var Module = HTTP
