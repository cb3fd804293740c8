package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/Additional-Code/preorder/internal/config"
	"github.com/Additional-Code/preorder/internal/recordstore"
	"github.com/Additional-Code/preorder/pkg/errorbank"
)

// ServiceName is the health-checked service reported next to the overall ("") status.
const ServiceName = "preorder.RecordStore"

const checkInterval = 10 * time.Second

// Module exposes the gRPC health server and lifecycle hooks to Fx.
var Module = fx.Module("grpc_server",
	fx.Provide(NewServer, NewHealthChecker),
	fx.Invoke(Run),
)

// NewServer builds a gRPC server with basic unary/stream logging interceptors.
func NewServer(logger *zap.Logger) *grpc.Server {
	unary := unaryInterceptor(logger)

	stream := func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		if err != nil {
			logger.Warn("grpc stream call finished", zap.String("method", info.FullMethod), zap.Duration("duration", time.Since(start)), zap.Error(err))
		}
		return err
	}

	return grpc.NewServer(
		grpc.ChainUnaryInterceptor(unary),
		grpc.ChainStreamInterceptor(stream),
	)
}

// unaryInterceptor logs each call and translates application errors into
// gRPC statuses so clients see NotFound or Unavailable instead of Unknown.
func unaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Warn("grpc unary call finished", zap.String("method", info.FullMethod), zap.Duration("duration", time.Since(start)), zap.Error(err))
		} else {
			logger.Debug("grpc unary call finished", zap.String("method", info.FullMethod), zap.Duration("duration", time.Since(start)))
		}
		var appErr *errorbank.AppError
		if errors.As(err, &appErr) {
			return resp, status.Error(appErr.GRPCCode(), appErr.Message())
		}
		return resp, err
	}
}

// HealthChecker publishes record store reachability through grpc.health.v1.
type HealthChecker struct {
	server *health.Server
	store  recordstore.Store
	logger *zap.Logger
}

// NewHealthChecker registers the standard health service on srv.
func NewHealthChecker(srv *grpc.Server, store recordstore.Store, logger *zap.Logger) *HealthChecker {
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthChecker{server: hs, store: store, logger: logger}
}

// Check pings the store once and updates the served status.
func (h *HealthChecker) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	serving := healthpb.HealthCheckResponse_SERVING
	if err := recordstore.Ping(ctx, h.store); err != nil {
		h.logger.Warn("record store health check failed", zap.Error(err))
		serving = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", serving)
	h.server.SetServingStatus(ServiceName, serving)
	return serving
}

func (h *HealthChecker) watch(ctx context.Context) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Run binds the gRPC server to the configured host/port and manages lifecycle.
func Run(lc fx.Lifecycle, cfg config.Config, server *grpc.Server, checker *HealthChecker, logger *zap.Logger) {
	if !cfg.GRPC.Enabled {
		logger.Info("gRPC health server disabled")
		return
	}
	addr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	var (
		listener net.Listener
		cancel   context.CancelFunc
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen grpc: %w", err)
			}
			listener = ln

			checker.Check(ctx)
			var watchCtx context.Context
			watchCtx, cancel = context.WithCancel(context.Background())
			go checker.watch(watchCtx)

			logger.Info("starting gRPC server", zap.String("addr", addr))
			go func() {
				if err := server.Serve(listener); err != nil {
					logger.Error("grpc server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping gRPC server")
			if cancel != nil {
				cancel()
			}
			checker.server.Shutdown()

			stopped := make(chan struct{})
			go func() {
				server.GracefulStop()
				close(stopped)
			}()

			select {
			case <-ctx.Done():
				server.Stop()
				return ctx.Err()
			case <-stopped:
				return nil
			}
		},
	})
}
