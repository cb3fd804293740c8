package recordstore

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/preorder/internal/config"
	"github.com/Additional-Code/preorder/internal/database"
)

// Module provides the configured Store to the Fx graph.
var Module = fx.Provide(NewStore)

// Pinger is implemented by backends that hold a network connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewStore opens the backend named by cfg.Store.Driver and wraps it with the
// per-operation timeout and tracing decorators.
func NewStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Store, error) {
	backend, err := openBackend(lc, cfg, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if p, ok := backend.(Pinger); ok {
				if err := p.Ping(ctx); err != nil {
					return fmt.Errorf("ping %s record store: %w", cfg.Store.Driver, err)
				}
			}
			logger.Info("record store ready",
				zap.String("driver", cfg.Store.Driver),
				zap.Duration("op_timeout", cfg.Store.OpTimeout),
			)
			return nil
		},
	})

	return WithTracing(WithTimeout(backend, cfg.Store.OpTimeout), cfg.Store.Driver), nil
}

func openBackend(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Warn("using in-memory record store; orders are lost on restart")
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Store.Dir, logger.Named("recordstore"))
	case "pebble":
		store, err := OpenPebbleStore(cfg.Store.PebbleDir)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return store.Close() }})
		return store, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return client.Close() }})
		return NewRedisStore(client, cfg.Store.Redis.KeyPrefix), nil
	case "sql":
		conns, err := database.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return conns.Close() }})
		return NewSQLStore(conns.Writer), nil
	case "remote":
		if cfg.Store.Remote.Token == "" {
			logger.Warn("REMOTE_TOKEN is empty; every record store call will fail")
		}
		return NewRemoteStore(cfg.Store.Remote, nil)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
