package injector

import (
	"context"
	"fmt"

	"github.com/aethersync/aethersync/internal/config"
	"github.com/aethersync/aethersync/internal/core/observability/log"
	"github.com/aethersync/aethersync/internal/core/physics"
	"github.com/aethersync/aethersync/internal/core/protocol"
	"github.com/aethersync/aethersync/internal/core/rooms"
	"github.com/aethersync/aethersync/internal/core/store"
	"github.com/aethersync/aethersync/internal/server"
)

// memoryCacheShards is the shard count used when no redis_url is configured.
const memoryCacheShards = 64

func ProvideLogger(cfg config.Config) log.Log {
	return log.New(log.ParseLevel(cfg.LogLevel))
}

func ProvideCodec() *protocol.Codec {
	return protocol.NewCodec()
}

func ProvideRegistry() *protocol.Registry {
	return protocol.NewRegistry()
}

// ProvideCache selects redis when a URL is configured, otherwise the sharded
// in-process cache.
func ProvideCache(ctx context.Context, cfg config.Config, logger log.Log) (store.Cache, error) {
	if cfg.RedisURL == "" {
		logger.Info("No redis_url configured, using in-memory cache")
		return store.NewMemoryCache(memoryCacheShards), nil
	}
	cache, err := store.NewRedisCache(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return cache, nil
}

// ProvideDurable selects postgres when a URL is configured, otherwise the
// in-memory table.
func ProvideDurable(ctx context.Context, cfg config.Config, logger log.Log) (store.Durable, error) {
	if cfg.DatabaseURL == "" {
		logger.Info("No database_url configured, using in-memory durable store")
		return store.NewMemoryDurable(), nil
	}
	durable, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return durable, nil
}

func ProvideEntityStore(cache store.Cache, durable store.Durable, logger log.Log) *store.EntityStore {
	return store.NewEntityStore(cache, durable, logger)
}

func ProvideRoomRegistry(cache store.Cache, entities *store.EntityStore, logger log.Log) *rooms.Registry {
	return rooms.NewRegistry(cache, entities, logger)
}

func ProvideStepper(cfg config.Config, cache store.Cache, logger log.Log) *physics.Stepper {
	return physics.NewStepper(cache, cfg.PhysicsWorkers, logger)
}

func ProvideTransport(cfg config.Config, codec *protocol.Codec, logger log.Log) (server.Transport, error) {
	switch cfg.Transport {
	case "quic":
		return server.NewQUICTransport(cfg, codec, logger), nil
	case "websocket":
		return server.NewWebSocketTransport(cfg, codec, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func ProvideAuthenticator(cfg config.Config) server.Authenticator {
	return server.NewStaticAuthenticator(cfg.StaticTokens)
}
