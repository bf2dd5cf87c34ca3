package session

import (
	"context"
	"fmt"

	"chathub/internal/app/db"
	"chathub/internal/configs"
	"chathub/internal/pkg/logx"
)

// Open builds the Store selected by cfg.SessionBackend.
func Open(ctx context.Context, cfg *configs.AppConfig) (Store, error) {
	switch cfg.SessionBackend {
	case configs.SessionBackendMemory:
		logx.Info("Session store: in-memory (single instance only)")
		return NewMemoryStore(cfg.SessionTTL), nil

	case configs.SessionBackendRedis:
		store, err := NewRedisStore(ctx, RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.SessionTTL,
		})
		if err != nil {
			return nil, err
		}
		logx.Info("Session store: redis", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
		return store, nil

	case configs.SessionBackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("session: postgres: %w", err)
		}
		logx.Info("Session store: postgres")
		return NewPostgresStore(pool, cfg.SessionTTL), nil

	default:
		return nil, fmt.Errorf("session: unknown backend %q", cfg.SessionBackend)
	}
}
