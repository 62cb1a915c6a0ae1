package userstore

import (
	"context"
	"fmt"

	"github.com/dusk-indust/roster/internal/config"
)

// Open constructs the backend selected by cfg.Driver and initializes its
// schema. The caller owns the returned Backend and must Close it.
func Open(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Driver {
	case config.DriverMemory, "":
		b = NewMemStore()
	case config.DriverPostgres:
		b, err = NewSQLStore(ctx, cfg.DSN)
	case config.DriverGorm:
		b, err = NewGormStore(cfg.DSN)
	case config.DriverKuzu:
		b, err = openKuzuBackend(cfg.KuzuPath)
	case config.DriverRedis:
		b, err = NewRedisStore(ctx, RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	case config.DriverSpanner:
		b, err = NewSpannerStore(ctx, cfg.SpannerDatabase)
	default:
		return nil, fmt.Errorf("userstore: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := b.InitSchema(ctx); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}
