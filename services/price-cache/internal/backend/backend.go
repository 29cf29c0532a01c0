// Package backend opens the configured document store.
package backend

import (
	"context"
	"fmt"

	"github.com/finboard/price-cache/services/price-cache/internal/cache"
	"github.com/finboard/price-cache/services/price-cache/internal/config"
	priceDB "github.com/finboard/price-cache/services/price-cache/internal/database"
	"github.com/finboard/price-cache/services/price-cache/internal/service"
	"github.com/finboard/price-cache/services/price-cache/internal/syncstate"
	"github.com/finboard/price-cache/shared/pkg/database"
	"github.com/sirupsen/logrus"
)

// DocumentStore is everything the service needs from one storage backend.
type DocumentStore interface {
	cache.Backend
	syncstate.Backend
	service.AuditLedger
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ DocumentStore = (*priceDB.Repository)(nil)
	_ DocumentStore = (*cache.RedisBackend)(nil)
	_ DocumentStore = (*cache.MemoryBackend)(nil)
)

// Open connects to cfg.Backend. When Postgres or Redis cannot be reached it
// falls back to the in-memory store if allowFallback is set.
func Open(ctx context.Context, cfg *config.Config, allowFallback bool, logger *logrus.Logger) (DocumentStore, string, error) {
	store, err := open(ctx, cfg, logger)
	if err == nil {
		return store, cfg.Backend, nil
	}
	if !allowFallback {
		return nil, "", err
	}

	logger.WithError(err).WithField("backend", cfg.Backend).Warn("Backend unavailable, falling back to in-memory cache")
	return cache.NewMemoryBackend(), config.BackendMemory, nil
}

func open(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (DocumentStore, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return cache.NewMemoryBackend(), nil

	case config.BackendRedis:
		return cache.NewRedisBackend(ctx, cfg.Redis)

	case config.BackendPostgres:
		db, err := database.NewConnection(cfg.Database.DbUri, logger)
		if err != nil {
			return nil, err
		}
		repo := priceDB.NewRepository(db, logger)
		if err := repo.InitSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return repo, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
}
