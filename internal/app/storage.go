package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

// storageRuntime — хранилище и его служебные репозитории.
type storageRuntime struct {
	txm        domain.TxManager
	outboxRepo domain.OutboxRepository
	idemRepo   domain.IdempotencyRepository
	ping       func(ctx context.Context) error
	close      func() error
}

func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*storageRuntime, error) {
	switch cfg.StorageDriver {
	case "", StorageDriverMemory:
		store := memory.NewStore()
		if cfg.SeedDemoData {
			if err := seedDemoCatalog(ctx, store); err != nil {
				return nil, fmt.Errorf("seed demo catalog: %w", err)
			}
			logger.Info("demo catalog loaded into memory store")
		}
		logger.Warn("using in-memory storage, data is lost on restart")
		return &storageRuntime{
			txm:        store,
			outboxRepo: store.OutboxRepository(),
			idemRepo:   memory.NewIdempotencyRepository(),
			ping:       store.Ping,
			close:      func() error { return nil },
		}, nil

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage requires POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("auto migrate: %w", err)
			}
			version, applied, err := store.MigrationStatus(ctx)
			if err == nil {
				logger.WithFields(log.Fields{"version": version, "applied": applied}).Info("postgres schema is up to date")
			}
		}
		return &storageRuntime{
			txm:        store,
			outboxRepo: store.OutboxRepository(),
			idemRepo:   store.IdempotencyRepository(),
			ping:       store.Ping,
			close:      store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
