// Package backend выбирает реализацию хранилища по типу из конфигурации.
package backend

import (
	"fmt"

	"github.com/maynagashev/snapkeeper/internal/metrics"
	"github.com/maynagashev/snapkeeper/internal/storage"
	"github.com/maynagashev/snapkeeper/internal/storage/local"
	"github.com/maynagashev/snapkeeper/internal/storage/objectstore"
	"github.com/maynagashev/snapkeeper/internal/storage/postgres"
	"github.com/maynagashev/snapkeeper/internal/storage/redisstore"
	"github.com/maynagashev/snapkeeper/internal/storage/remote"
	"github.com/maynagashev/snapkeeper/models"
)

// Open создает хранилище нужного типа и оборачивает его метриками.
// При m == nil метрики не собираются. Хранилище возвращается
// неинициализированным: вызывающий код сам вызывает Initialize.
func Open(cfg models.StorageConfig, m metrics.StorageMetrics) (storage.Engine, error) {
	if err := storage.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	engine, err := create(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Instrument(engine, m, string(cfg.Type)), nil
}

func create(cfg models.StorageConfig) (storage.Engine, error) {
	switch cfg.Type {
	case models.StorageLocal:
		return local.New(cfg)
	case models.StorageRemote:
		return remote.New(cfg)
	case models.StorageRedis:
		return redisstore.New(cfg)
	case models.StoragePostgres:
		return postgres.New(cfg)
	case models.StorageMinio:
		return objectstore.New(cfg)
	default:
		return nil, storage.NewError(fmt.Sprintf("неизвестный тип хранилища '%s'", cfg.Type),
			storage.CodeValidation, map[string]any{"type": string(cfg.Type)})
	}
}
