package storage

import (
	"context"
	"sync/atomic"

	"github.com/maynagashev/snapkeeper/models"
)

// Engine определяет контракт, который реализует каждый бэкенд хранилища.
type Engine interface {
	// Initialize готовит бэкенд к работе. Повторные вызовы безопасны.
	Initialize(ctx context.Context) error
	// Store сохраняет версию и возвращает запись хранилища.
	Store(ctx context.Context, info *models.VersionInfo, override *models.StorageConfig) (*models.VersionStorage, error)
	// Retrieve возвращает версию или nil, если ее нет.
	Retrieve(ctx context.Context, versionID string) (*models.VersionInfo, error)
	// Delete удаляет версию. Возвращает false, если версии не было.
	Delete(ctx context.Context, versionID string) (bool, error)
	// List возвращает все записи хранилища в порядке, определяемом бэкендом.
	List(ctx context.Context, override *models.StorageConfig) ([]models.VersionStorage, error)
	// Exists проверяет наличие версии.
	Exists(ctx context.Context, versionID string) (bool, error)
	// GetMetadata возвращает метаданные хранения. Для отсутствующей версии - ErrNotFound.
	GetMetadata(ctx context.Context, versionID string) (*models.StorageMetadata, error)
	// UpdateMetadata применяет патч к метаданным версии. Для отсутствующей версии - ErrNotFound.
	UpdateMetadata(ctx context.Context, versionID string, patch models.MetadataPatch) (bool, error)
	// Cleanup удаляет версии, нарушающие политику хранения, и возвращает их количество.
	Cleanup(ctx context.Context, override *models.StorageConfig) (int, error)
	// Validate проверяет, что хранилище по конфигурации доступно, ничего не изменяя.
	Validate(ctx context.Context, cfg models.StorageConfig) bool
	// Dispose освобождает ресурсы. Повторные вызовы безопасны.
	Dispose(ctx context.Context) error
}

// Importer реализуют бэкенды, которые умеют загружать выгрузку целиком.
type Importer interface {
	ImportData(ctx context.Context, bundle *models.ExportBundle) (int, error)
}

// Exporter реализуют бэкенды, которые умеют отдать выгрузку одним запросом.
type Exporter interface {
	ExportData(ctx context.Context) (*models.ExportBundle, error)
}

// Lifecycle хранит признак инициализации бэкенда.
type Lifecycle struct {
	backend     string
	initialized atomic.Bool
}

// NewLifecycle создает Lifecycle для бэкенда с указанным именем.
func NewLifecycle(backend string) *Lifecycle {
	return &Lifecycle{backend: backend}
}

// MarkInitialized отмечает бэкенд как готовый к работе.
func (l *Lifecycle) MarkInitialized() {
	l.initialized.Store(true)
}

// Reset возвращает бэкенд в неинициализированное состояние.
// Возвращает true, если бэкенд был инициализирован.
func (l *Lifecycle) Reset() bool {
	return l.initialized.Swap(false)
}

// Initialized сообщает, был ли вызван Initialize.
func (l *Lifecycle) Initialized() bool {
	return l.initialized.Load()
}

// EnsureInitialized возвращает фатальную ошибку, если Initialize еще не вызывался.
func (l *Lifecycle) EnsureInitialized() error {
	if l.initialized.Load() {
		return nil
	}
	return NewError("хранилище не инициализировано", CodeNotInitialized, map[string]any{
		"backend": l.backend,
	})
}
