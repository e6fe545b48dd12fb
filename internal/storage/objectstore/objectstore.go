// Package objectstore реализует хранилище версий в S3-совместимом бакете (MinIO).
//
// Каждая версия - объект <prefix><id>.json. Контрольная сумма, номер версии,
// стратегия и время сохранения передаются пользовательскими метаданными объекта.
package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maynagashev/snapkeeper/internal/storage"
	"github.com/maynagashev/snapkeeper/models"
)

const backendName = "minio"

// Ключи пользовательских метаданных объекта.
const (
	metaChecksum = "Checksum"
	metaVersion  = "Version"
	metaStrategy = "Strategy"
	metaStoredAt = "Stored-At"
)

// Storage хранит версии в бакете.
type Storage struct {
	cfg    models.StorageConfig
	bucket Bucket
	prefix string
	life   *storage.Lifecycle
	now    func() time.Time
}

var (
	_ storage.Engine   = (*Storage)(nil)
	_ storage.Importer = (*Storage)(nil)
)

// Option настраивает Storage.
type Option func(*Storage)

// WithBucket подменяет клиент бакета.
func WithBucket(b Bucket) Option {
	return func(s *Storage) { s.bucket = b }
}

// New создает хранилище. Path - адрес MinIO (host:port), имя бакета и ключи
// доступа берутся из опций. Сетевые запросы выполняются в Initialize.
func New(cfg models.StorageConfig, opts ...Option) (*Storage, error) {
	if err := storage.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Type != models.StorageMinio {
		return nil, storage.NewError("конфигурация не относится к MinIO", storage.CodeValidation,
			map[string]any{"type": string(cfg.Type)})
	}
	cfg = storage.MergeWithDefaults(cfg)
	if cfg.Options.Bucket == "" {
		return nil, storage.NewError("не указано имя бакета", storage.CodeValidation,
			map[string]any{"endpoint": cfg.Path})
	}
	s := &Storage{
		cfg:    cfg,
		prefix: cfg.Options.KeyPrefix,
		life:   storage.NewLifecycle(backendName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bucket == nil {
		b, err := NewMinioBucket(minioConfig(cfg))
		if err != nil {
			return nil, storage.WrapError(err, "ошибка создания клиента MinIO", storage.CodeValidation,
				map[string]any{"endpoint": cfg.Path})
		}
		s.bucket = b
	}
	return s, nil
}

func minioConfig(cfg models.StorageConfig) MinioConfig {
	return MinioConfig{
		Endpoint:        cfg.Path,
		AccessKeyID:     cfg.Options.AccessKeyID,
		SecretAccessKey: cfg.Options.SecretAccessKey,
		UseSSL:          cfg.Options.UseSSL,
		BucketName:      cfg.Options.Bucket,
		Region:          cfg.Options.Region,
	}
}

func (s *Storage) key(versionID string) string {
	return storage.GenerateObjectKey(s.prefix, versionID)
}

func (s *Storage) objectPath(key string) string {
	return s.bucket.Name() + "/" + key
}

// Initialize проверяет бакет и создает его, если он отсутствует.
func (s *Storage) Initialize(ctx context.Context) error {
	if err := s.bucket.Ensure(ctx); err != nil {
		return storage.WrapError(err, "ошибка инициализации бакета", storage.CodeNetwork,
			map[string]any{"endpoint": s.cfg.Path, "bucket": s.bucket.Name()})
	}
	s.life.MarkInitialized()
	slog.Info("Хранилище MinIO инициализировано", "endpoint", s.cfg.Path, "bucket", s.bucket.Name())
	return nil
}

func (s *Storage) guard(versionID string) error {
	if err := s.life.EnsureInitialized(); err != nil {
		return err
	}
	return storage.ValidateVersionID(versionID)
}

// put сериализует версию и загружает ее вместе с метаданными.
func (s *Storage) put(ctx context.Context, info *models.VersionInfo, storedAt time.Time) (models.StorageMetadata, error) {
	payload, err := json.Marshal(info)
	if err != nil {
		return models.StorageMetadata{}, storage.WrapError(err, "ошибка сериализации версии",
			storage.CodeSerialization, map[string]any{"versionId": info.ID})
	}
	checksum, err := storage.GenerateChecksum(info.Data)
	if err != nil {
		return models.StorageMetadata{}, err
	}
	meta := models.StorageMetadata{
		StoredAt: storedAt,
		Size:     int64(len(payload)),
		Checksum: checksum,
		Version:  info.Version,
	}
	if info.Metadata != nil {
		meta.Strategy = info.Metadata.Strategy
	}
	if _, err = s.bucket.Put(ctx, s.key(info.ID), payload, encodeUserMetadata(meta)); err != nil {
		return models.StorageMetadata{}, storage.WrapError(err, "ошибка сохранения версии в MinIO",
			storage.CodeIO, map[string]any{"versionId": info.ID})
	}
	return meta, nil
}

// Store загружает версию объектом <prefix><id>.json.
func (s *Storage) Store(
	ctx context.Context,
	info *models.VersionInfo,
	_ *models.StorageConfig,
) (*models.VersionStorage, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return nil, err
	}
	if err := storage.ValidateVersionInfo(info); err != nil {
		return nil, err
	}
	storedAt := s.now().UTC()
	meta, err := s.put(ctx, info, storedAt)
	if err != nil {
		return nil, err
	}
	return &models.VersionStorage{
		ID:        storage.GenerateStorageID(info.ID, storedAt),
		VersionID: info.ID,
		Path:      s.objectPath(s.key(info.ID)),
		Metadata:  meta,
	}, nil
}

// Retrieve скачивает версию. Отсутствующий объект дает nil без ошибки.
func (s *Storage) Retrieve(ctx context.Context, versionID string) (*models.VersionInfo, error) {
	if err := s.guard(versionID); err != nil {
		return nil, err
	}
	info, _, err := s.fetch(ctx, versionID)
	if errors.Is(err, ErrObjectNotFound) {
		return nil, nil //nolint:nilnil // отсутствие версии - не ошибка
	}
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *Storage) fetch(ctx context.Context, versionID string) (*models.VersionInfo, ObjectInfo, error) {
	data, obj, err := s.bucket.Get(ctx, s.key(versionID))
	if errors.Is(err, ErrObjectNotFound) {
		return nil, ObjectInfo{}, err
	}
	if err != nil {
		return nil, ObjectInfo{}, storage.WrapError(err, "ошибка чтения версии из MinIO", storage.CodeIO,
			map[string]any{"versionId": versionID})
	}
	var info models.VersionInfo
	if err = storage.DecodeJSON(data, &info); err != nil {
		return nil, ObjectInfo{}, storage.WrapError(err, "ошибка декодирования версии", storage.CodeSerialization,
			map[string]any{"versionId": versionID})
	}
	return &info, obj, nil
}

// Delete удаляет объект версии. S3 не сообщает об отсутствии объекта при
// удалении, поэтому наличие проверяется заранее.
func (s *Storage) Delete(ctx context.Context, versionID string) (bool, error) {
	if err := s.guard(versionID); err != nil {
		return false, err
	}
	found, err := s.Exists(ctx, versionID)
	if err != nil || !found {
		return false, err
	}
	if err = s.bucket.Remove(ctx, s.key(versionID)); err != nil {
		return false, storage.WrapError(err, "ошибка удаления версии из MinIO", storage.CodeIO,
			map[string]any{"versionId": versionID})
	}
	return true, nil
}

// List возвращает версии с префиксом хранилища. Вложенные ключи и объекты
// с другим расширением пропускаются.
func (s *Storage) List(ctx context.Context, _ *models.StorageConfig) ([]models.VersionStorage, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return nil, err
	}
	objects, err := s.bucket.List(ctx, s.prefix)
	if err != nil {
		return nil, storage.WrapError(err, "ошибка получения списка версий из MinIO", storage.CodeIO,
			map[string]any{"bucket": s.bucket.Name()})
	}
	records := make([]models.VersionStorage, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, s.prefix)
		if strings.Contains(name, "/") {
			continue
		}
		id, ok := storage.VersionIDFromFileName(name)
		if !ok {
			continue
		}
		meta := decodeUserMetadata(obj)
		records = append(records, models.VersionStorage{
			ID:        storage.GenerateStorageID(id, meta.StoredAt),
			VersionID: id,
			Path:      s.objectPath(obj.Key),
			Metadata:  meta,
		})
	}
	return records, nil
}

// Exists проверяет наличие объекта версии.
func (s *Storage) Exists(ctx context.Context, versionID string) (bool, error) {
	if err := s.guard(versionID); err != nil {
		return false, err
	}
	_, err := s.bucket.Stat(ctx, s.key(versionID))
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storage.WrapError(err, "ошибка проверки версии в MinIO", storage.CodeIO,
			map[string]any{"versionId": versionID})
	}
	return true, nil
}

// GetMetadata возвращает метаданные из заголовков объекта.
func (s *Storage) GetMetadata(ctx context.Context, versionID string) (*models.StorageMetadata, error) {
	if err := s.guard(versionID); err != nil {
		return nil, err
	}
	obj, err := s.bucket.Stat(ctx, s.key(versionID))
	if errors.Is(err, ErrObjectNotFound) {
		return nil, storage.NewError("версия не найдена", storage.CodeNotFound, map[string]any{"versionId": versionID})
	}
	if err != nil {
		return nil, storage.WrapError(err, "ошибка получения метаданных из MinIO", storage.CodeIO,
			map[string]any{"versionId": versionID})
	}
	meta := decodeUserMetadata(obj)
	return &meta, nil
}

// UpdateMetadata перезаписывает объект с обновленными метаданными версии.
// Время сохранения остается прежним.
func (s *Storage) UpdateMetadata(ctx context.Context, versionID string, patch models.MetadataPatch) (bool, error) {
	if err := s.guard(versionID); err != nil {
		return false, err
	}
	info, obj, err := s.fetch(ctx, versionID)
	if errors.Is(err, ErrObjectNotFound) {
		return false, storage.NewError("версия не найдена", storage.CodeNotFound, map[string]any{"versionId": versionID})
	}
	if err != nil {
		return false, err
	}

	var current models.VersionMetadata
	if info.Metadata != nil {
		current = *info.Metadata
	}
	updated := patch.Apply(current)
	info.Metadata = &updated
	info.UpdatedAt = s.now().UTC()

	if _, err = s.put(ctx, info, decodeUserMetadata(obj).StoredAt); err != nil {
		return false, err
	}
	return true, nil
}

// Cleanup удаляет версии по общей политике хранения.
func (s *Storage) Cleanup(ctx context.Context, override *models.StorageConfig) (int, error) {
	records, err := s.List(ctx, override)
	if err != nil {
		return 0, err
	}
	opts := storage.ResolveOptions(s.cfg, override)
	candidates := storage.SelectForCleanup(records, storage.PolicyFromOptions(opts), s.now())
	removed := storage.DeleteCandidates(ctx, backendName, candidates, s.Delete)
	slog.Info("Очистка MinIO завершена", "candidates", len(candidates), "removed", removed)
	return removed, nil
}

// Validate проверяет, что бакет из cfg доступен. Бакет не создается.
func (s *Storage) Validate(ctx context.Context, cfg models.StorageConfig) bool {
	if err := storage.ValidateConfig(cfg); err != nil || cfg.Type != models.StorageMinio {
		return false
	}
	cfg = storage.MergeWithDefaults(cfg)
	if cfg.Options.Bucket == "" {
		return false
	}
	probe, err := NewMinioBucket(minioConfig(cfg))
	if err != nil {
		return false
	}
	exists, err := probe.Exists(ctx)
	return err == nil && exists
}

// Dispose сбрасывает состояние. Клиент MinIO не держит постоянных соединений.
func (s *Storage) Dispose(_ context.Context) error {
	s.life.Reset()
	return nil
}

// ImportData сохраняет версии из выгрузки по одной.
func (s *Storage) ImportData(ctx context.Context, bundle *models.ExportBundle) (int, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return 0, err
	}
	return storage.StoreEach(ctx, s, bundle)
}

func encodeUserMetadata(meta models.StorageMetadata) map[string]string {
	m := map[string]string{
		metaChecksum: meta.Checksum,
		metaVersion:  meta.Version,
		metaStoredAt: meta.StoredAt.UTC().Format(time.RFC3339Nano),
	}
	if meta.Strategy != "" {
		m[metaStrategy] = meta.Strategy
	}
	return m
}

// decodeUserMetadata восстанавливает метаданные хранения из объекта.
// Без Stored-At временем сохранения считается время изменения объекта.
func decodeUserMetadata(obj ObjectInfo) models.StorageMetadata {
	meta := models.StorageMetadata{
		StoredAt: obj.LastModified.UTC(),
		Size:     obj.Size,
		Checksum: lookupMeta(obj.UserMetadata, metaChecksum),
		Version:  lookupMeta(obj.UserMetadata, metaVersion),
		Strategy: lookupMeta(obj.UserMetadata, metaStrategy),
	}
	if raw := lookupMeta(obj.UserMetadata, metaStoredAt); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			meta.StoredAt = t.UTC()
		}
	}
	return meta
}

// lookupMeta ищет значение без учета регистра и префикса X-Amz-Meta-.
func lookupMeta(m map[string]string, key string) string {
	want := http.CanonicalHeaderKey(key)
	for k, v := range m {
		k = http.CanonicalHeaderKey(strings.TrimPrefix(http.CanonicalHeaderKey(k), "X-Amz-Meta-"))
		if k == want {
			return v
		}
	}
	return ""
}
