// Package redisstore реализует хранилище версий в Redis.
//
// Раскладка ключей при префиксе p:
//
//	p + "version:" + id  - JSON версии
//	p + "meta:" + id     - JSON метаданных хранения
//	p + "index"          - sorted set идентификаторов, score = storedAt (мс)
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maynagashev/snapkeeper/internal/storage"
	"github.com/maynagashev/snapkeeper/models"
)

const (
	backendName   = "redis"
	defaultPrefix = "snapkeeper:"
	pingTimeout   = 2 * time.Second
	// Сколько раз UpdateMetadata повторяет транзакцию при конкурентной записи.
	maxTxRetries = 5
)

// Storage хранит версии в Redis.
type Storage struct {
	cfg    models.StorageConfig
	opts   *redis.Options
	prefix string
	life   *storage.Lifecycle
	now    func() time.Time

	mu     sync.Mutex
	client *redis.Client
}

var (
	_ storage.Engine   = (*Storage)(nil)
	_ storage.Importer = (*Storage)(nil)
)

// New создает хранилище. Path - redis URL, например redis://localhost:6379/0.
// Соединение устанавливается в Initialize.
func New(cfg models.StorageConfig) (*Storage, error) {
	if err := storage.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Type != models.StorageRedis {
		return nil, storage.NewError("конфигурация не относится к Redis", storage.CodeValidation,
			map[string]any{"type": string(cfg.Type)})
	}
	opts, err := redis.ParseURL(cfg.Path)
	if err != nil {
		return nil, storage.WrapError(err, "некорректный redis URL", storage.CodeValidation, nil)
	}
	cfg = storage.MergeWithDefaults(cfg)
	prefix := cfg.Options.KeyPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Storage{
		cfg:    cfg,
		opts:   opts,
		prefix: prefix,
		life:   storage.NewLifecycle(backendName),
		now:    time.Now,
	}, nil
}

func (s *Storage) versionKey(id string) string { return s.prefix + "version:" + id }
func (s *Storage) metaKey(id string) string    { return s.prefix + "meta:" + id }
func (s *Storage) indexKey() string            { return s.prefix + "index" }

// Initialize подключается к Redis и проверяет соединение командой PING.
func (s *Storage) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		s.client = redis.NewClient(s.opts)
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		return storage.WrapError(err, "ошибка подключения к Redis", storage.CodeNetwork,
			map[string]any{"addr": s.opts.Addr})
	}
	s.life.MarkInitialized()
	return nil
}

func (s *Storage) conn() (*redis.Client, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, storage.NewError("хранилище не инициализировано", storage.CodeNotInitialized,
			map[string]any{"backend": backendName})
	}
	return s.client, nil
}

// encode сериализует версию и строит ее метаданные хранения.
func (s *Storage) encode(info *models.VersionInfo, storedAt time.Time) ([]byte, []byte, models.StorageMetadata, error) {
	payload, err := json.Marshal(info)
	if err != nil {
		return nil, nil, models.StorageMetadata{}, storage.WrapError(err, "ошибка сериализации версии",
			storage.CodeSerialization, map[string]any{"versionId": info.ID})
	}
	checksum, err := storage.GenerateChecksum(info.Data)
	if err != nil {
		return nil, nil, models.StorageMetadata{}, err
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
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, nil, models.StorageMetadata{}, storage.WrapError(err, "ошибка сериализации метаданных",
			storage.CodeSerialization, map[string]any{"versionId": info.ID})
	}
	return payload, metaJSON, meta, nil
}

// Store записывает версию, метаданные и индекс одной транзакцией.
func (s *Storage) Store(
	ctx context.Context,
	info *models.VersionInfo,
	_ *models.StorageConfig,
) (*models.VersionStorage, error) {
	client, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err = storage.ValidateVersionInfo(info); err != nil {
		return nil, err
	}
	storedAt := s.now().UTC()
	payload, metaJSON, meta, err := s.encode(info, storedAt)
	if err != nil {
		return nil, err
	}

	pipe := client.TxPipeline()
	pipe.Set(ctx, s.versionKey(info.ID), payload, 0)
	pipe.Set(ctx, s.metaKey(info.ID), metaJSON, 0)
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(storedAt.UnixMilli()), Member: info.ID})
	if _, err = pipe.Exec(ctx); err != nil {
		return nil, storage.WrapError(err, "ошибка сохранения версии в Redis", storage.CodeIO,
			map[string]any{"versionId": info.ID})
	}
	return &models.VersionStorage{
		ID:        storage.GenerateStorageID(info.ID, storedAt),
		VersionID: info.ID,
		Path:      s.versionKey(info.ID),
		Metadata:  meta,
	}, nil
}

// Retrieve читает версию. Отсутствующий ключ дает nil без ошибки.
func (s *Storage) Retrieve(ctx context.Context, versionID string) (*models.VersionInfo, error) {
	client, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err = storage.ValidateVersionID(versionID); err != nil {
		return nil, err
	}
	data, err := client.Get(ctx, s.versionKey(versionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil //nolint:nilnil // отсутствие версии - не ошибка
	}
	if err != nil {
		return nil, storage.WrapError(err, "ошибка чтения версии из Redis", storage.CodeIO,
			map[string]any{"versionId": versionID})
	}
	var info models.VersionInfo
	if err = storage.DecodeJSON(data, &info); err != nil {
		return nil, storage.WrapError(err, "ошибка декодирования версии", storage.CodeSerialization,
			map[string]any{"versionId": versionID})
	}
	return &info, nil
}

// Delete удаляет версию, ее метаданные и запись индекса.
func (s *Storage) Delete(ctx context.Context, versionID string) (bool, error) {
	client, err := s.conn()
	if err != nil {
		return false, err
	}
	if err = storage.ValidateVersionID(versionID); err != nil {
		return false, err
	}
	pipe := client.TxPipeline()
	del := pipe.Del(ctx, s.versionKey(versionID))
	pipe.Del(ctx, s.metaKey(versionID))
	pipe.ZRem(ctx, s.indexKey(), versionID)
	if _, err = pipe.Exec(ctx); err != nil {
		return false, storage.WrapError(err, "ошибка удаления версии из Redis", storage.CodeIO,
			map[string]any{"versionId": versionID})
	}
	return del.Val() > 0, nil
}

// List возвращает записи в порядке индекса (по времени сохранения).
// Идентификаторы индекса без метаданных пропускаются.
func (s *Storage) List(ctx context.Context, _ *models.StorageConfig) ([]models.VersionStorage, error) {
	client, err := s.conn()
	if err != nil {
		return nil, err
	}
	ids, err := client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, storage.WrapError(err, "ошибка чтения индекса Redis", storage.CodeIO, nil)
	}
	if len(ids) == 0 {
		return []models.VersionStorage{}, nil
	}

	pipe := client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.metaKey(id))
	}
	if _, err = pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, storage.WrapError(err, "ошибка чтения метаданных из Redis", storage.CodeIO, nil)
	}

	records := make([]models.VersionStorage, 0, len(ids))
	for i, id := range ids {
		data, getErr := cmds[i].Bytes()
		if getErr != nil {
			slog.Debug("Пропущена запись индекса без метаданных", "versionId", id, "error", getErr)
			continue
		}
		var meta models.StorageMetadata
		if err = json.Unmarshal(data, &meta); err != nil {
			slog.Warn("Пропущены поврежденные метаданные", "versionId", id, "error", err)
			continue
		}
		records = append(records, models.VersionStorage{
			ID:        storage.GenerateStorageID(id, meta.StoredAt),
			VersionID: id,
			Path:      s.versionKey(id),
			Metadata:  meta,
		})
	}
	return records, nil
}

// Exists проверяет наличие ключа версии.
func (s *Storage) Exists(ctx context.Context, versionID string) (bool, error) {
	client, err := s.conn()
	if err != nil {
		return false, err
	}
	if err = storage.ValidateVersionID(versionID); err != nil {
		return false, err
	}
	n, err := client.Exists(ctx, s.versionKey(versionID)).Result()
	if err != nil {
		return false, storage.WrapError(err, "ошибка проверки версии в Redis", storage.CodeIO,
			map[string]any{"versionId": versionID})
	}
	return n > 0, nil
}

// GetMetadata возвращает сохраненные метаданные хранения.
func (s *Storage) GetMetadata(ctx context.Context, versionID string) (*models.StorageMetadata, error) {
	client, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err = storage.ValidateVersionID(versionID); err != nil {
		return nil, err
	}
	data, err := client.Get(ctx, s.metaKey(versionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.NewError("версия не найдена", storage.CodeNotFound, map[string]any{"versionId": versionID})
	}
	if err != nil {
		return nil, storage.WrapError(err, "ошибка чтения метаданных из Redis", storage.CodeIO,
			map[string]any{"versionId": versionID})
	}
	var meta models.StorageMetadata
	if err = json.Unmarshal(data, &meta); err != nil {
		return nil, storage.WrapError(err, "ошибка декодирования метаданных", storage.CodeSerialization,
			map[string]any{"versionId": versionID})
	}
	return &meta, nil
}

// UpdateMetadata применяет патч в оптимистичной транзакции WATCH/MULTI.
// Время сохранения и позиция в индексе не меняются.
func (s *Storage) UpdateMetadata(ctx context.Context, versionID string, patch models.MetadataPatch) (bool, error) {
	client, err := s.conn()
	if err != nil {
		return false, err
	}
	if err = storage.ValidateVersionID(versionID); err != nil {
		return false, err
	}
	vKey, mKey := s.versionKey(versionID), s.metaKey(versionID)

	txf := func(tx *redis.Tx) error {
		data, getErr := tx.Get(ctx, vKey).Bytes()
		if errors.Is(getErr, redis.Nil) {
			return storage.NewError("версия не найдена", storage.CodeNotFound, map[string]any{"versionId": versionID})
		}
		if getErr != nil {
			return getErr
		}
		var info models.VersionInfo
		if getErr = storage.DecodeJSON(data, &info); getErr != nil {
			return storage.WrapError(getErr, "ошибка декодирования версии", storage.CodeSerialization,
				map[string]any{"versionId": versionID})
		}
		storedAt := s.now().UTC()
		if metaData, metaErr := tx.Get(ctx, mKey).Bytes(); metaErr == nil {
			var prev models.StorageMetadata
			if json.Unmarshal(metaData, &prev) == nil && !prev.StoredAt.IsZero() {
				storedAt = prev.StoredAt
			}
		}

		var current models.VersionMetadata
		if info.Metadata != nil {
			current = *info.Metadata
		}
		updated := patch.Apply(current)
		info.Metadata = &updated
		info.UpdatedAt = s.now().UTC()

		payload, metaJSON, _, encErr := s.encode(&info, storedAt)
		if encErr != nil {
			return encErr
		}
		_, execErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, vKey, payload, 0)
			pipe.Set(ctx, mKey, metaJSON, 0)
			return nil
		})
		return execErr
	}

	for i := 0; i < maxTxRetries; i++ {
		err = client.Watch(ctx, txf, vKey, mKey)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		slog.Debug("Конфликт транзакции, повтор", "versionId", versionID)
	}
	if err != nil {
		if storage.CodeOf(err) != "" {
			return false, err
		}
		return false, storage.WrapError(err, "ошибка обновления метаданных в Redis", storage.CodeIO,
			map[string]any{"versionId": versionID})
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
	slog.Info("Очистка Redis завершена", "candidates", len(candidates), "removed", removed)
	return removed, nil
}

// Validate проверяет доступность Redis по адресу из cfg отдельным соединением.
func (s *Storage) Validate(ctx context.Context, cfg models.StorageConfig) bool {
	if err := storage.ValidateConfig(cfg); err != nil || cfg.Type != models.StorageRedis {
		return false
	}
	opts, err := redis.ParseURL(cfg.Path)
	if err != nil {
		return false
	}
	probe := redis.NewClient(opts)
	defer probe.Close()
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return probe.Ping(pingCtx).Err() == nil
}

// Dispose закрывает соединение. Повторные вызовы безопасны.
func (s *Storage) Dispose(_ context.Context) error {
	s.life.Reset()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	if err != nil {
		return storage.WrapError(err, "ошибка закрытия соединения с Redis", storage.CodeIO, nil)
	}
	return nil
}

// ImportData сохраняет версии из выгрузки по одной.
func (s *Storage) ImportData(ctx context.Context, bundle *models.ExportBundle) (int, error) {
	if _, err := s.conn(); err != nil {
		return 0, err
	}
	return storage.StoreEach(ctx, s, bundle)
}
