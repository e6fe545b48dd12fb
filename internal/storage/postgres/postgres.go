// Package postgres реализует хранилище версий в таблице PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/maynagashev/snapkeeper/internal/storage"
	"github.com/maynagashev/snapkeeper/models"
)

const backendName = "postgres"

const (
	upsertSQL = `INSERT INTO snapshot_versions
	    (version_id, storage_id, payload, checksum, size_bytes, version, strategy, tags, stored_at)
	    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	    ON CONFLICT (version_id) DO UPDATE SET
	    storage_id = EXCLUDED.storage_id, payload = EXCLUDED.payload, checksum = EXCLUDED.checksum,
	    size_bytes = EXCLUDED.size_bytes, version = EXCLUDED.version, strategy = EXCLUDED.strategy,
	    tags = EXCLUDED.tags, stored_at = EXCLUDED.stored_at`

	listSQL = `SELECT version_id, storage_id, checksum, size_bytes, version, strategy, stored_at
	    FROM snapshot_versions ORDER BY stored_at ASC, version_id ASC`

	updatePayloadSQL = `UPDATE snapshot_versions
	    SET payload = $2, size_bytes = $3, version = $4, strategy = $5, tags = $6
	    WHERE version_id = $1`

	selectPayloadSQL   = `SELECT payload FROM snapshot_versions WHERE version_id = $1`
	selectForUpdateSQL = `SELECT payload FROM snapshot_versions WHERE version_id = $1 FOR UPDATE`
	deleteSQL          = `DELETE FROM snapshot_versions WHERE version_id = $1`
	existsSQL          = `SELECT EXISTS(SELECT 1 FROM snapshot_versions WHERE version_id = $1)`
	selectMetaSQL      = `SELECT checksum, size_bytes, version, strategy, stored_at FROM snapshot_versions WHERE version_id = $1`
)

// metaRow - строка метаданных хранения.
type metaRow struct {
	VersionID string    `db:"version_id"`
	StorageID string    `db:"storage_id"`
	Checksum  string    `db:"checksum"`
	SizeBytes int64     `db:"size_bytes"`
	Version   string    `db:"version"`
	Strategy  string    `db:"strategy"`
	StoredAt  time.Time `db:"stored_at"`
}

func (r metaRow) metadata() models.StorageMetadata {
	return models.StorageMetadata{
		StoredAt: r.StoredAt.UTC(),
		Size:     r.SizeBytes,
		Checksum: r.Checksum,
		Version:  r.Version,
		Strategy: r.Strategy,
	}
}

// Storage хранит версии в таблице snapshot_versions.
type Storage struct {
	cfg  models.StorageConfig
	life *storage.Lifecycle
	now  func() time.Time

	mu    sync.Mutex
	db    *sqlx.DB
	ownDB bool // Пул открыт нами и закрывается в Dispose
}

var (
	_ storage.Engine   = (*Storage)(nil)
	_ storage.Importer = (*Storage)(nil)
)

// New создает хранилище. Path - DSN PostgreSQL. Подключение выполняется в Initialize.
func New(cfg models.StorageConfig) (*Storage, error) {
	if err := storage.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Type != models.StoragePostgres {
		return nil, storage.NewError("конфигурация не относится к PostgreSQL", storage.CodeValidation,
			map[string]any{"type": string(cfg.Type)})
	}
	return &Storage{
		cfg:  storage.MergeWithDefaults(cfg),
		life: storage.NewLifecycle(backendName),
		now:  time.Now,
	}, nil
}

// NewWithDB создает хранилище поверх готового пула. Пул не закрывается в Dispose.
func NewWithDB(cfg models.StorageConfig, db *sqlx.DB) (*Storage, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	s.db = db
	return s, nil
}

// Initialize подключается к БД (если пул не передан) и создает схему.
func (s *Storage) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		db, err := Connect(ctx, s.cfg.Path)
		if err != nil {
			return err
		}
		s.db = db
		s.ownDB = true
	}
	if err := Migrate(ctx, s.db); err != nil {
		return err
	}
	s.life.MarkInitialized()
	return nil
}

func (s *Storage) conn() (*sqlx.DB, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, storage.NewError("хранилище не инициализировано", storage.CodeNotInitialized,
			map[string]any{"backend": backendName})
	}
	return s.db, nil
}

// encode сериализует версию для записи в таблицу.
func encode(info *models.VersionInfo) ([]byte, string, error) {
	payload, err := json.Marshal(info)
	if err != nil {
		return nil, "", storage.WrapError(err, "ошибка сериализации версии", storage.CodeSerialization,
			map[string]any{"versionId": info.ID})
	}
	checksum, err := storage.GenerateChecksum(info.Data)
	if err != nil {
		return nil, "", err
	}
	return payload, checksum, nil
}

func tagsOf(info *models.VersionInfo) pq.StringArray {
	if info.Metadata == nil || info.Metadata.Tags == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(info.Metadata.Tags)
}

func strategyOf(info *models.VersionInfo) string {
	if info.Metadata == nil {
		return ""
	}
	return info.Metadata.Strategy
}

// upsert записывает версию через ExecContext пула или транзакции.
func (s *Storage) upsert(ctx context.Context, ex sqlx.ExecerContext, info *models.VersionInfo) (*models.VersionStorage, error) {
	if err := storage.ValidateVersionInfo(info); err != nil {
		return nil, err
	}
	payload, checksum, err := encode(info)
	if err != nil {
		return nil, err
	}
	storedAt := s.now().UTC()
	storageID := storage.GenerateStorageID(info.ID, storedAt)
	_, err = ex.ExecContext(ctx, upsertSQL,
		info.ID, storageID, string(payload), checksum, int64(len(payload)),
		info.Version, strategyOf(info), tagsOf(info), storedAt,
	)
	if err != nil {
		slog.Error("Ошибка сохранения версии в БД", "versionId", info.ID, "error", err)
		return nil, storage.WrapError(err, "ошибка выполнения запроса на сохранение версии", storage.CodeIO,
			map[string]any{"versionId": info.ID})
	}
	return &models.VersionStorage{
		ID:        storageID,
		VersionID: info.ID,
		Path:      "snapshot_versions/" + info.ID,
		Metadata: models.StorageMetadata{
			StoredAt: storedAt,
			Size:     int64(len(payload)),
			Checksum: checksum,
			Version:  info.Version,
			Strategy: strategyOf(info),
		},
	}, nil
}

// Store сохраняет версию. Повторное сохранение того же id перезаписывает строку.
func (s *Storage) Store(
	ctx context.Context,
	info *models.VersionInfo,
	_ *models.StorageConfig,
) (*models.VersionStorage, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	return s.upsert(ctx, db, info)
}

// Retrieve читает версию. Отсутствующая строка дает nil без ошибки.
func (s *Storage) Retrieve(ctx context.Context, versionID string) (*models.VersionInfo, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err = storage.ValidateVersionID(versionID); err != nil {
		return nil, err
	}
	var payload []byte
	err = db.QueryRowxContext(ctx, selectPayloadSQL, versionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // отсутствие версии - не ошибка
	}
	if err != nil {
		return nil, storage.WrapError(err, "ошибка выполнения запроса на получение версии", storage.CodeIO,
			map[string]any{"versionId": versionID})
	}
	var info models.VersionInfo
	if err = storage.DecodeJSON(payload, &info); err != nil {
		return nil, storage.WrapError(err, "ошибка декодирования версии", storage.CodeSerialization,
			map[string]any{"versionId": versionID})
	}
	return &info, nil
}

// Delete удаляет строку версии.
func (s *Storage) Delete(ctx context.Context, versionID string) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	if err = storage.ValidateVersionID(versionID); err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, deleteSQL, versionID)
	if err != nil {
		return false, storage.WrapError(err, "ошибка выполнения запроса на удаление версии", storage.CodeIO,
			map[string]any{"versionId": versionID})
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storage.WrapError(err, "ошибка получения числа удаленных строк", storage.CodeIO, nil)
	}
	return n > 0, nil
}

// List возвращает записи от старых к новым.
func (s *Storage) List(ctx context.Context, _ *models.StorageConfig) ([]models.VersionStorage, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows := make([]metaRow, 0)
	if err = db.SelectContext(ctx, &rows, listSQL); err != nil {
		return nil, storage.WrapError(err, "ошибка выполнения запроса на получение списка версий", storage.CodeIO, nil)
	}
	records := make([]models.VersionStorage, 0, len(rows))
	for _, r := range rows {
		records = append(records, models.VersionStorage{
			ID:        r.StorageID,
			VersionID: r.VersionID,
			Path:      "snapshot_versions/" + r.VersionID,
			Metadata:  r.metadata(),
		})
	}
	return records, nil
}

// Exists проверяет наличие строки версии.
func (s *Storage) Exists(ctx context.Context, versionID string) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	if err = storage.ValidateVersionID(versionID); err != nil {
		return false, err
	}
	var exists bool
	if err = db.GetContext(ctx, &exists, existsSQL, versionID); err != nil {
		return false, storage.WrapError(err, "ошибка проверки версии", storage.CodeIO,
			map[string]any{"versionId": versionID})
	}
	return exists, nil
}

// GetMetadata читает метаданные хранения из колонок таблицы.
func (s *Storage) GetMetadata(ctx context.Context, versionID string) (*models.StorageMetadata, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	if err = storage.ValidateVersionID(versionID); err != nil {
		return nil, err
	}
	var row metaRow
	err = db.GetContext(ctx, &row, selectMetaSQL, versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NewError("версия не найдена", storage.CodeNotFound, map[string]any{"versionId": versionID})
	}
	if err != nil {
		return nil, storage.WrapError(err, "ошибка выполнения запроса на получение метаданных", storage.CodeIO,
			map[string]any{"versionId": versionID})
	}
	meta := row.metadata()
	return &meta, nil
}

// UpdateMetadata применяет патч в транзакции с блокировкой строки (SELECT ... FOR UPDATE).
func (s *Storage) UpdateMetadata(ctx context.Context, versionID string, patch models.MetadataPatch) (bool, error) {
	db, err := s.conn()
	if err != nil {
		return false, err
	}
	if err = storage.ValidateVersionID(versionID); err != nil {
		return false, err
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return false, storage.WrapError(err, "ошибка начала транзакции", storage.CodeIO, nil)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("Ошибка отката транзакции", "versionId", versionID, "error", rbErr)
		}
	}()

	var payload []byte
	err = tx.QueryRowxContext(ctx, selectForUpdateSQL, versionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return false, storage.NewError("версия не найдена", storage.CodeNotFound, map[string]any{"versionId": versionID})
	}
	if err != nil {
		return false, storage.WrapError(err, "ошибка чтения версии", storage.CodeIO, map[string]any{"versionId": versionID})
	}
	var info models.VersionInfo
	if err = storage.DecodeJSON(payload, &info); err != nil {
		return false, storage.WrapError(err, "ошибка декодирования версии", storage.CodeSerialization,
			map[string]any{"versionId": versionID})
	}

	var current models.VersionMetadata
	if info.Metadata != nil {
		current = *info.Metadata
	}
	updated := patch.Apply(current)
	info.Metadata = &updated
	info.UpdatedAt = s.now().UTC()

	newPayload, _, err := encode(&info)
	if err != nil {
		return false, err
	}
	_, err = tx.ExecContext(ctx, updatePayloadSQL,
		versionID, string(newPayload), int64(len(newPayload)), info.Version, updated.Strategy, tagsOf(&info))
	if err != nil {
		return false, storage.WrapError(err, "ошибка выполнения запроса на обновление метаданных", storage.CodeIO,
			map[string]any{"versionId": versionID})
	}
	if err = tx.Commit(); err != nil {
		return false, storage.WrapError(err, "ошибка фиксации транзакции", storage.CodeIO, nil)
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
	slog.Info("Очистка PostgreSQL завершена", "candidates", len(candidates), "removed", removed)
	return removed, nil
}

// Validate открывает отдельное соединение по DSN из cfg и выполняет ping.
func (s *Storage) Validate(ctx context.Context, cfg models.StorageConfig) bool {
	if err := storage.ValidateConfig(cfg); err != nil || cfg.Type != models.StoragePostgres {
		return false
	}
	probe, err := sqlx.Open(driverName, cfg.Path)
	if err != nil {
		return false
	}
	defer probe.Close()
	opts := *storage.MergeWithDefaults(cfg).Options
	pingCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	return probe.PingContext(pingCtx) == nil
}

// Dispose закрывает пул, если он был открыт в Initialize. Повторные вызовы безопасны.
func (s *Storage) Dispose(_ context.Context) error {
	s.life.Reset()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil || !s.ownDB {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.ownDB = false
	if err != nil {
		return storage.WrapError(err, "ошибка закрытия соединения с БД", storage.CodeIO, nil)
	}
	return nil
}

// ImportData сохраняет всю выгрузку в одной транзакции: либо все версии, либо ни одной.
func (s *Storage) ImportData(ctx context.Context, bundle *models.ExportBundle) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	if bundle == nil || bundle.Versions == nil {
		return 0, storage.NewError("некорректная выгрузка: versions должен быть массивом", storage.CodeValidation, nil)
	}
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, storage.WrapError(err, "ошибка начала транзакции", storage.CodeIO, nil)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("Ошибка отката транзакции импорта", "error", rbErr)
		}
	}()
	for i := range bundle.Versions {
		if _, err = s.upsert(ctx, tx, &bundle.Versions[i]); err != nil {
			return 0, err
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, storage.WrapError(err, "ошибка фиксации транзакции", storage.CodeIO, nil)
	}
	slog.Info("Импорт в PostgreSQL завершен", "imported", len(bundle.Versions))
	return len(bundle.Versions), nil
}
