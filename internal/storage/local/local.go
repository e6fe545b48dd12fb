// Package local реализует хранилище версий в локальном каталоге: один JSON-файл на версию.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/maynagashev/snapkeeper/internal/storage"
	"github.com/maynagashev/snapkeeper/models"
)

const (
	backendName  = "local"
	lockFileName = ".snapkeeper.lock"
	dirPerm      = 0o750
	filePerm     = 0o640
)

// Storage хранит версии в файлах <path>/<versionId>.json.
type Storage struct {
	cfg  models.StorageConfig
	dir  string
	life *storage.Lifecycle

	mu   sync.Mutex   // Сериализует read-modify-write внутри процесса
	lock *flock.Flock // Блокировка каталога между процессами
}

var (
	_ storage.Engine   = (*Storage)(nil)
	_ storage.Importer = (*Storage)(nil)
)

// New создает локальное хранилище. Каталог не трогается до Initialize.
func New(cfg models.StorageConfig) (*Storage, error) {
	if err := storage.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Type != models.StorageLocal {
		return nil, storage.NewError("конфигурация не относится к локальному хранилищу", storage.CodeValidation,
			map[string]any{"type": string(cfg.Type)})
	}
	cfg = storage.MergeWithDefaults(cfg)
	dir := filepath.Clean(cfg.Path)
	return &Storage{
		cfg:  cfg,
		dir:  dir,
		life: storage.NewLifecycle(backendName),
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}, nil
}

// Dir возвращает каталог хранилища.
func (s *Storage) Dir() string {
	return s.dir
}

// Initialize проверяет каталог и создает его, если разрешено опцией CreateDirectories.
// Без этой опции отсутствующий каталог - ошибка: писать в непредусмотренное место нельзя.
func (s *Storage) Initialize(_ context.Context) error {
	info, err := os.Stat(s.dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return storage.NewError("путь хранилища не является каталогом", storage.CodeIO,
				map[string]any{"path": s.dir})
		}
	case errors.Is(err, fs.ErrNotExist):
		if !s.cfg.Options.CreateDirectories {
			return storage.NewError("каталог хранилища не существует", storage.CodeIO,
				map[string]any{"path": s.dir})
		}
		if err = os.MkdirAll(s.dir, dirPerm); err != nil {
			return storage.WrapError(err, "ошибка создания каталога хранилища", storage.CodeIO,
				map[string]any{"path": s.dir})
		}
		slog.Info("Создан каталог хранилища", "path", s.dir)
	default:
		return storage.WrapError(err, "ошибка проверки каталога хранилища", storage.CodeIO,
			map[string]any{"path": s.dir})
	}
	s.life.MarkInitialized()
	return nil
}

// Store сериализует версию в JSON с отступами и записывает ее в файл.
// При BackupEnabled существующий файл сначала копируется в <path>.backup.
func (s *Storage) Store(
	_ context.Context,
	info *models.VersionInfo,
	override *models.StorageConfig,
) (*models.VersionStorage, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return nil, err
	}
	if err := storage.ValidateVersionInfo(info); err != nil {
		return nil, err
	}
	opts := storage.ResolveOptions(s.cfg, override)

	payload, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, storage.WrapError(err, "ошибка сериализации версии", storage.CodeSerialization,
			map[string]any{"versionId": info.ID})
	}
	checksum, err := storage.GenerateChecksum(info.Data)
	if err != nil {
		return nil, err
	}

	path := storage.GenerateStoragePath(s.dir, info.ID)
	if err = s.writeRecord(path, payload, opts); err != nil {
		return nil, err
	}

	// Время хранения берется из mtime, как в List и GetMetadata.
	fi, err := os.Stat(path)
	if err != nil {
		return nil, storage.WrapError(err, "ошибка получения информации о файле", storage.CodeIO,
			map[string]any{"path": path})
	}
	storedAt := fi.ModTime().UTC()
	slog.Debug("Версия сохранена", "versionId", info.ID, "path", path, "size", len(payload))
	return &models.VersionStorage{
		ID:        storage.GenerateStorageID(info.ID, storedAt),
		VersionID: info.ID,
		Path:      path,
		Metadata: models.StorageMetadata{
			StoredAt: storedAt,
			Size:     fi.Size(),
			Checksum: checksum,
			Version:  info.Version,
			Strategy: info.Metadata.Strategy,
		},
	}, nil
}

// Retrieve читает версию. Отсутствующий файл - не ошибка, возвращается nil.
func (s *Storage) Retrieve(_ context.Context, versionID string) (*models.VersionInfo, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return nil, err
	}
	if err := storage.ValidateVersionID(versionID); err != nil {
		return nil, err
	}
	return s.readRecord(storage.GenerateStoragePath(s.dir, versionID))
}

// Delete удаляет файл версии. Резервная копия не удаляется.
func (s *Storage) Delete(_ context.Context, versionID string) (bool, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return false, err
	}
	if err := storage.ValidateVersionID(versionID); err != nil {
		return false, err
	}
	path := storage.GenerateStoragePath(s.dir, versionID)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storage.WrapError(err, "ошибка удаления файла", storage.CodeIO,
			map[string]any{"path": path})
	}
	slog.Debug("Версия удалена", "versionId", versionID, "path", path)
	return true, nil
}

// List сканирует каталог и возвращает записи для файлов *.json.
// Файлы, для которых не удался stat, пропускаются без ошибки.
func (s *Storage) List(_ context.Context, _ *models.StorageConfig) ([]models.VersionStorage, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, storage.WrapError(err, "ошибка чтения каталога хранилища", storage.CodeIO,
			map[string]any{"path": s.dir})
	}

	records := make([]models.VersionStorage, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		versionID, ok := storage.VersionIDFromFileName(entry.Name())
		if !ok {
			continue
		}
		fi, statErr := entry.Info()
		if statErr != nil {
			slog.Debug("Пропущен файл без stat", "name", entry.Name(), "error", statErr)
			continue
		}
		storedAt := fi.ModTime().UTC()
		records = append(records, models.VersionStorage{
			ID:        storage.GenerateStorageID(versionID, storedAt),
			VersionID: versionID,
			Path:      filepath.Join(s.dir, entry.Name()),
			Metadata: models.StorageMetadata{
				StoredAt: storedAt,
				Size:     fi.Size(),
			},
		})
	}
	return records, nil
}

// Exists проверяет наличие файла версии.
func (s *Storage) Exists(_ context.Context, versionID string) (bool, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return false, err
	}
	if err := storage.ValidateVersionID(versionID); err != nil {
		return false, err
	}
	fi, err := os.Stat(storage.GenerateStoragePath(s.dir, versionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, storage.WrapError(err, "ошибка проверки файла", storage.CodeIO,
			map[string]any{"versionId": versionID})
	}
	return fi.Mode().IsRegular(), nil
}

// GetMetadata строит метаданные из stat и контрольной суммы перечитанного файла.
// Ошибка вычисления контрольной суммы не прерывает вызов.
func (s *Storage) GetMetadata(_ context.Context, versionID string) (*models.StorageMetadata, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return nil, err
	}
	if err := storage.ValidateVersionID(versionID); err != nil {
		return nil, err
	}
	path := storage.GenerateStoragePath(s.dir, versionID)
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.NewError("версия не найдена", storage.CodeNotFound,
				map[string]any{"versionId": versionID})
		}
		return nil, storage.WrapError(err, "ошибка получения информации о файле", storage.CodeIO,
			map[string]any{"path": path})
	}

	meta := &models.StorageMetadata{
		StoredAt: fi.ModTime().UTC(),
		Size:     fi.Size(),
		Checksum: storage.ChecksumUnavailable,
	}
	info, readErr := s.readRecord(path)
	if readErr != nil || info == nil {
		slog.Warn("Не удалось вычислить контрольную сумму", "versionId", versionID, "error", readErr)
		return meta, nil
	}
	meta.Checksum = storage.ChecksumOrSentinel(info.Data)
	meta.Version = info.Version
	if info.Metadata != nil {
		meta.Strategy = info.Metadata.Strategy
	}
	return meta, nil
}

// UpdateMetadata читает версию, применяет патч к метаданным и перезаписывает файл.
func (s *Storage) UpdateMetadata(_ context.Context, versionID string, patch models.MetadataPatch) (bool, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return false, err
	}
	if err := storage.ValidateVersionID(versionID); err != nil {
		return false, err
	}
	unlock, err := s.acquire()
	if err != nil {
		return false, err
	}
	defer unlock()

	path := storage.GenerateStoragePath(s.dir, versionID)
	info, err := s.readRecord(path)
	if err != nil {
		return false, err
	}
	if info == nil {
		return false, storage.NewError("версия не найдена", storage.CodeNotFound,
			map[string]any{"versionId": versionID})
	}

	var current models.VersionMetadata
	if info.Metadata != nil {
		current = *info.Metadata
	}
	updated := patch.Apply(current)
	info.Metadata = &updated
	info.UpdatedAt = time.Now().UTC()

	payload, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return false, storage.WrapError(err, "ошибка сериализации версии", storage.CodeSerialization,
			map[string]any{"versionId": versionID})
	}
	if err = s.writeRecord(path, payload, *s.cfg.Options); err != nil {
		return false, err
	}
	return true, nil
}

// Cleanup удаляет версии старше MaxAge и самые старые версии сверх MaxVersions.
func (s *Storage) Cleanup(ctx context.Context, override *models.StorageConfig) (int, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return 0, err
	}
	opts := storage.ResolveOptions(s.cfg, override)
	unlock, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer unlock()

	records, err := s.List(ctx, override)
	if err != nil {
		return 0, err
	}
	candidates := storage.SelectForCleanup(records, storage.PolicyFromOptions(opts), time.Now())
	removed := storage.DeleteCandidates(ctx, backendName, candidates, s.Delete)
	slog.Info("Очистка локального хранилища завершена",
		"path", s.dir, "candidates", len(candidates), "removed", removed)
	return removed, nil
}

// Validate проверяет, что каталог из cfg существует и доступен. Ничего не создает.
func (s *Storage) Validate(_ context.Context, cfg models.StorageConfig) bool {
	if err := storage.ValidateConfig(cfg); err != nil || cfg.Type != models.StorageLocal {
		return false
	}
	fi, err := os.Stat(filepath.Clean(cfg.Path))
	if err != nil || !fi.IsDir() {
		return false
	}
	_, err = os.ReadDir(cfg.Path)
	return err == nil
}

// Dispose снимает блокировку каталога. Повторные вызовы безопасны.
func (s *Storage) Dispose(_ context.Context) error {
	s.life.Reset()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock.Locked() {
		if err := s.lock.Unlock(); err != nil {
			return storage.WrapError(err, "ошибка снятия блокировки каталога", storage.CodeIO, nil)
		}
	}
	return nil
}

// ImportData сохраняет версии из выгрузки по одной.
func (s *Storage) ImportData(ctx context.Context, bundle *models.ExportBundle) (int, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return 0, err
	}
	return storage.StoreEach(ctx, s, bundle)
}

// acquire берет блокировку процесса и файловую блокировку каталога.
func (s *Storage) acquire() (func(), error) {
	s.mu.Lock()
	if err := s.lock.Lock(); err != nil {
		s.mu.Unlock()
		return nil, storage.WrapError(err, "ошибка блокировки каталога хранилища", storage.CodeIO,
			map[string]any{"path": s.lock.Path()})
	}
	return func() {
		if err := s.lock.Unlock(); err != nil {
			slog.Warn("Ошибка снятия блокировки каталога", "path", s.lock.Path(), "error", err)
		}
		s.mu.Unlock()
	}, nil
}

func (s *Storage) readRecord(path string) (*models.VersionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil //nolint:nilnil // отсутствие версии - не ошибка
		}
		return nil, storage.WrapError(err, "ошибка чтения файла", storage.CodeIO, map[string]any{"path": path})
	}
	var info models.VersionInfo
	if err = storage.DecodeJSON(data, &info); err != nil {
		return nil, storage.WrapError(err, "ошибка декодирования файла версии", storage.CodeSerialization,
			map[string]any{"path": path})
	}
	return &info, nil
}

func (s *Storage) writeRecord(path string, payload []byte, opts models.StorageOptions) error {
	if opts.BackupEnabled {
		if err := backupExisting(path); err != nil {
			return err
		}
	}
	if opts.AtomicWrites {
		return writeAtomic(path, payload)
	}
	if err := os.WriteFile(path, payload, filePerm); err != nil {
		return storage.WrapError(err, "ошибка записи файла", storage.CodeIO, map[string]any{"path": path})
	}
	return nil
}

// backupExisting копирует существующий файл в <path>.backup. Копии не удаляются.
func backupExisting(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return storage.WrapError(err, "ошибка чтения файла для резервной копии", storage.CodeIO,
			map[string]any{"path": path})
	}
	backupPath := path + storage.BackupSuffix
	if err = os.WriteFile(backupPath, data, filePerm); err != nil {
		return storage.WrapError(err, "ошибка записи резервной копии", storage.CodeIO,
			map[string]any{"path": backupPath})
	}
	slog.Debug("Создана резервная копия", "path", backupPath)
	return nil
}

// writeAtomic пишет во временный файл в том же каталоге и переименовывает его.
func writeAtomic(path string, payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return storage.WrapError(err, "ошибка создания временного файла", storage.CodeIO,
			map[string]any{"path": path})
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err = tmp.Write(payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return storage.WrapError(err, "ошибка записи временного файла", storage.CodeIO, map[string]any{"path": tmpPath})
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return storage.WrapError(err, "ошибка синхронизации временного файла", storage.CodeIO,
			map[string]any{"path": tmpPath})
	}
	if err = tmp.Close(); err != nil {
		cleanup()
		return storage.WrapError(err, "ошибка закрытия временного файла", storage.CodeIO, map[string]any{"path": tmpPath})
	}
	if err = os.Chmod(tmpPath, filePerm); err != nil {
		cleanup()
		return storage.WrapError(err, "ошибка установки прав файла", storage.CodeIO, map[string]any{"path": tmpPath})
	}
	if err = os.Rename(tmpPath, path); err != nil {
		cleanup()
		return storage.WrapError(err, "ошибка переименования временного файла", storage.CodeIO,
			map[string]any{"path": path})
	}
	return nil
}
