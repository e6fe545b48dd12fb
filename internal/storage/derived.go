package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/maynagashev/snapkeeper/models"
)

// Операции этого файла построены поверх примитивов Engine и одинаковы для всех бэкендов.

// BatchStore сохраняет версии последовательно и останавливается на первой ошибке.
// Возвращает уже сохраненные записи вместе с ошибкой.
func BatchStore(
	ctx context.Context,
	e Engine,
	infos []*models.VersionInfo,
	override *models.StorageConfig,
) ([]*models.VersionStorage, error) {
	results := make([]*models.VersionStorage, 0, len(infos))
	for _, info := range infos {
		stored, err := e.Store(ctx, info, override)
		if err != nil {
			return results, err
		}
		results = append(results, stored)
	}
	return results, nil
}

// BatchDelete удаляет версии последовательно. Ошибка удаления отдельной версии
// дает false на ее позиции и не прерывает пакет.
func BatchDelete(ctx context.Context, e Engine, versionIDs []string) []bool {
	results := make([]bool, len(versionIDs))
	for i, id := range versionIDs {
		deleted, err := e.Delete(ctx, id)
		if err != nil {
			slog.Warn("Ошибка удаления версии в пакете", "versionId", id, "error", err)
			continue
		}
		results[i] = deleted
	}
	return results
}

// SearchQuery - фильтр поиска версий. Пустые поля не участвуют в отборе.
type SearchQuery struct {
	VersionID string         `json:"versionId,omitempty"` // Точное совпадение
	Path      string         `json:"path,omitempty"`      // Подстрока пути
	Metadata  map[string]any `json:"metadata,omitempty"`  // Подмножество ключей и значений метаданных
}

// IsEmpty сообщает, что запрос совпадает со всеми записями.
func (q *SearchQuery) IsEmpty() bool {
	return q == nil || (q.VersionID == "" && q.Path == "" && len(q.Metadata) == 0)
}

// SearchVersions фильтрует результат List в памяти. Пустой запрос (или nil) совпадает со всем.
func SearchVersions(ctx context.Context, e Engine, query *SearchQuery) ([]models.VersionStorage, error) {
	records, err := e.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	if query.IsEmpty() {
		return records, nil
	}
	wanted, err := normalizeJSON(query.Metadata)
	if err != nil {
		return nil, WrapError(err, "некорректный фильтр метаданных", CodeValidation, nil)
	}
	wantedMeta, _ := wanted.(map[string]any)

	matched := make([]models.VersionStorage, 0, len(records))
	for _, rec := range records {
		if query.VersionID != "" && rec.VersionID != query.VersionID {
			continue
		}
		if query.Path != "" && !strings.Contains(rec.Path, query.Path) {
			continue
		}
		if len(wantedMeta) > 0 && !metadataMatches(rec.Metadata, wantedMeta) {
			continue
		}
		matched = append(matched, rec)
	}
	return matched, nil
}

func metadataMatches(meta models.StorageMetadata, wanted map[string]any) bool {
	normalized, err := normalizeJSON(meta)
	if err != nil {
		return false
	}
	actual, ok := normalized.(map[string]any)
	if !ok {
		return false
	}
	for key, value := range wanted {
		got, present := actual[key]
		if !present || !reflect.DeepEqual(got, value) {
			return false
		}
	}
	return true
}

// normalizeJSON приводит значение к виду, который дает json.Unmarshal в any,
// чтобы 5 и 5.0 или time.Time и строка сравнивались одинаково.
func normalizeJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err = json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Statistics - агрегированная статистика хранилища.
type Statistics struct {
	TotalVersions int        `json:"totalVersions"`
	TotalSize     int64      `json:"totalSize"`
	AverageSize   float64    `json:"averageSize"`
	OldestVersion *time.Time `json:"oldestVersion,omitempty"`
	NewestVersion *time.Time `json:"newestVersion,omitempty"`
}

// GetStatistics считает количество, суммарный и средний размер, самую старую и новую версии.
func GetStatistics(ctx context.Context, e Engine) (*Statistics, error) {
	records, err := e.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{TotalVersions: len(records)}
	for _, rec := range records {
		stats.TotalSize += rec.Metadata.Size
		storedAt := rec.Metadata.StoredAt
		if stats.OldestVersion == nil || storedAt.Before(*stats.OldestVersion) {
			t := storedAt
			stats.OldestVersion = &t
		}
		if stats.NewestVersion == nil || storedAt.After(*stats.NewestVersion) {
			t := storedAt
			stats.NewestVersion = &t
		}
	}
	if stats.TotalVersions > 0 {
		stats.AverageSize = float64(stats.TotalSize) / float64(stats.TotalVersions)
	}
	return stats, nil
}

// ExportData выгружает все версии. Бэкенды с Exporter отдают выгрузку сами,
// для остальных она собирается из List и Retrieve, а нечитаемые версии пропускаются.
func ExportData(ctx context.Context, e Engine, storageType string) (*models.ExportBundle, error) {
	if exporter, ok := e.(Exporter); ok {
		return exporter.ExportData(ctx)
	}
	records, err := e.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	versions := make([]models.VersionInfo, 0, len(records))
	for _, rec := range records {
		info, retrieveErr := e.Retrieve(ctx, rec.VersionID)
		if retrieveErr != nil {
			slog.Warn("Версия пропущена при выгрузке", "versionId", rec.VersionID, "error", retrieveErr)
			continue
		}
		if info == nil {
			slog.Warn("Версия исчезла во время выгрузки", "versionId", rec.VersionID)
			continue
		}
		versions = append(versions, *info)
	}
	return &models.ExportBundle{
		Versions: versions,
		Metadata: models.ExportMeta{
			ExportedAt:    time.Now().UTC(),
			TotalVersions: len(versions),
			StorageType:   storageType,
		},
	}, nil
}

// ImportData проверяет форму выгрузки и передает ее бэкенду, если он реализует Importer.
// Бэкенды без Importer получают ошибку NOT_IMPLEMENTED, а не молчаливый пропуск.
func ImportData(ctx context.Context, e Engine, bundle *models.ExportBundle) (int, error) {
	if bundle == nil || bundle.Versions == nil {
		return 0, NewError("некорректная выгрузка: versions должен быть массивом", CodeValidation, nil)
	}
	importer, ok := e.(Importer)
	if !ok {
		return 0, NewError("импорт не реализован для этого хранилища", CodeNotImplemented, nil)
	}
	return importer.ImportData(ctx, bundle)
}

// StoreEach - общая реализация импорта для бэкендов, которые сохраняют версии по одной.
// Останавливается на первой ошибке и возвращает число сохраненных версий.
func StoreEach(ctx context.Context, e Engine, bundle *models.ExportBundle) (int, error) {
	if bundle == nil || bundle.Versions == nil {
		return 0, NewError("некорректная выгрузка: versions должен быть массивом", CodeValidation, nil)
	}
	imported := 0
	for i := range bundle.Versions {
		if _, err := e.Store(ctx, &bundle.Versions[i], nil); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
