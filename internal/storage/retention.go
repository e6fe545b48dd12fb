package storage

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/maynagashev/snapkeeper/models"
)

// RetentionPolicy задает правила очистки хранилища.
// Неположительное значение отключает правило.
type RetentionPolicy struct {
	MaxAge      time.Duration // Версии старше удаляются
	MaxVersions int           // Сверх этого числа удаляются самые старые
}

// PolicyFromOptions строит политику хранения из опций, уже прошедших MergeWithDefaults.
// Нулевые значения там заменены значениями по умолчанию, отрицательные отключают правило.
func PolicyFromOptions(opts models.StorageOptions) RetentionPolicy {
	p := RetentionPolicy{MaxAge: opts.MaxAge, MaxVersions: opts.MaxVersions}
	if p.MaxAge < 0 {
		p.MaxAge = 0
	}
	if p.MaxVersions < 0 {
		p.MaxVersions = 0
	}
	return p
}

// SelectForCleanup возвращает записи, нарушающие политику, от старых к новым.
// Запись попадает в кандидаты, если выполняется любое из правил:
// она старше MaxAge или входит в самые старые записи сверх MaxVersions.
func SelectForCleanup(records []models.VersionStorage, policy RetentionPolicy, now time.Time) []models.VersionStorage {
	sorted := make([]models.VersionStorage, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Metadata.StoredAt, sorted[j].Metadata.StoredAt
		if a.Equal(b) {
			return sorted[i].VersionID < sorted[j].VersionID
		}
		return a.Before(b)
	})

	excess := 0
	if policy.MaxVersions > 0 && len(sorted) > policy.MaxVersions {
		excess = len(sorted) - policy.MaxVersions
	}

	candidates := make([]models.VersionStorage, 0)
	for i, rec := range sorted {
		tooOld := policy.MaxAge > 0 && now.Sub(rec.Metadata.StoredAt) > policy.MaxAge
		overCap := i < excess
		if tooOld || overCap {
			candidates = append(candidates, rec)
		}
	}
	return candidates
}

// DeleteFunc удаляет одну версию.
type DeleteFunc func(ctx context.Context, versionID string) (bool, error)

// DeleteCandidates удаляет кандидатов по одному и возвращает число успешных удалений.
// Ошибка удаления одной записи логируется и не останавливает остальные.
func DeleteCandidates(ctx context.Context, backend string, candidates []models.VersionStorage, del DeleteFunc) int {
	removed := 0
	for _, rec := range candidates {
		if ctx.Err() != nil {
			slog.Warn("Очистка прервана", "backend", backend, "removed", removed, "error", ctx.Err())
			break
		}
		deleted, err := del(ctx, rec.VersionID)
		if err != nil {
			slog.Warn("Не удалось удалить версию при очистке",
				"backend", backend, "versionId", rec.VersionID, "error", err)
			continue
		}
		if deleted {
			removed++
		}
	}
	return removed
}
