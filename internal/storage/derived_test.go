package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/snapkeeper/internal/storage"
	"github.com/maynagashev/snapkeeper/internal/storage/storagetest"
	"github.com/maynagashev/snapkeeper/models"
)

func TestBatchStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Все версии сохранены", func(t *testing.T) {
		m := new(storagetest.MockEngine)
		a, b := sampleVersion("a"), sampleVersion("b")
		m.On("Store", ctx, a, (*models.StorageConfig)(nil)).Return(&models.VersionStorage{VersionID: "a"}, nil).Once()
		m.On("Store", ctx, b, (*models.StorageConfig)(nil)).Return(&models.VersionStorage{VersionID: "b"}, nil).Once()

		res, err := storage.BatchStore(ctx, m, []*models.VersionInfo{a, b}, nil)
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "a", res[0].VersionID)
		assert.Equal(t, "b", res[1].VersionID)
		m.AssertExpectations(t)
	})

	t.Run("Остановка на первой ошибке", func(t *testing.T) {
		m := new(storagetest.MockEngine)
		a, b, c := sampleVersion("a"), sampleVersion("b"), sampleVersion("c")
		failure := storage.NewError("диск заполнен", storage.CodeIO, nil)
		m.On("Store", ctx, a, mock.Anything).Return(&models.VersionStorage{VersionID: "a"}, nil).Once()
		m.On("Store", ctx, b, mock.Anything).Return(nil, failure).Once()

		res, err := storage.BatchStore(ctx, m, []*models.VersionInfo{a, b, c}, nil)
		require.ErrorIs(t, err, storage.ErrIO)
		assert.Len(t, res, 1)
		m.AssertNotCalled(t, "Store", ctx, c, mock.Anything)
	})

	t.Run("Пустой пакет", func(t *testing.T) {
		m := new(storagetest.MockEngine)
		res, err := storage.BatchStore(ctx, m, nil, nil)
		require.NoError(t, err)
		assert.Empty(t, res)
	})
}

func TestBatchDelete(t *testing.T) {
	ctx := context.Background()
	m := new(storagetest.MockEngine)
	m.On("Delete", ctx, "a").Return(true, nil)
	m.On("Delete", ctx, "missing").Return(false, nil)
	m.On("Delete", ctx, "broken").Return(false, errors.New("permission denied"))
	m.On("Delete", ctx, "b").Return(true, nil)

	res := storage.BatchDelete(ctx, m, []string{"a", "missing", "broken", "b"})
	assert.Equal(t, []bool{true, false, false, true}, res)
	m.AssertNumberOfCalls(t, "Delete", 4)
}

func listFixture() []models.VersionStorage {
	ts := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	return []models.VersionStorage{
		{
			ID: "s1", VersionID: "v1", Path: "/data/v1.json",
			Metadata: models.StorageMetadata{StoredAt: ts, Size: 100, Checksum: "abc", Strategy: "semver"},
		},
		{
			ID: "s2", VersionID: "v2", Path: "/archive/v2.json",
			Metadata: models.StorageMetadata{StoredAt: ts.Add(time.Hour), Size: 300, Checksum: "def", Strategy: "timestamp"},
		},
		{
			ID: "s3", VersionID: "v3", Path: "/data/v3.json",
			Metadata: models.StorageMetadata{StoredAt: ts.Add(-time.Hour), Size: 200, Strategy: "semver"},
		},
	}
}

func TestSearchVersions(t *testing.T) {
	ctx := context.Background()
	m := new(storagetest.MockEngine)
	m.On("List", ctx, (*models.StorageConfig)(nil)).Return(listFixture(), nil)

	tests := []struct {
		name  string
		query *storage.SearchQuery
		want  []string
	}{
		{name: "nil-запрос", query: nil, want: []string{"v1", "v2", "v3"}},
		{name: "Пустой запрос", query: &storage.SearchQuery{}, want: []string{"v1", "v2", "v3"}},
		{name: "По идентификатору", query: &storage.SearchQuery{VersionID: "v2"}, want: []string{"v2"}},
		{name: "По подстроке пути", query: &storage.SearchQuery{Path: "/data/"}, want: []string{"v1", "v3"}},
		{
			name:  "По метаданным",
			query: &storage.SearchQuery{Metadata: map[string]any{"strategy": "semver"}},
			want:  []string{"v1", "v3"},
		},
		{
			name:  "Числа сравниваются по значению",
			query: &storage.SearchQuery{Metadata: map[string]any{"size": 300}},
			want:  []string{"v2"},
		},
		{
			name:  "Все условия вместе",
			query: &storage.SearchQuery{Path: "/data/", Metadata: map[string]any{"checksum": "abc"}},
			want:  []string{"v1"},
		},
		{
			name:  "Неизвестный ключ",
			query: &storage.SearchQuery{Metadata: map[string]any{"owner": "x"}},
			want:  []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := storage.SearchVersions(ctx, m, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestSearchVersionsListError(t *testing.T) {
	ctx := context.Background()
	m := new(storagetest.MockEngine)
	m.On("List", ctx, mock.Anything).Return(nil, storage.NewError("сеть", storage.CodeNetwork, nil))

	_, err := storage.SearchVersions(ctx, m, nil)
	assert.ErrorIs(t, err, storage.ErrNetwork)
}

func TestGetStatistics(t *testing.T) {
	ctx := context.Background()

	t.Run("Пустое хранилище", func(t *testing.T) {
		m := new(storagetest.MockEngine)
		m.On("List", ctx, mock.Anything).Return([]models.VersionStorage{}, nil)
		stats, err := storage.GetStatistics(ctx, m)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.TotalVersions)
		assert.Equal(t, int64(0), stats.TotalSize)
		assert.InDelta(t, 0, stats.AverageSize, 0)
		assert.Nil(t, stats.OldestVersion)
		assert.Nil(t, stats.NewestVersion)
	})

	t.Run("Несколько версий", func(t *testing.T) {
		m := new(storagetest.MockEngine)
		records := listFixture()
		m.On("List", ctx, mock.Anything).Return(records, nil)
		stats, err := storage.GetStatistics(ctx, m)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.TotalVersions)
		assert.Equal(t, int64(600), stats.TotalSize)
		assert.InDelta(t, 200, stats.AverageSize, 0.0001)
		require.NotNil(t, stats.OldestVersion)
		require.NotNil(t, stats.NewestVersion)
		assert.Equal(t, records[2].Metadata.StoredAt, *stats.OldestVersion)
		assert.Equal(t, records[1].Metadata.StoredAt, *stats.NewestVersion)
	})
}

func TestExportData(t *testing.T) {
	ctx := context.Background()
	m := new(storagetest.MockEngine)
	m.On("List", ctx, mock.Anything).Return(listFixture(), nil)
	m.On("Retrieve", ctx, "v1").Return(sampleVersion("v1"), nil)
	m.On("Retrieve", ctx, "v2").Return(nil, storage.NewError("битый файл", storage.CodeSerialization, nil))
	m.On("Retrieve", ctx, "v3").Return(nil, nil)

	bundle, err := storage.ExportData(ctx, m, "local")
	require.NoError(t, err)
	require.Len(t, bundle.Versions, 1)
	assert.Equal(t, "v1", bundle.Versions[0].ID)
	assert.Equal(t, 1, bundle.Metadata.TotalVersions)
	assert.Equal(t, "local", bundle.Metadata.StorageType)
	assert.WithinDuration(t, time.Now(), bundle.Metadata.ExportedAt, time.Minute)
}

func TestImportData(t *testing.T) {
	ctx := context.Background()
	bundle := &models.ExportBundle{Versions: []models.VersionInfo{*sampleVersion("a")}}

	t.Run("Бэкенд без импорта", func(t *testing.T) {
		m := new(storagetest.MockEngine)
		_, err := storage.ImportData(ctx, m, bundle)
		require.ErrorIs(t, err, storage.ErrNotImplemented)
		assert.False(t, storage.IsRetryable(err))
	})

	t.Run("Бэкенд с импортом", func(t *testing.T) {
		m := new(storagetest.MockImporter)
		m.On("ImportData", ctx, bundle).Return(1, nil)
		n, err := storage.ImportData(ctx, m, bundle)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Некорректная выгрузка", func(t *testing.T) {
		m := new(storagetest.MockImporter)
		_, err := storage.ImportData(ctx, m, nil)
		require.ErrorIs(t, err, storage.ErrValidation)
		_, err = storage.ImportData(ctx, m, &models.ExportBundle{})
		require.ErrorIs(t, err, storage.ErrValidation)
		m.AssertNotCalled(t, "ImportData", mock.Anything, mock.Anything)
	})
}

func TestStoreEach(t *testing.T) {
	ctx := context.Background()
	m := new(storagetest.MockEngine)
	bundle := &models.ExportBundle{Versions: []models.VersionInfo{
		*sampleVersion("a"), *sampleVersion("b"), *sampleVersion("c"),
	}}
	m.On("Store", ctx, mock.MatchedBy(func(v *models.VersionInfo) bool { return v.ID == "a" }), mock.Anything).
		Return(&models.VersionStorage{VersionID: "a"}, nil)
	m.On("Store", ctx, mock.MatchedBy(func(v *models.VersionInfo) bool { return v.ID == "b" }), mock.Anything).
		Return(nil, storage.NewError("ошибка записи", storage.CodeIO, nil))

	n, err := storage.StoreEach(ctx, m, bundle)
	require.ErrorIs(t, err, storage.ErrIO)
	assert.Equal(t, 1, n)
	m.AssertNumberOfCalls(t, "Store", 2)
}

func TestDeleteCandidates(t *testing.T) {
	ctx := context.Background()
	candidates := []models.VersionStorage{{VersionID: "a"}, {VersionID: "b"}, {VersionID: "c"}, {VersionID: "d"}}
	calls := make([]string, 0)
	del := func(_ context.Context, id string) (bool, error) {
		calls = append(calls, id)
		switch id {
		case "b":
			return false, errors.New("busy")
		case "c":
			return false, nil
		}
		return true, nil
	}
	assert.Equal(t, 2, storage.DeleteCandidates(ctx, "test", candidates, del))
	assert.Equal(t, []string{"a", "b", "c", "d"}, calls)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Equal(t, 0, storage.DeleteCandidates(cancelled, "test", candidates, del))
}
