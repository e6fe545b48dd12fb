package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/snapkeeper/internal/storage"
	"github.com/maynagashev/snapkeeper/models"
)

func testVersion(id string) *models.VersionInfo {
	ts := time.Date(2026, 7, 1, 8, 30, 0, 0, time.UTC)
	return &models.VersionInfo{
		ID:        id,
		Version:   "0.9.0",
		Metadata:  &models.VersionMetadata{Version: "0.9.0", Strategy: "timestamp", CreatedAt: ts, Tags: []string{}},
		Data:      map[string]any{"modules": []any{"a", "b"}, "depth": json.Number("3")},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newStorage(t *testing.T, opts *models.StorageOptions) (*Storage, *miniredis.Miniredis, *fakeClock) {
	t.Helper()
	srv := miniredis.RunT(t)
	s, err := New(models.StorageConfig{Type: models.StorageRedis, Path: "redis://" + srv.Addr(), Options: opts})
	require.NoError(t, err)
	clock := &fakeClock{t: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)}
	s.now = clock.now
	require.NoError(t, s.Initialize(context.Background()))
	t.Cleanup(func() { _ = s.Dispose(context.Background()) })
	return s, srv, clock
}

func TestNew(t *testing.T) {
	_, err := New(models.StorageConfig{Type: models.StorageRedis, Path: "not a url"})
	assert.ErrorIs(t, err, storage.ErrValidation)
	_, err = New(models.StorageConfig{Type: models.StorageLocal, Path: "redis://localhost:6379"})
	assert.ErrorIs(t, err, storage.ErrValidation)

	s, err := New(models.StorageConfig{Type: models.StorageRedis, Path: "redis://localhost:6379/2"})
	require.NoError(t, err)
	assert.Equal(t, "snapkeeper:version:v1", s.versionKey("v1"))

	s, err = New(models.StorageConfig{
		Type: models.StorageRedis, Path: "redis://localhost:6379", Options: &models.StorageOptions{KeyPrefix: "team-a:"},
	})
	require.NoError(t, err)
	assert.Equal(t, "team-a:index", s.indexKey())
}

func TestInitializeUnavailable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	s, err := New(models.StorageConfig{Type: models.StorageRedis, Path: "redis://" + addr})
	require.NoError(t, err)
	err = s.Initialize(context.Background())
	assert.ErrorIs(t, err, storage.ErrNetwork)

	_, err = s.Retrieve(context.Background(), "v1")
	assert.ErrorIs(t, err, storage.ErrNotInitialized)
}

func TestStoreRetrieve(t *testing.T) {
	ctx := context.Background()
	s, srv, clock := newStorage(t, nil)

	stored, err := s.Store(ctx, testVersion("v1"), nil)
	require.NoError(t, err)
	assert.Equal(t, "v1", stored.VersionID)
	assert.Equal(t, "snapkeeper:version:v1", stored.Path)
	assert.Equal(t, clock.t, stored.Metadata.StoredAt)
	assert.Equal(t, "timestamp", stored.Metadata.Strategy)

	raw, err := srv.Get("snapkeeper:version:v1")
	require.NoError(t, err)
	assert.Equal(t, int64(len(raw)), stored.Metadata.Size)
	assert.True(t, srv.Exists("snapkeeper:meta:v1"))
	members, err := srv.ZMembers("snapkeeper:index")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, members)

	got, err := s.Retrieve(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, testVersion("v1"), got)

	missing, err := s.Retrieve(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	sum, err := storage.GenerateChecksum(testVersion("v1").Data)
	require.NoError(t, err)
	meta, err := s.GetMetadata(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, sum, meta.Checksum)
}

func TestLargeIntegersKeepPrecision(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newStorage(t, nil)
	v := testVersion("big")
	v.Data = map[string]any{"hash": int64(1<<53 + 1)}

	stored, err := s.Store(ctx, v, nil)
	require.NoError(t, err)

	got, err := s.Retrieve(ctx, "big")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, json.Number("9007199254740993"), got.Data["hash"])
	sum, err := storage.GenerateChecksum(got.Data)
	require.NoError(t, err)
	assert.Equal(t, stored.Metadata.Checksum, sum)
}

func TestDeleteExists(t *testing.T) {
	ctx := context.Background()
	s, srv, _ := newStorage(t, nil)
	_, err := s.Store(ctx, testVersion("v1"), nil)
	require.NoError(t, err)

	ok, err := s.Exists(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, ok)

	deleted, err := s.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.Delete(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, deleted)

	ok, err = s.Exists(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, srv.Exists("snapkeeper:meta:v1"))

	_, err = s.GetMetadata(ctx, "v1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListOrderAndStaleIndex(t *testing.T) {
	ctx := context.Background()
	s, srv, clock := newStorage(t, nil)
	for i, id := range []string{"c", "a", "b"} {
		clock.t = clock.t.Add(time.Duration(i+1) * time.Minute)
		_, err := s.Store(ctx, testVersion(id), nil)
		require.NoError(t, err)
	}
	_, err := srv.ZAdd("snapkeeper:index", 1, "ghost")
	require.NoError(t, err)

	records, err := s.List(ctx, nil)
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.VersionID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	stats, err := storage.GetStatistics(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalVersions)
}

func TestUpdateMetadata(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newStorage(t, nil)
	stored, err := s.Store(ctx, testVersion("v1"), nil)
	require.NoError(t, err)

	clock.t = clock.t.Add(time.Hour)
	desc := "после ревью"
	ok, err := s.UpdateMetadata(ctx, "v1", models.MetadataPatch{Description: &desc})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Retrieve(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "после ревью", got.Metadata.Description)
	assert.Equal(t, "timestamp", got.Metadata.Strategy)
	assert.Equal(t, clock.t, got.UpdatedAt)

	meta, err := s.GetMetadata(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, stored.Metadata.StoredAt, meta.StoredAt, "время сохранения не меняется")
	assert.Equal(t, stored.Metadata.Checksum, meta.Checksum)

	ok, err = s.UpdateMetadata(ctx, "missing", models.MetadataPatch{Description: &desc})
	assert.False(t, ok)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	exists, err := s.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	s, _, clock := newStorage(t, &models.StorageOptions{MaxAge: 48 * time.Hour, MaxVersions: 3})
	start := clock.t
	for i := 0; i < 6; i++ {
		clock.t = start.Add(time.Duration(i) * 24 * time.Hour)
		_, err := s.Store(ctx, testVersion(fmt.Sprintf("v%d", i)), nil)
		require.NoError(t, err)
	}
	clock.t = start.Add(5*24*time.Hour + time.Hour)

	removed, err := s.Cleanup(ctx, nil)
	require.NoError(t, err)
	// v0..v3 старше 48 часов, v0..v2 сверх лимита 3
	assert.Equal(t, 4, removed)

	records, err := s.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "v4", records[0].VersionID)
	assert.Equal(t, "v5", records[1].VersionID)
}

func TestImportExport(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newStorage(t, nil)
	bundle := &models.ExportBundle{Versions: []models.VersionInfo{*testVersion("a"), *testVersion("b")}}

	n, err := storage.ImportData(ctx, s, bundle)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	out, err := storage.ExportData(ctx, s, string(models.StorageRedis))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Metadata.TotalVersions)
	raw, err := json.Marshal(out.Versions)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"id":"a"`)
}

func TestValidateAndDispose(t *testing.T) {
	ctx := context.Background()
	s, srv, _ := newStorage(t, nil)
	assert.True(t, s.Validate(ctx, models.StorageConfig{Type: models.StorageRedis, Path: "redis://" + srv.Addr()}))
	assert.False(t, s.Validate(ctx, models.StorageConfig{Type: models.StorageRedis, Path: "://bad"}))

	require.NoError(t, s.Dispose(ctx))
	require.NoError(t, s.Dispose(ctx))
	_, err := s.List(ctx, nil)
	assert.ErrorIs(t, err, storage.ErrNotInitialized)

	require.NoError(t, s.Initialize(ctx), "после Dispose можно инициализировать заново")
	_, err = s.List(ctx, nil)
	assert.NoError(t, err)
}
