package backend_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/snapkeeper/internal/backend"
	"github.com/maynagashev/snapkeeper/internal/storage"
	"github.com/maynagashev/snapkeeper/models"
)

type recordingMetrics struct {
	ops []string
}

func (r *recordingMetrics) ObserveOperation(backend, operation, status string, _ float64) {
	r.ops = append(r.ops, backend+"/"+operation+"/"+status)
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     models.StorageConfig
		wantErr bool
	}{
		{name: "Локальное", cfg: models.StorageConfig{Type: models.StorageLocal, Path: "/tmp/snapkeeper"}},
		{name: "Удаленное", cfg: models.StorageConfig{Type: models.StorageRemote, Path: "http://localhost:8080/api/versions"}},
		{name: "Redis", cfg: models.StorageConfig{Type: models.StorageRedis, Path: "redis://localhost:6379/0"}},
		{name: "PostgreSQL", cfg: models.StorageConfig{Type: models.StoragePostgres, Path: "postgres://u:p@localhost/db"}},
		{
			name: "MinIO",
			cfg: models.StorageConfig{
				Type:    models.StorageMinio,
				Path:    "localhost:9000",
				Options: &models.StorageOptions{Bucket: "snapshots"},
			},
		},
		{name: "Неизвестный тип", cfg: models.StorageConfig{Type: "ftp", Path: "ftp://x"}, wantErr: true},
		{name: "Пустой путь", cfg: models.StorageConfig{Type: models.StorageLocal}, wantErr: true},
		{name: "Некорректный URL Redis", cfg: models.StorageConfig{Type: models.StorageRedis, Path: "::"}, wantErr: true},
		{name: "Относительный URL", cfg: models.StorageConfig{Type: models.StorageRemote, Path: "api/versions"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, err := backend.Open(tt.cfg, nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, storage.ErrValidation)
				assert.Nil(t, engine)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, engine)
		})
	}
}

func TestOpenLocalInstrumented(t *testing.T) {
	rec := &recordingMetrics{}
	engine, err := backend.Open(models.StorageConfig{Type: models.StorageLocal, Path: t.TempDir()}, rec)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, engine.Initialize(ctx))
	ok, err := engine.Exists(ctx, "v1")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{"local/initialize/ok", "local/exists/ok"}, rec.ops)

	_, isImporter := engine.(storage.Importer)
	assert.True(t, isImporter)
}
