package storage

import (
	"context"
	"time"

	"github.com/maynagashev/snapkeeper/internal/metrics"
	"github.com/maynagashev/snapkeeper/models"
)

// instrumented оборачивает Engine и записывает метрики каждой операции.
type instrumented struct {
	inner   Engine
	metrics metrics.StorageMetrics
	backend string
}

var (
	_ Engine   = (*instrumented)(nil)
	_ Importer = (*instrumented)(nil)
	_ Exporter = (*instrumented)(nil)
)

// Instrument возвращает Engine, который записывает число и длительность операций.
func Instrument(e Engine, m metrics.StorageMetrics, backend string) Engine {
	if m == nil {
		m = metrics.Noop{}
	}
	return &instrumented{inner: e, metrics: m, backend: backend}
}

func (i *instrumented) observe(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = string(CodeOf(err))
		if status == "" {
			status = "error"
		}
	}
	i.metrics.ObserveOperation(i.backend, operation, status, time.Since(start).Seconds())
}

func (i *instrumented) Initialize(ctx context.Context) error {
	start := time.Now()
	err := i.inner.Initialize(ctx)
	i.observe("initialize", start, err)
	return err
}

func (i *instrumented) Store(
	ctx context.Context,
	info *models.VersionInfo,
	override *models.StorageConfig,
) (*models.VersionStorage, error) {
	start := time.Now()
	res, err := i.inner.Store(ctx, info, override)
	i.observe("store", start, err)
	return res, err
}

func (i *instrumented) Retrieve(ctx context.Context, versionID string) (*models.VersionInfo, error) {
	start := time.Now()
	res, err := i.inner.Retrieve(ctx, versionID)
	i.observe("retrieve", start, err)
	return res, err
}

func (i *instrumented) Delete(ctx context.Context, versionID string) (bool, error) {
	start := time.Now()
	res, err := i.inner.Delete(ctx, versionID)
	i.observe("delete", start, err)
	return res, err
}

func (i *instrumented) List(ctx context.Context, override *models.StorageConfig) ([]models.VersionStorage, error) {
	start := time.Now()
	res, err := i.inner.List(ctx, override)
	i.observe("list", start, err)
	return res, err
}

func (i *instrumented) Exists(ctx context.Context, versionID string) (bool, error) {
	start := time.Now()
	res, err := i.inner.Exists(ctx, versionID)
	i.observe("exists", start, err)
	return res, err
}

func (i *instrumented) GetMetadata(ctx context.Context, versionID string) (*models.StorageMetadata, error) {
	start := time.Now()
	res, err := i.inner.GetMetadata(ctx, versionID)
	i.observe("get_metadata", start, err)
	return res, err
}

func (i *instrumented) UpdateMetadata(
	ctx context.Context,
	versionID string,
	patch models.MetadataPatch,
) (bool, error) {
	start := time.Now()
	res, err := i.inner.UpdateMetadata(ctx, versionID, patch)
	i.observe("update_metadata", start, err)
	return res, err
}

func (i *instrumented) Cleanup(ctx context.Context, override *models.StorageConfig) (int, error) {
	start := time.Now()
	res, err := i.inner.Cleanup(ctx, override)
	i.observe("cleanup", start, err)
	return res, err
}

func (i *instrumented) Validate(ctx context.Context, cfg models.StorageConfig) bool {
	start := time.Now()
	ok := i.inner.Validate(ctx, cfg)
	var err error
	if !ok {
		err = NewError("хранилище недоступно", CodeIO, nil)
	}
	i.observe("validate", start, err)
	return ok
}

func (i *instrumented) Dispose(ctx context.Context) error {
	start := time.Now()
	err := i.inner.Dispose(ctx)
	i.observe("dispose", start, err)
	return err
}

func (i *instrumented) ImportData(ctx context.Context, bundle *models.ExportBundle) (int, error) {
	start := time.Now()
	n, err := ImportData(ctx, i.inner, bundle)
	i.observe("import", start, err)
	return n, err
}

func (i *instrumented) ExportData(ctx context.Context) (*models.ExportBundle, error) {
	start := time.Now()
	bundle, err := ExportData(ctx, i.inner, i.backend)
	i.observe("export", start, err)
	return bundle, err
}
