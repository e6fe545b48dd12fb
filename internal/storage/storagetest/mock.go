// Package storagetest содержит заглушки хранилища для тестов.
package storagetest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/maynagashev/snapkeeper/internal/storage"
	"github.com/maynagashev/snapkeeper/models"
)

// MockEngine - мок storage.Engine на testify/mock.
type MockEngine struct {
	mock.Mock
}

var _ storage.Engine = (*MockEngine)(nil)

func (m *MockEngine) Initialize(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEngine) Store(
	ctx context.Context,
	info *models.VersionInfo,
	override *models.StorageConfig,
) (*models.VersionStorage, error) {
	args := m.Called(ctx, info, override)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.VersionStorage), args.Error(1)
}

func (m *MockEngine) Retrieve(ctx context.Context, versionID string) (*models.VersionInfo, error) {
	args := m.Called(ctx, versionID)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.VersionInfo), args.Error(1)
}

func (m *MockEngine) Delete(ctx context.Context, versionID string) (bool, error) {
	args := m.Called(ctx, versionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEngine) List(ctx context.Context, override *models.StorageConfig) ([]models.VersionStorage, error) {
	args := m.Called(ctx, override)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.([]models.VersionStorage), args.Error(1)
}

func (m *MockEngine) Exists(ctx context.Context, versionID string) (bool, error) {
	args := m.Called(ctx, versionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockEngine) GetMetadata(ctx context.Context, versionID string) (*models.StorageMetadata, error) {
	args := m.Called(ctx, versionID)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // Ошибки кастования в моках приемлемы
	return ret.(*models.StorageMetadata), args.Error(1)
}

func (m *MockEngine) UpdateMetadata(ctx context.Context, versionID string, patch models.MetadataPatch) (bool, error) {
	args := m.Called(ctx, versionID, patch)
	return args.Bool(0), args.Error(1)
}

func (m *MockEngine) Cleanup(ctx context.Context, override *models.StorageConfig) (int, error) {
	args := m.Called(ctx, override)
	return args.Int(0), args.Error(1)
}

func (m *MockEngine) Validate(ctx context.Context, cfg models.StorageConfig) bool {
	return m.Called(ctx, cfg).Bool(0)
}

func (m *MockEngine) Dispose(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockImporter - MockEngine, который дополнительно реализует storage.Importer.
type MockImporter struct {
	MockEngine
}

var _ storage.Importer = (*MockImporter)(nil)

func (m *MockImporter) ImportData(ctx context.Context, bundle *models.ExportBundle) (int, error) {
	args := m.Called(ctx, bundle)
	return args.Int(0), args.Error(1)
}
