package storage

import (
	"time"

	"github.com/maynagashev/snapkeeper/models"
)

// Значения по умолчанию для опций хранилища.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultRetries     = 3
	DefaultRetryDelay  = time.Second
	DefaultMaxAge      = 7 * 24 * time.Hour
	DefaultMaxVersions = 10
)

// RetentionDisabled в MaxVersions (или любое отрицательное MaxAge) отключает правило очистки.
const RetentionDisabled = -1

// DefaultOptions возвращает полностью заполненные опции по умолчанию.
// CreateDirectories выключен: отсутствующий каталог локального хранилища - ошибка.
func DefaultOptions() models.StorageOptions {
	return models.StorageOptions{
		AtomicWrites: true,
		Timeout:      DefaultTimeout,
		Retries:      DefaultRetries,
		RetryDelay:   DefaultRetryDelay,
		MaxAge:       DefaultMaxAge,
		MaxVersions:  DefaultMaxVersions,
	}
}

// MergeWithDefaults возвращает копию конфигурации с заполненными опциями.
// Без опций используются DefaultOptions целиком. Заданные опции сохраняются,
// нулевые длительности и лимиты заменяются значениями по умолчанию.
// Отрицательные MaxAge и MaxVersions сохраняются и отключают соответствующее правило.
// Retries берется как есть: 0 означает одну попытку без повторов.
func MergeWithDefaults(cfg models.StorageConfig) models.StorageConfig {
	if cfg.Options == nil {
		opts := DefaultOptions()
		cfg.Options = &opts
		return cfg
	}
	opts := *cfg.Options
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxAge == 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.MaxVersions == 0 {
		opts.MaxVersions = DefaultMaxVersions
	}
	cfg.Options = &opts
	return cfg
}

// ResolveOptions возвращает опции для одного вызова.
// Опции из override заменяют базовые; тип и путь бэкенда не переопределяются.
func ResolveOptions(base models.StorageConfig, override *models.StorageConfig) models.StorageOptions {
	if override != nil && override.Options != nil {
		base.Options = override.Options
	}
	return *MergeWithDefaults(base).Options
}
