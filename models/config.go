package models

import "time"

// StorageType определяет тип бэкенда хранилища.
type StorageType string

// Поддерживаемые типы хранилищ.
const (
	StorageLocal    StorageType = "local"
	StorageRemote   StorageType = "remote"
	StorageRedis    StorageType = "redis"
	StoragePostgres StorageType = "postgres"
	StorageMinio    StorageType = "minio"
)

// StorageConfig - единственная точка конфигурации хранилища.
// Path трактуется бэкендом: каталог, базовый URL, redis URL, DSN или адрес MinIO.
type StorageConfig struct {
	Type    StorageType     `yaml:"type" json:"type"`
	Path    string          `yaml:"path" json:"path"`
	Options *StorageOptions `yaml:"options,omitempty" json:"options,omitempty"`
}

// StorageOptions содержит опции бэкендов. Каждый бэкенд читает только свои поля.
type StorageOptions struct {
	// Локальное хранилище
	CreateDirectories bool `yaml:"create_directories" json:"createDirectories"`
	AtomicWrites      bool `yaml:"atomic_writes" json:"atomicWrites"`
	BackupEnabled     bool `yaml:"backup_enabled" json:"backupEnabled"`

	// Общие
	CompressionEnabled bool          `yaml:"compression_enabled" json:"compressionEnabled"`
	MaxAge             time.Duration `yaml:"max_age" json:"maxAge"`           // Возраст, после которого версия удаляется при очистке
	MaxVersions        int           `yaml:"max_versions" json:"maxVersions"` // Максимальное число хранимых версий
	KeyPrefix          string        `yaml:"key_prefix" json:"keyPrefix"`     // Префикс ключей (redis, minio)

	// Удаленное хранилище
	APIKey     string        `yaml:"api_key" json:"apiKey,omitempty"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"` // Ограничение на одну попытку запроса
	Retries    int           `yaml:"retries" json:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay" json:"retryDelay"`

	// Объектное хранилище (MinIO/S3)
	Bucket          string `yaml:"bucket" json:"bucket,omitempty"`
	AccessKeyID     string `yaml:"access_key_id" json:"accessKeyId,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key" json:"-"`
	Region          string `yaml:"region" json:"region,omitempty"`
	UseSSL          bool   `yaml:"use_ssl" json:"useSsl,omitempty"`
}
