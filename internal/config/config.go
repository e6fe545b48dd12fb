// Package config загружает конфигурацию сервера версий из YAML.
//
// Порядок приоритета: флаги > переменные окружения SNAPKEEPER_* > файл > значения по умолчанию.
// Флаги применяются в cmd/server.
package config

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/maynagashev/snapkeeper/internal/storage"
	"github.com/maynagashev/snapkeeper/models"
)

// Значения по умолчанию.
const (
	DefaultAddr            = ":8080"
	DefaultBasePath        = "/api/versions"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultStoragePath     = "./data/versions"
	DefaultMetricsPath     = "/metrics"
	DefaultTokenTTL        = 24 * time.Hour
)

// Переменные окружения.
const (
	EnvAddr          = "SNAPKEEPER_ADDR"
	EnvStorageType   = "SNAPKEEPER_STORAGE_TYPE"
	EnvStoragePath   = "SNAPKEEPER_STORAGE_PATH"
	EnvStorageAPIKey = "SNAPKEEPER_STORAGE_API_KEY" //nolint:gosec // Имя переменной окружения, а не секрет
	EnvJWTSecret     = "SNAPKEEPER_JWT_SECRET"      //nolint:gosec // Имя переменной окружения, а не секрет
	EnvAPIKeyHashes  = "SNAPKEEPER_API_KEY_HASHES"
	EnvLogLevel      = "SNAPKEEPER_LOG_LEVEL"
	EnvTLSCertFile   = "SNAPKEEPER_TLS_CERT_FILE"
	EnvTLSKeyFile    = "SNAPKEEPER_TLS_KEY_FILE"
)

// ErrInvalidConfig - конфигурация не прошла проверку.
var ErrInvalidConfig = errors.New("некорректная конфигурация")

//go:embed schema/config.schema.json
var schemaFS embed.FS

// Config - конфигурация сервера.
type Config struct {
	Server  ServerConfig         `yaml:"server"`
	Auth    AuthConfig           `yaml:"auth"`
	Storage models.StorageConfig `yaml:"storage"`
	Log     LogConfig            `yaml:"log"`
	Metrics MetricsConfig        `yaml:"metrics"`
}

// ServerConfig - параметры HTTP-сервера.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	BasePath        string        `yaml:"base_path"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLSCertFile     string        `yaml:"tls_cert_file"`
	TLSKeyFile      string        `yaml:"tls_key_file"`
}

// TLSEnabled сообщает, заданы ли сертификат и ключ.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// AuthConfig - параметры аутентификации. Пустая секция отключает проверку токенов.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	APIKeyHashes []string      `yaml:"api_key_hashes"`
}

// LogConfig - параметры логирования.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SlogLevel возвращает уровень slog. Неизвестные значения дают Info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MetricsConfig - параметры эндпоинта метрик Prometheus.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default возвращает конфигурацию по умолчанию: локальное хранилище в ./data/versions.
// Каталог должен существовать, либо в options нужно задать create_directories: true.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			BasePath:        DefaultBasePath,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Auth:    AuthConfig{TokenTTL: DefaultTokenTTL},
		Storage: models.StorageConfig{Type: models.StorageLocal, Path: DefaultStoragePath},
		Log:     LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Enabled: true, Path: DefaultMetricsPath},
	}
}

// Load читает YAML-файл. Пустой путь дает конфигурацию по умолчанию.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	// #nosec G304 -- путь к конфигурации задает оператор.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
	}
	return Parse(data)
}

// Parse разбирает YAML поверх значений по умолчанию после проверки по схеме.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	if err := validateSchema(data); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}
	cfg.fillDefaults()
	return cfg, nil
}

// fillDefaults заменяет пустые значения, оставленные явными нулями в файле.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = def.Server.BasePath
	}
	c.Server.BasePath = "/" + strings.Trim(c.Server.BasePath, "/")
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = def.Server.ReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = def.Server.WriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = def.Server.IdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = def.Auth.TokenTTL
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = def.Metrics.Path
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// ApplyEnv переопределяет значения из переменных окружения SNAPKEEPER_*.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAddr); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup(EnvStorageType); ok && v != "" {
		c.Storage.Type = models.StorageType(v)
	}
	if v, ok := lookup(EnvStoragePath); ok && v != "" {
		c.Storage.Path = v
	}
	if v, ok := lookup(EnvStorageAPIKey); ok && v != "" {
		if c.Storage.Options == nil {
			c.Storage.Options = &models.StorageOptions{}
		}
		c.Storage.Options.APIKey = v
	}
	if v, ok := lookup(EnvJWTSecret); ok {
		c.Auth.JWTSecret = v
	}
	if v, ok := lookup(EnvAPIKeyHashes); ok {
		c.Auth.APIKeyHashes = splitList(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvTLSCertFile); ok {
		c.Server.TLSCertFile = v
	}
	if v, ok := lookup(EnvTLSKeyFile); ok {
		c.Server.TLSKeyFile = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate проверяет итоговую конфигурацию после всех переопределений.
func (c *Config) Validate() error {
	if err := storage.ValidateConfig(c.Storage); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: не указан адрес сервера", ErrInvalidConfig)
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		return fmt.Errorf("%w: сертификат и ключ TLS задаются вместе", ErrInvalidConfig)
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("%w: время жизни токена не может быть отрицательным", ErrInvalidConfig)
	}
	return nil
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	errSchema      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		data, err := schemaFS.ReadFile("schema/config.schema.json")
		if err != nil {
			errSchema = fmt.Errorf("ошибка чтения схемы конфигурации: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err = compiler.AddResource("inmemory://server-config", bytes.NewReader(data)); err != nil {
			errSchema = fmt.Errorf("ошибка добавления схемы конфигурации: %w", err)
			return
		}
		compiledSchema, errSchema = compiler.Compile("inmemory://server-config")
	})
	return compiledSchema, errSchema
}

// validateSchema проверяет YAML по встроенной JSON-схеме.
// YAML приводится к JSON-представлению, чтобы числа и строки проверялись как в JSON.
func validateSchema(data []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}
	var raw any
	if err = yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}
	var payload any
	if err = json.Unmarshal(asJSON, &payload); err != nil {
		return fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}
	if err = schema.Validate(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
