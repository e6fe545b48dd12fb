package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maynagashev/snapkeeper/models"
)

const sampleYAML = `
server:
  addr: ":9090"
  base_path: "snapshots/"
  read_timeout: 5s
auth:
  jwt_secret: "s3cret"
  token_ttl: 1h
  api_key_hashes:
    - "$2a$10$abcdefghijklmnopqrstuv"
storage:
  type: redis
  path: "redis://localhost:6379/1"
  options:
    key_prefix: "proj:"
    max_age: 72h
    max_versions: 20
    retries: 2
    retry_delay: 500ms
log:
  level: debug
  format: text
metrics:
  enabled: false
`

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultBasePath, cfg.Server.BasePath)
	assert.Equal(t, models.StorageLocal, cfg.Storage.Type)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Server.TLSEnabled())
	require.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "/snapshots", cfg.Server.BasePath)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, DefaultWriteTimeout, cfg.Server.WriteTimeout)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, time.Hour, cfg.Auth.TokenTTL)
	assert.Len(t, cfg.Auth.APIKeyHashes, 1)

	assert.Equal(t, models.StorageRedis, cfg.Storage.Type)
	assert.Equal(t, "redis://localhost:6379/1", cfg.Storage.Path)
	require.NotNil(t, cfg.Storage.Options)
	assert.Equal(t, "proj:", cfg.Storage.Options.KeyPrefix)
	assert.Equal(t, 72*time.Hour, cfg.Storage.Options.MaxAge)
	assert.Equal(t, 20, cfg.Storage.Options.MaxVersions)
	assert.Equal(t, 2, cfg.Storage.Options.Retries)
	assert.Equal(t, 500*time.Millisecond, cfg.Storage.Options.RetryDelay)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)
	require.NoError(t, cfg.Validate())
}

func TestParseRetentionDisabled(t *testing.T) {
	cfg, err := Parse([]byte("storage:\n  type: local\n  path: /x\n  options:\n    max_age: -1s\n    max_versions: -1\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Storage.Options)
	assert.Equal(t, -time.Second, cfg.Storage.Options.MaxAge)
	assert.Equal(t, -1, cfg.Storage.Options.MaxVersions)
	require.NoError(t, cfg.Validate())
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse([]byte("  \n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsBySchema(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "Неизвестный ключ", yaml: "server:\n  port: 8080\n"},
		{name: "Неизвестный тип хранилища", yaml: "storage:\n  type: ftp\n  path: /x\n"},
		{name: "Хранилище без пути", yaml: "storage:\n  type: local\n"},
		{name: "Некорректная длительность", yaml: "server:\n  read_timeout: soon\n"},
		{name: "Число версий меньше -1", yaml: "storage:\n  type: local\n  path: /x\n  options:\n    max_versions: -2\n"},
		{name: "Неизвестный уровень логов", yaml: "log:\n  level: trace\n"},
		{name: "Путь метрик без слеша", yaml: "metrics:\n  path: metrics\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestParseBrokenYAML(t *testing.T) {
	_, err := Parse([]byte("server: [unclosed"))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "snapkeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, models.StorageRedis, cfg.Storage.Type)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvAddr:          ":7000",
		EnvStorageType:   "remote",
		EnvStoragePath:   "https://storage.example.com/api/versions",
		EnvStorageAPIKey: "upstream-key",
		EnvJWTSecret:     "env-secret",
		EnvAPIKeyHashes:  " h1, ,h2 ",
		EnvLogLevel:      "warn",
		EnvTLSCertFile:   "/etc/tls/cert.pem",
		EnvTLSKeyFile:    "/etc/tls/key.pem",
	}
	cfg := Default()
	cfg.ApplyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, models.StorageRemote, cfg.Storage.Type)
	assert.Equal(t, "https://storage.example.com/api/versions", cfg.Storage.Path)
	require.NotNil(t, cfg.Storage.Options)
	assert.Equal(t, "upstream-key", cfg.Storage.Options.APIKey)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"h1", "h2"}, cfg.Auth.APIKeyHashes)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Server.TLSEnabled())
	require.NoError(t, cfg.Validate())
}

func TestApplyEnvEmpty(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(func(string) (string, bool) { return "", false })
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "Неизвестный тип хранилища", mutate: func(c *Config) { c.Storage.Type = "ftp" }},
		{name: "Пустой путь хранилища", mutate: func(c *Config) { c.Storage.Path = "" }},
		{name: "Пустой адрес", mutate: func(c *Config) { c.Server.Addr = "" }},
		{name: "Только сертификат TLS", mutate: func(c *Config) { c.Server.TLSCertFile = "cert.pem" }},
		{name: "Отрицательный TTL", mutate: func(c *Config) { c.Auth.TokenTTL = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", LogConfig{Level: "debug"}.SlogLevel().String())
	assert.Equal(t, "WARN", LogConfig{Level: "WARN"}.SlogLevel().String())
	assert.Equal(t, "ERROR", LogConfig{Level: "error"}.SlogLevel().String())
	assert.Equal(t, "INFO", LogConfig{Level: ""}.SlogLevel().String())
}
