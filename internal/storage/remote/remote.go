// Package remote реализует хранилище версий поверх HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/maynagashev/snapkeeper/internal/storage"
	"github.com/maynagashev/snapkeeper/models"
)

const (
	backendName = "remote"
	// Сколько байт тела ошибки читается для сообщения.
	maxErrorBody = 4 << 10
)

// Storage обращается к серверу хранилища по REST-протоколу.
type Storage struct {
	cfg     models.StorageConfig
	baseURL string
	client  *http.Client
	life    *storage.Lifecycle
	sleep   sleepFunc
	now     func() time.Time
}

var (
	_ storage.Engine   = (*Storage)(nil)
	_ storage.Importer = (*Storage)(nil)
	_ storage.Exporter = (*Storage)(nil)
)

// Option настраивает Storage.
type Option func(*Storage)

// WithHTTPClient задает HTTP-клиент. По умолчанию используется новый http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Storage) {
		if c != nil {
			s.client = c
		}
	}
}

// New создает удаленное хранилище. Path должен быть абсолютным http(s) URL.
func New(cfg models.StorageConfig, opts ...Option) (*Storage, error) {
	if err := storage.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.Type != models.StorageRemote {
		return nil, storage.NewError("конфигурация не относится к удаленному хранилищу", storage.CodeValidation,
			map[string]any{"type": string(cfg.Type)})
	}
	if err := validateBaseURL(cfg.Path); err != nil {
		return nil, err
	}
	s := &Storage{
		cfg:     storage.MergeWithDefaults(cfg),
		baseURL: cfg.Path,
		client:  &http.Client{},
		life:    storage.NewLifecycle(backendName),
		sleep:   sleepContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return storage.WrapError(err, "некорректный URL удаленного хранилища", storage.CodeValidation,
			map[string]any{"path": raw})
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return storage.NewError("URL удаленного хранилища должен быть абсолютным http(s) адресом",
			storage.CodeValidation, map[string]any{"path": raw})
	}
	return nil
}

// request описывает один вызов API.
type request struct {
	operation   string   // Имя операции для логов
	method      string   // HTTP-метод
	segments    []string // Сегменты пути относительно базового URL
	body        any      // Тело запроса, nil - без тела
	out         any      // Куда декодировать успешный ответ, nil - не декодировать
	failure     string   // Сообщение ошибки операции
	notFoundNil bool     // 404 - нормальный отрицательный результат
}

// call выполняет запрос с повторами. Возвращает found=false, если сервер ответил 404
// и операция считает это нормальным результатом.
func (s *Storage) call(ctx context.Context, opts models.StorageOptions, req request) (bool, error) {
	endpoint, err := url.JoinPath(s.baseURL, req.segments...)
	if err != nil {
		return false, storage.WrapError(err, "ошибка формирования URL", storage.CodeValidation,
			map[string]any{"operation": req.operation})
	}
	payload, err := encodeBody(req.body, opts.CompressionEnabled)
	if err != nil {
		return false, err
	}

	policy := retryPolicy{retries: opts.Retries, delay: opts.RetryDelay, timeout: opts.Timeout}
	found := true
	attempt := 0
	err = policy.run(ctx, s.sleep, req.operation, func(attemptCtx context.Context) error {
		attempt++
		var attemptErr error
		found, attemptErr = s.attempt(attemptCtx, opts, req, endpoint, payload, attempt)
		return attemptErr
	})
	return found, err
}

func (s *Storage) attempt(
	ctx context.Context,
	opts models.StorageOptions,
	req request,
	endpoint string,
	payload []byte,
	attempt int,
) (bool, error) {
	errCtx := map[string]any{"method": req.method, "url": endpoint, "attempt": attempt}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
	if err != nil {
		return false, storage.WrapError(err, req.failure, storage.CodeValidation, errCtx)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
		if opts.CompressionEnabled {
			httpReq.Header.Set("Content-Encoding", "gzip")
		}
	}
	if opts.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+opts.APIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return false, storage.WrapError(err, req.failure, storage.CodeNetwork, errCtx)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && req.notFoundNil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, s.statusError(resp, req.failure, errCtx)
	}
	if req.out == nil || req.method == http.MethodHead {
		_, _ = io.Copy(io.Discard, resp.Body)
		return true, nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err = dec.Decode(req.out); err != nil {
		return false, storage.WrapError(err, req.failure+": некорректный ответ сервера", storage.CodeSerialization, errCtx)
	}
	return true, nil
}

// statusError переводит неуспешный ответ в ошибку хранилища.
func (s *Storage) statusError(resp *http.Response, failure string, errCtx map[string]any) error {
	se := &StatusError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var apiErr models.ErrorResponse
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
		se.Message = apiErr.Message
	}
	errCtx["status"] = resp.StatusCode

	code := storage.CodeNetwork
	switch resp.StatusCode {
	case http.StatusNotFound:
		code = storage.CodeNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		code = storage.CodeValidation
	case http.StatusNotImplemented:
		code = storage.CodeNotImplemented
	}
	err := storage.WrapError(se, failure, code, errCtx)

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if delay, ok := parseRetryAfter(resp.Header.Get("Retry-After"), s.now()); ok {
			return retryAfter(err, delay)
		}
	}
	return err
}

// encodeBody сериализует тело запроса и при необходимости сжимает его gzip.
func encodeBody(body any, compress bool) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, storage.WrapError(err, "ошибка кодирования тела запроса", storage.CodeSerialization, nil)
	}
	if !compress {
		return data, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err = zw.Write(data); err != nil {
		return nil, storage.WrapError(err, "ошибка сжатия тела запроса", storage.CodeSerialization, nil)
	}
	if err = zw.Close(); err != nil {
		return nil, storage.WrapError(err, "ошибка сжатия тела запроса", storage.CodeSerialization, nil)
	}
	return buf.Bytes(), nil
}

func (s *Storage) options() models.StorageOptions {
	return *s.cfg.Options
}

// Initialize проверяет доступность сервера через GET /health.
func (s *Storage) Initialize(ctx context.Context) error {
	_, err := s.call(ctx, s.options(), request{
		operation: "health",
		method:    http.MethodGet,
		segments:  []string{"health"},
		failure:   "ошибка проверки доступности сервера",
	})
	if err != nil {
		return storage.WrapError(err, "ошибка инициализации удаленного хранилища", storage.CodeNetwork,
			map[string]any{"url": s.baseURL})
	}
	s.life.MarkInitialized()
	slog.Info("Удаленное хранилище доступно", "url", s.baseURL)
	return nil
}

// Store отправляет версию на сервер (POST /).
func (s *Storage) Store(
	ctx context.Context,
	info *models.VersionInfo,
	override *models.StorageConfig,
) (*models.VersionStorage, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return nil, err
	}
	if err := storage.ValidateVersionInfo(info); err != nil {
		return nil, err
	}
	var stored models.VersionStorage
	_, err := s.call(ctx, storage.ResolveOptions(s.cfg, override), request{
		operation: "store",
		method:    http.MethodPost,
		body:      info,
		out:       &stored,
		failure:   "ошибка сохранения версии",
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Retrieve загружает версию (GET /{id}). 404 - не ошибка, возвращается nil.
func (s *Storage) Retrieve(ctx context.Context, versionID string) (*models.VersionInfo, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return nil, err
	}
	if err := storage.ValidateVersionID(versionID); err != nil {
		return nil, err
	}
	var info models.VersionInfo
	found, err := s.call(ctx, s.options(), request{
		operation:   "retrieve",
		method:      http.MethodGet,
		segments:    []string{versionID},
		out:         &info,
		failure:     "ошибка получения версии",
		notFoundNil: true,
	})
	if err != nil || !found {
		return nil, err
	}
	return &info, nil
}

// Delete удаляет версию (DELETE /{id}). 404 дает false.
func (s *Storage) Delete(ctx context.Context, versionID string) (bool, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return false, err
	}
	if err := storage.ValidateVersionID(versionID); err != nil {
		return false, err
	}
	var resp models.DeleteResponse
	found, err := s.call(ctx, s.options(), request{
		operation:   "delete",
		method:      http.MethodDelete,
		segments:    []string{versionID},
		out:         &resp,
		failure:     "ошибка удаления версии",
		notFoundNil: true,
	})
	if err != nil || !found {
		return false, err
	}
	return resp.Deleted, nil
}

// List возвращает записи в порядке, который выбрал сервер (GET /).
func (s *Storage) List(ctx context.Context, override *models.StorageConfig) ([]models.VersionStorage, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return nil, err
	}
	var resp models.ListResponse
	_, err := s.call(ctx, storage.ResolveOptions(s.cfg, override), request{
		operation: "list",
		method:    http.MethodGet,
		out:       &resp,
		failure:   "ошибка получения списка версий",
	})
	if err != nil {
		return nil, err
	}
	if resp.Versions == nil {
		resp.Versions = []models.VersionStorage{}
	}
	return resp.Versions, nil
}

// Exists проверяет версию запросом HEAD /{id}/exists: 2xx - есть, 404 - нет.
func (s *Storage) Exists(ctx context.Context, versionID string) (bool, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return false, err
	}
	if err := storage.ValidateVersionID(versionID); err != nil {
		return false, err
	}
	return s.call(ctx, s.options(), request{
		operation:   "exists",
		method:      http.MethodHead,
		segments:    []string{versionID, "exists"},
		failure:     "ошибка проверки существования версии",
		notFoundNil: true,
	})
}

// GetMetadata запрашивает метаданные хранения (GET /{id}/metadata).
func (s *Storage) GetMetadata(ctx context.Context, versionID string) (*models.StorageMetadata, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return nil, err
	}
	if err := storage.ValidateVersionID(versionID); err != nil {
		return nil, err
	}
	var meta models.StorageMetadata
	_, err := s.call(ctx, s.options(), request{
		operation: "get_metadata",
		method:    http.MethodGet,
		segments:  []string{versionID, "metadata"},
		out:       &meta,
		failure:   "ошибка получения метаданных",
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// UpdateMetadata отправляет патч метаданных (PATCH /{id}/metadata).
func (s *Storage) UpdateMetadata(ctx context.Context, versionID string, patch models.MetadataPatch) (bool, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return false, err
	}
	if err := storage.ValidateVersionID(versionID); err != nil {
		return false, err
	}
	var resp models.UpdateResponse
	_, err := s.call(ctx, s.options(), request{
		operation: "update_metadata",
		method:    http.MethodPatch,
		segments:  []string{versionID, "metadata"},
		body:      patch,
		out:       &resp,
		failure:   "ошибка обновления метаданных",
	})
	if err != nil {
		return false, err
	}
	return resp.Updated, nil
}

// Cleanup просит сервер применить политику хранения (POST /cleanup).
// Политика передается, только если задан override.
func (s *Storage) Cleanup(ctx context.Context, override *models.StorageConfig) (int, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return 0, err
	}
	opts := storage.ResolveOptions(s.cfg, override)
	body := models.CleanupRequest{}
	if override != nil && override.Options != nil {
		body.MaxAgeSeconds = int64(opts.MaxAge / time.Second)
		if opts.MaxAge < 0 {
			body.MaxAgeSeconds = -1
		}
		body.MaxVersions = opts.MaxVersions
	}
	var resp models.CleanupResponse
	_, err := s.call(ctx, opts, request{
		operation: "cleanup",
		method:    http.MethodPost,
		segments:  []string{"cleanup"},
		body:      body,
		out:       &resp,
		failure:   "ошибка очистки хранилища",
	})
	if err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

// Validate делает одну попытку GET /health по адресу из cfg.
func (s *Storage) Validate(ctx context.Context, cfg models.StorageConfig) bool {
	if err := storage.ValidateConfig(cfg); err != nil || cfg.Type != models.StorageRemote {
		return false
	}
	if validateBaseURL(cfg.Path) != nil {
		return false
	}
	endpoint, err := url.JoinPath(cfg.Path, "health")
	if err != nil {
		return false
	}
	opts := *storage.MergeWithDefaults(cfg).Options
	reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	if opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+opts.APIKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		slog.Debug("Удаленное хранилище недоступно", "url", cfg.Path, "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}

// Dispose закрывает простаивающие соединения. Повторные вызовы безопасны.
func (s *Storage) Dispose(_ context.Context) error {
	if s.life.Reset() {
		s.client.CloseIdleConnections()
	}
	return nil
}

// ExportData получает выгрузку с сервера (GET /export).
func (s *Storage) ExportData(ctx context.Context) (*models.ExportBundle, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return nil, err
	}
	var bundle models.ExportBundle
	_, err := s.call(ctx, s.options(), request{
		operation: "export",
		method:    http.MethodGet,
		segments:  []string{"export"},
		out:       &bundle,
		failure:   "ошибка выгрузки версий",
	})
	if err != nil {
		return nil, err
	}
	if bundle.Versions == nil {
		bundle.Versions = []models.VersionInfo{}
	}
	return &bundle, nil
}

// ImportData отправляет выгрузку на сервер (POST /import).
func (s *Storage) ImportData(ctx context.Context, bundle *models.ExportBundle) (int, error) {
	if err := s.life.EnsureInitialized(); err != nil {
		return 0, err
	}
	if bundle == nil || bundle.Versions == nil {
		return 0, storage.NewError("некорректная выгрузка: versions должен быть массивом", storage.CodeValidation, nil)
	}
	var resp models.ImportResponse
	_, err := s.call(ctx, s.options(), request{
		operation: "import",
		method:    http.MethodPost,
		segments:  []string{"import"},
		body:      bundle,
		out:       &resp,
		failure:   "ошибка импорта версий",
	})
	if err != nil {
		return 0, err
	}
	return resp.Imported, nil
}

// IsStatus сообщает, что err - ответ сервера с указанным статусом.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
