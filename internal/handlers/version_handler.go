package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maynagashev/snapkeeper/internal/storage"
	"github.com/maynagashev/snapkeeper/models"
)

// Максимальный размер тела запроса.
const maxBodyBytes = 32 << 20

// VersionHandler обрабатывает HTTP-запросы к хранилищу версий.
type VersionHandler struct {
	engine      storage.Engine
	storageType string
}

// NewVersionHandler создает новый экземпляр VersionHandler.
// storageType попадает в выгрузку как тип исходного хранилища.
func NewVersionHandler(engine storage.Engine, storageType string) *VersionHandler {
	return &VersionHandler{engine: engine, storageType: storageType}
}

// Routes возвращает роутер с маршрутами API версий и переданными middleware.
// Статические маршруты (health, export, import, cleanup) имеют приоритет над /{id};
// эти имена зарезервированы и не могут быть идентификаторами версий.
func (h *VersionHandler) Routes(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares...)
	r.Get("/health", h.Health)
	r.Get("/", h.List)
	r.Post("/", h.Store)
	r.Get("/export", h.Export)
	r.Post("/import", h.Import)
	r.Post("/cleanup", h.Cleanup)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Retrieve)
		r.Delete("/", h.Delete)
		r.Head("/exists", h.Exists)
		r.Get("/exists", h.Exists)
		r.Get("/metadata", h.GetMetadata)
		r.Patch("/metadata", h.UpdateMetadata)
	})
	return r
}

// Health отвечает 200, пока сервер принимает запросы.
func (h *VersionHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Store обрабатывает POST запрос на сохранение версии.
func (h *VersionHandler) Store(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	info, err := storage.DecodeVersionInfo(raw)
	if err != nil {
		slog.Info("[VersionHandler:Store] Отклонено тело запроса", "error", err)
		writeError(w, err)
		return
	}
	stored, err := h.engine.Store(r.Context(), info, nil)
	if err != nil {
		slog.Error("[VersionHandler:Store] Ошибка сохранения версии", "versionId", info.ID, "error", err)
		writeError(w, err)
		return
	}
	slog.Info("[VersionHandler:Store] Версия сохранена", "versionId", info.ID, "size", stored.Metadata.Size)
	writeJSON(w, http.StatusCreated, stored)
}

// Retrieve обрабатывает GET запрос на получение версии.
func (h *VersionHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := h.engine.Retrieve(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if info == nil {
		writeError(w, storage.NewError("версия не найдена", storage.CodeNotFound, map[string]any{"versionId": id}))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// Delete обрабатывает DELETE запрос. Отсутствующая версия дает {"deleted": false}.
func (h *VersionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := h.engine.Delete(r.Context(), id)
	if err != nil {
		slog.Error("[VersionHandler:Delete] Ошибка удаления версии", "versionId", id, "error", err)
		writeError(w, err)
		return
	}
	if deleted {
		slog.Info("[VersionHandler:Delete] Версия удалена", "versionId", id)
	}
	writeJSON(w, http.StatusOK, models.DeleteResponse{Deleted: deleted})
}

// List обрабатывает GET запрос на получение списка версий.
func (h *VersionHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.engine.List(r.Context(), nil)
	if err != nil {
		slog.Error("[VersionHandler:List] Ошибка получения списка версий", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ListResponse{Versions: records})
}

// Exists отвечает 200, если версия есть, и 404, если нет.
// Для GET дополнительно отдается тело {"exists": ...}.
func (h *VersionHandler) Exists(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	found, err := h.engine.Exists(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if !found {
		status = http.StatusNotFound
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, models.ExistsResponse{Exists: found})
}

// GetMetadata обрабатывает GET запрос на получение метаданных хранения.
func (h *VersionHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	meta, err := h.engine.GetMetadata(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// UpdateMetadata обрабатывает PATCH запрос на изменение метаданных версии.
func (h *VersionHandler) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var patch models.MetadataPatch
	if err := json.Unmarshal(raw, &patch); err != nil {
		slog.Info("[VersionHandler:UpdateMetadata] Ошибка декодирования патча", "error", err)
		writeError(w, storage.WrapError(err, "неверный формат запроса", storage.CodeValidation, nil))
		return
	}
	updated, err := h.engine.UpdateMetadata(r.Context(), id, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	slog.Info("[VersionHandler:UpdateMetadata] Метаданные обновлены", "versionId", id)
	writeJSON(w, http.StatusOK, models.UpdateResponse{Updated: updated})
}

// Cleanup обрабатывает POST запрос на очистку по политике хранения.
// Пустое тело означает политику сервера.
func (h *VersionHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	var req models.CleanupRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			writeError(w, storage.WrapError(err, "неверный формат запроса", storage.CodeValidation, nil))
			return
		}
	}
	var override *models.StorageConfig
	if req.MaxAgeSeconds != 0 || req.MaxVersions != 0 {
		opts := &models.StorageOptions{
			MaxAge:      time.Duration(req.MaxAgeSeconds) * time.Second,
			MaxVersions: req.MaxVersions,
		}
		if req.MaxAgeSeconds < 0 {
			opts.MaxAge = -time.Second
		}
		if req.MaxVersions < 0 {
			opts.MaxVersions = storage.RetentionDisabled
		}
		override = &models.StorageConfig{Options: opts}
	}
	removed, err := h.engine.Cleanup(r.Context(), override)
	if err != nil {
		slog.Error("[VersionHandler:Cleanup] Ошибка очистки", "error", err)
		writeError(w, err)
		return
	}
	slog.Info("[VersionHandler:Cleanup] Очистка выполнена", "removed", removed)
	writeJSON(w, http.StatusOK, models.CleanupResponse{Removed: removed})
}

// Export отдает выгрузку всех версий.
func (h *VersionHandler) Export(w http.ResponseWriter, r *http.Request) {
	bundle, err := storage.ExportData(r.Context(), h.engine, h.storageType)
	if err != nil {
		slog.Error("[VersionHandler:Export] Ошибка выгрузки", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}

// Import принимает выгрузку и сохраняет все версии из нее.
func (h *VersionHandler) Import(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}
	bundle, err := storage.DecodeExportBundle(raw)
	if err != nil {
		writeError(w, err)
		return
	}
	imported, err := storage.ImportData(r.Context(), h.engine, bundle)
	if err != nil {
		slog.Error("[VersionHandler:Import] Ошибка импорта", "error", err)
		writeError(w, err)
		return
	}
	slog.Info("[VersionHandler:Import] Импорт выполнен", "imported", imported)
	writeJSON(w, http.StatusOK, models.ImportResponse{Imported: imported})
}

// readBody читает тело запроса с ограничением размера.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, models.ErrorResponse{
				Code:    string(storage.CodeValidation),
				Message: "слишком большое тело запроса",
			})
			return nil, false
		}
		writeError(w, storage.WrapError(err, "ошибка чтения тела запроса", storage.CodeValidation, nil))
		return nil, false
	}
	return raw, true
}

// statusFor сопоставляет код ошибки хранилища статусу HTTP.
func statusFor(err error) int {
	switch storage.CodeOf(err) {
	case storage.CodeValidation:
		return http.StatusBadRequest
	case storage.CodeNotFound:
		return http.StatusNotFound
	case storage.CodeNotImplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := storage.CodeOf(err)
	if code == "" {
		code = storage.CodeIO
	}
	status := statusFor(err)
	// Подробности внутренних ошибок клиенту не отдаются.
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = "внутренняя ошибка сервера"
		var se *storage.Error
		if errors.As(err, &se) {
			message = se.Message
		}
	}
	writeJSON(w, status, models.ErrorResponse{Code: string(code), Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("[VersionHandler] Ошибка кодирования ответа", "error", err)
	}
}
