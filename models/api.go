package models

// Тела запросов и ответов HTTP API версий.

// ListResponse - ответ на GET /.
type ListResponse struct {
	Versions []VersionStorage `json:"versions"`
}

// DeleteResponse - ответ на DELETE /{id}.
type DeleteResponse struct {
	Deleted bool `json:"deleted"`
}

// ExistsResponse - тело ответа проверки существования (HEAD отдает только статус).
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// UpdateResponse - ответ на PATCH /{id}/metadata.
type UpdateResponse struct {
	Updated bool `json:"updated"`
}

// CleanupRequest - параметры политики хранения для POST /cleanup.
// Пустой запрос означает политику сервера. Если задано хотя бы одно поле,
// незаданное получает значение по умолчанию, а отрицательное отключает правило.
type CleanupRequest struct {
	MaxAgeSeconds int64 `json:"maxAgeSeconds,omitempty"`
	MaxVersions   int   `json:"maxVersions,omitempty"`
}

// CleanupResponse - ответ на POST /cleanup.
type CleanupResponse struct {
	Removed int `json:"removed"`
}

// ImportResponse - ответ на POST /import.
type ImportResponse struct {
	Imported int `json:"imported"`
}

// ErrorResponse - тело ответа с ошибкой.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
