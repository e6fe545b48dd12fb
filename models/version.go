package models

import "time"

// VersionInfo представляет неизменяемый снимок анализа проекта.
// Все поля обязательны: запись без любого из них не сохраняется.
type VersionInfo struct {
	ID        string           `json:"id"`        // Уникальный в рамках бэкенда идентификатор версии
	Version   string           `json:"version"`   // Семантическая метка, например "1.2.0"
	Metadata  *VersionMetadata `json:"metadata"`  // Метаданные версии
	Data      map[string]any   `json:"data"`      // Полезная нагрузка анализа (проект, структура, AST, метрики)
	CreatedAt time.Time        `json:"createdAt"` // Время создания снимка
	UpdatedAt time.Time        `json:"updatedAt"` // Время последнего изменения метаданных
}

// VersionMetadata содержит описательные поля версии.
// Только они могут изменяться после сохранения (см. MetadataPatch).
type VersionMetadata struct {
	Version     string    `json:"version"`
	Strategy    string    `json:"strategy"`
	CreatedAt   time.Time `json:"createdAt"`
	Tags        []string  `json:"tags"`
	Description string    `json:"description,omitempty"`
}

// MetadataPatch описывает частичное обновление метаданных.
// Заданные (не nil) поля перезаписывают значения, остальные сохраняются.
type MetadataPatch struct {
	Version     *string   `json:"version,omitempty"`
	Strategy    *string   `json:"strategy,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Description *string   `json:"description,omitempty"`
}

// IsEmpty сообщает, что патч ничего не меняет.
func (p MetadataPatch) IsEmpty() bool {
	return p.Version == nil && p.Strategy == nil && p.Tags == nil && p.Description == nil
}

// Apply применяет патч к метаданным и возвращает новую копию.
func (p MetadataPatch) Apply(meta VersionMetadata) VersionMetadata {
	if p.Version != nil {
		meta.Version = *p.Version
	}
	if p.Strategy != nil {
		meta.Strategy = *p.Strategy
	}
	if p.Tags != nil {
		meta.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Description != nil {
		meta.Description = *p.Description
	}
	return meta
}

// VersionStorage - запись хранилища о сохраненной версии.
// Возвращается из Store и List.
type VersionStorage struct {
	ID        string          `json:"id"`        // Идентификатор, назначенный хранилищем
	VersionID string          `json:"versionId"` // Ссылка на VersionInfo.ID
	Path      string          `json:"path"`      // Путь к файлу, URL или ключ объекта
	Metadata  StorageMetadata `json:"metadata"`
}

// StorageMetadata - метаданные, вычисленные бэкендом при сохранении.
type StorageMetadata struct {
	StoredAt time.Time `json:"storedAt"`
	Size     int64     `json:"size"`     // Размер сериализованной записи в байтах
	Checksum string    `json:"checksum"` // SHA256 сериализованных данных версии
	Version  string    `json:"version,omitempty"`
	Strategy string    `json:"strategy,omitempty"`
}

// ExportBundle - выгрузка всех версий хранилища.
type ExportBundle struct {
	Versions []VersionInfo `json:"versions"`
	Metadata ExportMeta    `json:"metadata"`
}

// ExportMeta описывает происхождение выгрузки.
type ExportMeta struct {
	ExportedAt    time.Time `json:"exportedAt"`
	TotalVersions int       `json:"totalVersions"`
	StorageType   string    `json:"storageType"`
}
