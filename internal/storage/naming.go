package storage

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// FileExtension - расширение файла версии.
	FileExtension = ".json"
	// BackupSuffix добавляется к имени файла резервной копии.
	BackupSuffix = ".backup"
)

// Пространство имен для UUIDv5 идентификаторов хранилища.
var storageIDNamespace = uuid.MustParse("8b3c5a1e-2f4d-5c6b-9a7e-1d0f3e2c4b5a")

// GenerateStorageID строит идентификатор записи хранилища.
// Он детерминирован для пары (versionID, storedAt) и не совпадает с versionID.
func GenerateStorageID(versionID string, storedAt time.Time) string {
	name := versionID + "@" + storedAt.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(storageIDNamespace, []byte(name)).String()
}

// GenerateStoragePath возвращает путь к файлу версии в каталоге base.
func GenerateStoragePath(base, versionID string) string {
	return filepath.Join(base, versionID+FileExtension)
}

// GenerateStorageURL возвращает URL версии относительно базового URL API.
func GenerateStorageURL(baseURL, versionID string) string {
	u, err := url.JoinPath(baseURL, url.PathEscape(versionID))
	if err != nil {
		return strings.TrimRight(baseURL, "/") + "/" + versionID
	}
	return u
}

// GenerateObjectKey возвращает ключ объекта версии с префиксом.
func GenerateObjectKey(prefix, versionID string) string {
	return prefix + versionID + FileExtension
}

// VersionIDFromFileName восстанавливает идентификатор версии из имени файла.
// Файлы с другим расширением (в том числе резервные копии) отбрасываются.
func VersionIDFromFileName(name string) (string, bool) {
	if filepath.Ext(name) != FileExtension {
		return "", false
	}
	id := strings.TrimSuffix(name, FileExtension)
	if id == "" {
		return "", false
	}
	return id, true
}
