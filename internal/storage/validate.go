package storage

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/maynagashev/snapkeeper/models"
)

const (
	versionInfoSchemaFile  = "schema/version_info.schema.json"
	exportBundleSchemaFile = "schema/export_bundle.schema.json"
	maxVersionIDLength     = 128
)

//go:embed schema/*.json
var schemaFS embed.FS

// Идентификатор версии используется как имя файла и сегмент URL.
var versionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Имена, занятые служебными маршрутами HTTP API.
var reservedVersionIDs = map[string]struct{}{
	"health":  {},
	"export":  {},
	"import":  {},
	"cleanup": {},
}

var (
	schemaOnce     sync.Once
	versionSchema  *jsonschema.Schema
	bundleSchema   *jsonschema.Schema
	schemaInitErr  error
	supportedTypes = map[models.StorageType]struct{}{
		models.StorageLocal:    {},
		models.StorageRemote:   {},
		models.StorageRedis:    {},
		models.StoragePostgres: {},
		models.StorageMinio:    {},
	}
)

// ValidateVersionInfo проверяет структуру версии перед любым вводом-выводом.
func ValidateVersionInfo(info *models.VersionInfo) error {
	if info == nil {
		return NewError("версия не передана", CodeValidation, nil)
	}
	var problems []string
	if strings.TrimSpace(info.ID) == "" {
		problems = append(problems, "id")
	}
	if strings.TrimSpace(info.Version) == "" {
		problems = append(problems, "version")
	}
	if info.Metadata == nil {
		problems = append(problems, "metadata")
	}
	if info.Data == nil {
		problems = append(problems, "data")
	}
	if info.CreatedAt.IsZero() {
		problems = append(problems, "createdAt")
	}
	if info.UpdatedAt.IsZero() {
		problems = append(problems, "updatedAt")
	}
	if len(problems) > 0 {
		return NewError(
			fmt.Sprintf("некорректная версия: отсутствуют или неверны поля %s", strings.Join(problems, ", ")),
			CodeValidation,
			map[string]any{"fields": problems},
		)
	}
	return ValidateVersionID(info.ID)
}

// ValidateVersionID проверяет, что идентификатор версии допустим для любого бэкенда.
func ValidateVersionID(versionID string) error {
	ctx := map[string]any{"versionId": versionID}
	switch {
	case versionID == "":
		return NewError("идентификатор версии не может быть пустым", CodeValidation, ctx)
	case len(versionID) > maxVersionIDLength:
		return NewError(
			fmt.Sprintf("идентификатор версии длиннее %d символов", maxVersionIDLength), CodeValidation, ctx)
	case !versionIDPattern.MatchString(versionID):
		return NewError("идентификатор версии содержит недопустимые символы", CodeValidation, ctx)
	}
	if _, reserved := reservedVersionIDs[strings.ToLower(versionID)]; reserved {
		return NewError("идентификатор версии зарезервирован", CodeValidation, ctx)
	}
	return nil
}

// ValidateConfig проверяет конфигурацию хранилища.
func ValidateConfig(cfg models.StorageConfig) error {
	if cfg.Type == "" {
		return NewError("не указан тип хранилища", CodeValidation, nil)
	}
	if _, ok := supportedTypes[cfg.Type]; !ok {
		return NewError(fmt.Sprintf("неизвестный тип хранилища '%s'", cfg.Type), CodeValidation,
			map[string]any{"type": string(cfg.Type)})
	}
	if strings.TrimSpace(cfg.Path) == "" {
		return NewError("не указан путь хранилища", CodeValidation, map[string]any{"type": string(cfg.Type)})
	}
	if opts := cfg.Options; opts != nil {
		if opts.Retries < 0 {
			return NewError("число повторов не может быть отрицательным", CodeValidation, nil)
		}
		if opts.Timeout < 0 || opts.RetryDelay < 0 {
			return NewError("длительности не могут быть отрицательными", CodeValidation, nil)
		}
		// Отрицательный MaxAge и MaxVersions = -1 отключают правило очистки.
		if opts.MaxVersions < RetentionDisabled {
			return NewError("максимальное число версий не может быть меньше -1", CodeValidation, nil)
		}
	}
	return nil
}

// ValidateVersionPayload проверяет сырой JSON версии по схеме до декодирования.
func ValidateVersionPayload(raw []byte) error {
	return validateAgainst(raw, func() *jsonschema.Schema { return versionSchema }, "версия")
}

// DecodeJSON декодирует один JSON-документ, сохраняя числа как json.Number.
// Целые больше 2^53 не теряют точность, и контрольная сумма прочитанных данных
// совпадает с рассчитанной при сохранении.
func DecodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("лишние данные после JSON-документа")
	}
	return nil
}

// DecodeVersionInfo проверяет сырой JSON версии по схеме и декодирует его.
func DecodeVersionInfo(raw []byte) (*models.VersionInfo, error) {
	if err := ValidateVersionPayload(raw); err != nil {
		return nil, err
	}
	var info models.VersionInfo
	if err := DecodeJSON(raw, &info); err != nil {
		return nil, WrapError(err, "ошибка декодирования версии", CodeValidation, nil)
	}
	if err := ValidateVersionInfo(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DecodeExportBundle проверяет форму выгрузки (versions должен быть массивом) и декодирует ее.
func DecodeExportBundle(raw []byte) (*models.ExportBundle, error) {
	if err := validateAgainst(raw, func() *jsonschema.Schema { return bundleSchema }, "выгрузка"); err != nil {
		return nil, err
	}
	var bundle models.ExportBundle
	if err := DecodeJSON(raw, &bundle); err != nil {
		return nil, WrapError(err, "ошибка декодирования выгрузки", CodeValidation, nil)
	}
	return &bundle, nil
}

func validateAgainst(raw []byte, pick func() *jsonschema.Schema, what string) error {
	schemaOnce.Do(compileSchemas)
	if schemaInitErr != nil {
		return WrapError(schemaInitErr, "ошибка загрузки схемы", CodeSerialization, nil)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return WrapError(err, fmt.Sprintf("%s: некорректный JSON", what), CodeValidation, nil)
	}
	if err := pick().Validate(payload); err != nil {
		return WrapError(err, fmt.Sprintf("%s не соответствует схеме", what), CodeValidation, nil)
	}
	return nil
}

func compileSchemas() {
	versionSchema, schemaInitErr = compileSchema("version-info", versionInfoSchemaFile)
	if schemaInitErr != nil {
		return
	}
	bundleSchema, schemaInitErr = compileSchema("export-bundle", exportBundleSchemaFile)
}

func compileSchema(id, file string) (*jsonschema.Schema, error) {
	data, err := schemaFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения схемы %s: %w", file, err)
	}
	resourceID := "inmemory://" + id
	compiler := jsonschema.NewCompiler()
	if err = compiler.AddResource(resourceID, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("ошибка добавления схемы: %w", err)
	}
	return compiler.Compile(resourceID)
}
