package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// ChecksumUnavailable подставляется вместо контрольной суммы, когда ее не удалось вычислить.
const ChecksumUnavailable = "error"

// GenerateChecksum возвращает SHA256 (hex) канонической JSON-сериализации v.
// encoding/json сортирует ключи map, поэтому результат детерминирован.
func GenerateChecksum(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", WrapError(err, "ошибка сериализации данных для контрольной суммы", CodeSerialization, nil)
	}
	return ChecksumBytes(data), nil
}

// ChecksumBytes возвращает SHA256 (hex) для готовых байтов.
func ChecksumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChecksumOrSentinel возвращает контрольную сумму или ChecksumUnavailable.
func ChecksumOrSentinel(v any) string {
	sum, err := GenerateChecksum(v)
	if err != nil {
		return ChecksumUnavailable
	}
	return sum
}

// CalculateDataSize возвращает длину JSON-сериализации v в байтах.
func CalculateDataSize(v any) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, WrapError(err, "ошибка сериализации данных для расчета размера", CodeSerialization, nil)
	}
	return int64(len(data)), nil
}
