package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode - машиночитаемый код ошибки хранилища.
type ErrorCode string

// Коды ошибок хранилища.
const (
	CodeValidation     ErrorCode = "VALIDATION_ERROR"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeIO             ErrorCode = "IO_ERROR"
	CodeNetwork        ErrorCode = "NETWORK_ERROR"
	CodeNotInitialized ErrorCode = "NOT_INITIALIZED"
	CodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"
	CodeSerialization  ErrorCode = "SERIALIZATION_ERROR"
)

// Error - ошибка хранилища с кодом, контекстом и временем возникновения.
type Error struct {
	Code      ErrorCode
	Message   string
	Context   map[string]any
	Timestamp time.Time
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает ошибки по коду. Это позволяет писать errors.Is(err, storage.ErrNotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// Ошибки-образцы для сравнения через errors.Is.
var (
	ErrValidation     = &Error{Code: CodeValidation}
	ErrNotFound       = &Error{Code: CodeNotFound}
	ErrIO             = &Error{Code: CodeIO}
	ErrNetwork        = &Error{Code: CodeNetwork}
	ErrNotInitialized = &Error{Code: CodeNotInitialized}
	ErrNotImplemented = &Error{Code: CodeNotImplemented}
	ErrSerialization  = &Error{Code: CodeSerialization}
)

// NewError создает ошибку хранилища с кодом и меткой времени.
func NewError(message string, code ErrorCode, ctx map[string]any) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Context:   ctx,
		Timestamp: time.Now().UTC(),
	}
}

// WrapError оборачивает err в ошибку хранилища с указанным кодом.
func WrapError(err error, message string, code ErrorCode, ctx map[string]any) *Error {
	e := NewError(message, code, ctx)
	e.Err = err
	return e
}

// CodeOf возвращает код ошибки хранилища или пустую строку для прочих ошибок.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable сообщает, можно ли повторять операцию после этой ошибки.
// Ошибки валидации и предусловий не повторяются никогда.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeValidation, CodeNotFound, CodeNotInitialized, CodeNotImplemented, CodeSerialization:
		return false
	default:
		return err != nil
	}
}
