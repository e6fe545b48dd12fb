package storage_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maynagashev/snapkeeper/internal/storage"
)

func TestErrorIs(t *testing.T) {
	cause := errors.New("connection refused")
	err := storage.WrapError(cause, "ошибка сети", storage.CodeNetwork, map[string]any{"attempt": 1})

	assert.ErrorIs(t, err, storage.ErrNetwork)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, "ошибка сети: connection refused", err.Error())
	assert.False(t, err.Timestamp.IsZero())

	wrapped := fmt.Errorf("remote: %w", err)
	assert.ErrorIs(t, wrapped, storage.ErrNetwork)
	assert.Equal(t, storage.CodeNetwork, storage.CodeOf(wrapped))
	assert.Equal(t, storage.ErrorCode(""), storage.CodeOf(cause))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "Нет ошибки", err: nil, want: false},
		{name: "Сеть", err: storage.NewError("x", storage.CodeNetwork, nil), want: true},
		{name: "Ввод-вывод", err: storage.NewError("x", storage.CodeIO, nil), want: true},
		{name: "Не найдено", err: storage.NewError("x", storage.CodeNotFound, nil), want: false},
		{name: "Валидация", err: storage.NewError("x", storage.CodeValidation, nil), want: false},
		{name: "Не инициализировано", err: storage.NewError("x", storage.CodeNotInitialized, nil), want: false},
		{name: "Не реализовано", err: storage.NewError("x", storage.CodeNotImplemented, nil), want: false},
		{name: "Сериализация", err: storage.NewError("x", storage.CodeSerialization, nil), want: false},
		{name: "Обычная ошибка", err: errors.New("x"), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, storage.IsRetryable(tt.err))
		})
	}
}

func TestLifecycle(t *testing.T) {
	l := storage.NewLifecycle("test")
	assert.False(t, l.Initialized())
	assert.ErrorIs(t, l.EnsureInitialized(), storage.ErrNotInitialized)

	l.MarkInitialized()
	assert.NoError(t, l.EnsureInitialized())
	assert.True(t, l.Reset())
	assert.False(t, l.Reset())
	assert.ErrorIs(t, l.EnsureInitialized(), storage.ErrNotInitialized)
}
