package main

import (
	"flag"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Вспомогательная функция для сброса флагов между тестами.
func resetFlags() {
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
}

func TestParseFlags(t *testing.T) {
	originalArgs := os.Args
	t.Cleanup(func() { os.Args = originalArgs })

	t.Run("Все параметры из флагов", func(t *testing.T) {
		resetFlags()
		t.Setenv(envConfigPath, "env.yaml")
		os.Args = []string{"cmd", "-config=flag.yaml", "-addr=:9000"}

		opts, err := parseFlags()
		require.NoError(t, err)
		assert.Equal(t, "flag.yaml", opts.ConfigPath)
		assert.Equal(t, ":9000", opts.Addr)
		assert.Empty(t, opts.IssueToken)
		assert.Empty(t, opts.HashKey)
	})

	t.Run("Путь к конфигурации из переменной окружения", func(t *testing.T) {
		resetFlags()
		t.Setenv(envConfigPath, "env.yaml")
		os.Args = []string{"cmd"}

		opts, err := parseFlags()
		require.NoError(t, err)
		assert.Equal(t, "env.yaml", opts.ConfigPath)
	})

	t.Run("Без параметров", func(t *testing.T) {
		resetFlags()
		os.Args = []string{"cmd"}
		require.NoError(t, os.Unsetenv(envConfigPath))

		opts, err := parseFlags()
		require.NoError(t, err)
		assert.Equal(t, &options{}, opts)
	})

	t.Run("Выпуск токена", func(t *testing.T) {
		resetFlags()
		os.Args = []string{"cmd", "-issue-token", "ci-runner"}

		opts, err := parseFlags()
		require.NoError(t, err)
		assert.Equal(t, "ci-runner", opts.IssueToken)
	})

	t.Run("Конфликт служебных флагов", func(t *testing.T) {
		resetFlags()
		os.Args = []string{"cmd", "-issue-token=ci", "-hash-key=k"}

		_, err := parseFlags()
		require.Error(t, err)
	})

	t.Run("Лишние аргументы", func(t *testing.T) {
		resetFlags()
		os.Args = []string{"cmd", "-addr=:1", "extra"}

		_, err := parseFlags()
		require.Error(t, err)
	})
}
