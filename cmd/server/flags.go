package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

const (
	// Путь к файлу конфигурации по умолчанию не задан: используются встроенные значения.
	envConfigPath = "SNAPKEEPER_CONFIG"
)

// options хранит параметры командной строки.
type options struct {
	ConfigPath string
	Addr       string
	IssueToken string
	HashKey    string
}

// parseFlags разбирает флаги и переменные окружения, возвращает options или ошибку.
func parseFlags() (*options, error) {
	opts := &options{}

	flag.StringVar(&opts.ConfigPath, "config", "",
		fmt.Sprintf("Путь к YAML-файлу конфигурации (env: %s)", envConfigPath))
	flag.StringVar(&opts.Addr, "addr", "",
		"Адрес HTTP-сервера, переопределяет server.addr (env: SNAPKEEPER_ADDR)")
	flag.StringVar(&opts.IssueToken, "issue-token", "",
		"Выпустить JWT для указанного субъекта и завершить работу")
	flag.StringVar(&opts.HashKey, "hash-key", "",
		"Вывести bcrypt-хеш API-ключа для auth.api_key_hashes и завершить работу")

	flag.Parse()

	// Применяем переменные окружения, если флаги не заданы
	if opts.ConfigPath == "" {
		if value, ok := os.LookupEnv(envConfigPath); ok {
			opts.ConfigPath = value
		}
	}

	if opts.IssueToken != "" && opts.HashKey != "" {
		return nil, errors.New("флаги -issue-token и -hash-key нельзя использовать вместе")
	}
	if flag.NArg() > 0 {
		return nil, fmt.Errorf("неожиданные аргументы: %v", flag.Args())
	}

	return opts, nil
}
