package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // Драйвер PostgreSQL, импортируем для регистрации

	"github.com/maynagashev/snapkeeper/internal/storage"
)

const (
	driverName      = "postgres"
	maxOpenConns    = 25              // Максимальное количество открытых соединений
	maxIdleConns    = 25              // Максимальное количество простаивающих соединений
	connMaxLifetime = 5 * time.Minute // Максимальное время жизни соединения
	connMaxIdleTime = 5 * time.Minute // Максимальное время простоя соединения
)

// Connect открывает пул соединений с PostgreSQL и проверяет его.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	slog.Info("Подключение к PostgreSQL...")

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, storage.WrapError(err, "ошибка подключения к БД", storage.CodeNetwork, nil)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	slog.Info("Подключение к PostgreSQL успешно установлено")
	return db, nil
}

// schemaSQL создает таблицу версий, если ее еще нет.
const schemaSQL = `CREATE TABLE IF NOT EXISTS snapshot_versions (
	version_id TEXT PRIMARY KEY,
	storage_id TEXT NOT NULL,
	payload JSONB NOT NULL,
	checksum TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	version TEXT NOT NULL,
	strategy TEXT NOT NULL DEFAULT '',
	tags TEXT[] NOT NULL DEFAULT '{}',
	stored_at TIMESTAMPTZ NOT NULL
)`

// Migrate создает схему хранилища.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return storage.WrapError(err, "ошибка создания схемы БД", storage.CodeIO, nil)
	}
	return nil
}
