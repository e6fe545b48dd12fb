package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectNotFound - объекта нет в бакете.
var ErrObjectNotFound = errors.New("объект не найден в хранилище")

// ObjectInfo описывает объект бакета.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	UserMetadata map[string]string
}

// Bucket - операции с объектами, которые нужны хранилищу версий.
type Bucket interface {
	// Ensure проверяет бакет и создает его при необходимости.
	Ensure(ctx context.Context) error
	Put(ctx context.Context, key string, data []byte, meta map[string]string) (ObjectInfo, error)
	// Get возвращает содержимое объекта или ErrObjectNotFound.
	Get(ctx context.Context, key string) ([]byte, ObjectInfo, error)
	// Stat возвращает сведения об объекте или ErrObjectNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Remove(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Name() string
}

// MinioConfig содержит параметры для подключения к MinIO.
type MinioConfig struct {
	Endpoint        string // Адрес MinIO (например, "localhost:9000")
	AccessKeyID     string // Логин
	SecretAccessKey string // Пароль
	UseSSL          bool   // Использовать SSL (обычно false для локальной разработки)
	BucketName      string // Имя бакета для хранения версий
	Region          string // Регион (не обязательно для MinIO, но может требоваться)
}

// MinioBucket реализует Bucket поверх minio-go.
type MinioBucket struct {
	client *minio.Client
	cfg    MinioConfig
}

var _ Bucket = (*MinioBucket)(nil)

// NewMinioBucket создает клиент MinIO. Сетевых запросов не выполняет.
func NewMinioBucket(cfg MinioConfig) (*MinioBucket, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации клиента MinIO: %w", err)
	}
	return &MinioBucket{client: client, cfg: cfg}, nil
}

// Name возвращает имя бакета.
func (b *MinioBucket) Name() string {
	return b.cfg.BucketName
}

// Exists проверяет существование бакета.
func (b *MinioBucket) Exists(ctx context.Context) (bool, error) {
	exists, err := b.client.BucketExists(ctx, b.cfg.BucketName)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки существования бакета '%s': %w", b.cfg.BucketName, err)
	}
	return exists, nil
}

// Ensure проверяет существование бакета и создает его при необходимости.
func (b *MinioBucket) Ensure(ctx context.Context) error {
	exists, err := b.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		slog.Debug("Бакет уже существует", "bucket", b.cfg.BucketName)
		return nil
	}
	slog.Info("Бакет не найден, создаем", "bucket", b.cfg.BucketName)
	err = b.client.MakeBucket(ctx, b.cfg.BucketName, minio.MakeBucketOptions{Region: b.cfg.Region})
	if err != nil {
		return fmt.Errorf("ошибка создания бакета '%s': %w", b.cfg.BucketName, err)
	}
	return nil
}

// Put загружает объект с пользовательскими метаданными.
func (b *MinioBucket) Put(ctx context.Context, key string, data []byte, meta map[string]string) (ObjectInfo, error) {
	info, err := b.client.PutObject(ctx, b.cfg.BucketName, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json", UserMetadata: meta})
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("ошибка загрузки объекта в MinIO: %w", err)
	}
	return ObjectInfo{Key: key, Size: info.Size, LastModified: info.LastModified, UserMetadata: meta}, nil
}

// Get скачивает объект целиком.
func (b *MinioBucket) Get(ctx context.Context, key string) ([]byte, ObjectInfo, error) {
	obj, err := b.client.GetObject(ctx, b.cfg.BucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, ObjectInfo{}, mapMinioError(err, "ошибка получения объекта из MinIO")
	}
	defer obj.Close()
	stat, err := obj.Stat()
	if err != nil {
		return nil, ObjectInfo{}, mapMinioError(err, "ошибка получения метаданных из MinIO")
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, ObjectInfo{}, mapMinioError(err, "ошибка чтения объекта из MinIO")
	}
	return data, fromMinio(stat), nil
}

// Stat возвращает сведения об объекте.
func (b *MinioBucket) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	stat, err := b.client.StatObject(ctx, b.cfg.BucketName, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, mapMinioError(err, "ошибка получения метаданных из MinIO")
	}
	return fromMinio(stat), nil
}

// Remove удаляет объект. Отсутствие объекта ошибкой не считается.
func (b *MinioBucket) Remove(ctx context.Context, key string) error {
	if err := b.client.RemoveObject(ctx, b.cfg.BucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("ошибка удаления объекта из MinIO: %w", err)
	}
	return nil
}

// List возвращает объекты с префиксом вместе с пользовательскими метаданными.
func (b *MinioBucket) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	objects := make([]ObjectInfo, 0)
	for obj := range b.client.ListObjects(ctx, b.cfg.BucketName, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("ошибка получения списка объектов из MinIO: %w", obj.Err)
		}
		objects = append(objects, fromMinio(obj))
	}
	return objects, nil
}

func fromMinio(info minio.ObjectInfo) ObjectInfo {
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		LastModified: info.LastModified,
		UserMetadata: info.UserMetadata,
	}
}

// mapMinioError переводит NoSuchKey в ErrObjectNotFound.
func mapMinioError(err error, msg string) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrObjectNotFound
	}
	return fmt.Errorf("%s: %w", msg, err)
}
