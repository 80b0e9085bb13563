package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// s3PartSize — размер части multipart-загрузки при неизвестной длине потока.
// Без явного значения minio-go выбирает часть под объект в 5 TiB.
const s3PartSize = 16 << 20

// S3Config — параметры подключения к S3-совместимому хранилищу.
type S3Config struct {
	Endpoint  string // host:port, без схемы
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

// S3Store — хранилище блобов в S3-совместимом хранилище (MinIO, Ceph RGW и др.).
// Объект становится видимым только после завершения PutObject.
type S3Store struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

// NewS3Store подключается к хранилищу и создаёт bucket, если его нет.
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания S3 клиента: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("ошибка создания bucket %s: %w", cfg.Bucket, err)
		}
		logger.Info("S3 bucket создан", slog.String("bucket", cfg.Bucket))
	}

	logger.Info("S3 хранилище инициализировано",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("bucket", cfg.Bucket),
		slog.Bool("ssl", cfg.UseSSL),
	)

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With(slog.String("component", "s3_store")),
	}, nil
}

// Name возвращает имя backend-а.
func (s *S3Store) Name() string {
	return "s3"
}

// EndpointURL возвращает URL хранилища (для мониторинга зависимостей).
func (s *S3Store) EndpointURL() string {
	return s.client.EndpointURL().String()
}

// Put загружает поток в bucket с подсчётом SHA-256 на лету.
func (s *S3Store) Put(ctx context.Context, id, suggestedName string, r io.Reader) (*PutResult, error) {
	key := StoredName(id, suggestedName)

	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, key)
	} else if !isNoSuchKey(err) {
		return nil, fmt.Errorf("ошибка проверки объекта %s: %w", key, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	hasher := sha256.New()
	tee := io.TeeReader(r, hasher)

	// -1: длина неизвестна, minio читает поток до конца частями s3PartSize
	info, err := s.client.PutObject(ctx, s.bucket, key, tee, -1, minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    s3PartSize,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки объекта %s: %w", key, err)
	}

	return &PutResult{
		StoragePath: key,
		Size:        info.Size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Get открывает объект на чтение.
func (s *S3Store) Get(ctx context.Context, storagePath string) (*Object, error) {
	if !ValidName(storagePath) {
		return nil, notFound(storagePath)
	}

	obj, err := s.client.GetObject(ctx, s.bucket, storagePath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения объекта %s: %w", storagePath, err)
	}

	// GetObject ленивый: отсутствие объекта видно только после Stat
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, notFound(storagePath)
		}
		return nil, fmt.Errorf("ошибка получения объекта %s: %w", storagePath, err)
	}

	return &Object{
		ReadSeekCloser: obj,
		Info: Info{
			StoragePath: storagePath,
			Size:        stat.Size,
			ModTime:     stat.LastModified,
		},
	}, nil
}

// Stat возвращает размер и время модификации объекта.
func (s *S3Store) Stat(ctx context.Context, storagePath string) (*Info, error) {
	if !ValidName(storagePath) {
		return nil, notFound(storagePath)
	}
	stat, err := s.client.StatObject(ctx, s.bucket, storagePath, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, notFound(storagePath)
		}
		return nil, fmt.Errorf("ошибка получения информации об объекте %s: %w", storagePath, err)
	}
	return &Info{StoragePath: storagePath, Size: stat.Size, ModTime: stat.LastModified}, nil
}

// Delete удаляет объект. S3 не сообщает об отсутствии объекта
// при удалении, поэтому существование проверяется заранее.
func (s *S3Store) Delete(ctx context.Context, storagePath string) error {
	if _, err := s.Stat(ctx, storagePath); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, storagePath, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("ошибка удаления объекта %s: %w", storagePath, err)
	}
	return nil
}

// List перечисляет объекты bucket-а.
func (s *S3Store) List(ctx context.Context) ([]Info, error) {
	var result []Info
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("ошибка перечисления объектов: %w", obj.Err)
		}
		if !ValidName(obj.Key) {
			s.logger.Debug("Пропуск объекта с посторонним именем", slog.String("key", obj.Key))
			continue
		}
		result = append(result, Info{StoragePath: obj.Key, Size: obj.Size, ModTime: obj.LastModified})
	}
	return result, nil
}

// isNoSuchKey проверяет, что ошибка S3 означает отсутствие объекта.
func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
