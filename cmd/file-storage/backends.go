// backends.go — сборка хранилища блобов и индекса метаданных по конфигурации.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/filestorage/internal/config"
	"github.com/bigkaa/filestorage/internal/database"
	"github.com/bigkaa/filestorage/internal/service"
	"github.com/bigkaa/filestorage/internal/storage/blob"
	"github.com/bigkaa/filestorage/internal/storage/index"
)

// blobBackend — хранилище блобов и связанные с ним зависимости.
type blobBackend struct {
	store blob.Store
	// temp — очистка временных файлов (nil для S3)
	temp service.TempCleaner
	// dataDir — директория данных для health и statfs (пусто для S3)
	dataDir string
	// s3URL — endpoint для мониторинга зависимостей
	s3URL string
}

// openBlobStore создаёт хранилище блобов: файловое или S3.
func openBlobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*blobBackend, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendS3:
		store, err := blob.NewS3Store(ctx, blob.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
			Region:    cfg.S3Region,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &blobBackend{store: store, s3URL: store.EndpointURL()}, nil
	default:
		store, err := blob.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		logger.Info("Файловое хранилище блобов инициализировано",
			slog.String("data_dir", store.DataDir()),
		)
		return &blobBackend{store: store, temp: store, dataDir: store.DataDir()}, nil
	}
}

// metadataBackend — индекс метаданных и связанные с ним зависимости.
type metadataBackend struct {
	idx index.Index
	// pgDB — database/sql поверх пула pgx для проверки topologymetrics
	pgDB *sql.DB
}

// openIndex создаёт индекс метаданных и применяет миграции.
func openIndex(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*metadataBackend, error) {
	switch cfg.MetadataBackend {
	case config.MetadataBackendPostgres:
		if err := database.MigratePostgres(cfg.DatabaseURL, logger); err != nil {
			return nil, err
		}
		pool, err := database.ConnectPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		return &metadataBackend{
			idx:  index.NewPostgres(pool),
			pgDB: stdlib.OpenDBFromPool(pool),
		}, nil

	case config.MetadataBackendMemory:
		logger.Warn("Индекс метаданных в памяти: записи не переживут перезапуск")
		return &metadataBackend{idx: index.NewMemory()}, nil

	default:
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		if err := database.MigrateSQLite(db, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &metadataBackend{idx: index.NewSQLite(db)}, nil
	}
}

// close освобождает подключения индекса.
func (m *metadataBackend) close() error {
	if m.pgDB != nil {
		_ = m.pgDB.Close()
	}
	if err := m.idx.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия индекса %s: %w", m.idx.Name(), err)
	}
	return nil
}
