// Точка входа файлового хранилища: загрузка, выдача и удаление файлов
// с учётом квоты.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/filestorage/internal/api/handlers"
	"github.com/bigkaa/filestorage/internal/api/middleware"
	"github.com/bigkaa/filestorage/internal/config"
	"github.com/bigkaa/filestorage/internal/server"
	"github.com/bigkaa/filestorage/internal/service"
	"github.com/bigkaa/filestorage/internal/storage/wal"
)

// errInterrupted — причина, записываемая в прерванные саги.
var errInterrupted = errors.New("сага прервана остановкой процесса")

func main() {
	// Переменные из .env (если файл есть) не перезаписывают окружение
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки .env: %v\n", err)
		os.Exit(1)
	}

	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger, closeLog := config.SetupLogger(cfg)
	defer closeLog()

	logger.Info("Файловое хранилище запускается",
		slog.String("service_id", cfg.ServiceID),
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("blob_backend", cfg.BlobBackend),
		slog.String("metadata_backend", cfg.MetadataBackend),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Файловое хранилище остановлено с ошибкой", slog.String("error", err.Error()))
		closeLog()
		os.Exit(1)
	}

	logger.Info("Файловое хранилище остановлено")
}

// run собирает компоненты, запускает сервер и дожидается его остановки.
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Инициализация компонентов ---

	// 1. Журнал саг
	journal, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации WAL: %w", err)
	}
	recoverInterrupted(journal, logger)

	// 2. Хранилище блобов
	blobs, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации хранилища блобов: %w", err)
	}

	// 3. Индекс метаданных
	meta, err := openIndex(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации индекса метаданных: %w", err)
	}
	defer func() {
		if err := meta.close(); err != nil {
			logger.Warn("Ошибка закрытия индекса", slog.String("error", err.Error()))
		}
	}()

	// 4. Сервис файлов
	files := service.NewFileService(blobs.store, meta.idx, journal, service.Limits{
		MaxFileSize: cfg.MaxFileSize,
		QuotaBytes:  cfg.Quota,
	}, logger)

	// Начальные значения метрик занятого места
	if _, err := files.List(ctx); err != nil {
		logger.Warn("Не удалось прочитать индекс при старте", slog.String("error", err.Error()))
	}

	// 5. Фоновые процессы

	// 5.1 GC — очистка временных файлов и завершённых саг
	gcSvc := service.NewGCService(blobs.temp, journal, cfg.GCInterval, cfg.TempMaxAge, logger)
	gcSvc.Start(ctx)
	defer gcSvc.Stop()

	// 5.2 Reconciliation — фоновая сверка
	reconcileSvc := service.NewReconcileService(blobs.store, meta.idx, journal, cfg.ReconcileInterval, logger)
	reconcileSvc.Start(ctx)
	defer reconcileSvc.Stop()

	// 5.3 topologymetrics — мониторинг зависимостей
	var deps handlers.DependencyReporter
	dephealthSvc, err := service.NewDephealthService(
		cfg.ServiceID,
		cfg.DephealthGroup,
		service.DephealthTargets{
			PostgresDB:  meta.pgDB,
			PostgresURL: cfg.DatabaseURL,
			S3URL:       blobs.s3URL,
		},
		cfg.DephealthCheckInterval,
		logger,
	)
	switch {
	case errors.Is(err, service.ErrNoDependencies):
		logger.Info("Внешних зависимостей нет, topologymetrics не запускается")
	case err != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	default:
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			deps = dephealthSvc
			defer dephealthSvc.Stop()
			logger.Info("topologymetrics запущен",
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 6. Handlers
	var diskUsage handlers.DiskUsageFunc
	if blobs.dataDir != "" {
		diskUsage = diskUsageFn(blobs.dataDir)
	}

	apiHandler := handlers.NewAPIHandler(
		handlers.NewFilesHandler(files, cfg.MultipartMemory, logger),
		handlers.NewSystemHandler(cfg.ServiceID, blobs.store.Name(), meta.idx.Name(), files, diskUsage, logger),
		handlers.NewMaintenanceHandler(reconcileSvc),
		handlers.NewHealthHandler(cfg.ServiceID, blobs.dataDir, journal.Dir(), meta.idx, deps),
	)

	// 7. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	// Фоновые процессы останавливаются отложенными вызовами
	logger.Info("Остановка фоновых процессов...")
	return nil
}

// recoverInterrupted находит саги, прерванные остановкой процесса.
// Саги не откатываются: они помечаются failed, чтобы попасть в отчёт сверки.
func recoverInterrupted(journal *wal.WAL, logger *slog.Logger) {
	pending, err := journal.RecoverPending()
	if err != nil {
		logger.Error("Ошибка чтения журнала саг", slog.String("error", err.Error()))
		return
	}
	if len(pending) == 0 {
		return
	}

	logger.Warn("Обнаружены прерванные саги",
		slog.Int("count", len(pending)),
	)
	middleware.SagaInterruptedTotal.Add(float64(len(pending)))

	for _, entry := range pending {
		logger.Warn("Прерванная сага",
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.String("file_id", entry.FileID),
			slog.String("storage_path", entry.StoragePath),
			slog.String("step", string(entry.Step)),
		)
		if err := journal.Fail(entry.TransactionID, entry.Step, errInterrupted); err != nil {
			logger.Error("Ошибка записи статуса саги",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// diskUsageFn возвращает функцию для получения информации об ёмкости диска.
func diskUsageFn(dataDir string) handlers.DiskUsageFunc {
	return func() (int64, int64, int64, error) {
		return getDiskUsage(dataDir)
	}
}
