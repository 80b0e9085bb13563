// gc.go — сервис фоновой очистки (Garbage Collection).
//
// GC выполняет две задачи:
//  1. Удаляет незавершённые временные файлы загрузок старше FS_TEMP_MAX_AGE
//     (только для файлового хранилища блобов)
//  2. Удаляет записи журнала успешно завершённых саг
//
// Зарегистрированные блобы и записи индекса GC не трогает.
// Запускается как горутина с периодическим тикером (FS_GC_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/filestorage/internal/storage/wal"
)

// Prometheus метрики GC
var (
	// gcRunsTotal — количество запусков GC.
	gcRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_gc_runs_total",
		Help: "Общее количество запусков GC",
	})

	// gcTempFilesDeletedTotal — количество удалённых временных файлов.
	gcTempFilesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_gc_temp_files_deleted_total",
		Help: "Общее количество временных файлов загрузок, удалённых GC",
	})

	// gcSagasCleanedTotal — количество удалённых записей журнала.
	gcSagasCleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_gc_sagas_cleaned_total",
		Help: "Общее количество записей журнала саг, удалённых GC",
	})

	// gcDurationSeconds — длительность выполнения GC.
	gcDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fs_gc_duration_seconds",
		Help:    "Длительность выполнения GC в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// TempCleaner — хранилище, умеющее удалять свои временные файлы.
// Реализуется blob.FileStore.
type TempCleaner interface {
	CleanupTemp(maxAge time.Duration) (int, error)
}

// GCResult — результат одного запуска GC.
type GCResult struct {
	// TempFilesDeleted — количество удалённых временных файлов
	TempFilesDeleted int
	// SagasCleaned — количество удалённых записей журнала
	SagasCleaned int
	// Errors — количество ошибок
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// GCService — сервис фоновой очистки.
type GCService struct {
	temp       TempCleaner // может быть nil (хранилище S3)
	journal    *wal.WAL    // может быть nil
	interval   time.Duration
	tempMaxAge time.Duration
	logger     *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGCService создаёт сервис GC.
func NewGCService(
	temp TempCleaner,
	journal *wal.WAL,
	interval time.Duration,
	tempMaxAge time.Duration,
	logger *slog.Logger,
) *GCService {
	return &GCService{
		temp:       temp,
		journal:    journal,
		interval:   interval,
		tempMaxAge: tempMaxAge,
		logger:     logger.With(slog.String("component", "gc")),
	}
}

// Start запускает фоновую горутину GC с периодическим тикером.
// Вызывается один раз при старте приложения.
func (gc *GCService) Start(ctx context.Context) {
	gcCtx, cancel := context.WithCancel(ctx)
	gc.cancel = cancel
	gc.done = make(chan struct{})

	go gc.run(gcCtx)

	gc.logger.Info("GC запущен",
		slog.String("interval", gc.interval.String()),
		slog.String("temp_max_age", gc.tempMaxAge.String()),
	)
}

// Stop останавливает фоновый процесс GC и ждёт его завершения.
func (gc *GCService) Stop() {
	if gc.cancel != nil {
		gc.cancel()
		<-gc.done
	}
	gc.logger.Info("GC остановлен")
}

// run — основной цикл фоновой горутины.
func (gc *GCService) run(ctx context.Context) {
	defer close(gc.done)

	// Первый запуск — сразу после старта
	gc.RunOnce()

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gc.RunOnce()
		}
	}
}

// RunOnce выполняет один цикл GC.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (gc *GCService) RunOnce() *GCResult {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	start := time.Now()
	result := &GCResult{}

	gc.logger.Debug("GC запуск начат")

	// Фаза 1: временные файлы загрузок
	if gc.temp != nil {
		removed, err := gc.temp.CleanupTemp(gc.tempMaxAge)
		result.TempFilesDeleted = removed
		if err != nil {
			gc.logger.Error("GC: ошибка очистки временных файлов",
				slog.String("error", err.Error()),
			)
			result.Errors++
		}
	}

	// Фаза 2: журнал саг
	if gc.journal != nil {
		cleaned, err := gc.journal.CleanCommitted()
		result.SagasCleaned = cleaned
		if err != nil {
			gc.logger.Error("GC: ошибка очистки журнала саг",
				slog.String("error", err.Error()),
			)
			result.Errors++
		}
	}

	result.Duration = time.Since(start)

	gcRunsTotal.Inc()
	gcTempFilesDeletedTotal.Add(float64(result.TempFilesDeleted))
	gcSagasCleanedTotal.Add(float64(result.SagasCleaned))
	gcDurationSeconds.Observe(result.Duration.Seconds())

	gc.logger.Info("GC завершён",
		slog.Int("temp_files_deleted", result.TempFilesDeleted),
		slog.Int("sagas_cleaned", result.SagasCleaned),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}
