// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Файловое хранилище мониторит внешние зависимости, если они настроены:
//   - PostgreSQL (индекс метаданных, pool mode через *sql.DB, critical)
//   - S3-совместимое хранилище блобов (HTTP GET health endpoint, critical)
//
// При локальных backend-ах (fs + sqlite/memory) внешних зависимостей нет
// и сервис не создаётся.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultS3HealthPath — liveness endpoint MinIO.
const DefaultS3HealthPath = "/minio/health/live"

// ErrNoDependencies — не настроено ни одной внешней зависимости.
var ErrNoDependencies = errors.New("внешние зависимости не настроены")

// DephealthTargets — внешние зависимости для мониторинга.
// Пустые поля означают, что зависимость не используется.
type DephealthTargets struct {
	// PostgresDB — *sql.DB, полученный из pgxpool через stdlib.OpenDBFromPool()
	PostgresDB *sql.DB
	// PostgresURL — URL подключения (для лейблов метрик, не для подключения)
	PostgresURL string
	// S3URL — URL S3 endpoint (со схемой)
	S3URL string
	// S3HealthPath — путь health endpoint; по умолчанию DefaultS3HealthPath
	S3HealthPath string
}

// empty возвращает true, если ни одна зависимость не задана.
func (t DephealthTargets) empty() bool {
	return t.PostgresDB == nil && t.S3URL == ""
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Параметры:
//   - serviceID — имя вершины графа текущего приложения (FS_SERVICE_ID)
//   - group — имя группы в метриках (FS_DEPHEALTH_GROUP)
//   - targets — зависимости для проверки
//   - checkInterval — интервал проверки (FS_DEPHEALTH_CHECK_INTERVAL)
func NewDephealthService(
	serviceID string,
	group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, targets, checkInterval, logger,
		dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(
	serviceID string,
	group string,
	targets DephealthTargets,
	checkInterval time.Duration,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	if targets.empty() {
		return nil, ErrNoDependencies
	}

	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
	}

	if targets.PostgresDB != nil {
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(targets.PostgresDB)),
			dephealth.FromURL(targets.PostgresURL),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		))
	}

	if targets.S3URL != "" {
		healthPath := targets.S3HealthPath
		if healthPath == "" {
			healthPath = DefaultS3HealthPath
		}
		opts = append(opts, dephealth.HTTP("s3",
			dephealth.FromURL(targets.S3URL),
			dephealth.WithHTTPHealthPath(healthPath),
			dephealth.CheckInterval(checkInterval),
			dephealth.Critical(true),
		))
	}

	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
