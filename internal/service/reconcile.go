// reconcile.go — сервис фоновой сверки (Reconciliation) блобов и индекса метаданных.
//
// Reconciliation сравнивает содержимое хранилища блобов с индексом:
//   - orphan_blob: блоб без записи в индексе
//   - dangling_record: запись в индексе без блоба
//   - size_mismatch: размер блоба не совпадает с записью
//   - checksum_mismatch: SHA-256 блоба не совпадает с записью
//
// Сверка только сообщает о проблемах, ничего не исправляет.
// Запускается по тикеру (FS_RECONCILE_INTERVAL) и по запросу
// POST /api/maintenance/reconcile.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/filestorage/internal/storage/blob"
	"github.com/bigkaa/filestorage/internal/storage/index"
	"github.com/bigkaa/filestorage/internal/storage/wal"
)

// Типы проблем сверки.
const (
	IssueOrphanBlob       = "orphan_blob"
	IssueDanglingRecord   = "dangling_record"
	IssueSizeMismatch     = "size_mismatch"
	IssueChecksumMismatch = "checksum_mismatch"
)

// Prometheus метрики Reconciliation
var (
	// reconcileRunsTotal — количество запусков reconciliation.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fs_reconcile_runs_total",
		Help: "Общее количество запусков reconciliation",
	})

	// reconcileIssuesTotal — количество обнаруженных проблем по типу.
	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fs_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных reconciliation",
	}, []string{"type"})

	// reconcileDurationSeconds — длительность выполнения reconciliation.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fs_reconcile_duration_seconds",
		Help:    "Длительность выполнения reconciliation в секундах",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	})
)

// ReconcileIssue — одна обнаруженная проблема.
type ReconcileIssue struct {
	Type        string `json:"type"`
	FileID      string `json:"file_id,omitempty"`
	StoragePath string `json:"storage_path"`
	Description string `json:"description"`
}

// ReconcileSummary — количество проблем по типам.
type ReconcileSummary struct {
	Ok                 int `json:"ok"`
	OrphanBlobs        int `json:"orphan_blobs"`
	DanglingRecords    int `json:"dangling_records"`
	SizeMismatches     int `json:"size_mismatches"`
	ChecksumMismatches int `json:"checksum_mismatches"`
	// FailedSagas — саги в журнале со статусом failed
	FailedSagas int `json:"failed_sagas"`
}

// ReconcileReport — результат одного запуска сверки.
type ReconcileReport struct {
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
	FilesChecked int              `json:"files_checked"`
	BlobsChecked int              `json:"blobs_checked"`
	Issues       []ReconcileIssue `json:"issues"`
	Summary      ReconcileSummary `json:"summary"`
	// Error — причина, по которой сверка не выполнена; пустой отчёт
	// с непустым Error не означает, что проблем нет
	Error string `json:"error,omitempty"`
}

// ReconcileService — сервис фоновой сверки хранилища.
type ReconcileService struct {
	blobs    blob.Store
	idx      index.Index
	journal  *wal.WAL // может быть nil
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool       // reconciliation в процессе выполнения
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconcileService создаёт сервис reconciliation.
func NewReconcileService(
	blobs blob.Store,
	idx index.Index,
	journal *wal.WAL,
	interval time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		blobs:    blobs,
		idx:      idx,
		journal:  journal,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину reconciliation с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Reconciliation запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновый процесс reconciliation и ждёт его завершения.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
		<-rs.done
	}
	rs.logger.Info("Reconciliation остановлена")
}

// IsInProgress возвращает true, если reconciliation выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// run — основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	defer close(rs.done)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл reconciliation.
// Потокобезопасен: если reconciliation уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileReport, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Reconciliation уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	report := &ReconcileReport{
		StartedAt: time.Now().UTC(),
		Issues:    []ReconcileIssue{},
	}
	rs.logger.Info("Reconciliation начата")

	if err := rs.reconcile(ctx, report); err != nil {
		rs.logger.Error("Reconciliation не выполнена",
			slog.String("error", err.Error()),
		)
		report.Error = err.Error()
	}

	if rs.journal != nil {
		failed, err := rs.journal.ListFailed()
		if err != nil {
			rs.logger.Warn("Ошибка чтения журнала саг",
				slog.String("error", err.Error()),
			)
		}
		report.Summary.FailedSagas = len(failed)
	}

	report.CompletedAt = time.Now().UTC()
	duration := report.CompletedAt.Sub(report.StartedAt)

	affected := make(map[string]struct{})
	for _, issue := range report.Issues {
		switch issue.Type {
		case IssueOrphanBlob:
			report.Summary.OrphanBlobs++
		case IssueDanglingRecord:
			report.Summary.DanglingRecords++
			affected[issue.FileID] = struct{}{}
		case IssueSizeMismatch:
			report.Summary.SizeMismatches++
			affected[issue.FileID] = struct{}{}
		case IssueChecksumMismatch:
			report.Summary.ChecksumMismatches++
			affected[issue.FileID] = struct{}{}
		}
	}
	report.Summary.Ok = report.FilesChecked - len(affected)
	if report.Summary.Ok < 0 {
		report.Summary.Ok = 0
	}

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	for _, issue := range report.Issues {
		reconcileIssuesTotal.WithLabelValues(issue.Type).Inc()
	}

	rs.logger.Info("Reconciliation завершена",
		slog.Int("files_checked", report.FilesChecked),
		slog.Int("blobs_checked", report.BlobsChecked),
		slog.Int("issues", len(report.Issues)),
		slog.Int("ok", report.Summary.Ok),
		slog.Int("failed_sagas", report.Summary.FailedSagas),
		slog.Duration("duration", duration),
	)

	return report, false
}

// reconcile сравнивает блобы с записями индекса и заполняет report.
// Блобы перечисляются до индекса, а кандидаты в orphan_blob и
// dangling_record перепроверяются через Stat: загрузка или удаление,
// завершившиеся между двумя списками, не попадают в отчёт.
func (rs *ReconcileService) reconcile(ctx context.Context, report *ReconcileReport) error {
	blobs, err := rs.blobs.List(ctx)
	if err != nil {
		return fmt.Errorf("ошибка чтения списка блобов: %w", err)
	}
	records, err := rs.idx.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("ошибка чтения индекса: %w", err)
	}

	report.FilesChecked = len(records)
	report.BlobsChecked = len(blobs)

	blobByPath := make(map[string]blob.Info, len(blobs))
	for _, info := range blobs {
		blobByPath[info.StoragePath] = info
	}

	referenced := make(map[string]struct{}, len(records))
	for _, rec := range records {
		referenced[rec.StoragePath] = struct{}{}

		info, ok := blobByPath[rec.StoragePath]
		if !ok {
			current, exists := rs.stat(ctx, rec.StoragePath)
			if !exists {
				report.Issues = append(report.Issues, ReconcileIssue{
					Type:        IssueDanglingRecord,
					FileID:      rec.ID,
					StoragePath: rec.StoragePath,
					Description: "Запись в индексе без блоба",
				})
				continue
			}
			// Блоб записан после получения списка
			info = *current
		}

		if info.Size != rec.Size {
			report.Issues = append(report.Issues, ReconcileIssue{
				Type:        IssueSizeMismatch,
				FileID:      rec.ID,
				StoragePath: rec.StoragePath,
				Description: "Размер блоба не совпадает с записью в индексе",
			})
			// Если размер не совпадает, checksum точно не совпадёт
			continue
		}

		if rec.Checksum == "" {
			continue
		}

		actual, err := rs.checksum(ctx, rec.StoragePath)
		if err != nil {
			rs.logger.Warn("Ошибка вычисления checksum",
				slog.String("storage_path", rec.StoragePath),
				slog.String("error", err.Error()),
			)
			continue
		}
		if actual != rec.Checksum {
			report.Issues = append(report.Issues, ReconcileIssue{
				Type:        IssueChecksumMismatch,
				FileID:      rec.ID,
				StoragePath: rec.StoragePath,
				Description: "Checksum блоба не совпадает с записью в индексе",
			})
		}
	}

	var orphans []string
	for path := range blobByPath {
		if _, ok := referenced[path]; ok {
			continue
		}
		// Блоб удалён после получения списка
		if _, exists := rs.stat(ctx, path); !exists {
			continue
		}
		orphans = append(orphans, path)
	}
	sort.Strings(orphans)
	for _, path := range orphans {
		report.Issues = append(report.Issues, ReconcileIssue{
			Type:        IssueOrphanBlob,
			StoragePath: path,
			Description: "Блоб без записи в индексе",
		})
	}

	return nil
}

// stat проверяет текущее наличие блоба.
// Ошибка, отличная от ErrNotFound, считается наличием: проблема
// не подтверждена, и блоб попадёт в следующую сверку.
func (rs *ReconcileService) stat(ctx context.Context, storagePath string) (*blob.Info, bool) {
	info, err := rs.blobs.Stat(ctx, storagePath)
	if err == nil {
		return info, true
	}
	if errors.Is(err, blob.ErrNotFound) {
		return nil, false
	}
	rs.logger.Warn("Ошибка проверки блоба",
		slog.String("storage_path", storagePath),
		slog.String("error", err.Error()),
	)
	return nil, true
}

// checksum читает блоб и считает SHA-256.
func (rs *ReconcileService) checksum(ctx context.Context, storagePath string) (string, error) {
	obj, err := rs.blobs.Get(ctx, storagePath)
	if err != nil {
		return "", err
	}
	defer obj.Close()

	h := sha256.New()
	if _, err := io.Copy(h, obj); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
