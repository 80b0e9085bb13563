// Пакет service — бизнес-логика файлового хранилища.
// files.go — координатор загрузки и удаления файлов.
//
// Загрузка и удаление затрагивают два хранилища (блобы и индекс
// метаданных) без общей транзакции. Каждая операция — сага из двух
// шагов без отката: частичный результат остаётся и фиксируется
// в журнале саг.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/filestorage/internal/api/middleware"
	"github.com/bigkaa/filestorage/internal/domain/model"
	"github.com/bigkaa/filestorage/internal/storage/blob"
	"github.com/bigkaa/filestorage/internal/storage/index"
	"github.com/bigkaa/filestorage/internal/storage/wal"
)

// Limits — лимиты хранилища.
type Limits struct {
	// MaxFileSize — максимальный размер одного файла в байтах
	MaxFileSize int64
	// QuotaBytes — общий лимит суммы размеров файлов
	QuotaBytes int64
}

// DefaultLimits возвращает лимиты по умолчанию (2 GiB на файл, 1 TiB всего).
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize: model.DefaultMaxFileSize,
		QuotaBytes:  model.DefaultQuotaBytes,
	}
}

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// OriginalName — имя файла, переданное клиентом
	OriginalName string
	// ContentType — MIME-тип из заголовка части multipart
	ContentType string
	// Size — заявленный размер файла в байтах
	Size int64
}

// ListResult — список файлов и их суммарный размер.
type ListResult struct {
	// Files — записи от новых к старым, никогда не nil
	Files []*model.FileRecord
	// UsedBytes — сумма размеров Files
	UsedBytes int64
}

// FileService — координатор операций с файлами.
type FileService struct {
	blobs   blob.Store
	idx     index.Index
	journal *wal.WAL // может быть nil
	limits  Limits
	clock   *monotonicClock
	newID   func() string
	logger  *slog.Logger
}

// NewFileService создаёт координатор. journal может быть nil:
// тогда саги не журналируются.
func NewFileService(
	blobs blob.Store,
	idx index.Index,
	journal *wal.WAL,
	limits Limits,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		blobs:   blobs,
		idx:     idx,
		journal: journal,
		limits:  limits,
		clock:   newMonotonicClock(func() time.Time { return time.Now() }),
		newID:   func() string { return uuid.New().String() },
		logger:  logger.With(slog.String("component", "file_service")),
	}
}

// Limits возвращает лимиты хранилища.
func (s *FileService) Limits() Limits {
	return s.limits
}

// Upload принимает файл и регистрирует его метаданные.
//
// Проверки (в порядке, до первой неудачи):
//  1. файл передан и имеет имя
//  2. заявленный размер не больше MaxFileSize
//  3. занято + заявленный размер не больше квоты
//
// Затем: запись блоба, запись метаданных. Если запись метаданных
// не удалась, блоб остаётся (осиротевший) и виден сверке.
//
// Проверка квоты не защищена блокировкой: две одновременные загрузки
// могут вместе превысить квоту.
func (s *FileService) Upload(ctx context.Context, params UploadParams) (*model.FileRecord, error) {
	if params.Reader == nil || params.OriginalName == "" {
		s.countOperation("upload", "rejected")
		return nil, ErrNoFileProvided
	}

	if params.Size > s.limits.MaxFileSize {
		s.countOperation("upload", "rejected")
		return nil, fmt.Errorf("%w: %d байт при максимуме %d байт",
			ErrFileTooLarge, params.Size, s.limits.MaxFileSize)
	}

	used, err := s.idx.TotalSize(ctx)
	if err != nil {
		s.logger.Error("Ошибка подсчёта занятого объёма",
			slog.String("error", err.Error()),
		)
		s.countOperation("upload", "error")
		return nil, fmt.Errorf("%w: %w", ErrMetadataRead, err)
	}
	if used+params.Size > s.limits.QuotaBytes {
		s.countOperation("upload", "rejected")
		return nil, fmt.Errorf("%w: занято %d из %d байт, файл %d байт",
			ErrQuotaExceeded, used, s.limits.QuotaBytes, params.Size)
	}

	fileID := s.newID()
	txID := s.beginSaga(wal.OpUpload, fileID, "", wal.StepBlobPut)

	// Поток ограничивается и при записи: заявленный размер может не
	// совпадать с фактическим.
	res, err := s.blobs.Put(ctx, fileID, params.OriginalName,
		blob.LimitReader(params.Reader, s.limits.MaxFileSize))
	if err != nil {
		s.failSaga(txID, wal.StepBlobPut, err)
		if errors.Is(err, blob.ErrTooLarge) {
			s.countOperation("upload", "rejected")
			return nil, fmt.Errorf("%w: поток превысил %d байт",
				ErrFileTooLarge, s.limits.MaxFileSize)
		}
		s.logger.Error("Ошибка записи блоба",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		s.countOperation("upload", "error")
		return nil, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	s.advanceSaga(txID, wal.StepMetadataInsert, res.StoragePath)

	rec := &model.FileRecord{
		ID:           fileID,
		StoredName:   res.StoragePath,
		OriginalName: params.OriginalName,
		ContentType:  normalizeContentType(params.ContentType),
		Size:         res.Size,
		StoragePath:  res.StoragePath,
		UploadedAt:   s.clock.Now(),
		Checksum:     res.Checksum,
	}

	if err := s.idx.Insert(ctx, rec); err != nil {
		s.failSaga(txID, wal.StepMetadataInsert, err)
		s.logger.Error("Ошибка записи метаданных, блоб остался без записи",
			slog.String("file_id", fileID),
			slog.String("storage_path", res.StoragePath),
			slog.String("error", err.Error()),
		)
		s.countOperation("upload", "error")
		return nil, fmt.Errorf("%w: %w", ErrMetadataWrite, err)
	}

	s.commitSaga(txID)

	s.countOperation("upload", "success")
	middleware.UploadBytesTotal.Add(float64(rec.Size))

	s.logger.Info("Файл загружен",
		slog.String("file_id", rec.ID),
		slog.String("filename", rec.OriginalName),
		slog.String("storage_path", rec.StoragePath),
		slog.Int64("size", rec.Size),
		slog.String("checksum", rec.Checksum),
	)

	return rec, nil
}

// List возвращает все записи от новых к старым.
// Каждый вызов читает индекс заново.
func (s *FileService) List(ctx context.Context) (*ListResult, error) {
	records, err := s.idx.ListAll(ctx)
	if err != nil {
		s.logger.Error("Ошибка чтения списка файлов",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrMetadataRead, err)
	}
	if records == nil {
		records = []*model.FileRecord{}
	}

	used := model.TotalSize(records)
	middleware.FilesTotal.Set(float64(len(records)))
	middleware.StorageUsedBytes.Set(float64(used))

	return &ListResult{Files: records, UsedBytes: used}, nil
}

// Usage пересчитывает использование хранилища.
func (s *FileService) Usage(ctx context.Context) (model.Usage, error) {
	list, err := s.List(ctx)
	if err != nil {
		return model.Usage{}, err
	}
	return model.NewUsage(list.UsedBytes, s.limits.QuotaBytes, s.limits.MaxFileSize, len(list.Files)), nil
}

// Get возвращает запись по идентификатору.
func (s *FileService) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	rec, err := s.idx.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, index.ErrNotFound) {
			return nil, ErrFileNotFound
		}
		s.logger.Error("Ошибка чтения метаданных",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrMetadataRead, err)
	}
	return rec, nil
}

// OpenBlob открывает содержимое по ключу блоба.
// Вызывающий код обязан закрыть результат.
func (s *FileService) OpenBlob(ctx context.Context, storagePath string) (*blob.Object, error) {
	obj, err := s.blobs.Get(ctx, storagePath)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, ErrFileNotFound
		}
		s.logger.Error("Ошибка открытия блоба",
			slog.String("storage_path", storagePath),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %w", ErrStorageRead, err)
	}
	return obj, nil
}

// Open находит запись по идентификатору и открывает её содержимое.
func (s *FileService) Open(ctx context.Context, id string) (*model.FileRecord, *blob.Object, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	obj, err := s.OpenBlob(ctx, rec.StoragePath)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			s.logger.Warn("Запись есть, блоб отсутствует",
				slog.String("file_id", id),
				slog.String("storage_path", rec.StoragePath),
			)
		}
		return nil, nil, err
	}
	return rec, obj, nil
}

// Delete удаляет файл: поиск записи, удаление блоба, удаление записи.
//
// Ошибка удаления блоба не прерывает операцию: отсутствующий блоб
// логируется как предупреждение, ошибка ввода-вывода как ошибка.
// Если не удалось удалить запись, она остаётся висячей (без блоба).
func (s *FileService) Delete(ctx context.Context, id string) (*model.FileRecord, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			s.countOperation("delete", "rejected")
		} else {
			s.countOperation("delete", "error")
		}
		return nil, err
	}

	txID := s.beginSaga(wal.OpDelete, rec.ID, rec.StoragePath, wal.StepBlobDelete)

	if err := s.blobs.Delete(ctx, rec.StoragePath); err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			s.logger.Warn("Блоб уже отсутствует, удаляется только запись",
				slog.String("file_id", rec.ID),
				slog.String("storage_path", rec.StoragePath),
			)
		} else {
			s.logger.Error("Ошибка удаления блоба, удаление записи продолжается",
				slog.String("file_id", rec.ID),
				slog.String("storage_path", rec.StoragePath),
				slog.String("error", err.Error()),
			)
		}
	}

	s.advanceSaga(txID, wal.StepMetadataDelete, "")

	if err := s.idx.DeleteByID(ctx, rec.ID); err != nil {
		s.failSaga(txID, wal.StepMetadataDelete, err)
		if errors.Is(err, index.ErrNotFound) {
			// Запись удалена параллельным запросом
			s.countOperation("delete", "rejected")
			return nil, ErrFileNotFound
		}
		s.logger.Error("Ошибка удаления записи, запись осталась без блоба",
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
		s.countOperation("delete", "error")
		return nil, fmt.Errorf("%w: %w", ErrMetadataDelete, err)
	}

	s.commitSaga(txID)
	s.countOperation("delete", "success")

	s.logger.Info("Файл удалён",
		slog.String("file_id", rec.ID),
		slog.String("filename", rec.OriginalName),
		slog.String("storage_path", rec.StoragePath),
	)

	return rec, nil
}

// --- Журнал саг ---
// Ошибки журнала логируются и не меняют результат операции.

func (s *FileService) beginSaga(op wal.OperationType, fileID, storagePath string, step wal.Step) string {
	if s.journal == nil {
		return ""
	}
	entry, err := s.journal.Begin(op, fileID, storagePath, step)
	if err != nil {
		s.logger.Warn("Сага не записана в журнал",
			slog.String("operation", string(op)),
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return entry.TransactionID
}

func (s *FileService) advanceSaga(txID string, step wal.Step, storagePath string) {
	if s.journal == nil || txID == "" {
		return
	}
	if err := s.journal.Advance(txID, step, storagePath); err != nil {
		s.logger.Warn("Не удалось отметить шаг саги",
			slog.String("tx_id", txID),
			slog.String("step", string(step)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *FileService) commitSaga(txID string) {
	if s.journal == nil || txID == "" {
		return
	}
	if err := s.journal.Commit(txID); err != nil {
		s.logger.Warn("Не удалось завершить сагу в журнале",
			slog.String("tx_id", txID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *FileService) failSaga(txID string, step wal.Step, cause error) {
	if s.journal == nil || txID == "" {
		return
	}
	if err := s.journal.Fail(txID, step, cause); err != nil {
		s.logger.Warn("Не удалось отметить ошибку саги",
			slog.String("tx_id", txID),
			slog.String("step", string(step)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *FileService) countOperation(op, result string) {
	middleware.OperationsTotal.WithLabelValues(op, result).Inc()
}

// normalizeContentType убирает параметры (charset и т.д.) из MIME-типа.
// Пустой или некорректный тип заменяется на application/octet-stream.
func normalizeContentType(contentType string) string {
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		return model.DefaultContentType
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		if idx := strings.Index(contentType, ";"); idx != -1 {
			contentType = strings.TrimSpace(contentType[:idx])
		}
		if contentType == "" {
			return model.DefaultContentType
		}
		return contentType
	}
	return mediaType
}

// monotonicClock выдаёт строго возрастающие отметки времени
// с точностью до микросекунды (точность хранения в индексе).
type monotonicClock struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newMonotonicClock(now func() time.Time) *monotonicClock {
	return &monotonicClock{now: now}
}

// Now возвращает текущее время UTC, но не раньше предыдущего
// значения плюс одна микросекунда.
func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Microsecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Microsecond)
	}
	c.last = t
	return t
}
