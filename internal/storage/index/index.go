// Пакет index — индекс метаданных файлов (таблица FileRecord).
//
// Реализации:
//   - SQLite — один файл базы рядом с данными (по умолчанию);
//   - Postgres — PostgreSQL через pgxpool;
//   - Memory — потокобезопасная map, не переживает рестарт (dev и тесты).
//
// Список всегда отдаётся свежим запросом, без кэширования.
package index

import (
	"context"
	"errors"
	"sort"

	"github.com/bigkaa/filestorage/internal/domain/model"
)

// Ошибки индекса.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrDuplicateID — запись с таким id уже существует.
	ErrDuplicateID = errors.New("запись с таким id уже существует")
)

// Index — контракт индекса метаданных.
type Index interface {
	// Insert добавляет запись. ErrDuplicateID, если id занят.
	Insert(ctx context.Context, rec *model.FileRecord) error
	// GetByID возвращает запись или ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)
	// ListAll возвращает все записи, новые первыми
	// (upload_date DESC, затем порядок вставки DESC).
	ListAll(ctx context.Context) ([]*model.FileRecord, error)
	// DeleteByID удаляет запись или возвращает ErrNotFound.
	DeleteByID(ctx context.Context, id string) error
	// TotalSize возвращает сумму размеров всех записей.
	TotalSize(ctx context.Context) (int64, error)
	// Ping проверяет доступность хранилища индекса.
	Ping(ctx context.Context) error
	// Close освобождает ресурсы.
	Close() error
	// Name — имя backend-а для логов и /api/info.
	Name() string
}

// fileColumns — столбцы таблицы files в порядке сканирования.
const fileColumns = `id, filename, originalname, mimetype, size, path, upload_date, checksum`

// sortNewestFirst сортирует записи: новые первыми, при равном времени —
// позже вставленные первыми. seq — порядковый номер вставки.
func sortNewestFirst(records []*model.FileRecord, seq func(i int) int64) {
	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := records[idx[a]], records[idx[b]]
		if !ra.UploadedAt.Equal(rb.UploadedAt) {
			return ra.UploadedAt.After(rb.UploadedAt)
		}
		return seq(idx[a]) > seq(idx[b])
	})
	sorted := make([]*model.FileRecord, len(records))
	for i, j := range idx {
		sorted[i] = records[j]
	}
	copy(records, sorted)
}
