// Пакет model — доменные модели файлового хранилища.
// FileRecord — запись метаданных файла, единая для индекса метаданных
// и JSON-ответов HTTP API.
package model

import (
	"time"
)

// Лимиты по умолчанию.
const (
	// DefaultMaxFileSize — максимальный размер одного файла (2 GiB)
	DefaultMaxFileSize int64 = 2 << 30
	// DefaultQuotaBytes — общий лимит хранилища (1 TiB)
	DefaultQuotaBytes int64 = 1 << 40
	// DefaultContentType — MIME-тип, если клиент его не передал
	DefaultContentType = "application/octet-stream"
)

// FileRecord — метаданные загруженного файла.
// JSON-имена полей совпадают с форматом, который ожидает веб-клиент.
type FileRecord struct {
	// ID — уникальный идентификатор файла (UUID v4), первичный ключ
	ID string `json:"id"`

	// StoredName — имя блоба в хранилище: {id}-{очищенное имя}.
	// Никогда не содержит необработанный текст клиента.
	StoredName string `json:"filename"`

	// OriginalName — имя файла в том виде, в каком его передал клиент
	OriginalName string `json:"originalname"`

	// ContentType — MIME-тип, заявленный клиентом
	ContentType string `json:"mimetype"`

	// Size — количество байт, фактически записанных в блоб
	Size int64 `json:"size"`

	// StoragePath — ключ блоба, по которому его находит blob store
	// и статическая выдача /uploads/{storedName}
	StoragePath string `json:"path"`

	// UploadedAt — момент регистрации (UTC), задаётся один раз
	UploadedAt time.Time `json:"uploadDate"`

	// Checksum — SHA-256 содержимого, посчитанный при записи
	Checksum string `json:"checksum,omitempty"`
}

// Usage — агрегированное использование хранилища.
// Никогда не хранится, пересчитывается по списку живых записей.
type Usage struct {
	UsedBytes      int64 `json:"used"`
	QuotaBytes     int64 `json:"quota"`
	AvailableBytes int64 `json:"available"`
	MaxFileSize    int64 `json:"maxFileSize"`
	FileCount      int   `json:"files"`
}

// TotalSize суммирует размеры записей.
func TotalSize(records []*FileRecord) int64 {
	var total int64
	for _, r := range records {
		total += r.Size
	}
	return total
}

// NewUsage считает использование по сумме и лимиту.
// AvailableBytes не уходит в минус, если квота уже превышена гонкой загрузок.
func NewUsage(used, quota, maxFileSize int64, count int) Usage {
	available := quota - used
	if available < 0 {
		available = 0
	}
	return Usage{
		UsedBytes:      used,
		QuotaBytes:     quota,
		AvailableBytes: available,
		MaxFileSize:    maxFileSize,
		FileCount:      count,
	}
}
