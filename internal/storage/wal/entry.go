// Пакет wal — файловый журнал саг загрузки и удаления.
// Каждая сага — отдельный файл {tx_id}.wal.json в FS_WAL_DIR.
//
// Журнал не откатывает операции: он фиксирует, на каком шаге сага
// остановилась, чтобы осиротевшие блобы и висячие записи были видны
// оператору и сверке.
package wal

import (
	"time"
)

// OperationType — тип саги.
type OperationType string

const (
	// OpUpload — запись блоба и регистрация метаданных
	OpUpload OperationType = "upload"
	// OpDelete — удаление блоба и записи метаданных
	OpDelete OperationType = "delete"
)

// Step — шаг саги.
type Step string

const (
	StepBlobPut        Step = "blob_put"
	StepMetadataInsert Step = "metadata_insert"
	StepBlobDelete     Step = "blob_delete"
	StepMetadataDelete Step = "metadata_delete"
)

// TransactionStatus — статус саги.
type TransactionStatus string

const (
	// StatusPending — сага начата, шаги выполняются
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — все шаги выполнены
	StatusCommitted TransactionStatus = "committed"
	// StatusFailed — шаг завершился ошибкой, частичный результат оставлен
	StatusFailed TransactionStatus = "failed"
)

// Entry — запись журнала. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	TransactionID string            `json:"transaction_id"`
	Operation     OperationType     `json:"operation"`
	Status        TransactionStatus `json:"status"`

	// FileID — идентификатор файла саги
	FileID string `json:"file_id"`

	// StoragePath — ключ блоба; пуст, пока блоб не записан
	StoragePath string `json:"storage_path,omitempty"`

	// Step — текущий (для failed — упавший) шаг
	Step Step `json:"step"`

	// Error — текст ошибки упавшего шага
	Error string `json:"error,omitempty"`

	StartedAt time.Time `json:"started_at"`

	// CompletedAt — nil для pending
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// walFileName возвращает имя файла журнала для данной саги.
func walFileName(txID string) string {
	return txID + ".wal.json"
}
