package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotPending — сага уже завершена (committed или failed).
var ErrNotPending = errors.New("сага уже завершена")

// WAL — файловый журнал саг.
// Запись: сага создаётся со статусом pending, шаги отмечаются
// по мере выполнения, в конце сага коммитится или помечается failed.
type WAL struct {
	// dir — директория хранения файлов журнала (FS_WAL_DIR)
	dir string
	mu  sync.Mutex
	// now — источник времени (подменяется в тестах)
	now    func() time.Time
	logger *slog.Logger
}

// New создаёт журнал. Создаёт директорию, если она не существует,
// и проверяет её доступность на запись.
func New(dir string, logger *slog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию WAL %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".wal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория WAL %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &WAL{
		dir:    dir,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "wal")),
	}, nil
}

// Begin создаёт сагу со статусом pending на первом шаге.
func (w *WAL) Begin(op OperationType, fileID, storagePath string, step Step) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		Status:        StatusPending,
		FileID:        fileID,
		StoragePath:   storagePath,
		Step:          step,
		StartedAt:     w.now(),
	}

	if err := w.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать WAL-запись: %w", err)
	}

	w.logger.Debug("Сага начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(op)),
		slog.String("file_id", fileID),
	)

	return entry, nil
}

// Advance отмечает переход саги к следующему шагу.
// storagePath обновляется, если не пуст (блоб уже записан).
func (w *WAL) Advance(txID string, step Step, storagePath string) error {
	return w.update(txID, func(e *Entry) {
		e.Step = step
		if storagePath != "" {
			e.StoragePath = storagePath
		}
	})
}

// Commit помечает сагу как успешно завершённую.
func (w *WAL) Commit(txID string) error {
	err := w.update(txID, func(e *Entry) {
		now := w.now()
		e.Status = StatusCommitted
		e.CompletedAt = &now
	})
	if err == nil {
		w.logger.Debug("Сага завершена", slog.String("tx_id", txID))
	}
	return err
}

// Fail помечает сагу как завершённую ошибкой на шаге step.
// Частичный результат (блоб без записи или запись без блоба)
// не откатывается.
func (w *WAL) Fail(txID string, step Step, cause error) error {
	return w.update(txID, func(e *Entry) {
		now := w.now()
		e.Status = StatusFailed
		e.Step = step
		e.CompletedAt = &now
		if cause != nil {
			e.Error = cause.Error()
		}
	})
}

// update читает запись, применяет fn и атомарно перезаписывает.
// Изменять можно только pending сагу.
func (w *WAL) update(txID string, fn func(e *Entry)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, err := w.readEntry(txID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать WAL-запись %s: %w", txID, err)
	}
	if entry.Status != StatusPending {
		return fmt.Errorf("%w: %s имеет статус %s", ErrNotPending, txID, entry.Status)
	}

	fn(entry)

	if err := w.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить WAL-запись %s: %w", txID, err)
	}
	return nil
}

// RecoverPending возвращает саги, оставшиеся в статусе pending.
// Такие саги прерваны аварийным завершением процесса. Вызывается
// при старте: записи только сообщаются, откат не выполняется.
func (w *WAL) RecoverPending() ([]*Entry, error) {
	pending, err := w.listByStatus(StatusPending)
	if err != nil {
		return nil, err
	}
	for _, entry := range pending {
		w.logger.Warn("Обнаружена прерванная сага",
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.String("file_id", entry.FileID),
			slog.String("storage_path", entry.StoragePath),
			slog.String("step", string(entry.Step)),
			slog.Time("started_at", entry.StartedAt),
		)
	}
	return pending, nil
}

// ListFailed возвращает саги, завершённые ошибкой.
func (w *WAL) ListFailed() ([]*Entry, error) {
	return w.listByStatus(StatusFailed)
}

// listByStatus читает все записи журнала с указанным статусом,
// упорядоченные по времени начала.
func (w *WAL) listByStatus(status TransactionStatus) ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(w.dir, "*.wal.json"))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию WAL: %w", err)
	}

	var result []*Entry
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), ".wal.json")
		entry, err := w.readEntry(txID)
		if err != nil {
			w.logger.Warn("Не удалось прочитать WAL-запись",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		if entry.Status == status {
			result = append(result, entry)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

// GetTransaction читает запись журнала по идентификатору саги.
func (w *WAL) GetTransaction(txID string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.readEntry(txID)
}

// CleanCommitted удаляет записи успешно завершённых саг.
// Записи failed остаются до ручного разбора.
func (w *WAL) CleanCommitted() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, err := filepath.Glob(filepath.Join(w.dir, "*.wal.json"))
	if err != nil {
		return 0, fmt.Errorf("не удалось сканировать директорию WAL: %w", err)
	}

	cleaned := 0
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), ".wal.json")
		entry, err := w.readEntry(txID)
		if err != nil || entry.Status != StatusCommitted {
			continue
		}
		if err := os.Remove(path); err != nil {
			w.logger.Warn("Не удалось удалить завершённую WAL-запись",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		w.logger.Info("Очистка WAL завершена", slog.Int("cleaned", cleaned))
	}

	return cleaned, nil
}

// writeEntry атомарно записывает запись на диск.
// Паттерн: temp файл → fsync → atomic rename.
func (w *WAL) writeEntry(entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	targetPath := filepath.Join(w.dir, walFileName(entry.TransactionID))
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// readEntry читает запись журнала из файла.
func (w *WAL) readEntry(txID string) (*Entry, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, walFileName(txID)))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}

	return &entry, nil
}

// Dir возвращает путь к директории журнала.
func (w *WAL) Dir() string {
	return w.dir
}
