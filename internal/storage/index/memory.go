package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/bigkaa/filestorage/internal/domain/model"
)

// Memory — потокобезопасный in-memory индекс.
// Использует sync.RWMutex для конкурентного чтения и
// эксклюзивной записи. Не персистентный.
type Memory struct {
	mu    sync.RWMutex
	files map[string]memoryEntry // id → запись
	seq   int64
}

type memoryEntry struct {
	rec model.FileRecord
	seq int64
}

// NewMemory создаёт пустой индекс.
func NewMemory() *Memory {
	return &Memory{files: make(map[string]memoryEntry)}
}

// Name возвращает имя backend-а.
func (m *Memory) Name() string {
	return "memory"
}

// Insert добавляет копию записи в индекс.
func (m *Memory) Insert(_ context.Context, rec *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}

	// Копия, чтобы избежать data race при внешних изменениях
	m.seq++
	m.files[rec.ID] = memoryEntry{rec: *rec, seq: m.seq}
	return nil
}

// GetByID возвращает копию записи.
func (m *Memory) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := e.rec
	return &copied, nil
}

// ListAll возвращает копии всех записей, новые первыми.
func (m *Memory) ListAll(_ context.Context) ([]*model.FileRecord, error) {
	m.mu.RLock()
	records := make([]*model.FileRecord, 0, len(m.files))
	seqs := make([]int64, 0, len(m.files))
	for _, e := range m.files {
		copied := e.rec
		records = append(records, &copied)
		seqs = append(seqs, e.seq)
	}
	m.mu.RUnlock()

	sortNewestFirst(records, func(i int) int64 { return seqs[i] })
	return records, nil
}

// DeleteByID удаляет запись из индекса.
func (m *Memory) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[id]; !ok {
		return ErrNotFound
	}
	delete(m.files, id)
	return nil
}

// TotalSize суммирует размеры всех записей.
func (m *Memory) TotalSize(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, e := range m.files {
		total += e.rec.Size
	}
	return total, nil
}

// Ping всегда успешен.
func (m *Memory) Ping(_ context.Context) error {
	return nil
}

// Close ничего не делает.
func (m *Memory) Close() error {
	return nil
}
