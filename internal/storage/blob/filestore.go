package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// tempDirName — скрытая директория незавершённых записей внутри dataDir.
	// Не видна через List и /uploads, так как начинается с точки.
	tempDirName = ".incoming"
	// tempSuffix — суффикс временных файлов
	tempSuffix = ".tmp"
)

// FileStore — хранилище блобов на локальной файловой системе.
type FileStore struct {
	// dataDir — корневая директория блобов (FS_DATA_DIR)
	dataDir string
	// tempDir — директория временных файлов на том же разделе
	tempDir string
}

// NewFileStore создаёт FileStore. Создаёт директорию данных и
// директорию временных файлов, если они не существуют.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	tempDir := filepath.Join(dataDir, tempDirName)
	if err := os.MkdirAll(tempDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию временных файлов %s: %w", tempDir, err)
	}

	return &FileStore{dataDir: dataDir, tempDir: tempDir}, nil
}

// Name возвращает имя backend-а.
func (fs *FileStore) Name() string {
	return "fs"
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// Put записывает данные из reader с подсчётом SHA-256 на лету.
//
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// При любой ошибке temp файл удаляется, блоб не появляется.
func (fs *FileStore) Put(ctx context.Context, id, suggestedName string, r io.Reader) (*PutResult, error) {
	storagePath := StoredName(id, suggestedName)
	fullPath := filepath.Join(fs.dataDir, storagePath)

	if _, err := os.Lstat(fullPath); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, storagePath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("ошибка проверки файла %s: %w", storagePath, err)
	}

	f, err := os.CreateTemp(fs.tempDir, id+"-*"+tempSuffix)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	tee := io.TeeReader(r, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	// Клиент ушёл до конца записи — блоб не публикуем
	if err := ctx.Err(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("запись прервана: %w", err)
	}

	// Атомарный rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return &PutResult{
		StoragePath: storagePath,
		Size:        size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Get открывает блоб для чтения.
func (fs *FileStore) Get(_ context.Context, storagePath string) (*Object, error) {
	if !ValidName(storagePath) {
		return nil, notFound(storagePath)
	}
	fullPath := filepath.Join(fs.dataDir, storagePath)

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(storagePath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", storagePath, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, notFound(storagePath)
	}

	return &Object{
		ReadSeekCloser: f,
		Info: Info{
			StoragePath: storagePath,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
		},
	}, nil
}

// Stat возвращает размер и время модификации блоба.
func (fs *FileStore) Stat(_ context.Context, storagePath string) (*Info, error) {
	if !ValidName(storagePath) {
		return nil, notFound(storagePath)
	}
	info, err := os.Stat(filepath.Join(fs.dataDir, storagePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(storagePath)
		}
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", storagePath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, notFound(storagePath)
	}
	return &Info{StoragePath: storagePath, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Delete удаляет блоб с диска.
// Отсутствие файла возвращается как ErrNotFound.
func (fs *FileStore) Delete(_ context.Context, storagePath string) error {
	if !ValidName(storagePath) {
		return notFound(storagePath)
	}
	fullPath := filepath.Join(fs.dataDir, storagePath)

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return notFound(storagePath)
		}
		return fmt.Errorf("ошибка удаления файла %s: %w", storagePath, err)
	}
	return nil
}

// List перечисляет завершённые блобы. Скрытые файлы и директории
// (в том числе директория временных файлов) пропускаются.
func (fs *FileStore) List(_ context.Context) ([]Info, error) {
	entries, err := os.ReadDir(fs.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", fs.dataDir, err)
	}

	result := make([]Info, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Файл удалён между ReadDir и Info
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		result = append(result, Info{StoragePath: name, Size: info.Size(), ModTime: info.ModTime()})
	}
	return result, nil
}

// CleanupTemp удаляет временные файлы старше maxAge, оставшиеся
// после аварийного завершения записи. Возвращает число удалённых файлов.
func (fs *FileStore) CleanupTemp(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(fs.tempDir)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения директории %s: %w", fs.tempDir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), tempSuffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(fs.tempDir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("ошибка удаления временного файла %s: %w", entry.Name(), err)
		}
		removed++
	}
	return removed, nil
}
