// Пакет blob — хранилище содержимого файлов (write-once).
// Блоб адресуется сгенерированным именем {id}-{очищенное имя}
// и становится видимым только после полной записи.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gosimple/slug"
)

var (
	// ErrNotFound — блоб с таким именем отсутствует
	ErrNotFound = errors.New("блоб не найден")
	// ErrExists — блоб с таким именем уже записан
	ErrExists = errors.New("блоб уже существует")
	// ErrTooLarge — поток превысил допустимый размер
	ErrTooLarge = errors.New("превышен допустимый размер блоба")
)

const (
	// maxBaseLen — ограничение длины очищенного имени без расширения
	maxBaseLen = 100
	// maxExtLen — ограничение длины расширения (без точки)
	maxExtLen = 16
	// maxNameLen — ограничение длины имени блоба
	maxNameLen = 200
)

// Info — сведения о записанном блобе.
type Info struct {
	// StoragePath — ключ блоба в хранилище
	StoragePath string
	// Size — размер содержимого в байтах
	Size int64
	// ModTime — время последней модификации
	ModTime time.Time
}

// PutResult — результат записи блоба.
type PutResult struct {
	// StoragePath — ключ, по которому блоб доступен
	StoragePath string
	// Size — количество записанных байт
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}

// Object — открытый на чтение блоб.
// Вызывающий код обязан закрыть Object.
type Object struct {
	io.ReadSeekCloser
	Info Info
}

// Store — контракт хранилища блобов.
type Store interface {
	// Put записывает поток под именем, полученным из id и suggestedName.
	// Возвращает ErrExists, если такое имя уже занято.
	Put(ctx context.Context, id, suggestedName string, r io.Reader) (*PutResult, error)
	// Get открывает блоб на чтение. ErrNotFound при отсутствии.
	Get(ctx context.Context, storagePath string) (*Object, error)
	// Stat возвращает сведения о блобе. ErrNotFound при отсутствии.
	Stat(ctx context.Context, storagePath string) (*Info, error)
	// Delete удаляет блоб. ErrNotFound при отсутствии.
	Delete(ctx context.Context, storagePath string) error
	// List перечисляет все завершённые блобы.
	List(ctx context.Context) ([]Info, error)
	// Name — имя backend-а для логов и /api/info
	Name() string
}

// StoredName формирует имя блоба: {id}-{очищенное имя}.
// Путь клиента отбрасывается, имя транслитерируется и приводится
// к [a-z0-9-], расширение сохраняется в нижнем регистре.
// Пример: "C:\fakepath\Photo 1.JPG" → "{id}-photo-1.jpg".
func StoredName(id, suggestedName string) string {
	base := suggestedName
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}

	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	ext = sanitizeExt(ext)

	name = slug.Make(name)
	if len(name) > maxBaseLen {
		name = strings.Trim(name[:maxBaseLen], "-")
	}
	if name == "" {
		name = "file"
	}

	return id + "-" + name + ext
}

// sanitizeExt оставляет в расширении только латиницу и цифры.
func sanitizeExt(ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	var b strings.Builder
	for _, r := range strings.ToLower(ext) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 || b.Len() > maxExtLen {
		return ""
	}
	return "." + b.String()
}

// ValidName проверяет, что storagePath — допустимое имя блоба:
// одно звено пути, не скрытое, без разделителей.
// Защищает от обхода каталогов при выдаче /uploads/{name}.
func ValidName(storagePath string) bool {
	if storagePath == "" || len(storagePath) > maxNameLen {
		return false
	}
	if !utf8.ValidString(storagePath) {
		return false
	}
	if strings.HasPrefix(storagePath, ".") {
		return false
	}
	return !strings.ContainsAny(storagePath, "/\\\x00")
}

// LimitReader возвращает reader, который отдаёт не более max байт
// и возвращает ErrTooLarge при попытке прочитать больше.
func LimitReader(r io.Reader, max int64) io.Reader {
	return &limitedReader{r: r, remaining: max}
}

type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrTooLarge
	}
	// Читаем на один байт больше лимита, чтобы отличить
	// поток ровно в max байт от превышения
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n + int(l.remaining), ErrTooLarge
	}
	return n, err
}

// notFound оборачивает ErrNotFound с именем блоба.
func notFound(storagePath string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, storagePath)
}
