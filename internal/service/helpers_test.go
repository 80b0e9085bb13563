package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/bigkaa/filestorage/internal/domain/model"
	"github.com/bigkaa/filestorage/internal/storage/blob"
	"github.com/bigkaa/filestorage/internal/storage/index"
	"github.com/bigkaa/filestorage/internal/storage/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testEnv — координатор поверх реальных fs-блобов, in-memory индекса и журнала.
type testEnv struct {
	svc     *FileService
	store   *blob.FileStore
	idx     *faultyIndex
	blobs   *faultyBlobs
	journal *wal.WAL
}

func setupTestEnv(t *testing.T, limits Limits) *testEnv {
	t.Helper()

	store, err := blob.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	journal, err := wal.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания журнала: %v", err)
	}

	idx := &faultyIndex{Index: index.NewMemory()}
	blobs := &faultyBlobs{Store: store}

	return &testEnv{
		svc:     NewFileService(blobs, idx, journal, limits, testLogger()),
		store:   store,
		idx:     idx,
		blobs:   blobs,
		journal: journal,
	}
}

// upload загружает строку как файл и проверяет отсутствие ошибки.
func (e *testEnv) upload(t *testing.T, name, content string) *model.FileRecord {
	t.Helper()

	rec, err := e.svc.Upload(context.Background(), UploadParams{
		Reader:       strings.NewReader(content),
		OriginalName: name,
		ContentType:  "text/plain",
		Size:         int64(len(content)),
	})
	if err != nil {
		t.Fatalf("Upload(%q): %v", name, err)
	}
	return rec
}

// blobCount возвращает количество блобов в хранилище.
func (e *testEnv) blobCount(t *testing.T) int {
	t.Helper()

	infos, err := e.store.List(context.Background())
	if err != nil {
		t.Fatalf("List блобов: %v", err)
	}
	return len(infos)
}

// readBlob читает содержимое блоба целиком.
func (e *testEnv) readBlob(t *testing.T, storagePath string) string {
	t.Helper()

	obj, err := e.svc.OpenBlob(context.Background(), storagePath)
	if err != nil {
		t.Fatalf("OpenBlob(%q): %v", storagePath, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		t.Fatalf("Чтение блоба: %v", err)
	}
	return string(data)
}

// faultyIndex — индекс с подменяемыми ошибками отдельных операций.
type faultyIndex struct {
	index.Index
	insertErr error
	deleteErr error
	totalErr  error
	listErr   error
	// afterTotal вызывается после чтения суммы (синхронизация гонок в тестах)
	afterTotal func()
}

func (f *faultyIndex) Insert(ctx context.Context, rec *model.FileRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.Index.Insert(ctx, rec)
}

func (f *faultyIndex) DeleteByID(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Index.DeleteByID(ctx, id)
}

func (f *faultyIndex) ListAll(ctx context.Context) ([]*model.FileRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Index.ListAll(ctx)
}

func (f *faultyIndex) TotalSize(ctx context.Context) (int64, error) {
	if f.totalErr != nil {
		return 0, f.totalErr
	}
	total, err := f.Index.TotalSize(ctx)
	if f.afterTotal != nil {
		f.afterTotal()
	}
	return total, err
}

// faultyBlobs — хранилище блобов с подменяемыми ошибками.
type faultyBlobs struct {
	blob.Store
	putErr    error
	deleteErr error
	listErr   error
	// afterList вызывается после получения списка блобов
	afterList func()
}

func (f *faultyBlobs) Put(ctx context.Context, id, suggestedName string, r io.Reader) (*blob.PutResult, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	return f.Store.Put(ctx, id, suggestedName, r)
}

func (f *faultyBlobs) Delete(ctx context.Context, storagePath string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Store.Delete(ctx, storagePath)
}

func (f *faultyBlobs) List(ctx context.Context) ([]blob.Info, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	infos, err := f.Store.List(ctx)
	if f.afterList != nil {
		f.afterList()
	}
	return infos, err
}
