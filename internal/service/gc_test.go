package service

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/filestorage/internal/storage/wal"
)

// writeTempFile создаёт временный файл загрузки с указанным возрастом.
func writeTempFile(t *testing.T, env *testEnv, name string, age time.Duration) string {
	t.Helper()

	path := filepath.Join(env.store.DataDir(), ".incoming", name)
	if err := os.WriteFile(path, []byte("partial"), 0o640); err != nil {
		t.Fatalf("Ошибка создания temp файла: %v", err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Ошибка установки mtime: %v", err)
	}
	return path
}

func TestGCRunOnce_NothingToDo(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())

	gc := NewGCService(env.store, env.journal, time.Hour, time.Hour, testLogger())
	result := gc.RunOnce()

	if result.TempFilesDeleted != 0 || result.SagasCleaned != 0 || result.Errors != 0 {
		t.Errorf("Ожидался пустой результат, получили %+v", result)
	}
}

func TestGCRunOnce_RemovesStaleTempFiles(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())

	stale := writeTempFile(t, env, "stale-1.tmp", 2*time.Hour)
	fresh := writeTempFile(t, env, "fresh-1.tmp", time.Minute)

	gc := NewGCService(env.store, env.journal, time.Hour, time.Hour, testLogger())
	result := gc.RunOnce()

	if result.TempFilesDeleted != 1 {
		t.Errorf("TempFilesDeleted: хотели 1, получили %d", result.TempFilesDeleted)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("Устаревший temp файл не удалён")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("Свежий temp файл удалён: %v", err)
	}
}

func TestGCRunOnce_KeepsCommittedBlobs(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	rec := env.upload(t, "keep.txt", "keep")

	gc := NewGCService(env.store, env.journal, time.Hour, 0, testLogger())
	gc.RunOnce()

	if got := env.readBlob(t, rec.StoragePath); got != "keep" {
		t.Errorf("Содержимое блоба = %q после GC", got)
	}
}

func TestGCRunOnce_CleansCommittedSagasOnly(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())

	committed, err := env.journal.Begin(wal.OpUpload, "f-1", "", wal.StepBlobPut)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := env.journal.Commit(committed.TransactionID); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	failed, err := env.journal.Begin(wal.OpDelete, "f-2", "f-2-x.txt", wal.StepBlobDelete)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := env.journal.Fail(failed.TransactionID, wal.StepMetadataDelete, errors.New("boom")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	gc := NewGCService(nil, env.journal, time.Hour, time.Hour, testLogger())
	result := gc.RunOnce()

	if result.SagasCleaned != 1 {
		t.Errorf("SagasCleaned: хотели 1, получили %d", result.SagasCleaned)
	}

	list, err := env.journal.ListFailed()
	if err != nil {
		t.Fatalf("ListFailed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("failed-саг: хотели 1, получили %d", len(list))
	}
}

type failingCleaner struct{}

func (failingCleaner) CleanupTemp(time.Duration) (int, error) {
	return 0, errors.New("permission denied")
}

func TestGCRunOnce_CountsErrors(t *testing.T) {
	gc := NewGCService(failingCleaner{}, nil, time.Hour, time.Hour, testLogger())
	result := gc.RunOnce()

	if result.Errors != 1 {
		t.Errorf("Errors: хотели 1, получили %d", result.Errors)
	}
}

func TestGCRunOnce_ConcurrentSafety(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	writeTempFile(t, env, "stale-2.tmp", 2*time.Hour)

	gc := NewGCService(env.store, env.journal, time.Hour, time.Hour, testLogger())

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := gc.RunOnce()
			mu.Lock()
			total += result.TempFilesDeleted
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 1 {
		t.Errorf("Суммарно удалено %d temp файлов, ожидался 1", total)
	}
}

func TestGCService_StartStop(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	stale := writeTempFile(t, env, "stale-3.tmp", 2*time.Hour)

	gc := NewGCService(env.store, env.journal, time.Hour, time.Hour, testLogger())
	gc.Start(t.Context())

	// Первый запуск выполняется сразу после старта
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(stale); os.IsNotExist(err) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	gc.Stop()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("Фоновый GC не удалил устаревший temp файл")
	}
}
