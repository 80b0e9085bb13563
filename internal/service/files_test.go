package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/filestorage/internal/storage/index"
	"github.com/bigkaa/filestorage/internal/storage/wal"
)

func TestUpload_ListContainsRecord(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	ctx := context.Background()

	rec := env.upload(t, "report.txt", "hello world")

	if rec.Size != 11 {
		t.Errorf("Size: хотели 11, получили %d", rec.Size)
	}
	if rec.OriginalName != "report.txt" {
		t.Errorf("OriginalName = %q", rec.OriginalName)
	}
	if !strings.HasPrefix(rec.StoredName, rec.ID+"-") {
		t.Errorf("StoredName %q не начинается с id", rec.StoredName)
	}
	if rec.StoragePath != rec.StoredName {
		t.Errorf("StoragePath %q != StoredName %q", rec.StoragePath, rec.StoredName)
	}
	if rec.ContentType != "text/plain" {
		t.Errorf("ContentType = %q", rec.ContentType)
	}

	sum := sha256.Sum256([]byte("hello world"))
	if rec.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("Checksum = %q", rec.Checksum)
	}

	list, err := env.svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list.Files) != 1 {
		t.Fatalf("Файлов в списке: хотели 1, получили %d", len(list.Files))
	}
	if list.Files[0].ID != rec.ID || list.Files[0].Size != 11 {
		t.Errorf("Запись в списке не совпадает: %+v", list.Files[0])
	}
	if list.UsedBytes != 11 {
		t.Errorf("UsedBytes: хотели 11, получили %d", list.UsedBytes)
	}

	if got := env.readBlob(t, rec.StoragePath); got != "hello world" {
		t.Errorf("Содержимое блоба = %q", got)
	}
}

func TestUpload_NoFile(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())

	tests := []struct {
		name   string
		params UploadParams
	}{
		{"нет потока", UploadParams{OriginalName: "a.txt"}},
		{"пустое имя", UploadParams{Reader: strings.NewReader("x"), Size: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Upload(context.Background(), tt.params)
			if !errors.Is(err, ErrNoFileProvided) {
				t.Errorf("Ожидалась ErrNoFileProvided, получили %v", err)
			}
		})
	}

	if n := env.blobCount(t); n != 0 {
		t.Errorf("Блобов: хотели 0, получили %d", n)
	}
}

func TestUpload_DeclaredSizeTooLarge(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	ctx := context.Background()

	// Заявлено 3 GiB при лимите 2 GiB: отказ до записи блоба
	_, err := env.svc.Upload(ctx, UploadParams{
		Reader:       strings.NewReader("small body"),
		OriginalName: "huge.iso",
		Size:         3 << 30,
	})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("Ожидалась ErrFileTooLarge, получили %v", err)
	}

	list, err := env.svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list.Files) != 0 {
		t.Errorf("Записей: хотели 0, получили %d", len(list.Files))
	}
	if n := env.blobCount(t); n != 0 {
		t.Errorf("Блобов: хотели 0, получили %d", n)
	}
}

func TestUpload_StreamLargerThanDeclared(t *testing.T) {
	env := setupTestEnv(t, Limits{MaxFileSize: 10, QuotaBytes: 1000})
	ctx := context.Background()

	// Заявлено 5 байт, фактически 20
	_, err := env.svc.Upload(ctx, UploadParams{
		Reader:       strings.NewReader(strings.Repeat("x", 20)),
		OriginalName: "liar.bin",
		Size:         5,
	})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("Ожидалась ErrFileTooLarge, получили %v", err)
	}

	if n := env.blobCount(t); n != 0 {
		t.Errorf("Блобов: хотели 0, получили %d", n)
	}
	list, _ := env.svc.List(ctx)
	if len(list.Files) != 0 {
		t.Errorf("Записей: хотели 0, получили %d", len(list.Files))
	}
}

func TestUpload_ExactlyMaxFileSize(t *testing.T) {
	env := setupTestEnv(t, Limits{MaxFileSize: 10, QuotaBytes: 1000})

	rec := env.upload(t, "exact.bin", strings.Repeat("x", 10))
	if rec.Size != 10 {
		t.Errorf("Size: хотели 10, получили %d", rec.Size)
	}
}

func TestUpload_Quota(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"ровно до квоты", 40, false},
		{"на байт больше квоты", 41, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t, Limits{MaxFileSize: 100, QuotaBytes: 100})
			env.upload(t, "first.bin", strings.Repeat("a", 60))

			_, err := env.svc.Upload(context.Background(), UploadParams{
				Reader:       strings.NewReader(strings.Repeat("b", tt.size)),
				OriginalName: "second.bin",
				Size:         int64(tt.size),
			})

			if tt.wantErr {
				if !errors.Is(err, ErrQuotaExceeded) {
					t.Fatalf("Ожидалась ErrQuotaExceeded, получили %v", err)
				}
				if n := env.blobCount(t); n != 1 {
					t.Errorf("Блобов: хотели 1, получили %d", n)
				}
				return
			}
			if err != nil {
				t.Fatalf("Неожиданная ошибка: %v", err)
			}
		})
	}
}

func TestUpload_ValidationOrder(t *testing.T) {
	env := setupTestEnv(t, Limits{MaxFileSize: 10, QuotaBytes: 5})
	env.idx.totalErr = errors.New("индекс недоступен")

	// Размер проверяется раньше квоты и раньше обращения к индексу
	_, err := env.svc.Upload(context.Background(), UploadParams{
		Reader:       strings.NewReader("x"),
		OriginalName: "a.bin",
		Size:         11,
	})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("Ожидалась ErrFileTooLarge, получили %v", err)
	}
}

func TestUpload_UsageQueryFailure(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	env.idx.totalErr = errors.New("индекс недоступен")

	_, err := env.svc.Upload(context.Background(), UploadParams{
		Reader:       strings.NewReader("data"),
		OriginalName: "a.txt",
		Size:         4,
	})
	if !errors.Is(err, ErrMetadataRead) {
		t.Fatalf("Ожидалась ErrMetadataRead, получили %v", err)
	}
	if n := env.blobCount(t); n != 0 {
		t.Errorf("Блобов: хотели 0, получили %d", n)
	}
}

// Проверка квоты не защищена блокировкой: две загрузки, прочитавшие
// занятый объём до записи друг друга, вместе превышают квоту.
func TestUpload_ConcurrentQuotaRace(t *testing.T) {
	env := setupTestEnv(t, Limits{MaxFileSize: 100, QuotaBytes: 100})

	var barrier sync.WaitGroup
	barrier.Add(2)
	env.idx.afterTotal = func() {
		barrier.Done()
		barrier.Wait()
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Upload(context.Background(), UploadParams{
				Reader:       strings.NewReader(strings.Repeat("r", 60)),
				OriginalName: "race.bin",
				Size:         60,
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Загрузка %d: %v", i, err)
		}
	}

	usage, err := env.svc.Usage(context.Background())
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage.UsedBytes != 120 {
		t.Errorf("UsedBytes: хотели 120, получили %d", usage.UsedBytes)
	}
	if usage.AvailableBytes != 0 {
		t.Errorf("AvailableBytes: хотели 0, получили %d", usage.AvailableBytes)
	}
}

func TestUpload_StorageWriteFailure(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	env.blobs.putErr = errors.New("нет места на устройстве")

	_, err := env.svc.Upload(context.Background(), UploadParams{
		Reader:       strings.NewReader("data"),
		OriginalName: "a.txt",
		Size:         4,
	})
	if !errors.Is(err, ErrStorageWrite) {
		t.Fatalf("Ожидалась ErrStorageWrite, получили %v", err)
	}

	list, _ := env.svc.List(context.Background())
	if len(list.Files) != 0 {
		t.Errorf("Записей: хотели 0, получили %d", len(list.Files))
	}

	failed, err := env.journal.ListFailed()
	if err != nil {
		t.Fatalf("ListFailed: %v", err)
	}
	if len(failed) != 1 || failed[0].Step != wal.StepBlobPut {
		t.Errorf("Ожидалась одна failed-сага на шаге blob_put, получили %+v", failed)
	}
}

func TestUpload_MetadataWriteFailureLeavesOrphanBlob(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	env.idx.insertErr = errors.New("database is locked")

	_, err := env.svc.Upload(context.Background(), UploadParams{
		Reader:       strings.NewReader("orphan"),
		OriginalName: "orphan.txt",
		Size:         6,
	})
	if !errors.Is(err, ErrMetadataWrite) {
		t.Fatalf("Ожидалась ErrMetadataWrite, получили %v", err)
	}

	// Блоб не откатывается
	if n := env.blobCount(t); n != 1 {
		t.Fatalf("Блобов: хотели 1 (осиротевший), получили %d", n)
	}

	failed, err := env.journal.ListFailed()
	if err != nil {
		t.Fatalf("ListFailed: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("failed-саг: хотели 1, получили %d", len(failed))
	}
	if failed[0].Step != wal.StepMetadataInsert {
		t.Errorf("Step = %s, ожидался metadata_insert", failed[0].Step)
	}
	if failed[0].StoragePath == "" {
		t.Error("StoragePath осиротевшего блоба не записан в журнал")
	}

	rs := NewReconcileService(env.store, env.idx, env.journal, time.Hour, testLogger())
	report, _ := rs.RunOnce(context.Background())
	if report.Summary.OrphanBlobs != 1 {
		t.Errorf("OrphanBlobs: хотели 1, получили %d", report.Summary.OrphanBlobs)
	}
	if report.Summary.FailedSagas != 1 {
		t.Errorf("FailedSagas: хотели 1, получили %d", report.Summary.FailedSagas)
	}
}

func TestUpload_JournalCommitted(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	env.upload(t, "a.txt", "a")

	pending, err := env.journal.RecoverPending()
	if err != nil {
		t.Fatalf("RecoverPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending-саг: хотели 0, получили %d", len(pending))
	}

	cleaned, err := env.journal.CleanCommitted()
	if err != nil {
		t.Fatalf("CleanCommitted: %v", err)
	}
	if cleaned != 1 {
		t.Errorf("committed-саг: хотели 1, получили %d", cleaned)
	}
}

func TestUpload_WithoutJournal(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	svc := NewFileService(env.store, index.NewMemory(), nil, DefaultLimits(), testLogger())

	rec, err := svc.Upload(context.Background(), UploadParams{
		Reader:       strings.NewReader("data"),
		OriginalName: "a.txt",
		Size:         4,
	})
	if err != nil {
		t.Fatalf("Upload без журнала: %v", err)
	}
	if _, err := svc.Delete(context.Background(), rec.ID); err != nil {
		t.Fatalf("Delete без журнала: %v", err)
	}
}

func TestList_Empty(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())

	list, err := env.svc.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list.Files == nil {
		t.Error("Files = nil, ожидался пустой срез")
	}
	if len(list.Files) != 0 || list.UsedBytes != 0 {
		t.Errorf("Ожидался пустой список, получили %d файлов, %d байт", len(list.Files), list.UsedBytes)
	}
}

// Сценарий A: две загрузки, список от новых к старым.
// Сценарий B: удаление первой, в списке остаётся вторая.
func TestScenario_UploadListDelete(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	ctx := context.Background()

	a := env.upload(t, "a.txt", "aaaa")
	b := env.upload(t, "b.txt", "bbbbbbbb")

	if !b.UploadedAt.After(a.UploadedAt) {
		t.Errorf("UploadedAt второй загрузки не позже первой: %v <= %v", b.UploadedAt, a.UploadedAt)
	}

	list, err := env.svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list.Files) != 2 {
		t.Fatalf("Файлов: хотели 2, получили %d", len(list.Files))
	}
	if list.Files[0].ID != b.ID || list.Files[1].ID != a.ID {
		t.Errorf("Неверный порядок: %s, %s", list.Files[0].OriginalName, list.Files[1].OriginalName)
	}
	if list.UsedBytes != 12 {
		t.Errorf("UsedBytes: хотели 12, получили %d", list.UsedBytes)
	}

	deleted, err := env.svc.Delete(ctx, a.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted.ID != a.ID {
		t.Errorf("Удалена запись %s, ожидалась %s", deleted.ID, a.ID)
	}

	list, _ = env.svc.List(ctx)
	if len(list.Files) != 1 || list.Files[0].ID != b.ID {
		t.Fatalf("После удаления ожидался только b.txt, получили %d файлов", len(list.Files))
	}
	if list.UsedBytes != 8 {
		t.Errorf("UsedBytes: хотели 8, получили %d", list.UsedBytes)
	}
}

func TestDelete_RemovesBlobAndRecord(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	ctx := context.Background()

	rec := env.upload(t, "doc.pdf", "pdf-bytes")

	if _, err := env.svc.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := env.svc.Get(ctx, rec.ID); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Get после удаления: ожидалась ErrFileNotFound, получили %v", err)
	}
	if _, err := env.svc.OpenBlob(ctx, rec.StoragePath); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("OpenBlob после удаления: ожидалась ErrFileNotFound, получили %v", err)
	}

	// Повторное удаление
	if _, err := env.svc.Delete(ctx, rec.ID); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Повторный Delete: ожидалась ErrFileNotFound, получили %v", err)
	}
}

func TestDelete_UnknownIDMutatesNothing(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	ctx := context.Background()

	env.upload(t, "keep.txt", "keep")

	if _, err := env.svc.Delete(ctx, "00000000-0000-4000-8000-000000000000"); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("Ожидалась ErrFileNotFound, получили %v", err)
	}

	list, _ := env.svc.List(ctx)
	if len(list.Files) != 1 {
		t.Errorf("Файлов: хотели 1, получили %d", len(list.Files))
	}
	if n := env.blobCount(t); n != 1 {
		t.Errorf("Блобов: хотели 1, получили %d", n)
	}
}

func TestDelete_BlobAlreadyMissing(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	ctx := context.Background()

	rec := env.upload(t, "gone.txt", "gone")
	if err := env.store.Delete(ctx, rec.StoragePath); err != nil {
		t.Fatalf("Удаление блоба напрямую: %v", err)
	}

	if _, err := env.svc.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete при отсутствующем блобе: %v", err)
	}
	if _, err := env.svc.Get(ctx, rec.ID); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Запись не удалена: %v", err)
	}
}

func TestDelete_BlobIOErrorProceeds(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	ctx := context.Background()

	rec := env.upload(t, "stuck.txt", "stuck")
	env.blobs.deleteErr = errors.New("input/output error")

	if _, err := env.svc.Delete(ctx, rec.ID); err != nil {
		t.Fatalf("Delete должен продолжиться при ошибке блоба: %v", err)
	}
	if _, err := env.svc.Get(ctx, rec.ID); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Запись не удалена: %v", err)
	}
	// Блоб остался и виден сверке как осиротевший
	if n := env.blobCount(t); n != 1 {
		t.Errorf("Блобов: хотели 1, получили %d", n)
	}
}

func TestDelete_MetadataFailureLeavesDanglingRecord(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	ctx := context.Background()

	rec := env.upload(t, "dangling.txt", "dangling")
	env.idx.deleteErr = errors.New("disk I/O error")

	if _, err := env.svc.Delete(ctx, rec.ID); !errors.Is(err, ErrMetadataDelete) {
		t.Fatalf("Ожидалась ErrMetadataDelete, получили %v", err)
	}

	// Запись осталась, блоба нет
	if _, err := env.svc.Get(ctx, rec.ID); err != nil {
		t.Errorf("Запись должна остаться: %v", err)
	}
	if n := env.blobCount(t); n != 0 {
		t.Errorf("Блобов: хотели 0, получили %d", n)
	}

	failed, _ := env.journal.ListFailed()
	if len(failed) != 1 || failed[0].Step != wal.StepMetadataDelete {
		t.Errorf("Ожидалась failed-сага на шаге metadata_delete, получили %+v", failed)
	}

	rs := NewReconcileService(env.store, env.idx, env.journal, time.Hour, testLogger())
	report, _ := rs.RunOnce(ctx)
	if report.Summary.DanglingRecords != 1 {
		t.Errorf("DanglingRecords: хотели 1, получили %d", report.Summary.DanglingRecords)
	}
}

func TestDelete_ConcurrentDeleteReportsNotFound(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())

	rec := env.upload(t, "twice.txt", "twice")
	env.idx.deleteErr = index.ErrNotFound

	if _, err := env.svc.Delete(context.Background(), rec.ID); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Ожидалась ErrFileNotFound, получили %v", err)
	}
}

func TestOpen(t *testing.T) {
	env := setupTestEnv(t, DefaultLimits())
	ctx := context.Background()

	rec := env.upload(t, "open.txt", "content")

	got, obj, err := env.svc.Open(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer obj.Close()

	if got.ID != rec.ID {
		t.Errorf("ID = %s, ожидался %s", got.ID, rec.ID)
	}
	if obj.Info.Size != 7 {
		t.Errorf("Info.Size: хотели 7, получили %d", obj.Info.Size)
	}

	if _, _, err := env.svc.Open(ctx, "missing"); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Open несуществующего: ожидалась ErrFileNotFound, получили %v", err)
	}
}

func TestUsage(t *testing.T) {
	env := setupTestEnv(t, Limits{MaxFileSize: 50, QuotaBytes: 100})

	env.upload(t, "a.bin", strings.Repeat("a", 30))
	env.upload(t, "b.bin", strings.Repeat("b", 20))

	usage, err := env.svc.Usage(context.Background())
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage.UsedBytes != 50 || usage.AvailableBytes != 50 || usage.QuotaBytes != 100 {
		t.Errorf("Usage = %+v", usage)
	}
	if usage.FileCount != 2 || usage.MaxFileSize != 50 {
		t.Errorf("Usage = %+v", usage)
	}
}

func TestNormalizeContentType(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", "application/octet-stream"},
		{"  ", "application/octet-stream"},
		{"image/png", "image/png"},
		{"text/plain; charset=utf-8", "text/plain"},
		{"Text/HTML", "text/html"},
		{"broken;;", "broken"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := normalizeContentType(tt.input); got != tt.want {
				t.Errorf("normalizeContentType(%q) = %q, ожидалось %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMonotonicClock(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)
	clock := newMonotonicClock(func() time.Time { return fixed })

	first := clock.Now()
	second := clock.Now()
	third := clock.Now()

	if first.Nanosecond()%1000 != 0 {
		t.Errorf("Время не усечено до микросекунд: %v", first)
	}
	if !second.After(first) || !third.After(second) {
		t.Errorf("Время не возрастает: %v, %v, %v", first, second, third)
	}
	if third.Sub(first) != 2*time.Microsecond {
		t.Errorf("Шаг: хотели 2µs, получили %v", third.Sub(first))
	}
}
