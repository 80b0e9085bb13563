// files.go — HTTP handlers для файловых операций.
// Upload, List, Get metadata, Download, Delete, статическая выдача /uploads.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/filestorage/internal/api/errors"
	"github.com/bigkaa/filestorage/internal/domain/model"
	"github.com/bigkaa/filestorage/internal/service"
)

// multipartOverhead — запас к лимиту файла на заголовки и границы multipart.
const multipartOverhead = 1 << 20

// deleteResponse — ответ на успешное удаление.
type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	files           *service.FileService
	multipartMemory int64
	logger          *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
// multipartMemory — объём multipart, разбираемый в памяти (остальное во временных файлах).
func NewFilesHandler(files *service.FileService, multipartMemory int64, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		files:           files,
		multipartMemory: multipartMemory,
		logger:          logger.With(slog.String("component", "files_handler")),
	}
}

// UploadFile обрабатывает POST /api/upload.
// Multipart form: file (обязательно).
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	maxFileSize := h.files.Limits().MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxFileSize+multipartOverhead)

	if err := r.ParseMultipartForm(h.multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case stderrors.As(err, &maxErr):
			errors.FileTooLarge(w, fmt.Sprintf("Размер запроса превышает максимум %d байт", maxFileSize))
		case stderrors.Is(err, http.ErrNotMultipart):
			errors.NoFile(w, "Файл не передан: ожидается multipart/form-data")
		default:
			errors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		}
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn("Не удалось удалить временные файлы multipart",
				slog.String("error", err.Error()),
			)
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		errors.NoFile(w, "Поле 'file' обязательно")
		return
	}
	defer file.Close()

	rec, err := h.files.Upload(r.Context(), service.UploadParams{
		Reader:       file,
		OriginalName: header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Size:         header.Size,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// ListFiles обрабатывает GET /api/files.
// Возвращает массив записей от новых к старым; занятый объём и квота
// дублируются в заголовках X-Storage-Used и X-Storage-Quota.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	list, err := h.files.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.Header().Set("X-Storage-Used", strconv.FormatInt(list.UsedBytes, 10))
	w.Header().Set("X-Storage-Quota", strconv.FormatInt(h.files.Limits().QuotaBytes, 10))
	writeJSON(w, http.StatusOK, list.Files)
}

// GetFileMetadata обрабатывает GET /api/files/{id}.
func (h *FilesHandler) GetFileMetadata(w http.ResponseWriter, r *http.Request) {
	rec, err := h.files.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DownloadFile обрабатывает GET /api/files/{id}/download.
// Отдаёт содержимое с оригинальным именем в Content-Disposition.
// Поддерживает Range и If-Modified-Since через http.ServeContent.
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	rec, obj, err := h.files.Open(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	defer obj.Close()

	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": rec.OriginalName}))
	if rec.Checksum != "" {
		w.Header().Set("ETag", strconv.Quote(rec.Checksum))
	}

	http.ServeContent(w, r, rec.StoredName, obj.Info.ModTime, obj)
}

// ServeUpload обрабатывает GET /uploads/{storedName}.
// Статическая выдача блоба по сгенерированному имени; всё, кроме
// медиа, отдаётся как вложение.
func (h *FilesHandler) ServeUpload(w http.ResponseWriter, r *http.Request) {
	storedName := chi.URLParam(r, "storedName")

	obj, err := h.files.OpenBlob(r.Context(), storedName)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	defer obj.Close()

	contentType, inline := staticContentType(storedName)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if !inline {
		w.Header().Set("Content-Disposition", "attachment")
	}

	http.ServeContent(w, r, storedName, obj.Info.ModTime, obj)
}

// staticContentType определяет MIME-тип блоба по расширению имени и то,
// можно ли отдавать его inline. Inline отдаются только изображения,
// аудио и видео, кроме SVG: HTML и SVG из пользовательских загрузок
// не должны исполняться в origin API.
func staticContentType(storedName string) (string, bool) {
	contentType := mime.TypeByExtension(filepath.Ext(storedName))
	if contentType == "" {
		return model.DefaultContentType, false
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return model.DefaultContentType, false
	}
	if mediaType == "image/svg+xml" {
		return contentType, false
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"),
		strings.HasPrefix(mediaType, "audio/"),
		strings.HasPrefix(mediaType, "video/"):
		return contentType, true
	}
	return contentType, false
}

// DeleteFile обрабатывает DELETE /api/files/{id}.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	if _, err := h.files.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteResponse{
		Success: true,
		Message: "Файл успешно удалён",
	})
}

// GetUsage обрабатывает GET /api/usage.
func (h *FilesHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.files.Usage(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// writeServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
// Детали внутренних ошибок уходят только в лог.
func (h *FilesHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, service.ErrNoFileProvided):
		errors.NoFile(w, "Файл не передан")
	case stderrors.Is(err, service.ErrFileTooLarge):
		errors.FileTooLarge(w, err.Error())
	case stderrors.Is(err, service.ErrQuotaExceeded):
		errors.QuotaExceeded(w, err.Error())
	case stderrors.Is(err, service.ErrFileNotFound):
		errors.NotFound(w, "Файл не найден")
	case stderrors.Is(err, service.ErrStorageWrite):
		errors.InternalError(w, "Ошибка сохранения файла")
	case stderrors.Is(err, service.ErrStorageRead):
		errors.InternalError(w, "Ошибка чтения файла")
	case stderrors.Is(err, service.ErrMetadataWrite):
		errors.InternalError(w, "Ошибка сохранения метаданных файла")
	case stderrors.Is(err, service.ErrMetadataDelete):
		errors.InternalError(w, "Ошибка удаления файла")
	case stderrors.Is(err, service.ErrMetadataRead):
		errors.InternalError(w, "Ошибка чтения метаданных")
	default:
		h.logger.Error("Необработанная ошибка", slog.String("error", err.Error()))
		errors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// writeJSON вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
