// system.go — обработчик GET /api/info (информация о файловом хранилище).
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bigkaa/filestorage/internal/config"
	"github.com/bigkaa/filestorage/internal/domain/model"
	"github.com/bigkaa/filestorage/internal/service"
)

// DiskUsageFunc возвращает ёмкость раздела с данными: total, used, available.
type DiskUsageFunc func() (total, used, available int64, err error)

// DiskInfo — ёмкость раздела с директорией данных.
type DiskInfo struct {
	TotalBytes     int64 `json:"total_bytes"`
	UsedBytes      int64 `json:"used_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

// StorageInfo — ответ GET /api/info.
type StorageInfo struct {
	ServiceID       string      `json:"service_id"`
	Version         string      `json:"version"`
	Status          string      `json:"status"`
	BlobBackend     string      `json:"blob_backend"`
	MetadataBackend string      `json:"metadata_backend"`
	Usage           model.Usage `json:"usage"`
	// Disk — только для файлового хранилища блобов
	Disk *DiskInfo `json:"disk,omitempty"`
}

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	serviceID       string
	blobBackend     string
	metadataBackend string
	files           *service.FileService
	diskUsage       DiskUsageFunc // может быть nil
	logger          *slog.Logger
}

// NewSystemHandler создаёт обработчик системных endpoints.
func NewSystemHandler(
	serviceID string,
	blobBackend string,
	metadataBackend string,
	files *service.FileService,
	diskUsage DiskUsageFunc,
	logger *slog.Logger,
) *SystemHandler {
	return &SystemHandler{
		serviceID:       serviceID,
		blobBackend:     blobBackend,
		metadataBackend: metadataBackend,
		files:           files,
		diskUsage:       diskUsage,
		logger:          logger.With(slog.String("component", "system_handler")),
	}
}

// GetStorageInfo обрабатывает GET /api/info.
// Если индекс недоступен, status = maintenance, usage содержит только лимиты.
func (h *SystemHandler) GetStorageInfo(w http.ResponseWriter, r *http.Request) {
	resp := StorageInfo{
		ServiceID:       h.serviceID,
		Version:         config.Version,
		Status:          "online",
		BlobBackend:     h.blobBackend,
		MetadataBackend: h.metadataBackend,
	}

	usage, err := h.files.Usage(r.Context())
	if err != nil {
		limits := h.files.Limits()
		usage = model.NewUsage(0, limits.QuotaBytes, limits.MaxFileSize, 0)
		resp.Status = "maintenance"
	}
	resp.Usage = usage

	if h.diskUsage != nil {
		total, used, available, err := h.diskUsage()
		if err != nil {
			h.logger.Warn("Не удалось получить ёмкость диска",
				slog.String("error", err.Error()),
			)
		} else {
			resp.Disk = &DiskInfo{
				TotalBytes:     total,
				UsedBytes:      used,
				AvailableBytes: available,
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
