// handler.go — APIHandler регистрирует маршруты всех доменных handler'ов.
package handlers

import (
	"github.com/go-chi/chi/v5"
)

// APIHandler — единая точка регистрации HTTP API,
// собирающая все доменные handlers.
type APIHandler struct {
	files       *FilesHandler
	system      *SystemHandler
	maintenance *MaintenanceHandler
	health      *HealthHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	files *FilesHandler,
	system *SystemHandler,
	maintenance *MaintenanceHandler,
	health *HealthHandler,
) *APIHandler {
	return &APIHandler{
		files:       files,
		system:      system,
		maintenance: maintenance,
		health:      health,
	}
}

// Register монтирует маршруты API в роутер.
// /metrics монтируется сервером отдельно.
func (h *APIHandler) Register(r chi.Router) {
	// --- File Operations ---
	r.Get("/api/files", h.files.ListFiles)
	r.Post("/api/upload", h.files.UploadFile)
	r.Get("/api/files/{id}", h.files.GetFileMetadata)
	r.Get("/api/files/{id}/download", h.files.DownloadFile)
	r.Delete("/api/files/{id}", h.files.DeleteFile)
	r.Get("/api/usage", h.files.GetUsage)
	r.Get("/uploads/{storedName}", h.files.ServeUpload)

	// --- System ---
	r.Get("/api/info", h.system.GetStorageInfo)

	// --- Maintenance ---
	r.Post("/api/maintenance/reconcile", h.maintenance.Reconcile)

	// --- Health ---
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
}
