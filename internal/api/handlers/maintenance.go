// maintenance.go — обработчик POST /api/maintenance/reconcile.
// Делегирует reconciliation в ReconcileService.
package handlers

import (
	"context"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/filestorage/internal/api/errors"
	"github.com/bigkaa/filestorage/internal/service"
)

// ReconcileRunner — интерфейс для запуска reconciliation.
// Позволяет тестировать handler без полного ReconcileService.
type ReconcileRunner interface {
	// RunOnce выполняет один цикл reconciliation.
	// Возвращает результат и флаг "уже выполняется".
	RunOnce(ctx context.Context) (*service.ReconcileReport, bool)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	reconciler ReconcileRunner
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
// reconciler может быть nil (возвращается пустой отчёт).
func NewMaintenanceHandler(reconciler ReconcileRunner) *MaintenanceHandler {
	return &MaintenanceHandler{reconciler: reconciler}
}

// Reconcile обрабатывает POST /api/maintenance/reconcile.
// Запускает синхронный цикл reconciliation и возвращает отчёт.
// Если reconciliation уже выполняется — 409 RECONCILE_IN_PROGRESS,
// если список блобов или индекс не прочитан — 500 INTERNAL_ERROR.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	if h.reconciler == nil {
		now := time.Now().UTC()
		writeJSON(w, http.StatusOK, service.ReconcileReport{
			StartedAt:   now,
			CompletedAt: now,
			Issues:      []service.ReconcileIssue{},
		})
		return
	}

	report, inProgress := h.reconciler.RunOnce(r.Context())
	if inProgress {
		apierrors.ReconcileInProgress(w, "Reconciliation уже выполняется")
		return
	}
	// Неполный отчёт выглядел бы как отсутствие проблем
	if report.Error != "" {
		apierrors.InternalError(w, "Reconciliation не выполнена: хранилище недоступно")
		return
	}

	writeJSON(w, http.StatusOK, report)
}
