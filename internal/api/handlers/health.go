// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/filestorage/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// pingTimeout — ограничение времени проверки индекса метаданных.
const pingTimeout = 2 * time.Second

// IndexPinger — проверка доступности индекса метаданных.
type IndexPinger interface {
	Ping(ctx context.Context) error
}

// DependencyReporter — состояние внешних зависимостей (topologymetrics).
type DependencyReporter interface {
	Health() map[string]bool
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	service string
	// dataDir — директория блобов (пусто для S3)
	dataDir string
	// walDir — директория журнала саг
	walDir string
	idx    IndexPinger
	// deps — может быть nil, если внешних зависимостей нет
	deps DependencyReporter
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(serviceID, dataDir, walDir string, idx IndexPinger, deps DependencyReporter) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		service: serviceID,
		dataDir: dataDir,
		walDir:  walDir,
		idx:     idx,
		deps:    deps,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   h.service,
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: директорию данных, индекс метаданных, журнал саг,
// внешние зависимости. Недоступность данных или индекса — 503,
// проблемы журнала или зависимостей — degraded.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fail := func() {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}
	degrade := func() {
		if overallStatus != statusFail {
			overallStatus = "degraded"
		}
	}

	checks := map[string]any{}

	fsCheck := checkWritableDir(h.dataDir, "Директория данных недоступна для записи: ")
	checks["filesystem"] = fsCheck
	if fsCheck["status"] != "ok" {
		fail()
	}

	indexCheck := h.checkIndex(r.Context())
	checks["metadata"] = indexCheck
	if indexCheck["status"] != "ok" {
		fail()
	}

	walCheck := checkWritableDir(h.walDir, "Директория WAL недоступна для записи: ")
	checks["wal"] = walCheck
	if walCheck["status"] != "ok" {
		degrade()
	}

	if h.deps != nil {
		depCheck := map[string]any{"status": "ok"}
		for name, ok := range h.deps.Health() {
			depCheck[name] = ok
			if !ok {
				depCheck["status"] = statusFail
			}
		}
		checks["dependencies"] = depCheck
		if depCheck["status"] != "ok" {
			degrade()
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   h.service,
		"checks":    checks,
	})
}

// checkIndex проверяет доступность индекса метаданных.
func (h *HealthHandler) checkIndex(ctx context.Context) map[string]any {
	if h.idx == nil {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := h.idx.Ping(ctx); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Индекс метаданных недоступен: " + err.Error(),
		}
	}
	return map[string]any{"status": "ok"}
}

// checkWritableDir проверяет доступность директории на запись.
func checkWritableDir(dir, failPrefix string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": failPrefix + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{"status": "ok"}
}
