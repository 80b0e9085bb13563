package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

// stubPinger — IndexPinger с заданной ошибкой.
type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error { return s.err }

// stubDeps — DependencyReporter с фиксированным состоянием.
type stubDeps map[string]bool

func (s stubDeps) Health() map[string]bool { return s }

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Ответ не JSON: %v", err)
	}
	return body
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler("fs-01", "", "", nil, nil)

	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Статус %d", rec.Code)
	}
	body := decodeHealth(t, rec)
	if body["status"] != "ok" || body["service"] != "fs-01" {
		t.Errorf("Тело: %v", body)
	}
}

func TestHealthReady(t *testing.T) {
	missingDir := filepath.Join(t.TempDir(), "absent")

	tests := []struct {
		name       string
		dataDir    string
		walDir     string
		idx        IndexPinger
		deps       DependencyReporter
		wantCode   int
		wantStatus string
	}{
		{
			name:       "всё доступно",
			dataDir:    t.TempDir(),
			walDir:     t.TempDir(),
			idx:        stubPinger{},
			deps:       stubDeps{"s3": true},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "индекс недоступен",
			dataDir:    t.TempDir(),
			walDir:     t.TempDir(),
			idx:        stubPinger{err: errors.New("connection refused")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
		},
		{
			name:       "директория данных недоступна",
			dataDir:    missingDir,
			walDir:     t.TempDir(),
			idx:        stubPinger{},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
		},
		{
			name:       "журнал недоступен",
			dataDir:    t.TempDir(),
			walDir:     missingDir,
			idx:        stubPinger{},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name:       "зависимость недоступна",
			dataDir:    "",
			walDir:     t.TempDir(),
			idx:        stubPinger{},
			deps:       stubDeps{"postgresql": true, "s3": false},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("fs-01", tt.dataDir, tt.walDir, tt.idx, tt.deps)

			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("Статус %d, ожидался %d", rec.Code, tt.wantCode)
			}
			if body := decodeHealth(t, rec); body["status"] != tt.wantStatus {
				t.Errorf("status = %v, ожидался %s", body["status"], tt.wantStatus)
			}
		})
	}
}
