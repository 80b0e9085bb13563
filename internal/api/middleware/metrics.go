// metrics.go — Prometheus метрики файлового хранилища.
// HTTP-метрики: fs_http_requests_total, fs_http_request_duration_seconds.
// Бизнес-метрики (fs_operations_total, fs_storage_used_bytes и др.)
// обновляются из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// unmatchedRoute — лейбл пути для запросов, не попавших ни в один маршрут.
const unmatchedRoute = "unmatched"

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fs_http_requests_total",
			Help: "Общее количество HTTP-запросов к файловому хранилищу",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fs_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к файловому хранилищу в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (экспортируются для обновления из сервисного слоя)
var (
	// FilesTotal — количество файлов по последнему пересчёту использования.
	FilesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fs_files_total",
			Help: "Количество зарегистрированных файлов",
		},
	)

	// StorageUsedBytes — сумма размеров живых записей.
	StorageUsedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fs_storage_used_bytes",
			Help: "Суммарный размер зарегистрированных файлов в байтах",
		},
	)

	// UploadBytesTotal — байты, принятые успешными загрузками.
	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fs_upload_bytes_total",
			Help: "Общее количество байт, принятых загрузками",
		},
	)

	// OperationsTotal — общее количество файловых операций.
	// result: success, rejected, error.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fs_operations_total",
			Help: "Общее количество файловых операций",
		},
		[]string{"operation", "result"},
	)

	// SagaInterruptedTotal — саги, найденные в статусе pending при старте.
	SagaInterruptedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fs_saga_interrupted_total",
			Help: "Количество прерванных саг, обнаруженных при старте",
		},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Лейбл path — шаблон маршрута chi (/api/files/{id}), поэтому
// идентификаторы не раздувают кардинальность.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			// Шаблон известен только после маршрутизации
			path := routePattern(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		})
	}
}

// routePattern возвращает шаблон маршрута chi или unmatchedRoute.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedRoute
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return unmatchedRoute
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
