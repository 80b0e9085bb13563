// Пакет config — загрузка и валидация конфигурации файлового хранилища
// из переменных окружения (с опциональным файлом .env).
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bigkaa/filestorage/internal/domain/model"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Backend-ы хранилища блобов.
const (
	BlobBackendFS = "fs"
	BlobBackendS3 = "s3"
)

// Backend-ы индекса метаданных.
const (
	MetadataBackendSQLite   = "sqlite"
	MetadataBackendPostgres = "postgres"
	MetadataBackendMemory   = "memory"
)

// Config содержит все параметры конфигурации.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Имя вершины графа зависимостей (topologymetrics)
	ServiceID string
	// Директория блобов (backend fs)
	DataDir string
	// Директория журнала саг
	WALDir string

	// Backend хранилища блобов: fs или s3
	BlobBackend string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
	S3Region    string

	// Backend индекса метаданных: sqlite, postgres или memory
	MetadataBackend string
	// Путь к файлу базы SQLite
	SQLitePath string
	// DSN PostgreSQL (postgres://...)
	DatabaseURL string

	// Максимальный размер одного файла в байтах
	MaxFileSize int64
	// Общий лимит хранилища в байтах
	Quota int64
	// Объём multipart-формы, который держится в памяти; остальное уходит во временный файл
	MultipartMemory int64

	// Интервал запуска GC
	GCInterval time.Duration
	// Возраст, после которого временный файл считается брошенным
	TempMaxAge time.Duration
	// Интервал автоматической сверки
	ReconcileInterval time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// Путь к TLS сертификату (опционально)
	TLSCert string
	// Путь к TLS приватному ключу (опционально)
	TLSKey string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Файл логов с ротацией (опционально)
	LogFile string
	// Размер файла логов до ротации, МБ
	LogMaxSizeMB int

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Разрешённые CORS origins; "*" — любой источник
	CORSOrigins []string
}

// LoadDotEnv загружает переменные из файла .env, если он есть.
// Уже заданные переменные окружения не перезаписываются.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("ошибка чтения %s: %w", path, err)
	}
	return nil
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// FS_PORT — порт HTTP-сервера (по умолчанию 3000)
	port, err := getEnvInt("FS_PORT", 3000)
	if err != nil {
		return nil, fmt.Errorf("FS_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("FS_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	cfg.ServiceID = getEnvDefault("FS_SERVICE_ID", "file-storage")
	cfg.DataDir = getEnvDefault("FS_DATA_DIR", "./uploads")
	cfg.WALDir = getEnvDefault("FS_WAL_DIR", "./data/wal")

	// FS_BLOB_BACKEND — fs (по умолчанию) или s3
	cfg.BlobBackend = getEnvDefault("FS_BLOB_BACKEND", BlobBackendFS)
	switch cfg.BlobBackend {
	case BlobBackendFS:
	case BlobBackendS3:
		if cfg.S3Endpoint, err = getEnvRequired("FS_S3_ENDPOINT"); err != nil {
			return nil, err
		}
		if cfg.S3AccessKey, err = getEnvRequired("FS_S3_ACCESS_KEY"); err != nil {
			return nil, err
		}
		if cfg.S3SecretKey, err = getEnvRequired("FS_S3_SECRET_KEY"); err != nil {
			return nil, err
		}
		if cfg.S3Bucket, err = getEnvRequired("FS_S3_BUCKET"); err != nil {
			return nil, err
		}
		if cfg.S3UseSSL, err = getEnvBool("FS_S3_USE_SSL", false); err != nil {
			return nil, fmt.Errorf("FS_S3_USE_SSL: %w", err)
		}
		cfg.S3Region = getEnvDefault("FS_S3_REGION", "us-east-1")
	default:
		return nil, fmt.Errorf("FS_BLOB_BACKEND: недопустимое значение %q, допустимые: fs, s3", cfg.BlobBackend)
	}

	// FS_METADATA_BACKEND — sqlite (по умолчанию), postgres или memory
	cfg.MetadataBackend = getEnvDefault("FS_METADATA_BACKEND", MetadataBackendSQLite)
	switch cfg.MetadataBackend {
	case MetadataBackendSQLite:
		cfg.SQLitePath = getEnvDefault("FS_SQLITE_PATH", "./data/files.db")
	case MetadataBackendPostgres:
		if cfg.DatabaseURL, err = getEnvRequired("FS_DATABASE_URL"); err != nil {
			return nil, err
		}
	case MetadataBackendMemory:
	default:
		return nil, fmt.Errorf("FS_METADATA_BACKEND: недопустимое значение %q, допустимые: sqlite, postgres, memory",
			cfg.MetadataBackend)
	}

	// FS_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 2 GiB)
	cfg.MaxFileSize, err = getEnvInt64("FS_MAX_FILE_SIZE", model.DefaultMaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("FS_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("FS_MAX_FILE_SIZE: значение должно быть положительным")
	}

	// FS_QUOTA — общий лимит хранилища (по умолчанию 1 TiB)
	cfg.Quota, err = getEnvInt64("FS_QUOTA", model.DefaultQuotaBytes)
	if err != nil {
		return nil, fmt.Errorf("FS_QUOTA: %w", err)
	}
	if cfg.Quota < cfg.MaxFileSize {
		return nil, fmt.Errorf("FS_QUOTA: значение %d должно быть >= FS_MAX_FILE_SIZE (%d)",
			cfg.Quota, cfg.MaxFileSize)
	}

	cfg.MultipartMemory, err = getEnvInt64("FS_MULTIPART_MEMORY", 32<<20)
	if err != nil {
		return nil, fmt.Errorf("FS_MULTIPART_MEMORY: %w", err)
	}
	if cfg.MultipartMemory <= 0 {
		return nil, fmt.Errorf("FS_MULTIPART_MEMORY: значение должно быть положительным")
	}

	if cfg.GCInterval, err = getEnvDuration("FS_GC_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("FS_GC_INTERVAL: %w", err)
	}
	if cfg.TempMaxAge, err = getEnvDuration("FS_TEMP_MAX_AGE", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("FS_TEMP_MAX_AGE: %w", err)
	}
	if cfg.ReconcileInterval, err = getEnvDuration("FS_RECONCILE_INTERVAL", 6*time.Hour); err != nil {
		return nil, fmt.Errorf("FS_RECONCILE_INTERVAL: %w", err)
	}
	if cfg.DephealthCheckInterval, err = getEnvDuration("FS_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("FS_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("FS_DEPHEALTH_GROUP", "file-storage")

	// FS_TLS_CERT / FS_TLS_KEY — задаются оба или ни одного
	cfg.TLSCert = getEnvDefault("FS_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("FS_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("FS_TLS_CERT и FS_TLS_KEY должны задаваться вместе")
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FS_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("FS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.LogFile = getEnvDefault("FS_LOG_FILE", "")
	if cfg.LogMaxSizeMB, err = getEnvInt("FS_LOG_MAX_SIZE_MB", 100); err != nil {
		return nil, fmt.Errorf("FS_LOG_MAX_SIZE_MB: %w", err)
	}
	if cfg.LogMaxSizeMB <= 0 {
		return nil, fmt.Errorf("FS_LOG_MAX_SIZE_MB: значение должно быть положительным")
	}

	if cfg.ShutdownTimeout, err = getEnvDuration("FS_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("FS_SHUTDOWN_TIMEOUT: %w", err)
	}

	// FS_CORS_ORIGINS — список через запятую (по умолчанию "*")
	cfg.CORSOrigins = splitList(getEnvDefault("FS_CORS_ORIGINS", "*"))
	if len(cfg.CORSOrigins) == 0 {
		return nil, fmt.Errorf("FS_CORS_ORIGINS: список не может быть пустым")
	}

	return cfg, nil
}

// TLSEnabled возвращает true, если заданы сертификат и ключ.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// При заданном FS_LOG_FILE логи дублируются в файл с ротацией.
// Возвращает логгер и функцию закрытия файла логов.
func SetupLogger(cfg *Config) (*slog.Logger, func()) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.LogFile != "" {
		_ = os.MkdirAll(filepath.Dir(cfg.LogFile), 0o750)
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, fileWriter)
		closeFn = func() { _ = fileWriter.Close() }
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closeFn
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает bool значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("длительность должна быть положительной: %q", val)
	}
	return d, nil
}

// splitList разбивает строку по запятым, отбрасывая пустые элементы.
func splitList(val string) []string {
	var items []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
