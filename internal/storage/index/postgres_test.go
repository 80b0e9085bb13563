package index

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/filestorage/internal/database"
)

// setupTestPostgres запускает PostgreSQL в Docker-контейнере и
// возвращает DSN смигрированной базы.
func setupTestPostgres(t *testing.T) string {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("files_test"),
		postgres.WithUsername("files"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Не удалось получить DSN: %v", err)
	}
	if err := database.MigratePostgres(dsn, testLogger()); err != nil {
		t.Fatalf("Ошибка миграции: %v", err)
	}
	return dsn
}

// TestPostgres проверяет индекс на PostgreSQL.
// Контейнер один на весь набор, таблица очищается перед каждым подтестом.
func TestPostgres(t *testing.T) {
	dsn := setupTestPostgres(t)
	ctx := context.Background()

	pool, err := database.ConnectPostgres(ctx, dsn, testLogger())
	if err != nil {
		t.Fatalf("ошибка подключения: %v", err)
	}
	defer pool.Close()

	runContract(t, func(t *testing.T) Index {
		t.Helper()
		if _, err := pool.Exec(ctx, `TRUNCATE files RESTART IDENTITY`); err != nil {
			t.Fatalf("ошибка очистки таблицы: %v", err)
		}
		return &Postgres{pool: pool}
	})
}
