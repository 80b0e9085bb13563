package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/bigkaa/filestorage/internal/domain/model"
)

// SQLite — индекс метаданных в SQLite (modernc.org/sqlite, без cgo).
// upload_date хранится в микросекундах Unix, UTC.
// Схема создаётся миграциями пакета database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite создаёт индекс поверх открытого и смигрированного *sql.DB.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// Name возвращает имя backend-а.
func (s *SQLite) Name() string {
	return "sqlite"
}

// Insert добавляет запись.
func (s *SQLite) Insert(ctx context.Context, rec *model.FileRecord) error {
	query := fmt.Sprintf(`INSERT INTO files (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, fileColumns)

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.StoredName, rec.OriginalName, rec.ContentType, rec.Size,
		rec.StoragePath, rec.UploadedAt.UTC().UnixMicro(), rec.Checksum,
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
		return fmt.Errorf("ошибка вставки записи: %w", err)
	}
	return nil
}

// GetByID возвращает запись по id.
func (s *SQLite) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = ?`, fileColumns)

	rec, err := scanSQLite(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}

// ListAll возвращает все записи, новые первыми.
func (s *SQLite) ListAll(ctx context.Context) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files ORDER BY upload_date DESC, seq DESC`, fileColumns)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}
	defer rows.Close()

	result := make([]*model.FileRecord, 0)
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}

// DeleteByID удаляет запись.
func (s *SQLite) DeleteByID(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TotalSize возвращает сумму размеров.
func (s *SQLite) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM files`).Scan(&total); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта занятого места: %w", err)
	}
	return total, nil
}

// Ping проверяет соединение с базой.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает базу.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// rowScanner — общий интерфейс *sql.Row и *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*model.FileRecord, error) {
	rec := &model.FileRecord{}
	var uploadedMicro int64
	if err := row.Scan(
		&rec.ID, &rec.StoredName, &rec.OriginalName, &rec.ContentType, &rec.Size,
		&rec.StoragePath, &uploadedMicro, &rec.Checksum,
	); err != nil {
		return nil, err
	}
	rec.UploadedAt = time.UnixMicro(uploadedMicro).UTC()
	return rec, nil
}

// isSQLiteConstraint проверяет нарушение уникальности id.
func isSQLiteConstraint(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
