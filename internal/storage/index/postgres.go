package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/filestorage/internal/domain/model"
)

// Postgres — индекс метаданных в PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres создаёт индекс поверх пула подключений.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Name возвращает имя backend-а.
func (p *Postgres) Name() string {
	return "postgres"
}

// Insert добавляет запись.
func (p *Postgres) Insert(ctx context.Context, rec *model.FileRecord) error {
	query := fmt.Sprintf(`INSERT INTO files (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, fileColumns)

	_, err := p.pool.Exec(ctx, query,
		rec.ID, rec.StoredName, rec.OriginalName, rec.ContentType, rec.Size,
		rec.StoragePath, rec.UploadedAt.UTC(), rec.Checksum,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
		return fmt.Errorf("ошибка вставки записи: %w", err)
	}
	return nil
}

// GetByID возвращает запись по id.
func (p *Postgres) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE id = $1`, fileColumns)

	rec, err := scanPostgres(p.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return rec, nil
}

// ListAll возвращает все записи, новые первыми.
func (p *Postgres) ListAll(ctx context.Context) ([]*model.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files ORDER BY upload_date DESC, seq DESC`, fileColumns)

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}
	defer rows.Close()

	result := make([]*model.FileRecord, 0)
	for rows.Next() {
		rec, err := scanPostgres(rows)
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
func (p *Postgres) DeleteByID(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TotalSize возвращает сумму размеров.
func (p *Postgres) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	if err := p.pool.QueryRow(ctx, `SELECT COALESCE(SUM(size), 0)::BIGINT FROM files`).Scan(&total); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта занятого места: %w", err)
	}
	return total, nil
}

// Ping проверяет подключение к PostgreSQL.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close закрывает пул подключений.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func scanPostgres(row pgx.Row) (*model.FileRecord, error) {
	rec := &model.FileRecord{}
	if err := row.Scan(
		&rec.ID, &rec.StoredName, &rec.OriginalName, &rec.ContentType, &rec.Size,
		&rec.StoragePath, &rec.UploadedAt, &rec.Checksum,
	); err != nil {
		return nil, err
	}
	rec.UploadedAt = rec.UploadedAt.UTC()
	return rec, nil
}
