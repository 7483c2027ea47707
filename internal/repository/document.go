package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
)

// DocumentRepository — доступ к состоянию блокировок в таблице documents.
// Все изменения блокировки — условные UPDATE: решение о захвате
// принимает сама БД, а не чтение перед записью.
type DocumentRepository interface {
	// Create регистрирует документ (используется при импорте и в тестах).
	Create(ctx context.Context, doc *model.Document) error
	// GetByID возвращает документ по UUID.
	// Некорректный UUID — ErrNotFound, как и отсутствующий документ.
	GetByID(ctx context.Context, id string) (*model.Document, error)
	// TryLock захватывает блокировку, если документ не заблокирован.
	// ErrPreconditionFailed — документ уже заблокирован, ErrNotFound — нет документа.
	TryLock(ctx context.Context, id, userID string, now time.Time) (*model.Document, error)
	// UnlockByHolder снимает блокировку, если её держит holder.
	UnlockByHolder(ctx context.Context, id, holder string) (*model.Document, error)
	// UnlockByVersion снимает блокировку, если версия документа не изменилась.
	UnlockByVersion(ctx context.Context, id string, version int64) (*model.Document, error)
	// ListLockedBefore возвращает заблокированные документы с locked_at < before,
	// упорядоченные по (locked_at, id) и расположенные строго после after.
	ListLockedBefore(ctx context.Context, before time.Time, after Cursor, limit int) ([]*model.Document, error)
}

// documentRepo — реализация DocumentRepository.
type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

const documentColumns = `id, title, is_locked, locked_by, locked_at, version, created_at, updated_at`

func scanDocument(row pgx.Row) (*model.Document, error) {
	d := &model.Document{}
	if err := row.Scan(
		&d.ID, &d.Title, &d.IsLocked, &d.LockedBy, &d.LockedAt,
		&d.Version, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *documentRepo) Create(ctx context.Context, doc *model.Document) error {
	query := `
		INSERT INTO documents (id, title)
		VALUES ($1, $2)
		RETURNING version, created_at, updated_at`

	err := r.db.QueryRow(ctx, query, doc.ID, doc.Title).
		Scan(&doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: документ %s уже зарегистрирован", ErrConflict, doc.ID)
		}
		return fmt.Errorf("ошибка создания документа: %w", err)
	}
	return nil
}

func (r *documentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	d, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if isMissing(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа: %w", err)
	}
	return d, nil
}

func (r *documentRepo) TryLock(ctx context.Context, id, userID string, now time.Time) (*model.Document, error) {
	query := `
		UPDATE documents
		SET is_locked = TRUE, locked_by = $2, locked_at = $3,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND NOT is_locked
		RETURNING ` + documentColumns

	d, err := scanDocument(r.db.QueryRow(ctx, query, id, userID, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMiss(ctx, id)
		}
		if isInvalidTextRepresentation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка захвата блокировки: %w", err)
	}
	return d, nil
}

func (r *documentRepo) UnlockByHolder(ctx context.Context, id, holder string) (*model.Document, error) {
	query := `
		UPDATE documents
		SET is_locked = FALSE, locked_by = NULL, locked_at = NULL,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND is_locked AND locked_by = $2
		RETURNING ` + documentColumns

	d, err := scanDocument(r.db.QueryRow(ctx, query, id, holder))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMiss(ctx, id)
		}
		if isInvalidTextRepresentation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка снятия блокировки: %w", err)
	}
	return d, nil
}

func (r *documentRepo) UnlockByVersion(ctx context.Context, id string, version int64) (*model.Document, error) {
	query := `
		UPDATE documents
		SET is_locked = FALSE, locked_by = NULL, locked_at = NULL,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND is_locked AND version = $2
		RETURNING ` + documentColumns

	d, err := scanDocument(r.db.QueryRow(ctx, query, id, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.classifyMiss(ctx, id)
		}
		if isInvalidTextRepresentation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка принудительного снятия блокировки: %w", err)
	}
	return d, nil
}

func (r *documentRepo) ListLockedBefore(
	ctx context.Context, before time.Time, after Cursor, limit int,
) ([]*model.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE is_locked AND locked_at < $1
			AND (locked_at, id) > ($2::timestamptz, $3::uuid)
		ORDER BY locked_at, id
		LIMIT $4`

	afterAt, afterID := after.args()
	rows, err := r.db.Query(ctx, query, before, afterAt, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки просроченных блокировок: %w", err)
	}
	defer rows.Close()

	var result []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// classifyMiss различает «нет документа» и «условие не выполнено»
// после условного UPDATE, не затронувшего строк.
func (r *documentRepo) classifyMiss(ctx context.Context, id string) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("ошибка проверки документа: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrPreconditionFailed
}
