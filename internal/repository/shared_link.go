package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
)

// SharedLinkRepository — доступ к таблице shared_links.
// Счётчик обращений только увеличивается; строки никогда не удаляются.
type SharedLinkRepository interface {
	// Create создаёт ссылку. ErrNotFound — документ не существует.
	Create(ctx context.Context, link *model.SharedLink) error
	// GetByID возвращает ссылку по UUID.
	GetByID(ctx context.Context, id string) (*model.SharedLink, error)
	// GetByToken возвращает ссылку по токену.
	GetByToken(ctx context.Context, token string) (*model.SharedLink, error)
	// ListByDocument возвращает ссылки документа (новые первыми).
	ListByDocument(ctx context.Context, documentID string, limit, offset int) ([]*model.SharedLink, error)
	// CountByDocument возвращает общее количество ссылок документа.
	CountByDocument(ctx context.Context, documentID string) (int, error)
	// RecordAccess в одной транзакции увеличивает счётчик (если ссылка активна,
	// не истекла и лимит не исчерпан на момент entry.AccessedAt) и пишет
	// запись в link_access_logs. ErrPreconditionFailed — условие не выполнено.
	RecordAccess(ctx context.Context, linkID string, entry *model.LinkAccessLog) (*model.SharedLink, error)
	// Deactivate деактивирует активную ссылку.
	// ErrPreconditionFailed — ссылка уже неактивна.
	Deactivate(ctx context.Context, id, reason string, now time.Time) (*model.SharedLink, error)
	// DeactivateIfStale деактивирует ссылку, только если она активна и на момент
	// now истекла или исчерпала лимит. Условие проверяется в том же UPDATE.
	// ErrPreconditionFailed — ссылка неактивна или больше не устарела.
	DeactivateIfStale(ctx context.Context, id, reason string, now time.Time) (*model.SharedLink, error)
	// Reactivate активирует неактивную ссылку, если её версия не изменилась.
	// Nil-параметры оставляют текущие значения.
	Reactivate(ctx context.Context, id string, version int64, expiresAt *time.Time, maxAccessCount *int) (*model.SharedLink, error)
	// ListStale возвращает активные ссылки, истёкшие или исчерпавшие лимит на момент now,
	// упорядоченные по (expires_at, id) и расположенные строго после after.
	ListStale(ctx context.Context, now time.Time, after Cursor, limit int) ([]*model.SharedLink, error)
}

// sharedLinkRepo — реализация SharedLinkRepository.
type sharedLinkRepo struct {
	db DBTX
	tx Transactor
}

// NewSharedLinkRepository создаёт репозиторий ссылок.
// tx используется для RecordAccess; если nil — запросы идут через db
// (репозиторий уже создан внутри транзакции).
func NewSharedLinkRepository(db DBTX, tx Transactor) SharedLinkRepository {
	return &sharedLinkRepo{db: db, tx: tx}
}

// staleLinkPredicate — ссылка истекла или исчерпала лимит на момент $now.
const staleLinkPredicate = `(expires_at <= %s
	OR (max_access_count IS NOT NULL AND current_access_count >= max_access_count))`

const sharedLinkColumns = `id, document_id, token, created_by, expires_at,
	max_access_count, current_access_count, password_hash, is_active, version,
	deactivated_at, deactivation_reason, created_at, updated_at`

func scanSharedLink(row pgx.Row) (*model.SharedLink, error) {
	l := &model.SharedLink{}
	if err := row.Scan(
		&l.ID, &l.DocumentID, &l.Token, &l.CreatedBy, &l.ExpiresAt,
		&l.MaxAccessCount, &l.CurrentAccessCount, &l.PasswordHash, &l.IsActive, &l.Version,
		&l.DeactivatedAt, &l.DeactivationReason, &l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return l, nil
}

func (r *sharedLinkRepo) Create(ctx context.Context, link *model.SharedLink) error {
	query := `
		INSERT INTO shared_links (id, document_id, token, created_by, expires_at,
			max_access_count, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING current_access_count, is_active, version, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		link.ID, link.DocumentID, link.Token, link.CreatedBy, link.ExpiresAt,
		link.MaxAccessCount, link.PasswordHash,
	).Scan(&link.CurrentAccessCount, &link.IsActive, &link.Version, &link.CreatedAt, &link.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) || isInvalidTextRepresentation(err) {
			return ErrNotFound
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: токен ссылки уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания ссылки: %w", err)
	}
	return nil
}

func (r *sharedLinkRepo) GetByID(ctx context.Context, id string) (*model.SharedLink, error) {
	return r.getOne(ctx, `SELECT `+sharedLinkColumns+` FROM shared_links WHERE id = $1`, id)
}

func (r *sharedLinkRepo) GetByToken(ctx context.Context, token string) (*model.SharedLink, error) {
	return r.getOne(ctx, `SELECT `+sharedLinkColumns+` FROM shared_links WHERE token = $1`, token)
}

func (r *sharedLinkRepo) getOne(ctx context.Context, query string, arg string) (*model.SharedLink, error) {
	l, err := scanSharedLink(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if isMissing(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения ссылки: %w", err)
	}
	return l, nil
}

func (r *sharedLinkRepo) ListByDocument(ctx context.Context, documentID string, limit, offset int) ([]*model.SharedLink, error) {
	query := `
		SELECT ` + sharedLinkColumns + `
		FROM shared_links
		WHERE document_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	links, err := r.list(ctx, query, documentID, limit, offset)
	if isInvalidTextRepresentation(err) {
		return nil, nil
	}
	return links, err
}

func (r *sharedLinkRepo) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM shared_links WHERE document_id = $1`, documentID).Scan(&count)
	if err != nil {
		if isInvalidTextRepresentation(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("ошибка подсчёта ссылок: %w", err)
	}
	return count, nil
}

func (r *sharedLinkRepo) ListStale(
	ctx context.Context, now time.Time, after Cursor, limit int,
) ([]*model.SharedLink, error) {
	query := `
		SELECT ` + sharedLinkColumns + `
		FROM shared_links
		WHERE is_active AND ` + fmt.Sprintf(staleLinkPredicate, "$1") + `
			AND (expires_at, id) > ($2::timestamptz, $3::uuid)
		ORDER BY expires_at, id
		LIMIT $4`

	afterAt, afterID := after.args()
	return r.list(ctx, query, now, afterAt, afterID, limit)
}

func (r *sharedLinkRepo) list(ctx context.Context, query string, args ...any) ([]*model.SharedLink, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка ссылок: %w", err)
	}
	defer rows.Close()

	var result []*model.SharedLink
	for rows.Next() {
		l, err := scanSharedLink(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования ссылки: %w", err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка получения списка ссылок: %w", err)
	}
	return result, nil
}

func (r *sharedLinkRepo) RecordAccess(ctx context.Context, linkID string, entry *model.LinkAccessLog) (*model.SharedLink, error) {
	var updated *model.SharedLink
	run := func(db DBTX) error {
		query := `
			UPDATE shared_links
			SET current_access_count = current_access_count + 1,
				version = version + 1, updated_at = NOW()
			WHERE id = $1 AND is_active AND expires_at > $2
				AND (max_access_count IS NULL OR current_access_count < max_access_count)
			RETURNING ` + sharedLinkColumns

		l, err := scanSharedLink(db.QueryRow(ctx, query, linkID, entry.AccessedAt))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return classifyLinkMiss(ctx, db, linkID)
			}
			if isInvalidTextRepresentation(err) {
				return ErrNotFound
			}
			return fmt.Errorf("ошибка учёта обращения по ссылке: %w", err)
		}

		entry.LinkID = linkID
		if err := NewLinkAccessLogRepository(db).Insert(ctx, entry); err != nil {
			return err
		}
		updated = l
		return nil
	}

	var err error
	if r.tx != nil {
		err = r.tx.RunInTx(ctx, func(tx pgx.Tx) error { return run(tx) })
	} else {
		err = run(r.db)
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *sharedLinkRepo) Deactivate(ctx context.Context, id, reason string, now time.Time) (*model.SharedLink, error) {
	query := `
		UPDATE shared_links
		SET is_active = FALSE, deactivated_at = $2, deactivation_reason = $3,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND is_active
		RETURNING ` + sharedLinkColumns

	l, err := scanSharedLink(r.db.QueryRow(ctx, query, id, now, reason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, classifyLinkMiss(ctx, r.db, id)
		}
		if isInvalidTextRepresentation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка деактивации ссылки: %w", err)
	}
	return l, nil
}

func (r *sharedLinkRepo) DeactivateIfStale(ctx context.Context, id, reason string, now time.Time) (*model.SharedLink, error) {
	query := `
		UPDATE shared_links
		SET is_active = FALSE, deactivated_at = $2, deactivation_reason = $3,
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND is_active AND ` + fmt.Sprintf(staleLinkPredicate, "$2") + `
		RETURNING ` + sharedLinkColumns

	l, err := scanSharedLink(r.db.QueryRow(ctx, query, id, now, reason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, classifyLinkMiss(ctx, r.db, id)
		}
		if isInvalidTextRepresentation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка деактивации устаревшей ссылки: %w", err)
	}
	return l, nil
}

func (r *sharedLinkRepo) Reactivate(
	ctx context.Context, id string, version int64, expiresAt *time.Time, maxAccessCount *int,
) (*model.SharedLink, error) {
	query := `
		UPDATE shared_links
		SET is_active = TRUE, deactivated_at = NULL, deactivation_reason = NULL,
			expires_at = COALESCE($3, expires_at),
			max_access_count = COALESCE($4, max_access_count),
			version = version + 1, updated_at = NOW()
		WHERE id = $1 AND NOT is_active AND version = $2
		RETURNING ` + sharedLinkColumns

	l, err := scanSharedLink(r.db.QueryRow(ctx, query, id, version, expiresAt, maxAccessCount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, classifyLinkMiss(ctx, r.db, id)
		}
		if isInvalidTextRepresentation(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка активации ссылки: %w", err)
	}
	return l, nil
}

// classifyLinkMiss различает «нет ссылки» и «условие не выполнено».
func classifyLinkMiss(ctx context.Context, db DBTX, id string) error {
	var exists bool
	err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shared_links WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("ошибка проверки ссылки: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrPreconditionFailed
}
