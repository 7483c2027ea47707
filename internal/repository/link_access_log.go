package repository

import (
	"context"
	"fmt"

	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
)

// LinkAccessLogRepository — журнал обращений по ссылкам (только вставка).
type LinkAccessLogRepository interface {
	// Insert добавляет запись. ID должен быть заполнен.
	Insert(ctx context.Context, entry *model.LinkAccessLog) error
	// ListByLink возвращает обращения по ссылке (новые первыми).
	ListByLink(ctx context.Context, linkID string, limit, offset int) ([]*model.LinkAccessLog, error)
	// CountByLink возвращает количество обращений по ссылке.
	CountByLink(ctx context.Context, linkID string) (int, error)
}

type linkAccessLogRepo struct {
	db DBTX
}

// NewLinkAccessLogRepository создаёт репозиторий журнала обращений.
func NewLinkAccessLogRepository(db DBTX) LinkAccessLogRepository {
	return &linkAccessLogRepo{db: db}
}

func (r *linkAccessLogRepo) Insert(ctx context.Context, entry *model.LinkAccessLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO link_access_logs (id, link_id, accessed_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.LinkID, entry.AccessedAt, entry.IPAddress, entry.UserAgent,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка записи обращения по ссылке: %w", err)
	}
	return nil
}

func (r *linkAccessLogRepo) ListByLink(ctx context.Context, linkID string, limit, offset int) ([]*model.LinkAccessLog, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, link_id, accessed_at, ip_address, user_agent
		FROM link_access_logs
		WHERE link_id = $1
		ORDER BY accessed_at DESC
		LIMIT $2 OFFSET $3`, linkID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала обращений: %w", err)
	}
	defer rows.Close()

	var result []*model.LinkAccessLog
	for rows.Next() {
		e := &model.LinkAccessLog{}
		if err := rows.Scan(&e.ID, &e.LinkID, &e.AccessedAt, &e.IPAddress, &e.UserAgent); err != nil {
			return nil, fmt.Errorf("ошибка сканирования обращения: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *linkAccessLogRepo) CountByLink(ctx context.Context, linkID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM link_access_logs WHERE link_id = $1`, linkID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта обращений: %w", err)
	}
	return count, nil
}
