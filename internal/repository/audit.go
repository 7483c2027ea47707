package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
)

// AuditRepository — журнал аудита (только вставка и чтение).
type AuditRepository interface {
	// Insert добавляет запись. ID и CreatedAt должны быть заполнены.
	Insert(ctx context.Context, entry *model.AuditEntry) error
	// List возвращает записи по фильтру (новые первыми).
	List(ctx context.Context, filter model.AuditFilter, limit, offset int) ([]*model.AuditEntry, error)
	// Count возвращает количество записей по фильтру.
	Count(ctx context.Context, filter model.AuditFilter) (int, error)
}

type auditRepo struct {
	db DBTX
}

// NewAuditRepository создаёт репозиторий журнала аудита.
func NewAuditRepository(db DBTX) AuditRepository {
	return &auditRepo{db: db}
}

func (r *auditRepo) Insert(ctx context.Context, entry *model.AuditEntry) error {
	data := entry.Data
	if data == nil {
		data = map[string]any{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_entries (id, event, category, action, subject_id, subject_name,
			data, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.Event, entry.Category, entry.Action, entry.SubjectID, entry.SubjectName,
		data, entry.IPAddress, entry.UserAgent, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи аудита: %w", err)
	}
	return nil
}

func (r *auditRepo) List(ctx context.Context, filter model.AuditFilter, limit, offset int) ([]*model.AuditEntry, error) {
	where, args := auditWhere(filter)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT id, event, category, action, subject_id, subject_name,
			data, ip_address, user_agent, created_at
		FROM audit_entries
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, argNum, argNum+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения журнала аудита: %w", err)
	}
	defer rows.Close()

	var result []*model.AuditEntry
	for rows.Next() {
		e := &model.AuditEntry{}
		if err := rows.Scan(
			&e.ID, &e.Event, &e.Category, &e.Action, &e.SubjectID, &e.SubjectName,
			&e.Data, &e.IPAddress, &e.UserAgent, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи аудита: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *auditRepo) Count(ctx context.Context, filter model.AuditFilter) (int, error) {
	where, args := auditWhere(filter)

	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_entries `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей аудита: %w", err)
	}
	return count, nil
}

// auditWhere строит WHERE по непустым полям фильтра.
func auditWhere(filter model.AuditFilter) (string, []any) {
	var conditions []string
	var args []any

	add := func(cond string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.Category != nil {
		add("category = $%d", *filter.Category)
	}
	if filter.Action != nil {
		add("action = $%d", *filter.Action)
	}
	if filter.SubjectID != nil {
		add("subject_id = $%d", *filter.SubjectID)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at < $%d", *filter.To)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}
