// Пакет audit — журнал аудита привилегированных действий.
//
// Запись аудита — best effort: сбой хранилища логируется и учитывается
// в метрике, но никогда не меняет результат бизнес-операции.
// Запись выполняется на контексте, отвязанном от отмены запроса:
// клиент, закрывший соединение, не должен оставлять действие без следа.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/lexdocs/access-core/internal/clock"
	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
	"github.com/bigkaa/lexdocs/access-core/internal/repository"
)

// ErrSinkUnavailable — хранилище аудита недоступно. Возвращается только из Log.
var ErrSinkUnavailable = errors.New("хранилище аудита недоступно")

// Prometheus-метрики аудита
var (
	auditWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ld_audit_write_failures_total",
			Help: "Количество неудачных записей в журнал аудита",
		},
		[]string{"category"},
	)
	auditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ld_audit_entries_total",
			Help: "Количество записанных событий аудита",
		},
		[]string{"category", "action"},
	)
)

// Recorder — запись и чтение журнала аудита.
type Recorder struct {
	repo    repository.AuditRepository
	clock   clock.Clock
	timeout time.Duration
	logger  *slog.Logger
}

// NewRecorder создаёт Recorder.
// timeout ограничивает одну запись (LD_AUDIT_WRITE_TIMEOUT).
func NewRecorder(repo repository.AuditRepository, clk clock.Clock, timeout time.Duration, logger *slog.Logger) *Recorder {
	return &Recorder{
		repo:    repo,
		clock:   clk,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "audit")),
	}
}

// Log записывает событие и возвращает ошибку хранилища, обёрнутую в ErrSinkUnavailable.
// Незаполненные ID, Event и CreatedAt заполняются автоматически.
func (r *Recorder) Log(ctx context.Context, entry *model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Event == "" {
		entry.Event = entry.Category + "." + entry.Action
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.clock.Now()
	}

	if err := r.repo.Insert(ctx, entry); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
	}
	auditEntriesTotal.WithLabelValues(entry.Category, entry.Action).Inc()
	return nil
}

// Record записывает событие без возврата ошибки.
// Используется всеми вызывающими сервисами: сбой только логируется.
func (r *Recorder) Record(ctx context.Context, entry *model.AuditEntry) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.Log(writeCtx, entry); err != nil {
		auditWriteFailures.WithLabelValues(entry.Category).Inc()
		r.logger.Error("Ошибка записи аудита",
			slog.String("event", entry.Event),
			slog.Any("subject_id", entry.SubjectID),
			slog.String("error", err.Error()),
		)
	}
}

// List возвращает записи журнала по фильтру и общее количество.
func (r *Recorder) List(ctx context.Context, filter model.AuditFilter, limit, offset int) ([]*model.AuditEntry, int, error) {
	entries, err := r.repo.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := r.repo.Count(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
