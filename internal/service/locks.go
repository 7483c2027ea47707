// locks.go — эксклюзивные блокировки документов (check-out).
//
// Решение о захвате и снятии принимает БД условным UPDATE. Повторное чтение
// после неудачного UPDATE используется только для классификации отказа.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/lexdocs/access-core/internal/clock"
	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
	"github.com/bigkaa/lexdocs/access-core/internal/notify"
	"github.com/bigkaa/lexdocs/access-core/internal/repository"
)

// Причины отказа, не связанные с состоянием блокировки.
const (
	// reasonInternalError — сбой хранилища
	reasonInternalError = "internal_error"
	// reasonContention — состояние менялось на каждой из maxCASAttempts попыток
	reasonContention = "contention"
)

// maxCASAttempts — сколько раз повторять условный UPDATE, если между
// неудачной попыткой и повторным чтением состояние успело измениться.
const maxCASAttempts = 3

// lockOperations — исходы операций с блокировками.
var lockOperations = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ld_lock_operations_total",
		Help: "Количество операций с блокировками документов по исходам",
	},
	[]string{"operation", "outcome"},
)

// LockService — управление блокировками документов.
type LockService struct {
	docs     repository.DocumentRepository
	audit    AuditRecorder
	notifier Notifier
	clock    clock.Clock
	ttl      time.Duration
	logger   *slog.Logger
}

// NewLockService создаёт LockService.
// ttl — возраст, после которого блокировка считается брошенной (LD_LOCK_TTL).
func NewLockService(
	docs repository.DocumentRepository,
	recorder AuditRecorder,
	notifier Notifier,
	clk clock.Clock,
	ttl time.Duration,
	logger *slog.Logger,
) *LockService {
	return &LockService{
		docs:     docs,
		audit:    recorder,
		notifier: notifier,
		clock:    clk,
		ttl:      ttl,
		logger:   logger.With(slog.String("component", "lock_service")),
	}
}

// TTL возвращает настроенный TTL блокировки.
func (s *LockService) TTL() time.Duration {
	return s.ttl
}

// IsExpired сообщает, старше ли блокировка ttl на момент now.
func IsExpired(doc *model.Document, now time.Time, ttl time.Duration) bool {
	return doc.LockExpired(now, ttl)
}

// Acquire захватывает блокировку документа для actor.
// Повторный захват своей блокировки — успех без обновления locked_at.
func (s *LockService) Acquire(ctx context.Context, documentID string, actor Actor) (*model.LockToken, error) {
	for range maxCASAttempts {
		doc, err := s.docs.TryLock(ctx, documentID, actor.ID, s.clock.Now())
		switch {
		case err == nil:
			s.recordAcquired(ctx, doc, actor, "acquired")
			return lockToken(doc, false), nil

		case errors.Is(err, repository.ErrNotFound):
			s.recordAcquireDenied(ctx, documentID, actor, "not_found", nil)
			return nil, ErrNotFound

		case errors.Is(err, repository.ErrPreconditionFailed):
			current, gerr := s.docs.GetByID(ctx, documentID)
			if gerr != nil {
				if errors.Is(gerr, repository.ErrNotFound) {
					s.recordAcquireDenied(ctx, documentID, actor, "not_found", nil)
					return nil, ErrNotFound
				}
				s.recordAcquireDenied(ctx, documentID, actor, reasonInternalError, nil)
				return nil, fmt.Errorf("чтение документа %s: %w", documentID, gerr)
			}
			if current.HeldBy(actor.ID) {
				s.recordAcquired(ctx, current, actor, "already_held")
				return lockToken(current, true), nil
			}
			if current.IsLocked {
				s.recordAcquireDenied(ctx, documentID, actor, "already_locked", current)
				return nil, ErrAlreadyLocked
			}
			// Блокировку сняли между UPDATE и чтением: повторяем захват

		default:
			s.recordAcquireDenied(ctx, documentID, actor, reasonInternalError, nil)
			return nil, fmt.Errorf("захват блокировки %s: %w", documentID, err)
		}
	}

	s.recordAcquireDenied(ctx, documentID, actor, reasonContention, nil)
	return nil, fmt.Errorf("%w: документ %s часто меняет состояние, повторите позже", ErrConflict, documentID)
}

// Release снимает блокировку, которую держит actor.
// Администратор, снимающий чужую блокировку, выполняет ForceRelease.
func (s *LockService) Release(ctx context.Context, documentID string, actor Actor) error {
	for range maxCASAttempts {
		doc, err := s.docs.UnlockByHolder(ctx, documentID, actor.ID)
		switch {
		case err == nil:
			lockOperations.WithLabelValues("release", "released").Inc()
			e := actorEntry(model.AuditCategoryLock, model.ActionLockReleased, actor)
			e.Data["document_id"] = documentID
			s.audit.Record(ctx, e)
			s.logger.Info("Блокировка снята",
				slog.String("document_id", doc.ID),
				slog.String("user_id", actor.ID),
			)
			return nil

		case errors.Is(err, repository.ErrNotFound):
			s.recordReleaseDenied(ctx, documentID, actor, "not_found", nil)
			return ErrNotFound

		case errors.Is(err, repository.ErrPreconditionFailed):
			current, gerr := s.docs.GetByID(ctx, documentID)
			if gerr != nil {
				if errors.Is(gerr, repository.ErrNotFound) {
					s.recordReleaseDenied(ctx, documentID, actor, "not_found", nil)
					return ErrNotFound
				}
				s.recordReleaseDenied(ctx, documentID, actor, reasonInternalError, nil)
				return fmt.Errorf("чтение документа %s: %w", documentID, gerr)
			}
			if !current.IsLocked {
				s.recordReleaseDenied(ctx, documentID, actor, "not_locked", nil)
				return ErrNotLocked
			}
			if !current.HeldBy(actor.ID) {
				if actor.IsAdmin() {
					return s.ForceRelease(ctx, documentID, actor)
				}
				s.recordReleaseDenied(ctx, documentID, actor, "not_owner", current)
				return ErrNotOwner
			}
			// actor снова держит блокировку (перезахват между UPDATE и чтением): повторяем

		default:
			s.recordReleaseDenied(ctx, documentID, actor, reasonInternalError, nil)
			return fmt.Errorf("снятие блокировки %s: %w", documentID, err)
		}
	}

	s.recordReleaseDenied(ctx, documentID, actor, reasonContention, nil)
	return fmt.Errorf("%w: документ %s часто меняет состояние, повторите позже", ErrConflict, documentID)
}

// ForceRelease снимает чужую блокировку. Требуется роль admin.
// Снятие условно по версии: блокировка, перезахваченная после чтения, не снимается.
func (s *LockService) ForceRelease(ctx context.Context, documentID string, admin Actor) error {
	if !admin.IsAdmin() {
		s.recordReleaseDenied(ctx, documentID, admin, "forbidden", nil)
		return ErrForbidden
	}

	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.recordReleaseDenied(ctx, documentID, admin, "not_found", nil)
			return ErrNotFound
		}
		s.recordReleaseDenied(ctx, documentID, admin, reasonInternalError, nil)
		return fmt.Errorf("чтение документа %s: %w", documentID, err)
	}
	if !doc.IsLocked {
		s.recordReleaseDenied(ctx, documentID, admin, "not_locked", nil)
		return ErrNotLocked
	}

	if _, err := s.docs.UnlockByVersion(ctx, documentID, doc.Version); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			s.recordReleaseDenied(ctx, documentID, admin, "not_found", nil)
			return ErrNotFound
		case errors.Is(err, repository.ErrPreconditionFailed):
			lockOperations.WithLabelValues("force_release", "conflict").Inc()
			s.recordReleaseDenied(ctx, documentID, admin, "state_changed", doc)
			return fmt.Errorf("%w: блокировка документа %s изменилась", ErrConflict, documentID)
		default:
			lockOperations.WithLabelValues("force_release", "error").Inc()
			s.recordReleaseDenied(ctx, documentID, admin, reasonInternalError, doc)
			return fmt.Errorf("принудительное снятие блокировки %s: %w", documentID, err)
		}
	}

	lockOperations.WithLabelValues("force_release", "released").Inc()
	e := actorEntry(model.AuditCategoryLock, model.ActionLockForceReleased, admin)
	e.Data["document_id"] = documentID
	e.Data["admin_id"] = admin.ID
	e.Data["previous_holder"] = derefString(doc.LockedBy)
	e.Data["locked_at"] = formatTime(doc.LockedAt)
	s.audit.Record(ctx, e)

	s.publish(notify.Notification{
		Type:      notify.TypeLockForced,
		Recipient: derefString(doc.LockedBy),
		Data:      map[string]any{"document_id": documentID, "title": doc.Title, "admin_id": admin.ID},
		CreatedAt: s.clock.Now(),
	})

	s.logger.Info("Блокировка снята принудительно",
		slog.String("document_id", documentID),
		slog.String("admin_id", admin.ID),
		slog.String("previous_holder", derefString(doc.LockedBy)),
	)
	return nil
}

// Status возвращает текущее состояние блокировки документа.
func (s *LockService) Status(ctx context.Context, documentID string) (*model.LockStatus, error) {
	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("чтение документа %s: %w", documentID, err)
	}

	status := &model.LockStatus{
		DocumentID: doc.ID,
		IsLocked:   doc.IsLocked,
		LockedBy:   doc.LockedBy,
		LockedAt:   doc.LockedAt,
	}
	if doc.IsLocked && doc.LockedAt != nil {
		expiresAt := doc.LockedAt.Add(s.ttl)
		status.ExpiresAt = &expiresAt
	}
	return status, nil
}

// ReleaseExpired снимает просроченную блокировку от имени system.
// Возвращает false без ошибки, если блокировка не просрочена или
// изменилась после выборки.
func (s *LockService) ReleaseExpired(ctx context.Context, doc *model.Document) (bool, error) {
	now := s.clock.Now()
	if !doc.LockExpired(now, s.ttl) {
		return false, nil
	}

	if _, err := s.docs.UnlockByVersion(ctx, doc.ID, doc.Version); err != nil {
		if errors.Is(err, repository.ErrPreconditionFailed) || errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		lockOperations.WithLabelValues("auto_release", "error").Inc()
		return false, fmt.Errorf("автоматическое снятие блокировки %s: %w", doc.ID, err)
	}

	lockOperations.WithLabelValues("auto_release", "released").Inc()
	e := actorEntry(model.AuditCategoryLock, model.ActionLockAutoReleased, SystemActor())
	e.Data["document_id"] = doc.ID
	e.Data["previous_holder"] = derefString(doc.LockedBy)
	e.Data["locked_at"] = formatTime(doc.LockedAt)
	e.Data["ttl_seconds"] = int64(s.ttl.Seconds())
	s.audit.Record(ctx, e)

	s.publish(notify.Notification{
		Type:      notify.TypeLockAutoReleased,
		Recipient: derefString(doc.LockedBy),
		Data:      map[string]any{"document_id": doc.ID, "title": doc.Title},
		CreatedAt: now,
	})
	return true, nil
}

func (s *LockService) recordAcquired(ctx context.Context, doc *model.Document, actor Actor, outcome string) {
	lockOperations.WithLabelValues("acquire", outcome).Inc()
	e := actorEntry(model.AuditCategoryLock, model.ActionLockAcquired, actor)
	e.Data["document_id"] = doc.ID
	e.Data["outcome"] = outcome
	e.Data["locked_at"] = formatTime(doc.LockedAt)
	s.audit.Record(ctx, e)
}

func (s *LockService) recordAcquireDenied(ctx context.Context, documentID string, actor Actor, reason string, current *model.Document) {
	lockOperations.WithLabelValues("acquire", reason).Inc()
	e := actorEntry(model.AuditCategoryLock, model.ActionLockAcquireDenied, actor)
	e.Data["document_id"] = documentID
	e.Data["reason"] = reason
	if current != nil {
		e.Data["holder"] = derefString(current.LockedBy)
	}
	s.audit.Record(ctx, e)
}

func (s *LockService) recordReleaseDenied(ctx context.Context, documentID string, actor Actor, reason string, current *model.Document) {
	lockOperations.WithLabelValues("release", reason).Inc()
	e := actorEntry(model.AuditCategoryLock, model.ActionLockReleaseDenied, actor)
	e.Data["document_id"] = documentID
	e.Data["reason"] = reason
	if current != nil {
		e.Data["holder"] = derefString(current.LockedBy)
	}
	s.audit.Record(ctx, e)
}

func (s *LockService) publish(n notify.Notification) {
	if s.notifier != nil && n.Recipient != "" {
		s.notifier.Publish(n)
	}
}

func lockToken(doc *model.Document, alreadyHeld bool) *model.LockToken {
	t := &model.LockToken{
		DocumentID:  doc.ID,
		LockedBy:    derefString(doc.LockedBy),
		AlreadyHeld: alreadyHeld,
	}
	if doc.LockedAt != nil {
		t.LockedAt = *doc.LockedAt
	}
	return t
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// formatTime форматирует время для данных аудита (RFC 3339, UTC).
func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
