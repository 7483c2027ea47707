// share_links.go — внешние ссылки доступа к документам.
//
// Проверки в Access выполняются строго по порядку: токен, активность,
// срок, лимит, пароль. Счётчик увеличивается только условным UPDATE
// в одной транзакции с записью в link_access_logs.
package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/lexdocs/access-core/internal/clock"
	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
	"github.com/bigkaa/lexdocs/access-core/internal/notify"
	"github.com/bigkaa/lexdocs/access-core/internal/repository"
)

const (
	// tokenBytes — длина случайной части токена (256 бит).
	tokenBytes = 32
	// maxPasswordBytes — ограничение bcrypt на длину пароля.
	maxPasswordBytes = 72
)

// Причины отказа в доступе по ссылке (поле reason в аудите).
const (
	denyNotFound      = "not_found"
	denyInactive      = "inactive"
	denyExpired       = "expired"
	denyLimitReached  = "limit_reached"
	denyWrongPassword = "wrong_password"
	// denyInternalError, denyContention — отказ из-за сбоя хранилища
	// или постоянно меняющегося состояния ссылки
	denyInternalError = "internal_error"
	denyContention    = "contention"
)

// linkAccessOutcomes — исходы обращений по ссылкам.
var linkAccessOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ld_link_access_total",
		Help: "Количество обращений по внешним ссылкам по исходам",
	},
	[]string{"outcome"},
)

// CreateLinkParams — параметры создания ссылки.
type CreateLinkParams struct {
	DocumentID string
	ExpiresAt  time.Time
	// MaxAccessCount — лимит обращений (nil — без лимита)
	MaxAccessCount *int
	// Password — пароль ссылки (nil — без пароля)
	Password *string
}

// ReactivateParams — новые значения при повторной активации ссылки.
// Nil-поля оставляют текущие значения.
type ReactivateParams struct {
	ExpiresAt      *time.Time
	MaxAccessCount *int
}

// ShareLinkService — создание и проверка внешних ссылок.
type ShareLinkService struct {
	links      repository.SharedLinkRepository
	accessLogs repository.LinkAccessLogRepository
	audit      AuditRecorder
	notifier   Notifier
	clock      clock.Clock
	maxTTL     time.Duration
	bcryptCost int
	logger     *slog.Logger
}

// NewShareLinkService создаёт ShareLinkService.
// maxTTL — максимальный срок жизни ссылки (0 — без ограничения).
func NewShareLinkService(
	links repository.SharedLinkRepository,
	accessLogs repository.LinkAccessLogRepository,
	recorder AuditRecorder,
	notifier Notifier,
	clk clock.Clock,
	maxTTL time.Duration,
	bcryptCost int,
	logger *slog.Logger,
) *ShareLinkService {
	return &ShareLinkService{
		links:      links,
		accessLogs: accessLogs,
		audit:      recorder,
		notifier:   notifier,
		clock:      clk,
		maxTTL:     maxTTL,
		bcryptCost: bcryptCost,
		logger:     logger.With(slog.String("component", "share_link_service")),
	}
}

// CreateLink создаёт ссылку на документ от имени creator.
func (s *ShareLinkService) CreateLink(ctx context.Context, params CreateLinkParams, creator Actor) (*model.SharedLink, error) {
	now := s.clock.Now()
	if err := s.validateCreate(params, now); err != nil {
		return nil, err
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("генерация токена: %w", err)
	}

	link := &model.SharedLink{
		ID:             uuid.New().String(),
		DocumentID:     params.DocumentID,
		Token:          token,
		CreatedBy:      creator.ID,
		ExpiresAt:      params.ExpiresAt.UTC(),
		MaxAccessCount: params.MaxAccessCount,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if params.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*params.Password), s.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("хэширование пароля ссылки: %w", err)
		}
		h := string(hash)
		link.PasswordHash = &h
	}

	if err := s.links.Create(ctx, link); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: документ %s", ErrNotFound, params.DocumentID)
		}
		return nil, fmt.Errorf("создание ссылки: %w", err)
	}

	e := actorEntry(model.AuditCategoryLink, model.ActionLinkCreated, creator)
	e.Data["link_id"] = link.ID
	e.Data["document_id"] = link.DocumentID
	e.Data["expires_at"] = formatTime(&link.ExpiresAt)
	e.Data["has_password"] = link.HasPassword()
	if link.MaxAccessCount != nil {
		e.Data["max_access_count"] = *link.MaxAccessCount
	}
	s.audit.Record(ctx, e)

	s.publish(notify.Notification{
		Type:      notify.TypeLinkCreated,
		Recipient: creator.ID,
		Data:      map[string]any{"link_id": link.ID, "document_id": link.DocumentID},
		CreatedAt: now,
	})

	s.logger.Info("Ссылка создана",
		slog.String("link_id", link.ID),
		slog.String("document_id", link.DocumentID),
		slog.String("created_by", creator.ID),
	)
	return link, nil
}

func (s *ShareLinkService) validateCreate(params CreateLinkParams, now time.Time) error {
	if params.DocumentID == "" {
		return fmt.Errorf("%w: document_id обязателен", ErrValidation)
	}
	if !params.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expires_at должен быть в будущем", ErrValidation)
	}
	if s.maxTTL > 0 && params.ExpiresAt.Sub(now) > s.maxTTL {
		return fmt.Errorf("%w: срок жизни ссылки превышает %s", ErrValidation, s.maxTTL)
	}
	if params.MaxAccessCount != nil && *params.MaxAccessCount < 1 {
		return fmt.Errorf("%w: max_access_count должен быть не меньше 1", ErrValidation)
	}
	if params.Password != nil {
		if *params.Password == "" {
			return fmt.Errorf("%w: пароль не может быть пустым", ErrValidation)
		}
		if len(*params.Password) > maxPasswordBytes {
			return fmt.Errorf("%w: пароль длиннее %d байт", ErrValidation, maxPasswordBytes)
		}
	}
	return nil
}

// Access проверяет ссылку и учитывает обращение.
// Каждый отказ записывается в аудит ровно одной записью link_access_denied.
func (s *ShareLinkService) Access(ctx context.Context, token string, password *string, rc RequestContext) (*model.DocumentRef, error) {
	link, err := s.links.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.recordDenied(ctx, nil, denyNotFound, rc)
			return nil, ErrLinkNotFound
		}
		s.recordDenied(ctx, nil, denyInternalError, rc)
		return nil, fmt.Errorf("поиск ссылки: %w", err)
	}

	now := s.clock.Now()
	passwordChecked := false

	for range maxCASAttempts {
		if reason, denyErr := s.checkState(ctx, link, now); denyErr != nil {
			s.recordDenied(ctx, link, reason, rc)
			return nil, denyErr
		}

		// Неверный пароль не расходует лимит: проверка до инкремента
		if link.HasPassword() && !passwordChecked {
			if password == nil ||
				bcrypt.CompareHashAndPassword([]byte(*link.PasswordHash), []byte(*password)) != nil {
				s.recordDenied(ctx, link, denyWrongPassword, rc)
				return nil, ErrWrongPassword
			}
			passwordChecked = true
		}

		entry := &model.LinkAccessLog{
			ID:         uuid.New().String(),
			LinkID:     link.ID,
			AccessedAt: now,
			IPAddress:  optionalString(rc.IP),
			UserAgent:  optionalString(rc.UserAgent),
		}
		updated, err := s.links.RecordAccess(ctx, link.ID, entry)
		if err == nil {
			return s.accessGranted(ctx, updated, rc, now), nil
		}
		if !errors.Is(err, repository.ErrPreconditionFailed) {
			s.recordDenied(ctx, link, denyInternalError, rc)
			return nil, fmt.Errorf("учёт обращения по ссылке %s: %w", link.ID, err)
		}

		// Условие не выполнено: перечитываем и классифицируем заново
		current, err := s.links.GetByID(ctx, link.ID)
		if err != nil {
			s.recordDenied(ctx, link, denyInternalError, rc)
			return nil, fmt.Errorf("чтение ссылки: %w", err)
		}
		link = current
	}

	s.recordDenied(ctx, link, denyContention, rc)
	return nil, fmt.Errorf("%w: ссылка часто меняет состояние, повторите позже", ErrConflict)
}

// checkState проверяет активность, срок и лимит ссылки.
// Истёкшая или исчерпанная активная ссылка деактивируется: такое обращение
// оставляет две записи аудита, link_auto_deactivated от system и
// link_access_denied от клиента.
func (s *ShareLinkService) checkState(ctx context.Context, link *model.SharedLink, now time.Time) (string, error) {
	if !link.IsActive {
		// Повторные обращения к истёкшей или исчерпанной ссылке получают
		// ту же причину, что и первое
		switch {
		case link.Expired(now):
			return denyExpired, ErrLinkExpired
		case link.Exhausted():
			return denyLimitReached, ErrLinkLimitReached
		}
		return denyInactive, ErrLinkInactive
	}
	if link.Expired(now) {
		s.deactivate(ctx, link, model.DeactivationExpired, now)
		return denyExpired, ErrLinkExpired
	}
	if link.Exhausted() {
		s.deactivate(ctx, link, model.DeactivationLimitReached, now)
		return denyLimitReached, ErrLinkLimitReached
	}
	return "", nil
}

// deactivate выполняет ленивую деактивацию. Ошибка записи не меняет
// результат проверки: ссылку всё равно отклоняем, sweeper повторит попытку.
func (s *ShareLinkService) deactivate(ctx context.Context, link *model.SharedLink, reason string, now time.Time) {
	if _, err := s.DeactivateStale(ctx, link, reason, now); err != nil {
		s.logger.Warn("Не удалось деактивировать ссылку",
			slog.String("link_id", link.ID),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}

func (s *ShareLinkService) accessGranted(ctx context.Context, link *model.SharedLink, rc RequestContext, now time.Time) *model.DocumentRef {
	linkAccessOutcomes.WithLabelValues("granted").Inc()

	ref := &model.DocumentRef{
		DocumentID: link.DocumentID,
		LinkID:     link.ID,
		ExpiresAt:  link.ExpiresAt,
	}
	if link.MaxAccessCount != nil {
		remaining := max(*link.MaxAccessCount-link.CurrentAccessCount, 0)
		ref.RemainingAccesses = &remaining
	}

	e := anonymousEntry(model.AuditCategoryLink, model.ActionLinkAccessed, rc)
	e.Data["link_id"] = link.ID
	e.Data["document_id"] = link.DocumentID
	e.Data["access_count"] = link.CurrentAccessCount
	s.audit.Record(ctx, e)

	s.publish(notify.Notification{
		Type:      notify.TypeLinkAccessed,
		Recipient: link.CreatedBy,
		Data: map[string]any{
			"link_id":      link.ID,
			"document_id":  link.DocumentID,
			"access_count": link.CurrentAccessCount,
			"ip_address":   rc.IP,
		},
		CreatedAt: now,
	})
	return ref
}

func (s *ShareLinkService) recordDenied(ctx context.Context, link *model.SharedLink, reason string, rc RequestContext) {
	linkAccessOutcomes.WithLabelValues(reason).Inc()
	e := anonymousEntry(model.AuditCategoryLink, model.ActionLinkAccessDenied, rc)
	e.Data["reason"] = reason
	if link != nil {
		e.Data["link_id"] = link.ID
		e.Data["document_id"] = link.DocumentID
	}
	s.audit.Record(ctx, e)
}

// DeactivateStale деактивирует истёкшую или исчерпанную ссылку от имени system.
// link — снимок, по которому принято решение; сама деактивация условна и
// повторяет проверку в БД. Возвращает false без ошибки, если ссылка уже
// неактивна или после снимка перестала быть устаревшей (например, её
// повторно активировали с новым сроком).
func (s *ShareLinkService) DeactivateStale(ctx context.Context, link *model.SharedLink, reason string, now time.Time) (bool, error) {
	if _, err := s.links.DeactivateIfStale(ctx, link.ID, reason, now); err != nil {
		if errors.Is(err, repository.ErrPreconditionFailed) || errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("деактивация ссылки %s: %w", link.ID, err)
	}

	e := actorEntry(model.AuditCategoryLink, model.ActionLinkAutoDeactivated, SystemActor())
	e.Data["link_id"] = link.ID
	e.Data["document_id"] = link.DocumentID
	e.Data["reason"] = reason
	s.audit.Record(ctx, e)

	s.logger.Info("Ссылка деактивирована",
		slog.String("link_id", link.ID),
		slog.String("reason", reason),
	)
	return true, nil
}

// Deactivate деактивирует ссылку вручную. Доступно создателю и администратору.
func (s *ShareLinkService) Deactivate(ctx context.Context, linkID string, actor Actor) (*model.SharedLink, error) {
	link, err := s.getLink(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link.CreatedBy != actor.ID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}

	updated, err := s.links.Deactivate(ctx, linkID, model.DeactivationManual, s.clock.Now())
	if err != nil {
		if errors.Is(err, repository.ErrPreconditionFailed) {
			return nil, ErrLinkInactive
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("деактивация ссылки %s: %w", linkID, err)
	}

	e := actorEntry(model.AuditCategoryLink, model.ActionLinkDeactivated, actor)
	e.Data["link_id"] = linkID
	e.Data["document_id"] = link.DocumentID
	s.audit.Record(ctx, e)
	return updated, nil
}

// Reactivate повторно активирует ссылку. Только для администратора.
// Ссылка, которая после применения params осталась бы истёкшей или
// исчерпанной, не активируется.
func (s *ShareLinkService) Reactivate(ctx context.Context, linkID string, params ReactivateParams, admin Actor) (*model.SharedLink, error) {
	if !admin.IsAdmin() {
		return nil, ErrForbidden
	}
	link, err := s.getLink(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link.IsActive {
		return nil, fmt.Errorf("%w: ссылка уже активна", ErrConflict)
	}

	now := s.clock.Now()
	candidate := *link
	if params.ExpiresAt != nil {
		candidate.ExpiresAt = params.ExpiresAt.UTC()
	}
	if params.MaxAccessCount != nil {
		candidate.MaxAccessCount = params.MaxAccessCount
	}
	if candidate.Expired(now) {
		return nil, fmt.Errorf("%w: срок действия ссылки истёк, укажите новый expires_at", ErrValidation)
	}
	if s.maxTTL > 0 && candidate.ExpiresAt.Sub(now) > s.maxTTL {
		return nil, fmt.Errorf("%w: срок жизни ссылки превышает %s", ErrValidation, s.maxTTL)
	}
	if candidate.Exhausted() {
		return nil, fmt.Errorf("%w: лимит обращений исчерпан, увеличьте max_access_count", ErrValidation)
	}

	updated, err := s.links.Reactivate(ctx, linkID, link.Version, params.ExpiresAt, params.MaxAccessCount)
	if err != nil {
		if errors.Is(err, repository.ErrPreconditionFailed) {
			return nil, fmt.Errorf("%w: ссылка изменилась, повторите запрос", ErrConflict)
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("активация ссылки %s: %w", linkID, err)
	}

	e := actorEntry(model.AuditCategoryLink, model.ActionLinkReactivated, admin)
	e.Data["link_id"] = linkID
	e.Data["document_id"] = link.DocumentID
	e.Data["expires_at"] = formatTime(&updated.ExpiresAt)
	s.audit.Record(ctx, e)
	return updated, nil
}

// Get возвращает ссылку по ID.
func (s *ShareLinkService) Get(ctx context.Context, linkID string) (*model.SharedLink, error) {
	return s.getLink(ctx, linkID)
}

// ListByDocument возвращает страницу ссылок документа и их общее количество.
func (s *ShareLinkService) ListByDocument(ctx context.Context, documentID string, limit, offset int) ([]*model.SharedLink, int, error) {
	links, err := s.links.ListByDocument(ctx, documentID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("список ссылок документа: %w", err)
	}
	total, err := s.links.CountByDocument(ctx, documentID)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт ссылок документа: %w", err)
	}
	return links, total, nil
}

// ListAccessLog возвращает журнал обращений по ссылке и общее количество.
// Доступно создателю ссылки и администратору.
func (s *ShareLinkService) ListAccessLog(ctx context.Context, linkID string, actor Actor, limit, offset int) ([]*model.LinkAccessLog, int, error) {
	link, err := s.getLink(ctx, linkID)
	if err != nil {
		return nil, 0, err
	}
	if link.CreatedBy != actor.ID && !actor.IsAdmin() {
		return nil, 0, ErrForbidden
	}

	items, err := s.accessLogs.ListByLink(ctx, linkID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("журнал обращений: %w", err)
	}
	total, err := s.accessLogs.CountByLink(ctx, linkID)
	if err != nil {
		return nil, 0, fmt.Errorf("подсчёт обращений: %w", err)
	}
	return items, total, nil
}

func (s *ShareLinkService) getLink(ctx context.Context, linkID string) (*model.SharedLink, error) {
	link, err := s.links.GetByID(ctx, linkID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("чтение ссылки %s: %w", linkID, err)
	}
	return link, nil
}

func (s *ShareLinkService) publish(n notify.Notification) {
	if s.notifier != nil && n.Recipient != "" {
		s.notifier.Publish(n)
	}
}

// generateToken возвращает 32 случайных байта в base64url без padding (43 символа).
func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
