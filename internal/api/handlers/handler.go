// handler.go — основной обработчик API.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	apierrors "github.com/bigkaa/lexdocs/access-core/internal/api/errors"
	"github.com/bigkaa/lexdocs/access-core/internal/api/middleware"
	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
	"github.com/bigkaa/lexdocs/access-core/internal/keycloak"
	"github.com/bigkaa/lexdocs/access-core/internal/service"
)

// LockManager — операции с блокировками (реализуется service.LockService).
type LockManager interface {
	Acquire(ctx context.Context, documentID string, actor service.Actor) (*model.LockToken, error)
	Release(ctx context.Context, documentID string, actor service.Actor) error
	ForceRelease(ctx context.Context, documentID string, admin service.Actor) error
	Status(ctx context.Context, documentID string) (*model.LockStatus, error)
}

// ShareLinks — операции с внешними ссылками (реализуется service.ShareLinkService).
type ShareLinks interface {
	CreateLink(ctx context.Context, params service.CreateLinkParams, creator service.Actor) (*model.SharedLink, error)
	Access(ctx context.Context, token string, password *string, rc service.RequestContext) (*model.DocumentRef, error)
	Deactivate(ctx context.Context, linkID string, actor service.Actor) (*model.SharedLink, error)
	Reactivate(ctx context.Context, linkID string, params service.ReactivateParams, admin service.Actor) (*model.SharedLink, error)
	ListByDocument(ctx context.Context, documentID string, limit, offset int) ([]*model.SharedLink, int, error)
	ListAccessLog(ctx context.Context, linkID string, actor service.Actor, limit, offset int) ([]*model.LinkAccessLog, int, error)
}

// Authenticator — вход пользователей (реализуется service.AuthService).
type Authenticator interface {
	Login(ctx context.Context, username, password string, rc service.RequestContext) (*keycloak.TokenResponse, error)
	IDPStatus(ctx context.Context) *service.IDPStatus
}

// AuditReader — чтение журнала аудита (реализуется audit.Recorder).
type AuditReader interface {
	List(ctx context.Context, filter model.AuditFilter, limit, offset int) ([]*model.AuditEntry, int, error)
}

// Sweeper — ручной запуск очистки (реализуется service.SweeperService).
type Sweeper interface {
	RunLockSweep(ctx context.Context) (*service.SweepResult, error)
	RunLinkSweep(ctx context.Context) (*service.SweepResult, error)
}

// Deps — зависимости APIHandler.
type Deps struct {
	Health            *HealthHandler
	Locks             LockManager
	Links             ShareLinks
	Auth              Authenticator
	Audit             AuditReader
	Sweeper           Sweeper
	TrustForwardedFor bool
}

// APIHandler — обработчик API.
type APIHandler struct {
	health   *HealthHandler
	locks    LockManager
	links    ShareLinks
	auth     Authenticator
	audit    AuditReader
	sweeper  Sweeper
	trustXFF bool
	logger   *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(deps Deps, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		health:   deps.Health,
		locks:    deps.Locks,
		links:    deps.Links,
		auth:     deps.Auth,
		audit:    deps.Audit,
		sweeper:  deps.Sweeper,
		trustXFF: deps.TrustForwardedFor,
		logger:   logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// actor строит субъекта операции из claims JWT и данных клиента.
func (h *APIHandler) actor(r *http.Request) service.Actor {
	a := service.Actor{
		IP:        middleware.ClientIP(r, h.trustXFF),
		UserAgent: r.UserAgent(),
	}
	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		a.ID = claims.Subject
		a.Name = claims.PreferredUsername
		a.Role = claims.Role
	}
	return a
}

// requestContext возвращает данные анонимного клиента.
func (h *APIHandler) requestContext(r *http.Request) service.RequestContext {
	return service.RequestContext{
		IP:        middleware.ClientIP(r, h.trustXFF),
		UserAgent: r.UserAgent(),
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает тело запроса. Пустое тело допустимо, если allowEmpty.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("некорректный JSON: %w", err)
	}
	return nil
}

// pagination разбирает limit и offset из query-параметров.
// По умолчанию limit=100, максимум 1000.
func pagination(r *http.Request) (limit, offset int, err error) {
	limit, offset = 100, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, errors.New("limit должен быть положительным числом")
		}
		limit = min(limit, 1000)
	}
	if v := q.Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset должен быть неотрицательным числом")
		}
	}
	return limit, offset, nil
}

// parseTimeParam разбирает время в формате RFC 3339 из query-параметра.
func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%s: ожидается время в формате RFC 3339", name)
	}
	t = t.UTC()
	return &t, nil
}

// writeServiceError преобразует ошибку сервисного слоя в HTTP-ответ.
// Внутренние ошибки логируются, клиент получает общее сообщение.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, service.ErrAlreadyLocked):
		apierrors.Locked(w, err.Error())
	case errors.Is(err, service.ErrLinkExpired):
		apierrors.LinkExpired(w, "Срок действия ссылки истёк")
	case errors.Is(err, service.ErrLinkLimitReached):
		apierrors.LinkLimitReached(w, "Лимит обращений по ссылке исчерпан")
	case errors.Is(err, service.ErrLinkInactive), errors.Is(err, service.ErrGone):
		apierrors.LinkInactive(w, "Ссылка деактивирована")
	case errors.Is(err, service.ErrWrongPassword):
		apierrors.WrongPassword(w, "Неверный пароль ссылки")
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		apierrors.Unauthorized(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrIDPUnavailable):
		apierrors.IDPUnavailable(w, "Identity Provider недоступен, повторите позже")
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("operation", op),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}
