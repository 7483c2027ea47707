package admission

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/lexdocs/access-core/internal/api/errors"
	"github.com/bigkaa/lexdocs/access-core/internal/audit"
	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
)

// KeyFunc извлекает ключ раздела из запроса.
// ok == false — политика к запросу не применяется.
type KeyFunc func(r *http.Request) (key string, ok bool)

// ClientIPFunc возвращает адрес клиента для записи аудита. Ключ раздела
// может не содержать адреса (политика user), поэтому адрес определяется отдельно.
type ClientIPFunc func(r *http.Request) string

// AuditRecorder — запись событий аудита (реализуется audit.Recorder).
type AuditRecorder interface {
	Record(ctx context.Context, entry *model.AuditEntry)
}

// Middleware возвращает HTTP middleware, применяющий политику p.
// При отказе: 429, Retry-After, код RATE_LIMITED и запись rate_limit_rejected
// с адресом клиента из clientIP (nil — адрес не пишется).
// Состояние учётных записей не затрагивается.
func (l *Limiter) Middleware(p Policy, keyFn KeyFunc, clientIP ClientIPFunc, recorder AuditRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := keyFn(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			d := l.Allow(r.Context(), p, key)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if d.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			l.logger.Info("Запрос отклонён admission control",
				slog.String("policy", p.Name),
				slog.String("partition", key),
				slog.String("route", routePattern(r)),
			)

			if recorder != nil {
				entry := audit.NewEntry(model.AuditCategoryAdmission, model.ActionRateLimitRejected)
				entry.Data["policy"] = p.Name
				entry.Data["partition"] = key
				entry.Data["method"] = r.Method
				entry.Data["route"] = routePattern(r)
				entry.Data["retry_after"] = d.RetryAfterSeconds()
				ip := ""
				if clientIP != nil {
					ip = clientIP(r)
				}
				recorder.Record(r.Context(), audit.WithClient(entry, ip, r.UserAgent()))
			}

			apierrors.RateLimited(w, d.RetryAfterSeconds(), "Слишком много запросов, повторите позже")
		})
	}
}

// routePattern возвращает шаблон маршрута chi. Сам путь не пишется:
// в нём может быть токен внешней ссылки. До маршрутизации шаблон пуст.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
