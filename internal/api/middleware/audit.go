// audit.go — аудит HTTP-запросов и перехват паник.
//
// Для каждого запроса пишутся request_started и затем request_completed
// либо request_failed (статус >= 500 или паника в обработчике).
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	apierrors "github.com/bigkaa/lexdocs/access-core/internal/api/errors"
	"github.com/bigkaa/lexdocs/access-core/internal/audit"
	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
)

// AuditRecorder — запись событий аудита (реализуется audit.Recorder).
type AuditRecorder interface {
	Record(ctx context.Context, entry *model.AuditEntry)
}

// RequestAudit возвращает middleware аудита запросов.
// Должен стоять после JWT middleware, чтобы записи содержали субъекта.
func RequestAudit(recorder AuditRecorder, trustForwardedFor bool, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "request_audit"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ip := ClientIP(r, trustForwardedFor)
			wrapped := newResponseWriter(w)

			recorder.Record(r.Context(), requestEntry(r, model.ActionRequestStarted, ip))

			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("Паника в обработчике запроса",
						slog.String("method", r.Method),
						slog.String("path", redactPath(r.URL.Path)),
						slog.String("panic", fmt.Sprint(rec)),
						slog.String("stack", string(debug.Stack())),
					)

					e := requestEntry(r, model.ActionRequestFailed, ip)
					e.Data["status"] = http.StatusInternalServerError
					e.Data["panic"] = true
					e.Data["duration_ms"] = time.Since(start).Milliseconds()
					recorder.Record(r.Context(), e)

					if !wrapped.wroteHeader {
						apierrors.InternalError(w, "Внутренняя ошибка сервера")
					}
					return
				}

				action := model.ActionRequestCompleted
				if wrapped.statusCode >= http.StatusInternalServerError {
					action = model.ActionRequestFailed
				}
				e := requestEntry(r, action, ip)
				e.Data["status"] = wrapped.statusCode
				e.Data["duration_ms"] = time.Since(start).Milliseconds()
				recorder.Record(r.Context(), e)
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}

func requestEntry(r *http.Request, action, ip string) *model.AuditEntry {
	e := audit.NewEntry(model.AuditCategoryRequest, action)
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		audit.WithSubject(e, claims.Subject, claims.PreferredUsername)
	}
	audit.WithClient(e, ip, r.UserAgent())
	e.Data["method"] = r.Method
	e.Data["path"] = redactPath(r.URL.Path)
	return e
}

// publicSharePrefix — префикс маршрута доступа по ссылке; токен после него секретен.
const publicSharePrefix = "/api/v1/public/share/"

// redactPath скрывает токен ссылки в пути запроса.
func redactPath(path string) string {
	if strings.HasPrefix(path, publicSharePrefix) && len(path) > len(publicSharePrefix) {
		return publicSharePrefix + "{token}"
	}
	return path
}
