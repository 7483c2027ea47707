package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/bigkaa/lexdocs/access-core/internal/admission"
)

// ClientIP возвращает адрес клиента. X-Forwarded-For учитывается только
// при trustForwardedFor (сервис за доверенным reverse proxy): берётся
// первый адрес списка.
func ClientIP(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ClientIPFunc — адрес клиента для записей аудита admission control.
func ClientIPFunc(trustForwardedFor bool) admission.ClientIPFunc {
	return func(r *http.Request) string {
		return ClientIP(r, trustForwardedFor)
	}
}

// IPKey — ключ admission по адресу клиента.
func IPKey(trustForwardedFor bool) admission.KeyFunc {
	return func(r *http.Request) (string, bool) {
		return ClientIP(r, trustForwardedFor), true
	}
}

// UserKey — ключ admission по субъекту JWT. Для анонимных запросов не применяется.
func UserKey() admission.KeyFunc {
	return func(r *http.Request) (string, bool) {
		sub := SubjectFromContext(r.Context())
		return sub, sub != ""
	}
}

// AnonymousIPKey — ключ admission по адресу клиента только для анонимных запросов.
func AnonymousIPKey(trustForwardedFor bool) admission.KeyFunc {
	return func(r *http.Request) (string, bool) {
		if SubjectFromContext(r.Context()) != "" {
			return "", false
		}
		return ClientIP(r, trustForwardedFor), true
	}
}
