// Пакет errors — конструкторы стандартных ошибок HTTP API.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Коды ошибок API.
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeConflict         = "CONFLICT"
	CodeLocked           = "LOCKED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeLinkExpired      = "LINK_EXPIRED"
	CodeLinkInactive     = "LINK_INACTIVE"
	CodeLinkLimitReached = "LINK_LIMIT_REACHED"
	CodeWrongPassword    = "WRONG_PASSWORD"
	CodeIDPUnavailable   = "IDP_UNAVAILABLE"
	CodeInternalError    = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт состояния.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// Locked — 409 документ заблокирован другим пользователем.
func Locked(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeLocked, message)
}

// RateLimited — 429 превышен лимит запросов.
// retryAfter — значение заголовка Retry-After в секундах.
func RateLimited(w http.ResponseWriter, retryAfter int, message string) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	WriteError(w, http.StatusTooManyRequests, CodeRateLimited, message)
}

// LinkExpired — 410 срок действия ссылки истёк.
func LinkExpired(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, CodeLinkExpired, message)
}

// LinkInactive — 410 ссылка деактивирована.
func LinkInactive(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, CodeLinkInactive, message)
}

// LinkLimitReached — 410 исчерпан лимит обращений по ссылке.
func LinkLimitReached(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusGone, CodeLinkLimitReached, message)
}

// WrongPassword — 401 неверный пароль ссылки.
func WrongPassword(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeWrongPassword, message)
}

// IDPUnavailable — 502 Identity Provider (Keycloak) недоступен.
func IDPUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, CodeIDPUnavailable, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
