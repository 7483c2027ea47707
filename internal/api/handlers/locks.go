// locks.go — обработчики /api/v1/documents/{id}/lock.
// Статус, взятие, снятие и принудительное снятие блокировки.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GetLock — GET /api/v1/documents/{id}/lock.
// Доступ: любой аутентифицированный пользователь.
func (h *APIHandler) GetLock(w http.ResponseWriter, r *http.Request) {
	status, err := h.locks.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err, "lock_status")
		return
	}
	writeJSON(w, http.StatusOK, mapLockStatus(status))
}

// AcquireLock — POST /api/v1/documents/{id}/lock.
// 200 с already_held=true, если блокировка уже у вызывающего; 409 LOCKED, если у другого.
func (h *APIHandler) AcquireLock(w http.ResponseWriter, r *http.Request) {
	token, err := h.locks.Acquire(r.Context(), chi.URLParam(r, "id"), h.actor(r))
	if err != nil {
		h.writeServiceError(w, err, "lock_acquire")
		return
	}
	writeJSON(w, http.StatusOK, mapLockToken(token))
}

// ReleaseLock — DELETE /api/v1/documents/{id}/lock.
func (h *APIHandler) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	if err := h.locks.Release(r.Context(), chi.URLParam(r, "id"), h.actor(r)); err != nil {
		h.writeServiceError(w, err, "lock_release")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ForceReleaseLock — POST /api/v1/documents/{id}/lock/force-release.
// Доступ: admin (проверяется и в сервисе).
func (h *APIHandler) ForceReleaseLock(w http.ResponseWriter, r *http.Request) {
	if err := h.locks.ForceRelease(r.Context(), chi.URLParam(r, "id"), h.actor(r)); err != nil {
		h.writeServiceError(w, err, "lock_force_release")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
