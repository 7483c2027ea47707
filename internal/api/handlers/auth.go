// auth.go — обработчики /api/v1/auth endpoints.
// POST /api/v1/auth/login — вход через Keycloak (password grant).
// GET /api/v1/auth/me — текущий пользователь из JWT claims.
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/lexdocs/access-core/internal/api/errors"
	"github.com/bigkaa/lexdocs/access-core/internal/api/middleware"
)

// Login — POST /api/v1/auth/login.
// Ответ — токены Keycloak как есть. Частота ограничена политикой login.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	tokens, err := h.auth.Login(r.Context(), req.Username, req.Password, h.requestContext(r))
	if err != nil {
		h.writeServiceError(w, err, "login")
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

// GetCurrentUser — GET /api/v1/auth/me.
func (h *APIHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
		return
	}

	writeJSON(w, http.StatusOK, currentUserResponse{
		ID:       claims.Subject,
		Username: claims.PreferredUsername,
		Email:    claims.Email,
		Role:     claims.Role,
		Groups:   claims.Groups,
	})
}

// GetIdpStatus — GET /api/v1/idp/status.
// Доступ: admin.
func (h *APIHandler) GetIdpStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, mapIDPStatus(h.auth.IDPStatus(r.Context())))
}
