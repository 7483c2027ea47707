// links.go — обработчики внешних ссылок.
// Управление: /api/v1/documents/{id}/share-links, /api/v1/share-links/{id}/...
// Публичный доступ: POST /api/v1/public/share/{token}.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/lexdocs/access-core/internal/api/errors"
	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
	"github.com/bigkaa/lexdocs/access-core/internal/service"
)

// CreateShareLink — POST /api/v1/documents/{id}/share-links.
// Токен возвращается только здесь.
func (h *APIHandler) CreateShareLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	link, err := h.links.CreateLink(r.Context(), service.CreateLinkParams{
		DocumentID:     chi.URLParam(r, "id"),
		ExpiresAt:      req.ExpiresAt,
		MaxAccessCount: req.MaxAccessCount,
		Password:       req.Password,
	}, h.actor(r))
	if err != nil {
		h.writeServiceError(w, err, "link_create")
		return
	}
	writeJSON(w, http.StatusCreated, mapLink(link, true))
}

// ListShareLinks — GET /api/v1/documents/{id}/share-links.
func (h *APIHandler) ListShareLinks(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	links, total, err := h.links.ListByDocument(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "link_list")
		return
	}

	writeJSON(w, http.StatusOK, listResponse[linkResponse]{
		Items: mapSlice(links, func(l *model.SharedLink) linkResponse {
			return mapLink(l, false)
		}),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// DeactivateShareLink — POST /api/v1/share-links/{id}/deactivate.
// Доступ: создатель ссылки или admin.
func (h *APIHandler) DeactivateShareLink(w http.ResponseWriter, r *http.Request) {
	link, err := h.links.Deactivate(r.Context(), chi.URLParam(r, "id"), h.actor(r))
	if err != nil {
		h.writeServiceError(w, err, "link_deactivate")
		return
	}
	writeJSON(w, http.StatusOK, mapLink(link, false))
}

// ReactivateShareLink — POST /api/v1/share-links/{id}/reactivate.
// Доступ: admin. Тело необязательно.
func (h *APIHandler) ReactivateShareLink(w http.ResponseWriter, r *http.Request) {
	var req reactivateLinkRequest
	if err := decodeJSON(r, &req, true); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	link, err := h.links.Reactivate(r.Context(), chi.URLParam(r, "id"), service.ReactivateParams{
		ExpiresAt:      req.ExpiresAt,
		MaxAccessCount: req.MaxAccessCount,
	}, h.actor(r))
	if err != nil {
		h.writeServiceError(w, err, "link_reactivate")
		return
	}
	writeJSON(w, http.StatusOK, mapLink(link, false))
}

// ListShareLinkAccessLog — GET /api/v1/share-links/{id}/access-log.
func (h *APIHandler) ListShareLinkAccessLog(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	entries, total, err := h.links.ListAccessLog(r.Context(), chi.URLParam(r, "id"), h.actor(r), limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "link_access_log")
		return
	}

	writeJSON(w, http.StatusOK, listResponse[accessLogResponse]{
		Items:  mapSlice(entries, mapAccessLog),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// AccessShareLink — POST /api/v1/public/share/{token}.
// Без аутентификации. Тело {"password": "..."} необязательно.
func (h *APIHandler) AccessShareLink(w http.ResponseWriter, r *http.Request) {
	var req accessLinkRequest
	if err := decodeJSON(r, &req, true); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	ref, err := h.links.Access(r.Context(), chi.URLParam(r, "token"), req.Password, h.requestContext(r))
	if err != nil {
		h.writeServiceError(w, err, "link_access")
		return
	}
	writeJSON(w, http.StatusOK, mapDocumentRef(ref))
}
