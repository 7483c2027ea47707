// audit.go — GET /api/v1/audit: выборка журнала аудита (admin).
// Фильтры: category, action, subject_id, from, to (RFC 3339).
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/lexdocs/access-core/internal/api/errors"
	"github.com/bigkaa/lexdocs/access-core/internal/domain/model"
)

// ListAudit — GET /api/v1/audit.
func (h *APIHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	filter, err := auditFilter(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	entries, total, err := h.audit.List(r.Context(), filter, limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "audit_list")
		return
	}

	writeJSON(w, http.StatusOK, listResponse[auditEntryResponse]{
		Items:  mapSlice(entries, mapAuditEntry),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func auditFilter(r *http.Request) (model.AuditFilter, error) {
	var f model.AuditFilter
	q := r.URL.Query()
	f.Category = optionalParam(q.Get("category"))
	f.Action = optionalParam(q.Get("action"))
	f.SubjectID = optionalParam(q.Get("subject_id"))

	var err error
	if f.From, err = parseTimeParam(r, "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTimeParam(r, "to"); err != nil {
		return f, err
	}
	return f, nil
}

func optionalParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
