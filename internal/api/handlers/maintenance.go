// maintenance.go — ручной запуск очистки (admin).
// POST /api/v1/maintenance/sweep/locks и /api/v1/maintenance/sweep/links.
package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/lexdocs/access-core/internal/api/errors"
	"github.com/bigkaa/lexdocs/access-core/internal/service"
)

// RunSweep — POST /api/v1/maintenance/sweep/{kind}.
// 409, если проход того же типа уже выполняется.
func (h *APIHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	var run func(context.Context) (*service.SweepResult, error)
	switch kind := chi.URLParam(r, "kind"); kind {
	case service.SweepKindLocks:
		run = h.sweeper.RunLockSweep
	case service.SweepKindLinks:
		run = h.sweeper.RunLinkSweep
	default:
		apierrors.NotFound(w, "Неизвестный тип очистки: "+kind)
		return
	}

	result, err := run(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "sweep")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
