package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/capgate/internal/console/service"
	"github.com/xela07ax/capgate/internal/domain"
	"github.com/xela07ax/capgate/internal/infra/auth"
)

type PanicHandler struct {
	service *service.StatusService
}

func NewPanicHandler(s *service.StatusService) *PanicHandler {
	return &PanicHandler{service: s}
}

// List возвращает фазы всех зарегистрированных интеграций.
// GET /v1/panic
func (h *PanicHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.service.Integrations())
}

// Disable — ручной перевод интеграции в PANICKED (kill-switch).
// Автовосстановление после этого отключено до ручного Enable.
// POST /v1/panic/{integration}/disable
func (h *PanicHandler) Disable(w http.ResponseWriter, r *http.Request) {
	integration := chi.URLParam(r, "integration")

	var body struct {
		Reason string `json:"reason"`
	}
	// Тело опционально: без него причина будет пустой
	json.NewDecoder(r.Body).Decode(&body)

	actor := auth.OperatorFromContext(r.Context())
	if err := h.service.DisableIntegration(r.Context(), integration, body.Reason, actor); err != nil {
		if errors.Is(err, domain.ErrUnknownIntegration) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Enable — ручной возврат интеграции в NORMAL.
// POST /v1/panic/{integration}/enable
func (h *PanicHandler) Enable(w http.ResponseWriter, r *http.Request) {
	integration := chi.URLParam(r, "integration")

	actor := auth.OperatorFromContext(r.Context())
	if err := h.service.EnableIntegration(r.Context(), integration, actor); err != nil {
		if errors.Is(err, domain.ErrUnknownIntegration) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
