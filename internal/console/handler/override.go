package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/xela07ax/capgate/internal/console/service"
	"github.com/xela07ax/capgate/internal/domain"
	"github.com/xela07ax/capgate/internal/infra/auth"
)

type OverrideHandler struct {
	service *service.OverrideService
}

func NewOverrideHandler(s *service.OverrideService) *OverrideHandler {
	return &OverrideHandler{service: s}
}

// List возвращает все действующие оверрайды.
// GET /v1/overrides
func (h *OverrideHandler) List(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.service.ListActive(r.Context())
	if err != nil {
		http.Error(w, "Failed to fetch overrides", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(overrides)
}

// Create создает или заменяет оверрайд для пары (path, org_id).
// POST /v1/overrides
func (h *OverrideHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.SetOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Кем сделано изменение — из JWT, не из тела запроса
	actor := auth.OperatorFromContext(r.Context())

	ov, err := h.service.Set(r.Context(), req, actor)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownCapability):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrOverrideConflict):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ov)
}

// Delete отзывает оверрайд. Сама запись остается в истории.
// DELETE /v1/overrides?path=external.afip&org_id=org-123
func (h *OverrideHandler) Delete(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	var orgID *string
	if v := r.URL.Query().Get("org_id"); v != "" {
		orgID = &v
	}

	removed, err := h.service.Remove(r.Context(), path, orgID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownCapability) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !removed {
		http.Error(w, "Override not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History отдает журнал оверрайдов страницами, новые сверху.
// GET /v1/audit?limit=100&offset=0
func (h *OverrideHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	overrides, err := h.service.ListHistory(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, "Failed to fetch history", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(overrides)
}

// Snapshot — полный резолв всех способностей для тенанта.
// GET /v1/capabilities/snapshot?org_id=org-123
func (h *OverrideHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	var orgID *string
	if v := r.URL.Query().Get("org_id"); v != "" {
		orgID = &v
	}

	snap := h.service.Snapshot(r.Context(), orgID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}
