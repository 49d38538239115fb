package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/capgate/internal/console/service"
)

type StatusHandler struct {
	service *service.StatusService
}

func NewStatusHandler(s *service.StatusService) *StatusHandler {
	return &StatusHandler{service: s}
}

// Queue возвращает загрузку очереди по организациям (active + pending).
// GET /v1/queues/{queue}
func (h *StatusHandler) Queue(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	if queue == "" {
		http.Error(w, "Queue name is required", http.StatusBadRequest)
		return
	}

	states, err := h.service.Queue(r.Context(), queue)
	if err != nil {
		http.Error(w, "Failed to fetch queue state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(states)
}

// GetStats — сводка исходов вызовов по интеграциям для дашборда.
// GET /api/v1/dashboard/stats?window=1h
func (h *StatusHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			http.Error(w, "Invalid window", http.StatusBadRequest)
			return
		}
		window = d
	}

	stats, err := h.service.DashboardStats(r.Context(), window)
	if err != nil {
		http.Error(w, "Failed to fetch stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
