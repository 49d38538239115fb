package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/capgate/internal/capability"
	"github.com/xela07ax/capgate/internal/domain"
	"github.com/xela07ax/capgate/internal/scheduler"
	"go.uber.org/zap"
)

// OutcomeSink — приемник исходов вызовов (Panic Controller).
type OutcomeSink interface {
	ReportOutcome(ctx context.Context, integration string, success bool)
}

// Server — data-plane API демона для сервисов, не встраивающих библиотеку:
// проверка capability, репорт исходов интеграций и допуск в очереди.
// Go-сервисы ходят в те же компоненты in-process через capability.Guard.
type Server struct {
	router   *chi.Mux
	resolver *capability.Resolver
	sink     OutcomeSink
	recorder capability.OutcomeRecorder
	sched    *scheduler.FairScheduler
	logger   *zap.Logger
}

func NewServer(
	resolver *capability.Resolver,
	sink OutcomeSink,
	recorder capability.OutcomeRecorder,
	sched *scheduler.FairScheduler,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		resolver: resolver,
		sink:     sink,
		recorder: recorder,
		sched:    sched,
		logger:   logger.Named("gateway"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/v1/check", s.check)
	r.Post("/v1/outcomes", s.reportOutcome)

	r.Route("/v1/queues/{queue}", func(r chi.Router) {
		r.Post("/slots", s.acquireSlot)
		r.Delete("/slots", s.releaseSlot)
		r.Get("/next", s.next)
		r.Get("/order", s.order)
	})
}

// check — резолв одной capability для тенанта.
// GET /v1/check?path=external.afip&org_id=org-123
func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	rawPath := r.URL.Query().Get("path")
	path, err := domain.ParseCapabilityPath(rawPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var orgID *string
	if v := r.URL.Query().Get("org_id"); v != "" {
		orgID = &v
	}

	d := s.resolver.Resolve(r.Context(), path, orgID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d)
}

type outcomeRequest struct {
	Integration string `json:"integration"`
	OrgID       string `json:"org_id,omitempty"`
	Capability  string `json:"capability,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
}

// reportOutcome — исход реального вызова интеграции, сделанного внешним воркером.
// Двигает конечный автомат паники и попадает в журнал исходов.
// POST /v1/outcomes
func (s *Server) reportOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Integration == "" {
		http.Error(w, "integration is required", http.StatusBadRequest)
		return
	}

	s.sink.ReportOutcome(r.Context(), req.Integration, req.Success)
	if s.recorder != nil {
		var callErr error
		if req.Error != "" {
			callErr = remoteError(req.Error)
		}
		s.recorder.Record(req.Integration, req.OrgID, req.Capability, req.Success, callErr,
			time.Duration(req.DurationMs)*time.Millisecond)
	}
	w.WriteHeader(http.StatusAccepted)
}

type slotRequest struct {
	OrgID string `json:"org_id"`
	JobID string `json:"job_id"`
}

// acquireSlot — попытка занять слот очереди. Отказ ставит задачу в pending:
// воркер заберет ее через /next, когда подойдет round-robin очередь тенанта.
// POST /v1/queues/{queue}/slots
func (s *Server) acquireSlot(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrgID == "" {
		http.Error(w, "org_id is required", http.StatusBadRequest)
		return
	}

	if !s.sched.Admit(r.Context(), queue, req.OrgID) {
		if req.JobID != "" {
			if err := s.sched.Enqueue(r.Context(), queue, req.OrgID, req.JobID); err != nil {
				s.logger.Error("failed to enqueue pending job",
					zap.String("queue", queue), zap.Error(err))
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]bool{"admitted": false})
		return
	}

	if req.JobID != "" {
		s.sched.TrackJob(r.Context(), queue, req.OrgID, req.JobID)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"admitted": true})
}

// releaseSlot — возврат слота по завершении задачи.
// DELETE /v1/queues/{queue}/slots?org_id=&job_id=
func (s *Server) releaseSlot(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	orgID := r.URL.Query().Get("org_id")
	jobID := r.URL.Query().Get("job_id")
	if orgID == "" {
		http.Error(w, "org_id is required", http.StatusBadRequest)
		return
	}

	s.sched.ReleaseJob(r.Context(), queue, orgID, jobID)
	w.WriteHeader(http.StatusNoContent)
}

// next — забрать следующую отложенную задачу тенанта.
// GET /v1/queues/{queue}/next?org_id=
func (s *Server) next(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		http.Error(w, "org_id is required", http.StatusBadRequest)
		return
	}

	job, err := s.sched.Dequeue(r.Context(), queue, orgID)
	if err != nil {
		http.Error(w, "Failed to dequeue", http.StatusInternalServerError)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// order — round-robin порядок обслуживания тенантов на этот момент.
// GET /v1/queues/{queue}/order
func (s *Server) order(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.sched.DequeueOrder(r.Context(), queue))
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// remoteError оборачивает текст ошибки, пришедший по сети, в error.
type remoteError string

func (e remoteError) Error() string { return string(e) }
