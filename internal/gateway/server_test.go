package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/xela07ax/capgate/internal/capability"
	"github.com/xela07ax/capgate/internal/domain"
	"github.com/xela07ax/capgate/internal/scheduler"
	"go.uber.org/zap"
)

type fakeSink struct {
	mu       sync.Mutex
	outcomes map[string][]bool
}

func (s *fakeSink) ReportOutcome(_ context.Context, integration string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcomes == nil {
		s.outcomes = make(map[string][]bool)
	}
	s.outcomes[integration] = append(s.outcomes[integration], success)
}

// fakeStore — минимальный OverrideStore без единого оверрайда.
type fakeStore struct{}

func (fakeStore) GetDecision(context.Context, domain.CapabilityPath, *string) (*domain.Override, error) {
	return nil, nil
}
func (fakeStore) ListActive(context.Context) ([]domain.Override, error) { return nil, nil }
func (fakeStore) Upsert(context.Context, domain.OverrideInput, string) (*domain.Override, error) {
	return nil, nil
}
func (fakeStore) Revoke(context.Context, domain.CapabilityPath, *string) (bool, error) {
	return false, nil
}

func newTestServer(sink *fakeSink) *Server {
	resolver := capability.NewResolver(
		capability.DefaultRegistry(), fakeStore{}, nil,
		capability.NewMetrics(nil), zap.NewNop(), capability.ResolverOptions{},
	)
	sched := scheduler.New(
		scheduler.NewMemoryState(),
		map[string]scheduler.QueueLimits{"invoices": {Capacity: 4, MaxPerOrg: 2, CapacityPercent: 50}},
		scheduler.NewMetrics(nil), zap.NewNop(),
	)
	return NewServer(resolver, sink, nil, sched, zap.NewNop())
}

func TestGatewayCheck(t *testing.T) {
	srv := newTestServer(&fakeSink{})

	t.Run("known capability", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/check?path=external.afip&org_id=org-1", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		var d domain.Decision
		if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
			t.Fatalf("bad body %q: %v", rec.Body.String(), err)
		}
		if !d.Enabled || d.Source != domain.SourceDefault {
			t.Errorf("decision = %+v, want enabled default", d)
		}
	})

	t.Run("malformed path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/check?path=bogus", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestGatewayOutcomes(t *testing.T) {
	sink := &fakeSink{}
	srv := newTestServer(sink)

	body := `{"integration":"afip","org_id":"org-1","success":false,"error":"timeout","duration_ms":1500}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/outcomes", strings.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if got := sink.outcomes["afip"]; len(got) != 1 || got[0] {
		t.Errorf("sink outcomes = %v, want [false]", got)
	}

	t.Run("integration required", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/outcomes", strings.NewReader(`{"success":true}`)))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}

func TestGatewayQueueSlots(t *testing.T) {
	srv := newTestServer(&fakeSink{})

	acquire := func(jobID string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		body := `{"org_id":"org-1","job_id":"` + jobID + `"}`
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/queues/invoices/slots", strings.NewReader(body)))
		return rec
	}

	// Потолок min(2, 50% от 4) = 2
	if rec := acquire("job-1"); rec.Code != http.StatusOK {
		t.Fatalf("first acquire: status = %d", rec.Code)
	}
	if rec := acquire("job-2"); rec.Code != http.StatusOK {
		t.Fatalf("second acquire: status = %d", rec.Code)
	}

	// Третья задача не проходит и остается в бэклоге
	rec := acquire("job-3")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third acquire: status = %d, want 429", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/queues/invoices/next?org_id=org-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("next: status = %d", rec.Code)
	}
	var job domain.PendingJob
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil || job.JobID != "job-3" {
		t.Errorf("next = (%+v, %v), want job-3", job, err)
	}

	// Release освобождает слот
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/queues/invoices/slots?org_id=org-1&job_id=job-1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("release: status = %d", rec.Code)
	}
	if rec := acquire("job-4"); rec.Code != http.StatusOK {
		t.Errorf("acquire after release: status = %d, want 200", rec.Code)
	}
}
