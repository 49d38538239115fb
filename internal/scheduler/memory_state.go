package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/capgate/internal/domain"
)

// MemoryState — реализация StateStore в памяти процесса.
// Семантика один в один с Redis-версией; используется в тестах и в
// однопроцессных инсталляциях без Redis.
type MemoryState struct {
	mu       sync.Mutex
	active   map[string]map[string]int64               // queue -> org -> count
	pending  map[string]map[string][]domain.PendingJob // queue -> org -> backlog
	enqueued map[string]map[string]time.Time           // queue -> job -> enqueued_at
	leases   map[string]map[string]time.Time           // queue -> "org|job" -> started_at
	cursors  map[string]string                         // queue -> последний обслуженный org
	locks    map[string]time.Time                      // key -> истечение
}

func NewMemoryState() *MemoryState {
	return &MemoryState{
		active:   make(map[string]map[string]int64),
		pending:  make(map[string]map[string][]domain.PendingJob),
		enqueued: make(map[string]map[string]time.Time),
		leases:   make(map[string]map[string]time.Time),
		cursors:  make(map[string]string),
		locks:    make(map[string]time.Time),
	}
}

func leaseMember(orgID, jobID string) string { return orgID + "|" + jobID }

func (s *MemoryState) AdmitSlot(_ context.Context, queue, orgID string, limit int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active[queue] == nil {
		s.active[queue] = make(map[string]int64)
	}
	if s.active[queue][orgID] >= limit {
		return false, nil
	}
	s.active[queue][orgID]++
	return true, nil
}

func (s *MemoryState) ReleaseSlot(_ context.Context, queue, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m := s.active[queue]; m != nil && m[orgID] > 0 {
		m[orgID]--
		if m[orgID] == 0 {
			delete(m, orgID)
		}
	}
	return nil
}

func (s *MemoryState) ActiveCounts(_ context.Context, queue string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.active[queue]))
	for org, n := range s.active[queue] {
		out[org] = n
	}
	return out, nil
}

func (s *MemoryState) PushPending(_ context.Context, queue, orgID string, job domain.PendingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending[queue] == nil {
		s.pending[queue] = make(map[string][]domain.PendingJob)
	}
	s.pending[queue][orgID] = append(s.pending[queue][orgID], job)

	if s.enqueued[queue] == nil {
		s.enqueued[queue] = make(map[string]time.Time)
	}
	s.enqueued[queue][job.JobID] = job.EnqueuedAt
	return nil
}

func (s *MemoryState) PopPending(_ context.Context, queue, orgID string) (*domain.PendingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	backlog := s.pending[queue][orgID]
	if len(backlog) == 0 {
		return nil, nil
	}
	job := backlog[0]
	s.pending[queue][orgID] = backlog[1:]
	if len(s.pending[queue][orgID]) == 0 {
		delete(s.pending[queue], orgID)
	}
	return &job, nil
}

func (s *MemoryState) PendingCounts(_ context.Context, queue string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int64, len(s.pending[queue]))
	for org, backlog := range s.pending[queue] {
		if len(backlog) > 0 {
			out[org] = int64(len(backlog))
		}
	}
	return out, nil
}

func (s *MemoryState) TrackLease(_ context.Context, queue, orgID, jobID string, startedAt time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leases[queue] == nil {
		s.leases[queue] = make(map[string]time.Time)
	}
	s.leases[queue][leaseMember(orgID, jobID)] = startedAt

	var enqueuedAt time.Time
	if m := s.enqueued[queue]; m != nil {
		enqueuedAt = m[jobID]
		delete(m, jobID)
	}
	return enqueuedAt, nil
}

func (s *MemoryState) ReleaseLease(_ context.Context, queue, orgID, jobID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.leases[queue]
	if m == nil {
		return time.Time{}, false, nil
	}
	key := leaseMember(orgID, jobID)
	startedAt, ok := m[key]
	if !ok {
		return time.Time{}, false, nil
	}
	delete(m, key)
	return startedAt, true, nil
}

func (s *MemoryState) ExpiredLeases(_ context.Context, queue string, cutoff time.Time) ([]domain.JobLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.JobLease
	for member, startedAt := range s.leases[queue] {
		if !startedAt.Before(cutoff) {
			continue
		}
		org, job, _ := splitLeaseMember(member)
		out = append(out, domain.JobLease{Queue: queue, OrgID: org, JobID: job, StartedAt: startedAt})
	}
	return out, nil
}

func (s *MemoryState) Cursor(_ context.Context, queue string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[queue], nil
}

func (s *MemoryState) SetCursor(_ context.Context, queue, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[queue] = orgID
	return nil
}

func (s *MemoryState) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if exp, held := s.locks[key]; held && exp.After(now) {
		return false, nil
	}
	s.locks[key] = now.Add(ttl)
	return true, nil
}
