package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/xela07ax/capgate/internal/domain"
	"go.uber.org/zap"
)

// QueueLimits — вместимость и потолки одной очереди.
type QueueLimits struct {
	Capacity        int // Общее число слотов воркеров
	MaxPerOrg       int // Жесткий потолок на тенанта
	CapacityPercent int // Доля общей вместимости на тенанта, %
}

// EffectiveLimit — итоговый потолок тенанта: min(maxPerOrg, capacityPercent от capacity).
// Второе ограничение существует отдельно от первого: даже щедрый maxPerOrg
// не позволит одному тенанту занять весь пул во время всплеска.
func (l QueueLimits) EffectiveLimit() int64 {
	byShare := l.Capacity * l.CapacityPercent / 100
	if byShare < l.MaxPerOrg {
		return int64(byShare)
	}
	return int64(l.MaxPerOrg)
}

// FairScheduler — допуск и порядок обслуживания общих очередей.
// Потолки активных задач — жесткий инвариант (атомарные счетчики в StateStore);
// round-robin порядок — best-effort справедливость, при конкурентных вызовах
// с нескольких воркеров она приблизительная, и этого достаточно.
type FairScheduler struct {
	store   StateStore
	limits  map[string]QueueLimits
	deflt   QueueLimits
	metrics *Metrics
	logger  *zap.Logger

	now func() time.Time // Подменяется в тестах
}

func New(store StateStore, limits map[string]QueueLimits, metrics *Metrics, logger *zap.Logger) *FairScheduler {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &FairScheduler{
		store:   store,
		limits:  limits,
		deflt:   QueueLimits{Capacity: 20, MaxPerOrg: 10, CapacityPercent: 50},
		metrics: metrics,
		logger:  logger.Named("scheduler"),
		now:     time.Now,
	}
}

func (s *FairScheduler) limitsFor(queue string) QueueLimits {
	if l, ok := s.limits[queue]; ok {
		return l
	}
	return s.deflt
}

// Admit — можно ли прямо сейчас начать обработку задачи тенанта.
// Отказ — не ошибка, а нормальный сигнал "повтори позже"; ошибки стейта
// тоже превращаются в отказ (консервативно: лучше подождать, чем пробить потолок).
func (s *FairScheduler) Admit(ctx context.Context, queue, orgID string) bool {
	limit := s.limitsFor(queue).EffectiveLimit()

	ok, err := s.store.AdmitSlot(ctx, queue, orgID, limit)
	if err != nil {
		s.metrics.StateErrors.Inc()
		s.logger.Warn("admission state unavailable, denying",
			zap.String("queue", queue), zap.String("org_id", orgID), zap.Error(err))
		return false
	}

	if ok {
		s.metrics.Admitted.WithLabelValues(queue).Inc()
	} else {
		s.metrics.Denied.WithLabelValues(queue).Inc()
	}
	return ok
}

// Enqueue регистрирует задачу в бэклоге тенанта (метка времени — для метрики ожидания).
func (s *FairScheduler) Enqueue(ctx context.Context, queue, orgID, jobID string) error {
	return s.store.PushPending(ctx, queue, orgID, domain.PendingJob{
		JobID:      jobID,
		EnqueuedAt: s.now(),
	})
}

// Dequeue снимает старейшую задачу бэклога тенанта (после положительного Admit).
func (s *FairScheduler) Dequeue(ctx context.Context, queue, orgID string) (*domain.PendingJob, error) {
	return s.store.PopPending(ctx, queue, orgID)
}

// TrackJob фиксирует старт обработки и пишет метрику ожидания.
func (s *FairScheduler) TrackJob(ctx context.Context, queue, orgID, jobID string) {
	enqueuedAt, err := s.store.TrackLease(ctx, queue, orgID, jobID, s.now())
	if err != nil {
		s.metrics.StateErrors.Inc()
		s.logger.Warn("failed to track job lease",
			zap.String("queue", queue), zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if !enqueuedAt.IsZero() {
		s.metrics.WaitTime.WithLabelValues(queue, orgID).Observe(s.now().Sub(enqueuedAt).Seconds())
	}
}

// ReleaseJob освобождает слот на любом пути выхода воркера.
// Если lease уже снят (двойной release или свипер успел первым), счетчик
// не трогаем — иначе он уйдет в минус относительно реальности.
func (s *FairScheduler) ReleaseJob(ctx context.Context, queue, orgID, jobID string) {
	startedAt, ok, err := s.store.ReleaseLease(ctx, queue, orgID, jobID)
	if err != nil {
		s.metrics.StateErrors.Inc()
		s.logger.Warn("failed to release job lease",
			zap.String("queue", queue), zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if !ok {
		s.logger.Warn("release without matching lease, skipping slot decrement",
			zap.String("queue", queue), zap.String("job_id", jobID))
		return
	}

	if err := s.store.ReleaseSlot(ctx, queue, orgID); err != nil {
		s.metrics.StateErrors.Inc()
		s.logger.Warn("failed to release slot",
			zap.String("queue", queue), zap.String("org_id", orgID), zap.Error(err))
	}
	s.metrics.ProcessingTime.WithLabelValues(queue, orgID).Observe(s.now().Sub(startedAt).Seconds())
}

// DequeueOrder — в каком порядке обслуживать тенантов с непустым бэклогом.
// Round-robin с персистентным курсором: список тенантов сортируется, затем
// поворачивается так, чтобы первым шел следующий после последнего обслуженного.
// Тенант без бэклога хода не получает — он просто отсутствует в списке.
func (s *FairScheduler) DequeueOrder(ctx context.Context, queue string) []string {
	counts, err := s.store.PendingCounts(ctx, queue)
	if err != nil {
		s.metrics.StateErrors.Inc()
		s.logger.Warn("failed to read pending counts", zap.String("queue", queue), zap.Error(err))
		return nil
	}
	if len(counts) == 0 {
		return nil
	}

	orgs := make([]string, 0, len(counts))
	for org := range counts {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)

	cursor, err := s.store.Cursor(ctx, queue)
	if err != nil {
		s.metrics.StateErrors.Inc()
		cursor = ""
	}

	// Первый тенант строго ПОСЛЕ курсора: обслуженный недавно уходит в хвост
	start := 0
	if cursor != "" {
		start = sort.SearchStrings(orgs, cursor)
		if start < len(orgs) && orgs[start] == cursor {
			start++
		}
		if start >= len(orgs) {
			start = 0
		}
	}

	ordered := make([]string, 0, len(orgs))
	ordered = append(ordered, orgs[start:]...)
	ordered = append(ordered, orgs[:start]...)

	// Курсор двигаем сразу: воркер будет обслуживать голову списка.
	// При конкурентных вызовах порядок получается приблизительным — допустимо.
	if err := s.store.SetCursor(ctx, queue, ordered[0]); err != nil {
		s.metrics.StateErrors.Inc()
	}
	return ordered
}

// Status — срез счетчиков очереди для консоли.
func (s *FairScheduler) Status(ctx context.Context, queue string) ([]domain.OrgQueueState, error) {
	active, err := s.store.ActiveCounts(ctx, queue)
	if err != nil {
		return nil, err
	}
	pending, err := s.store.PendingCounts(ctx, queue)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []domain.OrgQueueState
	add := func(org string) {
		if _, ok := seen[org]; ok {
			return
		}
		seen[org] = struct{}{}
		out = append(out, domain.OrgQueueState{
			OrgID:        org,
			ActiveCount:  active[org],
			PendingCount: pending[org],
		})
	}
	for org := range active {
		add(org)
	}
	for org := range pending {
		add(org)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrgID < out[j].OrgID })
	return out, nil
}
