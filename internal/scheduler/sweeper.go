package scheduler

import (
	"context"
	"time"

	"github.com/xela07ax/capgate/internal/infra"
	"go.uber.org/zap"
)

// Sweeper — периодическая сверка: lease без парного ReleaseJob (упавший воркер,
// потерянное событие) освобождается принудительно, иначе слот тенанта утечет
// навсегда и его потолок "съестся" мертвыми задачами.
type Sweeper struct {
	sched         *FairScheduler
	queues        []string
	maxProcessing time.Duration
	logger        *zap.Logger
}

func NewSweeper(sched *FairScheduler, queues []string, maxProcessing time.Duration, logger *zap.Logger) *Sweeper {
	if maxProcessing <= 0 {
		maxProcessing = 15 * time.Minute
	}
	return &Sweeper{
		sched:         sched,
		queues:        queues,
		maxProcessing: maxProcessing,
		logger:        logger.Named("sweeper"),
	}
}

// Run гоняет сверку по тикеру до отмены контекста.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, queue := range s.queues {
				s.SweepQueue(ctx, queue)
			}
		}
	}
}

// SweepQueue выполняет одну сверку очереди.
// Распределенный замок (SetNX) — чтобы при горизонтальном масштабировании
// свип не гоняли все инстансы одновременно.
func (s *Sweeper) SweepQueue(ctx context.Context, queue string) {
	locked, err := s.sched.store.TryLock(ctx,
		infra.QueueKey(infra.RedisKeyLockSweep, queue), 30*time.Second)
	if err != nil || !locked {
		return // Либо ошибка сети, либо другой инстанс уже сверяет
	}

	cutoff := s.sched.now().Add(-s.maxProcessing)
	leases, err := s.sched.store.ExpiredLeases(ctx, queue, cutoff)
	if err != nil {
		s.sched.metrics.StateErrors.Inc()
		s.logger.Warn("failed to list expired leases", zap.String("queue", queue), zap.Error(err))
		return
	}

	for _, lease := range leases {
		_, ok, err := s.sched.store.ReleaseLease(ctx, queue, lease.OrgID, lease.JobID)
		if err != nil || !ok {
			continue // Воркер успел сделать ReleaseJob между выборкой и снятием
		}
		if err := s.sched.store.ReleaseSlot(ctx, queue, lease.OrgID); err != nil {
			s.sched.metrics.StateErrors.Inc()
			continue
		}

		s.sched.metrics.OrphansReclaimed.WithLabelValues(queue).Inc()
		s.logger.Warn("orphaned job lease reclaimed",
			zap.String("queue", queue),
			zap.String("org_id", lease.OrgID),
			zap.String("job_id", lease.JobID),
			zap.Time("started_at", lease.StartedAt),
		)
	}
}
