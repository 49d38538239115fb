package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/capgate/internal/domain"
	"github.com/xela07ax/capgate/internal/repository/postgres"
)

// PanicReader — состояние паник-контроллера для дашборда.
type PanicReader interface {
	Status() []domain.IntegrationStatus
	ForceDisable(ctx context.Context, integration, reason, actor string) error
	ForceEnable(ctx context.Context, integration, actor string) error
}

// QueueReader — состояние очередей планировщика.
type QueueReader interface {
	Status(ctx context.Context, queue string) ([]domain.OrgQueueState, error)
}

// StatsProvider — агрегированная статистика исходов вызовов.
type StatsProvider interface {
	StatsSince(ctx context.Context, since time.Time) ([]postgres.IntegrationStats, error)
}

// StatusService собирает операционную картину системы для консоли:
// фазы интеграций, загрузку очередей и статистику исходов.
type StatusService struct {
	panics PanicReader
	queues QueueReader
	stats  StatsProvider
}

func NewStatusService(panics PanicReader, queues QueueReader, stats StatsProvider) *StatusService {
	return &StatusService{panics: panics, queues: queues, stats: stats}
}

func (s *StatusService) Integrations() []domain.IntegrationStatus {
	return s.panics.Status()
}

func (s *StatusService) DisableIntegration(ctx context.Context, integration, reason, actor string) error {
	return s.panics.ForceDisable(ctx, integration, reason, actor)
}

func (s *StatusService) EnableIntegration(ctx context.Context, integration, actor string) error {
	return s.panics.ForceEnable(ctx, integration, actor)
}

func (s *StatusService) Queue(ctx context.Context, queue string) ([]domain.OrgQueueState, error) {
	states, err := s.queues.Status(ctx, queue)
	if err != nil {
		return nil, fmt.Errorf("status_service: queue %s: %w", queue, err)
	}
	return states, nil
}

// DashboardStats — сводка за окно. По умолчанию последние 24 часа.
func (s *StatusService) DashboardStats(ctx context.Context, window time.Duration) ([]postgres.IntegrationStats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return s.stats.StatsSince(ctx, time.Now().Add(-window))
}
