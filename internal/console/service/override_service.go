package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/capgate/internal/capability"
	"github.com/xela07ax/capgate/internal/domain"
)

// OverrideHistoryProvider — чтение истории оверрайдов (включая отозванные).
type OverrideHistoryProvider interface {
	ListActive(ctx context.Context) ([]domain.Override, error)
	ListHistory(ctx context.Context, limit, offset int) ([]domain.Override, error)
}

// OverrideService — админские операции над оверрайдами.
// Вся запись идет через резолвер: инвалидация кэша и Pub/Sub событие
// происходят в одном месте, сервис не знает про эти механики.
type OverrideService struct {
	resolver *capability.Resolver
	history  OverrideHistoryProvider
}

func NewOverrideService(resolver *capability.Resolver, history OverrideHistoryProvider) *OverrideService {
	return &OverrideService{resolver: resolver, history: history}
}

// SetOverrideRequest — тело запроса создания оверрайда.
type SetOverrideRequest struct {
	Path      string     `json:"path"`
	OrgID     *string    `json:"org_id,omitempty"`
	Enabled   bool       `json:"enabled"`
	Reason    string     `json:"reason,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *OverrideService) Set(ctx context.Context, req SetOverrideRequest, actor string) (*domain.Override, error) {
	path, err := domain.ParseCapabilityPath(req.Path)
	if err != nil {
		return nil, err
	}

	return s.resolver.SetOverride(ctx, domain.OverrideInput{
		Path:      path,
		OrgID:     req.OrgID,
		Enabled:   req.Enabled,
		Reason:    req.Reason,
		ExpiresAt: req.ExpiresAt,
	}, actor)
}

func (s *OverrideService) Remove(ctx context.Context, rawPath string, orgID *string) (bool, error) {
	path, err := domain.ParseCapabilityPath(rawPath)
	if err != nil {
		return false, err
	}
	return s.resolver.RemoveOverride(ctx, path, orgID)
}

// ListActive — действующие оверрайды.
func (s *OverrideService) ListActive(ctx context.Context) ([]domain.Override, error) {
	return s.history.ListActive(ctx)
}

// ListHistory — история для аудита, страницами.
func (s *OverrideService) ListHistory(ctx context.Context, limit, offset int) ([]domain.Override, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	out, err := s.history.ListHistory(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("override_service: list history: %w", err)
	}
	return out, nil
}

// Snapshot — полный резолв для тенанта: {category: {name: {enabled, source}}}.
func (s *OverrideService) Snapshot(ctx context.Context, orgID *string) map[string]map[string]domain.Decision {
	return s.resolver.Snapshot(ctx, orgID)
}
