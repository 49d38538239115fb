package capability

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/capgate/internal/domain"
	"go.uber.org/zap"
)

// OverrideStore — контракт хранилища оверрайдов (Postgres в проде).
type OverrideStore interface {
	// GetDecision возвращает лучший активный оверрайд для пары (org, path):
	// сначала персональный оверрайд тенанта, затем глобальный. nil — оверрайда нет.
	GetDecision(ctx context.Context, path domain.CapabilityPath, orgID *string) (*domain.Override, error)
	ListActive(ctx context.Context) ([]domain.Override, error)
	Upsert(ctx context.Context, in domain.OverrideInput, setBy string) (*domain.Override, error)
	Revoke(ctx context.Context, path domain.CapabilityPath, orgID *string) (bool, error)
}

// ChangePublisher — шина событий "оверрайд изменился" (Redis Pub/Sub).
type ChangePublisher interface {
	PublishOverride(ctx context.Context, path domain.CapabilityPath, orgID *string) error
}

type cacheEntry struct {
	decision  domain.Decision
	fetchedAt time.Time
}

// Resolver отвечает на вопрос "включена ли capability для тенанта".
// Приоритет источников (первый совпавший побеждает):
//  1. env-оверрайд процесса (аварийный рычаг);
//  2. активный оверрайд тенанта в БД;
//  3. активный глобальный оверрайд в БД;
//  4. статический дефолт из реестра.
//
// Решения кэшируются на cacheTTL. Резолвер никогда не возвращает ошибку из
// IsEnabled/Ensure: при недоступном хранилище отдается последний удачный
// результат (protracted staleness), при его отсутствии — статический дефолт.
type Resolver struct {
	registry *Registry
	store    OverrideStore
	pub      ChangePublisher
	env      *envSource
	logger   *zap.Logger
	metrics  *Metrics

	cacheTTL     time.Duration
	storeTimeout time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type ResolverOptions struct {
	CacheTTL     time.Duration
	StoreTimeout time.Duration
	EnvStaleTTL  time.Duration
}

func NewResolver(registry *Registry, store OverrideStore, pub ChangePublisher, metrics *Metrics, logger *zap.Logger, opts ResolverOptions) *Resolver {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	if opts.EnvStaleTTL <= 0 {
		opts.EnvStaleTTL = 24 * time.Hour
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	logger = logger.Named("resolver")
	env := newEnvSource(opts.EnvStaleTTL, logger)
	env.warnPresent()

	return &Resolver{
		registry:     registry,
		store:        store,
		pub:          pub,
		env:          env,
		logger:       logger,
		metrics:      metrics,
		cacheTTL:     opts.CacheTTL,
		storeTimeout: opts.StoreTimeout,
		cache:        make(map[string]cacheEntry),
	}
}

func cacheKey(path domain.CapabilityPath, orgID *string) string {
	if orgID == nil {
		return path.String() + "|"
	}
	return path.String() + "|" + *orgID
}

// IsEnabled — главный вопрос контрол-плейна. Ошибок не бывает по построению.
func (r *Resolver) IsEnabled(ctx context.Context, path domain.CapabilityPath, orgID *string) bool {
	return r.Resolve(ctx, path, orgID).Enabled
}

// Ensure — то же, что IsEnabled, но с прицельным warning'ом на выключенной ветке.
// Используется бизнес-кодом перед реальным вызовом интеграции: в логах остается
// след, почему операция ушла в fallback.
func (r *Resolver) Ensure(ctx context.Context, path domain.CapabilityPath, orgID *string) bool {
	d := r.Resolve(ctx, path, orgID)
	if !d.Enabled {
		fields := []zap.Field{
			zap.String("capability", path.String()),
			zap.String("source", string(d.Source)),
		}
		if orgID != nil {
			fields = append(fields, zap.String("org_id", *orgID))
		}
		r.logger.Warn("capability check failed, falling back", fields...)
	}
	return d.Enabled
}

// Resolve возвращает решение вместе с источником (нужно snapshot'у и консоли).
func (r *Resolver) Resolve(ctx context.Context, path domain.CapabilityPath, orgID *string) domain.Decision {
	// Приоритет 1: env. Вне кэша — os.LookupEnv дешевле похода в мапу под RWMutex.
	if enabled, ok := r.env.lookup(path); ok {
		r.metrics.Decisions.WithLabelValues(string(domain.SourceEnv)).Inc()
		return domain.Decision{Enabled: enabled, Source: domain.SourceEnv}
	}

	key := cacheKey(path, orgID)

	r.mu.RLock()
	entry, cached := r.cache[key]
	r.mu.RUnlock()

	if cached && time.Since(entry.fetchedAt) < r.cacheTTL {
		r.metrics.CacheHits.Inc()
		return entry.decision
	}

	decision, err := r.resolveFromStore(ctx, path, orgID)
	if err != nil {
		r.metrics.StoreErrors.Inc()
		if cached {
			// Store недоступен — тянем протухший кэш, это осознанная деградация
			r.logger.Warn("override store unreachable, serving stale decision",
				zap.String("capability", path.String()), zap.Error(err))
			return entry.decision
		}
		r.logger.Warn("override store unreachable and no cached decision, using static default",
			zap.String("capability", path.String()), zap.Error(err))
		return r.defaultDecision(path)
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{decision: decision, fetchedAt: time.Now()}
	r.mu.Unlock()

	r.metrics.Decisions.WithLabelValues(string(decision.Source)).Inc()
	return decision
}

func (r *Resolver) resolveFromStore(ctx context.Context, path domain.CapabilityPath, orgID *string) (domain.Decision, error) {
	sCtx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	ov, err := r.store.GetDecision(sCtx, path, orgID)
	if err != nil {
		return domain.Decision{}, err
	}

	if ov != nil && ov.Active(time.Now()) {
		source := domain.SourceGlobalOverride
		if ov.OrgID != nil {
			source = domain.SourceOrgOverride
		}
		return domain.Decision{Enabled: ov.Enabled, Source: source}, nil
	}

	return r.defaultDecision(path), nil
}

// defaultDecision — приоритет 4 плюс политика неизвестного пути.
// Неизвестный путь резолвится во ВКЛЮЧЕНО (fail-open): опечатка в ключе не должна
// молча гасить здоровую функциональность. Warning оставляем обязательно.
func (r *Resolver) defaultDecision(path domain.CapabilityPath) domain.Decision {
	def, known := r.registry.Lookup(path)
	if !known {
		r.metrics.UnknownPaths.Inc()
		r.logger.Warn("unknown capability path resolved fail-open",
			zap.String("capability", path.String()))
		return domain.Decision{Enabled: true, Source: domain.SourceDefault}
	}
	return domain.Decision{Enabled: def.Default, Source: domain.SourceDefault}
}

// SetOverride создает или обновляет оверрайд (upsert по (org, path)).
// Повторный вызов с теми же параметрами идемпотентен. После записи локальный кэш
// инвалидируется сразу, остальные инстансы узнают через Pub/Sub.
func (r *Resolver) SetOverride(ctx context.Context, in domain.OverrideInput, actor string) (*domain.Override, error) {
	if !r.registry.Known(in.Path) {
		return nil, domain.ErrUnknownCapability
	}

	ov, err := r.store.Upsert(ctx, in, actor)
	if err != nil {
		return nil, err
	}

	r.Invalidate(in.Path, in.OrgID)
	r.publishChange(ctx, in.Path, in.OrgID)
	return ov, nil
}

// RemoveOverride отзывает активный оверрайд (строка остается в истории).
func (r *Resolver) RemoveOverride(ctx context.Context, path domain.CapabilityPath, orgID *string) (bool, error) {
	removed, err := r.store.Revoke(ctx, path, orgID)
	if err != nil {
		return false, err
	}
	if removed {
		r.Invalidate(path, orgID)
		r.publishChange(ctx, path, orgID)
	}
	return removed, nil
}

// Invalidate сбрасывает кэш одной пары (path, org) и глобального вида этого пути.
// Глобальный оверрайд влияет на решения всех тенантов, поэтому при org == nil
// проще и надежнее сбросить кэш целиком.
func (r *Resolver) Invalidate(path domain.CapabilityPath, orgID *string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if orgID == nil {
		prefix := path.String() + "|"
		for k := range r.cache {
			if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
				delete(r.cache, k)
			}
		}
		return
	}
	delete(r.cache, cacheKey(path, orgID))
	delete(r.cache, cacheKey(path, nil))
}

// Reload принудительно сбрасывает весь кэш (админская ручка и ресинк при реконнекте).
func (r *Resolver) Reload() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
	r.logger.Info("resolver cache flushed")
}

// Snapshot собирает полный резолв для тенанта: {category: {name: {enabled, source}}}.
// Потребляется админским дашбордом и CLI status.
func (r *Resolver) Snapshot(ctx context.Context, orgID *string) map[string]map[string]domain.Decision {
	out := make(map[string]map[string]domain.Decision)
	for _, def := range r.registry.All() {
		cat := string(def.Path.Category)
		if out[cat] == nil {
			out[cat] = make(map[string]domain.Decision)
		}
		out[cat][def.Path.Name] = r.Resolve(ctx, def.Path, orgID)
	}
	return out
}

func (r *Resolver) publishChange(ctx context.Context, path domain.CapabilityPath, orgID *string) {
	if r.pub == nil {
		return
	}
	if err := r.pub.PublishOverride(ctx, path, orgID); err != nil {
		// Событие потерялось — другие инстансы догонят по TTL кэша
		r.logger.Warn("failed to publish override change", zap.Error(err))
	}
}
