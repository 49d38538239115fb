package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/xela07ax/capgate/internal/domain"
	"go.uber.org/zap"
)

// ActorPanicController пишется в Override.SetBy для автоматических записей.
const ActorPanicController = "panic-controller"

// IntegrationSettings — пороги одной интеграции.
type IntegrationSettings struct {
	Capability        domain.CapabilityPath
	FailureThreshold  int           // N провалов подряд...
	Window            time.Duration // ...в пределах окна W
	RecoverySuccesses int           // M успешных проб для авто-восстановления
	ProbeInterval     time.Duration
	ProbeTimeout      time.Duration
}

// OverrideControl — операции записи, которые контроллер гоняет через резолвер:
// так инвалидация кэша и Pub/Sub событие случаются сами, вторым источником
// правды контроллер не становится.
type OverrideControl interface {
	SetOverride(ctx context.Context, in domain.OverrideInput, actor string) (*domain.Override, error)
	RemoveOverride(ctx context.Context, path domain.CapabilityPath, orgID *string) (bool, error)
}

// OverrideReader нужен только на старте: восстановить фазы из хранилища.
type OverrideReader interface {
	GetDecision(ctx context.Context, path domain.CapabilityPath, orgID *string) (*domain.Override, error)
}

// PanicPublisher — шина событий смены фазы (Redis Pub/Sub).
type PanicPublisher interface {
	PublishPanic(ctx context.Context, integration string, phase domain.PanicPhase) error
}

// Prober — легковесная проверка живости интеграции (ping healthcheck-эндпоинта).
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc адаптирует функцию под интерфейс Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// integrationState — состояние плюс служебные поля цикла восстановления.
type integrationState struct {
	domain.PanicState
	settings  IntegrationSettings
	prober    Prober
	lastProbe time.Time
}

// Controller — конечный автомат NORMAL/PANICKED на каждую интеграцию.
// NORMAL -> PANICKED: N провалов подряд в окне W (сигнал из FailureMonitor).
// PANICKED -> NORMAL: M успешных проб подряд, и только для автоматических паник.
// Ручной дизейбл автоматика не снимает никогда: приоритет оператора абсолютный.
type Controller struct {
	mu     sync.Mutex
	states map[string]*integrationState

	monitor *FailureMonitor
	control OverrideControl
	reader  OverrideReader
	pub     PanicPublisher
	metrics *Metrics
	logger  *zap.Logger

	now func() time.Time // Подменяется в тестах
}

func NewController(monitor *FailureMonitor, control OverrideControl, reader OverrideReader, pub PanicPublisher, metrics *Metrics, logger *zap.Logger) *Controller {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Controller{
		states:  make(map[string]*integrationState),
		monitor: monitor,
		control: control,
		reader:  reader,
		pub:     pub,
		metrics: metrics,
		logger:  logger.Named("panic"),
		now:     time.Now,
	}
}

// Register заводит интеграцию под наблюдение.
func (c *Controller) Register(integration string, settings IntegrationSettings, prober Prober) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states[integration] = &integrationState{
		PanicState: domain.PanicState{
			Integration: integration,
			Phase:       domain.PhaseNormal,
		},
		settings: settings,
		prober:   prober,
	}
	c.monitor.Configure(integration, settings.Window)
	c.metrics.PanicState.WithLabelValues(integration).Set(0)
}

// Init сверяет фазы с Override Store: на старте процесса и при каждом
// событии смены паники (реплики консоли пересинхронизируются через него).
// Активный дизейбл-оверрайд на capability интеграции означает PANICKED;
// авто/ручной различаем по машинному префиксу причины. Нет оверрайда —
// фаза возвращается в NORMAL: восстановление могло случиться в другом процессе.
func (c *Controller) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name, st := range c.states {
		ov, err := c.reader.GetDecision(ctx, st.settings.Capability, nil)
		if err != nil {
			return fmt.Errorf("panic init: %s: %w", name, err)
		}
		if ov == nil || ov.OrgID != nil || ov.Enabled || !ov.Active(c.now()) {
			if st.Phase == domain.PhasePanicked {
				st.Phase = domain.PhaseNormal
				st.TriggeredAt = time.Time{}
				st.Reason = ""
				st.TriggeredBy = ""
				st.RecoverySuccesses = 0
				c.metrics.PanicState.WithLabelValues(name).Set(0)
				c.logger.Info("panic cleared on resync, disabling override is gone",
					zap.String("integration", name))
			}
			continue
		}

		st.Phase = domain.PhasePanicked
		st.TriggeredAt = ov.CreatedAt
		st.Reason = ov.Reason
		st.TriggeredBy = domain.TriggerManual
		if ov.Auto() {
			st.TriggeredBy = domain.TriggerAuto
		}
		c.metrics.PanicState.WithLabelValues(name).Set(1)
		c.logger.Info("panic state restored from override store",
			zap.String("integration", name),
			zap.String("triggered_by", string(st.TriggeredBy)),
		)
	}
	return nil
}

// ReportOutcome — вход для Guard'а и для проб. Фиксирует исход в мониторе
// и сразу оценивает порог: пятый провал подряд валит интеграцию в панику
// немедленно, не дожидаясь тика цикла.
func (c *Controller) ReportOutcome(ctx context.Context, integration string, success bool) {
	c.monitor.Report(integration, success)
	if success {
		return
	}

	c.mu.Lock()
	st, ok := c.states[integration]
	if !ok || st.Phase != domain.PhaseNormal {
		c.mu.Unlock()
		return
	}
	failures := c.monitor.ConsecutiveFailures(integration)
	if failures < st.settings.FailureThreshold {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.trigger(ctx, integration, failures)
}

// trigger переводит интеграцию в PANICKED ровно один раз.
func (c *Controller) trigger(ctx context.Context, integration string, failures int) {
	c.mu.Lock()
	st, ok := c.states[integration]
	if !ok || st.Phase != domain.PhaseNormal {
		// Кто-то успел раньше (шестой провал не дублирует оверрайд)
		c.mu.Unlock()
		return
	}
	settings := st.settings
	c.mu.Unlock()

	reason := fmt.Sprintf("%s %d consecutive failures in %s",
		domain.AutoReasonPrefix, failures, settings.Window)

	// Запись в Override Store с бэкоффом. Если не получилось — остаемся в NORMAL,
	// следующий провал попробует снова. Цикл мониторинга на этом не падает.
	if err := c.writeWithRetry(ctx, func(ctx context.Context) error {
		_, err := c.control.SetOverride(ctx, domain.OverrideInput{
			Path:    settings.Capability,
			Enabled: false,
			Reason:  reason,
		}, ActorPanicController)
		return err
	}); err != nil {
		c.metrics.OverrideWriteFailures.Inc()
		c.logger.Error("failed to write panic override, staying in last known state",
			zap.String("integration", integration), zap.Error(err))
		return
	}

	c.mu.Lock()
	if st.Phase != domain.PhaseNormal {
		c.mu.Unlock()
		return
	}
	st.Phase = domain.PhasePanicked
	st.TriggeredAt = c.now()
	st.Reason = reason
	st.TriggeredBy = domain.TriggerAuto
	st.RecoverySuccesses = 0
	c.mu.Unlock()

	c.monitor.Reset(integration)
	c.metrics.PanicState.WithLabelValues(integration).Set(1)
	c.metrics.PanicTransitions.WithLabelValues(integration, "trip").Inc()
	c.logger.Warn("integration panicked, capability disabled",
		zap.String("integration", integration),
		zap.String("reason", reason),
	)
	c.publish(ctx, integration, domain.PhasePanicked)
}

// Run — цикл восстановления: пробует PANICKED-интеграции и снимает панику
// после M успешных проб подряд. Ручные паники цикл не трогает.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeRound(ctx)
		}
	}
}

func (c *Controller) probeRound(ctx context.Context) {
	// Сначала под мьютексом собираем, кого пора пробовать, потом пробуем:
	// проба — это I/O, держать на ней лок нельзя.
	c.mu.Lock()
	due := make([]string, 0, len(c.states))
	for name, st := range c.states {
		if st.Phase != domain.PhasePanicked || st.TriggeredBy != domain.TriggerAuto {
			continue
		}
		if st.prober == nil {
			continue
		}
		if c.now().Sub(st.lastProbe) < st.settings.ProbeInterval {
			continue
		}
		due = append(due, name)
	}
	c.mu.Unlock()

	for _, name := range due {
		c.probeOne(ctx, name)
	}
}

func (c *Controller) probeOne(ctx context.Context, integration string) {
	c.mu.Lock()
	st, ok := c.states[integration]
	if !ok {
		c.mu.Unlock()
		return
	}
	prober := st.prober
	timeout := st.settings.ProbeTimeout
	st.lastProbe = c.now()
	c.mu.Unlock()

	pCtx, cancel := context.WithTimeout(ctx, timeout)
	err := prober.Probe(pCtx)
	cancel()

	c.RecordProbe(ctx, integration, err == nil)
}

// RecordProbe учитывает исход одной пробы. Таймаут пробы — это провал:
// счетчик последовательных успехов обнуляется.
func (c *Controller) RecordProbe(ctx context.Context, integration string, success bool) {
	c.mu.Lock()
	st, ok := c.states[integration]
	if !ok || st.Phase != domain.PhasePanicked {
		c.mu.Unlock()
		return
	}

	// Ручную панику пробы не снимают, даже если интеграция ожила
	if st.TriggeredBy == domain.TriggerManual {
		c.mu.Unlock()
		return
	}

	if !success {
		st.RecoverySuccesses = 0
		c.mu.Unlock()
		c.metrics.ProbeResults.WithLabelValues(integration, "failure").Inc()
		return
	}

	st.RecoverySuccesses++
	needed := st.settings.RecoverySuccesses
	got := st.RecoverySuccesses
	c.mu.Unlock()

	c.metrics.ProbeResults.WithLabelValues(integration, "success").Inc()
	if got < needed {
		return
	}
	c.recover(ctx, integration)
}

func (c *Controller) recover(ctx context.Context, integration string) {
	c.mu.Lock()
	st, ok := c.states[integration]
	if !ok || st.Phase != domain.PhasePanicked || st.TriggeredBy != domain.TriggerAuto {
		c.mu.Unlock()
		return
	}
	path := st.settings.Capability
	c.mu.Unlock()

	if err := c.writeWithRetry(ctx, func(ctx context.Context) error {
		_, err := c.control.RemoveOverride(ctx, path, nil)
		return err
	}); err != nil {
		c.metrics.OverrideWriteFailures.Inc()
		c.logger.Error("failed to clear panic override, staying panicked one more cycle",
			zap.String("integration", integration), zap.Error(err))
		return
	}

	c.mu.Lock()
	st.Phase = domain.PhaseNormal
	st.TriggeredAt = time.Time{}
	st.Reason = ""
	st.TriggeredBy = ""
	st.RecoverySuccesses = 0
	c.mu.Unlock()

	c.metrics.PanicState.WithLabelValues(integration).Set(0)
	c.metrics.PanicTransitions.WithLabelValues(integration, "recover").Inc()
	c.logger.Info("integration recovered, capability re-enabled",
		zap.String("integration", integration))
	c.publish(ctx, integration, domain.PhaseNormal)
}

// ForceDisable — ручной рубильник оператора, минует пороги N/W.
func (c *Controller) ForceDisable(ctx context.Context, integration, reason, actor string) error {
	c.mu.Lock()
	st, ok := c.states[integration]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrUnknownIntegration, integration)
	}
	path := st.settings.Capability
	c.mu.Unlock()

	if reason == "" {
		reason = "manual disable"
	}

	if _, err := c.control.SetOverride(ctx, domain.OverrideInput{
		Path:    path,
		Enabled: false,
		Reason:  reason,
	}, actor); err != nil {
		return err
	}

	c.mu.Lock()
	st.Phase = domain.PhasePanicked
	st.TriggeredAt = c.now()
	st.Reason = reason
	st.TriggeredBy = domain.TriggerManual
	st.RecoverySuccesses = 0
	c.mu.Unlock()

	c.metrics.PanicState.WithLabelValues(integration).Set(1)
	c.metrics.PanicTransitions.WithLabelValues(integration, "manual_trip").Inc()
	c.logger.Warn("integration manually disabled",
		zap.String("integration", integration),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)
	c.publish(ctx, integration, domain.PhasePanicked)
	return nil
}

// ForceEnable — единственный способ снять ручную панику.
func (c *Controller) ForceEnable(ctx context.Context, integration, actor string) error {
	c.mu.Lock()
	st, ok := c.states[integration]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrUnknownIntegration, integration)
	}
	path := st.settings.Capability
	c.mu.Unlock()

	if _, err := c.control.RemoveOverride(ctx, path, nil); err != nil {
		return err
	}

	c.mu.Lock()
	st.Phase = domain.PhaseNormal
	st.TriggeredAt = time.Time{}
	st.Reason = ""
	st.TriggeredBy = ""
	st.RecoverySuccesses = 0
	c.mu.Unlock()

	c.monitor.Reset(integration)
	c.metrics.PanicState.WithLabelValues(integration).Set(0)
	c.metrics.PanicTransitions.WithLabelValues(integration, "manual_recover").Inc()
	c.logger.Info("integration manually re-enabled",
		zap.String("integration", integration),
		zap.String("actor", actor),
	)
	c.publish(ctx, integration, domain.PhaseNormal)
	return nil
}

// Status возвращает срез по всем интеграциям (консоль и CLI status).
func (c *Controller) Status() []domain.IntegrationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.IntegrationStatus, 0, len(c.states))
	for name, st := range c.states {
		s := domain.IntegrationStatus{
			Integration: name,
			Capability:  st.settings.Capability,
			Phase:       st.Phase,
			TriggeredBy: st.TriggeredBy,
			Reason:      st.Reason,
		}
		if !st.TriggeredAt.IsZero() {
			s.Since = c.now().Sub(st.TriggeredAt)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Integration < out[j].Integration })
	return out
}

// Known — зарегистрирована ли интеграция (валидация CLI).
func (c *Controller) Known(integration string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.states[integration]
	return ok
}

// writeWithRetry — бэкофф для записей в Override Store. Ошибка после всех
// попыток не фатальна: контроллер остается в прежней фазе до следующего цикла.
func (c *Controller) writeWithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(4),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
	)
	return r.Do(func() error { return fn(ctx) })
}

func (c *Controller) publish(ctx context.Context, integration string, phase domain.PanicPhase) {
	if c.pub == nil {
		return
	}
	if err := c.pub.PublishPanic(ctx, integration, phase); err != nil {
		c.logger.Warn("failed to publish panic event", zap.Error(err))
	}
}
