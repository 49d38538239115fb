package capability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/capgate/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ThrottleError возвращается бизнес-вызовом, когда интеграция попросила подождать
// (прочитан Retry-After заголовок). Guard уважает эту задержку вместо backoff'а.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// OutcomeSink — куда Guard сообщает исходы реальных вызовов.
// Реализуется Panic Controller'ом: именно этот поток успехов/провалов
// двигает его конечный автомат.
type OutcomeSink interface {
	ReportOutcome(ctx context.Context, integration string, success bool)
}

// OutcomeRecorder — необязательный приемник подробностей вызова (журнал исходов).
type OutcomeRecorder interface {
	Record(integration, orgID, capability string, success bool, callErr error, duration time.Duration)
}

// GuardedFunc — защищаемый вызов интеграции.
type GuardedFunc func(ctx context.Context) error

// GuardOptions — параметры цепочки надежности одной интеграции.
type GuardOptions struct {
	RateLimit     rate.Limit    // Запросов в секунду к интеграции
	RateBurst     int
	RetryAttempts uint
	CallTimeout   time.Duration
}

func defaultGuardOptions() GuardOptions {
	return GuardOptions{
		RateLimit:     rate.Limit(100),
		RateBurst:     20,
		RetryAttempts: 3,
		CallTimeout:   10 * time.Second,
	}
}

type reliabilityChain struct {
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	opts    GuardOptions
}

// Guard — явная higher-order обертка вокруг вызова внешней интеграции.
// Порядок обороны: capability check -> rate limiter -> circuit breaker -> retries.
// Выключенная capability — не ошибка инфраструктуры, а сигнал ErrCapabilityDisabled:
// вызывающий обязан выполнить свой fallback и жить дальше.
type Guard struct {
	resolver *Resolver
	sink     OutcomeSink
	recorder OutcomeRecorder
	metrics  *Metrics
	logger   *zap.Logger

	mu     sync.Mutex
	chains map[string]*reliabilityChain
}

func NewGuard(resolver *Resolver, sink OutcomeSink, metrics *Metrics, logger *zap.Logger) *Guard {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Guard{
		resolver: resolver,
		sink:     sink,
		metrics:  metrics,
		logger:   logger.Named("guard"),
		chains:   make(map[string]*reliabilityChain),
	}
}

// WithRecorder подключает журнал исходов (опционально).
func (g *Guard) WithRecorder(rec OutcomeRecorder) *Guard {
	g.recorder = rec
	return g
}

// chain лениво собирает цепочку надежности интеграции (настройка как у шлюза:
// предохранитель открывается после 5 ошибок подряд, полуоткрытие через 30s).
func (g *Guard) chain(integration string, opts GuardOptions) *reliabilityChain {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.chains[integration]; ok {
		return c
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        integration,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			state := 0.0
			if to == gobreaker.StateOpen {
				state = 1.0
			}
			g.metrics.BreakerState.WithLabelValues(name).Set(state)
			g.logger.Info("circuit breaker state change",
				zap.String("integration", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	c := &reliabilityChain{
		cb:      cb,
		limiter: rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		opts:    opts,
	}
	g.chains[integration] = c
	return c
}

// Do выполняет защищенный вызов интеграции для тенанта.
// Исход (кроме ветки disabled) всегда репортится в OutcomeSink.
func (g *Guard) Do(ctx context.Context, path domain.CapabilityPath, orgID *string, integration string, fn GuardedFunc) error {
	return g.DoWithOptions(ctx, path, orgID, integration, defaultGuardOptions(), fn)
}

func (g *Guard) DoWithOptions(ctx context.Context, path domain.CapabilityPath, orgID *string, integration string, opts GuardOptions, fn GuardedFunc) error {
	// 1. Capability check. Выключено — мгновенный выход в fallback без сайд-эффектов.
	if !g.resolver.Ensure(ctx, path, orgID) {
		g.metrics.GuardedCalls.WithLabelValues(integration, "disabled").Inc()
		return fmt.Errorf("%w: %s", domain.ErrCapabilityDisabled, path)
	}

	c := g.chain(integration, opts)
	start := time.Now()

	// 2. Rate Limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	// 3. Circuit Breaker поверх ретраев
	_, err := c.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(c.opts.RetryAttempts),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если интеграция вернула ThrottleError (считан Retry-After заголовок)
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
			defer cancel()
			return fn(tCtx)
		})
	})

	// 4. Репорт исхода в Failure Monitor (через Panic Controller) и в журнал.
	// Отмена со стороны вызывающего — не провал интеграции. Отказ открытого
	// предохранителя — тоже: fn не вызывался, трафик до интеграции не дошел,
	// и кормить монитор синтетическими провалами нельзя.
	if g.sink != nil && !errors.Is(err, context.Canceled) &&
		!errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		g.sink.ReportOutcome(ctx, integration, err == nil)
	}
	if g.recorder != nil {
		org := ""
		if orgID != nil {
			org = *orgID
		}
		g.recorder.Record(integration, org, path.String(), err == nil, err, time.Since(start))
	}

	if err != nil {
		g.metrics.GuardedCalls.WithLabelValues(integration, "failure").Inc()
		return err
	}
	g.metrics.GuardedCalls.WithLabelValues(integration, "success").Inc()
	return nil
}
