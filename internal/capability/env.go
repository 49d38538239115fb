package capability

import (
	"os"
	"strings"
	"time"

	"github.com/xela07ax/capgate/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// envSource — источник приоритета №1: переменные окружения процесса.
// Это аварийный рычаг "сейчас, без деплоя и без БД". Ожидается, что его
// снимают быстро: живущий дольше EnvStaleTTL оверрайд подсвечивается warning'ом.
type envSource struct {
	startedAt time.Time
	staleTTL  time.Duration
	logger    *zap.Logger

	// Не заспамить лог: stale-warning не чаще раза в час на весь процесс
	staleWarn *rate.Limiter
}

func newEnvSource(staleTTL time.Duration, logger *zap.Logger) *envSource {
	return &envSource{
		startedAt: time.Now(),
		staleTTL:  staleTTL,
		logger:    logger,
		staleWarn: rate.NewLimiter(rate.Every(time.Hour), 1),
	}
}

// warnPresent логирует все CAPABILITY_* переменные, найденные на старте процесса.
// Наличие env-оверрайда само по себе повод для внимания дежурного.
func (e *envSource) warnPresent() {
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "CAPABILITY_") {
			continue
		}
		name, value, _ := strings.Cut(kv, "=")
		e.logger.Warn("environment capability override is active",
			zap.String("var", name),
			zap.String("value", value),
		)
	}
}

// lookup возвращает значение env-оверрайда для пути, если он выставлен.
// Булево значение парсится без учета регистра; мусор трактуется как отсутствие.
func (e *envSource) lookup(path domain.CapabilityPath) (enabled, ok bool) {
	raw, present := os.LookupEnv(path.EnvVar())
	if !present {
		return false, false
	}

	// Env-переменные внутри процесса не меняются: возраст оверрайда = возраст процесса
	if age := time.Since(e.startedAt); age > e.staleTTL && e.staleWarn.Allow() {
		e.logger.Warn("stale environment capability override",
			zap.String("var", path.EnvVar()),
			zap.Duration("age", age),
		)
	}

	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "on", "yes":
		return true, true
	case "false", "0", "off", "no":
		return false, true
	}

	e.logger.Warn("unparsable environment capability override ignored",
		zap.String("var", path.EnvVar()),
		zap.String("value", raw),
	)
	return false, false
}
