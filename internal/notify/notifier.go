package notify

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/capgate/internal/domain"
	"github.com/xela07ax/capgate/internal/infra"
	"go.uber.org/zap"
)

// Notifier — шина изменений контрол-плейна поверх Redis Pub/Sub.
// Событие не является источником правды, это только ускоритель: потерянное
// сообщение означает, что чужой кэш доживет до конца TTL, не более того.
type Notifier struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func New(rdb *redis.Client, logger *zap.Logger) *Notifier {
	return &Notifier{rdb: rdb, logger: logger.Named("notify")}
}

// PublishOverride сигналит "оверрайд пары (path, org) изменился".
// Формат payload "path|org" ("|" с пустым org — глобальный оверрайд).
func (n *Notifier) PublishOverride(ctx context.Context, path domain.CapabilityPath, orgID *string) error {
	org := ""
	if orgID != nil {
		org = *orgID
	}
	return n.rdb.Publish(ctx, infra.RedisChanOverride, path.String()+"|"+org).Err()
}

// PublishPanic сигналит смену фазы интеграции, payload "integration|phase".
func (n *Notifier) PublishPanic(ctx context.Context, integration string, phase domain.PanicPhase) error {
	return n.rdb.Publish(ctx, infra.RedisChanPanic, integration+"|"+string(phase)).Err()
}

// ListenOverrides — живучая подписка на изменения оверрайдов.
// onReconnect дергается при каждом (пере)подключении: слушатель мог пропустить
// события, пока был оффлайн, поэтому там обычно полный сброс кэша резолвера.
func (n *Notifier) ListenOverrides(ctx context.Context, onReconnect func() error, onChange func(path domain.CapabilityPath, orgID *string)) {
	n.listenResilient(ctx, infra.RedisChanOverride, onReconnect, func(payload string) {
		rawPath, org, ok := strings.Cut(payload, "|")
		if !ok {
			n.logger.Error("invalid override signal format", zap.String("payload", payload))
			return
		}
		path, err := domain.ParseCapabilityPath(rawPath)
		if err != nil {
			n.logger.Error("invalid capability path in signal", zap.String("payload", payload))
			return
		}
		var orgID *string
		if org != "" {
			orgID = &org
		}
		onChange(path, orgID)
	})
}

// ListenPanics — живучая подписка на события паники.
func (n *Notifier) ListenPanics(ctx context.Context, onReconnect func() error, onEvent func(integration string, phase domain.PanicPhase)) {
	n.listenResilient(ctx, infra.RedisChanPanic, onReconnect, func(payload string) {
		integration, phase, ok := strings.Cut(payload, "|")
		if !ok {
			n.logger.Error("invalid panic signal format", zap.String("payload", payload))
			return
		}
		onEvent(integration, domain.PanicPhase(phase))
	})
}
