package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// listenResilient — универсальный цикл для "живучей" подписки на сигналы Redis.
// Обрабатывает переподключения, логирование и доставку сырых сообщений.
func (n *Notifier) listenResilient(
	ctx context.Context,
	channel string,
	onReconnect func() error, // Callback для синхронизации при переподключении
	onMessage func(payload string), // Callback для обработки сообщения
) {
	for {
		if ctx.Err() != nil {
			return
		}

		pubsub := n.rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			n.logger.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			pubsub.Close()
			time.Sleep(5 * time.Second)
			continue
		}

		// Вызываем синхронизацию при каждом успешном коннекте
		if onReconnect != nil {
			if err := onReconnect(); err != nil {
				n.logger.Error("sync failed on reconnect", zap.Error(err))
			}
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				onMessage(msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
