package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "capgate"
)

// Ключи состояния планировщика (счетчики и бэклоги)
const (
	// RedisKeyQueueActive + ":<queue>" — hash org_id -> активные слоты
	RedisKeyQueueActive = RedisNamespace + ":sched:active"
	// RedisKeyQueueLeases + ":<queue>" — zset "org|job" -> unix-время старта (для свипера)
	RedisKeyQueueLeases = RedisNamespace + ":sched:leases"
	// RedisKeyQueuePending + ":<queue>:<org>" — list задач тенанта (JSON PendingJob)
	RedisKeyQueuePending = RedisNamespace + ":sched:pending"
	// RedisKeyQueueOrgs + ":<queue>" — set тенантов, у которых есть бэклог
	RedisKeyQueueOrgs = RedisNamespace + ":sched:orgs"
	// RedisKeyQueueCursor + ":<queue>" — последний обслуженный тенант (round-robin)
	RedisKeyQueueCursor = RedisNamespace + ":sched:cursor"
	// RedisKeyLockSweep + ":<queue>" — SetNX-лок, чтобы свип гонял один инстанс
	RedisKeyLockSweep = RedisNamespace + ":sched:lock:sweep"
)

// Каналы Pub/Sub (события контрол-плейна)
const (
	// RedisChanOverride — сигнал "оверрайд изменился", payload "path|org"
	RedisChanOverride = RedisNamespace + ":capabilities:override-signal"
	// RedisChanPanic — сигнал смены фазы интеграции, payload "integration|phase"
	RedisChanPanic = RedisNamespace + ":integrations:panic-signal"
)

// QueueKey собирает ключ для конкретной очереди.
func QueueKey(base, queue string) string {
	return fmt.Sprintf("%s:%s", base, queue)
}

// PendingKey собирает ключ бэклога конкретного тенанта.
func PendingKey(queue, orgID string) string {
	return fmt.Sprintf("%s:%s:%s", RedisKeyQueuePending, queue, orgID)
}
