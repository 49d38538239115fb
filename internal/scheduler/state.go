package scheduler

import (
	"context"
	"time"

	"github.com/xela07ax/capgate/internal/domain"
)

// StateStore — разделяемое состояние очередей.
// Единственное место контрол-плейна, где требуется межпроцессная атомарность:
// активные счетчики тенантов обязаны сходиться точно при любом числе воркеров.
// В проде это Redis (Lua-скрипты), в тестах и однопроцессном режиме — память.
type StateStore interface {
	// AdmitSlot атомарно проверяет и занимает слот: если active < limit,
	// инкрементирует и возвращает true. Check-and-increment, не read-modify-write.
	AdmitSlot(ctx context.Context, queue, orgID string, limit int64) (bool, error)
	// ReleaseSlot освобождает слот (не уходит ниже нуля).
	ReleaseSlot(ctx context.Context, queue, orgID string) error
	// ActiveCounts — активные слоты по тенантам.
	ActiveCounts(ctx context.Context, queue string) (map[string]int64, error)

	// PushPending ставит задачу в бэклог тенанта.
	PushPending(ctx context.Context, queue, orgID string, job domain.PendingJob) error
	// PopPending снимает старейшую задачу бэклога; nil — бэклог пуст.
	PopPending(ctx context.Context, queue, orgID string) (*domain.PendingJob, error)
	// PendingCounts — размер бэклога по тенантам (нулевые не возвращаются).
	PendingCounts(ctx context.Context, queue string) (map[string]int64, error)

	// TrackLease фиксирует взятие задачи в работу; возвращает время постановки
	// в очередь (zero, если неизвестно) для метрики ожидания.
	TrackLease(ctx context.Context, queue, orgID, jobID string, startedAt time.Time) (time.Time, error)
	// ReleaseLease снимает lease; ok=false — lease уже нет (двойной release или свипер успел раньше).
	ReleaseLease(ctx context.Context, queue, orgID, jobID string) (startedAt time.Time, ok bool, err error)
	// ExpiredLeases — leases, стартовавшие раньше cutoff (кандидаты в сироты).
	ExpiredLeases(ctx context.Context, queue string, cutoff time.Time) ([]domain.JobLease, error)

	// Cursor/SetCursor — последний обслуженный тенант round-robin обхода.
	// Курсор переживает и вызовы, и рестарты процесса.
	Cursor(ctx context.Context, queue string) (string, error)
	SetCursor(ctx context.Context, queue, orgID string) error

	// TryLock — распределенный замок (SetNX), чтобы свип гонял один инстанс.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
