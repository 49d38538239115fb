package domain

import "time"

// OrgQueueState — счетчики одного тенанта в одной очереди.
// activeCount живет в разделяемом хранилище (Redis) и меняется только атомарно,
// потому что воркеры масштабируются горизонтально.
type OrgQueueState struct {
	OrgID        string `json:"org_id"`
	ActiveCount  int64  `json:"active_count"`
	PendingCount int64  `json:"pending_count"`
}

// JobLease — факт взятия задачи в работу (TrackJob).
// Нужен свиперу: lease без парного ReleaseJob старше максимальной длительности
// обработки считается осиротевшим и принудительно освобождается.
type JobLease struct {
	Queue     string    `json:"queue"`
	OrgID     string    `json:"org_id"`
	JobID     string    `json:"job_id"`
	StartedAt time.Time `json:"started_at"`
}

// PendingJob — задача в бэклоге тенанта, с меткой постановки для метрики ожидания.
type PendingJob struct {
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
