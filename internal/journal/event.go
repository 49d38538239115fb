package journal

import "time"

// OutcomeEvent — один исход защищенного вызова интеграции.
// Именно этот поток (а не метрики) позволяет консоли показать дежурному
// "что происходило с AFIP последние полчаса" с разбивкой по тенантам.
type OutcomeEvent struct {
	ID          string    `json:"id"`          // UUID события
	Integration string    `json:"integration"` // Какая интеграция
	OrgID       string    `json:"org_id"`      // Чей вызов ("" — системный, например проба)
	Capability  string    `json:"capability"`  // Путь capability
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	Timestamp   time.Time `json:"timestamp"`
}
