package engine

import (
	"sync"
	"time"
)

type outcome struct {
	at      time.Time
	success bool
}

type window struct {
	duration time.Duration
	entries  []outcome
}

// evict лениво выкидывает записи старше окна. Вызывается под внешним мьютексом.
func (w *window) evict(now time.Time) {
	cutoff := now.Add(-w.duration)
	i := 0
	for ; i < len(w.entries); i++ {
		if w.entries[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		w.entries = append(w.entries[:0], w.entries[i:]...)
	}
}

// FailureMonitor держит скользящее окно исходов по каждой интеграции.
// Единственный писатель — репорты исходов (Guard/пробы), единственный
// потребитель — Panic Controller. Все в памяти: после рестарта окно пустое,
// состояние паники восстанавливается из Override Store, а не отсюда.
type FailureMonitor struct {
	mu      sync.Mutex
	windows map[string]*window

	// Окно по умолчанию для интеграций без явной конфигурации
	defaultWindow time.Duration

	now func() time.Time // Подменяется в тестах
}

func NewFailureMonitor(defaultWindow time.Duration) *FailureMonitor {
	if defaultWindow <= 0 {
		defaultWindow = 5 * time.Minute
	}
	return &FailureMonitor{
		windows:       make(map[string]*window),
		defaultWindow: defaultWindow,
		now:           time.Now,
	}
}

// Configure задает длительность окна конкретной интеграции.
func (m *FailureMonitor) Configure(integration string, dur time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.ensure(integration)
	w.duration = dur
}

func (m *FailureMonitor) ensure(integration string) *window {
	w, ok := m.windows[integration]
	if !ok {
		w = &window{duration: m.defaultWindow}
		m.windows[integration] = w
	}
	return w
}

// Report фиксирует исход вызова интеграции.
func (m *FailureMonitor) Report(integration string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w := m.ensure(integration)
	w.evict(now)
	w.entries = append(w.entries, outcome{at: now, success: success})
}

// ConsecutiveFailures — сколько провалов подряд накопилось с хвоста окна.
// Любой успех внутри окна обнуляет серию.
func (m *FailureMonitor) ConsecutiveFailures(integration string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[integration]
	if !ok {
		return 0
	}
	w.evict(m.now())

	n := 0
	for i := len(w.entries) - 1; i >= 0; i-- {
		if w.entries[i].success {
			break
		}
		n++
	}
	return n
}

// Reset очищает окно (после срабатывания паники серия начинается заново).
func (m *FailureMonitor) Reset(integration string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.windows[integration]; ok {
		w.entries = w.entries[:0]
	}
}
