package engine

import (
	"testing"
	"time"
)

func TestFailureMonitorConsecutiveFailures(t *testing.T) {
	t.Run("success breaks the streak", func(t *testing.T) {
		m := NewFailureMonitor(time.Minute)
		m.Report("afip", false)
		m.Report("afip", false)
		m.Report("afip", true)
		m.Report("afip", false)

		if got := m.ConsecutiveFailures("afip"); got != 1 {
			t.Errorf("ConsecutiveFailures = %d, want 1", got)
		}
	})

	t.Run("unknown integration has no failures", func(t *testing.T) {
		m := NewFailureMonitor(time.Minute)
		if got := m.ConsecutiveFailures("ghost"); got != 0 {
			t.Errorf("ConsecutiveFailures = %d, want 0", got)
		}
	})

	t.Run("integrations are independent", func(t *testing.T) {
		m := NewFailureMonitor(time.Minute)
		m.Report("afip", false)
		m.Report("whatsapp", false)
		m.Report("whatsapp", false)

		if got := m.ConsecutiveFailures("afip"); got != 1 {
			t.Errorf("afip = %d, want 1", got)
		}
		if got := m.ConsecutiveFailures("whatsapp"); got != 2 {
			t.Errorf("whatsapp = %d, want 2", got)
		}
	})
}

func TestFailureMonitorWindowEviction(t *testing.T) {
	m := NewFailureMonitor(time.Minute)
	m.Configure("afip", time.Minute)

	current := time.Now()
	m.now = func() time.Time { return current }

	m.Report("afip", false)
	m.Report("afip", false)
	if got := m.ConsecutiveFailures("afip"); got != 2 {
		t.Fatalf("ConsecutiveFailures = %d, want 2", got)
	}

	// Провалы старше окна не считаются
	current = current.Add(2 * time.Minute)
	if got := m.ConsecutiveFailures("afip"); got != 0 {
		t.Errorf("ConsecutiveFailures after window = %d, want 0", got)
	}

	// Свежий провал начинает серию заново
	m.Report("afip", false)
	if got := m.ConsecutiveFailures("afip"); got != 1 {
		t.Errorf("ConsecutiveFailures = %d, want 1", got)
	}
}

func TestFailureMonitorReset(t *testing.T) {
	m := NewFailureMonitor(time.Minute)
	m.Report("afip", false)
	m.Report("afip", false)
	m.Reset("afip")

	if got := m.ConsecutiveFailures("afip"); got != 0 {
		t.Errorf("ConsecutiveFailures after reset = %d, want 0", got)
	}
}
