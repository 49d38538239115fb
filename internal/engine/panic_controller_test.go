package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xela07ax/capgate/internal/domain"
	"go.uber.org/zap"
)

// fakeControl считает записи в Override Store и хранит последний глобальный оверрайд.
type fakeControl struct {
	overrides map[string]*domain.Override // path -> глобальный оверрайд
	sets      int
	removes   int
	err       error
}

func newFakeControl() *fakeControl {
	return &fakeControl{overrides: make(map[string]*domain.Override)}
}

func (c *fakeControl) SetOverride(_ context.Context, in domain.OverrideInput, actor string) (*domain.Override, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.sets++
	ov := &domain.Override{
		Path:      in.Path,
		OrgID:     in.OrgID,
		Enabled:   in.Enabled,
		Reason:    in.Reason,
		SetBy:     actor,
		CreatedAt: time.Now(),
	}
	c.overrides[in.Path.String()] = ov
	return ov, nil
}

func (c *fakeControl) RemoveOverride(_ context.Context, path domain.CapabilityPath, _ *string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	c.removes++
	if _, ok := c.overrides[path.String()]; !ok {
		return false, nil
	}
	delete(c.overrides, path.String())
	return true, nil
}

func (c *fakeControl) GetDecision(_ context.Context, path domain.CapabilityPath, _ *string) (*domain.Override, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.overrides[path.String()], nil
}

var afipPath = domain.CapabilityPath{Category: domain.CategoryExternal, Name: "afip"}

func afipSettings() IntegrationSettings {
	return IntegrationSettings{
		Capability:        afipPath,
		FailureThreshold:  5,
		Window:            5 * time.Minute,
		RecoverySuccesses: 3,
		ProbeInterval:     time.Millisecond,
		ProbeTimeout:      time.Second,
	}
}

func newTestController(control *fakeControl) *Controller {
	c := NewController(NewFailureMonitor(time.Minute), control, control, nil, nil, zap.NewNop())
	c.Register("afip", afipSettings(), nil)
	return c
}

func phase(t *testing.T, c *Controller, integration string) domain.PanicPhase {
	t.Helper()
	for _, st := range c.Status() {
		if st.Integration == integration {
			return st.Phase
		}
	}
	t.Fatalf("integration %s not found in status", integration)
	return ""
}

func TestControllerTripThreshold(t *testing.T) {
	ctx := context.Background()

	t.Run("below threshold stays normal", func(t *testing.T) {
		control := newFakeControl()
		c := newTestController(control)

		for i := 0; i < 4; i++ {
			c.ReportOutcome(ctx, "afip", false)
		}
		if got := phase(t, c, "afip"); got != domain.PhaseNormal {
			t.Errorf("phase = %s, want NORMAL", got)
		}
		if control.sets != 0 {
			t.Errorf("override written %d times, want 0", control.sets)
		}
	})

	t.Run("fifth consecutive failure trips exactly once", func(t *testing.T) {
		control := newFakeControl()
		c := newTestController(control)

		for i := 0; i < 5; i++ {
			c.ReportOutcome(ctx, "afip", false)
		}
		if got := phase(t, c, "afip"); got != domain.PhasePanicked {
			t.Fatalf("phase = %s, want PANICKED", got)
		}
		if control.sets != 1 {
			t.Fatalf("override written %d times, want 1", control.sets)
		}

		// Шестой провал не дублирует оверрайд
		c.ReportOutcome(ctx, "afip", false)
		if control.sets != 1 {
			t.Errorf("override written %d times after extra failure, want 1", control.sets)
		}

		// Причина несет машинный префикс: после рестарта по нему
		// восстанавливается TriggeredBy
		ov := control.overrides[afipPath.String()]
		if ov == nil || !ov.Auto() {
			t.Errorf("panic override = %+v, want auto reason prefix", ov)
		}
		if ov != nil && ov.SetBy != ActorPanicController {
			t.Errorf("SetBy = %q, want %q", ov.SetBy, ActorPanicController)
		}
	})

	t.Run("success resets the streak", func(t *testing.T) {
		control := newFakeControl()
		c := newTestController(control)

		for i := 0; i < 4; i++ {
			c.ReportOutcome(ctx, "afip", false)
		}
		c.ReportOutcome(ctx, "afip", true)
		for i := 0; i < 4; i++ {
			c.ReportOutcome(ctx, "afip", false)
		}

		if got := phase(t, c, "afip"); got != domain.PhaseNormal {
			t.Errorf("phase = %s, want NORMAL", got)
		}
	})

	t.Run("stays normal if override write fails", func(t *testing.T) {
		control := newFakeControl()
		control.err = errors.New("postgres down")
		c := newTestController(control)

		for i := 0; i < 5; i++ {
			c.ReportOutcome(ctx, "afip", false)
		}
		if got := phase(t, c, "afip"); got != domain.PhaseNormal {
			t.Errorf("phase = %s, want NORMAL when write fails", got)
		}
	})
}

func TestControllerRecovery(t *testing.T) {
	ctx := context.Background()

	trip := func(t *testing.T, c *Controller) {
		t.Helper()
		for i := 0; i < 5; i++ {
			c.ReportOutcome(ctx, "afip", false)
		}
		if got := phase(t, c, "afip"); got != domain.PhasePanicked {
			t.Fatalf("precondition: phase = %s, want PANICKED", got)
		}
	}

	t.Run("M successful probes recover", func(t *testing.T) {
		control := newFakeControl()
		c := newTestController(control)
		trip(t, c)

		for i := 0; i < 3; i++ {
			c.RecordProbe(ctx, "afip", true)
		}
		if got := phase(t, c, "afip"); got != domain.PhaseNormal {
			t.Errorf("phase = %s, want NORMAL", got)
		}
		if _, ok := control.overrides[afipPath.String()]; ok {
			t.Error("panic override not removed after recovery")
		}
	})

	t.Run("probe failure resets success counter", func(t *testing.T) {
		control := newFakeControl()
		c := newTestController(control)
		trip(t, c)

		c.RecordProbe(ctx, "afip", true)
		c.RecordProbe(ctx, "afip", true)
		c.RecordProbe(ctx, "afip", false)
		c.RecordProbe(ctx, "afip", true)
		c.RecordProbe(ctx, "afip", true)

		if got := phase(t, c, "afip"); got != domain.PhasePanicked {
			t.Errorf("phase = %s, want PANICKED (streak was reset)", got)
		}
		c.RecordProbe(ctx, "afip", true)
		if got := phase(t, c, "afip"); got != domain.PhaseNormal {
			t.Errorf("phase = %s, want NORMAL after third consecutive success", got)
		}
	})
}

func TestControllerManualPrecedence(t *testing.T) {
	ctx := context.Background()

	t.Run("probes never lift a manual disable", func(t *testing.T) {
		control := newFakeControl()
		c := newTestController(control)

		if err := c.ForceDisable(ctx, "afip", "maintenance", "op-1"); err != nil {
			t.Fatalf("ForceDisable: %v", err)
		}
		for i := 0; i < 10; i++ {
			c.RecordProbe(ctx, "afip", true)
		}
		if got := phase(t, c, "afip"); got != domain.PhasePanicked {
			t.Errorf("phase = %s, want PANICKED (manual)", got)
		}
	})

	t.Run("force enable lifts manual disable", func(t *testing.T) {
		control := newFakeControl()
		c := newTestController(control)

		if err := c.ForceDisable(ctx, "afip", "maintenance", "op-1"); err != nil {
			t.Fatalf("ForceDisable: %v", err)
		}
		if err := c.ForceEnable(ctx, "afip", "op-1"); err != nil {
			t.Fatalf("ForceEnable: %v", err)
		}
		if got := phase(t, c, "afip"); got != domain.PhaseNormal {
			t.Errorf("phase = %s, want NORMAL", got)
		}
	})

	t.Run("unknown integration rejected", func(t *testing.T) {
		c := newTestController(newFakeControl())
		if err := c.ForceDisable(ctx, "ghost", "", "op-1"); !errors.Is(err, domain.ErrUnknownIntegration) {
			t.Errorf("ForceDisable(ghost) = %v, want ErrUnknownIntegration", err)
		}
		if err := c.ForceEnable(ctx, "ghost", "op-1"); !errors.Is(err, domain.ErrUnknownIntegration) {
			t.Errorf("ForceEnable(ghost) = %v, want ErrUnknownIntegration", err)
		}
	})
}

func TestControllerInitRestoresState(t *testing.T) {
	ctx := context.Background()

	t.Run("auto panic restored as auto", func(t *testing.T) {
		control := newFakeControl()
		control.overrides[afipPath.String()] = &domain.Override{
			Path:      afipPath,
			Enabled:   false,
			Reason:    domain.AutoReasonPrefix + " 5 consecutive failures in 5m",
			CreatedAt: time.Now().Add(-time.Minute),
		}

		c := newTestController(control)
		if err := c.Init(ctx); err != nil {
			t.Fatalf("Init: %v", err)
		}

		if got := phase(t, c, "afip"); got != domain.PhasePanicked {
			t.Fatalf("phase = %s, want PANICKED", got)
		}
		// Восстановленная как AUTO паника снимается пробами
		for i := 0; i < 3; i++ {
			c.RecordProbe(ctx, "afip", true)
		}
		if got := phase(t, c, "afip"); got != domain.PhaseNormal {
			t.Errorf("phase = %s, want NORMAL after probes", got)
		}
	})

	t.Run("manual disable restored as manual", func(t *testing.T) {
		control := newFakeControl()
		control.overrides[afipPath.String()] = &domain.Override{
			Path:    afipPath,
			Enabled: false,
			Reason:  "maintenance",
		}

		c := newTestController(control)
		if err := c.Init(ctx); err != nil {
			t.Fatalf("Init: %v", err)
		}
		for i := 0; i < 10; i++ {
			c.RecordProbe(ctx, "afip", true)
		}
		if got := phase(t, c, "afip"); got != domain.PhasePanicked {
			t.Errorf("phase = %s, want PANICKED (restored manual)", got)
		}
	})

	t.Run("enabling override does not panic", func(t *testing.T) {
		control := newFakeControl()
		control.overrides[afipPath.String()] = &domain.Override{
			Path:    afipPath,
			Enabled: true,
			Reason:  "force on",
		}

		c := newTestController(control)
		if err := c.Init(ctx); err != nil {
			t.Fatalf("Init: %v", err)
		}
		if got := phase(t, c, "afip"); got != domain.PhaseNormal {
			t.Errorf("phase = %s, want NORMAL", got)
		}
	})

	// Резинк работает в обе стороны: реплика, увидевшая панику, обязана
	// вернуться в NORMAL, когда восстановление случилось в другом процессе
	// и дизейбл-оверрайд исчез.
	t.Run("panic cleared when override is gone", func(t *testing.T) {
		control := newFakeControl()
		control.overrides[afipPath.String()] = &domain.Override{
			Path:      afipPath,
			Enabled:   false,
			Reason:    domain.AutoReasonPrefix + " 5 consecutive failures in 5m",
			CreatedAt: time.Now().Add(-time.Minute),
		}

		c := newTestController(control)
		if err := c.Init(ctx); err != nil {
			t.Fatalf("Init: %v", err)
		}
		if got := phase(t, c, "afip"); got != domain.PhasePanicked {
			t.Fatalf("phase = %s, want PANICKED", got)
		}

		delete(control.overrides, afipPath.String())
		if err := c.Init(ctx); err != nil {
			t.Fatalf("Init after recovery elsewhere: %v", err)
		}
		if got := phase(t, c, "afip"); got != domain.PhaseNormal {
			t.Errorf("phase = %s, want NORMAL (override is gone)", got)
		}

		var st domain.IntegrationStatus
		for _, s := range c.Status() {
			if s.Integration == "afip" {
				st = s
			}
		}
		if st.TriggeredBy != "" || st.Reason != "" {
			t.Errorf("status = %+v, want trigger metadata cleared", st)
		}
	})
}

// Сквозной сценарий: провалы гасят capability через резолвер, пробы возвращают.
func TestControllerEndToEndWithResolver(t *testing.T) {
	ctx := context.Background()
	control := newFakeControl()
	c := newTestController(control)

	for i := 0; i < 5; i++ {
		c.ReportOutcome(ctx, "afip", false)
	}
	ov, err := control.GetDecision(ctx, afipPath, nil)
	if err != nil || ov == nil || ov.Enabled {
		t.Fatalf("GetDecision = (%+v, %v), want disabling override", ov, err)
	}

	for i := 0; i < 3; i++ {
		c.RecordProbe(ctx, "afip", true)
	}
	ov, err = control.GetDecision(ctx, afipPath, nil)
	if err != nil || ov != nil {
		t.Errorf("GetDecision after recovery = (%+v, %v), want nil", ov, err)
	}
}
