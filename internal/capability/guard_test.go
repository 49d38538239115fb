package capability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/capgate/internal/domain"
	"go.uber.org/zap"
)

type fakeSink struct {
	mu       sync.Mutex
	outcomes []bool
}

func (s *fakeSink) ReportOutcome(_ context.Context, _ string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, success)
}

func (s *fakeSink) reported() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.outcomes...)
}

type fakeRecorder struct {
	integration string
	success     bool
	calls       int
}

func (r *fakeRecorder) Record(integration, _, _ string, success bool, _ error, _ time.Duration) {
	r.integration = integration
	r.success = success
	r.calls++
}

func quickOpts() GuardOptions {
	return GuardOptions{
		RateLimit:     1000,
		RateBurst:     100,
		RetryAttempts: 1,
		CallTimeout:   time.Second,
	}
}

func TestGuardDisabledCapability(t *testing.T) {
	store := newFakeStore()
	store.put(afip, nil, false)
	resolver := newTestResolver(store, ResolverOptions{})
	sink := &fakeSink{}
	g := NewGuard(resolver, sink, nil, zap.NewNop())

	called := false
	err := g.DoWithOptions(context.Background(), afip, nil, "afip", quickOpts(), func(context.Context) error {
		called = true
		return nil
	})

	if !errors.Is(err, domain.ErrCapabilityDisabled) {
		t.Errorf("got %v, want ErrCapabilityDisabled", err)
	}
	if called {
		t.Error("business call executed despite disabled capability")
	}
	// Ветка disabled — не исход вызова, автомат паники трогать нельзя
	if n := len(sink.reported()); n != 0 {
		t.Errorf("sink got %d outcomes, want 0", n)
	}
}

func TestGuardReportsOutcomes(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		resolver := newTestResolver(newFakeStore(), ResolverOptions{})
		sink := &fakeSink{}
		rec := &fakeRecorder{}
		g := NewGuard(resolver, sink, nil, zap.NewNop()).WithRecorder(rec)

		err := g.DoWithOptions(context.Background(), afip, strptr("org-1"), "afip", quickOpts(), func(context.Context) error {
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := sink.reported(); len(got) != 1 || !got[0] {
			t.Errorf("sink outcomes = %v, want [true]", got)
		}
		if rec.calls != 1 || !rec.success || rec.integration != "afip" {
			t.Errorf("recorder = %+v", rec)
		}
	})

	t.Run("failure after retries", func(t *testing.T) {
		resolver := newTestResolver(newFakeStore(), ResolverOptions{})
		sink := &fakeSink{}
		g := NewGuard(resolver, sink, nil, zap.NewNop())

		wantErr := errors.New("afip is down")
		calls := 0
		err := g.DoWithOptions(context.Background(), afip, nil, "afip", GuardOptions{
			RateLimit:     1000,
			RateBurst:     100,
			RetryAttempts: 3,
			CallTimeout:   time.Second,
		}, func(context.Context) error {
			calls++
			return wantErr
		})

		if err == nil {
			t.Fatal("expected error")
		}
		if calls != 3 {
			t.Errorf("business call executed %d times, want 3 (retries)", calls)
		}
		if got := sink.reported(); len(got) != 1 || got[0] {
			t.Errorf("sink outcomes = %v, want [false]", got)
		}
	})

	t.Run("caller cancellation is not an integration failure", func(t *testing.T) {
		resolver := newTestResolver(newFakeStore(), ResolverOptions{})
		sink := &fakeSink{}
		g := NewGuard(resolver, sink, nil, zap.NewNop())

		ctx, cancel := context.WithCancel(context.Background())
		err := g.DoWithOptions(ctx, afip, nil, "afip", quickOpts(), func(context.Context) error {
			cancel()
			return ctx.Err()
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if n := len(sink.reported()); n != 0 {
			t.Errorf("sink got %d outcomes, want 0 for cancellation", n)
		}
	})
}

func TestGuardThrottleDelay(t *testing.T) {
	resolver := newTestResolver(newFakeStore(), ResolverOptions{})
	g := NewGuard(resolver, &fakeSink{}, nil, zap.NewNop())

	// Первый вызов просит подождать 30ms, второй проходит:
	// суммарное время обязано включать запрошенную паузу.
	const retryAfter = 30 * time.Millisecond
	calls := 0
	start := time.Now()
	err := g.DoWithOptions(context.Background(), afip, nil, "afip", GuardOptions{
		RateLimit:     1000,
		RateBurst:     100,
		RetryAttempts: 2,
		CallTimeout:   time.Second,
	}, func(context.Context) error {
		calls++
		if calls == 1 {
			return &ThrottleError{RetryAfter: retryAfter, Cause: errors.New("429")}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("business call executed %d times, want 2", calls)
	}
	if elapsed := time.Since(start); elapsed < retryAfter {
		t.Errorf("retry happened after %v, want at least %v", elapsed, retryAfter)
	}
}

// Отказ открытого предохранителя — не исход вызова интеграции:
// fn не выполнялся, и монитор провалов кормить таким событием нельзя,
// иначе паника самоподдерживается на синтетических ошибках.
func TestGuardOpenBreakerNotReported(t *testing.T) {
	resolver := newTestResolver(newFakeStore(), ResolverOptions{})
	sink := &fakeSink{}
	g := NewGuard(resolver, sink, nil, zap.NewNop())

	// Предохранитель открывается после шести провалов подряд
	down := errors.New("afip is down")
	for i := 0; i < 6; i++ {
		_ = g.DoWithOptions(context.Background(), afip, nil, "afip", quickOpts(), func(context.Context) error {
			return down
		})
	}
	reported := len(sink.reported())

	called := false
	err := g.DoWithOptions(context.Background(), afip, nil, "afip", quickOpts(), func(context.Context) error {
		called = true
		return nil
	})

	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("got %v, want ErrOpenState", err)
	}
	if called {
		t.Error("business call executed through an open breaker")
	}
	if got := len(sink.reported()); got != reported {
		t.Errorf("sink outcomes = %d, want %d (short-circuit must not be reported)", got, reported)
	}
}
