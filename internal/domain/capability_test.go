package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseCapabilityPath(t *testing.T) {
	t.Run("valid path", func(t *testing.T) {
		p, err := ParseCapabilityPath("external.afip")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Category != CategoryExternal || p.Name != "afip" {
			t.Errorf("got %+v", p)
		}
		if p.String() != "external.afip" {
			t.Errorf("String() = %q", p.String())
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		p, err := ParseCapabilityPath("External.AFIP")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.String() != "external.afip" {
			t.Errorf("String() = %q", p.String())
		}
	})

	t.Run("unknown category", func(t *testing.T) {
		_, err := ParseCapabilityPath("payments.afip")
		if !errors.Is(err, ErrUnknownCapability) {
			t.Errorf("expected ErrUnknownCapability, got %v", err)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		for _, raw := range []string{"external", "external.", ".afip", ""} {
			if _, err := ParseCapabilityPath(raw); err == nil {
				t.Errorf("ParseCapabilityPath(%q): expected error", raw)
			}
		}
	})
}

func TestCapabilityPathEnvVar(t *testing.T) {
	p := CapabilityPath{Category: CategoryExternal, Name: "afip"}
	if got := p.EnvVar(); got != "CAPABILITY_EXTERNAL_AFIP" {
		t.Errorf("EnvVar() = %q", got)
	}
}

func TestOverrideActive(t *testing.T) {
	now := time.Now()

	t.Run("nil override is not active", func(t *testing.T) {
		var o *Override
		if o.Active(now) {
			t.Error("nil override reported active")
		}
	})

	t.Run("no expiry means active", func(t *testing.T) {
		o := &Override{}
		if !o.Active(now) {
			t.Error("override without expires_at should be active")
		}
	})

	t.Run("expired is not active", func(t *testing.T) {
		past := now.Add(-time.Minute)
		o := &Override{ExpiresAt: &past}
		if o.Active(now) {
			t.Error("expired override reported active")
		}
	})
}

func TestOverrideAuto(t *testing.T) {
	auto := &Override{Reason: AutoReasonPrefix + " 5 consecutive failures in 5m"}
	if !auto.Auto() {
		t.Error("override with machine prefix should be auto")
	}
	manual := &Override{Reason: "maintenance window"}
	if manual.Auto() {
		t.Error("manual override reported auto")
	}
}
