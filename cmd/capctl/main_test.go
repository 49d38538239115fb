package main

import (
	"reflect"
	"testing"

	"github.com/xela07ax/capgate/internal/domain"
)

// Таблица status обязана печататься в одном и том же порядке между
// запусками, иначе вывод нельзя диффать.
func TestSnapshotOrder(t *testing.T) {
	snap := map[string]map[string]domain.Decision{
		"ui":       {"new_dashboard": {}},
		"external": {"whatsapp": {}, "afip": {}, "mercadopago": {}},
		"services": {"speech": {}},
	}

	got := snapshotOrder(snap)
	want := []snapshotKey{
		{"external", "afip"},
		{"external", "mercadopago"},
		{"external", "whatsapp"},
		{"services", "speech"},
		{"ui", "new_dashboard"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}
