package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/atlasbms/atlas/internal/control/pid"
)

func TestPIDRoundTrip(t *testing.T) {
	s := NewStore()
	key := PIDKey("fc-101", "cooling")

	if got := s.PID(key); got.Initialized {
		t.Error("missing PID state should be zero")
	}

	want := pid.State{Integral: 2.5, PreviousError: 5, LastOutput: 18.1, LastSetpoint: 72, Initialized: true}
	s.SetPID(key, want)
	if got := s.PID(key); got != want {
		t.Errorf("PID(%q) = %+v, want %+v", key, got, want)
	}

	s.ResetPID(key)
	if got := s.PID(key); got.Initialized {
		t.Error("ResetPID should clear the state")
	}
}

func TestKVAccessors(t *testing.T) {
	s := NewStore()

	s.Set("p1", "hysteresisOn", true)
	s.Set("p1", "failureCount", 2.0)
	s.Set("p1", "lastStatus", "running")

	if b, ok := s.Bool("p1", "hysteresisOn"); !ok || !b {
		t.Error("Bool round trip failed")
	}
	if f, ok := s.Float("p1", "failureCount"); !ok || f != 2 {
		t.Error("Float round trip failed")
	}
	if str, ok := s.String("p1", "lastStatus"); !ok || str != "running" {
		t.Error("String round trip failed")
	}
	if _, ok := s.Get("p1", "missing"); ok {
		t.Error("missing key should not resolve")
	}
	if _, ok := s.Get("other", "anything"); ok {
		t.Error("unknown equipment should not resolve")
	}

	s.Delete("p1", "hysteresisOn")
	if _, ok := s.Bool("p1", "hysteresisOn"); ok {
		t.Error("Delete should remove the key")
	}
}

func TestTimeSurvivesJSON(t *testing.T) {
	s := NewStore()
	at := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	s.SetTime("ahu-1", "warmupStartedAt", at)

	// Round-trip through JSON, as the sqlite snapshot does.
	raw, err := json.Marshal(s.Export())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored := NewStore()
	restored.Import(snap)

	got, ok := restored.Time("ahu-1", "warmupStartedAt")
	if !ok || !got.Equal(at) {
		t.Errorf("restored time = (%v, %v), want %v", got, ok, at)
	}
}

func TestAddFloat(t *testing.T) {
	s := NewStore()
	if got := s.AddFloat("ahu-1", "warmupTicks", 1); got != 1 {
		t.Errorf("first increment = %v, want 1", got)
	}
	if got := s.AddFloat("ahu-1", "warmupTicks", 1); got != 2 {
		t.Errorf("second increment = %v, want 2", got)
	}
}

func TestExportIsACopy(t *testing.T) {
	s := NewStore()
	s.Set("e1", "k", 1.0)
	snap := s.Export()
	snap.KV["e1"]["k"] = 99.0

	if f, _ := s.Float("e1", "k"); f != 1.0 {
		t.Error("mutating an export must not touch the store")
	}
}

func TestSnapshotJSONRestoresPID(t *testing.T) {
	s := NewStore()
	s.SetPID(PIDKey("b1", "heating"), pid.State{Integral: 1.5, Initialized: true})

	raw, _ := json.Marshal(s.Export())
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	restored := NewStore()
	restored.Import(snap)

	got := restored.PID(PIDKey("b1", "heating"))
	if !got.Initialized || got.Integral != 1.5 {
		t.Errorf("restored PID = %+v", got)
	}
}
