package domain

import (
	"math"
	"testing"
)

// ─── Type Canonicalisation ──────────────────────────────────────────────────

func TestCanonicalType(t *testing.T) {
	cases := []struct {
		raw  string
		want EquipmentType
		ok   bool
	}{
		{"fan-coil", TypeFanCoil, true},
		{"FanCoil", TypeFanCoil, true},
		{"Fan Coil", TypeFanCoil, true},
		{"fan_coil", TypeFanCoil, true},
		{"boiler", TypeBoiler, true},
		{"hwpump", TypePump, true},
		{"cwpump", TypePump, true},
		{"CW-Pump", TypePump, true},
		{"chiller", TypeChiller, true},
		{"Air Handler", TypeAirHandler, true},
		{"AHU", TypeAirHandler, true},
		{"steam-bundle", TypeSteamBundle, true},
		{"cooling-tower", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := CanonicalType(c.raw)
		if ok != c.ok || got != c.want {
			t.Errorf("CanonicalType(%q) = (%q, %v), want (%q, %v)", c.raw, got, ok, c.want, c.ok)
		}
	}
}

func TestPumpKind(t *testing.T) {
	hw := Equipment{ID: "p1", Type: TypePump, Subrole: "hwpump"}
	cw := Equipment{ID: "p2", Type: TypePump, Subrole: "cwpump"}
	none := Equipment{ID: "p3", Type: TypePump}

	if hw.PumpKind() != PumpHotWater {
		t.Errorf("hwpump subrole should map to PumpHotWater")
	}
	if cw.PumpKind() != PumpChilledWater {
		t.Errorf("cwpump subrole should map to PumpChilledWater")
	}
	if none.PumpKind() != PumpHotWater {
		t.Errorf("missing subrole should default to PumpHotWater")
	}
}

// ─── Command Filter ─────────────────────────────────────────────────────────

func TestFilterCommands_DropsUnknown(t *testing.T) {
	bag := CommandBag{
		CmdUnitEnable:        true,
		CmdWaterTempSetpoint: 117.5,
		CmdFanSpeed:          "high", // not valid for chillers
	}
	out, dropped := FilterCommands(TypeChiller, bag)

	if len(out) != 2 {
		t.Fatalf("filtered bag = %d commands, want 2", len(out))
	}
	if _, ok := out[CmdFanSpeed]; ok {
		t.Error("fanSpeed should be filtered for chillers")
	}
	if len(dropped) != 1 || dropped[0] != CmdFanSpeed {
		t.Errorf("dropped = %v, want [fanSpeed]", dropped)
	}
}

func TestFilterCommands_SubsetInvariant(t *testing.T) {
	// Whatever the algorithm emits, the written bag is a subset of the
	// allowed set for the type.
	bag := CommandBag{}
	for _, name := range []string{
		CmdUnitEnable, CmdFiring, CmdFanSpeed, CmdPumpRuntime,
		CmdPrimaryValvePosition, "bogusCommand",
	} {
		bag.Set(name, 1.0)
	}
	for _, typ := range AllTypes() {
		out, _ := FilterCommands(typ, bag)
		for name := range out {
			if !AllowedCommand(typ, name) {
				t.Errorf("type %s: %s passed filter but is not allowed", typ, name)
			}
		}
	}
}

func TestSafeBag(t *testing.T) {
	boiler := SafeBag(TypeBoiler)
	if en, _ := boiler.Bool(CmdUnitEnable); en {
		t.Error("safe boiler bag must disable the unit")
	}
	if firing, ok := boiler.Float(CmdFiring); !ok || firing != 0 {
		t.Error("safe boiler bag must force firing=0")
	}

	fc := SafeBag(TypeFanCoil)
	if heat, _ := fc.Float(CmdHeatingValvePosition); heat != 0 {
		t.Error("safe fan-coil bag must close the heating valve")
	}
	if fan, _ := fc.Bool(CmdFanEnabled); fan {
		t.Error("safe fan-coil bag must stop the fan")
	}

	// Safe bags must themselves pass the command filter.
	for _, typ := range AllTypes() {
		_, dropped := FilterCommands(typ, SafeBag(typ))
		if len(dropped) != 0 {
			t.Errorf("SafeBag(%s) emits disallowed commands: %v", typ, dropped)
		}
	}
}

// ─── Snapshot Coercion ──────────────────────────────────────────────────────

func TestSnapshotFloat(t *testing.T) {
	s := Snapshot{
		"SupplyTemp":  77.0,
		"OutdoorTemp": "52.5",
		"FanStatus":   true,
		"BadValue":    math.NaN(),
		"Inf":         math.Inf(1),
		"Label":       "running",
	}

	if f, ok := s.Float("SupplyTemp"); !ok || f != 77.0 {
		t.Errorf("Float(SupplyTemp) = (%v, %v)", f, ok)
	}
	if f, ok := s.Float("OutdoorTemp"); !ok || f != 52.5 {
		t.Errorf("numeric strings should coerce, got (%v, %v)", f, ok)
	}
	if _, ok := s.Float("BadValue"); ok {
		t.Error("NaN must not count as a finite reading")
	}
	if _, ok := s.Float("Inf"); ok {
		t.Error("Inf must not count as a finite reading")
	}
	if _, ok := s.Float("Label"); ok {
		t.Error("non-numeric strings must not coerce")
	}
	if _, ok := s.Float("Missing"); ok {
		t.Error("missing fields must not coerce")
	}
}

func TestSnapshotFirstFinite(t *testing.T) {
	s := Snapshot{
		"Supply":     math.NaN(),
		"SupplyTemp": 63.2,
	}
	v, field, ok := s.FirstFinite([]string{"Supply", "SupplyTemp", "SAT"})
	if !ok || v != 63.2 || field != "SupplyTemp" {
		t.Errorf("FirstFinite = (%v, %q, %v), want (63.2, SupplyTemp, true)", v, field, ok)
	}

	_, _, ok = s.FirstFinite([]string{"Supply", "SAT"})
	if ok {
		t.Error("exhausted candidate list should report not-ok")
	}
}

// ─── Settings Merge ─────────────────────────────────────────────────────────

func TestMergePriority(t *testing.T) {
	defaults := map[string]any{"temperatureSetpoint": 72.0, "unitEnable": true}
	persisted := map[string]any{"temperatureSetpoint": 74.0}
	ui := map[string]any{"temperature_setpoint": 70.0}

	s := Merge(defaults, persisted, ui)

	// UI override (snake_case) wins over persisted (camelCase) via the
	// override chain, not key collision.
	got, ok := s.FirstFloat("temperature_setpoint", "temperatureSetpoint")
	if !ok || got != 70.0 {
		t.Errorf("override chain = (%v, %v), want 70", got, ok)
	}

	// With no UI value the persisted command wins over the default.
	s2 := Merge(defaults, persisted)
	got, _ = s2.FirstFloat("temperature_setpoint", "temperatureSetpoint")
	if got != 74.0 {
		t.Errorf("persisted should beat default, got %v", got)
	}
}
