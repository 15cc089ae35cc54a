package logic

import (
	"testing"
	"time"

	"github.com/atlasbms/atlas/internal/domain"
)

func pumpInputs(t *testing.T, subrole string) Inputs {
	locs := testRegistry(t)
	loc := "huntington"
	groupID := "huntington-hwpumps"
	if subrole == "cwpump" {
		loc = "hopebridge"
		groupID = "hopebridge-cwpumps"
	}
	return Inputs{
		Equipment: domain.Equipment{
			ID: "p1", Type: domain.TypePump, LocationID: loc,
			GroupID: groupID, Subrole: subrole,
		},
		Location: locs[loc],
		Metrics:  domain.Snapshot{},
		Settings: domain.Settings{},
		Occupied: true,
		Now:      time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC),
		DT:       30,
		IsLead:   true,
		LeaderID: "p1",
	}
}

func TestPump_HWHysteresisScenario(t *testing.T) {
	// Starting off, outdoor sequence [76, 74, 73, 75, 76]:
	// on at ≤74, off at ≥75 → [false, true, true, false, false].
	in := pumpInputs(t, "hwpump")
	st := newFakeState()

	sequence := []float64{76, 74, 73, 75, 76}
	want := []bool{false, true, true, false, false}

	for i, oat := range sequence {
		in.OutdoorTemp = oat
		in.OutdoorOK = true
		res := Pump(in, st)
		if got := mustBool(t, res.Commands, domain.CmdUnitEnable); got != want[i] {
			t.Errorf("step %d (OAT %v): enabled = %v, want %v", i, oat, got, want[i])
		}
		st.apply(res)
	}
}

func TestPump_CWHysteresis(t *testing.T) {
	// CW pumps: on at ≥37, off at ≤36, hold in between.
	in := pumpInputs(t, "cwpump")
	st := newFakeState()

	sequence := []float64{35, 37, 36.5, 36, 35}
	want := []bool{false, true, true, false, false}

	for i, oat := range sequence {
		in.OutdoorTemp = oat
		in.OutdoorOK = true
		res := Pump(in, st)
		if got := mustBool(t, res.Commands, domain.CmdUnitEnable); got != want[i] {
			t.Errorf("step %d (OAT %v): enabled = %v, want %v", i, oat, got, want[i])
		}
		st.apply(res)
	}
}

func TestPump_LagStandby(t *testing.T) {
	in := pumpInputs(t, "hwpump")
	in.IsLead = false
	in.LeaderID = "p0"
	in.OutdoorTemp = 70 // latch on territory
	in.OutdoorOK = true

	res := Pump(in, newFakeState())
	if mustBool(t, res.Commands, domain.CmdUnitEnable) {
		t.Error("lag pump must stand by")
	}
	if l := mustFloat(t, res.Commands, domain.CmdIsLead); l != 0 {
		t.Errorf("isLead = %v", l)
	}
	allowedSubset(t, domain.TypePump, res.Commands)
}

func TestPump_ExtremeColdOverridesLag(t *testing.T) {
	in := pumpInputs(t, "hwpump")
	in.IsLead = false
	in.OutdoorTemp = 18 // ≤ 20°F: second hot-water pump comes online
	in.OutdoorOK = true

	res := Pump(in, newFakeState())
	if !mustBool(t, res.Commands, domain.CmdUnitEnable) {
		t.Error("extreme cold must bring the lag HW pump online")
	}
}

func TestPump_ExtremeHeatOverridesLagCW(t *testing.T) {
	in := pumpInputs(t, "cwpump")
	in.IsLead = false
	in.OutdoorTemp = 92 // ≥ 90°F: second chilled-water pump comes online
	in.OutdoorOK = true

	res := Pump(in, newFakeState())
	if !mustBool(t, res.Commands, domain.CmdUnitEnable) {
		t.Error("extreme heat must bring the lag CW pump online")
	}
}

func TestPump_ManualOverrideBringsLagOnline(t *testing.T) {
	in := pumpInputs(t, "hwpump")
	in.IsLead = false
	in.OutdoorTemp = 60
	in.OutdoorOK = true
	in.Settings = domain.Settings{"manual_override": true}

	res := Pump(in, newFakeState())
	if !mustBool(t, res.Commands, domain.CmdUnitEnable) {
		t.Error("manual override must bring the lag pump online")
	}
}

func TestPump_FailureDetection(t *testing.T) {
	in := pumpInputs(t, "hwpump")
	in.OutdoorTemp = 60
	in.OutdoorOK = true
	st := newFakeState()

	// Tick 1: commanded on, amps healthy.
	in.Metrics = domain.Snapshot{"PumpAmps": 6.2, "PumpStatus": "running"}
	res := Pump(in, st)
	if fc := mustFloat(t, res.Commands, domain.CmdFailureCount); fc != 0 {
		t.Errorf("failureCount = %v, want 0", fc)
	}
	st.apply(res)

	// Tick 2: commanded on from the previous tick, amps collapsed.
	in.Metrics = domain.Snapshot{"PumpAmps": 0.2, "PumpStatus": "running"}
	res = Pump(in, st)
	if fc := mustFloat(t, res.Commands, domain.CmdFailureCount); fc != 1 {
		t.Errorf("failureCount = %v, want 1", fc)
	}
	st.apply(res)

	// Status "off" suppresses the failure count.
	in.Metrics = domain.Snapshot{"PumpAmps": 0.0, "PumpStatus": "off"}
	res = Pump(in, st)
	if fc := mustFloat(t, res.Commands, domain.CmdFailureCount); fc != 1 {
		t.Errorf("failureCount = %v, want unchanged at 1", fc)
	}
}

func TestPump_RuntimeAccumulates(t *testing.T) {
	in := pumpInputs(t, "hwpump")
	in.OutdoorTemp = 60
	in.OutdoorOK = true
	in.DT = 1800 // half an hour per tick
	st := newFakeState()

	for i := 0; i < 2; i++ {
		res := Pump(in, st)
		st.apply(res)
	}
	res := Pump(in, st)
	if rt := mustFloat(t, res.Commands, domain.CmdPumpRuntime); rt != 1.5 {
		t.Errorf("pumpRuntime = %v hours, want 1.5", rt)
	}
}

func TestPumpHealth(t *testing.T) {
	st := newFakeState()
	st.kv["commandedOn"] = true

	ok, reason := PumpHealth(domain.Snapshot{"PumpAmps": 0.2, "PumpStatus": "running"}, st)
	if ok {
		t.Error("0.2A while commanded on must be unhealthy")
	}
	if reason == "" {
		t.Error("reason must describe the failure")
	}
	if ok, _ := PumpHealth(domain.Snapshot{"PumpAmps": 5.0, "PumpStatus": "running"}, st); !ok {
		t.Error("healthy amps should pass")
	}
	if ok, _ := PumpHealth(domain.Snapshot{"PumpAmps": 0.0, "PumpStatus": "off"}, st); !ok {
		t.Error("status off should not count as failure")
	}

	idle := newFakeState()
	if ok, _ := PumpHealth(domain.Snapshot{"PumpAmps": 0.0}, idle); !ok {
		t.Error("not commanded on: zero amps is normal")
	}
}
