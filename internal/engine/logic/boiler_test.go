package logic

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/atlasbms/atlas/internal/domain"
)

func boilerInputs(t *testing.T) Inputs {
	locs := testRegistry(t)
	return Inputs{
		Equipment: domain.Equipment{
			ID: "hh-boiler-1", Type: domain.TypeBoiler,
			LocationID: "huntington", GroupID: "huntington-boilers",
		},
		Location:  locs["huntington"],
		Metrics:   domain.Snapshot{},
		Settings:  domain.Settings{},
		Occupied:  true,
		Now:       time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC),
		DT:        120,
		IsLead:    true,
		LeaderID:  "hh-boiler-1",
	}
}

func TestBoiler_OARSetpoint(t *testing.T) {
	// 52°F outdoors on the 32→155 / 72→80 curve.
	in := boilerInputs(t)
	in.OutdoorTemp = 52
	in.OutdoorOK = true
	in.Metrics = domain.Snapshot{"SupplyTemp": 110.0}

	res := Boiler(in, newFakeState())
	sp := mustFloat(t, res.Commands, domain.CmdWaterTempSetpoint)
	want := 155 - (20.0/40.0)*(155-80)
	if math.Abs(sp-want) > 1e-9 {
		t.Errorf("waterTempSetpoint = %v, want %v", sp, want)
	}
	allowedSubset(t, domain.TypeBoiler, res.Commands)
}

func TestBoiler_FiringLogic(t *testing.T) {
	in := boilerInputs(t)
	in.OutdoorTemp = 52 // setpoint 117.5
	in.OutdoorOK = true
	st := newFakeState()

	// Well below setpoint: fire.
	in.Metrics = domain.Snapshot{"SupplyTemp": 110.0}
	res := Boiler(in, st)
	if f := mustFloat(t, res.Commands, domain.CmdFiring); f != 1 {
		t.Errorf("firing = %v, want 1 at 7.5F below setpoint", f)
	}
	st.apply(res)

	// Inside the dead-band: hold the previous firing state.
	in.Metrics = domain.Snapshot{"SupplyTemp": 116.5}
	res = Boiler(in, st)
	if f := mustFloat(t, res.Commands, domain.CmdFiring); f != 1 {
		t.Errorf("firing = %v, want held at 1 inside dead-band", f)
	}
	st.apply(res)

	// At setpoint: stop.
	in.Metrics = domain.Snapshot{"SupplyTemp": 118.0}
	res = Boiler(in, st)
	if f := mustFloat(t, res.Commands, domain.CmdFiring); f != 0 {
		t.Errorf("firing = %v, want 0 at setpoint", f)
	}
}

func TestBoiler_SafetyShutoffScenario(t *testing.T) {
	// Supply 172°F on the leader with conditions otherwise satisfied.
	in := boilerInputs(t)
	in.OutdoorTemp = 30
	in.OutdoorOK = true
	in.Metrics = domain.Snapshot{"SupplyTemp": 172.0}

	res := Boiler(in, newFakeState())
	if mustBool(t, res.Commands, domain.CmdUnitEnable) {
		t.Error("safety shutoff must disable the unit")
	}
	if f := mustFloat(t, res.Commands, domain.CmdFiring); f != 0 {
		t.Errorf("firing = %v, want 0", f)
	}
	if !mustBool(t, res.Commands, domain.CmdSafetyShutoff) {
		t.Error("safetyShutoff must be raised")
	}
	reason, _ := res.Commands.String(domain.CmdSafetyReason)
	if !strings.Contains(reason, "supply") || !strings.Contains(reason, "170") {
		t.Errorf("safetyReason = %q, want mention of supply and the 170F limit", reason)
	}
	allowedSubset(t, domain.TypeBoiler, res.Commands)
}

func TestBoiler_FreezeForcesOff(t *testing.T) {
	in := boilerInputs(t)
	in.OutdoorTemp = 10
	in.OutdoorOK = true
	in.Metrics = domain.Snapshot{"SupplyTemp": 38.0}

	res := Boiler(in, newFakeState())
	if mustBool(t, res.Commands, domain.CmdUnitEnable) {
		t.Error("freeze condition must force the boiler off")
	}
	if !mustBool(t, res.Commands, domain.CmdSafetyShutoff) {
		t.Error("freeze condition must raise safetyShutoff")
	}
}

func TestBoiler_LagStaysDark(t *testing.T) {
	in := boilerInputs(t)
	in.IsLead = false
	in.LeaderID = "hh-boiler-2"
	in.OutdoorTemp = 30
	in.OutdoorOK = true
	in.Metrics = domain.Snapshot{"SupplyTemp": 100.0} // would fire if lead

	res := Boiler(in, newFakeState())
	if mustBool(t, res.Commands, domain.CmdUnitEnable) {
		t.Error("lag boiler must stay off")
	}
	if f := mustFloat(t, res.Commands, domain.CmdFiring); f != 0 {
		t.Errorf("lag firing = %v, want 0", f)
	}
	if lead := mustFloat(t, res.Commands, domain.CmdIsLead); lead != 0 {
		t.Errorf("isLead = %v, want 0", lead)
	}
	if leader, _ := res.Commands.String(domain.CmdLeadEquipmentID); leader != "hh-boiler-2" {
		t.Errorf("leadEquipmentId = %q", leader)
	}
}

func TestBoilerHealth(t *testing.T) {
	if ok, _ := BoilerHealth(domain.Snapshot{"SupplyTemp": 150.0}, newFakeState()); !ok {
		t.Error("150F supply should be healthy")
	}
	ok, reason := BoilerHealth(domain.Snapshot{"SupplyTemp": 172.0}, newFakeState())
	if ok {
		t.Error("172F supply should fail the health check")
	}
	if !strings.Contains(reason, "170") {
		t.Errorf("reason = %q", reason)
	}
	if ok, _ := BoilerHealth(domain.Snapshot{"SupplyTemp": 120.0, "FaultStatus": true}, newFakeState()); ok {
		t.Error("fault status should fail the health check")
	}
}
