package logic

import (
	"testing"
	"time"

	"github.com/atlasbms/atlas/internal/domain"
)

func chillerInputs(t *testing.T) Inputs {
	locs := testRegistry(t)
	return Inputs{
		Equipment: domain.Equipment{
			ID: "hb-chiller-1", Type: domain.TypeChiller,
			LocationID: "hopebridge", GroupID: "hopebridge-chillers",
		},
		Location: locs["hopebridge"],
		Metrics:  domain.Snapshot{},
		Settings: domain.Settings{},
		Occupied: true,
		Now:      time.Date(2025, 7, 1, 13, 0, 0, 0, time.UTC),
		DT:       300,
		IsLead:   true,
		LeaderID: "hb-chiller-1",
	}
}

func TestChiller_LockoutBoundary(t *testing.T) {
	in := chillerInputs(t)
	in.Metrics = domain.Snapshot{"ChilledWaterTemp": 55.0}
	in.OutdoorOK = true

	// At exactly the lockout temperature: disable.
	in.OutdoorTemp = 50
	res := Chiller(in, newFakeState())
	if mustBool(t, res.Commands, domain.CmdUnitEnable) {
		t.Error("OAT at lockout must disable the chiller")
	}

	// Just above: runs (water temp 55 > 45 + 1.5).
	in.OutdoorTemp = 50.5
	res = Chiller(in, newFakeState())
	if !mustBool(t, res.Commands, domain.CmdUnitEnable) {
		t.Error("OAT above lockout with warm water must enable")
	}
	allowedSubset(t, domain.TypeChiller, res.Commands)
}

func TestChiller_DeadBand(t *testing.T) {
	in := chillerInputs(t)
	in.OutdoorTemp = 70
	in.OutdoorOK = true

	// Water within the 1.5°F dead-band of the 45°F setpoint: off.
	in.Metrics = domain.Snapshot{"ChilledWaterTemp": 46.0}
	res := Chiller(in, newFakeState())
	if mustBool(t, res.Commands, domain.CmdUnitEnable) {
		t.Error("water inside the dead-band must not run the chiller")
	}

	in.Metrics = domain.Snapshot{"ChilledWaterTemp": 46.6}
	res = Chiller(in, newFakeState())
	if !mustBool(t, res.Commands, domain.CmdUnitEnable) {
		t.Error("water above setpoint + dead-band must run the chiller")
	}
}

func TestChiller_AlarmBlocks(t *testing.T) {
	in := chillerInputs(t)
	in.OutdoorTemp = 70
	in.OutdoorOK = true
	in.Metrics = domain.Snapshot{"ChilledWaterTemp": 55.0, "Alarm": true}

	res := Chiller(in, newFakeState())
	if mustBool(t, res.Commands, domain.CmdUnitEnable) {
		t.Error("active alarm must disable the chiller")
	}
}

func TestChiller_LagStandby(t *testing.T) {
	in := chillerInputs(t)
	in.IsLead = false
	in.LeaderID = "hb-chiller-2"
	in.OutdoorTemp = 70
	in.OutdoorOK = true
	in.Metrics = domain.Snapshot{"ChilledWaterTemp": 55.0}

	res := Chiller(in, newFakeState())
	if mustBool(t, res.Commands, domain.CmdUnitEnable) {
		t.Error("lag chiller must stand by")
	}
}

func TestChiller_NoWaterTempControl(t *testing.T) {
	// Elmfield's chiller has no water-temperature control: it runs any
	// time lockout and alarms permit.
	locs := testRegistry(t)
	in := chillerInputs(t)
	in.Equipment = domain.Equipment{ID: "ef-chiller-1", Type: domain.TypeChiller, LocationID: "elmfield"}
	in.Location = locs["elmfield"]
	in.OutdoorTemp = 70
	in.OutdoorOK = true
	in.Metrics = domain.Snapshot{} // no water sensor at all

	res := Chiller(in, newFakeState())
	if !mustBool(t, res.Commands, domain.CmdUnitEnable) {
		t.Error("without water-temp control the chiller runs when conditions permit")
	}
}

func TestChiller_SetpointOverride(t *testing.T) {
	in := chillerInputs(t)
	in.OutdoorTemp = 70
	in.OutdoorOK = true
	in.Settings = domain.Settings{"water_temp_setpoint": 42.0}
	in.Metrics = domain.Snapshot{"ChilledWaterTemp": 44.0}

	res := Chiller(in, newFakeState())
	if sp := mustFloat(t, res.Commands, domain.CmdWaterTempSetpoint); sp != 42 {
		t.Errorf("waterTempSetpoint = %v, want override 42", sp)
	}
	// 44 > 42 + 1.5: enabled.
	if !mustBool(t, res.Commands, domain.CmdUnitEnable) {
		t.Error("water above overridden setpoint + dead-band must enable")
	}
}
