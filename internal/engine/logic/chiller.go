package logic

import (
	"github.com/atlasbms/atlas/internal/domain"
	"github.com/atlasbms/atlas/internal/infra/locations"
)

func chillerDefaults() locations.ChillerParams {
	return locations.ChillerParams{
		LockoutOAT:       50,
		DefaultSetpoint:  45,
		DeadBand:         1.5,
		WaterTempControl: true,
	}
}

// Chiller is the chiller algorithm: outdoor lockout, alarm interlock, and
// an optional chilled-water-temperature enable decision. Dual-chiller
// locations run weekly changeover through the lead-lag coordinator.
func Chiller(in Inputs, st StateView) Result {
	res := NewResult()

	params := chillerDefaults()
	if in.Location.Chiller != nil {
		params = *in.Location.Chiller
	}

	setpoint, hasOverride := setpointOverride(in.Settings, "water_temp_setpoint", "waterTempSetpoint")
	if !hasOverride {
		setpoint = params.DefaultSetpoint
	}
	res.Commands.Set(domain.CmdWaterTempSetpoint, setpoint)

	// Lockout: at or below the lockout temperature the chiller stays off.
	// An unreadable outdoor sensor locks out too; mechanical cooling is
	// not worth running blind.
	if !in.OutdoorOK || in.OutdoorTemp <= params.LockoutOAT {
		res.Commands.Set(domain.CmdUnitEnable, false)
		return res
	}

	if alarm, ok := firstAlarm(in.Metrics); ok && alarm {
		res.Commands.Set(domain.CmdUnitEnable, false)
		return res
	}

	// Lag chiller stands by until promoted.
	if !in.IsLead {
		res.Commands.Set(domain.CmdUnitEnable, false)
		return res
	}

	enable := true
	if params.WaterTempControl {
		water, _, ok := in.Metrics.FirstFinite(cwTempCandidates)
		if ok {
			enable = water > setpoint+params.DeadBand
		} else {
			// No water sensor: keep the last decision rather than cycle.
			enable, _ = st.Bool("enabled")
		}
	}
	res.State["enabled"] = enable
	res.Commands.Set(domain.CmdUnitEnable, enable)
	return res
}

func firstAlarm(m domain.Snapshot) (bool, bool) {
	for _, c := range alarmCandidates {
		if b, ok := m.Bool(c); ok {
			return b, true
		}
	}
	return false, false
}

// ChillerHealth is the lead-lag health predicate for chillers: an active
// alarm fails the check.
func ChillerHealth(metrics domain.Snapshot, st StateView) (bool, string) {
	if alarm, ok := firstAlarm(metrics); ok && alarm {
		return false, "chiller alarm active"
	}
	return true, ""
}
