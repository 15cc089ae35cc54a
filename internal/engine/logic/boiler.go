package logic

import (
	"fmt"

	"github.com/atlasbms/atlas/internal/control/oar"
	"github.com/atlasbms/atlas/internal/domain"
	"github.com/atlasbms/atlas/internal/infra/locations"
)

func boilerDefaults() locations.BoilerParams {
	return locations.BoilerParams{
		Curve:       oar.Curve{MinOAT: 32, MaxOAT: 72, MaxSetpoint: 155, MinSetpoint: 80},
		FiringDelta: 2,
	}
}

// Boiler is the boiler algorithm: outdoor-air-reset water setpoint,
// lead-lag aware firing with a dead-band hold, emergency shutoff above
// 170°F, freeze condition forces off.
func Boiler(in Inputs, st StateView) Result {
	res := NewResult()

	params := boilerDefaults()
	if in.Location.Boiler != nil {
		params = *in.Location.Boiler
	}

	supply, _, supplyOK := in.Metrics.FirstFinite(supplyTempCandidates)

	setpoint, hasOverride := setpointOverride(in.Settings, "water_temp_setpoint", "waterTempSetpoint")
	if !hasOverride {
		if in.OutdoorOK {
			setpoint = params.Curve.SetpointAt(in.OutdoorTemp)
		} else {
			setpoint = params.Curve.MaxSetpoint
		}
	}
	res.Commands.Set(domain.CmdWaterTempSetpoint, setpoint)
	if in.OutdoorOK {
		res.Commands.Set(domain.CmdOutdoorTemp, in.OutdoorTemp)
	}
	if supplyOK {
		res.Commands.Set(domain.CmdSupplyTemp, supply)
	}

	// Emergency shutoff overrides lead-lag and everything else.
	if supplyOK && supply > boilerSupplyMax {
		res.Commands.Set(domain.CmdUnitEnable, false)
		res.Commands.Set(domain.CmdFiring, 0.0)
		res.Commands.Set(domain.CmdSafetyShutoff, true)
		res.Commands.Set(domain.CmdSafetyReason,
			fmt.Sprintf("supply temp %.1fF exceeds %.0fF limit", supply, boilerSupplyMax))
		res.Commands.Set(domain.CmdIsLead, boolTo01(in.IsLead))
		res.State["firing"] = 0.0
		leadLagInfo(res, in)
		return res
	}
	// Freeze condition: a supply this cold means flow is lost; forcing the
	// burner on without flow is unsafe, so the unit goes off instead.
	if supplyOK && supply <= freezestatTrip {
		res.Commands.Set(domain.CmdUnitEnable, false)
		res.Commands.Set(domain.CmdFiring, 0.0)
		res.Commands.Set(domain.CmdSafetyShutoff, true)
		res.Commands.Set(domain.CmdSafetyReason,
			fmt.Sprintf("supply temp %.1fF at or below freeze limit %.0fF", supply, freezestatTrip))
		res.Commands.Set(domain.CmdIsLead, boolTo01(in.IsLead))
		res.State["firing"] = 0.0
		leadLagInfo(res, in)
		return res
	}
	res.Commands.Set(domain.CmdSafetyShutoff, false)

	// Lag boilers stay dark until the coordinator promotes them.
	if !in.IsLead {
		res.Commands.Set(domain.CmdUnitEnable, false)
		res.Commands.Set(domain.CmdFiring, 0.0)
		res.Commands.Set(domain.CmdIsLead, 0.0)
		res.State["firing"] = 0.0
		leadLagInfo(res, in)
		return res
	}

	firing := 0.0
	prevFiring, _ := st.Float("firing")
	if supplyOK {
		switch {
		case setpoint-supply > params.FiringDelta:
			firing = 1
		case supply >= setpoint:
			firing = 0
		default:
			// Inside the dead-band: hold the previous firing state to avoid
			// short-cycling the burner.
			firing = prevFiring
		}
	}

	res.Commands.Set(domain.CmdUnitEnable, true)
	res.Commands.Set(domain.CmdFiring, firing)
	res.Commands.Set(domain.CmdIsLead, 1.0)
	res.State["firing"] = firing
	leadLagInfo(res, in)
	return res
}

// BoilerHealth is the lead-lag health predicate for boilers: supply over
// the emergency limit or an active fault status fails the check.
func BoilerHealth(metrics domain.Snapshot, st StateView) (bool, string) {
	if supply, _, ok := metrics.FirstFinite(supplyTempCandidates); ok && supply > boilerSupplyMax {
		return false, fmt.Sprintf("supply temp %.1fF over %.0fF limit", supply, boilerSupplyMax)
	}
	if fault, ok := metrics.Bool("FaultStatus"); ok && fault {
		return false, "fault status active"
	}
	if alarm, ok := metrics.Bool("Alarm"); ok && alarm {
		return false, "alarm active"
	}
	return true, ""
}
