package logic

import (
	"fmt"

	"github.com/atlasbms/atlas/internal/control/oar"
	"github.com/atlasbms/atlas/internal/control/pid"
	"github.com/atlasbms/atlas/internal/domain"
	"github.com/atlasbms/atlas/internal/infra/locations"
)

func steamBundleDefaults() locations.SteamBundleParams {
	return locations.SteamBundleParams{
		Curve:             oar.Curve{MinOAT: 32, MaxOAT: 70, MaxSetpoint: 155, MinSetpoint: 0},
		TripTemp:          steamBundleTrip,
		PumpInterlockAmps: 10,
		PID: map[string]pid.Params{
			"valve": {Kp: 2.5, Ki: 0.12, Kd: 0.02, OutputMax: 100, MaxIntegral: 12, ReverseActing: true, Enabled: true},
		},
	}
}

// SteamBundle modulates the two steam valves against an OAR water
// setpoint. One PID output stages across both valves; a hot-water pump
// must be proving flow or both valves drive closed.
func SteamBundle(in Inputs, st StateView) Result {
	res := NewResult()

	params := steamBundleDefaults()
	if in.Location.SteamBundle != nil {
		params = *in.Location.SteamBundle
	}
	trip := params.TripTemp
	if trip <= 0 {
		trip = steamBundleTrip
	}

	supply, _, supplyOK := in.Metrics.FirstFinite(supplyTempCandidates)

	// Safety: bundle over temperature closes everything.
	if supplyOK && supply >= trip {
		res.Commands.Set(domain.CmdUnitEnable, false)
		res.Commands.Set(domain.CmdPrimaryValvePosition, 0.0)
		res.Commands.Set(domain.CmdSecondaryValvePosition, 0.0)
		res.Commands.Set(domain.CmdSafetyStatus,
			fmt.Sprintf("tripped: supply %.1fF at or above %.0fF limit", supply, trip))
		return res
	}
	res.Commands.Set(domain.CmdSafetyStatus, "normal")

	// Pump interlock: at least one hot-water pump must be drawing real
	// current or the bundle would dead-head.
	if !pumpProving(in.Metrics, params.PumpInterlockAmps) {
		res.Commands.Set(domain.CmdUnitEnable, false)
		res.Commands.Set(domain.CmdPrimaryValvePosition, 0.0)
		res.Commands.Set(domain.CmdSecondaryValvePosition, 0.0)
		res.Commands.Set(domain.CmdPumpStatus, "no flow")
		return res
	}
	res.Commands.Set(domain.CmdPumpStatus, "proving")

	setpoint, hasOverride := setpointOverride(in.Settings, "temperature_setpoint", "temperatureSetpoint")
	if !hasOverride {
		if !in.OutdoorOK {
			setpoint = params.Curve.MaxSetpoint
		} else {
			setpoint = params.Curve.SetpointAt(in.OutdoorTemp)
		}
	}
	res.Commands.Set(domain.CmdTemperatureSetpoint, setpoint)

	// The curve bottoms out at "off": warm enough outside means no steam.
	if setpoint <= 0 {
		res.Commands.Set(domain.CmdUnitEnable, false)
		res.Commands.Set(domain.CmdPrimaryValvePosition, 0.0)
		res.Commands.Set(domain.CmdSecondaryValvePosition, 0.0)
		return res
	}

	input := supply
	if !supplyOK {
		input = setpoint // hold steady on a dead sensor
	}
	u := runPID(res, st, "valve", params.PID["valve"], input, setpoint, in.DT)

	primary, secondary := stageValves(u)
	res.Commands.Set(domain.CmdUnitEnable, true)
	res.Commands.Set(domain.CmdPrimaryValvePosition, primary)
	res.Commands.Set(domain.CmdSecondaryValvePosition, secondary)
	return res
}

// stageValves maps one 0..100 demand across the primary and secondary
// valves: the primary opens over the first third, the secondary over the
// remaining two thirds.
func stageValves(u float64) (primary, secondary float64) {
	if u <= 0 {
		return 0, 0
	}
	if u <= 33 {
		return u * 100 / 33, 0
	}
	if u > 100 {
		u = 100
	}
	return 100, (u - 33) * 100 / 67
}

func pumpProving(m domain.Snapshot, interlockAmps float64) bool {
	for _, c := range hwPumpAmpCandidates {
		if amps, ok := m.Float(c); ok && amps > interlockAmps {
			return true
		}
	}
	return false
}
