package logic

import (
	"github.com/atlasbms/atlas/internal/control/pid"
	"github.com/atlasbms/atlas/internal/domain"
	"github.com/atlasbms/atlas/internal/infra/locations"
)

func fanCoilDefaults() locations.FanCoilParams {
	return locations.FanCoilParams{
		DefaultSetpoint: 72,
		DeadBand:        1,
		DamperMode:      "binary",
		DamperBinaryOAT: 40,
		PID: map[string]pid.Params{
			"cooling": {Kp: 3.5, Ki: 0.2, Kd: 0.02, OutputMax: 100, MaxIntegral: 10, Enabled: true},
			"heating": {Kp: 3.0, Ki: 0.15, Kd: 0.02, OutputMax: 100, MaxIntegral: 10, ReverseActing: true, Enabled: true},
		},
	}
}

// FanCoil is the base fan-coil algorithm: dead-band heating/cooling PID
// pair, per-location damper behaviour, freezestat and high-limit
// interlocks.
func FanCoil(in Inputs, st StateView) Result {
	res := NewResult()

	params := fanCoilDefaults()
	if in.Location.FanCoil != nil {
		params = *in.Location.FanCoil
	}

	setpoint, hasOverride := setpointOverride(in.Settings, "temperature_setpoint", "temperatureSetpoint")
	if !hasOverride {
		setpoint = params.DefaultSetpoint
	}
	res.Commands.Set(domain.CmdTemperatureSetpoint, setpoint)

	// Safety interlocks run against the supply sensor regardless of the
	// configured control source, and override everything downstream.
	supply, _, supplyOK := in.Metrics.FirstFinite(supplyTempCandidates)
	if supplyOK && supply <= freezestatTrip {
		res.Commands.Set(domain.CmdUnitEnable, true)
		res.Commands.Set(domain.CmdHeatingValvePosition, 100.0)
		res.Commands.Set(domain.CmdCoolingValvePosition, 0.0)
		res.Commands.Set(domain.CmdFanEnabled, false)
		res.Commands.Set(domain.CmdFanSpeed, domain.FanSpeedOff)
		res.Commands.Set(domain.CmdOutdoorDamperPosition, 0.0)
		res.Commands.Set(domain.CmdOperationMode, "freezestat")
		return res
	}
	if supplyOK && supply >= hiLimitTrip {
		res.Commands.Set(domain.CmdUnitEnable, true)
		res.Commands.Set(domain.CmdHeatingValvePosition, 0.0)
		res.Commands.Set(domain.CmdCoolingValvePosition, 0.0)
		res.Commands.Set(domain.CmdOutdoorDamperPosition, 100.0)
		res.Commands.Set(domain.CmdOperationMode, "hi-limit")
		return res
	}

	if !in.Occupied {
		res.Commands.Set(domain.CmdUnitEnable, false)
		res.Commands.Set(domain.CmdFanEnabled, false)
		res.Commands.Set(domain.CmdFanSpeed, domain.FanSpeedOff)
		res.Commands.Set(domain.CmdHeatingValvePosition, 0.0)
		res.Commands.Set(domain.CmdCoolingValvePosition, 0.0)
		res.Commands.Set(domain.CmdOutdoorDamperPosition, 0.0)
		return res
	}

	err := in.CurrentTemp - setpoint
	var heating, cooling float64
	switch {
	case err > params.DeadBand:
		cooling = runPID(res, st, "cooling", params.PID["cooling"], in.CurrentTemp, setpoint, in.DT)
	case err < -params.DeadBand:
		heating = runPID(res, st, "heating", params.PID["heating"], in.CurrentTemp, setpoint, in.DT)
	}

	res.Commands.Set(domain.CmdUnitEnable, true)
	res.Commands.Set(domain.CmdHeatingValvePosition, heating)
	res.Commands.Set(domain.CmdCoolingValvePosition, cooling)
	res.Commands.Set(domain.CmdFanEnabled, true)
	res.Commands.Set(domain.CmdFanSpeed, fanSpeedFor(true, maxOf(heating, cooling)))
	res.Commands.Set(domain.CmdOutdoorDamperPosition, damperPosition(params, in))
	return res
}

// damperPosition applies the per-location outdoor damper rule: a single
// binary threshold, or an open window between two outdoor temperatures.
func damperPosition(params locations.FanCoilParams, in Inputs) float64 {
	if !in.OutdoorOK {
		return 0
	}
	switch params.DamperMode {
	case "window":
		if in.OutdoorTemp > params.DamperWindowLow && in.OutdoorTemp <= params.DamperWindowHigh {
			return 100
		}
		return 0
	default: // binary
		if in.OutdoorTemp > params.DamperBinaryOAT {
			return 100
		}
		return 0
	}
}

func maxOf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
