package logic

import (
	"time"

	"github.com/atlasbms/atlas/internal/control/pid"
	"github.com/atlasbms/atlas/internal/domain"
	"github.com/atlasbms/atlas/internal/infra/locations"
)

// Chilled-water subsystem stages for the cw-chiller variant.
const (
	stageCoolingIdle   = "cooling-idle"
	stagePumpWarmup    = "pump-warmup"
	stageCoolingActive = "cooling-active"
	stagePumpCooldown  = "pump-cooldown"
)

func airHandlerDefaults() locations.AirHandlerParams {
	return locations.AirHandlerParams{
		Variant:        "base",
		SupplySetpoint: 72,
		DeadBand:       1,
		PID: map[string]pid.Params{
			"cooling": {Kp: 2.8, Ki: 0.14, Kd: 0.02, OutputMax: 100, MaxIntegral: 10, Enabled: true},
			"heating": {Kp: 2.1, Ki: 0.1, Kd: 0.02, OutputMax: 100, MaxIntegral: 10, ReverseActing: true, Enabled: true},
		},
	}
}

func resolveAHParams(in Inputs) locations.AirHandlerParams {
	if p := in.Location.AirHandler(in.Equipment.Subrole); p != nil {
		merged := *p
		if merged.PID == nil {
			merged.PID = airHandlerDefaults().PID
		}
		if merged.SupplySetpoint == 0 {
			merged.SupplySetpoint = 72
		}
		if merged.DeadBand == 0 {
			merged.DeadBand = 1
		}
		return merged
	}
	return airHandlerDefaults()
}

// AirHandler is the base air-handler algorithm: the fan-coil control
// pattern plus supply-air setpoint and occupancy reporting, with optional
// staged electric heat.
func AirHandler(in Inputs, st StateView) Result {
	params := resolveAHParams(in)
	res, _ := airHandlerCore(in, st, params, in.Occupied)
	return res
}

// airHandlerCore is the shared body; fanOn lets variants override the fan
// decision (unoccupied cycling). The second return reports a safety trip,
// which variants must treat as final: no subsystem may run over it.
func airHandlerCore(in Inputs, st StateView, params locations.AirHandlerParams, fanOn bool) (Result, bool) {
	res := NewResult()

	setpoint, hasOverride := setpointOverride(in.Settings, "supply_air_temp_setpoint", "supplyAirTempSetpoint")
	if !hasOverride {
		if v, ok := setpointOverride(in.Settings, "temperature_setpoint", "temperatureSetpoint"); ok {
			setpoint = v
		} else {
			setpoint = params.SupplySetpoint
		}
	}
	res.Commands.Set(domain.CmdSupplyAirTempSetpoint, setpoint)
	res.Commands.Set(domain.CmdIsOccupied, in.Occupied)

	if tripped := airSafety(res, in); tripped {
		return res, true
	}

	if !fanOn {
		res.Commands.Set(domain.CmdUnitEnable, false)
		res.Commands.Set(domain.CmdFanEnabled, false)
		res.Commands.Set(domain.CmdFanSpeed, domain.FanSpeedOff)
		res.Commands.Set(domain.CmdHeatingValvePosition, 0.0)
		res.Commands.Set(domain.CmdCoolingValvePosition, 0.0)
		res.Commands.Set(domain.CmdOutdoorDamperPosition, 0.0)
		return res, false
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
	res.Commands.Set(domain.CmdFanEnabled, true)
	res.Commands.Set(domain.CmdFanSpeed, fanSpeedFor(true, maxOf(heating, cooling)))
	res.Commands.Set(domain.CmdHeatingValvePosition, heating)
	res.Commands.Set(domain.CmdCoolingValvePosition, cooling)
	res.Commands.Set(domain.CmdOutdoorDamperPosition, ahDamper(in))

	if params.ElectricHeatStages > 0 {
		res.Commands.Set(domain.CmdHeatingStage1Command, heating > 33)
		if params.ElectricHeatStages > 1 {
			res.Commands.Set(domain.CmdHeatingStage2Command, heating > 66)
		}
	}
	return res, false
}

// airSafety applies the freezestat and high-limit interlocks against the
// supply sensor. Returns true when tripped; the bag is already safe.
func airSafety(res Result, in Inputs) bool {
	supply, _, ok := in.Metrics.FirstFinite(supplyTempCandidates)
	if !ok {
		return false
	}
	if supply <= freezestatTrip {
		res.Commands.Set(domain.CmdUnitEnable, true)
		res.Commands.Set(domain.CmdHeatingValvePosition, 100.0)
		res.Commands.Set(domain.CmdCoolingValvePosition, 0.0)
		res.Commands.Set(domain.CmdFanEnabled, false)
		res.Commands.Set(domain.CmdFanSpeed, domain.FanSpeedOff)
		res.Commands.Set(domain.CmdOutdoorDamperPosition, 0.0)
		return true
	}
	if supply >= hiLimitTrip {
		res.Commands.Set(domain.CmdUnitEnable, true)
		res.Commands.Set(domain.CmdHeatingValvePosition, 0.0)
		res.Commands.Set(domain.CmdCoolingValvePosition, 0.0)
		res.Commands.Set(domain.CmdOutdoorDamperPosition, 100.0)
		return true
	}
	return false
}

func ahDamper(in Inputs) float64 {
	if in.OutdoorOK && in.OutdoorTemp > 40 && in.OutdoorTemp <= 80 {
		return 100
	}
	return 0
}

// ─── Hopebridge Variant ─────────────────────────────────────────────────────

// AirHandlerHopebridge dispatches the two Hopebridge units: AHU-1 carries
// the chilled-water pump/chiller staging machine, AHU-2 runs DX cooling.
func AirHandlerHopebridge(in Inputs, st StateView) Result {
	params := resolveAHParams(in)
	switch params.Variant {
	case "cw-chiller":
		return airHandlerChilledWater(in, st, params)
	case "dx":
		return airHandlerDX(in, st, params)
	default:
		res, _ := airHandlerCore(in, st, params, in.Occupied)
		return res
	}
}

// airHandlerChilledWater runs the AHU-1 subsystem state machine:
//
//	cooling-idle → pump-warmup → cooling-active → pump-cooldown → cooling-idle
//
// The circulation pump proves flow for the warmup period before the
// chiller may start; on shutdown the chiller drops immediately and the
// pump keeps circulating for the cooldown period.
func airHandlerChilledWater(in Inputs, st StateView, params locations.AirHandlerParams) Result {
	res, tripped := airHandlerCore(in, st, params, in.Occupied)
	if tripped {
		res.Commands.Set(domain.CmdCWCircPumpEnabled, false)
		res.Commands.Set(domain.CmdChillerEnabled, false)
		res.State["coolingStage"] = stageCoolingIdle
		return res
	}

	warmup := params.PumpWarmup.Std()
	if warmup <= 0 {
		warmup = 2 * time.Minute
	}
	cooldown := params.PumpCooldown.Std()
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}

	stage, ok := st.String("coolingStage")
	if !ok {
		stage = stageCoolingIdle
	}
	enteredAt, hasEntered := st.Time("stageEnteredAt")
	if !hasEntered {
		enteredAt = in.Now
	}
	elapsed := in.Now.Sub(enteredAt)

	cond := coolingConditions(in, params)

	next := stage
	switch stage {
	case stageCoolingIdle:
		if cond {
			next = stagePumpWarmup
		}
	case stagePumpWarmup:
		if !cond {
			next = stagePumpCooldown
		} else if elapsed >= warmup {
			next = stageCoolingActive
		}
	case stageCoolingActive:
		if !cond {
			next = stagePumpCooldown
		}
	case stagePumpCooldown:
		if cond {
			next = stagePumpWarmup
		} else if elapsed >= cooldown {
			next = stageCoolingIdle
		}
	default:
		next = stageCoolingIdle
	}

	if next != stage {
		res.State["stageEnteredAt"] = in.Now.Format(time.RFC3339Nano)
	} else if !hasEntered {
		res.State["stageEnteredAt"] = enteredAt.Format(time.RFC3339Nano)
	}
	res.State["coolingStage"] = next

	pumpOn := next == stagePumpWarmup || next == stageCoolingActive || next == stagePumpCooldown
	chillerOn := next == stageCoolingActive
	res.Commands.Set(domain.CmdCWCircPumpEnabled, pumpOn)
	res.Commands.Set(domain.CmdChillerEnabled, chillerOn)
	if !chillerOn {
		// The valve only modulates while the chiller is making cold water.
		res.Commands.Set(domain.CmdCoolingValvePosition, 0.0)
	}
	return res
}

// coolingConditions gates mechanical cooling: warm enough outside, both
// air paths above the freeze guard, and the supply fan actually moving air.
func coolingConditions(in Inputs, params locations.AirHandlerParams) bool {
	minOAT := params.CoolingMinOAT
	if minOAT == 0 {
		minOAT = 55
	}
	guard := params.FreezeGuardTemp
	if guard == 0 {
		guard = 38
	}
	if !in.OutdoorOK || in.OutdoorTemp <= minOAT {
		return false
	}
	if mixed, _, ok := in.Metrics.FirstFinite(mixedTempCandidates); ok && mixed <= guard {
		return false
	}
	if supply, _, ok := in.Metrics.FirstFinite(supplyTempCandidates); ok && supply <= guard {
		return false
	}
	return fanRunning(in)
}

func fanRunning(in Inputs) bool {
	if amps, _, ok := in.Metrics.FirstFinite(fanAmpCandidates); ok {
		return amps > 0.5
	}
	return in.Occupied
}

// airHandlerDX runs the AHU-2 variant: binary direct-expansion cooling
// with a wide hysteresis band and a minimum runtime once engaged.
func airHandlerDX(in Inputs, st StateView, params locations.AirHandlerParams) Result {
	res, tripped := airHandlerCore(in, st, params, in.Occupied)
	if tripped {
		res.Commands.Set(domain.CmdDXEnabled, false)
		res.State["dxOn"] = false
		return res
	}

	hys := params.DXHysteresis
	if hys <= 0 {
		hys = 7.5
	}
	minRun := params.DXMinRuntime.Std()
	if minRun <= 0 {
		minRun = 15 * time.Minute
	}

	setpoint, _ := res.Commands.Float(domain.CmdSupplyAirTempSetpoint)
	dxOn, _ := st.Bool("dxOn")
	engagedAt, hasEngaged := st.Time("dxEngagedAt")

	switch {
	case !in.Occupied:
		if !dxOn || (hasEngaged && in.Now.Sub(engagedAt) >= minRun) {
			dxOn = false
		}
	case !dxOn && in.CurrentTemp >= setpoint+hys/2:
		dxOn = true
		res.State["dxEngagedAt"] = in.Now.Format(time.RFC3339Nano)
	case dxOn && in.CurrentTemp <= setpoint-hys/2:
		// Stage off only after the compressor has run its minimum time.
		if hasEngaged && in.Now.Sub(engagedAt) >= minRun {
			dxOn = false
		}
	}
	res.State["dxOn"] = dxOn

	res.Commands.Set(domain.CmdDXEnabled, dxOn)
	// DX replaces the chilled-water valve on this unit.
	res.Commands.Set(domain.CmdCoolingValvePosition, 0.0)
	return res
}

// ─── Elmfield Variant ───────────────────────────────────────────────────────

// AirHandlerFanCycling keeps ventilation air moving out of hours: within
// each unoccupied hour the fan runs the first 15 minutes and rests for
// the remaining 45. Temperature control is suspended while unoccupied.
func AirHandlerFanCycling(in Inputs, st StateView) Result {
	params := resolveAHParams(in)
	if in.Occupied {
		res, _ := airHandlerCore(in, st, params, true)
		return res
	}

	res := NewResult()
	res.Commands.Set(domain.CmdIsOccupied, false)
	res.Commands.Set(domain.CmdSupplyAirTempSetpoint, params.SupplySetpoint)
	if tripped := airSafety(res, in); tripped {
		return res
	}

	fanOn := in.Now.Minute() < 15
	res.Commands.Set(domain.CmdUnitEnable, fanOn)
	res.Commands.Set(domain.CmdFanEnabled, fanOn)
	if fanOn {
		res.Commands.Set(domain.CmdFanSpeed, domain.FanSpeedLow)
	} else {
		res.Commands.Set(domain.CmdFanSpeed, domain.FanSpeedOff)
	}
	res.Commands.Set(domain.CmdHeatingValvePosition, 0.0)
	res.Commands.Set(domain.CmdCoolingValvePosition, 0.0)
	res.Commands.Set(domain.CmdOutdoorDamperPosition, 0.0)
	return res
}
