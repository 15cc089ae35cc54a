package logic

import (
	"fmt"
	"strings"

	"github.com/atlasbms/atlas/internal/domain"
	"github.com/atlasbms/atlas/internal/infra/locations"
)

func pumpDefaults() locations.PumpParams {
	return locations.PumpParams{
		HWOnBelow:  74,
		HWOffAbove: 75,
		CWOnAbove:  37,
		CWOffBelow: 36,
	}
}

// Pump is the circulation pump algorithm: outdoor-temperature hysteresis
// with distinct on/off thresholds per pump kind, lead-lag standby with
// extreme-condition overrides, and amp-based failure detection.
func Pump(in Inputs, st StateView) Result {
	res := NewResult()

	params := pumpDefaults()
	if in.Location.Pumps != nil {
		params = *in.Location.Pumps
	}
	kind := in.Equipment.PumpKind()

	amps, _, ampsOK := in.Metrics.FirstFinite(pumpAmpCandidates)
	status, statusOK := firstString(in.Metrics, pumpStatusCandidates)

	// Hysteresis latch: distinct on/off thresholds, hold between them.
	latch, _ := st.Bool("hysteresisOn")
	if in.OutdoorOK {
		switch kind {
		case domain.PumpChilledWater:
			if in.OutdoorTemp >= params.CWOnAbove {
				latch = true
			} else if in.OutdoorTemp <= params.CWOffBelow {
				latch = false
			}
		default: // hot water
			if in.OutdoorTemp <= params.HWOnBelow {
				latch = true
			} else if in.OutdoorTemp >= params.HWOffAbove {
				latch = false
			}
		}
	}
	res.State["hysteresisOn"] = latch

	enabled := latch && in.IsLead

	// Standby lag: off unless an extreme-condition override or a manual
	// override in settings brings the second pump online.
	if latch && !in.IsLead {
		manual, _ := in.Settings.FirstBool("manual_override", "manualOverride")
		extreme := false
		if in.OutdoorOK {
			switch kind {
			case domain.PumpChilledWater:
				extreme = in.OutdoorTemp >= extremeHotOAT
			default:
				extreme = in.OutdoorTemp <= extremeColdOAT
			}
		}
		enabled = manual || extreme
	}

	// Failure detection compares this tick's amps against the previous
	// tick's command.
	commandedOn, _ := st.Bool("commandedOn")
	failureCount, _ := st.Float("failureCount")
	if ampsOK && commandedOn && amps < pumpFailureAmps && statusNotOff(status, statusOK) {
		failureCount++
	}
	res.State["failureCount"] = failureCount
	res.State["commandedOn"] = enabled

	runtime, _ := st.Float("pumpRuntime")
	if enabled && in.DT > 0 {
		runtime += in.DT / 3600 // hours
	}
	res.State["pumpRuntime"] = runtime

	res.Commands.Set(domain.CmdUnitEnable, enabled)
	res.Commands.Set(domain.CmdIsLead, boolTo01(in.IsLead))
	res.Commands.Set(domain.CmdPumpType, string(kind))
	res.Commands.Set(domain.CmdPumpRuntime, runtime)
	res.Commands.Set(domain.CmdFailureCount, failureCount)
	if in.OutdoorOK {
		res.Commands.Set(domain.CmdOutdoorTemperature, in.OutdoorTemp)
	}
	if ampsOK {
		res.Commands.Set(domain.CmdPumpAmps, amps)
	}
	if statusOK {
		res.Commands.Set(domain.CmdPumpStatus, status)
	}
	if in.TempField != "" {
		res.Commands.Set(domain.CmdTemperatureSource, in.TempField)
	}
	leadLagInfo(res, in)
	return res
}

func statusNotOff(status string, ok bool) bool {
	if !ok {
		return true
	}
	s := strings.ToLower(strings.TrimSpace(status))
	return s != "off" && s != "stopped"
}

// PumpHealth is the lead-lag health predicate for pumps: drawing under
// half an amp while commanded on (and not reporting off) means the pump
// has failed.
func PumpHealth(metrics domain.Snapshot, st StateView) (bool, string) {
	amps, _, ampsOK := metrics.FirstFinite(pumpAmpCandidates)
	if !ampsOK {
		return true, ""
	}
	commandedOn, _ := st.Bool("commandedOn")
	status, statusOK := firstString(metrics, pumpStatusCandidates)
	if commandedOn && amps < pumpFailureAmps && statusNotOff(status, statusOK) {
		return false, fmt.Sprintf("amps %.2f below %.1fA while commanded on", amps, pumpFailureAmps)
	}
	return true, ""
}
