package logic

import (
	"github.com/atlasbms/atlas/internal/control/pid"
	"github.com/atlasbms/atlas/internal/domain"
)

// Safety thresholds used by the equipment algorithms.
const (
	freezestatTrip  = 40.0  // supply at or below trips freeze protection
	hiLimitTrip     = 115.0 // supply at or above trips the high limit
	boilerSupplyMax = 170.0 // boiler emergency shutoff
	steamBundleTrip = 165.0 // steam bundle supply limit
	pumpFailureAmps = 0.5   // below this while commanded on means failed
)

// Extreme-condition overrides that bring a standby pump online.
const (
	extremeHotOAT  = 90.0 // second chilled-water pump
	extremeColdOAT = 20.0 // second hot-water pump
)

// Candidate metric fields per semantic input. The resolver takes the
// first present, finite value.
var (
	supplyTempCandidates = []string{"SupplyTemp", "Supply", "Supply_Air_Temp", "SAT", "DischargeTemp", "H2OSupply"}
	mixedTempCandidates  = []string{"MixedAir", "Mixed_Air", "MixedAirTemp", "MAT"}
	pumpAmpCandidates    = []string{"PumpAmps", "Amps", "MotorAmps", "CurrentDraw"}
	pumpStatusCandidates = []string{"PumpStatus", "Status", "RunStatus"}
	fanAmpCandidates     = []string{"FanAmps", "SupplyFanAmps", "Fan_Amps"}
	alarmCandidates      = []string{"Alarm", "AlarmStatus", "FaultStatus", "Fault"}
	cwTempCandidates     = []string{"ChilledWaterTemp", "CWSupplyTemp", "CWReturnTemp", "H2OSupply", "SupplyTemp"}
	hwPumpAmpCandidates  = []string{"HWPump1Amps", "HWPump2Amps", "HWPumpAmps"}
)

// firstString scans candidate fields for a string value.
func firstString(m domain.Snapshot, candidates []string) (string, bool) {
	for _, c := range candidates {
		if s, ok := m.String(c); ok {
			return s, true
		}
	}
	return "", false
}

// setpointOverride resolves a user setpoint by priority: the UI override
// (snake_case) beats the persisted last command (camelCase).
func setpointOverride(s domain.Settings, snake, camel string) (float64, bool) {
	return s.FirstFloat(snake, camel)
}

// runPID applies bumpless transfer and one controller step, recording the
// new state in the result.
func runPID(res Result, st StateView, controller string, params pid.Params, input, setpoint, dt float64) float64 {
	prev := st.PID(controller).WithBumplessTransfer(setpoint)
	out, next := pid.Compute(input, setpoint, params, dt, prev)
	res.PID[controller] = next
	return out
}

// fanSpeedFor grades fan speed from the dominant valve position.
func fanSpeedFor(enabled bool, valve float64) string {
	switch {
	case !enabled:
		return domain.FanSpeedOff
	case valve >= 66:
		return domain.FanSpeedHigh
	case valve >= 33:
		return domain.FanSpeedMedium
	default:
		return domain.FanSpeedLow
	}
}

// leadLagInfo stamps the coordination fields every grouped algorithm emits.
func leadLagInfo(res Result, in Inputs) {
	if in.Equipment.GroupID == "" {
		return
	}
	res.Commands.Set(domain.CmdLeadLagGroupID, in.Equipment.GroupID)
	res.Commands.Set(domain.CmdLeadEquipmentID, in.LeaderID)
	if in.LeadReason != "" {
		res.Commands.Set(domain.CmdLeadLagReason, in.LeadReason)
	}
}

func boolTo01(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
