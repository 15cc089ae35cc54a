// Package pid implements the proportional-integral-derivative controller
// used by the equipment algorithms. The controller is a pure function over
// (input, setpoint, params, dt, state): callers own the carried state and
// merge the returned state back into the state store after the tick.
//
// Windup protection is conditional integration plus a rate limit on the
// integral increment: the integral only moves while the output is not
// saturated, or while the error is pulling the output back off its limit.
package pid

import "math"

// integralRateLimit bounds how far the integral may move in one tick.
const integralRateLimit = 0.5

// saturationBand is the distance from an output limit within which the
// last output counts as saturated.
const saturationBand = 1.0

// minDerivativeDT floors dt in the derivative term so a burst of fast
// ticks cannot spike the output.
const minDerivativeDT = 0.1

// Params are the tuning constants for one named controller.
type Params struct {
	Kp            float64 `json:"kp" yaml:"kp"`
	Ki            float64 `json:"ki" yaml:"ki"`
	Kd            float64 `json:"kd" yaml:"kd"`
	OutputMin     float64 `json:"output_min" yaml:"outputMin"`
	OutputMax     float64 `json:"output_max" yaml:"outputMax"`
	ReverseActing bool    `json:"reverse_acting" yaml:"reverseActing"`
	MaxIntegral   float64 `json:"max_integral" yaml:"maxIntegral"`
	Enabled       bool    `json:"enabled" yaml:"enabled"`
}

// Valid reports whether the parameter invariants hold:
// outputMin ≤ outputMax and maxIntegral ≥ 0.
func (p Params) Valid() bool {
	return p.OutputMin <= p.OutputMax && p.MaxIntegral >= 0
}

// State is the carried state of one controller instance. Created zero on
// first call, mutated each tick.
type State struct {
	Integral      float64 `json:"integral"`
	PreviousError float64 `json:"previous_error"`
	LastOutput    float64 `json:"last_output"`
	LastSetpoint  float64 `json:"last_setpoint"`
	Initialized   bool    `json:"initialized"`
}

// WithBumplessTransfer resets the integral when the setpoint has jumped by
// more than 0.5 units since the last tick, avoiding a transient spike.
// Callers apply this before Compute.
func (s State) WithBumplessTransfer(setpoint float64) State {
	if s.Initialized && math.Abs(setpoint-s.LastSetpoint) > 0.5 {
		s.Integral = 0
	}
	return s
}

// Compute runs one controller step and returns the clamped output plus the
// next carried state. dt is in seconds.
func Compute(input, setpoint float64, p Params, dt float64, s State) (float64, State) {
	if !p.Enabled {
		return clamp(0, p.OutputMin, p.OutputMax), s
	}
	if dt <= 0 {
		dt = 1
	}

	// Substitute non-finite readings with the last-known values so one bad
	// sample cannot slam the loop.
	if !isFinite(setpoint) {
		if s.Initialized {
			setpoint = s.LastSetpoint
		} else {
			setpoint = 0
		}
	}
	if !isFinite(input) {
		input = lastKnownInput(setpoint, p, s)
	}

	var e float64
	if p.ReverseActing {
		e = setpoint - input
	} else {
		e = input - setpoint
	}

	proportional := p.Kp * e

	// Conditional integration: hold the integral while saturated unless the
	// error is pulling the output back inside the limits.
	saturatedHigh := s.Initialized && s.LastOutput >= p.OutputMax-saturationBand
	saturatedLow := s.Initialized && s.LastOutput <= p.OutputMin+saturationBand
	integrate := true
	if saturatedHigh && e > 0 {
		integrate = false
	}
	if saturatedLow && e < 0 {
		integrate = false
	}

	integral := s.Integral
	if integrate {
		increment := clamp(p.Ki*e*dt, -integralRateLimit, integralRateLimit)
		integral = clamp(integral+increment, -p.MaxIntegral, p.MaxIntegral)
	}

	derivative := p.Kd * (e - s.PreviousError) / math.Max(dt, minDerivativeDT)

	output := clamp(proportional+integral+derivative, p.OutputMin, p.OutputMax)

	return output, State{
		Integral:      integral,
		PreviousError: e,
		LastOutput:    output,
		LastSetpoint:  setpoint,
		Initialized:   true,
	}
}

// lastKnownInput reconstructs the previous input from the carried error so
// a dropped sensor holds the loop steady instead of zeroing it.
func lastKnownInput(setpoint float64, p Params, s State) float64 {
	if !s.Initialized {
		return setpoint
	}
	if p.ReverseActing {
		return setpoint - s.PreviousError
	}
	return setpoint + s.PreviousError
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
