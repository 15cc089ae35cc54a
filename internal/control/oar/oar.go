// Package oar implements the outdoor-air-reset schedule: a piecewise-linear
// map from outdoor temperature to a water or air setpoint, clamped at the
// curve endpoints.
package oar

// Curve maps outdoor temperature onto a setpoint between
// (MinOAT, MaxSetpoint) and (MaxOAT, MinSetpoint). Colder outside means a
// hotter setpoint.
type Curve struct {
	MinOAT      float64 `yaml:"minOAT" json:"min_oat"`
	MaxOAT      float64 `yaml:"maxOAT" json:"max_oat"`
	MaxSetpoint float64 `yaml:"maxSetpoint" json:"max_setpoint"`
	MinSetpoint float64 `yaml:"minSetpoint" json:"min_setpoint"`
}

// Valid reports whether the curve spans a usable OAT range.
func (c Curve) Valid() bool {
	return c.MaxOAT > c.MinOAT
}

// SetpointAt interpolates the setpoint for the given outdoor temperature,
// clamping at the endpoints.
func (c Curve) SetpointAt(oat float64) float64 {
	if !c.Valid() {
		return c.MaxSetpoint
	}
	if oat <= c.MinOAT {
		return c.MaxSetpoint
	}
	if oat >= c.MaxOAT {
		return c.MinSetpoint
	}
	ratio := (oat - c.MinOAT) / (c.MaxOAT - c.MinOAT)
	return c.MaxSetpoint - ratio*(c.MaxSetpoint-c.MinSetpoint)
}
