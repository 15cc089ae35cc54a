// Package logic implements the per-equipment control algorithms. Every
// algorithm is a pure function over one tick's inputs: fresh metrics, the
// merged settings, the resolved control temperature, and the carried state.
// Algorithms never perform I/O; the processor reads before and writes after.
package logic

import (
	"time"

	"github.com/atlasbms/atlas/internal/control/pid"
	"github.com/atlasbms/atlas/internal/domain"
	"github.com/atlasbms/atlas/internal/infra/locations"
)

// StateView is the algorithm's read access to its own carried state.
// Updates travel back through Result; algorithms never mutate the store.
type StateView interface {
	PID(controller string) pid.State
	Float(key string) (float64, bool)
	Bool(key string) (bool, bool)
	String(key string) (string, bool)
	Time(key string) (time.Time, bool)
}

// Inputs is one tick's view of the world for one equipment.
type Inputs struct {
	Equipment domain.Equipment
	Location  locations.Location
	Metrics   domain.Snapshot
	Settings  domain.Settings

	// CurrentTemp is the resolved control temperature (see the location's
	// temperature source). TempField names the metric that supplied it;
	// empty means the location default was used.
	CurrentTemp float64
	TempField   string

	OutdoorTemp float64
	OutdoorOK   bool

	Occupied bool
	Now      time.Time
	DT       float64 // seconds since this equipment's previous tick

	// Lead-lag context, resolved by the processor before the algorithm runs.
	IsLead     bool
	LeaderID   string
	LeadReason string
}

// Result is what one algorithm evaluation hands back: the command bag plus
// the state updates the processor merges into the state store.
type Result struct {
	Commands domain.CommandBag
	PID      map[string]pid.State
	State    map[string]any
}

// NewResult returns an empty result ready for Set calls.
func NewResult() Result {
	return Result{
		Commands: make(domain.CommandBag),
		PID:      make(map[string]pid.State),
		State:    make(map[string]any),
	}
}

// Func is the uniform algorithm signature the dispatcher resolves to.
type Func func(in Inputs, st StateView) Result
