// Package engine runs the control loops: the dispatcher selects the
// algorithm for a {type, location} pair, and one processor per location
// schedules the per-equipment-type tasks that read telemetry, evaluate
// the algorithm, and write commands.
package engine

import (
	"fmt"

	"github.com/atlasbms/atlas/internal/domain"
	"github.com/atlasbms/atlas/internal/engine/logic"
)

// Dispatcher maps (equipmentType, locationId) to the algorithm variant,
// falling back to the base variant for the type. Location-specific always
// wins; a missing location entry is not an error.
type Dispatcher struct {
	base     map[domain.EquipmentType]logic.Func
	variants map[string]map[domain.EquipmentType]logic.Func
}

// NewDispatcher builds the standard dispatch table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		base: map[domain.EquipmentType]logic.Func{
			domain.TypeFanCoil:     logic.FanCoil,
			domain.TypeBoiler:      logic.Boiler,
			domain.TypePump:        logic.Pump,
			domain.TypeChiller:     logic.Chiller,
			domain.TypeAirHandler:  logic.AirHandler,
			domain.TypeSteamBundle: logic.SteamBundle,
		},
		variants: map[string]map[domain.EquipmentType]logic.Func{
			"hopebridge": {
				domain.TypeAirHandler: logic.AirHandlerHopebridge,
			},
			"elmfield": {
				domain.TypeAirHandler: logic.AirHandlerFanCycling,
			},
		},
	}
}

// Resolve normalises the raw type and returns the algorithm for the
// location, or the base variant, or an error for an unknown type.
func (d *Dispatcher) Resolve(rawType, locationID string) (logic.Func, error) {
	typ, ok := domain.CanonicalType(rawType)
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", rawType, domain.ErrUnknownType)
	}
	if byLoc, ok := d.variants[locationID]; ok {
		if fn, ok := byLoc[typ]; ok {
			return fn, nil
		}
	}
	fn, ok := d.base[typ]
	if !ok {
		return nil, fmt.Errorf("type %s: %w", typ, domain.ErrNoAlgorithm)
	}
	return fn, nil
}

// Register installs or replaces a location-specific variant.
func (d *Dispatcher) Register(locationID string, typ domain.EquipmentType, fn logic.Func) {
	if d.variants[locationID] == nil {
		d.variants[locationID] = make(map[domain.EquipmentType]logic.Func)
	}
	d.variants[locationID][typ] = fn
}
