// Package domain holds the pure types of the control engine: equipment
// identity, metric snapshots, merged control settings, and command bags.
// Domain types are pure — no infrastructure dependency.
package domain

import "strings"

// EquipmentType is the canonical equipment category. Canonical form is
// lowercase with hyphens; pump subkinds collapse to TypePump.
type EquipmentType string

const (
	TypeFanCoil     EquipmentType = "fan-coil"
	TypeBoiler      EquipmentType = "boiler"
	TypePump        EquipmentType = "pump"
	TypeChiller     EquipmentType = "chiller"
	TypeAirHandler  EquipmentType = "air-handler"
	TypeSteamBundle EquipmentType = "steam-bundle"
)

// PumpKind distinguishes hot-water from chilled-water pumps. Stored in
// Equipment.Subrole for pumps.
type PumpKind string

const (
	PumpHotWater     PumpKind = "hwpump"
	PumpChilledWater PumpKind = "cwpump"
)

// CanonicalType normalises a raw type string to its canonical form.
// Returns false if the type is unknown.
func CanonicalType(raw string) (EquipmentType, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "-", "_", "-").Replace(s)

	switch s {
	case "fan-coil", "fancoil":
		return TypeFanCoil, true
	case "boiler":
		return TypeBoiler, true
	case "pump", "hwpump", "cwpump", "hw-pump", "cw-pump":
		return TypePump, true
	case "chiller":
		return TypeChiller, true
	case "air-handler", "airhandler", "ahu":
		return TypeAirHandler, true
	case "steam-bundle", "steambundle":
		return TypeSteamBundle, true
	}
	return "", false
}

// AllTypes lists every canonical equipment type.
func AllTypes() []EquipmentType {
	return []EquipmentType{
		TypeFanCoil, TypeBoiler, TypePump,
		TypeChiller, TypeAirHandler, TypeSteamBundle,
	}
}

// Equipment is the static identity of one controlled unit. Immutable
// during a tick.
type Equipment struct {
	ID         string        `json:"id"`
	Name       string        `json:"name,omitempty"`
	Type       EquipmentType `json:"type"`
	LocationID string        `json:"location_id"`
	GroupID    string        `json:"group_id,omitempty"` // lead-lag cohort
	Subrole    string        `json:"subrole,omitempty"`  // e.g. "ahu-1", "hwpump"
}

// PumpKind returns the pump subkind for pump equipment, defaulting to
// hot-water when the subrole is absent.
func (e Equipment) PumpKind() PumpKind {
	if strings.Contains(strings.ToLower(e.Subrole), "cw") {
		return PumpChilledWater
	}
	return PumpHotWater
}
