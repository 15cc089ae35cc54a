package logic

import "github.com/atlasbms/atlas/internal/domain"

// Health runs the equipment-type health predicate used by the lead-lag
// coordinator. Types without a predicate are always healthy.
func Health(t domain.EquipmentType, metrics domain.Snapshot, st StateView) (bool, string) {
	switch t {
	case domain.TypeBoiler:
		return BoilerHealth(metrics, st)
	case domain.TypePump:
		return PumpHealth(metrics, st)
	case domain.TypeChiller:
		return ChillerHealth(metrics, st)
	default:
		return true, ""
	}
}
