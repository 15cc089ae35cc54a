package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Metadata errors
	ErrUnknownEquipment = errors.New("equipment not found in metadata store")
	ErrUnknownType      = errors.New("unknown equipment type")
	ErrNoAlgorithm      = errors.New("no algorithm registered for equipment type")
	ErrUnknownLocation  = errors.New("location not found in registry")

	// Telemetry errors
	ErrNoMetrics       = errors.New("no telemetry rows in read window")
	ErrSensorExhausted = errors.New("no finite value among candidate sensor fields")

	// Gateway errors
	ErrTSDBTimeout     = errors.New("time-series store request timed out")
	ErrTSDBPermanent   = errors.New("time-series store rejected request")
	ErrTSDBUnavailable = errors.New("time-series store unavailable after retries")

	// Processor errors
	ErrTickOverrun  = errors.New("tick skipped: previous run still in flight")
	ErrShuttingDown = errors.New("processor is shutting down")
	ErrTaskNotFound = errors.New("no task scheduled for equipment type")

	// Lead-lag errors
	ErrGroupEmpty     = errors.New("lead-lag group has no members")
	ErrNotGroupMember = errors.New("equipment does not belong to the group")
)
