package failover

import "errors"

var (
	// ErrInvariantViolation means an attempt was made to mark two regions
	// ACTIVE simultaneously. Fatal: the coordinator halts and an operator
	// must intervene. Never auto-recovered.
	ErrInvariantViolation = errors.New("failover: single-active invariant violated")

	// ErrDependencyUnavailable means a collaborator (traffic provider,
	// audit sink) stayed unreachable beyond its retry budget. The in-flight
	// transition aborts to DEGRADED_MANUAL.
	ErrDependencyUnavailable = errors.New("failover: dependency unavailable")

	// ErrWrongState rejects a command that is not valid from the current
	// coordinator state.
	ErrWrongState = errors.New("failover: command not valid in current state")

	// ErrEventInFlight rejects a trigger while a failover event is already
	// being processed.
	ErrEventInFlight = errors.New("failover: event already in flight")

	// ErrUnknownEvent rejects a failback confirm naming an event the
	// coordinator did not produce or has superseded.
	ErrUnknownEvent = errors.New("failover: unknown or stale event id")

	// ErrHalted is returned once the coordinator has stopped after an
	// invariant violation or shutdown.
	ErrHalted = errors.New("failover: coordinator halted")
)
