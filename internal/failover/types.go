package failover

import (
	"time"
)

// Role represents a region's routing role
type Role string

const (
	RoleActive      Role = "ACTIVE"
	RoleStandby     Role = "STANDBY"
	RoleUnreachable Role = "UNREACHABLE"
)

// State represents the coordinator state machine
type State string

const (
	StateActivePrimary   State = "ACTIVE_PRIMARY"
	StateEvaluating      State = "EVALUATING"
	StatePromoting       State = "PROMOTING"
	StateActiveSecondary State = "ACTIVE_SECONDARY"
	StateFailingBack     State = "FAILING_BACK"
	StateDegradedManual  State = "DEGRADED_MANUAL"
)

// Cause categorizes what triggered a failover event
type Cause string

const (
	CauseHealth   Cause = "health"
	CauseManual   Cause = "manual"
	CauseOverride Cause = "operator_override"
	CauseFailback Cause = "failback"
)

// EventState tracks a FailoverEvent through its lifecycle. States only
// advance; an event is never rewritten to an earlier state.
type EventState string

const (
	EventEvaluating  EventState = "evaluating"
	EventPromoting   EventState = "promoting"
	EventFailingBack EventState = "failing_back"
	EventCompleted   EventState = "completed"
	EventFailed      EventState = "failed"
)

// eventStateRank orders event states for the monotonic-advance check
var eventStateRank = map[EventState]int{
	EventEvaluating:  1,
	EventPromoting:   2,
	EventFailingBack: 2,
	EventCompleted:   3,
	EventFailed:      3,
}

// StoreKind identifies the data store behind a replication channel
type StoreKind string

const (
	StoreRelational StoreKind = "relational"
	StoreKV         StoreKind = "kv"
	StoreObject     StoreKind = "object"
)

// Belief is the debounced health verdict for a region
type Belief string

const (
	BelievedUp      Belief = "up"
	BelievedDown    Belief = "down"
	BeliefUndecided Belief = "undecided"
)

// Region is a routable deployment target. Roles are owned exclusively by
// the Coordinator and mutated only through state transitions.
type Region struct {
	ID             string    `json:"id"`
	Role           Role      `json:"role"`
	HealthEndpoint string    `json:"health_endpoint"`
	LastHealthOK   time.Time `json:"last_health_ok_at"`
}

// ReplicationChannel tracks cross-region replication for one data store.
// LagKnown is false when measurement failed; unknown lag is never treated
// as "lag is fine".
type ReplicationChannel struct {
	ID           string        `json:"id"`
	SourceRegion string        `json:"source_region"`
	TargetRegion string        `json:"target_region"`
	Kind         StoreKind     `json:"store_kind"`
	Lag          time.Duration `json:"lag_seconds"`
	LagKnown     bool          `json:"lag_known"`
	LastMeasured time.Time     `json:"last_measured_at"`
}

// HealthUpdate is a single probe outcome plus the monitor's current
// debounced belief about the region. Ephemeral: the Coordinator keeps only
// the latest belief per region.
type HealthUpdate struct {
	RegionID  string        `json:"region_id"`
	Timestamp time.Time     `json:"timestamp"`
	Success   bool          `json:"success"`
	Latency   time.Duration `json:"latency_ms"`
	Believed  Belief        `json:"believed"`
}

// LagUpdate is a single lag measurement for a replication channel
type LagUpdate struct {
	ChannelID string        `json:"channel_id"`
	Lag       time.Duration `json:"lag_seconds"`
	Known     bool          `json:"known"`
	Timestamp time.Time     `json:"timestamp"`
}

// FailoverEvent records one failover or failback attempt. The ID doubles
// as the idempotency key: re-delivery of the triggering condition while an
// event is in flight is a no-op.
type FailoverEvent struct {
	ID          string     `json:"id"`
	TriggeredAt time.Time  `json:"triggered_at"`
	Cause       Cause      `json:"cause"`
	Reason      string     `json:"reason,omitempty"`
	FromRegion  string     `json:"from_region"`
	ToRegion    string     `json:"to_region"`
	State       EventState `json:"state"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Snapshot is a read-only copy of coordinator state for the status API
type Snapshot struct {
	State         State                `json:"state"`
	Halted        bool                 `json:"halted"`
	Regions       []Region             `json:"regions"`
	Channels      []ReplicationChannel `json:"channels"`
	Beliefs       map[string]Belief    `json:"beliefs"`
	FailureCounts map[string]int       `json:"failure_counts"`
	LastEvent     *FailoverEvent       `json:"last_event,omitempty"`
	TakenAt       time.Time            `json:"taken_at"`
}

// ActiveRegion returns the ID of the region holding the ACTIVE role, or
// empty during a zero-active window.
func (s Snapshot) ActiveRegion() string {
	for _, r := range s.Regions {
		if r.Role == RoleActive {
			return r.ID
		}
	}
	return ""
}
