package failover

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Traffic redirects weighted routing so all traffic reaches one region.
// Implementations must be idempotent and surface failure once their retry
// budget is exhausted.
type Traffic interface {
	Redirect(ctx context.Context, regionID string) error
}

// Notifier fans out failover events. state is the coordinator state after
// the transition the event drove; the same event can announce several
// transitions, so sinks must treat each (event, state) pair as distinct.
// Fire-and-forget relative to the coordinator: implementations must never
// block.
type Notifier interface {
	Notify(ev FailoverEvent, state State)
}

// Auditor records event transitions with the coordinator's health/lag
// summary at that moment. Implementations must return quickly; durable
// writes happen on their own schedule.
type Auditor interface {
	Append(ctx context.Context, ev FailoverEvent, note string, snap Snapshot)
}

// Metrics receives coordinator transition observations
type Metrics interface {
	Transition(from, to State)
	EventCreated(cause Cause)
}

// Config holds the coordinator's runtime tunables
type Config struct {
	RPOMax         time.Duration
	PromoteTimeout time.Duration
}

// DefaultConfig returns conservative defaults
func DefaultConfig() Config {
	return Config{
		RPOMax:         5 * time.Minute,
		PromoteTimeout: 2 * time.Minute,
	}
}

// Override choices accepted from DEGRADED_MANUAL
const (
	OverridePromote = "promote"
	OverrideRestore = "restore"
)

// Coordinator owns region roles and the failover event lifecycle. All
// inbound messages are serialized through a single consumer loop so no two
// promotion decisions can race; this is what upholds the single-ACTIVE
// invariant under concurrency.
type Coordinator struct {
	cfg     Config
	logger  *zap.Logger
	traffic Traffic

	notifier Notifier
	auditor  Auditor
	metrics  Metrics

	primaryID   string
	secondaryID string
	regions     map[string]*Region
	channels    map[string]*ReplicationChannel
	beliefs     map[string]Belief
	failCounts  map[string]int

	state          State
	inflight       *FailoverEvent
	lastEvent      *FailoverEvent
	rollbackIssued map[string]bool
	rollbackOrder  []string
	promoteTimer   *time.Timer
	halted         bool

	// observations may be dropped under backpressure: only the latest
	// belief per region/channel matters. commands are never dropped.
	observations chan interface{}
	commands     chan interface{}

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

type obsHealth struct{ update HealthUpdate }

type obsLag struct{ update LagUpdate }

type cmdManual struct {
	reason string
	force  bool
	reply  chan manualReply
}

type manualReply struct {
	eventID string
	err     error
}

type cmdFailback struct {
	eventID string
	reply   chan error
}

type cmdOverride struct {
	choice string
	reply  chan error
}

type cmdAbort struct{ reply chan error }

type cmdSnapshot struct{ reply chan Snapshot }

type cmdTunables struct {
	rpoMax         time.Duration
	promoteTimeout time.Duration
}

type transferResult struct {
	eventID string
	err     error
}

type transferTimeout struct{ eventID string }

// NewCoordinator builds a coordinator for exactly two regions: one ACTIVE
// (the primary) and one STANDBY (the secondary). Channels describe the
// replication paths whose lag gates promotion.
func NewCoordinator(cfg Config, regions []Region, channels []ReplicationChannel, traffic Traffic, logger *zap.Logger) (*Coordinator, error) {
	if traffic == nil {
		return nil, fmt.Errorf("failover: traffic controller required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(regions) != 2 {
		return nil, fmt.Errorf("failover: exactly two regions required, got %d", len(regions))
	}
	if cfg.RPOMax <= 0 || cfg.PromoteTimeout <= 0 {
		return nil, fmt.Errorf("failover: rpo_max and promote_timeout must be positive")
	}

	c := &Coordinator{
		cfg:            cfg,
		logger:         logger,
		traffic:        traffic,
		regions:        make(map[string]*Region, len(regions)),
		channels:       make(map[string]*ReplicationChannel, len(channels)),
		beliefs:        make(map[string]Belief, len(regions)),
		failCounts:     make(map[string]int, len(regions)),
		rollbackIssued: make(map[string]bool),
		observations:   make(chan interface{}, 256),
		commands:       make(chan interface{}, 32),
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}

	for i := range regions {
		r := regions[i]
		if r.ID == "" {
			return nil, fmt.Errorf("failover: region id required")
		}
		if _, dup := c.regions[r.ID]; dup {
			return nil, fmt.Errorf("failover: duplicate region %q", r.ID)
		}
		switch r.Role {
		case RoleActive:
			if c.primaryID != "" {
				return nil, fmt.Errorf("failover: both regions marked ACTIVE")
			}
			c.primaryID = r.ID
		case RoleStandby:
			c.secondaryID = r.ID
		default:
			return nil, fmt.Errorf("failover: region %q must start ACTIVE or STANDBY", r.ID)
		}
		c.regions[r.ID] = &r
		c.beliefs[r.ID] = BeliefUndecided
	}
	if c.primaryID == "" || c.secondaryID == "" {
		return nil, fmt.Errorf("failover: need one ACTIVE and one STANDBY region")
	}

	for i := range channels {
		ch := channels[i]
		if ch.ID == "" {
			return nil, fmt.Errorf("failover: channel id required")
		}
		if _, ok := c.regions[ch.SourceRegion]; !ok {
			return nil, fmt.Errorf("failover: channel %q references unknown source region %q", ch.ID, ch.SourceRegion)
		}
		if _, ok := c.regions[ch.TargetRegion]; !ok {
			return nil, fmt.Errorf("failover: channel %q references unknown target region %q", ch.ID, ch.TargetRegion)
		}
		ch.LagKnown = false
		c.channels[ch.ID] = &ch
	}

	c.state = StateActivePrimary
	return c, nil
}

// SetNotifier sets the event notification sink
func (c *Coordinator) SetNotifier(n Notifier) { c.notifier = n }

// SetAuditor sets the audit sink
func (c *Coordinator) SetAuditor(a Auditor) { c.auditor = a }

// SetMetrics sets the metrics sink
func (c *Coordinator) SetMetrics(m Metrics) { c.metrics = m }

// Start launches the command loop
func (c *Coordinator) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop halts the command loop
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.done
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case msg := <-c.commands:
			c.dispatch(ctx, msg)
		case msg := <-c.observations:
			c.dispatch(ctx, msg)
		}
	}
}

func (c *Coordinator) dispatch(ctx context.Context, msg interface{}) {
	if c.halted {
		// Only snapshots are served after a halt; everything else is
		// refused until an operator restarts the process.
		switch m := msg.(type) {
		case cmdSnapshot:
			m.reply <- c.snapshot()
		case cmdManual:
			m.reply <- manualReply{err: ErrHalted}
		case cmdFailback:
			m.reply <- ErrHalted
		case cmdOverride:
			m.reply <- ErrHalted
		case cmdAbort:
			m.reply <- ErrHalted
		}
		return
	}

	switch m := msg.(type) {
	case obsHealth:
		c.handleHealth(ctx, m.update)
	case obsLag:
		c.handleLag(m.update)
	case cmdManual:
		m.reply <- c.handleManual(ctx, m.reason, m.force)
	case cmdFailback:
		m.reply <- c.handleFailback(ctx, m.eventID)
	case cmdOverride:
		m.reply <- c.handleOverride(ctx, m.choice)
	case cmdAbort:
		m.reply <- c.handleAbort(ctx)
	case cmdSnapshot:
		m.reply <- c.snapshot()
	case cmdTunables:
		c.cfg.RPOMax = m.rpoMax
		c.cfg.PromoteTimeout = m.promoteTimeout
		c.logger.Info("tunables updated",
			zap.Duration("rpo_max", m.rpoMax),
			zap.Duration("promote_timeout", m.promoteTimeout))
	case transferResult:
		c.handleTransferResult(ctx, m)
	case transferTimeout:
		c.handleTransferTimeout(ctx, m)
	}
}

// SubmitHealth delivers a health observation. Non-blocking: when the inbox
// is full the oldest queued observation is dropped first.
func (c *Coordinator) SubmitHealth(u HealthUpdate) {
	c.submitObservation(obsHealth{update: u})
}

// SubmitLag delivers a lag observation. Non-blocking, drop-oldest.
func (c *Coordinator) SubmitLag(u LagUpdate) {
	c.submitObservation(obsLag{update: u})
}

func (c *Coordinator) submitObservation(msg interface{}) {
	select {
	case c.observations <- msg:
		return
	default:
	}
	// Inbox full: shed the oldest observation, then try once more.
	select {
	case <-c.observations:
	default:
	}
	select {
	case c.observations <- msg:
	default:
	}
}

// ManualFailover forces an evaluation regardless of health signal. Lag
// gating still applies unless force is true. Returns the event ID.
func (c *Coordinator) ManualFailover(ctx context.Context, reason string, force bool) (string, error) {
	reply := make(chan manualReply, 1)
	if err := c.send(ctx, cmdManual{reason: reason, force: force, reply: reply}); err != nil {
		return "", err
	}
	select {
	case r := <-reply:
		return r.eventID, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// ConfirmFailback is the only way out of ACTIVE_SECONDARY. eventID must
// name the completed failover being reverted.
func (c *Coordinator) ConfirmFailback(ctx context.Context, eventID string) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, cmdFailback{eventID: eventID, reply: reply}); err != nil {
		return err
	}
	return c.await(ctx, reply)
}

// Override resolves DEGRADED_MANUAL per operator choice: OverridePromote
// resumes promotion toward the secondary, OverrideRestore reinstates the
// primary as ACTIVE.
func (c *Coordinator) Override(ctx context.Context, choice string) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, cmdOverride{choice: choice, reply: reply}); err != nil {
		return err
	}
	return c.await(ctx, reply)
}

// AbortPromotion is the explicit operator abort of an in-flight promotion
// or failback. Flapping health signals never cancel one.
func (c *Coordinator) AbortPromotion(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, cmdAbort{reply: reply}); err != nil {
		return err
	}
	return c.await(ctx, reply)
}

// Snapshot returns a consistent copy of coordinator state
func (c *Coordinator) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := c.send(ctx, cmdSnapshot{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// UpdateTunables applies hot-reloaded threshold changes
func (c *Coordinator) UpdateTunables(ctx context.Context, rpoMax, promoteTimeout time.Duration) error {
	if rpoMax <= 0 || promoteTimeout <= 0 {
		return fmt.Errorf("failover: tunables must be positive")
	}
	return c.send(ctx, cmdTunables{rpoMax: rpoMax, promoteTimeout: promoteTimeout})
}

func (c *Coordinator) send(ctx context.Context, msg interface{}) error {
	select {
	case c.commands <- msg:
		return nil
	case <-c.stopCh:
		return ErrHalted
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) handleHealth(ctx context.Context, u HealthUpdate) {
	region, ok := c.regions[u.RegionID]
	if !ok {
		return
	}

	if u.Success {
		region.LastHealthOK = u.Timestamp
		c.failCounts[u.RegionID] = 0
	} else {
		c.failCounts[u.RegionID]++
	}

	if u.Believed != BeliefUndecided {
		c.beliefs[u.RegionID] = u.Believed
	}

	// Standby reachability bookkeeping. Roles are not touched while a
	// transfer is in flight.
	if c.inflight == nil && region.Role != RoleActive {
		switch c.beliefs[u.RegionID] {
		case BelievedDown:
			region.Role = RoleUnreachable
		case BelievedUp:
			region.Role = RoleStandby
		}
	}

	if c.state == StateActivePrimary &&
		u.RegionID == c.primaryID &&
		c.beliefs[u.RegionID] == BelievedDown &&
		c.inflight == nil {
		c.beginEvaluation(ctx, CauseHealth, "primary believed down", false)
	}
}

func (c *Coordinator) handleLag(u LagUpdate) {
	ch, ok := c.channels[u.ChannelID]
	if !ok {
		return
	}
	ch.Lag = u.Lag
	ch.LagKnown = u.Known
	ch.LastMeasured = u.Timestamp
}

func (c *Coordinator) handleManual(ctx context.Context, reason string, force bool) manualReply {
	if c.inflight != nil {
		return manualReply{eventID: c.inflight.ID, err: ErrEventInFlight}
	}
	if c.state != StateActivePrimary {
		return manualReply{err: fmt.Errorf("%w: manual failover requires ACTIVE_PRIMARY, currently %s", ErrWrongState, c.state)}
	}
	if reason == "" {
		reason = "manual failover"
	}
	ev := c.beginEvaluation(ctx, CauseManual, reason, force)
	return manualReply{eventID: ev.ID}
}

// beginEvaluation opens a FailoverEvent and immediately evaluates the
// promotion guards. The event ID minted here is the idempotency key for
// the whole attempt.
func (c *Coordinator) beginEvaluation(ctx context.Context, cause Cause, reason string, force bool) *FailoverEvent {
	ev := &FailoverEvent{
		ID:          uuid.New().String(),
		TriggeredAt: time.Now().UTC(),
		Cause:       cause,
		Reason:      reason,
		FromRegion:  c.primaryID,
		ToRegion:    c.secondaryID,
		State:       EventEvaluating,
	}
	c.inflight = ev
	if c.metrics != nil {
		c.metrics.EventCreated(cause)
	}
	c.transition(ctx, StateEvaluating, ev, "evaluation started: "+reason)

	if force {
		c.logger.Warn("promotion guards bypassed by operator", zap.String("event_id", ev.ID))
		c.startTransfer(ctx, ev, StateActiveSecondary)
		return ev
	}

	if blocked := c.promotionBlockers(ev.ToRegion); blocked != "" {
		c.transition(ctx, StateDegradedManual, ev, "automatic failover blocked: "+blocked)
		return ev
	}

	c.startTransfer(ctx, ev, StateActiveSecondary)
	return ev
}

// promotionBlockers returns a non-empty description when the fail-safe
// guards forbid automatic promotion to target.
func (c *Coordinator) promotionBlockers(target string) string {
	if c.beliefs[target] != BelievedUp {
		return fmt.Sprintf("region %s not believed up", target)
	}
	for _, id := range c.sortedChannelIDs() {
		ch := c.channels[id]
		if ch.TargetRegion != target {
			continue
		}
		if !ch.LagKnown {
			return fmt.Sprintf("channel %s lag unknown", ch.ID)
		}
		if ch.Lag > c.cfg.RPOMax {
			return fmt.Sprintf("channel %s lag %s exceeds rpo_max %s", ch.ID, ch.Lag, c.cfg.RPOMax)
		}
	}
	return ""
}

// startTransfer demotes the current ACTIVE region, then hands the traffic
// redirect to a worker goroutine bounded by PromoteTimeout. The previous
// ACTIVE region leaves the role before the new one acquires it; a bounded
// zero-ACTIVE window is acceptable, two ACTIVE regions never are.
func (c *Coordinator) startTransfer(ctx context.Context, ev *FailoverEvent, successState State) {
	eventState := EventPromoting
	nextState := StatePromoting
	if successState == StateActivePrimary {
		eventState = EventFailingBack
		nextState = StateFailingBack
	}

	c.advanceEvent(ev, eventState)
	if from := c.regions[ev.FromRegion]; from.Role == RoleActive {
		from.Role = RoleStandby
	}
	c.transition(ctx, nextState, ev, fmt.Sprintf("traffic transfer to %s started", ev.ToRegion))

	timeout := c.cfg.PromoteTimeout
	evID := ev.ID
	target := ev.ToRegion

	c.promoteTimer = time.AfterFunc(timeout, func() {
		select {
		case c.commands <- transferTimeout{eventID: evID}:
		case <-c.stopCh:
		}
	})

	go func() {
		tctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := c.traffic.Redirect(tctx, target)
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrDependencyUnavailable, err)
		}
		select {
		case c.commands <- transferResult{eventID: evID, err: err}:
		case <-c.stopCh:
		}
	}()
}

func (c *Coordinator) handleTransferResult(ctx context.Context, m transferResult) {
	if c.inflight == nil || c.inflight.ID != m.eventID {
		return
	}
	if c.state != StatePromoting && c.state != StateFailingBack {
		return
	}

	ev := c.inflight
	if m.err != nil {
		c.failTransfer(ctx, ev, fmt.Sprintf("traffic redirect failed: %v", m.err))
		return
	}

	if c.promoteTimer != nil {
		c.promoteTimer.Stop()
		c.promoteTimer = nil
	}

	if err := c.markActive(ctx, ev.ToRegion, ev); err != nil {
		return
	}

	successState := StateActiveSecondary
	if c.state == StateFailingBack {
		successState = StateActivePrimary
	}

	now := time.Now().UTC()
	ev.CompletedAt = &now
	c.advanceEvent(ev, EventCompleted)
	c.inflight = nil

	elapsed := now.Sub(ev.TriggeredAt).Round(time.Millisecond)
	note := fmt.Sprintf("traffic on %s, transfer completed in %s", ev.ToRegion, elapsed)
	if elapsed > c.cfg.PromoteTimeout*4/5 {
		note += fmt.Sprintf(" (near promote budget %s)", c.cfg.PromoteTimeout)
	}
	c.transition(ctx, successState, ev, note)
}

func (c *Coordinator) handleTransferTimeout(ctx context.Context, m transferTimeout) {
	if c.inflight == nil || c.inflight.ID != m.eventID {
		return
	}
	if c.state != StatePromoting && c.state != StateFailingBack {
		return
	}
	c.failTransfer(ctx, c.inflight, "promote timeout exceeded")
}

// failTransfer aborts an in-flight transfer: one rollback redirect toward
// the demoted region, event marked failed, coordinator parked in
// DEGRADED_MANUAL. Never retried automatically.
func (c *Coordinator) failTransfer(ctx context.Context, ev *FailoverEvent, reason string) {
	if c.promoteTimer != nil {
		c.promoteTimer.Stop()
		c.promoteTimer = nil
	}

	if c.markRollback(ev.ID) {
		rollbackTo := ev.FromRegion
		timeout := c.cfg.PromoteTimeout
		logger := c.logger
		traffic := c.traffic
		go func() {
			rctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := traffic.Redirect(rctx, rollbackTo); err != nil {
				logger.Error("rollback redirect failed",
					zap.String("event_id", ev.ID),
					zap.String("region", rollbackTo),
					zap.Error(err))
			}
		}()
	}

	c.advanceEvent(ev, EventFailed)
	c.inflight = nil
	c.transition(ctx, StateDegradedManual, ev, "transfer aborted: "+reason)
}

// maxRollbackRecords caps the exactly-once rollback ledger. Entries for
// long-concluded events are the first to go.
const maxRollbackRecords = 128

// markRollback records that a rollback was issued for the event and
// reports whether this call was the first to do so.
func (c *Coordinator) markRollback(eventID string) bool {
	if c.rollbackIssued[eventID] {
		return false
	}
	c.rollbackIssued[eventID] = true
	c.rollbackOrder = append(c.rollbackOrder, eventID)
	if len(c.rollbackOrder) > maxRollbackRecords {
		evict := c.rollbackOrder[0]
		c.rollbackOrder = c.rollbackOrder[1:]
		delete(c.rollbackIssued, evict)
	}
	return true
}

func (c *Coordinator) handleFailback(ctx context.Context, eventID string) error {
	if c.state != StateActiveSecondary {
		return fmt.Errorf("%w: failback requires ACTIVE_SECONDARY, currently %s", ErrWrongState, c.state)
	}
	if c.lastEvent == nil || c.lastEvent.ID != eventID {
		return ErrUnknownEvent
	}

	// The old primary may hold stale data: replication back to it must be
	// caught up before traffic returns.
	if blocked := c.promotionBlockers(c.primaryID); blocked != "" {
		return fmt.Errorf("%w: %s", ErrWrongState, blocked)
	}

	ev := &FailoverEvent{
		ID:          uuid.New().String(),
		TriggeredAt: time.Now().UTC(),
		Cause:       CauseFailback,
		Reason:      "failback confirmed for event " + eventID,
		FromRegion:  c.secondaryID,
		ToRegion:    c.primaryID,
		State:       EventEvaluating,
	}
	c.inflight = ev
	if c.metrics != nil {
		c.metrics.EventCreated(CauseFailback)
	}
	c.startTransfer(ctx, ev, StateActivePrimary)
	return nil
}

func (c *Coordinator) handleOverride(ctx context.Context, choice string) error {
	if c.state != StateDegradedManual {
		return fmt.Errorf("%w: override requires DEGRADED_MANUAL, currently %s", ErrWrongState, c.state)
	}

	switch choice {
	case OverridePromote:
		ev := c.inflight
		if ev == nil {
			ev = &FailoverEvent{
				ID:          uuid.New().String(),
				TriggeredAt: time.Now().UTC(),
				Cause:       CauseOverride,
				Reason:      "operator override promote",
				FromRegion:  c.primaryID,
				ToRegion:    c.secondaryID,
				State:       EventEvaluating,
			}
			c.inflight = ev
			if c.metrics != nil {
				c.metrics.EventCreated(CauseOverride)
			}
		}
		c.startTransfer(ctx, ev, StateActiveSecondary)
		return nil

	case OverrideRestore:
		if ev := c.inflight; ev != nil {
			c.advanceEvent(ev, EventFailed)
			c.inflight = nil
			c.lastEvent = copyEvent(ev)
		}
		if err := c.markActive(ctx, c.primaryID, c.lastEvent); err != nil {
			return err
		}
		restored := c.lastEvent
		var evCopy FailoverEvent
		if restored != nil {
			evCopy = *restored
		}
		c.transition(ctx, StateActivePrimary, &evCopy, "operator restored primary as ACTIVE")
		return nil

	default:
		return fmt.Errorf("failover: unknown override choice %q", choice)
	}
}

func (c *Coordinator) handleAbort(ctx context.Context) error {
	if c.state != StatePromoting && c.state != StateFailingBack {
		return fmt.Errorf("%w: no transfer in flight", ErrWrongState)
	}
	c.failTransfer(ctx, c.inflight, "operator abort")
	return nil
}

// markActive assigns the ACTIVE role, halting the coordinator if another
// region already holds it.
func (c *Coordinator) markActive(ctx context.Context, regionID string, ev *FailoverEvent) error {
	for id, r := range c.regions {
		if id != regionID && r.Role == RoleActive {
			c.halt(ctx, regionID, id, ev)
			return ErrInvariantViolation
		}
	}
	c.regions[regionID].Role = RoleActive
	return nil
}

// halt is the InvariantViolationError path: fatal, never auto-recovered.
func (c *Coordinator) halt(ctx context.Context, wanted, holder string, ev *FailoverEvent) {
	c.halted = true
	c.logger.Error("single-active invariant violated, coordinator halted",
		zap.String("requested_active", wanted),
		zap.String("current_active", holder))

	alert := FailoverEvent{
		ID:          uuid.New().String(),
		TriggeredAt: time.Now().UTC(),
		Cause:       CauseHealth,
		Reason:      fmt.Sprintf("invariant violation: %s requested ACTIVE while %s holds it", wanted, holder),
		FromRegion:  holder,
		ToRegion:    wanted,
		State:       EventFailed,
	}
	if ev != nil {
		alert.Cause = ev.Cause
	}
	if c.auditor != nil {
		c.auditor.Append(ctx, alert, alert.Reason, c.snapshot())
	}
	if c.notifier != nil {
		c.notifier.Notify(alert, c.state)
	}
}

// advanceEvent moves an event forward, never backward
func (c *Coordinator) advanceEvent(ev *FailoverEvent, next EventState) {
	if eventStateRank[next] < eventStateRank[ev.State] {
		c.logger.Error("refusing event state regression",
			zap.String("event_id", ev.ID),
			zap.String("from", string(ev.State)),
			zap.String("to", string(next)))
		return
	}
	ev.State = next
}

// transition changes coordinator state, records the audit entry, and fans
// out the notification. Audit and notify sinks absorb their own failures.
func (c *Coordinator) transition(ctx context.Context, next State, ev *FailoverEvent, note string) {
	prev := c.state
	c.state = next
	c.lastEvent = copyEvent(ev)

	c.logger.Info("coordinator transition",
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
		zap.String("event_id", ev.ID),
		zap.String("note", note))

	if c.metrics != nil {
		c.metrics.Transition(prev, next)
	}
	if c.auditor != nil {
		c.auditor.Append(ctx, *ev, note, c.snapshot())
	}
	if c.notifier != nil {
		c.notifier.Notify(*ev, next)
	}
}

func (c *Coordinator) snapshot() Snapshot {
	snap := Snapshot{
		State:         c.state,
		Halted:        c.halted,
		Regions:       make([]Region, 0, len(c.regions)),
		Channels:      make([]ReplicationChannel, 0, len(c.channels)),
		Beliefs:       make(map[string]Belief, len(c.beliefs)),
		FailureCounts: make(map[string]int, len(c.failCounts)),
		LastEvent:     copyEvent(c.lastEvent),
		TakenAt:       time.Now().UTC(),
	}

	for _, id := range c.sortedRegionIDs() {
		snap.Regions = append(snap.Regions, *c.regions[id])
	}
	for _, id := range c.sortedChannelIDs() {
		snap.Channels = append(snap.Channels, *c.channels[id])
	}
	for id, b := range c.beliefs {
		snap.Beliefs[id] = b
	}
	for id, n := range c.failCounts {
		snap.FailureCounts[id] = n
	}
	return snap
}

func (c *Coordinator) sortedRegionIDs() []string {
	ids := make([]string, 0, len(c.regions))
	for id := range c.regions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) sortedChannelIDs() []string {
	ids := make([]string, 0, len(c.channels))
	for id := range c.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyEvent(ev *FailoverEvent) *FailoverEvent {
	if ev == nil {
		return nil
	}
	cp := *ev
	if ev.CompletedAt != nil {
		t := *ev.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
