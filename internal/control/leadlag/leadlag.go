// Package leadlag coordinates redundant equipment groups: one lead member
// runs, the rest stand by. The coordinator owns rotation (periodic leader
// changeover) and failover (promotion on leader failure), and guarantees a
// single leader per group.
//
// Lifecycle per group:
//
//	NORMAL → FAILOVER (leader failed health check, next healthy promoted)
//	NORMAL → ROTATION (changeover interval elapsed, next member promoted)
//
// Rotation and failover never fire in the same evaluation for the same
// group, and evaluation is idempotent within a tick.
package leadlag

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlasbms/atlas/internal/domain"
)

// Evaluation cadences. Evaluate is called on every equipment tick; these
// gate how often the checks actually run.
const (
	healthCheckInterval   = 30 * time.Second
	rotationCheckInterval = 5 * time.Minute
)

// GroupState labels where a group sits in its coordination lifecycle.
type GroupState int

const (
	StateNormal GroupState = iota // leader healthy, lag standing by
	StateFailover                 // leader promotion after a health failure
	StateRotationPending          // changeover interval elapsed, awaiting evaluation
)

// String returns a human-readable state label.
func (s GroupState) String() string {
	switch s {
	case StateNormal:
		return "NORMAL"
	case StateFailover:
		return "FAILOVER"
	case StateRotationPending:
		return "ROTATION_PENDING"
	default:
		return "UNKNOWN"
	}
}

// EventKind classifies a recorded lead-lag transition.
type EventKind string

const (
	EventFailover EventKind = "failover"
	EventRotation EventKind = "rotation"
)

// Event is the audit record of one leader transition.
type Event struct {
	ID      string    `json:"id"`
	GroupID string    `json:"group_id"`
	Kind    EventKind `json:"kind"`
	FromID  string    `json:"from_id"`
	ToID    string    `json:"to_id"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// EventSink receives lead-lag events for persistence. Implemented by the
// sqlite store; a nil sink drops events.
type EventSink interface {
	RecordLeadLagEvent(ev Event) error
}

// Group is the coordination state of one redundant cohort.
type Group struct {
	ID                     string     `json:"id"`
	MemberIDs              []string   `json:"member_ids"`
	LeaderID               string     `json:"leader_id"`
	AutoFailover           bool       `json:"auto_failover"`
	UseLeadLag             bool       `json:"use_lead_lag"`
	ChangeoverIntervalDays float64    `json:"changeover_interval_days"`
	LastChangeoverTime     time.Time  `json:"last_changeover_time"`
	LastFailoverTime       time.Time  `json:"last_failover_time"`
	State                  GroupState `json:"state"`
}

// changeoverInterval returns the rotation period, defaulting to weekly.
func (g Group) changeoverInterval() time.Duration {
	days := g.ChangeoverIntervalDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days * 24 * float64(time.Hour))
}

// memberIndex returns the position of id in MemberIDs, or -1.
func (g Group) memberIndex(id string) int {
	for i, m := range g.MemberIDs {
		if m == id {
			return i
		}
	}
	return -1
}

// Decision is the outcome of one Evaluate call.
type Decision struct {
	LeaderID string
	Changed  bool
	Kind     EventKind // set only when Changed
	Reason   string
}

// Coordinator owns all lead-lag groups. Evaluation for one group is
// serialised so that exactly one member is promoted or demoted per tick.
type Coordinator struct {
	mu     sync.Mutex
	groups map[string]*Group

	lastHealthCheck   map[string]time.Time
	lastRotationCheck map[string]time.Time

	logger *zap.Logger
	sink   EventSink
	now    func() time.Time
}

// New creates a coordinator. sink may be nil.
func New(logger *zap.Logger, sink EventSink) *Coordinator {
	return &Coordinator{
		groups:            make(map[string]*Group),
		lastHealthCheck:   make(map[string]time.Time),
		lastRotationCheck: make(map[string]time.Time),
		logger:            logger.Named("leadlag"),
		sink:              sink,
		now:               time.Now,
	}
}

// SetClock injects a deterministic clock for tests.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Register adds or replaces a group definition. Runtime fields
// (LeaderID, changeover times) from an existing registration are kept so
// a registry reload does not reset coordination.
func (c *Coordinator) Register(g Group) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, ok := c.groups[g.ID]; ok {
		if g.LeaderID == "" {
			g.LeaderID = prev.LeaderID
		}
		if g.LastChangeoverTime.IsZero() {
			g.LastChangeoverTime = prev.LastChangeoverTime
		}
		if g.LastFailoverTime.IsZero() {
			g.LastFailoverTime = prev.LastFailoverTime
		}
	}
	if g.memberIndex(g.LeaderID) < 0 && len(g.MemberIDs) > 0 {
		g.LeaderID = g.MemberIDs[0]
	}
	if g.LastChangeoverTime.IsZero() {
		g.LastChangeoverTime = c.now()
	}
	c.groups[g.ID] = &g
}

// Group returns a copy of the group's current state.
func (c *Coordinator) Group(id string) (Group, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[id]
	if !ok {
		return Group{}, false
	}
	return *g, true
}

// Groups returns copies of every registered group, for the status API.
func (c *Coordinator) Groups() []Group {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Group, 0, len(c.groups))
	for _, g := range c.groups {
		out = append(out, *g)
	}
	return out
}

// Leader returns the current leader of the group.
func (c *Coordinator) Leader(groupID string) (string, bool) {
	g, ok := c.Group(groupID)
	if !ok {
		return "", false
	}
	return g.LeaderID, true
}

// IsLead reports whether the member currently leads its group. Equipment
// with no group (or a group with lead-lag disabled) always leads.
func (c *Coordinator) IsLead(groupID, memberID string) bool {
	if groupID == "" {
		return true
	}
	g, ok := c.Group(groupID)
	if !ok || !g.UseLeadLag {
		return true
	}
	return g.LeaderID == memberID
}

// Evaluate runs the health and rotation checks for one group against the
// member health results sampled this tick. healthy maps memberID to the
// outcome of the equipment-type health predicate; reasons carries the
// failure description for unhealthy members.
func (c *Coordinator) Evaluate(groupID string, healthy map[string]bool, reasons map[string]string) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[groupID]
	if !ok {
		return Decision{}, fmt.Errorf("evaluate %s: %w", groupID, domain.ErrGroupEmpty)
	}
	if len(g.MemberIDs) == 0 {
		return Decision{}, domain.ErrGroupEmpty
	}
	if !g.UseLeadLag {
		return Decision{LeaderID: g.LeaderID}, nil
	}

	now := c.now()

	// Re-pin the leader if the registry changed under us.
	if g.memberIndex(g.LeaderID) < 0 {
		g.LeaderID = g.MemberIDs[0]
	}

	if d, done := c.checkFailover(g, healthy, reasons, now); done {
		return d, nil
	}
	if d, done := c.checkRotation(g, now); done {
		return d, nil
	}

	if now.Sub(g.LastChangeoverTime) >= g.changeoverInterval() {
		g.State = StateRotationPending
	} else {
		g.State = StateNormal
	}
	return Decision{LeaderID: g.LeaderID}, nil
}

// checkFailover promotes the next healthy member when the leader fails its
// health predicate. Returns done=true when a transition happened this tick.
func (c *Coordinator) checkFailover(g *Group, healthy map[string]bool, reasons map[string]string, now time.Time) (Decision, bool) {
	if !g.AutoFailover {
		return Decision{}, false
	}
	if last, ok := c.lastHealthCheck[g.ID]; ok && now.Sub(last) < healthCheckInterval {
		return Decision{}, false
	}
	c.lastHealthCheck[g.ID] = now

	leaderHealthy, known := healthy[g.LeaderID]
	if !known || leaderHealthy {
		return Decision{}, false
	}

	next, ok := c.nextHealthy(g, healthy)
	if !ok {
		// Nothing to promote; keep the leader rather than orphan the group.
		c.logger.Warn("leader unhealthy but no healthy standby",
			zap.String("group", g.ID), zap.String("leader", g.LeaderID))
		return Decision{}, false
	}

	reason := reasons[g.LeaderID]
	if reason == "" {
		reason = "leader failed health check"
	}
	from := g.LeaderID
	g.LeaderID = next
	g.LastFailoverTime = now
	g.State = StateFailover
	c.record(Event{
		ID: uuid.New().String(), GroupID: g.ID, Kind: EventFailover,
		FromID: from, ToID: next, Reason: reason, At: now,
	})
	c.logger.Info("failover",
		zap.String("group", g.ID), zap.String("from", from),
		zap.String("to", next), zap.String("reason", reason))
	return Decision{LeaderID: next, Changed: true, Kind: EventFailover, Reason: reason}, true
}

// checkRotation advances the leader to the next member in order once the
// changeover interval has elapsed.
func (c *Coordinator) checkRotation(g *Group, now time.Time) (Decision, bool) {
	if last, ok := c.lastRotationCheck[g.ID]; ok && now.Sub(last) < rotationCheckInterval {
		return Decision{}, false
	}
	c.lastRotationCheck[g.ID] = now

	if now.Sub(g.LastChangeoverTime) < g.changeoverInterval() {
		return Decision{}, false
	}

	idx := g.memberIndex(g.LeaderID)
	next := g.MemberIDs[(idx+1)%len(g.MemberIDs)]
	if next == g.LeaderID {
		g.LastChangeoverTime = now
		return Decision{}, false
	}

	from := g.LeaderID
	g.LeaderID = next
	g.LastChangeoverTime = now
	g.State = StateNormal
	reason := fmt.Sprintf("scheduled changeover after %.1f days", g.ChangeoverIntervalDays)
	c.record(Event{
		ID: uuid.New().String(), GroupID: g.ID, Kind: EventRotation,
		FromID: from, ToID: next, Reason: reason, At: now,
	})
	c.logger.Info("rotation",
		zap.String("group", g.ID), zap.String("from", from), zap.String("to", next))
	return Decision{LeaderID: next, Changed: true, Kind: EventRotation, Reason: reason}, true
}

// nextHealthy walks the member ring starting after the current leader.
func (c *Coordinator) nextHealthy(g *Group, healthy map[string]bool) (string, bool) {
	idx := g.memberIndex(g.LeaderID)
	for i := 1; i <= len(g.MemberIDs); i++ {
		candidate := g.MemberIDs[(idx+i)%len(g.MemberIDs)]
		if candidate == g.LeaderID {
			continue
		}
		if healthy[candidate] {
			return candidate, true
		}
	}
	return "", false
}

func (c *Coordinator) record(ev Event) {
	if c.sink == nil {
		return
	}
	if err := c.sink.RecordLeadLagEvent(ev); err != nil {
		c.logger.Warn("record lead-lag event", zap.Error(err))
	}
}

// Export returns every group for snapshot persistence.
func (c *Coordinator) Export() []Group {
	return c.Groups()
}

// Import restores group runtime state from a snapshot. Unknown groups are
// registered as-is; known groups adopt the snapshot's leader and times.
func (c *Coordinator) Import(groups []Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range groups {
		snap := g
		if cur, ok := c.groups[g.ID]; ok {
			cur.LeaderID = snap.LeaderID
			cur.LastChangeoverTime = snap.LastChangeoverTime
			cur.LastFailoverTime = snap.LastFailoverTime
			if cur.memberIndex(cur.LeaderID) < 0 && len(cur.MemberIDs) > 0 {
				cur.LeaderID = cur.MemberIDs[0]
			}
			continue
		}
		c.groups[g.ID] = &snap
	}
}
