package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/atlasbms/atlas/internal/control/leadlag"
	"github.com/atlasbms/atlas/internal/control/pid"
	"github.com/atlasbms/atlas/internal/domain"
	"github.com/atlasbms/atlas/internal/engine/logic"
	"github.com/atlasbms/atlas/internal/infra/locations"
	"github.com/atlasbms/atlas/internal/infra/metrics"
	"github.com/atlasbms/atlas/internal/state"
)

// Gateway is the time-series store surface the processor needs.
// Implemented by tsdb.Client.
type Gateway interface {
	QueryLatestMetrics(ctx context.Context, equipmentID string) (domain.Snapshot, error)
	QueryUICommands(ctx context.Context, locationID string, typ domain.EquipmentType) ([]domain.UICommand, error)
	QueryLatestCommand(ctx context.Context, equipmentID string) (map[string]any, error)
	WriteCommand(ctx context.Context, cmd domain.Command) error
}

// MetadataProvider resolves the equipment roster. Implemented by the
// sqlite repository.
type MetadataProvider interface {
	ListEquipment(locationID string, typ domain.EquipmentType) ([]domain.Equipment, error)
}

// TaskStatus is the externally visible state of one periodic task.
type TaskStatus struct {
	Type             domain.EquipmentType `json:"type"`
	Interval         time.Duration        `json:"interval"`
	LastRunStartedAt time.Time            `json:"last_run_started_at"`
	LastRunEndedAt   time.Time            `json:"last_run_ended_at"`
	LastStatus       string               `json:"last_status"`
	LastDuration     time.Duration        `json:"last_duration"`
}

type task struct {
	typ      domain.EquipmentType
	interval time.Duration
	running  atomic.Bool

	mu     sync.Mutex
	status TaskStatus
}

// Processor supervises the periodic equipment tasks of one location.
// Ticks of the same task never run concurrently: an overrunning tick
// makes the next scheduled one skip, not queue.
type Processor struct {
	loc        locations.Location
	gw         Gateway
	meta       MetadataProvider
	dispatcher *Dispatcher
	states     *state.Store
	coord      *leadlag.Coordinator
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.RWMutex
	tasks map[domain.EquipmentType]*task
}

// NewProcessor wires one location's processor and registers its lead-lag
// groups with the coordinator.
func NewProcessor(loc locations.Location, gw Gateway, meta MetadataProvider,
	dispatcher *Dispatcher, states *state.Store, coord *leadlag.Coordinator,
	logger *zap.Logger) *Processor {

	p := &Processor{
		loc:        loc,
		gw:         gw,
		meta:       meta,
		dispatcher: dispatcher,
		states:     states,
		coord:      coord,
		logger:     logger.Named("processor").With(zap.String("location", loc.ID)),
		now:        time.Now,
		tasks:      make(map[domain.EquipmentType]*task),
	}
	for _, g := range loc.Groups {
		coord.Register(leadlag.Group{
			ID:                     g.ID,
			MemberIDs:              g.Members,
			UseLeadLag:             g.UseLeadLag,
			AutoFailover:           g.AutoFailover,
			ChangeoverIntervalDays: g.ChangeoverDays,
		})
	}
	return p
}

// SetClock injects a deterministic clock for tests.
func (p *Processor) SetClock(now func() time.Time) { p.now = now }

// LocationID returns the supervised location.
func (p *Processor) LocationID() string { return p.loc.ID }

// Run schedules one task per equipment type present at the location and
// blocks until sched is cancelled. Ticks perform their reads and writes
// against io: the supervisor cancels sched first, gives in-flight ticks a
// grace period, then cancels io to abort their I/O.
func (p *Processor) Run(sched, io context.Context) error {
	roster, err := p.meta.ListEquipment(p.loc.ID, "")
	if err != nil {
		return fmt.Errorf("location %s roster: %w", p.loc.ID, err)
	}
	types := make(map[domain.EquipmentType]bool)
	for _, e := range roster {
		types[e.Type] = true
	}
	if len(types) == 0 {
		p.logger.Warn("no equipment at location, processor idle")
		<-sched.Done()
		return nil
	}

	var wg sync.WaitGroup
	for typ := range types {
		t := &task{
			typ:      typ,
			interval: p.loc.TaskInterval(typ),
			status:   TaskStatus{Type: typ, Interval: p.loc.TaskInterval(typ)},
		}
		p.mu.Lock()
		p.tasks[typ] = t
		p.mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runTask(sched, io, t)
		}()
	}
	wg.Wait()
	return nil
}

// runTask is the scheduling loop for one equipment type. Runs a tick
// immediately, then on every interval; skips when the previous tick is
// still in flight.
func (p *Processor) runTask(sched, io context.Context, t *task) {
	p.fireTick(io, t)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sched.Done():
			return
		case <-ticker.C:
			p.fireTick(io, t)
		}
	}
}

func (p *Processor) fireTick(ctx context.Context, t *task) {
	if !t.running.CompareAndSwap(false, true) {
		metrics.TicksSkipped.WithLabelValues(p.loc.ID, string(t.typ)).Inc()
		p.logger.Warn("tick skipped, previous run in flight", zap.String("type", string(t.typ)))
		return
	}
	defer t.running.Store(false)

	started := p.now()
	t.mu.Lock()
	t.status.LastRunStartedAt = started
	t.mu.Unlock()

	err := p.RunTick(ctx, t.typ)

	ended := p.now()
	dur := ended.Sub(started)
	status := "ok"
	if err != nil {
		status = err.Error()
	}
	t.mu.Lock()
	t.status.LastRunEndedAt = ended
	t.status.LastDuration = dur
	t.status.LastStatus = status
	t.mu.Unlock()

	metrics.TicksTotal.WithLabelValues(p.loc.ID, string(t.typ)).Inc()
	metrics.TickDuration.WithLabelValues(p.loc.ID, string(t.typ)).Observe(dur.Seconds())
	p.logger.Debug("tick complete",
		zap.String("type", string(t.typ)),
		zap.Duration("duration", dur),
		zap.String("status", status))
}

// TaskStatuses reports every task's latest state, for the status API and
// the staleness health check.
func (p *Processor) TaskStatuses() []TaskStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]TaskStatus, 0, len(p.tasks))
	for _, t := range p.tasks {
		t.mu.Lock()
		out = append(out, t.status)
		t.mu.Unlock()
	}
	return out
}

// RunTick evaluates every equipment of one type at this location: one
// snapshot read per unit, lead-lag coordination for grouped units, then
// algorithm evaluation and command writes.
func (p *Processor) RunTick(ctx context.Context, typ domain.EquipmentType) error {
	roster, err := p.meta.ListEquipment(p.loc.ID, typ)
	if err != nil {
		return fmt.Errorf("roster: %w", err)
	}
	if len(roster) == 0 {
		return nil
	}

	now := p.now()

	// Read the UI command window once for the whole type.
	overrides := p.readUIOverrides(ctx, typ)

	// Read each unit's telemetry once; everything downstream works off
	// this snapshot.
	snaps := make(map[string]domain.Snapshot, len(roster))
	snapErrs := make(map[string]error, len(roster))
	for _, e := range roster {
		snap, err := p.gw.QueryLatestMetrics(ctx, e.ID)
		if err != nil {
			snapErrs[e.ID] = err
			continue
		}
		snaps[e.ID] = snap
	}

	// Coordinate lead-lag groups sequentially so exactly one member moves
	// per tick.
	decisions := p.coordinateGroups(roster, snaps)

	var firstErr error
	for _, e := range roster {
		if err := p.runOne(ctx, e, snaps[e.ID], snapErrs[e.ID], overrides[e.ID], decisions, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// readUIOverrides collapses the 15-minute UI command window into one
// field map per equipment, newest value per field winning.
func (p *Processor) readUIOverrides(ctx context.Context, typ domain.EquipmentType) map[string]map[string]any {
	out := make(map[string]map[string]any)
	cmds, err := p.gw.QueryUICommands(ctx, p.loc.ID, typ)
	if err != nil {
		p.logger.Warn("ui command read failed, proceeding without overrides", zap.Error(err))
		return out
	}
	for _, c := range cmds {
		m, ok := out[c.EquipmentID]
		if !ok {
			m = make(map[string]any)
			out[c.EquipmentID] = m
		}
		if _, seen := m[c.Field]; !seen { // rows arrive newest first
			m[c.Field] = c.Value
		}
	}
	return out
}

// coordinateGroups runs the health and rotation checks for every group
// represented in the roster.
func (p *Processor) coordinateGroups(roster []domain.Equipment, snaps map[string]domain.Snapshot) map[string]leadlag.Decision {
	decisions := make(map[string]leadlag.Decision)
	seen := make(map[string][]domain.Equipment)
	for _, e := range roster {
		if e.GroupID != "" {
			seen[e.GroupID] = append(seen[e.GroupID], e)
		}
	}
	for groupID, members := range seen {
		healthy := make(map[string]bool, len(members))
		reasons := make(map[string]string, len(members))
		for _, m := range members {
			ok, reason := logic.Health(m.Type, snaps[m.ID], p.view(m.ID))
			healthy[m.ID] = ok
			if !ok {
				reasons[m.ID] = reason
			}
		}
		d, err := p.coord.Evaluate(groupID, healthy, reasons)
		if err != nil {
			p.logger.Warn("lead-lag evaluation failed", zap.String("group", groupID), zap.Error(err))
			continue
		}
		if d.Changed {
			metrics.LeadLagTransitions.WithLabelValues(groupID, string(d.Kind)).Inc()
		}
		decisions[groupID] = d
	}
	return decisions
}

// runOne evaluates a single equipment and writes its filtered command bag.
func (p *Processor) runOne(ctx context.Context, e domain.Equipment, snap domain.Snapshot,
	snapErr error, uiOverride map[string]any, decisions map[string]leadlag.Decision, now time.Time) error {

	log := p.logger.With(zap.String("equipment", e.ID), zap.String("type", string(e.Type)))

	// Telemetry failed after retries: emit the safe-default bag so the
	// unit lands in a known state.
	if snapErr != nil {
		metrics.TickErrors.WithLabelValues(p.loc.ID, string(e.Type), "telemetry").Inc()
		log.Error("telemetry read failed, writing safe defaults", zap.Error(snapErr))
		p.writeBag(ctx, e, domain.SafeBag(e.Type), now, log)
		return nil
	}

	algo, err := p.dispatcher.Resolve(string(e.Type), e.LocationID)
	if err != nil {
		metrics.TickErrors.WithLabelValues(p.loc.ID, string(e.Type), "dispatch").Inc()
		log.Error("no algorithm", zap.Error(err))
		p.writeBag(ctx, e, domain.CommandBag{domain.CmdUnitEnable: false}, now, log)
		return err
	}

	settings := p.mergeSettings(ctx, e, uiOverride)
	if enabled, ok := settings.FirstBool("custom_logic_enabled", "customLogicEnabled"); ok && !enabled {
		log.Debug("custom logic disabled, skipping tick")
		return nil
	}

	in := p.buildInputs(e, snap, settings, decisions, now)

	res, panicked := p.evaluate(algo, in, log)
	if panicked {
		metrics.TickErrors.WithLabelValues(p.loc.ID, string(e.Type), "panic").Inc()
		p.writeBag(ctx, e, domain.SafeBag(e.Type), now, log)
		return nil
	}

	if tripped(res.Commands) {
		metrics.SafetyTrips.WithLabelValues(p.loc.ID, string(e.Type)).Inc()
	}

	p.writeBag(ctx, e, res.Commands, now, log)

	// Merge the returned state back into the store; the algorithm itself
	// never touches it.
	for controller, st := range res.PID {
		p.states.SetPID(state.PIDKey(e.ID, controller), st)
	}
	for k, v := range res.State {
		p.states.Set(e.ID, k, v)
	}
	p.states.SetTime(e.ID, "lastTickAt", now)
	return nil
}

// evaluate runs the algorithm with per-tick panic isolation.
func (p *Processor) evaluate(algo logic.Func, in logic.Inputs, log *zap.Logger) (res logic.Result, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("algorithm panic, emitting safe defaults", zap.Any("panic", r))
			panicked = true
		}
	}()
	res = algo(in, p.view(in.Equipment.ID))
	return res, false
}

// mergeSettings layers computed defaults, the persisted last commands,
// and the UI override window, in ascending priority.
func (p *Processor) mergeSettings(ctx context.Context, e domain.Equipment, uiOverride map[string]any) domain.Settings {
	persisted, err := p.gw.QueryLatestCommand(ctx, e.ID)
	if err != nil {
		// Degrade to defaults + UI; a missing audit trail must not stop
		// control.
		p.logger.Debug("persisted command read failed", zap.String("equipment", e.ID), zap.Error(err))
		persisted = nil
	}
	return domain.Merge(persisted, uiOverride)
}

func (p *Processor) buildInputs(e domain.Equipment, snap domain.Snapshot,
	settings domain.Settings, decisions map[string]leadlag.Decision, now time.Time) logic.Inputs {

	currentTemp := p.loc.Temperature.Default
	tempField := ""
	if v, field, ok := snap.FirstFinite(p.loc.Temperature.Candidates); ok {
		currentTemp = v
		tempField = field
	}

	outdoor, _, outdoorOK := snap.FirstFinite(locations.OutdoorSource)

	occupied := true
	if !alwaysOccupied(e.Type) {
		occupied = p.loc.Occupancy.Contains(now)
	}

	dt := p.loc.TaskInterval(e.Type).Seconds()
	if last, ok := p.states.Time(e.ID, "lastTickAt"); ok {
		if measured := now.Sub(last).Seconds(); measured > 0 {
			dt = measured
		}
	}

	in := logic.Inputs{
		Equipment:   e,
		Location:    p.loc,
		Metrics:     snap,
		Settings:    settings,
		CurrentTemp: currentTemp,
		TempField:   tempField,
		OutdoorTemp: outdoor,
		OutdoorOK:   outdoorOK,
		Occupied:    occupied,
		Now:         now,
		DT:          dt,
		IsLead:      true,
	}
	if e.GroupID != "" {
		in.IsLead = p.coord.IsLead(e.GroupID, e.ID)
		if leader, ok := p.coord.Leader(e.GroupID); ok {
			in.LeaderID = leader
		}
		if d, ok := decisions[e.GroupID]; ok && d.Changed {
			in.LeadReason = d.Reason
		}
	}
	return in
}

// writeBag filters the bag to the allowed command set and writes every
// surviving command. Writes already issued are not rolled back on a later
// failure.
func (p *Processor) writeBag(ctx context.Context, e domain.Equipment, bag domain.CommandBag, now time.Time, log *zap.Logger) {
	filtered, dropped := domain.FilterCommands(e.Type, bag)
	if len(dropped) > 0 {
		log.Warn("dropped disallowed commands", zap.Strings("commands", dropped))
	}
	for _, name := range filtered.Names() {
		cmd := domain.Command{
			EquipmentID:   e.ID,
			EquipmentType: e.Type,
			LocationID:    e.LocationID,
			Type:          name,
			Value:         filtered[name],
			Timestamp:     now,
		}
		if err := p.gw.WriteCommand(ctx, cmd); err != nil {
			metrics.CommandWriteErrors.WithLabelValues(p.loc.ID, string(e.Type)).Inc()
			log.Error("command write failed", zap.String("command", name), zap.Error(err))
			continue
		}
		metrics.CommandsWritten.WithLabelValues(p.loc.ID, string(e.Type)).Inc()
	}
}

func (p *Processor) view(equipmentID string) logic.StateView {
	return stateView{states: p.states, id: equipmentID}
}

// stateView scopes the state store to one equipment for the algorithm.
type stateView struct {
	states *state.Store
	id     string
}

func (v stateView) PID(controller string) pid.State {
	return v.states.PID(state.PIDKey(v.id, controller))
}
func (v stateView) Float(key string) (float64, bool)  { return v.states.Float(v.id, key) }
func (v stateView) Bool(key string) (bool, bool)      { return v.states.Bool(v.id, key) }
func (v stateView) String(key string) (string, bool)  { return v.states.String(v.id, key) }
func (v stateView) Time(key string) (time.Time, bool) { return v.states.Time(v.id, key) }

// tripped detects a safety-profile bag for the trip metric.
func tripped(bag domain.CommandBag) bool {
	if b, ok := bag.Bool(domain.CmdSafetyShutoff); ok && b {
		return true
	}
	if s, ok := bag.String(domain.CmdSafetyStatus); ok && strings.HasPrefix(s, "tripped") {
		return true
	}
	if s, ok := bag.String(domain.CmdOperationMode); ok && (s == "freezestat" || s == "hi-limit") {
		return true
	}
	return false
}

func alwaysOccupied(t domain.EquipmentType) bool {
	switch t {
	case domain.TypeBoiler, domain.TypePump, domain.TypeChiller, domain.TypeSteamBundle:
		return true
	}
	return false
}
