package blackboard

import (
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"cropguard.ai/internal/sim/grid"
	"cropguard.ai/internal/sim/tuning"
)

// KnowledgeBase is the sole owner of all shared coordination state: the
// world grid, the agent and task registries, the bounded event log and the
// per-agent command mailboxes. One coarse lock guards everything;
// correctness over throughput, tick counts are small.
//
// Knowledge sources and agents interact exclusively through this API and
// never keep references to returned state across ticks.
type KnowledgeBase struct {
	mu sync.RWMutex

	world *grid.World
	tune  tuning.Tuning
	log   *log.Logger

	tick uint64

	agents map[string]*AgentState
	tasks  map[string]*TaskState

	events []Event
	seq    uint64

	mailbox map[string]Command
	issued  []IssuedCommand

	explorationComplete bool
	missionComplete     bool
}

// IssuedCommand records a mailbox write so the runner can mirror commands
// to the renderer channel after the tick.
type IssuedCommand struct {
	AgentID string
	Cmd     Command
}

func NewKnowledgeBase(world *grid.World, tune tuning.Tuning, logger *log.Logger) *KnowledgeBase {
	return &KnowledgeBase{
		world:   world,
		tune:    tune,
		log:     logger,
		agents:  map[string]*AgentState{},
		tasks:   map[string]*TaskState{},
		mailbox: map[string]Command{},
	}
}

func (kb *KnowledgeBase) Tuning() tuning.Tuning { return kb.tune }

func (kb *KnowledgeBase) WorldID() string { return kb.world.ID }

func (kb *KnowledgeBase) Dims() (int, int) { return kb.world.Width, kb.world.Height }

// SetTick advances the logical clock; called once per Blackboard tick.
func (kb *KnowledgeBase) SetTick(t uint64) {
	kb.mu.Lock()
	kb.tick = t
	kb.mu.Unlock()
}

func (kb *KnowledgeBase) CurrentTick() uint64 {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.tick
}

// ---- agents ----

func (kb *KnowledgeBase) RegisterAgent(st AgentState) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	st.Active = true
	cp := st
	cp.Path = append([]grid.Cell(nil), st.Path...)
	kb.agents[st.ID] = &cp
}

// UpdateAgent applies a partial update. A position change emits AgentMoved;
// a transition into Idle emits AgentIdle.
func (kb *KnowledgeBase) UpdateAgent(id string, u AgentUpdate) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	a, ok := kb.agents[id]
	if !ok {
		return
	}
	moved := false
	wentIdle := false
	if u.Pos != nil && *u.Pos != a.Pos {
		a.Pos = *u.Pos
		moved = true
	}
	if u.Status != nil && *u.Status != a.Status {
		if *u.Status == StatusIdle {
			wentIdle = true
		}
		a.Status = *u.Status
	}
	if u.ResourceLevel != nil {
		a.ResourceLevel = *u.ResourceLevel
	}
	if u.CurrentTaskID != nil {
		a.CurrentTaskID = *u.CurrentTaskID
	}
	if u.Path != nil {
		a.Path = append([]grid.Cell(nil), (*u.Path)...)
	}
	if u.PathIndex != nil {
		a.PathIndex = *u.PathIndex
	}
	if u.TasksCompleted != nil {
		a.TasksCompleted = *u.TasksCompleted
	}
	if u.FieldsTreated != nil {
		a.FieldsTreated = *u.FieldsTreated
	}
	if u.FieldsAnalyzed != nil {
		a.FieldsAnalyzed = *u.FieldsAnalyzed
	}
	if moved {
		kb.emit(Event{Type: EventAgentMoved, Source: id, AgentID: id, Pos: a.Pos})
	}
	if wentIdle {
		kb.emit(Event{Type: EventAgentIdle, Source: id, AgentID: id, Pos: a.Pos})
	}
}

// DeactivateAgent marks an agent inactive at simulation end. Records are
// never hard-deleted.
func (kb *KnowledgeBase) DeactivateAgent(id string) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if a, ok := kb.agents[id]; ok {
		a.Active = false
	}
}

func (kb *KnowledgeBase) Agent(id string) (AgentState, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	a, ok := kb.agents[id]
	if !ok {
		return AgentState{}, false
	}
	return copyAgent(a), true
}

// Agents returns active agents sorted by id for deterministic iteration.
func (kb *KnowledgeBase) Agents() []AgentState {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make([]AgentState, 0, len(kb.agents))
	for _, a := range kb.agents {
		if a.Active {
			out = append(out, copyAgent(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (kb *KnowledgeBase) AgentsByRole(role Role) []AgentState {
	all := kb.Agents()
	out := all[:0]
	for _, a := range all {
		if a.Role == role {
			out = append(out, a)
		}
	}
	return out
}

// IdleAgents returns idle agents, optionally filtered by role ("" = any).
func (kb *KnowledgeBase) IdleAgents(role Role) []AgentState {
	all := kb.Agents()
	out := all[:0]
	for _, a := range all {
		if a.Status != StatusIdle {
			continue
		}
		if role != "" && a.Role != role {
			continue
		}
		out = append(out, a)
	}
	return out
}

// OccupiedCells returns the cells held by active agents, excluding one id.
// Depot cells are never reported occupied; any number of vehicles can park
// there.
func (kb *KnowledgeBase) OccupiedCells(excludeID string) map[grid.Cell]bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := map[grid.Cell]bool{}
	for id, a := range kb.agents {
		if id == excludeID || !a.Active {
			continue
		}
		if kb.world.Tile(a.Pos.X, a.Pos.Z) == grid.Depot {
			continue
		}
		out[a.Pos] = true
	}
	return out
}

func copyAgent(a *AgentState) AgentState {
	cp := *a
	cp.Path = append([]grid.Cell(nil), a.Path...)
	return cp
}

// ---- tasks ----

// PriorityFor maps an infestation level onto a task priority.
func (kb *KnowledgeBase) PriorityFor(level int) TaskPriority {
	switch {
	case level >= kb.tune.PriorityCriticalMin:
		return PriorityCritical
	case level >= kb.tune.PriorityHighMin:
		return PriorityHigh
	case level >= kb.tune.PriorityMediumMin:
		return PriorityMedium
	}
	return PriorityLow
}

// CreateTask registers a task and emits TaskCreated. An empty ID gets a
// fresh UUID. Creation is refused when a live task already covers the
// position, preserving the one-live-task-per-cell invariant.
func (kb *KnowledgeBase) CreateTask(t TaskState) (string, bool) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	for _, existing := range kb.tasks {
		if existing.Pos == t.Pos && existing.Live() {
			return "", false
		}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	t.CreatedTick = kb.tick
	cp := t
	kb.tasks[t.ID] = &cp
	kb.emit(Event{
		Type:        EventTaskCreated,
		TaskID:      t.ID,
		Pos:         t.Pos,
		Infestation: t.InfestationLevel,
		Detail:      t.Priority.String(),
	})
	return t.ID, true
}

// UpdateTask applies a partial update; status transitions into Assigned,
// Completed and Failed emit the matching events.
func (kb *KnowledgeBase) UpdateTask(id string, u TaskUpdate) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	t, ok := kb.tasks[id]
	if !ok {
		return
	}
	oldStatus := t.Status
	if u.AssignedAgentID != nil {
		t.AssignedAgentID = *u.AssignedAgentID
	}
	if u.AssignedTick != nil {
		t.AssignedTick = *u.AssignedTick
	}
	if u.CompletedTick != nil {
		t.CompletedTick = *u.CompletedTick
	}
	if u.FailureCount != nil {
		t.FailureCount = *u.FailureCount
	}
	if u.LastFailureTick != nil {
		t.LastFailureTick = *u.LastFailureTick
	}
	if u.Status != nil && *u.Status != oldStatus {
		t.Status = *u.Status
		switch t.Status {
		case TaskAssigned:
			kb.emit(Event{Type: EventTaskAssigned, TaskID: id, AgentID: t.AssignedAgentID, Pos: t.Pos})
		case TaskCompleted:
			kb.emit(Event{Type: EventTaskCompleted, TaskID: id, AgentID: t.AssignedAgentID, Pos: t.Pos})
		case TaskFailed:
			kb.emit(Event{Type: EventTaskFailed, TaskID: id, AgentID: t.AssignedAgentID, Pos: t.Pos})
		}
	}
}

func (kb *KnowledgeBase) Task(id string) (TaskState, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	t, ok := kb.tasks[id]
	if !ok {
		return TaskState{}, false
	}
	return *t, true
}

func (kb *KnowledgeBase) Tasks() []TaskState {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make([]TaskState, 0, len(kb.tasks))
	for _, t := range kb.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (kb *KnowledgeBase) TasksByStatus(status TaskStatus) []TaskState {
	all := kb.Tasks()
	out := all[:0]
	for _, t := range all {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// PendingTasks returns pending tasks ordered by priority desc, infestation
// desc, creation tick asc, id asc.
func (kb *KnowledgeBase) PendingTasks() []TaskState {
	pending := kb.TasksByStatus(TaskPending)
	sort.Slice(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.InfestationLevel != b.InfestationLevel {
			return a.InfestationLevel > b.InfestationLevel
		}
		if a.CreatedTick != b.CreatedTick {
			return a.CreatedTick < b.CreatedTick
		}
		return a.ID < b.ID
	})
	return pending
}

// LiveTaskAt reports whether a non-terminal task covers the given cell.
func (kb *KnowledgeBase) LiveTaskAt(pos grid.Cell) bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	for _, t := range kb.tasks {
		if t.Pos == pos && t.Live() {
			return true
		}
	}
	return false
}

// LiveTasks reports whether any task is pending, assigned or in progress.
func (kb *KnowledgeBase) LiveTasks() bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	for _, t := range kb.tasks {
		if t.Live() {
			return true
		}
	}
	return false
}

// ---- world ----

// Tile implements path.Terrain.
func (kb *KnowledgeBase) Tile(x, z int) grid.TileType {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.world.Tile(x, z)
}

// Weight implements path.Terrain.
func (kb *KnowledgeBase) Weight(c grid.Cell) float64 {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.world.Weight(c)
}

// TerrainRows renders the immutable terrain for the observer handshake.
func (kb *KnowledgeBase) TerrainRows() []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.world.TerrainRows()
}

func (kb *KnowledgeBase) Crop(x, z int) grid.CropType {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.world.Crop(x, z)
}

func (kb *KnowledgeBase) Infestation(x, z int) int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.world.InfestationAt(x, z)
}

func (kb *KnowledgeBase) SetInfestation(x, z, level int) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.world.SetInfestation(x, z, level)
}

func (kb *KnowledgeBase) SetFieldWeight(c grid.Cell, w float64) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.world.SetWeight(c, w)
}

// TraverseField applies the dynamic weight rule when a worker crosses a
// field cell: the first traversal sets the initial weight, repeats multiply
// by the configured factor, and the grid caps the result.
func (kb *KnowledgeBase) TraverseField(c grid.Cell) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if kb.world.Tile(c.X, c.Z) != grid.Field {
		return
	}
	w := kb.world.Weight(c)
	if w == 0 {
		w = kb.tune.InitialFieldWeight
	} else {
		w *= kb.tune.FieldWeightFactor
	}
	kb.world.SetWeight(c, w)
}

func (kb *KnowledgeBase) Depots() []grid.Cell {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.world.Depots()
}

func (kb *KnowledgeBase) NearestDepot(pos grid.Cell) (grid.Cell, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.world.NearestDepot(pos)
}

func (kb *KnowledgeBase) InfestationSnapshot() [][]int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.world.InfestationSnapshot()
}

// ---- events ----

// EmitEvent appends an event to the bounded log. Seq and Tick are assigned
// here.
func (kb *KnowledgeBase) EmitEvent(ev Event) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.emit(ev)
}

// emit must be called with the write lock held.
func (kb *KnowledgeBase) emit(ev Event) {
	kb.seq++
	ev.Seq = kb.seq
	ev.Tick = kb.tick
	kb.events = append(kb.events, ev)
	if max := kb.tune.EventBufferSize; max > 0 && len(kb.events) > max {
		kb.events = append(kb.events[:0:0], kb.events[len(kb.events)-max:]...)
	}
}

// RecentEvents returns up to limit most recent events, optionally filtered
// by type ("" = all), oldest first.
func (kb *KnowledgeBase) RecentEvents(kind EventType, limit int) []Event {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	var out []Event
	for _, ev := range kb.events {
		if kind == "" || ev.Type == kind {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// EventsSince returns up to limit events with Seq > cursor, oldest first.
func (kb *KnowledgeBase) EventsSince(cursor uint64, limit int) []Event {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	var out []Event
	for _, ev := range kb.events {
		if ev.Seq > cursor {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (kb *KnowledgeBase) LastEventSeq() uint64 {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.seq
}

// ---- command mailbox ----

// SetCommand writes an agent's single-slot mailbox, displacing any previous
// command. An empty command ID gets a UUID. The write is recorded for the
// renderer mirror.
func (kb *KnowledgeBase) SetCommand(agentID string, cmd Command) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	cmd.IssuedTick = kb.tick
	kb.mailbox[agentID] = cmd
	kb.issued = append(kb.issued, IssuedCommand{AgentID: agentID, Cmd: cmd})
}

// CommandFor reads the mailbox without clearing it; commands stay in place
// until the agent finishes them or recovery withdraws them.
func (kb *KnowledgeBase) CommandFor(agentID string) (Command, bool) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	cmd, ok := kb.mailbox[agentID]
	return cmd, ok
}

func (kb *KnowledgeBase) ClearCommand(agentID string) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	delete(kb.mailbox, agentID)
}

// UpdateCommandPath attaches a computed route to an outstanding command.
func (kb *KnowledgeBase) UpdateCommandPath(agentID string, route []grid.Cell) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	cmd, ok := kb.mailbox[agentID]
	if !ok {
		return
	}
	cmd.Path = append([]grid.Cell(nil), route...)
	kb.mailbox[agentID] = cmd
}

// DrainIssuedCommands returns and clears the commands written since the
// last drain.
func (kb *KnowledgeBase) DrainIssuedCommands() []IssuedCommand {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	out := kb.issued
	kb.issued = nil
	return out
}

// ---- shared flags ----

func (kb *KnowledgeBase) SetExplorationComplete() {
	kb.mu.Lock()
	kb.explorationComplete = true
	kb.mu.Unlock()
}

func (kb *KnowledgeBase) ExplorationComplete() bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.explorationComplete
}

func (kb *KnowledgeBase) SetMissionComplete() {
	kb.mu.Lock()
	kb.missionComplete = true
	kb.mu.Unlock()
}

func (kb *KnowledgeBase) MissionComplete() bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.missionComplete
}
