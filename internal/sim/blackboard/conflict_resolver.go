package blackboard

import (
	"log"

	"cropguard.ai/internal/sim/grid"
)

// ConflictResolver is the recovery specialist. It runs every cycle and
// handles three situations:
//
//   - head-on swaps, where two agents' next steps are each other's cells;
//     the lexically larger agent is rerouted around the other, or force
//     reset when no alternative route exists
//   - stuck agents, whose position has not changed for a window of ticks
//     despite a motion status; rerouting is tried a bounded number of
//     times, with a one-cell sidestep when replanning finds nothing, then
//     the task is failed and the command withdrawn
//   - failed tasks, which return to the pending pool immediately; the
//     allocator spaces out the retries, the failure cap abandons them for
//     good
type ConflictResolver struct {
	log    *log.Logger
	paths  *PathPlanner
	streak map[string]posStreak
	tries  map[string]int
}

type posStreak struct {
	pos   grid.Cell
	ticks int
}

func NewConflictResolver(logger *log.Logger, paths *PathPlanner) *ConflictResolver {
	return &ConflictResolver{
		log:    logger,
		paths:  paths,
		streak: map[string]posStreak{},
		tries:  map[string]int{},
	}
}

func (r *ConflictResolver) Name() string          { return "conflict-resolver" }
func (r *ConflictResolver) Priority() int         { return 60 }
func (r *ConflictResolver) AlwaysRun() bool       { return true }
func (r *ConflictResolver) Triggers() []EventType { return nil }

func (r *ConflictResolver) Precondition(kb *KnowledgeBase) bool { return true }

func (r *ConflictResolver) Execute(kb *KnowledgeBase, tick uint64) {
	agents := kb.Agents()
	r.trackStreaks(agents)
	r.resolveSwaps(kb, tick, agents)
	r.rescueStuck(kb, tick, agents)
	r.recycleFailed(kb, tick)
}

func (r *ConflictResolver) trackStreaks(agents []AgentState) {
	seen := map[string]bool{}
	for _, a := range agents {
		seen[a.ID] = true
		s := r.streak[a.ID]
		if s.pos == a.Pos && motionStatus(a.Status) {
			s.ticks++
		} else {
			s = posStreak{pos: a.Pos, ticks: 1}
			delete(r.tries, a.ID)
		}
		r.streak[a.ID] = s
	}
	for id := range r.streak {
		if !seen[id] {
			delete(r.streak, id)
			delete(r.tries, id)
		}
	}
}

// resolveSwaps finds pairs whose next path cells are each other's positions
// and reroutes the lexically larger member around the smaller one. When no
// route around exists the larger member is force reset instead, so the pair
// is broken within the tick that detected it.
func (r *ConflictResolver) resolveSwaps(kb *KnowledgeBase, tick uint64, agents []AgentState) {
	next := map[string]grid.Cell{}
	at := map[grid.Cell]string{}
	for _, a := range agents {
		at[a.Pos] = a.ID
		if n, ok := nextStep(a); ok {
			next[a.ID] = n
		}
	}
	for _, a := range agents {
		na, ok := next[a.ID]
		if !ok {
			continue
		}
		otherID, ok := at[na]
		if !ok || otherID <= a.ID {
			continue
		}
		nb, ok := next[otherID]
		if !ok || nb != a.Pos {
			continue
		}
		kb.EmitEvent(Event{
			Type:    EventConflictDetected,
			Source:  r.Name(),
			AgentID: otherID,
			Pos:     na,
			Detail:  "swap with " + a.ID,
		})
		if r.paths.RecalculateFor(kb, otherID) {
			r.log.Printf("[conflict] tick=%d swap %s<->%s, rerouted %s", tick, a.ID, otherID, otherID)
			continue
		}
		r.log.Printf("[conflict] tick=%d swap %s<->%s, no alternative for %s", tick, a.ID, otherID, otherID)
		if other, ok := kb.Agent(otherID); ok {
			r.forceReset(kb, tick, other, "swap deadlock")
		}
	}
}

func (r *ConflictResolver) rescueStuck(kb *KnowledgeBase, tick uint64, agents []AgentState) {
	tune := kb.Tuning()
	for _, a := range agents {
		if !motionStatus(a.Status) {
			continue
		}
		if r.streak[a.ID].ticks < tune.StuckWindow {
			continue
		}
		r.streak[a.ID] = posStreak{pos: a.Pos, ticks: 1}

		if r.tries[a.ID] < tune.RecoveryAttempts {
			r.tries[a.ID]++
			kb.EmitEvent(Event{
				Type:    EventConflictDetected,
				Source:  r.Name(),
				AgentID: a.ID,
				Pos:     a.Pos,
				Detail:  "stuck",
			})
			if r.paths.RecalculateFor(kb, a.ID) {
				r.log.Printf("[conflict] tick=%d agent=%s stuck, reroute attempt %d", tick, a.ID, r.tries[a.ID])
				continue
			}
			if r.sidestep(kb, a) {
				r.log.Printf("[conflict] tick=%d agent=%s stuck, nudged one cell toward target", tick, a.ID)
				continue
			}
			r.log.Printf("[conflict] tick=%d agent=%s stuck, reroute attempt %d found nothing", tick, a.ID, r.tries[a.ID])
			continue
		}
		r.forceReset(kb, tick, a, "recovery exhausted")
	}
}

// sidestep moves a stuck agent one axis-aligned cell toward its command
// target. The stale route is dropped with the move, on both the agent and
// the command, so the next replanning pass starts from the new cell.
func (r *ConflictResolver) sidestep(kb *KnowledgeBase, a AgentState) bool {
	cmd, ok := kb.CommandFor(a.ID)
	if !ok || cmd.Target == a.Pos {
		return false
	}
	occupied := kb.OccupiedCells(a.ID)
	for _, c := range axisSteps(a.Pos, cmd.Target) {
		if kb.Tile(c.X, c.Z) == grid.Impassable || occupied[c] {
			continue
		}
		kb.UpdateAgent(a.ID, AgentUpdate{
			Pos:       Ptr(c),
			Path:      Ptr([]grid.Cell{}),
			PathIndex: Ptr(0),
		})
		kb.UpdateCommandPath(a.ID, nil)
		if kb.Tile(c.X, c.Z) == grid.Field {
			kb.TraverseField(c)
		}
		return true
	}
	return false
}

// forceReset ends an agent's current job, either because recovery ran out
// of attempts or to break a swap pair. The task is failed so the recycle
// machinery can retry it with a different route or worker later.
func (r *ConflictResolver) forceReset(kb *KnowledgeBase, tick uint64, a AgentState, reason string) {
	delete(r.tries, a.ID)
	if cmd, ok := kb.CommandFor(a.ID); ok && cmd.TaskID != "" {
		if t, ok := kb.Task(cmd.TaskID); ok && t.Live() {
			kb.UpdateTask(t.ID, TaskUpdate{
				Status:          Ptr(TaskFailed),
				AssignedAgentID: Ptr(""),
				FailureCount:    Ptr(t.FailureCount + 1),
				LastFailureTick: Ptr(tick),
			})
		}
	}
	kb.ClearCommand(a.ID)
	kb.UpdateAgent(a.ID, AgentUpdate{
		Status:        Ptr(StatusIdle),
		CurrentTaskID: Ptr(""),
		Path:          Ptr([]grid.Cell{}),
		PathIndex:     Ptr(0),
	})
	r.log.Printf("[conflict] tick=%d agent=%s %s, task abandoned", tick, a.ID, reason)
}

// recycleFailed returns failed tasks to the pending pool right away, where
// the mission controller still counts them as work owed; the allocator
// holds reassignment until their cooldown elapses. Tasks at the failure cap
// stay failed permanently.
func (r *ConflictResolver) recycleFailed(kb *KnowledgeBase, tick uint64) {
	tune := kb.Tuning()
	for _, t := range kb.TasksByStatus(TaskFailed) {
		if t.FailureCount >= tune.TaskFailureCap {
			continue
		}
		kb.UpdateTask(t.ID, TaskUpdate{
			Status:          Ptr(TaskPending),
			AssignedAgentID: Ptr(""),
		})
		r.log.Printf("[conflict] tick=%d task=%s recycled (failures=%d)", tick, t.ID, t.FailureCount)
	}
}

// axisSteps lists candidate single-cell moves toward a target, x axis
// first.
func axisSteps(from, to grid.Cell) []grid.Cell {
	var out []grid.Cell
	if to.X > from.X {
		out = append(out, grid.Cell{X: from.X + 1, Z: from.Z})
	} else if to.X < from.X {
		out = append(out, grid.Cell{X: from.X - 1, Z: from.Z})
	}
	if to.Z > from.Z {
		out = append(out, grid.Cell{X: from.X, Z: from.Z + 1})
	} else if to.Z < from.Z {
		out = append(out, grid.Cell{X: from.X, Z: from.Z - 1})
	}
	return out
}

func nextStep(a AgentState) (grid.Cell, bool) {
	if a.PathIndex < 0 || a.PathIndex >= len(a.Path) {
		return grid.Cell{}, false
	}
	return a.Path[a.PathIndex], true
}

func motionStatus(s AgentStatus) bool {
	switch s {
	case StatusMoving, StatusExecutingTask, StatusWaiting, StatusReturningToDepot, StatusScouting, StatusAssigned:
		return true
	}
	return false
}
