package agent

import (
	"log"

	"cropguard.ai/internal/sim/blackboard"
	"cropguard.ai/internal/sim/grid"
)

// Worker is a ground vehicle that treats infested fields. It owns no state
// beyond its id; every perceive and report goes through the knowledge base,
// and it acts only on the command in its mailbox.
type Worker struct {
	id  string
	kb  *blackboard.KnowledgeBase
	log *log.Logger
}

func NewWorker(id string, kb *blackboard.KnowledgeBase, logger *log.Logger) *Worker {
	return &Worker{id: id, kb: kb, log: logger}
}

func (w *Worker) ID() string { return w.id }

func (w *Worker) Step(tick uint64) {
	a, ok := w.kb.Agent(w.id)
	if !ok || !a.Active {
		return
	}
	cmd, ok := w.kb.CommandFor(w.id)
	if !ok {
		if a.Status != blackboard.StatusIdle {
			w.kb.UpdateAgent(w.id, blackboard.AgentUpdate{Status: blackboard.Ptr(blackboard.StatusIdle)})
		}
		return
	}
	switch cmd.Action {
	case blackboard.ActionExecuteTask:
		w.executeTask(tick, a, cmd)
	case blackboard.ActionReturnToDepot:
		w.returnToDepot(tick, a, cmd)
	case blackboard.ActionMove:
		w.followPath(a, blackboard.StatusMoving)
	}
}

func (w *Worker) executeTask(tick uint64, a blackboard.AgentState, cmd blackboard.Command) {
	if a.Pos == cmd.Target {
		w.treat(tick, a, cmd)
		return
	}
	if len(a.Path) == 0 {
		// Route not computed yet; hold position until the planners catch up.
		return
	}
	if t, ok := w.kb.Task(cmd.TaskID); ok && t.Status == blackboard.TaskAssigned {
		w.kb.UpdateTask(cmd.TaskID, blackboard.TaskUpdate{Status: blackboard.Ptr(blackboard.TaskInProgress)})
	}
	w.followPath(a, blackboard.StatusExecutingTask)
}

// treat applies pesticide at the task cell. Treatment is all-or-nothing; a
// worker that cannot cover the full dose reports low reserve and waits for
// the resource manager to recall it.
func (w *Worker) treat(tick uint64, a blackboard.AgentState, cmd blackboard.Command) {
	level := w.kb.Infestation(a.Pos.X, a.Pos.Z)
	if level > a.ResourceLevel {
		w.kb.UpdateAgent(w.id, blackboard.AgentUpdate{Status: blackboard.Ptr(blackboard.StatusWaiting)})
		w.kb.EmitEvent(blackboard.Event{
			Type:    blackboard.EventAgentLowResource,
			Source:  w.id,
			AgentID: w.id,
			Pos:     a.Pos,
			Level:   a.ResourceLevel,
		})
		return
	}

	remaining := a.ResourceLevel - level
	w.kb.SetInfestation(a.Pos.X, a.Pos.Z, 0)
	w.kb.UpdateAgent(w.id, blackboard.AgentUpdate{
		Status:         blackboard.Ptr(blackboard.StatusIdle),
		ResourceLevel:  blackboard.Ptr(remaining),
		CurrentTaskID:  blackboard.Ptr(""),
		Path:           blackboard.Ptr([]grid.Cell{}),
		PathIndex:      blackboard.Ptr(0),
		TasksCompleted: blackboard.Ptr(a.TasksCompleted + 1),
		FieldsTreated:  blackboard.Ptr(a.FieldsTreated + 1),
	})
	if cmd.TaskID != "" {
		w.kb.UpdateTask(cmd.TaskID, blackboard.TaskUpdate{
			Status:        blackboard.Ptr(blackboard.TaskCompleted),
			CompletedTick: blackboard.Ptr(tick),
		})
	}
	w.kb.ClearCommand(w.id)
	w.log.Printf("[agent:%s] tick=%d treated (%d,%d) dose=%d reserve=%d", w.id, tick, a.Pos.X, a.Pos.Z, level, remaining)

	if remaining <= w.kb.Tuning().LowResource {
		w.kb.EmitEvent(blackboard.Event{
			Type:    blackboard.EventAgentLowResource,
			Source:  w.id,
			AgentID: w.id,
			Pos:     a.Pos,
			Level:   remaining,
		})
	}
}

// followPath advances one cell along the attached route. A cell held by
// another agent makes the worker wait in place; persistent waits are the
// conflict resolver's problem.
func (w *Worker) followPath(a blackboard.AgentState, moving blackboard.AgentStatus) {
	if a.PathIndex >= len(a.Path) {
		return
	}
	next := a.Path[a.PathIndex]
	if w.kb.OccupiedCells(w.id)[next] {
		if a.Status != blackboard.StatusWaiting {
			w.kb.UpdateAgent(w.id, blackboard.AgentUpdate{Status: blackboard.Ptr(blackboard.StatusWaiting)})
		}
		return
	}
	w.kb.UpdateAgent(w.id, blackboard.AgentUpdate{
		Pos:       blackboard.Ptr(next),
		PathIndex: blackboard.Ptr(a.PathIndex + 1),
		Status:    blackboard.Ptr(moving),
	})
	if w.kb.Tile(next.X, next.Z) == grid.Field {
		w.kb.TraverseField(next)
	}
}

// returnToDepot walks greedily toward the depot, x axis first, sidestepping
// to the other axis when the preferred cell is impassable or taken. Arrival
// spends one tick refilling, then the worker reports idle with a full tank.
func (w *Worker) returnToDepot(tick uint64, a blackboard.AgentState, cmd blackboard.Command) {
	if a.Pos == cmd.Target {
		if a.Status != blackboard.StatusRefilling {
			w.kb.UpdateAgent(w.id, blackboard.AgentUpdate{Status: blackboard.Ptr(blackboard.StatusRefilling)})
			return
		}
		w.kb.UpdateAgent(w.id, blackboard.AgentUpdate{
			Status:        blackboard.Ptr(blackboard.StatusIdle),
			ResourceLevel: blackboard.Ptr(a.ResourceCapacity),
		})
		w.kb.ClearCommand(w.id)
		w.kb.EmitEvent(blackboard.Event{
			Type:    blackboard.EventAgentRefilled,
			Source:  w.id,
			AgentID: w.id,
			Pos:     a.Pos,
			Level:   a.ResourceCapacity,
		})
		w.log.Printf("[agent:%s] tick=%d refilled at depot (%d,%d)", w.id, tick, a.Pos.X, a.Pos.Z)
		return
	}

	// Recovery may have attached an explicit route; prefer it over greedy
	// stepping.
	if a.PathIndex < len(a.Path) {
		w.followPath(a, blackboard.StatusReturningToDepot)
		return
	}

	occupied := w.kb.OccupiedCells(w.id)
	for _, next := range greedySteps(a.Pos, cmd.Target) {
		if !w.passable(next) || occupied[next] {
			continue
		}
		w.kb.UpdateAgent(w.id, blackboard.AgentUpdate{
			Pos:    blackboard.Ptr(next),
			Status: blackboard.Ptr(blackboard.StatusReturningToDepot),
		})
		if w.kb.Tile(next.X, next.Z) == grid.Field {
			w.kb.TraverseField(next)
		}
		return
	}
	if a.Status != blackboard.StatusWaiting {
		w.kb.UpdateAgent(w.id, blackboard.AgentUpdate{Status: blackboard.Ptr(blackboard.StatusWaiting)})
	}
}

func (w *Worker) passable(c grid.Cell) bool {
	return w.kb.Tile(c.X, c.Z) != grid.Impassable
}

// greedySteps lists candidate single-cell moves toward goal, preferred axis
// first.
func greedySteps(from, goal grid.Cell) []grid.Cell {
	var out []grid.Cell
	if goal.X > from.X {
		out = append(out, grid.Cell{X: from.X + 1, Z: from.Z})
	} else if goal.X < from.X {
		out = append(out, grid.Cell{X: from.X - 1, Z: from.Z})
	}
	if goal.Z > from.Z {
		out = append(out, grid.Cell{X: from.X, Z: from.Z + 1})
	} else if goal.Z < from.Z {
		out = append(out, grid.Cell{X: from.X, Z: from.Z - 1})
	}
	return out
}
