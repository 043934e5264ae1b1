package blackboard

import (
	"log"

	"cropguard.ai/internal/sim/grid"
)

// MissionController owns the end-of-mission sequence. Once exploration has
// finished and no live tasks remain it sends every idle agent still in the
// field back to a depot, and declares the mission complete when all of them
// sit idle on depot cells.
//
// It runs before every other source so completion is decided on the state
// the previous tick settled into.
type MissionController struct {
	log *log.Logger
}

func NewMissionController(logger *log.Logger) *MissionController {
	return &MissionController{log: logger}
}

func (m *MissionController) Name() string          { return "mission-controller" }
func (m *MissionController) Priority() int         { return 10 }
func (m *MissionController) AlwaysRun() bool       { return true }
func (m *MissionController) Triggers() []EventType { return nil }

func (m *MissionController) Precondition(kb *KnowledgeBase) bool {
	return !kb.MissionComplete()
}

func (m *MissionController) Execute(kb *KnowledgeBase, tick uint64) {
	// Seeded discoveries land on tick 1; give the planner a cycle before
	// judging the board empty.
	if tick < 2 {
		return
	}
	if !m.explorationDone(kb) || kb.LiveTasks() {
		return
	}

	allHome := true
	for _, a := range kb.Agents() {
		if a.Status == StatusIdle && m.atDepot(kb, a.Pos) {
			continue
		}
		allHome = false
		if a.Status != StatusIdle {
			continue
		}
		if _, pending := kb.CommandFor(a.ID); pending {
			continue
		}
		depot, ok := kb.NearestDepot(a.Pos)
		if !ok {
			continue
		}
		kb.SetCommand(a.ID, Command{Action: ActionReturnToDepot, Target: depot})
		kb.UpdateAgent(a.ID, AgentUpdate{Status: Ptr(StatusReturningToDepot)})
		m.log.Printf("[mission] tick=%d agent=%s sent home to (%d,%d)", tick, a.ID, depot.X, depot.Z)
	}
	if !allHome {
		return
	}

	kb.SetMissionComplete()
	st := kb.Statistics()
	m.log.Printf("[mission] tick=%d complete: tasks=%d completed=%d failed=%d treated=%d analyzed=%d",
		tick, st.TasksCreated, st.TasksCompleted, st.TasksFailed, st.FieldsTreated, st.FieldsAnalyzed)
}

// explorationDone treats a mission without scouts as pre-explored.
func (m *MissionController) explorationDone(kb *KnowledgeBase) bool {
	if kb.ExplorationComplete() {
		return true
	}
	return len(kb.AgentsByRole(RoleScout)) == 0
}

func (m *MissionController) atDepot(kb *KnowledgeBase, pos grid.Cell) bool {
	return kb.Tile(pos.X, pos.Z) == grid.Depot
}
