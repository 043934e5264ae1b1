package blackboard

import (
	"log"

	"cropguard.ai/internal/sim/grid"
)

// ResourceManager watches worker pesticide reserves every cycle and applies
// three rules, most severe first: a critically empty worker is ordered
// straight home, a worker whose held task needs more than it has left gives
// the task back and goes home, and an idle worker under the low mark tops
// up while nothing wants it. A released task goes back to the pending pool;
// running out of pesticide is not the task's fault.
type ResourceManager struct {
	log *log.Logger
}

func NewResourceManager(logger *log.Logger) *ResourceManager {
	return &ResourceManager{log: logger}
}

func (m *ResourceManager) Name() string          { return "resource-manager" }
func (m *ResourceManager) Priority() int         { return 40 }
func (m *ResourceManager) AlwaysRun() bool       { return true }
func (m *ResourceManager) Triggers() []EventType { return nil }

func (m *ResourceManager) Precondition(kb *KnowledgeBase) bool {
	return len(kb.AgentsByRole(RoleWorker)) > 0
}

func (m *ResourceManager) Execute(kb *KnowledgeBase, tick uint64) {
	tune := kb.Tuning()
	for _, agent := range kb.AgentsByRole(RoleWorker) {
		if agent.Status == StatusReturningToDepot || agent.Status == StatusRefilling {
			continue
		}
		switch {
		case agent.ResourceLevel <= tune.CriticalResource:
			m.recall(kb, tick, agent, true, "critical reserve")
		case m.taskExceedsReserve(kb, agent):
			m.recall(kb, tick, agent, true, "task exceeds reserve")
		case agent.ResourceLevel <= tune.LowResource && agent.Status == StatusIdle:
			m.recall(kb, tick, agent, false, "low reserve")
		}
	}
}

// taskExceedsReserve re-checks a held task's dose against what is actually
// left in the tank. Treatment is all-or-nothing, so chasing an unaffordable
// task only wastes the trip.
func (m *ResourceManager) taskExceedsReserve(kb *KnowledgeBase, agent AgentState) bool {
	if agent.CurrentTaskID == "" {
		return false
	}
	t, ok := kb.Task(agent.CurrentTaskID)
	if !ok || !t.Live() {
		return false
	}
	return kb.Infestation(t.Pos.X, t.Pos.Z) > agent.ResourceLevel
}

// recall sends one worker to the nearest depot, releasing any held task
// first.
func (m *ResourceManager) recall(kb *KnowledgeBase, tick uint64, agent AgentState, urgent bool, reason string) {
	if taskID := agent.CurrentTaskID; taskID != "" {
		kb.UpdateTask(taskID, TaskUpdate{
			Status:          Ptr(TaskPending),
			AssignedAgentID: Ptr(""),
		})
		kb.UpdateAgent(agent.ID, AgentUpdate{
			CurrentTaskID: Ptr(""),
			Path:          Ptr([]grid.Cell{}),
			PathIndex:     Ptr(0),
		})
		m.log.Printf("[resources] tick=%d agent=%s released task=%s (%s, reserve=%d)",
			tick, agent.ID, taskID, reason, agent.ResourceLevel)
	}
	depot, ok := kb.NearestDepot(agent.Pos)
	if !ok {
		m.log.Printf("[resources] tick=%d agent=%s needs refill but no depot on map", tick, agent.ID)
		return
	}
	kb.SetCommand(agent.ID, Command{
		Action: ActionReturnToDepot,
		Target: depot,
		Urgent: urgent,
	})
	kb.UpdateAgent(agent.ID, AgentUpdate{Status: Ptr(StatusReturningToDepot)})
	kb.EmitEvent(Event{
		Type:    EventAgentLowResource,
		Source:  m.Name(),
		AgentID: agent.ID,
		Pos:     agent.Pos,
		Level:   agent.ResourceLevel,
		Detail:  reason,
	})
	m.log.Printf("[resources] tick=%d agent=%s -> depot (%d,%d) %s urgent=%v",
		tick, agent.ID, depot.X, depot.Z, reason, urgent)
}
