package blackboard

import (
	"log"

	"cropguard.ai/internal/sim/path"
)

// PathPlanner computes routes for outstanding task commands that do not
// carry one yet. Routes are weighted-Dijkstra over the live terrain, so a
// corridor that workers keep trampling gets progressively more expensive
// and traffic spreads out on its own.
//
// A command that already has a path is never replanned here; only the
// conflict resolver forces recalculation.
type PathPlanner struct {
	log     *log.Logger
	planner *path.Planner
}

func NewPathPlanner(logger *log.Logger, kb *KnowledgeBase) *PathPlanner {
	return &PathPlanner{log: logger, planner: path.New(kb, true)}
}

func (p *PathPlanner) Name() string          { return "path-planner" }
func (p *PathPlanner) Priority() int         { return 50 }
func (p *PathPlanner) AlwaysRun() bool       { return true }
func (p *PathPlanner) Triggers() []EventType { return nil }

func (p *PathPlanner) Precondition(kb *KnowledgeBase) bool {
	return len(p.pathless(kb)) > 0
}

func (p *PathPlanner) Execute(kb *KnowledgeBase, tick uint64) {
	for _, agent := range p.pathless(kb) {
		cmd, _ := kb.CommandFor(agent.ID)
		route := p.planner.Find(agent.Pos, cmd.Target)
		if route == nil {
			p.log.Printf("[pathing] tick=%d agent=%s no route to (%d,%d)",
				tick, agent.ID, cmd.Target.X, cmd.Target.Z)
			continue
		}
		route = p.planner.OptimizeTail(agent.Pos, route)
		kb.UpdateCommandPath(agent.ID, route)
		kb.UpdateAgent(agent.ID, AgentUpdate{
			Path:      Ptr(route),
			PathIndex: Ptr(0),
		})
		kb.EmitEvent(Event{
			Type:    EventPathCalculated,
			Source:  p.Name(),
			AgentID: agent.ID,
			TaskID:  cmd.TaskID,
			Pos:     cmd.Target,
			PathLen: len(route),
		})
		p.log.Printf("[pathing] tick=%d agent=%s route to (%d,%d) len=%d",
			tick, agent.ID, cmd.Target.X, cmd.Target.Z, len(route))
	}
}

// RecalculateFor replans one agent's route while treating every other
// agent's cell as blocked. Used by deadlock recovery. Returns false when no
// alternative route exists.
func (p *PathPlanner) RecalculateFor(kb *KnowledgeBase, agentID string) bool {
	agent, ok := kb.Agent(agentID)
	if !ok {
		return false
	}
	cmd, ok := kb.CommandFor(agentID)
	if !ok {
		return false
	}
	target := cmd.Target
	if target == agent.Pos {
		return false
	}
	blocked := kb.OccupiedCells(agentID)
	route := p.planner.FindAvoiding(agent.Pos, target, blocked)
	if route == nil {
		return false
	}
	kb.UpdateCommandPath(agentID, route)
	kb.UpdateAgent(agentID, AgentUpdate{
		Path:      Ptr(route),
		PathIndex: Ptr(0),
	})
	kb.EmitEvent(Event{
		Type:    EventPathCalculated,
		Source:  p.Name(),
		AgentID: agentID,
		TaskID:  cmd.TaskID,
		Pos:     target,
		PathLen: len(route),
		Detail:  "recovery",
	})
	return true
}

// pathless lists agents holding a task command with no route attached.
func (p *PathPlanner) pathless(kb *KnowledgeBase) []AgentState {
	var out []AgentState
	for _, agent := range kb.Agents() {
		cmd, ok := kb.CommandFor(agent.ID)
		if !ok || cmd.Action != ActionExecuteTask || len(cmd.Path) > 0 {
			continue
		}
		if agent.Pos == cmd.Target {
			continue
		}
		out = append(out, agent)
	}
	return out
}
