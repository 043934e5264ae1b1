package blackboard

import (
	"log"

	"cropguard.ai/internal/sim/grid"
)

// TaskAllocator matches pending tasks to idle workers. It runs every cycle
// so tasks planned earlier in the same tick are assignable immediately.
//
// Workers bid with estimated travel distance scaled by the task priority
// weight. A worker whose reserve cannot cover the projected pesticide need
// is no candidate at all; a task nobody can afford stays pending until the
// resource manager has sent somebody to refill. Lowest bid wins; ties fall
// to the lexically smaller agent id.
type TaskAllocator struct {
	log *log.Logger
}

func NewTaskAllocator(logger *log.Logger) *TaskAllocator {
	return &TaskAllocator{log: logger}
}

func (a *TaskAllocator) Name() string          { return "task-allocator" }
func (a *TaskAllocator) Priority() int         { return 30 }
func (a *TaskAllocator) AlwaysRun() bool       { return true }
func (a *TaskAllocator) Triggers() []EventType { return nil }

func (a *TaskAllocator) Precondition(kb *KnowledgeBase) bool {
	return len(kb.PendingTasks()) > 0 && len(kb.IdleAgents(RoleWorker)) > 0
}

func (a *TaskAllocator) Execute(kb *KnowledgeBase, tick uint64) {
	tune := kb.Tuning()
	pending := a.assignable(kb, tick)
	if w := tune.AssignmentWindow; w > 0 && len(pending) > w {
		pending = pending[:w]
	}
	idle := kb.IdleAgents(RoleWorker)

	// Repeatedly take the globally cheapest feasible (agent, task) pair and
	// remove both from their pools.
	taskTaken := map[string]bool{}
	agentTaken := map[string]bool{}
	for pairs := 0; pairs < len(pending) && pairs < len(idle); pairs++ {
		bestAgent, bestTask := "", ""
		var bestPos grid.Cell
		bestScore := 0.0
		for _, task := range pending {
			if taskTaken[task.ID] {
				continue
			}
			for _, agent := range idle {
				if agentTaken[agent.ID] {
					continue
				}
				score, feasible := a.bid(kb, agent, task)
				if !feasible {
					continue
				}
				better := bestAgent == "" || score < bestScore ||
					(score == bestScore && (task.ID < bestTask || (task.ID == bestTask && agent.ID < bestAgent)))
				if better {
					bestAgent, bestTask, bestPos, bestScore = agent.ID, task.ID, task.Pos, score
				}
			}
		}
		if bestAgent == "" {
			return
		}
		taskTaken[bestTask] = true
		agentTaken[bestAgent] = true

		kb.UpdateTask(bestTask, TaskUpdate{
			Status:          Ptr(TaskAssigned),
			AssignedAgentID: Ptr(bestAgent),
			AssignedTick:    Ptr(tick),
		})
		kb.UpdateAgent(bestAgent, AgentUpdate{
			Status:        Ptr(StatusAssigned),
			CurrentTaskID: Ptr(bestTask),
		})
		kb.SetCommand(bestAgent, Command{
			Action: ActionExecuteTask,
			TaskID: bestTask,
			Target: bestPos,
		})
		a.log.Printf("[allocator] tick=%d task=%s -> agent=%s score=%.1f", tick, bestTask, bestAgent, bestScore)
	}
}

// assignable filters the pending pool down to tasks whose failure cooldown
// has elapsed. Failed tasks come back as pending right away; this filter is
// what actually spaces the retries out.
func (a *TaskAllocator) assignable(kb *KnowledgeBase, tick uint64) []TaskState {
	tune := kb.Tuning()
	var out []TaskState
	for _, t := range kb.PendingTasks() {
		if t.FailureCount > 0 {
			cooldown := tune.RetryCooldownTicks
			if t.FailureCount >= tune.LongCooldownAfter {
				cooldown = tune.LongCooldownTicks
			}
			if tick < t.LastFailureTick+cooldown {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

// bid scores one worker for one task: estimated travel cost scaled by the
// priority weight, plus a penalty when the worker's pesticide reserve has
// little headroom over the job. A reserve below the estimate disqualifies
// the pair outright. Exact routing happens later in the path planner, the
// allocator only needs relative cost.
func (a *TaskAllocator) bid(kb *KnowledgeBase, agent AgentState, task TaskState) (float64, bool) {
	tune := kb.Tuning()
	need := a.estimatePesticide(kb, agent.Pos, task.Pos)
	if float64(agent.ResourceLevel) < need {
		return 0, false
	}
	score := a.estimatePathCost(kb, agent.Pos, task.Pos) * task.Priority.AllocationWeight()
	if float64(agent.ResourceLevel) < need*tune.MarginalFactor {
		score += tune.MarginalPenalty
	}
	return score, true
}

// estimatePathCost sums per-cell terrain cost along the straight segment, a
// cheap stand-in for true path cost: roads and depots count 1, fields count
// 10 plus their accumulated dynamic weight.
func (a *TaskAllocator) estimatePathCost(kb *KnowledgeBase, from, to grid.Cell) float64 {
	steps := from.Manhattan(to)
	if steps == 0 {
		return 0
	}
	cost := 0.0
	for i := 1; i <= steps; i++ {
		x := from.X + (to.X-from.X)*i/steps
		z := from.Z + (to.Z-from.Z)*i/steps
		c := grid.Cell{X: x, Z: z}
		if kb.Tile(x, z) == grid.Field {
			cost += 10 + kb.Weight(c)
		} else {
			cost++
		}
	}
	return cost
}

// estimatePesticide projects consumption for a job: the destination's
// infestation plus infested field cells sampled along the straight segment,
// with a safety margin on top. Sampling every couple of cells keeps the
// estimate cheap on long hauls.
func (a *TaskAllocator) estimatePesticide(kb *KnowledgeBase, from, to grid.Cell) float64 {
	tune := kb.Tuning()
	need := kb.Infestation(to.X, to.Z)

	dist := from.Manhattan(to)
	steps := dist / 2
	for i := 1; i < steps; i++ {
		x := from.X + (to.X-from.X)*i/steps
		z := from.Z + (to.Z-from.Z)*i/steps
		c := grid.Cell{X: x, Z: z}
		if c == to {
			continue
		}
		if kb.Tile(x, z) != grid.Field {
			continue
		}
		if lvl := kb.Infestation(x, z); lvl >= tune.MinTakeLevel {
			need += lvl
		}
	}
	return float64(need) * tune.ResourceMargin
}
