package blackboard

import (
	"log"
	"sort"

	"cropguard.ai/internal/sim/grid"
	"cropguard.ai/internal/sim/tuning"
)

// Snapshot is a complete, serializable image of the knowledge base. Slices
// are sorted so two snapshots of the same state compare byte-equal after
// encoding.
type Snapshot struct {
	WorldID  string `json:"world_id"`
	Tick     uint64 `json:"tick"`
	EventSeq uint64 `json:"event_seq"`

	Width   int               `json:"width"`
	Height  int               `json:"height"`
	Terrain [][]grid.TileType `json:"terrain"`
	Crops   [][]grid.CropType `json:"crops"`

	Infestation [][]int       `json:"infestation"`
	Weights     []WeightEntry `json:"weights,omitempty"`

	Agents []AgentState `json:"agents"`
	Tasks  []TaskState  `json:"tasks"`

	ExplorationComplete bool `json:"exploration_complete"`
	MissionComplete     bool `json:"mission_complete"`
}

type WeightEntry struct {
	X      int     `json:"x"`
	Z      int     `json:"z"`
	Weight float64 `json:"weight"`
}

// Snapshot captures the full state under one read lock.
func (kb *KnowledgeBase) Snapshot() Snapshot {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	w := kb.world

	terrain := make([][]grid.TileType, w.Height)
	crops := make([][]grid.CropType, w.Height)
	for z := 0; z < w.Height; z++ {
		terrain[z] = make([]grid.TileType, w.Width)
		crops[z] = make([]grid.CropType, w.Width)
		for x := 0; x < w.Width; x++ {
			terrain[z][x] = w.Tile(x, z)
			crops[z][x] = w.Crop(x, z)
		}
	}

	var weights []WeightEntry
	for c, wt := range w.Weights() {
		weights = append(weights, WeightEntry{X: c.X, Z: c.Z, Weight: wt})
	}
	sort.Slice(weights, func(i, j int) bool {
		if weights[i].Z != weights[j].Z {
			return weights[i].Z < weights[j].Z
		}
		return weights[i].X < weights[j].X
	})

	agents := make([]AgentState, 0, len(kb.agents))
	for _, a := range kb.agents {
		agents = append(agents, copyAgent(a))
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	tasks := make([]TaskState, 0, len(kb.tasks))
	for _, t := range kb.tasks {
		tasks = append(tasks, *t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	return Snapshot{
		WorldID:             w.ID,
		Tick:                kb.tick,
		EventSeq:            kb.seq,
		Width:               w.Width,
		Height:              w.Height,
		Terrain:             terrain,
		Crops:               crops,
		Infestation:         w.InfestationSnapshot(),
		Weights:             weights,
		Agents:              agents,
		Tasks:               tasks,
		ExplorationComplete: kb.explorationComplete,
		MissionComplete:     kb.missionComplete,
	}
}

// RestoreKnowledgeBase rebuilds a knowledge base from a snapshot. The event
// log is not replayed; only its sequence counter survives so new events
// continue the numbering.
func RestoreKnowledgeBase(snap Snapshot, tune tuning.Tuning, logger *log.Logger) *KnowledgeBase {
	w := grid.New(snap.WorldID, snap.Width, snap.Height, tune.FieldWeightCap)
	for z := 0; z < snap.Height; z++ {
		for x := 0; x < snap.Width; x++ {
			w.SetTile(x, z, snap.Terrain[z][x])
			w.Crops[z][x] = snap.Crops[z][x]
			w.SetInfestation(x, z, snap.Infestation[z][x])
		}
	}
	w.RecomputeDepots()
	for _, we := range snap.Weights {
		w.SetWeight(grid.Cell{X: we.X, Z: we.Z}, we.Weight)
	}

	kb := NewKnowledgeBase(w, tune, logger)
	kb.tick = snap.Tick
	kb.seq = snap.EventSeq
	kb.explorationComplete = snap.ExplorationComplete
	kb.missionComplete = snap.MissionComplete
	for _, a := range snap.Agents {
		cp := a
		cp.Path = append([]grid.Cell(nil), a.Path...)
		kb.agents[a.ID] = &cp
	}
	for _, t := range snap.Tasks {
		cp := t
		kb.tasks[t.ID] = &cp
	}
	return kb
}

// Statistics summarizes mission progress for logging and the final report.
type Statistics struct {
	Tick           uint64 `json:"tick"`
	TasksCreated   int    `json:"tasks_created"`
	TasksCompleted int    `json:"tasks_completed"`
	TasksFailed    int    `json:"tasks_failed"`
	TasksPending   int    `json:"tasks_pending"`
	TasksLive      int    `json:"tasks_live"`
	FieldsTreated  int    `json:"fields_treated"`
	FieldsAnalyzed int    `json:"fields_analyzed"`
	ActiveAgents   int    `json:"active_agents"`
}

func (kb *KnowledgeBase) Statistics() Statistics {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	st := Statistics{Tick: kb.tick, TasksCreated: len(kb.tasks)}
	for _, t := range kb.tasks {
		switch t.Status {
		case TaskCompleted:
			st.TasksCompleted++
		case TaskFailed:
			st.TasksFailed++
		case TaskPending:
			st.TasksPending++
		}
		if t.Live() {
			st.TasksLive++
		}
	}
	for _, a := range kb.agents {
		if a.Active {
			st.ActiveAgents++
		}
		st.FieldsTreated += a.FieldsTreated
		st.FieldsAnalyzed += a.FieldsAnalyzed
	}
	return st
}
