package blackboard

import "log"

// TaskPlanner turns field discoveries into treatment tasks. It keeps its own
// event cursor so each discovery is considered exactly once, and skips cells
// already covered by a live task.
type TaskPlanner struct {
	log    *log.Logger
	cursor uint64
}

func NewTaskPlanner(logger *log.Logger) *TaskPlanner {
	return &TaskPlanner{log: logger}
}

// Always considered: a discovery backlog larger than one window is worked
// off across cycles, so activation cannot rely on fresh trigger events.
func (p *TaskPlanner) Name() string          { return "task-planner" }
func (p *TaskPlanner) Priority() int         { return 20 }
func (p *TaskPlanner) AlwaysRun() bool       { return true }
func (p *TaskPlanner) Triggers() []EventType { return []EventType{EventFieldDiscovered} }

func (p *TaskPlanner) Precondition(kb *KnowledgeBase) bool {
	for _, ev := range kb.EventsSince(p.cursor, 0) {
		if ev.Type == EventFieldDiscovered {
			return true
		}
	}
	return false
}

func (p *TaskPlanner) Execute(kb *KnowledgeBase, tick uint64) {
	tune := kb.Tuning()
	events := kb.EventsSince(p.cursor, 0)

	// Batch at most a window's worth of discoveries per run, oldest first.
	// The cursor stops at the last event actually consumed so a seed flood
	// is worked off across cycles instead of dropped.
	discoveries := events[:0:0]
	for _, ev := range events {
		if ev.Type == EventFieldDiscovered {
			if w := tune.DiscoveryWindow; w > 0 && len(discoveries) == w {
				break
			}
			discoveries = append(discoveries, ev)
		}
		p.cursor = ev.Seq
	}

	created := 0
	for _, ev := range discoveries {
		level := kb.Infestation(ev.Pos.X, ev.Pos.Z)
		if level < tune.MinTaskInfestation {
			continue
		}
		if kb.LiveTaskAt(ev.Pos) {
			continue
		}
		id, ok := kb.CreateTask(TaskState{
			Pos:              ev.Pos,
			InfestationLevel: level,
			Priority:         kb.PriorityFor(level),
		})
		if !ok {
			continue
		}
		created++
		p.log.Printf("[planner] tick=%d task=%s pos=(%d,%d) level=%d priority=%s",
			tick, id, ev.Pos.X, ev.Pos.Z, level, kb.PriorityFor(level))
	}
	if created > 0 {
		p.log.Printf("[planner] tick=%d created %d task(s) from %d discovery(ies)", tick, created, len(discoveries))
	}
}
