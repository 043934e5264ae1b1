package blackboard

import (
	"io"
	"log"
	"testing"

	"cropguard.ai/internal/sim/grid"
	"cropguard.ai/internal/sim/tuning"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// testWorld builds a 7x7 map: a road across z=3 with a depot at its west
// end, fields everywhere else.
func testWorld(tune tuning.Tuning) *grid.World {
	w := grid.New("test", 7, 7, tune.FieldWeightCap)
	for z := 0; z < 7; z++ {
		for x := 0; x < 7; x++ {
			w.SetTile(x, z, grid.Field)
		}
	}
	for x := 0; x < 7; x++ {
		w.SetTile(x, 3, grid.Road)
	}
	w.SetTile(0, 3, grid.Depot)
	w.RecomputeDepots()
	return w
}

func newTestKB(t *testing.T) *KnowledgeBase {
	t.Helper()
	tune := tuning.Defaults()
	return NewKnowledgeBase(testWorld(tune), tune, testLogger())
}

func TestEventLogSequenceAndBound(t *testing.T) {
	tune := tuning.Defaults()
	tune.EventBufferSize = 5
	kb := NewKnowledgeBase(testWorld(tune), tune, testLogger())

	for i := 0; i < 8; i++ {
		kb.EmitEvent(Event{Type: EventAgentMoved, Source: "a"})
	}
	evs := kb.EventsSince(0, 0)
	if len(evs) != 5 {
		t.Fatalf("expected ring capped at 5, got %d", len(evs))
	}
	if evs[0].Seq != 4 || evs[4].Seq != 8 {
		t.Fatalf("expected seqs 4..8, got %d..%d", evs[0].Seq, evs[4].Seq)
	}
	since := kb.EventsSince(6, 0)
	if len(since) != 2 {
		t.Fatalf("expected 2 events after cursor 6, got %d", len(since))
	}
}

func TestCreateTaskRejectsDuplicatePosition(t *testing.T) {
	kb := newTestKB(t)
	pos := grid.Cell{X: 2, Z: 1}
	id, ok := kb.CreateTask(TaskState{Pos: pos, InfestationLevel: 50, Priority: PriorityHigh})
	if !ok || id == "" {
		t.Fatalf("first task refused")
	}
	if _, ok := kb.CreateTask(TaskState{Pos: pos, InfestationLevel: 60}); ok {
		t.Fatalf("duplicate live task accepted at %v", pos)
	}
	kb.UpdateTask(id, TaskUpdate{Status: Ptr(TaskCompleted)})
	if _, ok := kb.CreateTask(TaskState{Pos: pos, InfestationLevel: 60}); !ok {
		t.Fatalf("new task refused after previous one completed")
	}
}

func TestPendingTaskOrdering(t *testing.T) {
	kb := newTestKB(t)
	kb.SetTick(1)
	kb.CreateTask(TaskState{ID: "t-low", Pos: grid.Cell{X: 1, Z: 1}, InfestationLevel: 10, Priority: PriorityLow})
	kb.CreateTask(TaskState{ID: "t-crit", Pos: grid.Cell{X: 2, Z: 1}, InfestationLevel: 90, Priority: PriorityCritical})
	kb.SetTick(2)
	kb.CreateTask(TaskState{ID: "t-high-b", Pos: grid.Cell{X: 3, Z: 1}, InfestationLevel: 60, Priority: PriorityHigh})
	kb.SetTick(3)
	kb.CreateTask(TaskState{ID: "t-high-a", Pos: grid.Cell{X: 4, Z: 1}, InfestationLevel: 60, Priority: PriorityHigh})

	got := kb.PendingTasks()
	want := []string{"t-crit", "t-high-b", "t-high-a", "t-low"}
	if len(got) != len(want) {
		t.Fatalf("expected %d pending, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestPriorityThresholds(t *testing.T) {
	kb := newTestKB(t)
	cases := []struct {
		level int
		want  TaskPriority
	}{
		{95, PriorityCritical},
		{80, PriorityCritical},
		{79, PriorityHigh},
		{50, PriorityHigh},
		{49, PriorityMedium},
		{20, PriorityMedium},
		{19, PriorityLow},
		{1, PriorityLow},
	}
	for _, c := range cases {
		if got := kb.PriorityFor(c.level); got != c.want {
			t.Fatalf("level %d: expected %s, got %s", c.level, c.want, got)
		}
	}
}

func TestUpdateAgentEmitsMovementEvents(t *testing.T) {
	kb := newTestKB(t)
	kb.RegisterAgent(AgentState{ID: "w1", Role: RoleWorker, Pos: grid.Cell{X: 0, Z: 3}, Status: StatusMoving})

	kb.UpdateAgent("w1", AgentUpdate{Pos: Ptr(grid.Cell{X: 1, Z: 3})})
	kb.UpdateAgent("w1", AgentUpdate{Status: Ptr(StatusIdle)})

	moved := kb.RecentEvents(EventAgentMoved, 0)
	if len(moved) != 1 || moved[0].Pos != (grid.Cell{X: 1, Z: 3}) {
		t.Fatalf("expected one agent_moved at (1,3), got %v", moved)
	}
	if idle := kb.RecentEvents(EventAgentIdle, 0); len(idle) != 1 {
		t.Fatalf("expected one agent_idle, got %d", len(idle))
	}
	// No event when nothing changed.
	kb.UpdateAgent("w1", AgentUpdate{Status: Ptr(StatusIdle)})
	if idle := kb.RecentEvents(EventAgentIdle, 0); len(idle) != 1 {
		t.Fatalf("idle re-set emitted a second event")
	}
}

func TestFieldWeightGrowthAndCap(t *testing.T) {
	kb := newTestKB(t)
	c := grid.Cell{X: 2, Z: 2}

	kb.TraverseField(c)
	if w := kb.Weight(c); w != 1.8 {
		t.Fatalf("first traversal: expected 1.8, got %v", w)
	}
	kb.TraverseField(c)
	if w := kb.Weight(c); w < 3.23 || w > 3.25 {
		t.Fatalf("second traversal: expected ~3.24, got %v", w)
	}
	for i := 0; i < 20; i++ {
		kb.TraverseField(c)
	}
	if w := kb.Weight(c); w != 60 {
		t.Fatalf("expected cap 60, got %v", w)
	}

	// Roads never accumulate weight.
	road := grid.Cell{X: 4, Z: 3}
	kb.TraverseField(road)
	if w := kb.Weight(road); w != 0 {
		t.Fatalf("road picked up weight %v", w)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	kb := newTestKB(t)
	kb.SetTick(12)
	kb.RegisterAgent(AgentState{ID: "w1", Role: RoleWorker, Pos: grid.Cell{X: 0, Z: 3}, Status: StatusIdle, ResourceLevel: 700, ResourceCapacity: 1000})
	kb.CreateTask(TaskState{ID: "t1", Pos: grid.Cell{X: 5, Z: 5}, InfestationLevel: 42, Priority: PriorityMedium})
	kb.SetInfestation(5, 5, 42)
	kb.TraverseField(grid.Cell{X: 2, Z: 2})

	snap := kb.Snapshot()
	restored := RestoreKnowledgeBase(snap, kb.Tuning(), testLogger())

	if restored.CurrentTick() != 12 {
		t.Fatalf("tick lost: %d", restored.CurrentTick())
	}
	if restored.LastEventSeq() != kb.LastEventSeq() {
		t.Fatalf("event seq lost")
	}
	if restored.Infestation(5, 5) != 42 {
		t.Fatalf("infestation lost")
	}
	if w := restored.Weight(grid.Cell{X: 2, Z: 2}); w != 1.8 {
		t.Fatalf("field weight lost: %v", w)
	}
	a, ok := restored.Agent("w1")
	if !ok || a.ResourceLevel != 700 {
		t.Fatalf("agent lost: %v ok=%v", a, ok)
	}
	if _, ok := restored.Task("t1"); !ok {
		t.Fatalf("task lost")
	}
	snap2 := restored.Snapshot()
	if len(snap2.Weights) != len(snap.Weights) || len(snap2.Tasks) != len(snap.Tasks) {
		t.Fatalf("second snapshot diverged")
	}
}
