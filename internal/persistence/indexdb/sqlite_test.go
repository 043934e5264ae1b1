package indexdb

import (
	"path/filepath"
	"testing"

	"cropguard.ai/internal/sim/blackboard"
	"cropguard.ai/internal/sim/grid"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTickAndEventRoundTrip(t *testing.T) {
	s := openTestIndex(t)

	s.WriteTick(TickRow{Tick: 1, Activations: 3, Events: 5, TasksLive: 2, Agents: 4})
	s.WriteTick(TickRow{Tick: 2, Activations: 1, Events: 0, TasksLive: 2, Agents: 4})
	s.WriteEvent(blackboard.Event{
		Seq: 1, Type: blackboard.EventTaskCreated, Tick: 1,
		TaskID: "t-1", Pos: grid.Cell{X: 4, Z: 2}, Infestation: 85,
	})
	s.WriteEvent(blackboard.Event{
		Seq: 2, Type: blackboard.EventTaskAssigned, Tick: 1,
		TaskID: "t-1", AgentID: "w-1", Pos: grid.Cell{X: 4, Z: 2},
	})
	s.WriteEvent(blackboard.Event{
		Seq: 3, Type: blackboard.EventAgentMoved, Tick: 2,
		AgentID: "w-1", Pos: grid.Cell{X: 1, Z: 0},
	})
	s.Flush()

	n, err := s.TickCount()
	if err != nil || n != 2 {
		t.Fatalf("tick count: n=%d err=%v", n, err)
	}

	evs, err := s.EventsForTask("t-1")
	if err != nil {
		t.Fatalf("events for task: %v", err)
	}
	if len(evs) != 2 || evs[0].Type != string(blackboard.EventTaskCreated) || evs[0].Level != 85 {
		t.Fatalf("unexpected task events: %+v", evs)
	}

	evs, err = s.EventsForAgent("w-1")
	if err != nil || len(evs) != 2 {
		t.Fatalf("events for agent: %v %+v", err, evs)
	}
}

func TestInfestationUpsert(t *testing.T) {
	s := openTestIndex(t)

	s.WriteInfestation(1, [][]int{
		{0, 50},
		{30, 0},
	})
	s.WriteInfestation(9, [][]int{
		{0, 10},
		{30, 0},
	})
	s.Flush()

	cells, err := s.InfestationCells()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(cells) != 2 {
		t.Fatalf("expected 2 cells, got %d", len(cells))
	}
	// (1,0) rewritten on tick 9; (0,1) untouched since tick 1.
	if cells[0] != (CellRow{X: 1, Z: 0, Level: 10, UpdatedTick: 9}) {
		t.Fatalf("bad cell row: %+v", cells[0])
	}
	if cells[1] != (CellRow{X: 0, Z: 1, Level: 30, UpdatedTick: 1}) {
		t.Fatalf("bad cell row: %+v", cells[1])
	}
}

func TestMissionRecord(t *testing.T) {
	s := openTestIndex(t)

	s.RecordMission("farm-7", blackboard.Statistics{
		Tick: 120, TasksCreated: 6, TasksCompleted: 5, TasksFailed: 1,
		FieldsTreated: 5, FieldsAnalyzed: 40,
	})
	s.Flush()

	rows, err := s.Missions()
	if err != nil || len(rows) != 1 {
		t.Fatalf("missions: %v %+v", err, rows)
	}
	m := rows[0]
	if m.WorldID != "farm-7" || m.EndTick != 120 || m.TasksCompleted != 5 {
		t.Fatalf("bad mission row: %+v", m)
	}
	if m.RecordedAt == "" {
		t.Fatalf("missing recorded_at")
	}
}

func TestWritesAfterCloseAreNoops(t *testing.T) {
	s := openTestIndex(t)
	_ = s.Close()
	s.WriteTick(TickRow{Tick: 1})
	s.WriteEvent(blackboard.Event{Seq: 1})
	s.Flush()
}
