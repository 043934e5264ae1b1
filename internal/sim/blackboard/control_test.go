package blackboard

import (
	"testing"

	"cropguard.ai/internal/sim/grid"
	"cropguard.ai/internal/sim/tuning"
)

type stubSource struct {
	name   string
	prio   int
	always bool
	trig   []EventType
	gate   bool
	panics bool
	runs   int
	order  *[]string
}

func (s *stubSource) Name() string                    { return s.name }
func (s *stubSource) Priority() int                   { return s.prio }
func (s *stubSource) AlwaysRun() bool                 { return s.always }
func (s *stubSource) Triggers() []EventType           { return s.trig }
func (s *stubSource) Precondition(*KnowledgeBase) bool { return s.gate }

func (s *stubSource) Execute(kb *KnowledgeBase, tick uint64) {
	s.runs++
	if s.order != nil {
		*s.order = append(*s.order, s.name)
	}
	if s.panics {
		panic("boom")
	}
}

func TestControlTriggersAndPriorityOrder(t *testing.T) {
	kb := newTestKB(t)
	cc := NewControlComponent(testLogger(), 100, 10)

	var order []string
	low := &stubSource{name: "low", prio: 90, always: true, gate: true, order: &order}
	high := &stubSource{name: "high", prio: 10, always: true, gate: true, order: &order}
	trig := &stubSource{name: "trig", prio: 50, trig: []EventType{EventTaskCreated}, gate: true, order: &order}
	never := &stubSource{name: "never", prio: 20, trig: []EventType{EventTaskFailed}, gate: true, order: &order}
	cc.Register(low)
	cc.Register(high)
	cc.Register(trig)
	cc.Register(never)

	kb.EmitEvent(Event{Type: EventTaskCreated})
	cc.RunCycle(kb, 1)

	want := []string{"high", "trig", "low"}
	if len(order) != len(want) {
		t.Fatalf("expected runs %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected runs %v, got %v", want, order)
		}
	}

	// The cursor advanced; without fresh events the triggered source stays
	// quiet on the next cycle.
	order = order[:0]
	cc.RunCycle(kb, 2)
	if trig.runs != 1 {
		t.Fatalf("triggered source re-ran on a stale event")
	}
}

func TestControlActivationBudget(t *testing.T) {
	kb := newTestKB(t)
	cc := NewControlComponent(testLogger(), 100, 2)
	a := &stubSource{name: "a", prio: 1, always: true, gate: true}
	b := &stubSource{name: "b", prio: 2, always: true, gate: true}
	c := &stubSource{name: "c", prio: 3, always: true, gate: true}
	cc.Register(a)
	cc.Register(b)
	cc.Register(c)

	if ran := cc.RunCycle(kb, 1); ran != 2 {
		t.Fatalf("expected 2 activations, got %d", ran)
	}
	if c.runs != 0 {
		t.Fatalf("budget did not stop the third source")
	}
}

func TestControlSurvivesPanickingSource(t *testing.T) {
	kb := newTestKB(t)
	cc := NewControlComponent(testLogger(), 100, 10)
	bad := &stubSource{name: "bad", prio: 1, always: true, gate: true, panics: true}
	good := &stubSource{name: "good", prio: 2, always: true, gate: true}
	cc.Register(bad)
	cc.Register(good)

	cc.RunCycle(kb, 1)
	if good.runs != 1 {
		t.Fatalf("panic in one source starved the next")
	}
}

func TestAllocatorSkipsInfeasibleWorker(t *testing.T) {
	tune := tuning.Defaults()
	kb := NewKnowledgeBase(testWorld(tune), tune, testLogger())

	// near is adjacent to the job but nearly empty, so it is no candidate;
	// far has a full tank.
	kb.RegisterAgent(AgentState{ID: "near", Role: RoleWorker, Pos: grid.Cell{X: 5, Z: 4}, Status: StatusIdle, ResourceLevel: 5, ResourceCapacity: tune.ResourceCapacity})
	kb.RegisterAgent(AgentState{ID: "far", Role: RoleWorker, Pos: grid.Cell{X: 0, Z: 3}, Status: StatusIdle, ResourceLevel: tune.ResourceCapacity, ResourceCapacity: tune.ResourceCapacity})

	kb.SetInfestation(5, 5, 90)
	kb.CreateTask(TaskState{ID: "job", Pos: grid.Cell{X: 5, Z: 5}, InfestationLevel: 90, Priority: PriorityCritical})

	NewTaskAllocator(testLogger()).Execute(kb, 1)

	task, _ := kb.Task("job")
	if task.Status != TaskAssigned || task.AssignedAgentID != "far" {
		t.Fatalf("expected far worker assigned, got status=%s agent=%s", task.Status, task.AssignedAgentID)
	}
	agent, _ := kb.Agent("far")
	if agent.Status != StatusAssigned || agent.CurrentTaskID != "job" {
		t.Fatalf("winner not marked assigned: %+v", agent)
	}
	if cmd, ok := kb.CommandFor("far"); !ok || cmd.Action != ActionExecuteTask || cmd.Target != (grid.Cell{X: 5, Z: 5}) {
		t.Fatalf("winner got no task command")
	}
	if _, ok := kb.CommandFor("near"); ok {
		t.Fatalf("loser got a command")
	}
}

func TestAllocatorNeverPairsSoleInfeasibleWorker(t *testing.T) {
	tune := tuning.Defaults()
	kb := NewKnowledgeBase(testWorld(tune), tune, testLogger())

	kb.RegisterAgent(AgentState{ID: "w1", Role: RoleWorker, Pos: grid.Cell{X: 0, Z: 3}, Status: StatusIdle, ResourceLevel: 5, ResourceCapacity: tune.ResourceCapacity})
	kb.SetInfestation(5, 5, 50)
	kb.CreateTask(TaskState{ID: "job", Pos: grid.Cell{X: 5, Z: 5}, InfestationLevel: 50, Priority: PriorityHigh})

	NewTaskAllocator(testLogger()).Execute(kb, 1)

	// The only worker cannot afford the dose; the task waits for resources
	// rather than burning a doomed trip.
	task, _ := kb.Task("job")
	if task.Status != TaskPending || task.AssignedAgentID != "" {
		t.Fatalf("infeasible pair assigned: status=%s agent=%q", task.Status, task.AssignedAgentID)
	}
	agent, _ := kb.Agent("w1")
	if agent.Status != StatusIdle || agent.CurrentTaskID != "" {
		t.Fatalf("worker touched by allocator: %+v", agent)
	}
	if _, ok := kb.CommandFor("w1"); ok {
		t.Fatalf("worker got a task command")
	}

	// The resource manager handles the worker instead: at critical reserve
	// it is ordered straight home.
	NewResourceManager(testLogger()).Execute(kb, 1)
	cmd, ok := kb.CommandFor("w1")
	if !ok || cmd.Action != ActionReturnToDepot || !cmd.Urgent {
		t.Fatalf("expected urgent depot recall, got %+v ok=%v", cmd, ok)
	}
}

func TestAllocatorWaitsOutFailureCooldown(t *testing.T) {
	tune := tuning.Defaults()
	kb := NewKnowledgeBase(testWorld(tune), tune, testLogger())
	alloc := NewTaskAllocator(testLogger())

	kb.RegisterAgent(AgentState{ID: "w1", Role: RoleWorker, Pos: grid.Cell{X: 0, Z: 3}, Status: StatusIdle, ResourceLevel: tune.ResourceCapacity, ResourceCapacity: tune.ResourceCapacity})
	kb.SetInfestation(2, 2, 40)
	kb.CreateTask(TaskState{ID: "t1", Pos: grid.Cell{X: 2, Z: 2}, InfestationLevel: 40, Priority: PriorityMedium})
	kb.UpdateTask("t1", TaskUpdate{FailureCount: Ptr(1), LastFailureTick: Ptr(uint64(5))})

	alloc.Execute(kb, 10)
	if task, _ := kb.Task("t1"); task.Status != TaskPending {
		t.Fatalf("task assigned before cooldown elapsed: %s", task.Status)
	}

	alloc.Execute(kb, 5+tune.RetryCooldownTicks)
	if task, _ := kb.Task("t1"); task.Status != TaskAssigned || task.AssignedAgentID != "w1" {
		t.Fatalf("task not assigned after cooldown: %+v", task)
	}
}

func TestAllocatorOneTaskPerWorker(t *testing.T) {
	kb := newTestKB(t)
	kb.RegisterAgent(AgentState{ID: "w1", Role: RoleWorker, Pos: grid.Cell{X: 0, Z: 3}, Status: StatusIdle, ResourceLevel: 1000, ResourceCapacity: 1000})
	kb.CreateTask(TaskState{ID: "t1", Pos: grid.Cell{X: 2, Z: 2}, InfestationLevel: 80, Priority: PriorityCritical})
	kb.CreateTask(TaskState{ID: "t2", Pos: grid.Cell{X: 4, Z: 4}, InfestationLevel: 70, Priority: PriorityHigh})

	NewTaskAllocator(testLogger()).Execute(kb, 1)

	if len(kb.TasksByStatus(TaskAssigned)) != 1 {
		t.Fatalf("one worker took more than one task")
	}
	if len(kb.PendingTasks()) != 1 {
		t.Fatalf("second task should stay pending")
	}
}

func TestFailedTaskRecycleAndCap(t *testing.T) {
	tune := tuning.Defaults()
	kb := NewKnowledgeBase(testWorld(tune), tune, testLogger())
	resolver := NewConflictResolver(testLogger(), NewPathPlanner(testLogger(), kb))

	kb.CreateTask(TaskState{ID: "retry", Pos: grid.Cell{X: 2, Z: 2}, InfestationLevel: 40, Priority: PriorityMedium})
	kb.UpdateTask("retry", TaskUpdate{Status: Ptr(TaskFailed), FailureCount: Ptr(1), LastFailureTick: Ptr(uint64(5))})

	// Under the cap a failed task goes straight back to pending, where it
	// still counts as open work; the allocator owns the cooldown wait.
	kb.SetTick(6)
	resolver.Execute(kb, 6)
	if task, _ := kb.Task("retry"); task.Status != TaskPending {
		t.Fatalf("failed task not recycled: %s", task.Status)
	}

	// At the failure cap the task is abandoned for good.
	kb.UpdateTask("retry", TaskUpdate{Status: Ptr(TaskFailed), FailureCount: Ptr(tune.TaskFailureCap), LastFailureTick: Ptr(uint64(10))})
	kb.SetTick(500)
	resolver.Execute(kb, 500)
	if task, _ := kb.Task("retry"); task.Status != TaskFailed {
		t.Fatalf("capped task recycled")
	}
}

func TestMissionStaysOpenWhileFailedTaskRetryable(t *testing.T) {
	tune := tuning.Defaults()
	kb := NewKnowledgeBase(testWorld(tune), tune, testLogger())
	resolver := NewConflictResolver(testLogger(), NewPathPlanner(testLogger(), kb))
	mission := NewMissionController(testLogger())

	kb.RegisterAgent(AgentState{ID: "w1", Role: RoleWorker, Pos: grid.Cell{X: 0, Z: 3}, Status: StatusIdle, ResourceLevel: tune.ResourceCapacity, ResourceCapacity: tune.ResourceCapacity})
	kb.CreateTask(TaskState{ID: "t1", Pos: grid.Cell{X: 2, Z: 2}, InfestationLevel: 40, Priority: PriorityMedium})
	kb.UpdateTask("t1", TaskUpdate{Status: Ptr(TaskFailed), FailureCount: Ptr(1), LastFailureTick: Ptr(uint64(3))})

	// The worker is already parked at the depot, but the failed task still
	// has retries left, so the mission must not close over it.
	kb.SetTick(6)
	resolver.Execute(kb, 6)
	if task, _ := kb.Task("t1"); task.Status != TaskPending {
		t.Fatalf("retryable task not back in the pool: %s", task.Status)
	}
	mission.Execute(kb, 6)
	if kb.MissionComplete() {
		t.Fatalf("mission declared complete with remediation work still owed")
	}
}

func TestResolverReroutesHeadOnSwap(t *testing.T) {
	tune := tuning.Defaults()
	kb := NewKnowledgeBase(testWorld(tune), tune, testLogger())
	paths := NewPathPlanner(testLogger(), kb)
	resolver := NewConflictResolver(testLogger(), paths)

	// Two workers on the road about to step into each other.
	kb.RegisterAgent(AgentState{
		ID: "wa", Role: RoleWorker, Pos: grid.Cell{X: 2, Z: 3}, Status: StatusExecutingTask,
		Path: []grid.Cell{{X: 3, Z: 3}, {X: 4, Z: 3}}, ResourceLevel: 1000, ResourceCapacity: 1000,
	})
	kb.RegisterAgent(AgentState{
		ID: "wb", Role: RoleWorker, Pos: grid.Cell{X: 3, Z: 3}, Status: StatusExecutingTask,
		Path: []grid.Cell{{X: 2, Z: 3}, {X: 1, Z: 3}}, ResourceLevel: 1000, ResourceCapacity: 1000,
	})
	kb.SetCommand("wa", Command{Action: ActionExecuteTask, Target: grid.Cell{X: 4, Z: 3}, Path: []grid.Cell{{X: 3, Z: 3}, {X: 4, Z: 3}}})
	kb.SetCommand("wb", Command{Action: ActionExecuteTask, Target: grid.Cell{X: 1, Z: 3}, Path: []grid.Cell{{X: 2, Z: 3}, {X: 1, Z: 3}}})

	kb.SetTick(1)
	resolver.Execute(kb, 1)

	if len(kb.RecentEvents(EventConflictDetected, 0)) == 0 {
		t.Fatalf("swap not detected")
	}
	// The lexically larger agent is rerouted around the smaller one.
	wb, _ := kb.Agent("wb")
	if len(wb.Path) == 0 || wb.Path[0] == (grid.Cell{X: 2, Z: 3}) {
		t.Fatalf("wb still routed through wa's cell: %v", wb.Path)
	}
	wa, _ := kb.Agent("wa")
	if len(wa.Path) == 0 || wa.Path[0] != (grid.Cell{X: 3, Z: 3}) {
		t.Fatalf("wa should keep its route, got %v", wa.Path)
	}
}

// corridorWorld is a 7x7 map where only the z=3 road row is passable.
func corridorWorld(tune tuning.Tuning) *grid.World {
	w := grid.New("corridor", 7, 7, tune.FieldWeightCap)
	for x := 0; x < 7; x++ {
		w.SetTile(x, 3, grid.Road)
	}
	w.SetTile(0, 3, grid.Depot)
	w.RecomputeDepots()
	return w
}

func TestResolverBreaksDeadlockedSwapPair(t *testing.T) {
	tune := tuning.Defaults()
	kb := NewKnowledgeBase(corridorWorld(tune), tune, testLogger())
	resolver := NewConflictResolver(testLogger(), NewPathPlanner(testLogger(), kb))

	// Head-on in a single-width corridor: no route around exists, so the
	// lexically larger member must be reset and its task released.
	kb.RegisterAgent(AgentState{
		ID: "wa", Role: RoleWorker, Pos: grid.Cell{X: 2, Z: 3}, Status: StatusExecutingTask,
		Path: []grid.Cell{{X: 3, Z: 3}, {X: 4, Z: 3}}, ResourceLevel: 1000, ResourceCapacity: 1000,
	})
	kb.RegisterAgent(AgentState{
		ID: "wb", Role: RoleWorker, Pos: grid.Cell{X: 3, Z: 3}, Status: StatusExecutingTask,
		CurrentTaskID: "tb", Path: []grid.Cell{{X: 2, Z: 3}, {X: 1, Z: 3}},
		ResourceLevel: 1000, ResourceCapacity: 1000,
	})
	kb.CreateTask(TaskState{ID: "tb", Pos: grid.Cell{X: 1, Z: 3}, InfestationLevel: 30, Priority: PriorityMedium})
	kb.UpdateTask("tb", TaskUpdate{Status: Ptr(TaskAssigned), AssignedAgentID: Ptr("wb")})
	kb.SetCommand("wa", Command{Action: ActionExecuteTask, Target: grid.Cell{X: 4, Z: 3}, Path: []grid.Cell{{X: 3, Z: 3}, {X: 4, Z: 3}}})
	kb.SetCommand("wb", Command{Action: ActionExecuteTask, TaskID: "tb", Target: grid.Cell{X: 1, Z: 3}, Path: []grid.Cell{{X: 2, Z: 3}, {X: 1, Z: 3}}})

	kb.SetTick(1)
	resolver.Execute(kb, 1)

	wb, _ := kb.Agent("wb")
	if wb.Status != StatusIdle || len(wb.Path) != 0 || wb.CurrentTaskID != "" {
		t.Fatalf("wb not reset: %+v", wb)
	}
	if _, ok := kb.CommandFor("wb"); ok {
		t.Fatalf("wb command not withdrawn")
	}
	wa, _ := kb.Agent("wa")
	if wa.Status != StatusExecutingTask || len(wa.Path) == 0 {
		t.Fatalf("exactly one member should be reset, wa got %+v", wa)
	}
	if task, _ := kb.Task("tb"); task.Status != TaskPending || task.FailureCount != 1 {
		t.Fatalf("released task not pending: %+v", task)
	}
}

func TestResolverSidestepsWhenRerouteFails(t *testing.T) {
	tune := tuning.Defaults()
	world := corridorWorld(tune)
	world.SetTile(2, 4, grid.Field)
	kb := NewKnowledgeBase(world, tune, testLogger())
	resolver := NewConflictResolver(testLogger(), NewPathPlanner(testLogger(), kb))

	// w1 is boxed in by w2 with no route to its target; the one open field
	// cell toward the target is where the nudge must land.
	kb.RegisterAgent(AgentState{
		ID: "w1", Role: RoleWorker, Pos: grid.Cell{X: 2, Z: 3}, Status: StatusExecutingTask,
		CurrentTaskID: "t1", Path: []grid.Cell{{X: 3, Z: 3}},
		ResourceLevel: 1000, ResourceCapacity: 1000,
	})
	kb.RegisterAgent(AgentState{
		ID: "w2", Role: RoleWorker, Pos: grid.Cell{X: 3, Z: 3}, Status: StatusIdle,
		ResourceLevel: 1000, ResourceCapacity: 1000,
	})
	kb.CreateTask(TaskState{ID: "t1", Pos: grid.Cell{X: 2, Z: 6}, InfestationLevel: 40, Priority: PriorityMedium})
	kb.UpdateTask("t1", TaskUpdate{Status: Ptr(TaskAssigned), AssignedAgentID: Ptr("w1")})
	kb.SetCommand("w1", Command{Action: ActionExecuteTask, TaskID: "t1", Target: grid.Cell{X: 2, Z: 6}, Path: []grid.Cell{{X: 3, Z: 3}}})

	for tick := uint64(1); tick <= uint64(tune.StuckWindow); tick++ {
		kb.SetTick(tick)
		resolver.Execute(kb, tick)
	}

	w1, _ := kb.Agent("w1")
	if w1.Pos != (grid.Cell{X: 2, Z: 4}) {
		t.Fatalf("expected one step toward target, got pos %v", w1.Pos)
	}
	if len(w1.Path) != 0 {
		t.Fatalf("stale route kept after sidestep: %v", w1.Path)
	}
	if cmd, ok := kb.CommandFor("w1"); !ok || len(cmd.Path) != 0 {
		t.Fatalf("command route not dropped for replanning: %+v", cmd)
	}
}
