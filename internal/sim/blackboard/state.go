package blackboard

import "cropguard.ai/internal/sim/grid"

type Role string

const (
	RoleWorker Role = "worker"
	RoleScout  Role = "scout"
)

type AgentStatus string

const (
	StatusIdle             AgentStatus = "idle"
	StatusMoving           AgentStatus = "moving"
	StatusAssigned         AgentStatus = "assigned"
	StatusExecutingTask    AgentStatus = "executing_task"
	StatusWaiting          AgentStatus = "waiting"
	StatusReturningToDepot AgentStatus = "returning_to_depot"
	StatusRefilling        AgentStatus = "refilling"
	StatusScouting         AgentStatus = "scouting"
)

// AgentState is the authoritative record of one agent. Agents never hold a
// copy across ticks; they read and mutate through the knowledge base.
type AgentState struct {
	ID     string      `json:"id"`
	Role   Role        `json:"role"`
	Pos    grid.Cell   `json:"pos"`
	Status AgentStatus `json:"status"`

	ResourceLevel    int    `json:"resource_level"`
	ResourceCapacity int    `json:"resource_capacity"`
	CurrentTaskID    string `json:"current_task_id,omitempty"`

	Path      []grid.Cell `json:"path,omitempty"`
	PathIndex int         `json:"path_index"`

	TasksCompleted int `json:"tasks_completed"`
	FieldsTreated  int `json:"fields_treated"`
	FieldsAnalyzed int `json:"fields_analyzed"`

	// Active is cleared at simulation end; agents are never hard-deleted.
	Active bool `json:"active"`
}

// AgentUpdate is a partial update; nil fields are left untouched.
type AgentUpdate struct {
	Pos            *grid.Cell
	Status         *AgentStatus
	ResourceLevel  *int
	CurrentTaskID  *string
	Path           *[]grid.Cell
	PathIndex      *int
	TasksCompleted *int
	FieldsTreated  *int
	FieldsAnalyzed *int
}

type TaskPriority int

const (
	PriorityLow TaskPriority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p TaskPriority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	}
	return "low"
}

// AllocationWeight scales estimated path cost during allocation; urgent
// tasks get a discount so they win ties against closer low-value work.
func (p TaskPriority) AllocationWeight() float64 {
	switch p {
	case PriorityCritical:
		return 0.5
	case PriorityHigh:
		return 1.0
	case PriorityMedium:
		return 2.0
	}
	return 4.0
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TaskState is a unit of remediation work bound to a grid cell.
type TaskState struct {
	ID               string       `json:"id"`
	Pos              grid.Cell    `json:"pos"`
	InfestationLevel int          `json:"infestation_level"`
	Priority         TaskPriority `json:"priority"`
	Status           TaskStatus   `json:"status"`
	AssignedAgentID  string       `json:"assigned_agent_id,omitempty"`

	CreatedTick   uint64 `json:"created_tick"`
	AssignedTick  uint64 `json:"assigned_tick,omitempty"`
	CompletedTick uint64 `json:"completed_tick,omitempty"`

	FailureCount    int    `json:"failure_count"`
	LastFailureTick uint64 `json:"last_failure_tick,omitempty"`
}

// Live reports whether the task still occupies its position: at most one
// live task may exist per cell.
func (t TaskState) Live() bool {
	switch t.Status {
	case TaskPending, TaskAssigned, TaskInProgress:
		return true
	}
	return false
}

// TaskUpdate is a partial update; nil fields are left untouched.
type TaskUpdate struct {
	Status          *TaskStatus
	AssignedAgentID *string
	AssignedTick    *uint64
	CompletedTick   *uint64
	FailureCount    *int
	LastFailureTick *uint64
}

type CommandAction string

const (
	ActionExecuteTask   CommandAction = "execute_task"
	ActionReturnToDepot CommandAction = "return_to_depot"
	ActionExplore       CommandAction = "explore"
	ActionMove          CommandAction = "move"
)

// Command occupies an agent's single-slot mailbox: one writer per
// coordination cycle, one reader (the agent), cleared on completion or by
// recovery. A command may be superseded or withdrawn at any time; agents
// must re-read it every tick.
type Command struct {
	ID     string        `json:"id"`
	Action CommandAction `json:"action"`
	TaskID string        `json:"task_id,omitempty"`
	Target grid.Cell     `json:"target"`
	Path   []grid.Cell   `json:"path,omitempty"`
	Urgent bool          `json:"urgent,omitempty"`

	IssuedTick uint64 `json:"issued_tick"`
}

// Ptr is a convenience for building partial updates.
func Ptr[T any](v T) *T { return &v }
