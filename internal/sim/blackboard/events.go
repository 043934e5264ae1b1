package blackboard

import "cropguard.ai/internal/sim/grid"

type EventType string

const (
	EventFieldDiscovered     EventType = "field_discovered"
	EventTaskCreated         EventType = "task_created"
	EventTaskAssigned        EventType = "task_assigned"
	EventTaskCompleted       EventType = "task_completed"
	EventTaskFailed          EventType = "task_failed"
	EventAgentMoved          EventType = "agent_moved"
	EventAgentIdle           EventType = "agent_idle"
	EventAgentLowResource    EventType = "agent_low_resource"
	EventAgentRefilled       EventType = "agent_refilled"
	EventConflictDetected    EventType = "conflict_detected"
	EventPathCalculated      EventType = "path_calculated"
	EventExplorationComplete EventType = "exploration_complete"
)

// Event is one entry in the append-only log. Seq is assigned by the
// knowledge base and strictly increases; Tick is the coordination tick the
// event was emitted on. Payload fields are flat so events serialize
// deterministically.
type Event struct {
	Seq    uint64    `json:"seq"`
	Type   EventType `json:"type"`
	Tick   uint64    `json:"tick"`
	Source string    `json:"source,omitempty"`

	AgentID     string        `json:"agent_id,omitempty"`
	TaskID      string        `json:"task_id,omitempty"`
	Pos         grid.Cell     `json:"pos"`
	Infestation int           `json:"infestation,omitempty"`
	Crop        grid.CropType `json:"crop,omitempty"`
	PathLen     int           `json:"path_len,omitempty"`
	Level       int           `json:"level,omitempty"`
	Urgent      bool          `json:"urgent,omitempty"`
	Coverage    float64       `json:"coverage,omitempty"`
	Detail      string        `json:"detail,omitempty"`
}
