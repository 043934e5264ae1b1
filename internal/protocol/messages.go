package protocol

// HELLO (observer -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// AckCommands asks the server to wait for COMMAND_ACK on mirrored
	// agent commands.
	AckCommands bool `json:"ack_commands,omitempty"`
}

// WELCOME (server -> observer)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	WorldParams     WorldParams `json:"world_params"`
	Terrain         []string    `json:"terrain"`
	Tick            uint64      `json:"tick"`
}

type WorldParams struct {
	WorldID    string `json:"world_id"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	TickRateHz int    `json:"tick_rate_hz"`
	MaxTicks   int    `json:"max_ticks"`
}

// STEP_UPDATE (server -> observer): the state delta for one tick.
type StepUpdateMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Tick            uint64      `json:"tick"`
	Agents          []AgentView `json:"agents"`
	Tasks           []TaskView  `json:"tasks,omitempty"`
	Events          []EventView `json:"events,omitempty"`
	Infestation     []CellLevel `json:"infestation,omitempty"`
	Stats           StatsView   `json:"stats"`
}

type AgentView struct {
	ID            string `json:"id"`
	Role          string `json:"role"`
	X             int    `json:"x"`
	Z             int    `json:"z"`
	Status        string `json:"status"`
	ResourceLevel int    `json:"resource_level"`
	TaskID        string `json:"task_id,omitempty"`
}

type TaskView struct {
	ID          string `json:"id"`
	X           int    `json:"x"`
	Z           int    `json:"z"`
	Infestation int    `json:"infestation"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	AgentID     string `json:"agent_id,omitempty"`
}

type EventView struct {
	Seq    uint64 `json:"seq"`
	Type   string `json:"event_type"`
	Tick   uint64 `json:"tick"`
	Source string `json:"source,omitempty"`
	Detail string `json:"detail,omitempty"`
}

type CellLevel struct {
	X     int `json:"x"`
	Z     int `json:"z"`
	Level int `json:"level"`
}

type StatsView struct {
	TasksCreated   int `json:"tasks_created"`
	TasksCompleted int `json:"tasks_completed"`
	TasksFailed    int `json:"tasks_failed"`
	TasksPending   int `json:"tasks_pending"`
	FieldsTreated  int `json:"fields_treated"`
	FieldsAnalyzed int `json:"fields_analyzed"`
	ActiveAgents   int `json:"active_agents"`
}

// AGENT_COMMAND (server -> observer): a mirrored mailbox write.
type AgentCommandMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CommandID       string `json:"command_id"`
	AgentID         string `json:"agent_id"`
	Action          string `json:"action"`
	TaskID          string `json:"task_id,omitempty"`
	TargetX         int    `json:"target_x"`
	TargetZ         int    `json:"target_z"`
	Urgent          bool   `json:"urgent,omitempty"`
	Tick            uint64 `json:"tick"`
}

// COMMAND_ACK (observer -> server)
type CommandAckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	CommandID       string `json:"command_id"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// MISSION_COMPLETE (server -> observer)
type MissionCompleteMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Tick            uint64    `json:"tick"`
	Stats           StatsView `json:"stats"`
}

// ERROR (either direction)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
