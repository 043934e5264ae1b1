package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	compile := func(name string) *jsonschema.Schema {
		t.Helper()
		p := filepath.Join("..", "..", "schemas", name)
		s, err := jsonschema.Compile(p)
		if err != nil {
			t.Fatalf("compile %s: %v", name, err)
		}
		return s
	}

	validate := func(s *jsonschema.Schema, v any) {
		t.Helper()
		if err := s.Validate(v); err != nil {
			t.Fatalf("validate: %v", err)
		}
	}

	helloSchema := compile("hello.schema.json")
	stepSchema := compile("step_update.schema.json")
	commandSchema := compile("agent_command.schema.json")
	ackSchema := compile("command_ack.schema.json")
	doneSchema := compile("mission_complete.schema.json")

	var hello any
	_ = json.Unmarshal([]byte(`{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "client_name":"renderer",
	  "ack_commands":true
	}`), &hello)
	validate(helloSchema, hello)

	var step any
	_ = json.Unmarshal([]byte(`{
	  "type":"STEP_UPDATE",
	  "protocol_version":"1.0",
	  "tick":42,
	  "agents":[
	    {"id":"worker-1","role":"worker","x":3,"z":5,"status":"executing_task","resource_level":870,"task_id":"t-1"}
	  ],
	  "tasks":[
	    {"id":"t-1","x":6,"z":2,"infestation":85,"priority":"critical","status":"in_progress","agent_id":"worker-1"}
	  ],
	  "events":[
	    {"seq":17,"event_type":"agent_moved","tick":42,"source":"worker-1"}
	  ],
	  "infestation":[{"x":6,"z":2,"level":85}],
	  "stats":{
	    "tasks_created":4,"tasks_completed":2,"tasks_failed":0,"tasks_pending":1,
	    "fields_treated":2,"fields_analyzed":30,"active_agents":3
	  }
	}`), &step)
	validate(stepSchema, step)

	var cmd any
	_ = json.Unmarshal([]byte(`{
	  "type":"AGENT_COMMAND",
	  "protocol_version":"1.0",
	  "command_id":"c-9",
	  "agent_id":"worker-1",
	  "action":"execute_task",
	  "task_id":"t-1",
	  "target_x":6,
	  "target_z":2,
	  "tick":42
	}`), &cmd)
	validate(commandSchema, cmd)

	var ack any
	_ = json.Unmarshal([]byte(`{
	  "type":"COMMAND_ACK",
	  "protocol_version":"1.0",
	  "command_id":"c-9",
	  "accepted":true
	}`), &ack)
	validate(ackSchema, ack)

	var done any
	_ = json.Unmarshal([]byte(`{
	  "type":"MISSION_COMPLETE",
	  "protocol_version":"1.0",
	  "tick":512,
	  "stats":{
	    "tasks_created":4,"tasks_completed":4,"tasks_failed":0,"tasks_pending":0,
	    "fields_treated":4,"fields_analyzed":49,"active_agents":0
	  }
	}`), &done)
	validate(doneSchema, done)
}

func TestSchemas_RejectBadSamples(t *testing.T) {
	p := filepath.Join("..", "..", "schemas", "agent_command.schema.json")
	s, err := jsonschema.Compile(p)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	var missingAgent any
	_ = json.Unmarshal([]byte(`{
	  "type":"AGENT_COMMAND",
	  "protocol_version":"1.0",
	  "command_id":"c-9",
	  "action":"execute_task",
	  "target_x":6,
	  "target_z":2,
	  "tick":42
	}`), &missingAgent)
	if err := s.Validate(missingAgent); err == nil {
		t.Fatalf("expected missing agent_id to fail validation")
	}

	var badAction any
	_ = json.Unmarshal([]byte(`{
	  "type":"AGENT_COMMAND",
	  "protocol_version":"1.0",
	  "command_id":"c-9",
	  "agent_id":"worker-1",
	  "action":"self_destruct",
	  "target_x":6,
	  "target_z":2,
	  "tick":42
	}`), &badAction)
	if err := s.Validate(badAction); err == nil {
		t.Fatalf("expected unknown action to fail validation")
	}
}
