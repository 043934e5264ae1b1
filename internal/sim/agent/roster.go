package agent

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"cropguard.ai/internal/sim/blackboard"
	"cropguard.ai/internal/sim/grid"
)

// Roster describes the fleet a mission starts with.
type Roster struct {
	Agents []RosterEntry `yaml:"agents"`
}

type RosterEntry struct {
	ID   string `yaml:"id"`
	Role string `yaml:"role"`
	X    int    `yaml:"x"`
	Z    int    `yaml:"z"`
}

// LoadRoster reads the fleet config from a YAML file.
func LoadRoster(path string) (Roster, error) {
	var r Roster
	raw, err := os.ReadFile(path)
	if err != nil {
		return r, err
	}
	if err := yaml.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("fleet %s: %w", path, err)
	}
	if len(r.Agents) == 0 {
		return r, fmt.Errorf("fleet %s: no agents", path)
	}
	seen := map[string]bool{}
	for i, e := range r.Agents {
		if e.ID == "" {
			return r, fmt.Errorf("fleet %s: agent %d has no id", path, i)
		}
		if seen[e.ID] {
			return r, fmt.Errorf("fleet %s: duplicate agent id %q", path, e.ID)
		}
		seen[e.ID] = true
		switch e.Role {
		case "worker", "scout":
		default:
			return r, fmt.Errorf("fleet %s: agent %q has unknown role %q", path, e.ID, e.Role)
		}
	}
	return r, nil
}

// Deploy registers the roster on the knowledge base and attaches one stepper
// per agent. Workers start with a full tank at their configured cell.
func Deploy(r Roster, bb *blackboard.Blackboard, logger *log.Logger) error {
	kb := bb.KB()
	tune := kb.Tuning()
	for _, e := range r.Agents {
		w, h := kb.Dims()
		if e.X < 0 || e.X >= w || e.Z < 0 || e.Z >= h {
			return fmt.Errorf("agent %q starts out of bounds at (%d,%d)", e.ID, e.X, e.Z)
		}
		st := blackboard.AgentState{
			ID:     e.ID,
			Pos:    grid.Cell{X: e.X, Z: e.Z},
			Status: blackboard.StatusIdle,
		}
		switch e.Role {
		case "worker":
			st.Role = blackboard.RoleWorker
			st.ResourceLevel = tune.ResourceCapacity
			st.ResourceCapacity = tune.ResourceCapacity
			kb.RegisterAgent(st)
			bb.AddStepper(NewWorker(e.ID, kb, logger))
		case "scout":
			st.Role = blackboard.RoleScout
			kb.RegisterAgent(st)
			bb.AddStepper(NewScout(e.ID, kb, logger))
		}
	}
	return nil
}

// Reattach builds steppers for agents already present on the knowledge base,
// used when a mission resumes from a snapshot.
func Reattach(bb *blackboard.Blackboard, logger *log.Logger) int {
	kb := bb.KB()
	n := 0
	for _, a := range kb.Agents() {
		if !a.Active {
			continue
		}
		switch a.Role {
		case blackboard.RoleWorker:
			bb.AddStepper(NewWorker(a.ID, kb, logger))
		case blackboard.RoleScout:
			bb.AddStepper(NewScout(a.ID, kb, logger))
		}
		n++
	}
	return n
}
