package agent

import (
	"log"

	"cropguard.ai/internal/sim/blackboard"
	"cropguard.ai/internal/sim/grid"
)

// Scout is an aerial surveyor. It flies in straight lines over any terrain,
// sweeping one band at a time and scanning the row beneath it plus the row
// on either side. Every infested field cell it sees becomes a discovery
// event, reported once.
type Scout struct {
	id  string
	kb  *blackboard.KnowledgeBase
	log *log.Logger

	bandCmd  string
	sweeping bool
	dir      int
	reported map[grid.Cell]bool
}

func NewScout(id string, kb *blackboard.KnowledgeBase, logger *log.Logger) *Scout {
	return &Scout{id: id, kb: kb, log: logger, reported: map[grid.Cell]bool{}}
}

func (s *Scout) ID() string { return s.id }

func (s *Scout) Step(tick uint64) {
	a, ok := s.kb.Agent(s.id)
	if !ok || !a.Active {
		return
	}
	cmd, ok := s.kb.CommandFor(s.id)
	if !ok {
		if a.Status != blackboard.StatusIdle {
			s.kb.UpdateAgent(s.id, blackboard.AgentUpdate{Status: blackboard.Ptr(blackboard.StatusIdle)})
		}
		return
	}
	if cmd.Action == blackboard.ActionReturnToDepot || cmd.Action == blackboard.ActionMove {
		if a.Pos == cmd.Target {
			s.kb.ClearCommand(s.id)
			s.kb.UpdateAgent(s.id, blackboard.AgentUpdate{Status: blackboard.Ptr(blackboard.StatusIdle)})
			return
		}
		s.flyToward(a, cmd.Target)
		return
	}
	if cmd.Action != blackboard.ActionExplore {
		return
	}

	if cmd.ID != s.bandCmd {
		s.bandCmd = cmd.ID
		s.sweeping = false
		s.dir = 1
		if cmd.Target.X != 0 {
			s.dir = -1
		}
	}

	if !s.sweeping {
		if a.Pos == cmd.Target {
			s.sweeping = true
		} else {
			s.flyToward(a, cmd.Target)
			return
		}
	}

	s.scan(tick, a.Pos, cmd.Target.Z)

	width, _ := s.kb.Dims()
	endX := width - 1
	if s.dir < 0 {
		endX = 0
	}
	if a.Pos.X == endX {
		s.kb.ClearCommand(s.id)
		s.kb.UpdateAgent(s.id, blackboard.AgentUpdate{Status: blackboard.Ptr(blackboard.StatusIdle)})
		s.log.Printf("[agent:%s] tick=%d band z=%d swept", s.id, tick, cmd.Target.Z)
		return
	}
	s.kb.UpdateAgent(s.id, blackboard.AgentUpdate{
		Pos:    blackboard.Ptr(grid.Cell{X: a.Pos.X + s.dir, Z: a.Pos.Z}),
		Status: blackboard.Ptr(blackboard.StatusScouting),
	})
}

// flyToward moves one cell toward target, x axis first. Terrain does not
// matter to a scout.
func (s *Scout) flyToward(a blackboard.AgentState, target grid.Cell) {
	next := a.Pos
	switch {
	case target.X > a.Pos.X:
		next.X++
	case target.X < a.Pos.X:
		next.X--
	case target.Z > a.Pos.Z:
		next.Z++
	case target.Z < a.Pos.Z:
		next.Z--
	}
	s.kb.UpdateAgent(s.id, blackboard.AgentUpdate{
		Pos:    blackboard.Ptr(next),
		Status: blackboard.Ptr(blackboard.StatusScouting),
	})
}

// scan inspects the column under the scout across the band's three rows.
func (s *Scout) scan(tick uint64, pos grid.Cell, bandZ int) {
	a, _ := s.kb.Agent(s.id)
	analyzed := a.FieldsAnalyzed
	for dz := -1; dz <= 1; dz++ {
		c := grid.Cell{X: pos.X, Z: bandZ + dz}
		if s.reported[c] {
			continue
		}
		if s.kb.Tile(c.X, c.Z) != grid.Field {
			continue
		}
		s.reported[c] = true
		analyzed++
		level := s.kb.Infestation(c.X, c.Z)
		if level <= 0 {
			continue
		}
		s.kb.EmitEvent(blackboard.Event{
			Type:        blackboard.EventFieldDiscovered,
			Source:      s.id,
			AgentID:     s.id,
			Pos:         c,
			Infestation: level,
			Crop:        s.kb.Crop(c.X, c.Z),
		})
	}
	if analyzed != a.FieldsAnalyzed {
		s.kb.UpdateAgent(s.id, blackboard.AgentUpdate{FieldsAnalyzed: blackboard.Ptr(analyzed)})
	}
}
