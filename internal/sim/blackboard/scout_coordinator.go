package blackboard

import (
	"log"

	"cropguard.ai/internal/sim/grid"
)

// ScoutCoordinator hands out survey bands to idle scouts. The map is swept
// in horizontal bands spaced by the row step; scouts scan the rows adjacent
// to their sweep row, so the default step of three gives full coverage.
// Bands alternate direction so consecutive sweeps meet at the map edge
// rather than crossing the whole width again.
//
// When every band is handed out and all scouts have gone idle, the
// coordinator declares exploration complete.
type ScoutCoordinator struct {
	log      *log.Logger
	nextRow  int
	dirRight bool
	done     bool
}

func NewScoutCoordinator(logger *log.Logger) *ScoutCoordinator {
	return &ScoutCoordinator{log: logger, dirRight: true}
}

func (s *ScoutCoordinator) Name() string          { return "scout-coordinator" }
func (s *ScoutCoordinator) Priority() int         { return 70 }
func (s *ScoutCoordinator) AlwaysRun() bool       { return true }
func (s *ScoutCoordinator) Triggers() []EventType { return nil }

func (s *ScoutCoordinator) Precondition(kb *KnowledgeBase) bool {
	return !s.done && len(kb.AgentsByRole(RoleScout)) > 0
}

func (s *ScoutCoordinator) Execute(kb *KnowledgeBase, tick uint64) {
	tune := kb.Tuning()
	width, height := kb.Dims()

	for _, scout := range kb.IdleAgents(RoleScout) {
		if s.nextRow >= height {
			break
		}
		startX := 0
		if !s.dirRight {
			startX = width - 1
		}
		kb.SetCommand(scout.ID, Command{
			Action: ActionExplore,
			Target: grid.Cell{X: startX, Z: s.nextRow},
		})
		kb.UpdateAgent(scout.ID, AgentUpdate{Status: Ptr(StatusScouting)})
		s.log.Printf("[scouts] tick=%d agent=%s band z=%d start x=%d", tick, scout.ID, s.nextRow, startX)
		s.nextRow += tune.ScoutRowStep
		s.dirRight = !s.dirRight
	}

	if s.nextRow < height {
		return
	}
	for _, scout := range kb.AgentsByRole(RoleScout) {
		if scout.Status != StatusIdle {
			return
		}
	}

	coverage := s.coverage(height, tune.ScoutRowStep)
	if coverage < tune.CoverageComplete {
		s.log.Printf("[scouts] tick=%d sweep finished at %.1f%% coverage, below threshold", tick, coverage)
	}
	s.done = true
	kb.SetExplorationComplete()
	kb.EmitEvent(Event{
		Type:     EventExplorationComplete,
		Source:   s.Name(),
		Coverage: coverage,
	})
	s.log.Printf("[scouts] tick=%d exploration complete, coverage=%.1f%%", tick, coverage)
}

// coverage estimates the fraction of rows scanned: each band covers its
// sweep row plus the row on either side.
func (s *ScoutCoordinator) coverage(height, step int) float64 {
	if height == 0 {
		return 0
	}
	covered := map[int]bool{}
	for z := 0; z < height; z += step {
		for dz := -1; dz <= 1; dz++ {
			if z+dz >= 0 && z+dz < height {
				covered[z+dz] = true
			}
		}
	}
	return 100 * float64(len(covered)) / float64(height)
}
