package blackboard

import (
	"log"
	"sort"

	"cropguard.ai/internal/sim/grid"
	"cropguard.ai/internal/sim/tuning"
)

// Stepper is anything that acts during the tick after the control cycle
// ran, in practice the field agents. Steppers run sequentially in id order.
type Stepper interface {
	ID() string
	Step(tick uint64)
}

// Blackboard wires the knowledge base, the control component and the
// standard set of knowledge sources into one tickable unit.
type Blackboard struct {
	log *log.Logger
	kb  *KnowledgeBase
	cc  *ControlComponent

	steppers []Stepper
}

func New(world *grid.World, tune tuning.Tuning, logger *log.Logger) *Blackboard {
	return Resume(NewKnowledgeBase(world, tune, logger), logger)
}

// Resume wires the standard knowledge sources around an existing knowledge
// base, typically one rebuilt from a snapshot.
func Resume(kb *KnowledgeBase, logger *log.Logger) *Blackboard {
	tune := kb.Tuning()
	cc := NewControlComponent(logger, tune.EventWindow, tune.MaxActivations)

	// Run order within a tick: completion check on the settled previous
	// state, then new facts, allocation, resource checks, routing, and
	// conflict correction last so it sees the tick's other effects.
	paths := NewPathPlanner(logger, kb)
	cc.Register(NewMissionController(logger))
	cc.Register(NewTaskPlanner(logger))
	cc.Register(NewTaskAllocator(logger))
	cc.Register(NewResourceManager(logger))
	cc.Register(paths)
	cc.Register(NewConflictResolver(logger, paths))
	cc.Register(NewScoutCoordinator(logger))

	return &Blackboard{log: logger, kb: kb, cc: cc}
}

func (b *Blackboard) KB() *KnowledgeBase        { return b.kb }
func (b *Blackboard) Control() *ControlComponent { return b.cc }

func (b *Blackboard) AddStepper(s Stepper) {
	b.steppers = append(b.steppers, s)
	sort.SliceStable(b.steppers, func(i, j int) bool {
		return b.steppers[i].ID() < b.steppers[j].ID()
	})
}

// Tick runs one coordination cycle followed by every agent's step.
func (b *Blackboard) Tick(t uint64) {
	b.kb.SetTick(t)
	b.cc.RunCycle(b.kb, t)
	for _, s := range b.steppers {
		s.Step(t)
	}
}

// SeedDiscoveries emits a discovery event for every infested field cell,
// standing in for a prior survey when the mission runs without scouts.
func (b *Blackboard) SeedDiscoveries() int {
	width, height := b.kb.Dims()
	n := 0
	for z := 0; z < height; z++ {
		for x := 0; x < width; x++ {
			if b.kb.Tile(x, z) != grid.Field {
				continue
			}
			if b.kb.Infestation(x, z) <= 0 {
				continue
			}
			b.kb.EmitEvent(Event{
				Type:        EventFieldDiscovered,
				Source:      "seed",
				Pos:         grid.Cell{X: x, Z: z},
				Infestation: b.kb.Infestation(x, z),
			})
			n++
		}
	}
	b.log.Printf("[blackboard] seeded %d discovery(ies)", n)
	return n
}
