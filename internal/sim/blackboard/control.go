package blackboard

import (
	"log"
	"sort"
)

// KnowledgeSource is one specialist in the coordination layer. Sources are
// stateless between cycles except for what they keep in the knowledge base
// or in their own fields; they run one at a time, never concurrently.
type KnowledgeSource interface {
	Name() string

	// Priority orders activation within a cycle; lower runs first.
	Priority() int

	// Triggers lists the event types that activate the source. A source
	// with AlwaysRun true is considered on every cycle regardless.
	Triggers() []EventType
	AlwaysRun() bool

	// Precondition gates execution after the trigger matched.
	Precondition(kb *KnowledgeBase) bool

	Execute(kb *KnowledgeBase, tick uint64)
}

// ControlComponent drives the knowledge sources. Each cycle it reads the
// events appended since its cursor, picks the sources whose triggers match,
// and executes them in priority order under an activation budget. A
// panicking source is logged and skipped; one bad specialist must not take
// the tick down.
type ControlComponent struct {
	log     *log.Logger
	sources []KnowledgeSource

	cursor      uint64
	window      int
	maxPerCycle int

	cycles      int
	activations int
}

func NewControlComponent(logger *log.Logger, window, maxPerCycle int) *ControlComponent {
	return &ControlComponent{log: logger, window: window, maxPerCycle: maxPerCycle}
}

func (cc *ControlComponent) Register(ks KnowledgeSource) {
	cc.sources = append(cc.sources, ks)
	sort.SliceStable(cc.sources, func(i, j int) bool {
		return cc.sources[i].Priority() < cc.sources[j].Priority()
	})
}

func (cc *ControlComponent) Sources() []KnowledgeSource {
	return append([]KnowledgeSource(nil), cc.sources...)
}

// RunCycle executes one control cycle for the given tick and returns the
// number of sources activated.
func (cc *ControlComponent) RunCycle(kb *KnowledgeBase, tick uint64) int {
	cc.cycles++
	events := kb.EventsSince(cc.cursor, cc.window)
	if n := len(events); n > 0 {
		cc.cursor = events[n-1].Seq
	} else {
		cc.cursor = kb.LastEventSeq()
	}

	seen := map[EventType]bool{}
	for _, ev := range events {
		seen[ev.Type] = true
	}

	ran := 0
	for _, ks := range cc.sources {
		if ran >= cc.maxPerCycle {
			cc.log.Printf("[control] tick=%d activation budget reached (%d)", tick, cc.maxPerCycle)
			break
		}
		if !cc.triggered(ks, seen) {
			continue
		}
		if !cc.safePrecondition(ks, kb) {
			continue
		}
		cc.safeExecute(ks, kb, tick)
		ran++
		cc.activations++
	}
	return ran
}

func (cc *ControlComponent) triggered(ks KnowledgeSource, seen map[EventType]bool) bool {
	if ks.AlwaysRun() {
		return true
	}
	for _, t := range ks.Triggers() {
		if seen[t] {
			return true
		}
	}
	return false
}

func (cc *ControlComponent) safePrecondition(ks KnowledgeSource, kb *KnowledgeBase) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			cc.log.Printf("[control] %s precondition panic: %v", ks.Name(), r)
			ok = false
		}
	}()
	return ks.Precondition(kb)
}

func (cc *ControlComponent) safeExecute(ks KnowledgeSource, kb *KnowledgeBase, tick uint64) {
	defer func() {
		if r := recover(); r != nil {
			cc.log.Printf("[control] %s execute panic: %v", ks.Name(), r)
		}
	}()
	ks.Execute(kb, tick)
}

// Cycles and Activations report scheduler totals for the final summary.
func (cc *ControlComponent) Cycles() int      { return cc.cycles }
func (cc *ControlComponent) Activations() int { return cc.activations }
