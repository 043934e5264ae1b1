package runner

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"cropguard.ai/internal/persistence/archive"
	"cropguard.ai/internal/persistence/indexdb"
	persistlog "cropguard.ai/internal/persistence/log"
	"cropguard.ai/internal/persistence/snapshot"
	"cropguard.ai/internal/protocol"
	"cropguard.ai/internal/sim/blackboard"
)

const (
	ackWait          = 5 * time.Second
	infestationEvery = 50
)

// Broadcaster is the observer-facing side of the transport hub. A nil
// broadcaster runs the mission headless.
type Broadcaster interface {
	Broadcast(v any)
	AckRequested() bool
	AckFuture(commandID string) <-chan protocol.CommandAckMsg
	Forget(commandID string)
}

// Runner drives the blackboard at the configured tick rate and fans the
// results out: STEP_UPDATE and AGENT_COMMAND to observers, events to the
// JSONL log and the sqlite index, periodic snapshots to disk.
type Runner struct {
	log *log.Logger
	bb  *blackboard.Blackboard
	kb  *blackboard.KnowledgeBase

	hub    Broadcaster
	idx    *indexdb.SQLiteIndex
	events *persistlog.EventLogger
	stats  *persistlog.StatsLogger

	snapshotDir   string
	snapshotEvery int

	eventCursor uint64
}

type Options struct {
	Hub           Broadcaster
	Index         *indexdb.SQLiteIndex
	EventLog      *persistlog.EventLogger
	StatsLog      *persistlog.StatsLogger
	SnapshotDir   string
	SnapshotEvery int
}

func New(bb *blackboard.Blackboard, logger *log.Logger, opts Options) *Runner {
	return &Runner{
		log:           logger,
		bb:            bb,
		kb:            bb.KB(),
		hub:           opts.Hub,
		idx:           opts.Index,
		events:        opts.EventLog,
		stats:         opts.StatsLog,
		snapshotDir:   opts.SnapshotDir,
		snapshotEvery: opts.SnapshotEvery,
	}
}

// Run ticks until the mission completes, the tick budget runs out, or the
// context is canceled. Returns the last tick executed.
func (r *Runner) Run(ctx context.Context) (uint64, error) {
	tune := r.kb.Tuning()
	interval := time.Second / time.Duration(tune.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if tune.SeedDiscoveries {
		r.bb.SeedDiscoveries()
	}

	var tick uint64
	for {
		select {
		case <-ctx.Done():
			r.finish(tick, "canceled")
			return tick, ctx.Err()
		case <-ticker.C:
			tick++
			r.StepOnce(tick)
			if r.kb.MissionComplete() {
				r.finish(tick, "mission complete")
				return tick, nil
			}
			if tune.MaxTicks > 0 && tick >= uint64(tune.MaxTicks) {
				r.finish(tick, "tick budget exhausted")
				return tick, nil
			}
		}
	}
}

// StepOnce runs exactly one tick with all of its fan-out. Exposed for
// deterministic replays and tests.
func (r *Runner) StepOnce(tick uint64) {
	activations := r.bb.Control().Activations()
	r.bb.Tick(tick)
	activations = r.bb.Control().Activations() - activations

	fresh := r.kb.EventsSince(r.eventCursor, 0)
	if n := len(fresh); n > 0 {
		r.eventCursor = fresh[n-1].Seq
	}
	for _, ev := range fresh {
		if r.events != nil {
			if err := r.events.WriteEvent(ev); err != nil {
				r.log.Printf("[runner] event log: %v", err)
			}
		}
		if r.idx != nil {
			r.idx.WriteEvent(ev)
		}
	}

	r.mirrorCommands(tick)

	st := r.kb.Statistics()
	if r.hub != nil {
		r.hub.Broadcast(r.stepUpdate(tick, fresh, st))
	}
	if r.stats != nil {
		if err := r.stats.WriteStats(st); err != nil {
			r.log.Printf("[runner] stats log: %v", err)
		}
	}
	if r.idx != nil {
		r.idx.WriteTick(indexdb.TickRow{
			Tick:        tick,
			Activations: activations,
			Events:      len(fresh),
			TasksLive:   st.TasksLive,
			Agents:      st.ActiveAgents,
		})
		if tick%infestationEvery == 0 {
			r.idx.WriteInfestation(tick, r.kb.InfestationSnapshot())
		}
	}
	if r.snapshotEvery > 0 && tick%uint64(r.snapshotEvery) == 0 {
		r.writeSnapshot(tick)
	}
}

// mirrorCommands publishes this tick's mailbox writes. When an observer
// asked for acks the loop waits briefly per command; the ack only paces the
// renderer, a timeout never blocks coordination.
func (r *Runner) mirrorCommands(tick uint64) {
	issued := r.kb.DrainIssuedCommands()
	if r.hub == nil || len(issued) == 0 {
		return
	}
	wantAck := r.hub.AckRequested()
	for _, ic := range issued {
		msg := protocol.AgentCommandMsg{
			Type:            protocol.TypeAgentCommand,
			ProtocolVersion: protocol.Version,
			CommandID:       ic.Cmd.ID,
			AgentID:         ic.AgentID,
			Action:          string(ic.Cmd.Action),
			TaskID:          ic.Cmd.TaskID,
			TargetX:         ic.Cmd.Target.X,
			TargetZ:         ic.Cmd.Target.Z,
			Urgent:          ic.Cmd.Urgent,
			Tick:            tick,
		}
		if !wantAck {
			r.hub.Broadcast(msg)
			continue
		}
		future := r.hub.AckFuture(ic.Cmd.ID)
		r.hub.Broadcast(msg)
		select {
		case ack := <-future:
			if !ack.Accepted {
				r.log.Printf("[runner] tick=%d command %s rejected: %s %s", tick, ic.Cmd.ID, ack.Code, ack.Message)
			}
		case <-time.After(ackWait):
			r.hub.Forget(ic.Cmd.ID)
			r.log.Printf("[runner] tick=%d command %s ack timeout", tick, ic.Cmd.ID)
		}
	}
}

func (r *Runner) stepUpdate(tick uint64, fresh []blackboard.Event, st blackboard.Statistics) protocol.StepUpdateMsg {
	msg := protocol.StepUpdateMsg{
		Type:            protocol.TypeStepUpdate,
		ProtocolVersion: protocol.Version,
		Tick:            tick,
		Stats: protocol.StatsView{
			TasksCreated:   st.TasksCreated,
			TasksCompleted: st.TasksCompleted,
			TasksFailed:    st.TasksFailed,
			TasksPending:   st.TasksPending,
			FieldsTreated:  st.FieldsTreated,
			FieldsAnalyzed: st.FieldsAnalyzed,
			ActiveAgents:   st.ActiveAgents,
		},
	}
	for _, a := range r.kb.Agents() {
		msg.Agents = append(msg.Agents, protocol.AgentView{
			ID:            a.ID,
			Role:          string(a.Role),
			X:             a.Pos.X,
			Z:             a.Pos.Z,
			Status:        string(a.Status),
			ResourceLevel: a.ResourceLevel,
			TaskID:        a.CurrentTaskID,
		})
	}
	for _, t := range r.kb.Tasks() {
		if !t.Live() {
			continue
		}
		msg.Tasks = append(msg.Tasks, protocol.TaskView{
			ID:          t.ID,
			X:           t.Pos.X,
			Z:           t.Pos.Z,
			Infestation: t.InfestationLevel,
			Priority:    t.Priority.String(),
			Status:      string(t.Status),
			AgentID:     t.AssignedAgentID,
		})
	}
	for _, ev := range fresh {
		msg.Events = append(msg.Events, protocol.EventView{
			Seq:    ev.Seq,
			Type:   string(ev.Type),
			Tick:   ev.Tick,
			Source: ev.Source,
			Detail: ev.Detail,
		})
		// Treated and discovered cells ride along so renderers can patch
		// their heatmap without a full resync.
		switch ev.Type {
		case blackboard.EventFieldDiscovered, blackboard.EventTaskCompleted:
			msg.Infestation = append(msg.Infestation, protocol.CellLevel{
				X:     ev.Pos.X,
				Z:     ev.Pos.Z,
				Level: r.kb.Infestation(ev.Pos.X, ev.Pos.Z),
			})
		}
	}
	return msg
}

func (r *Runner) writeSnapshot(tick uint64) (string, blackboard.Snapshot) {
	if r.snapshotDir == "" {
		return "", blackboard.Snapshot{}
	}
	snap := r.kb.Snapshot()
	path := filepath.Join(r.snapshotDir, fmt.Sprintf("mission-%08d.snap.zst", tick))
	if err := snapshot.Write(path, snap); err != nil {
		r.log.Printf("[runner] snapshot: %v", err)
		return "", snap
	}
	r.log.Printf("[runner] snapshot written: %s", path)
	return path, snap
}

func (r *Runner) finish(tick uint64, reason string) {
	st := r.kb.Statistics()
	r.log.Printf("[runner] tick=%d finished (%s): created=%d completed=%d failed=%d treated=%d analyzed=%d",
		tick, reason, st.TasksCreated, st.TasksCompleted, st.TasksFailed, st.FieldsTreated, st.FieldsAnalyzed)

	for _, a := range r.kb.Agents() {
		r.kb.DeactivateAgent(a.ID)
	}
	if r.idx != nil {
		r.idx.WriteInfestation(tick, r.kb.InfestationSnapshot())
		r.idx.RecordMission(r.kb.WorldID(), st)
	}
	if r.snapshotDir != "" {
		path, snap := r.writeSnapshot(tick)
		if path != "" {
			missionDir := filepath.Dir(r.snapshotDir)
			if archived, err := archive.ArchiveMission(missionDir, path, snap, st); err != nil {
				r.log.Printf("[runner] archive mission: %v", err)
			} else {
				r.log.Printf("[runner] mission archived: %s", archived)
			}
		}
	}
	if r.hub != nil {
		r.hub.Broadcast(protocol.MissionCompleteMsg{
			Type:            protocol.TypeMissionComplete,
			ProtocolVersion: protocol.Version,
			Tick:            tick,
			Stats: protocol.StatsView{
				TasksCreated:   st.TasksCreated,
				TasksCompleted: st.TasksCompleted,
				TasksFailed:    st.TasksFailed,
				TasksPending:   st.TasksPending,
				FieldsTreated:  st.FieldsTreated,
				FieldsAnalyzed: st.FieldsAnalyzed,
				ActiveAgents:   0,
			},
		})
	}
}
