package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	persistlog "cropguard.ai/internal/persistence/log"
	"cropguard.ai/internal/sim/agent"
	"cropguard.ai/internal/sim/blackboard"
	"cropguard.ai/internal/sim/grid"
	"cropguard.ai/internal/sim/runner"
	"cropguard.ai/internal/sim/tuning"
)

// sim runs a mission headless as fast as the CPU allows and prints the end
// statistics. Useful for tuning experiments and scenario regression runs.
func main() {
	var (
		configDir  = flag.String("configs", "./configs", "config directory")
		worldPath  = flag.String("world", "", "world file (default: <configs>/worlds/demo.yaml)")
		fleetPath  = flag.String("fleet", "", "fleet file (default: <configs>/fleet.yaml)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "", "write event/stats logs under this dir (optional)")
		seed       = flag.Bool("seed_discoveries", false, "seed discoveries from the world file instead of scouting")
		quiet      = flag.Bool("quiet", false, "suppress engine logs")
	)
	flag.Parse()

	out := log.New(os.Stdout, "[sim] ", log.LstdFlags|log.Lmicroseconds)
	engineLog := out
	if *quiet {
		engineLog = log.New(io.Discard, "", 0)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			out.Fatalf("load tuning: %v", err)
		}
		tune = tuning.Defaults()
	}
	if *seed {
		tune.SeedDiscoveries = true
	}

	wp := strings.TrimSpace(*worldPath)
	if wp == "" {
		wp = filepath.Join(*configDir, "worlds", "demo.yaml")
	}
	world, err := grid.LoadFile(wp, tune.FieldWeightCap)
	if err != nil {
		out.Fatalf("load world: %v", err)
	}

	bb := blackboard.New(world, tune, engineLog)
	fp := strings.TrimSpace(*fleetPath)
	if fp == "" {
		fp = filepath.Join(*configDir, "fleet.yaml")
	}
	roster, err := agent.LoadRoster(fp)
	if err != nil {
		out.Fatalf("load fleet: %v", err)
	}
	if err := agent.Deploy(roster, bb, engineLog); err != nil {
		out.Fatalf("deploy fleet: %v", err)
	}

	opts := runner.Options{}
	if *dataDir != "" {
		missionDir := filepath.Join(*dataDir, "missions", world.ID)
		_ = os.MkdirAll(missionDir, 0o755)
		eventLog := persistlog.NewEventLogger(missionDir)
		statsLog := persistlog.NewStatsLogger(missionDir)
		defer eventLog.Close()
		defer statsLog.Close()
		opts.EventLog = eventLog
		opts.StatsLog = statsLog
	}
	r := runner.New(bb, engineLog, opts)

	if tune.SeedDiscoveries {
		bb.SeedDiscoveries()
	}
	kb := bb.KB()
	var tick uint64
	for tick = 1; ; tick++ {
		r.StepOnce(tick)
		if kb.MissionComplete() {
			break
		}
		if tune.MaxTicks > 0 && tick >= uint64(tune.MaxTicks) {
			out.Printf("tick budget exhausted at %d", tick)
			break
		}
	}

	st := kb.Statistics()
	fmt.Printf("world=%s ticks=%d complete=%v\n", world.ID, tick, kb.MissionComplete())
	fmt.Printf("tasks: created=%d completed=%d failed=%d pending=%d\n",
		st.TasksCreated, st.TasksCompleted, st.TasksFailed, st.TasksPending)
	fmt.Printf("fields: treated=%d analyzed=%d\n", st.FieldsTreated, st.FieldsAnalyzed)
	for _, a := range kb.Agents() {
		fmt.Printf("agent %-10s role=%-6s pos=(%d,%d) status=%s reserve=%d treated=%d analyzed=%d\n",
			a.ID, a.Role, a.Pos.X, a.Pos.Z, a.Status, a.ResourceLevel, a.FieldsTreated, a.FieldsAnalyzed)
	}
}
