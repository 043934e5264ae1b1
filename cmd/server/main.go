package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"cropguard.ai/internal/persistence/indexdb"
	persistlog "cropguard.ai/internal/persistence/log"
	"cropguard.ai/internal/persistence/snapshot"
	"cropguard.ai/internal/protocol"
	"cropguard.ai/internal/sim/agent"
	"cropguard.ai/internal/sim/blackboard"
	"cropguard.ai/internal/sim/grid"
	"cropguard.ai/internal/sim/runner"
	"cropguard.ai/internal/sim/tuning"
	"cropguard.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		worldPath  = flag.String("world", "", "world file (default: <configs>/worlds/demo.yaml)")
		fleetPath  = flag.String("fleet", "", "fleet file (default: <configs>/fleet.yaml)")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite read-model index")
		seed       = flag.Bool("seed_discoveries", false, "seed discoveries from the world file instead of scouting")

		snapPath      = flag.String("snapshot", "", "path to snapshot to resume from (optional)")
		loadLatest    = flag.Bool("load_latest_snapshot", true, "resume from latest snapshot in data dir if present (when -snapshot is empty)")
		snapshotEvery = flag.Int("snapshot_every", 200, "write a snapshot every N ticks (0 to disable)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if *seed {
		tune.SeedDiscoveries = true
	}

	wp := strings.TrimSpace(*worldPath)
	if wp == "" {
		wp = filepath.Join(*configDir, "worlds", "demo.yaml")
	}
	fp := strings.TrimSpace(*fleetPath)
	if fp == "" {
		fp = filepath.Join(*configDir, "fleet.yaml")
	}

	// Mission resumed from snapshot or started fresh from the world file.
	var bb *blackboard.Blackboard
	var missionDir string
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = latestSnapshot(*dataDir)
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.Read(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		kb := blackboard.RestoreKnowledgeBase(snap, tune, logger)
		bb = blackboard.Resume(kb, logger)
		if n := agent.Reattach(bb, logger); n == 0 {
			logger.Fatalf("snapshot %s has no active agents", snapshotToLoad)
		}
		missionDir = filepath.Join(*dataDir, "missions", snap.WorldID)
		logger.Printf("resumed from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), kb.CurrentTick())
	} else {
		world, err := grid.LoadFile(wp, tune.FieldWeightCap)
		if err != nil {
			logger.Fatalf("load world: %v", err)
		}
		bb = blackboard.New(world, tune, logger)
		roster, err := agent.LoadRoster(fp)
		if err != nil {
			logger.Fatalf("load fleet: %v", err)
		}
		if err := agent.Deploy(roster, bb, logger); err != nil {
			logger.Fatalf("deploy fleet: %v", err)
		}
		missionDir = filepath.Join(*dataDir, "missions", world.ID)
	}
	kb := bb.KB()
	_ = os.MkdirAll(missionDir, 0o755)

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(missionDir, "index.db"))
		if err != nil {
			logger.Fatalf("open index backend: %v", err)
		}
		defer idx.Close()
	}

	eventLog := persistlog.NewEventLogger(missionDir)
	statsLog := persistlog.NewStatsLogger(missionDir)
	defer eventLog.Close()
	defer statsLog.Close()

	width, height := kb.Dims()
	terrain := kb.TerrainRows()
	hub := ws.NewHub(logger, func(sessionID string) protocol.WelcomeMsg {
		return protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			SessionID:       sessionID,
			WorldParams: protocol.WorldParams{
				WorldID:    kb.WorldID(),
				Width:      width,
				Height:     height,
				TickRateHz: tune.TickRateHz,
				MaxTicks:   tune.MaxTicks,
			},
			Terrain: terrain,
			Tick:    kb.CurrentTick(),
		}
	})

	r := runner.New(bb, logger, runner.Options{
		Hub:           hub,
		Index:         idx,
		EventLog:      eventLog,
		StatsLog:      statsLog,
		SnapshotDir:   filepath.Join(missionDir, "snapshots"),
		SnapshotEvery: *snapshotEvery,
	})
	_ = os.MkdirAll(filepath.Join(missionDir, "snapshots"), 0o755)

	ctx, cancel := signalContext()
	defer cancel()

	missionDone := make(chan struct{})
	go func() {
		defer close(missionDone)
		if _, err := r.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("mission stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/state", func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			WorldID string                `json:"world_id"`
			Tick    uint64                `json:"tick"`
			Clients int                   `json:"clients"`
			Stats   blackboard.Statistics `json:"stats"`
		}{
			WorldID: kb.WorldID(),
			Tick:    kb.CurrentTick(),
			Clients: hub.ClientCount(),
			Stats:   kb.Statistics(),
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, req *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		st := kb.Statistics()
		worldID := kb.WorldID()

		fmt.Fprintf(rw, "# HELP cropguard_mission_tick Current mission tick.\n")
		fmt.Fprintf(rw, "# TYPE cropguard_mission_tick gauge\n")
		fmt.Fprintf(rw, "cropguard_mission_tick{world=%q} %d\n", worldID, st.Tick)

		fmt.Fprintf(rw, "# HELP cropguard_mission_agents Active agents on the mission.\n")
		fmt.Fprintf(rw, "# TYPE cropguard_mission_agents gauge\n")
		fmt.Fprintf(rw, "cropguard_mission_agents{world=%q} %d\n", worldID, st.ActiveAgents)

		fmt.Fprintf(rw, "# HELP cropguard_mission_clients Connected observer clients.\n")
		fmt.Fprintf(rw, "# TYPE cropguard_mission_clients gauge\n")
		fmt.Fprintf(rw, "cropguard_mission_clients{world=%q} %d\n", worldID, hub.ClientCount())

		fmt.Fprintf(rw, "# HELP cropguard_mission_tasks Task counts by state.\n")
		fmt.Fprintf(rw, "# TYPE cropguard_mission_tasks gauge\n")
		fmt.Fprintf(rw, "cropguard_mission_tasks{world=%q,state=%q} %d\n", worldID, "pending", st.TasksPending)
		fmt.Fprintf(rw, "cropguard_mission_tasks{world=%q,state=%q} %d\n", worldID, "live", st.TasksLive)
		fmt.Fprintf(rw, "cropguard_mission_tasks{world=%q,state=%q} %d\n", worldID, "completed", st.TasksCompleted)
		fmt.Fprintf(rw, "cropguard_mission_tasks{world=%q,state=%q} %d\n", worldID, "failed", st.TasksFailed)

		fmt.Fprintf(rw, "# HELP cropguard_fields_treated Fields treated so far.\n")
		fmt.Fprintf(rw, "# TYPE cropguard_fields_treated counter\n")
		fmt.Fprintf(rw, "cropguard_fields_treated{world=%q} %d\n", worldID, st.FieldsTreated)

		fmt.Fprintf(rw, "# HELP cropguard_fields_analyzed Fields scanned by scouts so far.\n")
		fmt.Fprintf(rw, "# TYPE cropguard_fields_analyzed counter\n")
		fmt.Fprintf(rw, "cropguard_fields_analyzed{world=%q} %d\n", worldID, st.FieldsAnalyzed)
	})
	mux.HandleFunc("/v1/ws", hub.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-missionDone:
			// Give observers a moment to drain MISSION_COMPLETE.
			time.Sleep(time.Second)
		}
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	if idx != nil {
		idx.Flush()
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// latestSnapshot scans every mission dir under the data dir for the highest
// numbered snapshot.
func latestSnapshot(dataDir string) string {
	missions, err := os.ReadDir(filepath.Join(dataDir, "missions"))
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, m := range missions {
		if !m.IsDir() {
			continue
		}
		dir := filepath.Join(dataDir, "missions", m.Name(), "snapshots")
		ents, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range ents {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
				continue
			}
			base := strings.TrimSuffix(strings.TrimPrefix(name, "mission-"), ".snap.zst")
			tick, err := strconv.ParseUint(base, 10, 64)
			if err != nil {
				continue
			}
			if best == "" || tick > bestTick {
				bestTick = tick
				best = filepath.Join(dir, name)
			}
		}
	}
	return best
}
