package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"cropguard.ai/internal/persistence/snapshot"
	"cropguard.ai/internal/sim/blackboard"
)

// replay inspects a recorded mission: prints the snapshot summary and walks
// the zstd-compressed event log, optionally filtered to a tick range or a
// single agent.
func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst")
		missionDir = flag.String("mission", "", "mission dir containing events-*.jsonl.zst (optional)")
		fromTick   = flag.Uint64("from_tick", 0, "print events from tick (inclusive, optional)")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
		agentID    = flag.String("agent", "", "only events touching this agent (optional)")
		quiet      = flag.Bool("quiet", false, "summary only, no per-event lines")
	)
	flag.Parse()

	if *snapPath == "" && *missionDir == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot or -mission")
		os.Exit(2)
	}

	if *snapPath != "" {
		snap, err := snapshot.Read(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		printSnapshot(snap)
	}

	if *missionDir == "" {
		return
	}

	files, err := listEventFiles(filepath.Join(*missionDir, "events"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", *missionDir)
		os.Exit(1)
	}

	counts := map[blackboard.EventType]int{}
	var total, shown int
	var firstTick, lastTick uint64
	for _, path := range files {
		err := scanFile(path, func(ev blackboard.Event) {
			if ev.Tick < *fromTick {
				return
			}
			if *toTick != 0 && ev.Tick > *toTick {
				return
			}
			if *agentID != "" && ev.AgentID != *agentID && ev.Source != *agentID {
				return
			}
			if total == 0 || ev.Tick < firstTick {
				firstTick = ev.Tick
			}
			if ev.Tick > lastTick {
				lastTick = ev.Tick
			}
			total++
			counts[ev.Type]++
			if !*quiet {
				shown++
				fmt.Printf("tick=%-6d seq=%-6d %-24s source=%-18s agent=%-10s task=%s %s\n",
					ev.Tick, ev.Seq, ev.Type, ev.Source, ev.AgentID, ev.TaskID, ev.Detail)
			}
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
	}

	fmt.Printf("events: %d (ticks %d..%d)\n", total, firstTick, lastTick)
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-24s %d\n", k, counts[blackboard.EventType(k)])
	}
}

func printSnapshot(snap blackboard.Snapshot) {
	var infested int
	for _, row := range snap.Infestation {
		for _, lvl := range row {
			if lvl > 0 {
				infested++
			}
		}
	}
	fmt.Printf("snapshot world=%s tick=%d seq=%d size=%dx%d agents=%d tasks=%d infested=%d exploration_complete=%v mission_complete=%v\n",
		snap.WorldID, snap.Tick, snap.EventSeq, snap.Width, snap.Height,
		len(snap.Agents), len(snap.Tasks), infested, snap.ExplorationComplete, snap.MissionComplete)
	for _, a := range snap.Agents {
		fmt.Printf("  agent %-10s role=%-6s pos=(%d,%d) status=%-18s reserve=%d/%d treated=%d analyzed=%d\n",
			a.ID, a.Role, a.Pos.X, a.Pos.Z, a.Status, a.ResourceLevel, a.ResourceCapacity, a.FieldsTreated, a.FieldsAnalyzed)
	}
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func scanFile(path string, fn func(blackboard.Event)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var ev blackboard.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		fn(ev)
	}
	return sc.Err()
}
