package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"cropguard.ai/internal/persistence/indexdb"
)

// admin queries the read-model index of a recorded mission.
func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "missions":
			missionsCmd(os.Args[2:])
			return
		case "task":
			eventsCmd(os.Args[2:], "task")
			return
		case "agent":
			eventsCmd(os.Args[2:], "agent")
			return
		case "infestation":
			infestationCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func openIndex(fs *flag.FlagSet, args []string) *indexdb.SQLiteIndex {
	dbPath := fs.String("db", "", "path to index.db")
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "mission world id (used when -db is empty)")
	_ = fs.Parse(args)

	path := *dbPath
	if path == "" {
		if *worldID == "" {
			fmt.Fprintln(os.Stderr, "missing -db or -world")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "missions", *worldID, "index.db")
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open index:", err)
		os.Exit(1)
	}
	return idx
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "missions"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

func missionsCmd(args []string) {
	idx := openIndex(flag.NewFlagSet("missions", flag.ExitOnError), args)
	defer idx.Close()

	rows, err := idx.Missions()
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	ticks, err := idx.TickCount()
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	fmt.Printf("ticks indexed: %d\n", ticks)
	for _, m := range rows {
		fmt.Printf("world=%s end_tick=%d created=%d completed=%d failed=%d treated=%d analyzed=%d recorded=%s\n",
			m.WorldID, m.EndTick, m.TasksCreated, m.TasksCompleted, m.TasksFailed, m.FieldsTreated, m.FieldsAnalyzed, m.RecordedAt)
	}
}

func eventsCmd(args []string, kind string) {
	fs := flag.NewFlagSet(kind, flag.ExitOnError)
	id := fs.String("id", "", kind+" id")
	idx := openIndex(fs, args)
	defer idx.Close()

	if *id == "" {
		fmt.Fprintln(os.Stderr, "missing -id")
		os.Exit(2)
	}

	var rows []indexdb.EventRow
	var err error
	if kind == "task" {
		rows, err = idx.EventsForTask(*id)
	} else {
		rows, err = idx.EventsForAgent(*id)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		fmt.Printf("tick=%-6d seq=%-6d %-24s source=%-18s agent=%-10s task=%s (%d,%d) level=%d %s\n",
			r.Tick, r.Seq, r.Type, r.Source, r.AgentID, r.TaskID, r.X, r.Z, r.Level, r.Detail)
	}
}

func infestationCmd(args []string) {
	idx := openIndex(flag.NewFlagSet("infestation", flag.ExitOnError), args)
	defer idx.Close()

	rows, err := idx.InfestationCells()
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, c := range rows {
		fmt.Printf("(%d,%d) level=%d updated_tick=%d\n", c.X, c.Z, c.Level, c.UpdatedTick)
	}
}
