package indexdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"cropguard.ai/internal/sim/blackboard"
)

// SQLiteIndex is the queryable mission index. All writes funnel through a
// single goroutine over a buffered channel; when the channel is full the
// write is dropped, the JSONL mission logs remain the source of truth.
type SQLiteIndex struct {
	db *sqlx.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqEvent
	reqInfestation
	reqMission
	reqFlush
)

type req struct {
	kind    reqKind
	tick    TickRow
	event   blackboard.Event
	cells   []CellRow
	mission MissionRow
	done    chan struct{}
}

type TickRow struct {
	Tick        uint64 `db:"tick"`
	Activations int    `db:"activations"`
	Events      int    `db:"events"`
	TasksLive   int    `db:"tasks_live"`
	Agents      int    `db:"agents"`
}

type EventRow struct {
	Seq     uint64 `db:"seq"`
	Tick    uint64 `db:"tick"`
	Type    string `db:"type"`
	Source  string `db:"source"`
	AgentID string `db:"agent_id"`
	TaskID  string `db:"task_id"`
	X       int    `db:"x"`
	Z       int    `db:"z"`
	Level   int    `db:"level"`
	Detail  string `db:"detail"`
}

type CellRow struct {
	X           int    `db:"x"`
	Z           int    `db:"z"`
	Level       int    `db:"level"`
	UpdatedTick uint64 `db:"updated_tick"`
}

type MissionRow struct {
	WorldID        string `db:"world_id"`
	EndTick        uint64 `db:"end_tick"`
	TasksCreated   int    `db:"tasks_created"`
	TasksCompleted int    `db:"tasks_completed"`
	TasksFailed    int    `db:"tasks_failed"`
	FieldsTreated  int    `db:"fields_treated"`
	FieldsAnalyzed int    `db:"fields_analyzed"`
	RecordedAt     string `db:"recorded_at"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sqlx.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			activations INTEGER NOT NULL,
			events INTEGER NOT NULL,
			tasks_live INTEGER NOT NULL,
			agents INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY,
			tick INTEGER NOT NULL,
			type TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL DEFAULT '',
			task_id TEXT NOT NULL DEFAULT '',
			x INTEGER NOT NULL DEFAULT 0,
			z INTEGER NOT NULL DEFAULT 0,
			level INTEGER NOT NULL DEFAULT 0,
			detail TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);`,
		`CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_id, tick);`,
		`CREATE TABLE IF NOT EXISTS infestation (
			x INTEGER NOT NULL,
			z INTEGER NOT NULL,
			level INTEGER NOT NULL,
			updated_tick INTEGER NOT NULL,
			PRIMARY KEY (x, z)
		);`,
		`CREATE TABLE IF NOT EXISTS missions (
			world_id TEXT NOT NULL,
			end_tick INTEGER NOT NULL,
			tasks_created INTEGER NOT NULL,
			tasks_completed INTEGER NOT NULL,
			tasks_failed INTEGER NOT NULL,
			fields_treated INTEGER NOT NULL,
			fields_analyzed INTEGER NOT NULL,
			recorded_at TEXT NOT NULL,
			PRIMARY KEY (world_id, end_tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) WriteTick(row TickRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqTick, tick: row}:
	default:
	}
}

func (s *SQLiteIndex) WriteEvent(ev blackboard.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEvent, event: ev}:
	default:
	}
}

// WriteInfestation upserts the latest observed level per cell.
func (s *SQLiteIndex) WriteInfestation(tick uint64, levels [][]int) {
	if s == nil || s.closed.Load() {
		return
	}
	var cells []CellRow
	for z, row := range levels {
		for x, lvl := range row {
			if lvl <= 0 {
				continue
			}
			cells = append(cells, CellRow{X: x, Z: z, Level: lvl, UpdatedTick: tick})
		}
	}
	select {
	case s.ch <- req{kind: reqInfestation, cells: cells}:
	default:
	}
}

func (s *SQLiteIndex) RecordMission(worldID string, st blackboard.Statistics) {
	if s == nil || s.closed.Load() {
		return
	}
	row := MissionRow{
		WorldID:        worldID,
		EndTick:        st.Tick,
		TasksCreated:   st.TasksCreated,
		TasksCompleted: st.TasksCompleted,
		TasksFailed:    st.TasksFailed,
		FieldsTreated:  st.FieldsTreated,
		FieldsAnalyzed: st.FieldsAnalyzed,
		RecordedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqMission, mission: row}:
	default:
	}
}

func (s *SQLiteIndex) loop() {
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,activations,events,tasks_live,agents) VALUES(?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(seq,tick,type,source,agent_id,task_id,x,z,level,detail) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	upsertCell, _ := s.db.Prepare(`INSERT OR REPLACE INTO infestation(x,z,level,updated_tick) VALUES(?,?,?,?)`)
	insertMission, _ := s.db.Prepare(`INSERT OR REPLACE INTO missions(world_id,end_tick,tasks_created,tasks_completed,tasks_failed,fields_treated,fields_analyzed,recorded_at) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []interface{ Close() error }{insertTick, insertEvent, upsertCell, insertMission} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	for r := range s.ch {
		switch r.kind {
		case reqTick:
			if insertTick != nil {
				_, _ = insertTick.Exec(r.tick.Tick, r.tick.Activations, r.tick.Events, r.tick.TasksLive, r.tick.Agents)
			}
		case reqEvent:
			if insertEvent != nil {
				ev := r.event
				level := ev.Level
				if level == 0 {
					level = ev.Infestation
				}
				_, _ = insertEvent.Exec(ev.Seq, ev.Tick, string(ev.Type), ev.Source, ev.AgentID, ev.TaskID, ev.Pos.X, ev.Pos.Z, level, ev.Detail)
			}
		case reqInfestation:
			if upsertCell != nil {
				for _, c := range r.cells {
					_, _ = upsertCell.Exec(c.X, c.Z, c.Level, c.UpdatedTick)
				}
			}
		case reqMission:
			if insertMission != nil {
				m := r.mission
				_, _ = insertMission.Exec(m.WorldID, m.EndTick, m.TasksCreated, m.TasksCompleted, m.TasksFailed, m.FieldsTreated, m.FieldsAnalyzed, m.RecordedAt)
			}
		case reqFlush:
			close(r.done)
		}
	}
}

// Flush blocks until everything queued so far is written. Tests and the
// shutdown path use it; the tick loop never does.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqFlush, done: done}
	<-done
}

// ---- read side ----

func (s *SQLiteIndex) TickCount() (int, error) {
	var n int
	err := s.db.Get(&n, `SELECT COUNT(*) FROM ticks`)
	return n, err
}

func (s *SQLiteIndex) EventsForTask(taskID string) ([]EventRow, error) {
	var rows []EventRow
	err := s.db.Select(&rows, `SELECT seq,tick,type,source,agent_id,task_id,x,z,level,detail FROM events WHERE task_id=? ORDER BY seq`, taskID)
	return rows, err
}

func (s *SQLiteIndex) EventsForAgent(agentID string) ([]EventRow, error) {
	var rows []EventRow
	err := s.db.Select(&rows, `SELECT seq,tick,type,source,agent_id,task_id,x,z,level,detail FROM events WHERE agent_id=? ORDER BY seq`, agentID)
	return rows, err
}

func (s *SQLiteIndex) InfestationCells() ([]CellRow, error) {
	var rows []CellRow
	err := s.db.Select(&rows, `SELECT x,z,level,updated_tick FROM infestation ORDER BY z,x`)
	return rows, err
}

func (s *SQLiteIndex) Missions() ([]MissionRow, error) {
	var rows []MissionRow
	err := s.db.Select(&rows, `SELECT world_id,end_tick,tasks_created,tasks_completed,tasks_failed,fields_treated,fields_analyzed,recorded_at FROM missions ORDER BY end_tick`)
	return rows, err
}
