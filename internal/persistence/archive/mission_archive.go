package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cropguard.ai/internal/sim/blackboard"
)

type MissionArchiveMeta struct {
	WorldID        string `json:"world_id"`
	EndTick        uint64 `json:"end_tick"`
	Snapshot       string `json:"snapshot"`
	CreatedAt      string `json:"created_at"`
	TasksCreated   int    `json:"tasks_created"`
	TasksCompleted int    `json:"tasks_completed"`
	TasksFailed    int    `json:"tasks_failed"`
	FieldsTreated  int    `json:"fields_treated"`
	FieldsAnalyzed int    `json:"fields_analyzed"`
}

// ArchiveMission copies the final snapshot of a finished mission into
// `missionDir/archives/mission_<tick>/` next to a meta.json carrying the end
// statistics, so the snapshot dir can be pruned without losing the record.
func ArchiveMission(missionDir, snapshotPath string, snap blackboard.Snapshot, st blackboard.Statistics) (string, error) {
	archiveDir := filepath.Join(missionDir, "archives", fmt.Sprintf("mission_%08d", snap.Tick))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", err
	}

	meta := MissionArchiveMeta{
		WorldID:        snap.WorldID,
		EndTick:        snap.Tick,
		Snapshot:       filepath.Base(dst),
		CreatedAt:      time.Now().UTC().Format(time.RFC3339Nano),
		TasksCreated:   st.TasksCreated,
		TasksCompleted: st.TasksCompleted,
		TasksFailed:    st.TasksFailed,
		FieldsTreated:  st.FieldsTreated,
		FieldsAnalyzed: st.FieldsAnalyzed,
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
