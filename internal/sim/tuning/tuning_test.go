package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_OverridesKeepDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	body := "stuck_window: 8\nfield_weight_factor: 2.0\n"
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	tune, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tune.StuckWindow != 8 {
		t.Fatalf("StuckWindow = %d, want 8", tune.StuckWindow)
	}
	if tune.FieldWeightFactor != 2.0 {
		t.Fatalf("FieldWeightFactor = %v, want 2.0", tune.FieldWeightFactor)
	}
	// Untouched keys keep defaults.
	if tune.TaskFailureCap != Defaults().TaskFailureCap {
		t.Fatalf("TaskFailureCap = %d, want default %d", tune.TaskFailureCap, Defaults().TaskFailureCap)
	}
}

func TestLoad_MissingFileReturnsDefaultsAndError(t *testing.T) {
	tune, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
	if tune.MaxActivations != Defaults().MaxActivations {
		t.Fatalf("defaults not returned on error")
	}
}
