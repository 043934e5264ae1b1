package grid

import "testing"

func TestWorld_OutOfRangeAccessIsZero(t *testing.T) {
	w := New("t", 4, 3, 60)
	if got := w.Tile(-1, 0); got != Impassable {
		t.Fatalf("tile at -1,0 = %v, want Impassable", got)
	}
	if got := w.InfestationAt(10, 10); got != 0 {
		t.Fatalf("infestation out of range = %d, want 0", got)
	}
	w.SetInfestation(99, 99, 50) // must not panic
	w.SetTile(99, 0, Road)
}

func TestWorld_InfestationClamped(t *testing.T) {
	w := New("t", 4, 3, 60)
	w.SetInfestation(1, 1, 250)
	if got := w.InfestationAt(1, 1); got != 100 {
		t.Fatalf("infestation = %d, want 100", got)
	}
	w.SetInfestation(1, 1, -5)
	if got := w.InfestationAt(1, 1); got != 0 {
		t.Fatalf("infestation = %d, want 0", got)
	}
}

func TestWorld_WeightCapAndFieldOnly(t *testing.T) {
	w := New("t", 4, 3, 10)
	w.SetTile(1, 1, Field)
	w.SetTile(2, 1, Road)

	w.SetWeight(Cell{X: 1, Z: 1}, 25)
	if got := w.Weight(Cell{X: 1, Z: 1}); got != 10 {
		t.Fatalf("weight = %v, want capped 10", got)
	}
	// Weights are defined only for fields.
	w.SetWeight(Cell{X: 2, Z: 1}, 5)
	if got := w.Weight(Cell{X: 2, Z: 1}); got != 0 {
		t.Fatalf("road weight = %v, want 0", got)
	}
}

func TestWorld_NearestDepot(t *testing.T) {
	w := New("t", 6, 6, 60)
	w.SetTile(0, 0, Depot)
	w.SetTile(5, 5, Depot)
	w.RecomputeDepots()

	d, ok := w.NearestDepot(Cell{X: 4, Z: 4})
	if !ok || d != (Cell{X: 5, Z: 5}) {
		t.Fatalf("nearest depot = %v ok=%v, want (5,5)", d, ok)
	}
	d, _ = w.NearestDepot(Cell{X: 1, Z: 0})
	if d != (Cell{X: 0, Z: 0}) {
		t.Fatalf("nearest depot = %v, want (0,0)", d)
	}
}

func TestFromFile(t *testing.T) {
	wf := WorldFile{
		ID:     "demo",
		Width:  4,
		Height: 3,
		Terrain: []string{
			"RRRR",
			"DFFR",
			"#RRR",
		},
	}
	wf.Infestation = append(wf.Infestation, struct {
		X     int `yaml:"x"`
		Z     int `yaml:"z"`
		Level int `yaml:"level"`
	}{X: 1, Z: 1, Level: 55})

	w, err := FromFile(wf, 60)
	if err != nil {
		t.Fatalf("FromFile: %v", err)
	}
	if w.Tile(0, 2) != Impassable || w.Tile(0, 1) != Depot || w.Tile(1, 1) != Field {
		t.Fatalf("terrain decoded wrong")
	}
	if got := w.InfestationAt(1, 1); got != 55 {
		t.Fatalf("infestation = %d, want 55", got)
	}
	if len(w.Depots()) != 1 {
		t.Fatalf("depots = %v, want one", w.Depots())
	}
}
