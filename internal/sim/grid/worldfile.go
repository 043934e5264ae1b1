package grid

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WorldFile is the on-disk snapshot format consumed from the persistence
// collaborator. Terrain rows are strings of cell runes:
//
//	'#' impassable, 'R' road, 'F' field, 'D' depot
//
// Crops and infestation are sparse entries keyed by coordinate.
type WorldFile struct {
	ID      string   `yaml:"id"`
	Width   int      `yaml:"width"`
	Height  int      `yaml:"height"`
	Terrain []string `yaml:"terrain"`
	Crops   []struct {
		X    int      `yaml:"x"`
		Z    int      `yaml:"z"`
		Crop CropType `yaml:"crop"`
	} `yaml:"crops"`
	Infestation []struct {
		X     int `yaml:"x"`
		Z     int `yaml:"z"`
		Level int `yaml:"level"`
	} `yaml:"infestation"`
}

// LoadFile reads a world snapshot from a YAML file.
func LoadFile(path string, weightCap float64) (*World, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var wf WorldFile
	if err := yaml.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("world file %s: %w", path, err)
	}
	return FromFile(wf, weightCap)
}

// FromFile builds a World from a parsed WorldFile.
func FromFile(wf WorldFile, weightCap float64) (*World, error) {
	if wf.Width <= 0 || wf.Height <= 0 {
		return nil, fmt.Errorf("world %q: invalid dimensions %dx%d", wf.ID, wf.Width, wf.Height)
	}
	if len(wf.Terrain) != wf.Height {
		return nil, fmt.Errorf("world %q: %d terrain rows, want %d", wf.ID, len(wf.Terrain), wf.Height)
	}
	w := New(wf.ID, wf.Width, wf.Height, weightCap)
	for z, row := range wf.Terrain {
		if len(row) != wf.Width {
			return nil, fmt.Errorf("world %q: terrain row %d has %d cells, want %d", wf.ID, z, len(row), wf.Width)
		}
		for x, r := range row {
			t, err := tileForRune(r)
			if err != nil {
				return nil, fmt.Errorf("world %q row %d col %d: %w", wf.ID, z, x, err)
			}
			w.Terrain[z][x] = t
		}
	}
	for _, c := range wf.Crops {
		if w.InBounds(c.X, c.Z) {
			w.Crops[c.Z][c.X] = c.Crop
		}
	}
	for _, e := range wf.Infestation {
		w.SetInfestation(e.X, e.Z, e.Level)
	}
	w.RecomputeDepots()
	return w, nil
}

// TerrainRows renders the terrain back into the row-string form, the
// inverse of FromFile.
func (w *World) TerrainRows() []string {
	rows := make([]string, w.Height)
	for z := 0; z < w.Height; z++ {
		buf := make([]rune, w.Width)
		for x := 0; x < w.Width; x++ {
			buf[x] = runeForTile(w.Terrain[z][x])
		}
		rows[z] = string(buf)
	}
	return rows
}

func runeForTile(t TileType) rune {
	switch t {
	case Road:
		return 'R'
	case Field:
		return 'F'
	case Depot:
		return 'D'
	}
	return '#'
}

func (c CropType) String() string {
	switch c {
	case CropCorn:
		return "corn"
	case CropWheat:
		return "wheat"
	case CropTomato:
		return "tomato"
	}
	return "none"
}

func (c CropType) MarshalYAML() (any, error) { return c.String(), nil }

func (c *CropType) UnmarshalYAML(value *yaml.Node) error {
	var name string
	if err := value.Decode(&name); err != nil {
		return err
	}
	switch name {
	case "none", "":
		*c = CropNone
	case "corn":
		*c = CropCorn
	case "wheat":
		*c = CropWheat
	case "tomato":
		*c = CropTomato
	default:
		return fmt.Errorf("unknown crop %q", name)
	}
	return nil
}

func tileForRune(r rune) (TileType, error) {
	switch r {
	case '#':
		return Impassable, nil
	case 'R':
		return Road, nil
	case 'F':
		return Field, nil
	case 'D':
		return Depot, nil
	}
	return Impassable, fmt.Errorf("unknown terrain rune %q", r)
}
