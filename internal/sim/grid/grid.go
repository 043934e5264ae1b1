// Package grid holds the world tilemap: terrain, crops, infestation levels
// and the dynamic per-cell traversal weights workers accumulate on fields.
package grid

type TileType uint8

const (
	Impassable TileType = iota
	Road
	Field
	Depot
)

type CropType uint8

const (
	CropNone CropType = iota
	CropCorn
	CropWheat
	CropTomato
)

// Cell is a 2D grid coordinate. The vertical axis is called Z to match the
// renderer's ground plane.
type Cell struct {
	X int `json:"x" yaml:"x"`
	Z int `json:"z" yaml:"z"`
}

func (c Cell) Manhattan(o Cell) int {
	return absInt(c.X-o.X) + absInt(c.Z-o.Z)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// World is the authoritative grid state. All grids share dimensions and are
// indexed [z][x]. Out-of-range reads return zero values; out-of-range writes
// are dropped.
type World struct {
	ID     string
	Width  int
	Height int

	Terrain     [][]TileType
	Crops       [][]CropType
	Infestation [][]int

	weights   map[Cell]float64
	weightCap float64

	depots []Cell
}

// New allocates an empty world with all cells impassable.
func New(id string, width, height int, weightCap float64) *World {
	w := &World{
		ID:        id,
		Width:     width,
		Height:    height,
		weights:   map[Cell]float64{},
		weightCap: weightCap,
	}
	w.Terrain = make([][]TileType, height)
	w.Crops = make([][]CropType, height)
	w.Infestation = make([][]int, height)
	for z := 0; z < height; z++ {
		w.Terrain[z] = make([]TileType, width)
		w.Crops[z] = make([]CropType, width)
		w.Infestation[z] = make([]int, width)
	}
	return w
}

func (w *World) InBounds(x, z int) bool {
	return x >= 0 && x < w.Width && z >= 0 && z < w.Height
}

func (w *World) Tile(x, z int) TileType {
	if !w.InBounds(x, z) {
		return Impassable
	}
	return w.Terrain[z][x]
}

func (w *World) SetTile(x, z int, t TileType) {
	if !w.InBounds(x, z) {
		return
	}
	w.Terrain[z][x] = t
}

func (w *World) Crop(x, z int) CropType {
	if !w.InBounds(x, z) {
		return CropNone
	}
	return w.Crops[z][x]
}

func (w *World) Passable(x, z int) bool {
	return w.Tile(x, z) != Impassable
}

func (w *World) InfestationAt(x, z int) int {
	if !w.InBounds(x, z) {
		return 0
	}
	return w.Infestation[z][x]
}

// SetInfestation clamps the level to [0,100].
func (w *World) SetInfestation(x, z, level int) {
	if !w.InBounds(x, z) {
		return
	}
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	w.Infestation[z][x] = level
}

// Weight returns the dynamic traversal weight for a cell. Weights are only
// meaningful for Field cells; everything else reads as 0.
func (w *World) Weight(c Cell) float64 {
	return w.weights[c]
}

// SetWeight stores a dynamic weight, capped so no cell becomes unreachable.
func (w *World) SetWeight(c Cell, weight float64) {
	if w.Tile(c.X, c.Z) != Field {
		return
	}
	if weight < 0 {
		weight = 0
	}
	if w.weightCap > 0 && weight > w.weightCap {
		weight = w.weightCap
	}
	w.weights[c] = weight
}

func (w *World) WeightCap() float64 { return w.weightCap }

// Weights returns a copy of the dynamic weight map.
func (w *World) Weights() map[Cell]float64 {
	out := make(map[Cell]float64, len(w.weights))
	for c, v := range w.weights {
		out[c] = v
	}
	return out
}

// RecomputeDepots rescans the terrain for depot cells. Called after loading
// or mutating terrain.
func (w *World) RecomputeDepots() {
	w.depots = w.depots[:0]
	for z := 0; z < w.Height; z++ {
		for x := 0; x < w.Width; x++ {
			if w.Terrain[z][x] == Depot {
				w.depots = append(w.depots, Cell{X: x, Z: z})
			}
		}
	}
}

func (w *World) Depots() []Cell {
	out := make([]Cell, len(w.depots))
	copy(out, w.depots)
	return out
}

// NearestDepot returns the depot cell closest to pos by Manhattan distance.
// The scan order makes ties deterministic.
func (w *World) NearestDepot(pos Cell) (Cell, bool) {
	if len(w.depots) == 0 {
		return Cell{}, false
	}
	best := w.depots[0]
	bestDist := pos.Manhattan(best)
	for _, d := range w.depots[1:] {
		if dist := pos.Manhattan(d); dist < bestDist {
			best, bestDist = d, dist
		}
	}
	return best, true
}

// InfestationSnapshot deep-copies the infestation grid for broadcasting and
// persistence pushback.
func (w *World) InfestationSnapshot() [][]int {
	out := make([][]int, w.Height)
	for z := 0; z < w.Height; z++ {
		out[z] = make([]int, w.Width)
		copy(out[z], w.Infestation[z])
	}
	return out
}
