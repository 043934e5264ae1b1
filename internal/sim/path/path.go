// Package path implements least-cost route search over the farm grid.
//
// The cost function is asymmetric and time-varying: roads and depots are
// cheap, fields carry a base cost plus a dynamic weight that grows every
// time a worker crosses them. Impassable cells are excluded entirely.
package path

import (
	"container/heap"

	"cropguard.ai/internal/sim/grid"
)

// Terrain is the read surface the planner needs; *grid.World and the
// knowledge base both satisfy it.
type Terrain interface {
	Tile(x, z int) grid.TileType
	Weight(c grid.Cell) float64
}

const (
	roadCost      = 1.0
	fieldBaseCost = 10.0
)

// Planner finds least-cost paths. preferRoads keeps workers on the road
// network; scouts set it false and cross fields at unit cost.
type Planner struct {
	t           Terrain
	preferRoads bool
}

func New(t Terrain, preferRoads bool) *Planner {
	return &Planner{t: t, preferRoads: preferRoads}
}

// CellCost is the cost of entering a cell, or -1 for impassable cells.
func (p *Planner) CellCost(c grid.Cell) float64 {
	switch p.t.Tile(c.X, c.Z) {
	case grid.Road, grid.Depot:
		return roadCost
	case grid.Field:
		base := fieldBaseCost
		if !p.preferRoads {
			base = roadCost
		}
		return base + p.t.Weight(c)
	}
	return -1
}

// Find returns the least-cost path from start to goal, excluding the start
// cell, or nil when no route exists.
func (p *Planner) Find(start, goal grid.Cell) []grid.Cell {
	return p.FindAvoiding(start, goal, nil)
}

// FindAvoiding is Find with an extra exclusion set of currently occupied
// cells. Deadlock recovery uses it to route around blocking agents. The
// goal itself is never excluded.
func (p *Planner) FindAvoiding(start, goal grid.Cell, blocked map[grid.Cell]bool) []grid.Cell {
	if p.CellCost(start) < 0 || p.CellCost(goal) < 0 {
		return nil
	}
	if start == goal {
		return []grid.Cell{}
	}

	pq := &cellQueue{}
	heap.Init(pq)
	heap.Push(pq, queued{cell: start})

	costs := map[grid.Cell]float64{start: 0}
	cameFrom := map[grid.Cell]grid.Cell{}
	visited := map[grid.Cell]bool{}

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(queued)
		if visited[cur.cell] {
			continue
		}
		visited[cur.cell] = true

		if cur.cell == goal {
			return p.reconstruct(cameFrom, start, goal)
		}

		for _, n := range neighbors(cur.cell) {
			if visited[n] {
				continue
			}
			moveCost := p.CellCost(n)
			if moveCost < 0 {
				continue
			}
			if blocked[n] && n != goal {
				continue
			}
			next := cur.cost + moveCost
			if old, ok := costs[n]; !ok || next < old {
				costs[n] = next
				cameFrom[n] = cur.cell
				heap.Push(pq, queued{cell: n, cost: next})
			}
		}
	}
	return nil
}

func (p *Planner) reconstruct(cameFrom map[grid.Cell]grid.Cell, start, goal grid.Cell) []grid.Cell {
	var rev []grid.Cell
	for node := goal; node != start; node = cameFrom[node] {
		rev = append(rev, node)
	}
	out := make([]grid.Cell, len(rev))
	for i, c := range rev {
		out[len(rev)-1-i] = c
	}
	return out
}

// neighbors returns the 4-connected neighborhood in a fixed order so that
// equal-cost searches are deterministic.
func neighbors(c grid.Cell) [4]grid.Cell {
	return [4]grid.Cell{
		{X: c.X + 1, Z: c.Z},
		{X: c.X - 1, Z: c.Z},
		{X: c.X, Z: c.Z + 1},
		{X: c.X, Z: c.Z - 1},
	}
}

// StraightLine walks a Bresenham segment from start to end, keeping only
// passable cells and excluding the start cell.
func (p *Planner) StraightLine(start, end grid.Cell) []grid.Cell {
	var out []grid.Cell
	x, z := start.X, start.Z
	dx := absInt(end.X - start.X)
	dz := absInt(end.Z - start.Z)
	sx, sz := 1, 1
	if start.X > end.X {
		sx = -1
	}
	if start.Z > end.Z {
		sz = -1
	}
	err := dx - dz
	for {
		c := grid.Cell{X: x, Z: z}
		if c != start && p.CellCost(c) >= 0 {
			out = append(out, c)
		}
		if x == end.X && z == end.Z {
			break
		}
		e2 := 2 * err
		if e2 > -dz {
			err -= dz
			x += sx
		}
		if e2 < dx {
			err += dx
			z += sz
		}
	}
	return out
}

// OptimizeTail replaces the tail of a path beyond its last road cell with a
// straight line to the destination, so workers leave the road network as
// late as possible and then cut across fields directly.
func (p *Planner) OptimizeTail(start grid.Cell, route []grid.Cell) []grid.Cell {
	if len(route) <= 2 {
		return route
	}
	lastRoad := -1
	for i := len(route) - 1; i >= 0; i-- {
		if p.t.Tile(route[i].X, route[i].Z) == grid.Road {
			lastRoad = i
			break
		}
	}
	if lastRoad == len(route)-1 || lastRoad < 0 {
		return route
	}
	out := append([]grid.Cell{}, route[:lastRoad+1]...)
	tail := p.StraightLine(route[lastRoad], route[len(route)-1])
	return append(out, tail...)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

type queued struct {
	cell grid.Cell
	cost float64
	seq  int
}

type cellQueue []queued

func (q cellQueue) Len() int { return len(q) }
func (q cellQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].seq < q[j].seq
}
func (q cellQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *cellQueue) Push(v any) {
	item := v.(queued)
	item.seq = len(*q)
	*q = append(*q, item)
}

func (q *cellQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
