// Package systems provides the diffusion grids, behavior rules and spatial
// queries of the simulation.
package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// NeighborGrid answers fixed-radius neighbour queries over a static point
// set using a uniform grid with cells of edge length radius. A query only
// visits the 27 cells around the query point.
type NeighborGrid struct {
	cellSize   float64
	origin     r3.Vec
	nx, ny, nz int
	points     []r3.Vec
	start      []int // cell -> first slot in order (len = cells+1)
	order      []int // point indices grouped by cell
}

// maxNeighborCells caps the number of grid cells; sparse point sets with a
// small radius fall back to coarser cells.
const maxNeighborCells = 1 << 22

// NewNeighborGrid indexes points for queries of the given radius.
func NewNeighborGrid(points []r3.Vec, radius float64) *NeighborGrid {
	g := &NeighborGrid{points: points, cellSize: radius}
	if !(radius > 0) || math.IsInf(radius, 0) {
		g.cellSize = 1
	}
	if len(points) == 0 {
		g.nx, g.ny, g.nz = 1, 1, 1
		g.start = make([]int, 2)
		return g
	}

	lo, hi := points[0], points[0]
	for _, p := range points[1:] {
		lo = r3.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	g.origin = lo

	span := math.Max(hi.X-lo.X, math.Max(hi.Y-lo.Y, hi.Z-lo.Z))
	// Counts stay in float64 until the product fits; a tiny radius over a
	// wide spread would overflow int.
	for {
		nx := math.Floor((hi.X-lo.X)/g.cellSize) + 1
		ny := math.Floor((hi.Y-lo.Y)/g.cellSize) + 1
		nz := math.Floor((hi.Z-lo.Z)/g.cellSize) + 1
		if nx*ny*nz <= maxNeighborCells || g.cellSize >= span {
			g.nx, g.ny, g.nz = int(nx), int(ny), int(nz)
			break
		}
		g.cellSize *= 2
	}

	// Counting sort of points into cells
	cells := g.nx * g.ny * g.nz
	g.start = make([]int, cells+1)
	cellOf := make([]int, len(points))
	for i, p := range points {
		c := g.cellIndex(p)
		cellOf[i] = c
		g.start[c+1]++
	}
	for c := 0; c < cells; c++ {
		g.start[c+1] += g.start[c]
	}
	fill := make([]int, cells)
	copy(fill, g.start[:cells])
	g.order = make([]int, len(points))
	for i, c := range cellOf {
		g.order[fill[c]] = i
		fill[c]++
	}
	return g
}

func (g *NeighborGrid) cellCoords(p r3.Vec) (x, y, z int) {
	x = cellAlong(p.X-g.origin.X, g.cellSize, g.nx)
	y = cellAlong(p.Y-g.origin.Y, g.cellSize, g.ny)
	z = cellAlong(p.Z-g.origin.Z, g.cellSize, g.nz)
	return x, y, z
}

// cellAlong maps an offset from the origin to a cell index in [0, n-1],
// clamping before the int conversion.
func cellAlong(offset, cellSize float64, n int) int {
	return int(clampFloat(math.Floor(offset/cellSize), 0, float64(n-1)))
}

func (g *NeighborGrid) cellIndex(p r3.Vec) int {
	x, y, z := g.cellCoords(p)
	return (z*g.ny+y)*g.nx + x
}

// Visit calls fn for every indexed point within radius of p, the point at p
// itself included. Returning false from fn stops the query.
func (g *NeighborGrid) Visit(p r3.Vec, radius float64, fn func(i int) bool) {
	if len(g.points) == 0 {
		return
	}
	reach := int(clampFloat(math.Ceil(radius/g.cellSize), 0, float64(max(g.nx, g.ny, g.nz))))
	cx, cy, cz := g.cellCoords(p)
	radiusSq := radius * radius

	for z := max(cz-reach, 0); z <= min(cz+reach, g.nz-1); z++ {
		for y := max(cy-reach, 0); y <= min(cy+reach, g.ny-1); y++ {
			for x := max(cx-reach, 0); x <= min(cx+reach, g.nx-1); x++ {
				c := (z*g.ny+y)*g.nx + x
				for _, i := range g.order[g.start[c]:g.start[c+1]] {
					d := r3.Sub(g.points[i], p)
					if r3.Dot(d, d) <= radiusSq {
						if !fn(i) {
							return
						}
					}
				}
			}
		}
	}
}

// QueryRadiusInto appends the indices of points within radius of p to dst.
func (g *NeighborGrid) QueryRadiusInto(dst []int, p r3.Vec, radius float64) []int {
	g.Visit(p, radius, func(i int) bool {
		dst = append(dst, i)
		return true
	})
	return dst
}
