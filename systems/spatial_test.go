package systems

import (
	"math/rand"
	"slices"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func randomPoints(rng *rand.Rand, n int, extent float64) []r3.Vec {
	points := make([]r3.Vec, n)
	for i := range points {
		points[i] = r3.Vec{X: rng.Float64() * extent, Y: rng.Float64() * extent, Z: rng.Float64() * extent}
	}
	return points
}

func bruteForce(points []r3.Vec, p r3.Vec, radius float64) []int {
	var out []int
	for i, q := range points {
		d := r3.Sub(q, p)
		if r3.Dot(d, d) <= radius*radius {
			out = append(out, i)
		}
	}
	return out
}

func TestNeighborGridMatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(4357))
	points := randomPoints(rng, 2000, 100)

	for _, radius := range []float64{0.5, 3, 10, 40} {
		grid := NewNeighborGrid(points, radius)
		for q := 0; q < 50; q++ {
			p := points[rng.Intn(len(points))]
			if q%2 == 1 {
				p = r3.Vec{X: rng.Float64()*120 - 10, Y: rng.Float64()*120 - 10, Z: rng.Float64()*120 - 10}
			}
			got := grid.QueryRadiusInto(nil, p, radius)
			slices.Sort(got)
			want := bruteForce(points, p, radius)
			if !slices.Equal(got, want) {
				t.Fatalf("radius %v, query %v: got %d neighbours, want %d", radius, p, len(got), len(want))
			}
		}
	}
}

func TestNeighborGridEdgeCases(t *testing.T) {
	empty := NewNeighborGrid(nil, 5)
	if got := empty.QueryRadiusInto(nil, r3.Vec{}, 5); len(got) != 0 {
		t.Errorf("empty grid returned %v", got)
	}

	// Coincident points and a degenerate radius
	points := []r3.Vec{{X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}, {X: 2, Y: 1, Z: 1}}
	grid := NewNeighborGrid(points, 0)
	if got := grid.QueryRadiusInto(nil, points[0], 0); len(got) != 2 {
		t.Errorf("zero radius: got %v, want the two coincident points", got)
	}

	// Sparse points with a tiny radius must not allocate a huge grid
	sparse := []r3.Vec{{}, {X: 1e6, Y: 1e6, Z: 1e6}}
	grid = NewNeighborGrid(sparse, 1e-3)
	if len(grid.start)-1 > maxNeighborCells {
		t.Errorf("grid has %d cells, cap is %d", len(grid.start)-1, maxNeighborCells)
	}
	if got := grid.QueryRadiusInto(nil, sparse[1], 1); len(got) != 1 || got[0] != 1 {
		t.Errorf("sparse query = %v, want [1]", got)
	}
}

func TestNeighborGridTinyRadius(t *testing.T) {
	points := []r3.Vec{{}, {X: 100, Y: 100, Z: 100}, {X: 100, Y: 100, Z: 100 + 1e-6}}
	for _, radius := range []float64{1e-5, 1e-9, 1e-300} {
		grid := NewNeighborGrid(points, radius)
		if cells := len(grid.start) - 1; cells < 1 || cells > maxNeighborCells {
			t.Fatalf("radius %v: grid has %d cells", radius, cells)
		}
		for i, p := range points {
			got := grid.QueryRadiusInto(nil, p, radius)
			slices.Sort(got)
			if want := bruteForce(points, p, radius); !slices.Equal(got, want) {
				t.Errorf("radius %v, point %d: got %v, want %v", radius, i, got, want)
			}
		}
	}
}

func TestNeighborGridVisitStops(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	points := randomPoints(rng, 500, 10)
	grid := NewNeighborGrid(points, 20)

	calls := 0
	grid.Visit(r3.Vec{X: 5, Y: 5, Z: 5}, 20, func(int) bool {
		calls++
		return calls < 7
	})
	if calls != 7 {
		t.Errorf("Visit made %d calls after stop, want 7", calls)
	}
}

func BenchmarkNeighborGridQuery(b *testing.B) {
	rng := rand.New(rand.NewSource(4357))
	points := randomPoints(rng, 20000, 250)
	grid := NewNeighborGrid(points, 5)
	buf := make([]int, 0, 64)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf = grid.QueryRadiusInto(buf[:0], points[i%len(points)], 5)
	}
}
