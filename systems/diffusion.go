package systems

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

// SubstanceID identifies a substance within a model. Models declare their
// own small enumeration of ids.
type SubstanceID uint8

// Boundary selects how the diffusion stencil treats cells outside the grid.
type Boundary uint8

const (
	BoundaryClosed Boundary = iota // No flux across the grid faces; mass is conserved
	BoundaryOpen                   // Zero concentration outside the grid; mass leaks out
)

// ParseBoundary maps a config string to a Boundary.
func ParseBoundary(s string) (Boundary, error) {
	switch s {
	case "closed", "":
		return BoundaryClosed, nil
	case "open":
		return BoundaryOpen, nil
	default:
		return 0, fmt.Errorf("%w: unknown boundary %q", ErrConfiguration, s)
	}
}

// DefaultThreshold is the concentration threshold used when none is configured.
const DefaultThreshold = 1e15

// maxGridCells caps grid allocation so a tiny resolution cannot exhaust memory.
const maxGridCells = 1 << 27

// minParallelCells is the grid size below which Diffuse runs on one goroutine.
const minParallelCells = 1 << 15

// GridOptions holds the parameters shared by every grid of a simulation.
type GridOptions struct {
	DT        float64  // Simulated time per Diffuse call
	Threshold float64  // Initial concentration threshold (0 = DefaultThreshold)
	Boundary  Boundary // Stencil boundary condition
	Workers   int      // Goroutines used by Diffuse (<= 1 = serial)
}

// DiffusionGrid is a regular 3-D concentration grid for one substance.
//
// Positions map to grid cells with the nearest-cell policy: a position
// belongs to the cell that contains it, and positions outside the grid
// clamp to the closest border cell. Cells are stored flat with x varying
// fastest.
//
// Diffuse advances the grid with the explicit update
//
//	c' = c + dt*D*Lap(c) - dt*k*c
//
// using the 7-point Laplacian. The update is only stable (and only keeps
// concentrations non-negative) when 6*D*dt/h^2 + k*dt <= 1; construction
// fails with ErrNumericInstability otherwise.
type DiffusionGrid struct {
	id   SubstanceID
	name string

	diffusion  float64 // D
	decay      float64 // k
	resolution float64 // h, cell edge length
	dt         float64
	boundary   Boundary
	workers    int

	origin     float64
	nx, ny, nz int

	c1 []float64 // current values
	c2 []float64 // scratch for Diffuse

	threshold float64
}

// NewDiffusionGrid allocates a grid covering bounds at the given resolution.
// All cells start at zero.
func NewDiffusionGrid(id SubstanceID, name string, diffusionCoefficient, decayConstant, resolution float64, bounds Bounds, opts GridOptions) (*DiffusionGrid, error) {
	if math.IsNaN(resolution) || resolution <= 0 {
		return nil, fmt.Errorf("substance %q: %w: %w: resolution must be positive, got %v",
			name, ErrConfiguration, ErrInvalidArgument, resolution)
	}
	if err := bounds.Validate(); err != nil {
		return nil, fmt.Errorf("substance %q: %w", name, err)
	}
	if !finiteNonNegative(diffusionCoefficient) {
		return nil, fmt.Errorf("substance %q: %w: diffusion coefficient must be finite and >= 0, got %v",
			name, ErrConfiguration, diffusionCoefficient)
	}
	if !finiteNonNegative(decayConstant) {
		return nil, fmt.Errorf("substance %q: %w: decay constant must be finite and >= 0, got %v",
			name, ErrConfiguration, decayConstant)
	}
	dt := opts.DT
	if dt == 0 {
		dt = 1
	}
	if !finiteNonNegative(dt) {
		return nil, fmt.Errorf("substance %q: %w: dt must be finite and positive, got %v",
			name, ErrConfiguration, dt)
	}

	if s := StabilityNumber(diffusionCoefficient, decayConstant, resolution, dt); s > 1+1e-12 {
		return nil, fmt.Errorf("substance %q: %w: 6*D*dt/h^2 + k*dt = %.4f exceeds 1 (D=%v k=%v h=%v dt=%v)",
			name, ErrNumericInstability, s, diffusionCoefficient, decayConstant, resolution, dt)
	}

	n := int(math.Ceil(bounds.Extent() / resolution))
	if n < 1 {
		n = 1
	}
	if n > 1<<10 || n*n*n > maxGridCells {
		return nil, fmt.Errorf("substance %q: %w: %d cells per axis is too many", name, ErrConfiguration, n)
	}

	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if math.IsNaN(threshold) || threshold < 0 {
		return nil, fmt.Errorf("substance %q: %w: threshold must be positive, got %v", name, ErrConfiguration, threshold)
	}

	total := n * n * n
	return &DiffusionGrid{
		id:         id,
		name:       name,
		diffusion:  diffusionCoefficient,
		decay:      decayConstant,
		resolution: resolution,
		dt:         dt,
		boundary:   opts.Boundary,
		workers:    opts.Workers,
		origin:     bounds.Min,
		nx:         n,
		ny:         n,
		nz:         n,
		c1:         make([]float64, total),
		c2:         make([]float64, total),
		threshold:  threshold,
	}, nil
}

// StabilityNumber returns 6*D*dt/h^2 + k*dt. The explicit scheme is stable
// and non-negative while this is at most 1.
func StabilityNumber(diffusionCoefficient, decayConstant, resolution, dt float64) float64 {
	return 6*diffusionCoefficient*dt/(resolution*resolution) + decayConstant*dt
}

// ID returns the substance id.
func (g *DiffusionGrid) ID() SubstanceID { return g.id }

// Name returns the substance name.
func (g *DiffusionGrid) Name() string { return g.name }

// Resolution returns the cell edge length.
func (g *DiffusionGrid) Resolution() float64 { return g.resolution }

// Dimensions returns the number of cells along each axis.
func (g *DiffusionGrid) Dimensions() (nx, ny, nz int) { return g.nx, g.ny, g.nz }

// Threshold returns the current concentration threshold.
func (g *DiffusionGrid) Threshold() float64 { return g.threshold }

// SetConcentrationThreshold caps concentrations at value. The cap is applied
// to every gradient and concentration read and to values stored by
// IncreaseConcentrationBy. It should be set before the first tick; changing
// it mid-run changes subsequent reads and is allowed.
func (g *DiffusionGrid) SetConcentrationThreshold(value float64) error {
	if math.IsNaN(value) || value <= 0 {
		return fmt.Errorf("substance %q: %w: threshold must be positive, got %v", g.name, ErrInvalidArgument, value)
	}
	g.threshold = value
	return nil
}

// CellCoords returns the grid coordinates of the cell containing p,
// clamped to the grid.
func (g *DiffusionGrid) CellCoords(p r3.Vec) (x, y, z int) {
	return g.axisCell(p.X, g.nx), g.axisCell(p.Y, g.ny), g.axisCell(p.Z, g.nz)
}

// CellIndex returns the flat index of the cell containing p.
func (g *DiffusionGrid) CellIndex(p r3.Vec) int {
	x, y, z := g.CellCoords(p)
	return g.index(x, y, z)
}

// CellCenter returns the world position of the center of cell (x, y, z).
func (g *DiffusionGrid) CellCenter(x, y, z int) r3.Vec {
	h := g.resolution
	return r3.Vec{
		X: g.origin + (float64(x)+0.5)*h,
		Y: g.origin + (float64(y)+0.5)*h,
		Z: g.origin + (float64(z)+0.5)*h,
	}
}

func (g *DiffusionGrid) axisCell(v float64, n int) int {
	if math.IsNaN(v) {
		return 0
	}
	f := math.Floor((v - g.origin) / g.resolution)
	if f < 0 {
		return 0
	}
	if f >= float64(n) {
		return n - 1
	}
	return int(f)
}

func (g *DiffusionGrid) index(x, y, z int) int {
	return (z*g.ny+y)*g.nx + x
}

// IncreaseConcentrationBy adds amount to the cell containing p. The stored
// value is capped at the threshold. Increases are additive and commute.
func (g *DiffusionGrid) IncreaseConcentrationBy(p r3.Vec, amount float64) error {
	if err := validateAmount(amount); err != nil {
		return fmt.Errorf("substance %q: %w", g.name, err)
	}
	g.addToCell(g.CellIndex(p), amount)
	return nil
}

func (g *DiffusionGrid) addToCell(idx int, amount float64) {
	v := g.c1[idx] + amount
	if v > g.threshold {
		v = g.threshold
	}
	g.c1[idx] = v
}

func validateAmount(amount float64) error {
	if !finiteNonNegative(amount) {
		return fmt.Errorf("%w: concentration increase must be finite and >= 0, got %v", ErrInvalidArgument, amount)
	}
	return nil
}

// value returns the thresholded concentration at flat index idx.
func (g *DiffusionGrid) value(idx int) float64 {
	v := g.c1[idx]
	if v > g.threshold {
		return g.threshold
	}
	return v
}

// GetConcentration returns the thresholded concentration of the cell containing p.
func (g *DiffusionGrid) GetConcentration(p r3.Vec) float64 {
	return g.value(g.CellIndex(p))
}

// GetGradient returns the finite-difference gradient of the thresholded
// concentration at the cell containing p. Interior cells use central
// differences over the two axis neighbours; border cells fall back to
// one-sided differences. Positions outside the grid use the nearest cell.
func (g *DiffusionGrid) GetGradient(p r3.Vec) r3.Vec {
	x, y, z := g.CellCoords(p)
	base := g.index(x, y, z)
	return r3.Vec{
		X: g.derivative(x, g.nx, base, 1),
		Y: g.derivative(y, g.ny, base, g.nx),
		Z: g.derivative(z, g.nz, base, g.nx*g.ny),
	}
}

func (g *DiffusionGrid) derivative(i, n, base, stride int) float64 {
	switch {
	case n == 1:
		return 0
	case i == 0:
		return (g.value(base+stride) - g.value(base)) / g.resolution
	case i == n-1:
		return (g.value(base) - g.value(base-stride)) / g.resolution
	default:
		return (g.value(base+stride) - g.value(base-stride)) / (2 * g.resolution)
	}
}

// Diffuse advances the grid by one timestep.
func (g *DiffusionGrid) Diffuse() {
	workers := g.workers
	if workers > g.nz {
		workers = g.nz
	}
	if workers <= 1 || len(g.c1) < minParallelCells {
		g.diffuseSlab(0, g.nz)
	} else {
		slab := (g.nz + workers - 1) / workers
		var wg sync.WaitGroup
		for z0 := 0; z0 < g.nz; z0 += slab {
			z1 := min(z0+slab, g.nz)
			wg.Add(1)
			go func() {
				defer wg.Done()
				g.diffuseSlab(z0, z1)
			}()
		}
		wg.Wait()
	}
	g.c1, g.c2 = g.c2, g.c1
}

// diffuseSlab writes the updated values of z-planes [z0, z1) into c2.
func (g *DiffusionGrid) diffuseSlab(z0, z1 int) {
	a := g.dt * g.diffusion / (g.resolution * g.resolution)
	// At the stability limit rounding can leave the weight a hair below zero.
	center := max(1-6*a-g.dt*g.decay, 0)
	closed := g.boundary == BoundaryClosed

	nx, ny, nz := g.nx, g.ny, g.nz
	sy := nx
	sz := nx * ny
	src, dst := g.c1, g.c2

	for z := z0; z < z1; z++ {
		for y := 0; y < ny; y++ {
			row := (z*ny + y) * nx
			for x := 0; x < nx; x++ {
				i := row + x
				c := src[i]

				// Missing neighbours contribute c (no flux) or 0 (open).
				var outside float64
				if closed {
					outside = c
				}
				var sum float64
				if x > 0 {
					sum += src[i-1]
				} else {
					sum += outside
				}
				if x < nx-1 {
					sum += src[i+1]
				} else {
					sum += outside
				}
				if y > 0 {
					sum += src[i-sy]
				} else {
					sum += outside
				}
				if y < ny-1 {
					sum += src[i+sy]
				} else {
					sum += outside
				}
				if z > 0 {
					sum += src[i-sz]
				} else {
					sum += outside
				}
				if z < nz-1 {
					sum += src[i+sz]
				} else {
					sum += outside
				}

				dst[i] = center*c + a*sum
			}
		}
	}
}

// TotalMass returns the sum of all raw cell values.
func (g *DiffusionGrid) TotalMass() float64 {
	return floats.Sum(g.c1)
}

// MaxConcentration returns the largest raw cell value.
func (g *DiffusionGrid) MaxConcentration() float64 {
	return floats.Max(g.c1)
}

// NonZeroCells returns the number of cells holding substance.
func (g *DiffusionGrid) NonZeroCells() int {
	n := 0
	for _, v := range g.c1 {
		if v > 0 {
			n++
		}
	}
	return n
}

// Values returns a copy of the raw cell values, x varying fastest.
func (g *DiffusionGrid) Values() []float64 {
	out := make([]float64, len(g.c1))
	copy(out, g.c1)
	return out
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
