package systems

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// BoundPolicy decides what happens to a move that leaves the bounds.
type BoundPolicy uint8

const (
	BoundReject BoundPolicy = iota // Drop the move, agent stays put
	BoundClamp                     // Move to the nearest point inside
)

// ParseBoundPolicy maps a config string to a BoundPolicy.
func ParseBoundPolicy(s string) (BoundPolicy, error) {
	switch s {
	case "reject", "":
		return BoundReject, nil
	case "clamp":
		return BoundClamp, nil
	default:
		return 0, fmt.Errorf("%w: unknown bound policy %q", ErrConfiguration, s)
	}
}

// Bounds is the axis-aligned simulation cube [Min, Max]^3.
// When Enabled is false, moves are never restricted; the cube still
// defines the extent of every diffusion grid.
type Bounds struct {
	Min, Max float64
	Enabled  bool
	Policy   BoundPolicy
}

// Validate returns ErrConfiguration for empty, inverted or non-finite cubes.
func (b Bounds) Validate() error {
	if math.IsNaN(b.Min) || math.IsNaN(b.Max) || math.IsInf(b.Min, 0) || math.IsInf(b.Max, 0) {
		return fmt.Errorf("%w: unbounded domain [%v, %v]", ErrConfiguration, b.Min, b.Max)
	}
	if b.Max <= b.Min {
		return fmt.Errorf("%w: zero-size domain [%v, %v]", ErrConfiguration, b.Min, b.Max)
	}
	return nil
}

// Extent returns the edge length of the cube.
func (b Bounds) Extent() float64 {
	return b.Max - b.Min
}

// Contains reports whether p lies inside the closed cube.
func (b Bounds) Contains(p r3.Vec) bool {
	return p.X >= b.Min && p.X <= b.Max &&
		p.Y >= b.Min && p.Y <= b.Max &&
		p.Z >= b.Min && p.Z <= b.Max
}

// Move applies displacement d to p and returns the resulting position.
// ok is false when the move was rejected by the policy.
func (b Bounds) Move(p, d r3.Vec) (r3.Vec, bool) {
	next := r3.Add(p, d)
	if !b.Enabled || b.Contains(next) {
		return next, true
	}
	if b.Policy == BoundClamp {
		return r3.Vec{
			X: clampFloat(next.X, b.Min, b.Max),
			Y: clampFloat(next.Y, b.Min, b.Max),
			Z: clampFloat(next.Z, b.Min, b.Max),
		}, true
	}
	return p, false
}
