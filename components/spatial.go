package components

import "gonum.org/v1/gonum/spatial/r3"

// Position represents an agent's position in simulation space.
type Position struct {
	X, Y, Z float64
}

// Vec returns the position as an r3 vector.
func (p Position) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// PositionOf converts an r3 vector into a Position.
func PositionOf(v r3.Vec) Position {
	return Position{X: v.X, Y: v.Y, Z: v.Z}
}
