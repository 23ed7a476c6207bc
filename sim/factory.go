package sim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/morphogen/components"
	"github.com/pthm-cable/morphogen/systems"
)

// CellSpec describes one agent to create.
type CellSpec struct {
	Diameter float64
	Mass     float64
	Type     int
	Rules    []components.RuleRef
}

// CellBuilder returns the spec of the agent placed at pos. It is called
// once per agent, in creation order.
type CellBuilder func(pos r3.Vec) (CellSpec, error)

// CreateCells creates one agent per position. Either every agent is created
// or, on error, none is.
func (s *Simulation) CreateCells(positions []r3.Vec, build CellBuilder) error {
	if s.scheduler.Busy() {
		return ErrSchedulerBusy
	}
	if build == nil {
		return fmt.Errorf("%w: nil cell builder", systems.ErrInvalidArgument)
	}

	specs := make([]CellSpec, len(positions))
	for i, p := range positions {
		if !finite(p) {
			return fmt.Errorf("%w: cell %d has non-finite position %v", systems.ErrInvalidArgument, i, p)
		}
		if s.bounds.Enabled && !s.bounds.Contains(p) {
			return fmt.Errorf("%w: cell %d at %v is outside the bounds", systems.ErrInvalidArgument, i, p)
		}
		spec, err := build(p)
		if err != nil {
			return fmt.Errorf("building cell %d: %w", i, err)
		}
		if err := s.rules.Validate(spec.Rules); err != nil {
			return fmt.Errorf("cell %d: %w", i, err)
		}
		specs[i] = spec
	}

	for i, p := range positions {
		spec := &specs[i]
		pos := components.PositionOf(p)
		body := components.Body{Diameter: spec.Diameter, Mass: spec.Mass}
		ct := components.CellType{Value: spec.Type}
		// Copy so callers may reuse their slice
		beh := components.Behaviors{Rules: append([]components.RuleRef(nil), spec.Rules...)}
		s.agentMapper.NewEntity(&pos, &body, &ct, &beh)
	}
	s.numAgents += len(positions)

	return nil
}

// CreateCellsRandom creates n agents uniformly distributed in
// [minBound, maxBound]^3 using the simulation's seeded random source.
func (s *Simulation) CreateCellsRandom(minBound, maxBound float64, n int, build CellBuilder) error {
	if n < 0 {
		return fmt.Errorf("%w: negative cell count %d", systems.ErrInvalidArgument, n)
	}
	if !(maxBound > minBound) || math.IsInf(minBound, 0) || math.IsInf(maxBound, 0) {
		return fmt.Errorf("%w: invalid placement cube [%v, %v]", systems.ErrInvalidArgument, minBound, maxBound)
	}

	span := maxBound - minBound
	positions := make([]r3.Vec, n)
	for i := range positions {
		positions[i] = r3.Vec{
			X: minBound + s.rng.Float64()*span,
			Y: minBound + s.rng.Float64()*span,
			Z: minBound + s.rng.Float64()*span,
		}
	}
	return s.CreateCells(positions, build)
}

func finite(p r3.Vec) bool {
	for _, v := range [3]float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
