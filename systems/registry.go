package systems

import (
	"fmt"
)

// SubstanceRegistry owns the diffusion grids of a simulation, keyed by
// substance id. Grids are created once and live for the whole run.
// Rules receive grid handles from the registry when they are built, so
// there is no lookup on the hot path.
type SubstanceRegistry struct {
	bounds Bounds
	opts   GridOptions

	grids []*DiffusionGrid // declaration order
	byID  map[SubstanceID]*DiffusionGrid
}

// NewSubstanceRegistry creates an empty registry. Every grid defined later
// covers bounds.
func NewSubstanceRegistry(bounds Bounds, opts GridOptions) (*SubstanceRegistry, error) {
	if err := bounds.Validate(); err != nil {
		return nil, err
	}
	return &SubstanceRegistry{
		bounds: bounds,
		opts:   opts,
		byID:   make(map[SubstanceID]*DiffusionGrid),
	}, nil
}

// Define creates the grid for a substance. Defining the same id twice is a
// configuration error.
func (r *SubstanceRegistry) Define(id SubstanceID, name string, diffusionCoefficient, decayConstant, resolution float64) (*DiffusionGrid, error) {
	if existing, ok := r.byID[id]; ok {
		return nil, fmt.Errorf("%w: substance %d already defined as %q", ErrConfiguration, id, existing.Name())
	}
	g, err := NewDiffusionGrid(id, name, diffusionCoefficient, decayConstant, resolution, r.bounds, r.opts)
	if err != nil {
		return nil, err
	}
	r.grids = append(r.grids, g)
	r.byID[id] = g
	return g, nil
}

// Get returns the grid of a defined substance.
func (r *SubstanceRegistry) Get(id SubstanceID) (*DiffusionGrid, error) {
	g, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: substance %d", ErrUnknownSubstance, id)
	}
	return g, nil
}

// Lookup returns the grid with the given name.
func (r *SubstanceRegistry) Lookup(name string) (*DiffusionGrid, error) {
	for _, g := range r.grids {
		if g.Name() == name {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSubstance, name)
}

// Grids returns all grids in declaration order. The slice must not be modified.
func (r *SubstanceRegistry) Grids() []*DiffusionGrid {
	return r.grids
}

// Len returns the number of defined substances.
func (r *SubstanceRegistry) Len() int {
	return len(r.grids)
}

// Bounds returns the domain every grid covers.
func (r *SubstanceRegistry) Bounds() Bounds {
	return r.bounds
}
