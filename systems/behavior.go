package systems

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/morphogen/components"
)

// AgentState is the mutable view of one agent handed to its rules for a
// single tick. Rules never keep it past the call.
type AgentState struct {
	Position r3.Vec
	Type     int

	// RejectedMoves counts moves dropped by the bounds this tick.
	RejectedMoves int
}

// FieldSelector picks the grid a rule reads or writes for an agent. A
// selector either always returns one grid or chooses by the agent's type
// tag, falling back to an optional default.
type FieldSelector struct {
	types    []int
	grids    []*DiffusionGrid
	fallback *DiffusionGrid
}

// SingleField returns a selector that always picks g.
func SingleField(g *DiffusionGrid) FieldSelector {
	return FieldSelector{fallback: g}
}

// FieldByType returns a selector choosing a grid by type tag. Types not in
// bindings use fallback, which may be nil.
func FieldByType(bindings map[int]*DiffusionGrid, fallback *DiffusionGrid) FieldSelector {
	s := FieldSelector{fallback: fallback}
	for t, g := range bindings {
		s.types = append(s.types, t)
		s.grids = append(s.grids, g)
	}
	return s
}

// Select returns the grid for an agent of the given type.
func (s FieldSelector) Select(cellType int) (*DiffusionGrid, error) {
	for i, t := range s.types {
		if t == cellType {
			return s.grids[i], nil
		}
	}
	if s.fallback == nil {
		return nil, fmt.Errorf("%w: no field bound for cell type %d", ErrUnknownSubstance, cellType)
	}
	return s.fallback, nil
}

func (s FieldSelector) validate() error {
	if s.fallback == nil && len(s.grids) == 0 {
		return fmt.Errorf("%w: rule has no field", ErrUnknownSubstance)
	}
	for _, g := range s.grids {
		if g == nil {
			return fmt.Errorf("%w: rule bound to a nil field", ErrUnknownSubstance)
		}
	}
	return nil
}

// ChemotaxisRule moves an agent along the gradient of its selected field.
// The displacement is the gradient scaled by Gain and is applied to the
// position directly.
type ChemotaxisRule struct {
	Fields FieldSelector
	Gain   float64
}

func (r *ChemotaxisRule) run(agent *AgentState, bounds Bounds) error {
	g, err := r.Fields.Select(agent.Type)
	if err != nil {
		return err
	}
	d := r3.Scale(r.Gain, g.GetGradient(agent.Position))
	next, ok := bounds.Move(agent.Position, d)
	if !ok {
		agent.RejectedMoves++
		return nil
	}
	agent.Position = next
	return nil
}

// SecretionRule adds Amount of the selected substance at the agent's
// position every tick.
type SecretionRule struct {
	Fields FieldSelector
	Amount float64
}

func (r *SecretionRule) run(agent *AgentState, sink ConcentrationSink) error {
	g, err := r.Fields.Select(agent.Type)
	if err != nil {
		return err
	}
	return sink.IncreaseConcentrationBy(g, agent.Position, r.Amount)
}

// RuleBook stores rule records by kind. Agents reference records through
// components.RuleRef, so identical rules are stored once and shared.
type RuleBook struct {
	bounds     Bounds
	chemotaxis []ChemotaxisRule
	secretion  []SecretionRule
}

// NewRuleBook creates an empty rule book. Motion rules respect bounds.
func NewRuleBook(bounds Bounds) *RuleBook {
	return &RuleBook{bounds: bounds}
}

// AddChemotaxis registers a chemotaxis rule and returns its reference.
func (b *RuleBook) AddChemotaxis(r ChemotaxisRule) (components.RuleRef, error) {
	if err := r.Fields.validate(); err != nil {
		return components.RuleRef{}, err
	}
	if math.IsNaN(r.Gain) || math.IsInf(r.Gain, 0) {
		return components.RuleRef{}, fmt.Errorf("%w: chemotaxis gain must be finite, got %v", ErrInvalidArgument, r.Gain)
	}
	b.chemotaxis = append(b.chemotaxis, r)
	return components.RuleRef{Kind: components.RuleChemotaxis, Index: uint32(len(b.chemotaxis) - 1)}, nil
}

// AddSecretion registers a secretion rule and returns its reference.
func (b *RuleBook) AddSecretion(r SecretionRule) (components.RuleRef, error) {
	if err := r.Fields.validate(); err != nil {
		return components.RuleRef{}, err
	}
	if err := validateAmount(r.Amount); err != nil {
		return components.RuleRef{}, err
	}
	b.secretion = append(b.secretion, r)
	return components.RuleRef{Kind: components.RuleSecretion, Index: uint32(len(b.secretion) - 1)}, nil
}

// Validate checks that every reference points at a registered record.
func (b *RuleBook) Validate(refs []components.RuleRef) error {
	for _, ref := range refs {
		var n int
		switch ref.Kind {
		case components.RuleChemotaxis:
			n = len(b.chemotaxis)
		case components.RuleSecretion:
			n = len(b.secretion)
		default:
			return fmt.Errorf("%w: unknown rule kind %d", ErrInvalidArgument, ref.Kind)
		}
		if int(ref.Index) >= n {
			return fmt.Errorf("%w: %s rule %d not registered", ErrInvalidArgument, ref.Kind, ref.Index)
		}
	}
	return nil
}

// Run executes the agent's rules in order. The first error stops the agent.
func (b *RuleBook) Run(refs []components.RuleRef, agent *AgentState, sink ConcentrationSink) error {
	for _, ref := range refs {
		var err error
		switch ref.Kind {
		case components.RuleChemotaxis:
			err = b.chemotaxis[ref.Index].run(agent, b.bounds)
		case components.RuleSecretion:
			err = b.secretion[ref.Index].run(agent, sink)
		default:
			err = fmt.Errorf("%w: unknown rule kind %d", ErrInvalidArgument, ref.Kind)
		}
		if err != nil {
			return fmt.Errorf("%s rule %d: %w", ref.Kind, ref.Index, err)
		}
	}
	return nil
}

// ConcentrationSink receives secretions produced during a behavior pass.
type ConcentrationSink interface {
	IncreaseConcentrationBy(g *DiffusionGrid, p r3.Vec, amount float64) error
}

// DirectSink writes secretions straight into the grid, so agents later in
// the same pass see them.
type DirectSink struct{}

// IncreaseConcentrationBy forwards to the grid.
func (DirectSink) IncreaseConcentrationBy(g *DiffusionGrid, p r3.Vec, amount float64) error {
	return g.IncreaseConcentrationBy(p, amount)
}

type pendingDelta struct {
	grid   *DiffusionGrid
	cell   int
	amount float64
}

// PendingDeltas buffers secretions for one worker during a parallel pass.
// Reads during the pass do not see them; Flush applies them afterwards.
type PendingDeltas struct {
	deltas []pendingDelta
}

// IncreaseConcentrationBy records the increase for a later Flush.
func (p *PendingDeltas) IncreaseConcentrationBy(g *DiffusionGrid, pos r3.Vec, amount float64) error {
	if err := validateAmount(amount); err != nil {
		return fmt.Errorf("substance %q: %w", g.Name(), err)
	}
	p.deltas = append(p.deltas, pendingDelta{grid: g, cell: g.CellIndex(pos), amount: amount})
	return nil
}

// Len returns the number of buffered increases.
func (p *PendingDeltas) Len() int {
	return len(p.deltas)
}

// Flush applies buffered increases in recording order and empties the buffer.
func (p *PendingDeltas) Flush() {
	for _, d := range p.deltas {
		d.grid.addToCell(d.cell, d.amount)
	}
	p.Reset()
}

// Reset drops buffered increases without applying them.
func (p *PendingDeltas) Reset() {
	p.deltas = p.deltas[:0]
}
