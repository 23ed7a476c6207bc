package sim

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/morphogen/components"
	"github.com/pthm-cable/morphogen/config"
	"github.com/pthm-cable/morphogen/systems"
)

func init() {
	config.MustInit("")
}

func newTestSim(t *testing.T, opts Options) *Simulation {
	t.Helper()
	if opts.Bounds.Max == 0 {
		opts.Bounds = systems.Bounds{Min: 0, Max: 100}
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func plainCell(cellType int, rules ...components.RuleRef) CellBuilder {
	return func(r3.Vec) (CellSpec, error) {
		return CellSpec{Diameter: 10, Mass: 1, Type: cellType, Rules: rules}, nil
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Cfg()
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Bounds.Min != cfg.Domain.MinBound || opts.Bounds.Max != cfg.Domain.MaxBound {
		t.Errorf("bounds = %+v", opts.Bounds)
	}
	if opts.Boundary != systems.BoundaryClosed || opts.Bounds.Policy != systems.BoundReject {
		t.Errorf("unexpected boundary/policy: %v / %v", opts.Boundary, opts.Bounds.Policy)
	}
	if opts.Workers != cfg.Derived.Workers || opts.Workers < 1 {
		t.Errorf("workers = %d, want %d", opts.Workers, cfg.Derived.Workers)
	}

	s, err := New(opts)
	if err != nil {
		t.Fatalf("New from default config: %v", err)
	}
	s.Close()
}

func TestNewRejectsBadBounds(t *testing.T) {
	_, err := New(Options{Bounds: systems.Bounds{Min: 10, Max: 10}})
	if !errors.Is(err, systems.ErrConfiguration) {
		t.Errorf("New with zero-size bounds = %v, want ErrConfiguration", err)
	}
}

func TestDefineSubstance(t *testing.T) {
	s := newTestSim(t, Options{})

	g, err := s.DefineSubstance(0, "Kalium", 0.4, 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	if got, err := s.Grid(0); err != nil || got != g {
		t.Errorf("Grid(0) = %p, %v; want %p", got, err, g)
	}
	if _, err := s.Grid(1); !errors.Is(err, systems.ErrUnknownSubstance) {
		t.Errorf("Grid(1) = %v, want ErrUnknownSubstance", err)
	}
	if _, err := s.DefineSubstance(0, "Natrium", 0.4, 0, 8); !errors.Is(err, systems.ErrConfiguration) {
		t.Errorf("duplicate DefineSubstance = %v, want ErrConfiguration", err)
	}
	if _, err := s.DefineSubstance(2, "Unstable", 10, 0, 1); !errors.Is(err, systems.ErrNumericInstability) {
		t.Errorf("unstable DefineSubstance = %v, want ErrNumericInstability", err)
	}
}

func TestCreateCells(t *testing.T) {
	s := newTestSim(t, Options{})
	g, err := s.DefineSubstance(0, "s", 0.4, 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	secrete, err := s.AddSecretion(systems.SecretionRule{Fields: systems.SingleField(g), Amount: 1})
	if err != nil {
		t.Fatal(err)
	}

	positions := []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}, {X: 7, Y: 8, Z: 9}}
	var seen []r3.Vec
	err = s.CreateCells(positions, func(p r3.Vec) (CellSpec, error) {
		seen = append(seen, p)
		return CellSpec{Diameter: 30, Mass: 1, Type: len(seen), Rules: []components.RuleRef{secrete}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if s.NumAgents() != 3 {
		t.Fatalf("NumAgents() = %d, want 3", s.NumAgents())
	}
	agents := s.Agents()
	for i, a := range agents {
		if a.Position != positions[i] || seen[i] != positions[i] {
			t.Errorf("agent %d at %v, want %v", i, a.Position, positions[i])
		}
		if a.Type != i+1 {
			t.Errorf("agent %d type %d, want %d", i, a.Type, i+1)
		}
	}
}

func TestCreateCellsIsAtomic(t *testing.T) {
	s := newTestSim(t, Options{Bounds: systems.Bounds{Min: 0, Max: 100, Enabled: true}})

	tests := []struct {
		name      string
		positions []r3.Vec
		build     CellBuilder
		want      error
	}{
		{"nil builder", []r3.Vec{{X: 1}}, nil, systems.ErrInvalidArgument},
		{"outside bounds", []r3.Vec{{X: 1}, {X: 150}}, plainCell(0), systems.ErrInvalidArgument},
		{"nan position", []r3.Vec{{X: math.NaN()}}, plainCell(0), systems.ErrInvalidArgument},
		{"unregistered rule", []r3.Vec{{X: 1}}, plainCell(0, components.RuleRef{Kind: components.RuleChemotaxis}), systems.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.CreateCells(tt.positions, tt.build); !errors.Is(err, tt.want) {
				t.Errorf("CreateCells = %v, want %v", err, tt.want)
			}
			if s.NumAgents() != 0 || len(s.Agents()) != 0 {
				t.Errorf("failed CreateCells left %d agents", s.NumAgents())
			}
		})
	}

	errBuild := errors.New("builder failed")
	err := s.CreateCells([]r3.Vec{{X: 1}, {X: 2}}, func(p r3.Vec) (CellSpec, error) {
		if p.X == 2 {
			return CellSpec{}, errBuild
		}
		return CellSpec{}, nil
	})
	if !errors.Is(err, errBuild) {
		t.Errorf("CreateCells = %v, want builder error", err)
	}
	if s.NumAgents() != 0 {
		t.Errorf("failed CreateCells left %d agents", s.NumAgents())
	}
}

func TestCreateCellsRandomIsSeeded(t *testing.T) {
	create := func(seed int64) []systems.AgentPoint {
		s := newTestSim(t, Options{Seed: seed, Bounds: systems.Bounds{Min: 0, Max: 250}})
		if err := s.CreateCellsRandom(0, 250, 100, plainCell(1)); err != nil {
			t.Fatal(err)
		}
		return s.Agents()
	}

	a := create(4357)
	b := create(4357)
	c := create(1)

	if len(a) != 100 {
		t.Fatalf("created %d agents, want 100", len(a))
	}
	same := true
	for i := range a {
		p := a[i].Position
		if p.X < 0 || p.X > 250 || p.Y < 0 || p.Y > 250 || p.Z < 0 || p.Z > 250 {
			t.Errorf("agent %d at %v outside placement cube", i, p)
		}
		if a[i] != b[i] {
			t.Fatalf("same seed produced different agent %d: %v vs %v", i, a[i], b[i])
		}
		same = same && a[i] == c[i]
	}
	if same {
		t.Error("different seeds produced identical placements")
	}

	s := newTestSim(t, Options{})
	if err := s.CreateCellsRandom(5, 5, 10, plainCell(1)); !errors.Is(err, systems.ErrInvalidArgument) {
		t.Errorf("empty cube = %v, want ErrInvalidArgument", err)
	}
	if err := s.CreateCellsRandom(0, 1, -1, plainCell(1)); !errors.Is(err, systems.ErrInvalidArgument) {
		t.Errorf("negative count = %v, want ErrInvalidArgument", err)
	}
}
