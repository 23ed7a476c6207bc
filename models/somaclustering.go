package models

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/morphogen/components"
	"github.com/pthm-cable/morphogen/config"
	"github.com/pthm-cable/morphogen/sim"
	"github.com/pthm-cable/morphogen/systems"
)

// Cell type tags of the two soma populations.
const (
	somaTypeA = 1
	somaTypeB = -1
)

func init() {
	Register(Model{
		Name:        "soma_clustering",
		Description: "two cell populations each follow their own secretion and sort into clusters",
		Run:         runSomaClustering,
	})
}

func runSomaClustering(cfg *config.Config, opts RunOptions) (Result, error) {
	mc := cfg.Models.SomaClustering
	steps := stepsOr(opts, mc.Steps)
	if len(mc.Substances) != 2 {
		return Result{}, fmt.Errorf("%w: soma_clustering needs 2 substances, got %d", systems.ErrConfiguration, len(mc.Substances))
	}
	if mc.ClusterDivisor < 1 {
		return Result{}, fmt.Errorf("%w: cluster_divisor must be >= 1, got %d", systems.ErrConfiguration, mc.ClusterDivisor)
	}

	simOpts := opts.Sim
	simOpts.Bounds = systems.Bounds{Min: mc.MinBound, Max: mc.MaxBound, Enabled: true, Policy: simOpts.Bounds.Policy}
	simOpts.Seed = mc.Seed
	if opts.Seed != 0 {
		simOpts.Seed = opts.Seed
	}
	s, err := sim.New(simOpts)
	if err != nil {
		return Result{}, err
	}
	defer s.Close()

	grids := make([]*systems.DiffusionGrid, len(mc.Substances))
	for i, sub := range mc.Substances {
		grids[i], err = s.DefineSubstance(systems.SubstanceID(i), sub.Name, sub.DiffusionCoefficient, sub.DecayConstant, sub.Resolution)
		if err != nil {
			return Result{}, err
		}
	}

	// Each population writes and follows its own substance.
	own := systems.FieldByType(map[int]*systems.DiffusionGrid{
		somaTypeA: grids[1],
		somaTypeB: grids[0],
	}, nil)
	secrete, err := s.AddSecretion(systems.SecretionRule{Fields: own, Amount: mc.SecretionAmount})
	if err != nil {
		return Result{}, err
	}
	follow, err := s.AddChemotaxis(systems.ChemotaxisRule{Fields: own, Gain: mc.ChemotaxisGain})
	if err != nil {
		return Result{}, err
	}

	for _, cellType := range []int{somaTypeA, somaTypeB} {
		err := s.CreateCellsRandom(mc.MinBound, mc.MaxBound, mc.NumCells/2, func(r3.Vec) (sim.CellSpec, error) {
			return sim.CellSpec{
				Diameter: mc.CellDiameter,
				Type:     cellType,
				Rules:    []components.RuleRef{secrete, follow},
			}, nil
		})
		if err != nil {
			return Result{}, err
		}
	}

	minClusterSize := max(s.NumAgents()/mc.ClusterDivisor, 1)
	before, err := systems.NewClusteringCriterion(s.Agents(), cfg.Clustering.AcceptanceFraction).
		Score(mc.SpatialRange, minClusterSize)
	if err != nil {
		return Result{}, err
	}

	initialSpacing := meanSameTypeSpacing(s.Agents())

	if err := s.Simulate(steps); err != nil {
		return Result{Ticks: s.Tick()}, err
	}

	after, err := systems.NewClusteringCriterion(s.Agents(), cfg.Clustering.AcceptanceFraction).
		Score(mc.SpatialRange, minClusterSize)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Ticks:  s.Tick(),
		Passed: after.Passed,
		Metrics: map[string]float64{
			"agents":             float64(after.Agents),
			"min_cluster_size":   float64(minClusterSize),
			"clustered_fraction": after.Fraction,
			"initial_fraction":   before.Fraction,
			"acceptance":         after.Acceptance,
			"initial_spacing":    initialSpacing,
			"same_type_spacing":  meanSameTypeSpacing(s.Agents()),
		},
	}, nil
}

// meanSameTypeSpacing returns the mean distance from each agent to its
// nearest neighbour of the same type.
func meanSameTypeSpacing(points []systems.AgentPoint) float64 {
	if len(points) < 2 {
		return 0
	}
	positions := make([]r3.Vec, len(points))
	for i, p := range points {
		positions[i] = p.Position
	}

	var sum float64
	var n int
	for radius := 1.0; ; radius *= 4 {
		grid := systems.NewNeighborGrid(positions, radius)
		sum, n = 0, 0
		missing := false
		for i, p := range points {
			best := -1.0
			grid.Visit(p.Position, radius, func(j int) bool {
				if j != i && points[j].Type == p.Type {
					if d := r3.Norm(r3.Sub(positions[j], p.Position)); best < 0 || d < best {
						best = d
					}
				}
				return true
			})
			if best < 0 {
				missing = true
				break
			}
			sum += best
			n++
		}
		if !missing || radius > 1e6 {
			break
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
