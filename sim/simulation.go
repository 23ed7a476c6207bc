// Package sim couples the agent store, the diffusion grids and the behavior
// rules into a steppable simulation.
package sim

import (
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"time"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/morphogen/components"
	"github.com/pthm-cable/morphogen/config"
	"github.com/pthm-cable/morphogen/systems"
	"github.com/pthm-cable/morphogen/telemetry"
)

// defaultParallelThreshold is the minimum agent count for the parallel
// behavior pass. Below this, single-threaded is faster due to goroutine overhead.
const defaultParallelThreshold = 256

// Options configures a Simulation.
type Options struct {
	Bounds    systems.Bounds
	DT        float64          // Simulated time per tick (0 = 1)
	Threshold float64          // Initial concentration threshold of new grids (0 = default)
	Boundary  systems.Boundary // Diffusion boundary condition

	Workers           int // Behavior and diffusion goroutines (0 = GOMAXPROCS)
	ParallelThreshold int // Minimum agents for the parallel behavior pass (0 = default)
	Seed              int64

	// Telemetry
	WindowTicks   int // Ticks per stats window (0 = no window stats)
	PerfWindow    int // Ticks averaged by the perf collector
	LogStats      bool
	OutputManager *telemetry.OutputManager
	StatsCallback func(telemetry.WindowStats)
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	policy, err := systems.ParseBoundPolicy(cfg.Domain.BoundPolicy)
	if err != nil {
		return Options{}, err
	}
	boundary, err := systems.ParseBoundary(cfg.Diffusion.Boundary)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Bounds: systems.Bounds{
			Min:     cfg.Domain.MinBound,
			Max:     cfg.Domain.MaxBound,
			Enabled: cfg.Domain.BoundSpace,
			Policy:  policy,
		},
		DT:                cfg.Diffusion.DT,
		Threshold:         cfg.Diffusion.Threshold,
		Boundary:          boundary,
		Workers:           cfg.Derived.Workers,
		ParallelThreshold: cfg.Scheduler.ParallelThreshold,
		Seed:              time.Now().UnixNano(),
		WindowTicks:       cfg.Telemetry.WindowTicks,
		PerfWindow:        cfg.Telemetry.PerfCollectorWindow,
	}, nil
}

// Simulation holds the complete state of one run.
type Simulation struct {
	world *ecs.World
	rng   *rand.Rand
	opts  Options

	// Entity mappers
	agentMapper *ecs.Map4[
		components.Position,
		components.Body,
		components.CellType,
		components.Behaviors,
	]
	agentFilter *ecs.Filter4[
		components.Position,
		components.Body,
		components.CellType,
		components.Behaviors,
	]
	posMap *ecs.Map1[components.Position]

	bounds    systems.Bounds
	registry  *systems.SubstanceRegistry
	rules     *systems.RuleBook
	scheduler *Scheduler

	numAgents int
}

// New creates an empty simulation. Substances, rules and agents are added
// before the first call to Simulate.
func New(opts Options) (*Simulation, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.ParallelThreshold <= 0 {
		opts.ParallelThreshold = defaultParallelThreshold
	}

	registry, err := systems.NewSubstanceRegistry(opts.Bounds, systems.GridOptions{
		DT:        opts.DT,
		Threshold: opts.Threshold,
		Boundary:  opts.Boundary,
		Workers:   opts.Workers,
	})
	if err != nil {
		return nil, err
	}

	world := ecs.NewWorld()
	s := &Simulation{
		world: world,
		rng:   rand.New(rand.NewSource(opts.Seed)),
		opts:  opts,
		agentMapper: ecs.NewMap4[
			components.Position,
			components.Body,
			components.CellType,
			components.Behaviors,
		](world),
		agentFilter: ecs.NewFilter4[
			components.Position,
			components.Body,
			components.CellType,
			components.Behaviors,
		](world),
		posMap:   ecs.NewMap1[components.Position](world),
		bounds:   opts.Bounds,
		registry: registry,
		rules:    systems.NewRuleBook(opts.Bounds),
	}
	s.scheduler = newScheduler(s)

	slog.Debug("simulation created",
		"bounds_min", opts.Bounds.Min,
		"bounds_max", opts.Bounds.Max,
		"bounded", opts.Bounds.Enabled,
		"workers", opts.Workers,
		"seed", opts.Seed,
	)

	return s, nil
}

// DefineSubstance creates the diffusion grid of a substance.
func (s *Simulation) DefineSubstance(id systems.SubstanceID, name string, diffusionCoefficient, decayConstant, resolution float64) (*systems.DiffusionGrid, error) {
	if s.scheduler.Busy() {
		return nil, ErrSchedulerBusy
	}
	g, err := s.registry.Define(id, name, diffusionCoefficient, decayConstant, resolution)
	if err != nil {
		return nil, err
	}
	nx, ny, nz := g.Dimensions()
	slog.Debug("substance defined", "id", id, "name", name, "cells", [3]int{nx, ny, nz})
	return g, nil
}

// Grid returns the grid of a defined substance.
func (s *Simulation) Grid(id systems.SubstanceID) (*systems.DiffusionGrid, error) {
	return s.registry.Get(id)
}

// Grids returns every grid in declaration order.
func (s *Simulation) Grids() []*systems.DiffusionGrid {
	return s.registry.Grids()
}

// AddChemotaxis registers a chemotaxis rule that agents can attach.
func (s *Simulation) AddChemotaxis(r systems.ChemotaxisRule) (components.RuleRef, error) {
	return s.rules.AddChemotaxis(r)
}

// AddSecretion registers a secretion rule that agents can attach.
func (s *Simulation) AddSecretion(r systems.SecretionRule) (components.RuleRef, error) {
	return s.rules.AddSecretion(r)
}

// Scheduler returns the scheduler driving this simulation.
func (s *Simulation) Scheduler() *Scheduler {
	return s.scheduler
}

// Simulate advances the simulation by n ticks. See Scheduler.Simulate.
func (s *Simulation) Simulate(n int) error {
	return s.scheduler.Simulate(n)
}

// Tick returns the number of completed ticks.
func (s *Simulation) Tick() int64 {
	return s.scheduler.Tick()
}

// Bounds returns the simulation cube.
func (s *Simulation) Bounds() systems.Bounds {
	return s.bounds
}

// NumAgents returns the number of agents.
func (s *Simulation) NumAgents() int {
	return s.numAgents
}

// Agents returns a snapshot of every agent's position and type in creation order.
func (s *Simulation) Agents() []systems.AgentPoint {
	out := make([]systems.AgentPoint, 0, s.numAgents)
	query := s.agentFilter.Query()
	for query.Next() {
		pos, _, ct, _ := query.Get()
		out = append(out, systems.AgentPoint{Position: pos.Vec(), Type: ct.Value})
	}
	return out
}

// Close stops the worker pool. The simulation must not be used afterwards.
func (s *Simulation) Close() {
	s.scheduler.stop()
}

func (s *Simulation) String() string {
	return fmt.Sprintf("Simulation{agents: %d, substances: %d, tick: %d}", s.numAgents, s.registry.Len(), s.Tick())
}
