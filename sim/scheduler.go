package sim

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/morphogen/components"
	"github.com/pthm-cable/morphogen/systems"
	"github.com/pthm-cable/morphogen/telemetry"
)

// ErrSchedulerBusy is returned when Simulate is called while a previous
// call is still stepping.
var ErrSchedulerBusy = errors.New("scheduler busy")

const (
	stateIdle int32 = iota
	stateStepping
)

// Scheduler advances a Simulation in discrete ticks. Each tick runs the
// behavior pass over every agent, commits the new positions and then
// diffuses every grid once.
type Scheduler struct {
	sim   *Simulation
	state atomic.Int32
	tick  atomic.Int64

	parallel *parallelState

	// Telemetry
	perf        *telemetry.PerfCollector
	collector   *telemetry.Collector
	bookmarks   *telemetry.BookmarkDetector
	windowStart []r3.Vec // agent positions at the start of the stats window
	fieldTimes  []time.Duration
}

func newScheduler(s *Simulation) *Scheduler {
	sc := &Scheduler{
		sim:      s,
		parallel: newParallelState(s.opts.Workers),
		perf:     telemetry.NewPerfCollector(s.opts.PerfWindow),
	}
	if s.opts.WindowTicks > 0 {
		sc.collector = telemetry.NewCollector(s.opts.WindowTicks)
		sc.bookmarks = telemetry.NewBookmarkDetector(10)
	}
	return sc
}

// Simulate runs n ticks. Sequential calls continue the clock. Calling
// Simulate while another call is stepping returns ErrSchedulerBusy.
//
// A rule error aborts the run with the failing tick in the message. The
// simulation state after an abort is not rolled back.
func (sc *Scheduler) Simulate(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative step count %d", systems.ErrInvalidArgument, n)
	}
	if !sc.state.CompareAndSwap(stateIdle, stateStepping) {
		return ErrSchedulerBusy
	}
	defer sc.state.Store(stateIdle)

	for i := 0; i < n; i++ {
		if err := sc.step(); err != nil {
			return fmt.Errorf("tick %d: %w", sc.tick.Load(), err)
		}
	}
	return nil
}

// Tick returns the number of completed ticks.
func (sc *Scheduler) Tick() int64 {
	return sc.tick.Load()
}

// Busy reports whether a Simulate call is in progress.
func (sc *Scheduler) Busy() bool {
	return sc.state.Load() == stateStepping
}

// PerfStats returns timing statistics over the recent ticks.
func (sc *Scheduler) PerfStats() telemetry.PerfStats {
	return sc.perf.Stats()
}

func (sc *Scheduler) step() error {
	sc.perf.StartTick()

	// 1. Behavior pass
	sc.perf.Mark(telemetry.PhaseBehavior)
	if err := sc.behaviorPass(); err != nil {
		sc.perf.EndTick()
		return err
	}

	// 2. Commit positions
	sc.perf.Mark(telemetry.PhaseCommit)
	sc.commit()

	// 3. Field pass
	sc.perf.Mark(telemetry.PhaseFields)
	sc.fieldPass()

	sc.tick.Add(1)

	sc.perf.Mark(telemetry.PhaseTelemetry)
	sc.flushTelemetry()

	sc.perf.EndTick()
	return nil
}

// behaviorPass snapshots the agents in store order and runs their rules.
func (sc *Scheduler) behaviorPass() error {
	p := sc.parallel
	p.snapshots = p.snapshots[:0]

	query := sc.sim.agentFilter.Query()
	for query.Next() {
		pos, _, ct, beh := query.Get()
		v := pos.Vec()
		p.snapshots = append(p.snapshots, agentSnapshot{
			Entity: query.Entity(),
			Rules:  beh.Rules,
			State:  systems.AgentState{Position: v, Type: ct.Value},
		})
		// Agents created since the window began start it now
		if sc.collector != nil && len(sc.windowStart) < len(p.snapshots) {
			sc.windowStart = append(sc.windowStart, v)
		}
	}

	if len(p.snapshots) == 0 {
		return nil
	}
	parallel := p.numWorkers > 1 && len(p.snapshots) >= sc.sim.opts.ParallelThreshold
	sc.perf.RecordBehavior(len(p.snapshots), parallel)
	if !parallel {
		return p.computeSequential(sc.sim.rules)
	}
	return p.computeParallel(sc.sim.rules)
}

// commit writes the computed positions back to the agent store.
func (sc *Scheduler) commit() {
	rejected := 0
	for i := range sc.parallel.snapshots {
		snap := &sc.parallel.snapshots[i]
		pos := sc.sim.posMap.Get(snap.Entity)
		if pos == nil {
			continue
		}
		*pos = components.PositionOf(snap.State.Position)
		rejected += snap.State.RejectedMoves
	}

	if rejected > 0 {
		slog.Debug("moves rejected by bounds", "tick", sc.tick.Load(), "count", rejected)
		if sc.collector != nil {
			sc.collector.RecordRejectedMoves(rejected)
		}
	}
}

// fieldPass diffuses every grid once. Grids are independent, so they run
// concurrently; each grid also splits its own stencil into slabs.
func (sc *Scheduler) fieldPass() {
	grids := sc.sim.registry.Grids()
	if cap(sc.fieldTimes) < len(grids) {
		sc.fieldTimes = make([]time.Duration, len(grids))
	}
	times := sc.fieldTimes[:len(grids)]

	if len(grids) == 1 || sc.sim.opts.Workers <= 1 {
		for i, g := range grids {
			start := time.Now()
			g.Diffuse()
			times[i] = time.Since(start)
		}
	} else {
		var wg sync.WaitGroup
		for i, g := range grids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				start := time.Now()
				g.Diffuse()
				times[i] = time.Since(start)
			}()
		}
		wg.Wait()
	}

	for i, g := range grids {
		sc.perf.RecordField(g.Name(), times[i])
	}
}

func (sc *Scheduler) stop() {
	sc.parallel.stopWorkers()
}
