package sim

import (
	"log/slog"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/morphogen/telemetry"
)

// flushTelemetry checks if the stats window should be flushed and handles bookmarks.
func (sc *Scheduler) flushTelemetry() {
	tick := sc.tick.Load()
	if sc.collector == nil || !sc.collector.ShouldFlush(tick) {
		return
	}

	fields := sc.sampleFields()
	displacements := sc.sampleDisplacements()

	// Flush the stats window
	stats := sc.collector.Flush(tick, fields, displacements)
	perfStats := sc.perf.Stats()
	opts := &sc.sim.opts

	// Call stats callback if provided
	if opts.StatsCallback != nil {
		opts.StatsCallback(stats)
	}

	// Log stats if enabled (console output)
	if opts.LogStats {
		stats.LogStats()
		perfStats.LogStats()
	}

	// Write to CSV if output manager is enabled
	if opts.OutputManager != nil {
		if err := opts.OutputManager.WriteWindow(stats); err != nil {
			slog.Error("failed to write telemetry", "error", err)
		}
		if err := opts.OutputManager.WritePerf(perfStats, tick); err != nil {
			slog.Error("failed to write perf", "error", err)
		}
	}

	// Check for bookmarks
	for _, bm := range sc.bookmarks.Check(stats) {
		if opts.LogStats {
			bm.LogBookmark()
		}
		if opts.OutputManager != nil {
			if err := opts.OutputManager.WriteBookmark(bm); err != nil {
				slog.Error("failed to write bookmark", "error", err)
			}
		}
	}
}

// sampleFields collects the summary of every grid.
func (sc *Scheduler) sampleFields() []telemetry.FieldSample {
	grids := sc.sim.registry.Grids()
	out := make([]telemetry.FieldSample, len(grids))
	for i, g := range grids {
		nx, ny, nz := g.Dimensions()
		out[i] = telemetry.FieldSample{
			Substance:        g.Name(),
			TotalMass:        g.TotalMass(),
			MaxConcentration: g.MaxConcentration(),
			NonZeroCells:     g.NonZeroCells(),
			Cells:            nx * ny * nz,
			Threshold:        g.Threshold(),
		}
	}
	return out
}

// sampleDisplacements returns each agent's distance from its position at
// the start of the window and starts the next window.
func (sc *Scheduler) sampleDisplacements() []float64 {
	out := make([]float64, 0, len(sc.windowStart))
	i := 0
	query := sc.sim.agentFilter.Query()
	for query.Next() {
		pos, _, _, _ := query.Get()
		v := pos.Vec()
		if i < len(sc.windowStart) {
			out = append(out, r3.Norm(r3.Sub(v, sc.windowStart[i])))
			sc.windowStart[i] = v
		} else {
			out = append(out, 0)
			sc.windowStart = append(sc.windowStart, v)
		}
		i++
	}
	return out
}
