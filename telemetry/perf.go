package telemetry

import (
	"log/slog"
	"maps"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Phase is one stage of a scheduler tick.
type Phase int

const (
	PhaseBehavior Phase = iota
	PhaseCommit
	PhaseFields
	PhaseTelemetry
	numPhases
)

var phaseNames = [numPhases]string{"behavior", "commit", "fields", "telemetry"}

func (p Phase) String() string {
	if p < 0 || p >= numPhases {
		return "unknown"
	}
	return phaseNames[p]
}

type fieldTime struct {
	substance string
	d         time.Duration
}

// tickSample is the timing of one scheduler tick.
type tickSample struct {
	total    time.Duration
	phases   [numPhases]time.Duration
	fields   []fieldTime
	agents   int
	parallel bool
}

// PerfCollector times scheduler ticks over a rolling window: the phases of
// each tick, every substance's diffusion step and the behavior pass mode.
// It is not safe for concurrent use.
type PerfCollector struct {
	now     func() time.Time
	samples []tickSample
	next    int
	count   int

	cur       tickSample
	tickStart time.Time
	markAt    time.Time
	phase     Phase
	inPhase   bool
}

// NewPerfCollector creates a collector averaging over windowSize ticks.
func NewPerfCollector(windowSize int) *PerfCollector {
	return newPerfCollector(windowSize, time.Now)
}

func newPerfCollector(windowSize int, now func() time.Time) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{now: now, samples: make([]tickSample, windowSize)}
}

// StartTick begins timing a tick.
func (p *PerfCollector) StartTick() {
	p.cur = tickSample{fields: p.cur.fields[:0]}
	p.tickStart = p.now()
	p.inPhase = false
}

// Mark closes the running phase, if any, and starts phase.
func (p *PerfCollector) Mark(phase Phase) {
	t := p.now()
	p.closePhase(t)
	p.phase, p.markAt, p.inPhase = phase, t, true
}

func (p *PerfCollector) closePhase(t time.Time) {
	if p.inPhase {
		p.cur.phases[p.phase] += t.Sub(p.markAt)
	}
}

// RecordBehavior notes how many agents the behavior pass updated and
// whether it ran on the worker pool.
func (p *PerfCollector) RecordBehavior(agents int, parallel bool) {
	p.cur.agents = agents
	p.cur.parallel = parallel
}

// RecordField adds the time one substance spent in its diffusion step.
func (p *PerfCollector) RecordField(substance string, d time.Duration) {
	p.cur.fields = append(p.cur.fields, fieldTime{substance: substance, d: d})
}

// EndTick closes the tick and stores it in the window. A tick aborted by
// an error is stored with the phases it reached.
func (p *PerfCollector) EndTick() {
	t := p.now()
	p.closePhase(t)
	p.inPhase = false
	p.cur.total = t.Sub(p.tickStart)

	// Swap buffers so the stored sample keeps its own field slice
	spare := p.samples[p.next].fields
	p.samples[p.next] = p.cur
	p.cur.fields = spare[:0]

	p.next = (p.next + 1) % len(p.samples)
	p.count = min(p.count+1, len(p.samples))
}

// PerfStats summarizes the ticks in the window.
type PerfStats struct {
	Ticks           int
	AvgTickDuration time.Duration
	P95TickDuration time.Duration
	MaxTickDuration time.Duration

	PhaseAvg [numPhases]time.Duration
	PhasePct [numPhases]float64 // Share of total tick time

	// Mean diffusion step per substance. Grids diffuse concurrently, so
	// these can add up to more than the fields phase.
	FieldAvg map[string]time.Duration

	TicksPerSecond        float64
	AgentUpdatesPerSecond float64
	ParallelShare         float64 // Fraction of ticks that used the worker pool
}

// Stats computes statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	st := PerfStats{Ticks: p.count, FieldAvg: make(map[string]time.Duration)}
	if p.count == 0 {
		return st
	}

	totals := make([]float64, p.count)
	var sum time.Duration
	var phaseSum [numPhases]time.Duration
	fieldSum := make(map[string]time.Duration)
	fieldN := make(map[string]int)
	var agents, parallel int

	for i, s := range p.samples[:p.count] {
		totals[i] = float64(s.total)
		sum += s.total
		st.MaxTickDuration = max(st.MaxTickDuration, s.total)
		for ph, d := range s.phases {
			phaseSum[ph] += d
		}
		for _, f := range s.fields {
			fieldSum[f.substance] += f.d
			fieldN[f.substance]++
		}
		agents += s.agents
		if s.parallel {
			parallel++
		}
	}

	n := time.Duration(p.count)
	st.AvgTickDuration = sum / n
	slices.Sort(totals)
	st.P95TickDuration = time.Duration(stat.Quantile(0.95, stat.Empirical, totals, nil))
	for ph, d := range phaseSum {
		st.PhaseAvg[ph] = d / n
		if sum > 0 {
			st.PhasePct[ph] = float64(d) / float64(sum) * 100
		}
	}
	for name, d := range fieldSum {
		st.FieldAvg[name] = d / time.Duration(fieldN[name])
	}
	if sum > 0 {
		st.TicksPerSecond = float64(p.count) / sum.Seconds()
		st.AgentUpdatesPerSecond = float64(agents) / sum.Seconds()
	}
	st.ParallelShare = float64(parallel) / float64(p.count)
	return st
}

// SlowestField returns the substance with the longest mean diffusion step.
// Ties go to the first name in sorted order.
func (s PerfStats) SlowestField() (string, time.Duration) {
	var name string
	var longest time.Duration
	for _, sub := range slices.Sorted(maps.Keys(s.FieldAvg)) {
		if d := s.FieldAvg[sub]; name == "" || d > longest {
			name, longest = sub, d
		}
	}
	return name, longest
}

// LogStats logs the window through slog.
func (s PerfStats) LogStats() {
	slog.Info("perf", "stats", s)
}

// LogValue implements slog.LogValuer for structured logging.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("avg_tick_us", s.AvgTickDuration.Microseconds()),
		slog.Int64("p95_tick_us", s.P95TickDuration.Microseconds()),
		slog.Int64("max_tick_us", s.MaxTickDuration.Microseconds()),
		slog.Float64("ticks_per_sec", s.TicksPerSecond),
		slog.Float64("agent_updates_per_sec", s.AgentUpdatesPerSecond),
		slog.Float64("parallel_share", s.ParallelShare),
	}
	for ph := Phase(0); ph < numPhases; ph++ {
		attrs = append(attrs, slog.Float64(ph.String()+"_pct", s.PhasePct[ph]))
	}
	if len(s.FieldAvg) > 0 {
		fields := make([]any, 0, len(s.FieldAvg))
		for _, sub := range slices.Sorted(maps.Keys(s.FieldAvg)) {
			fields = append(fields, slog.Int64(sub, s.FieldAvg[sub].Microseconds()))
		}
		attrs = append(attrs, slog.Group("diffuse_us", fields...))
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is one row of perf.csv.
type PerfStatsCSV struct {
	WindowEnd          int64   `csv:"window_end"`
	Ticks              int     `csv:"ticks"`
	AvgTickUS          int64   `csv:"avg_tick_us"`
	P95TickUS          int64   `csv:"p95_tick_us"`
	MaxTickUS          int64   `csv:"max_tick_us"`
	TicksPerSec        float64 `csv:"ticks_per_sec"`
	AgentUpdatesPerSec float64 `csv:"agent_updates_per_sec"`
	ParallelShare      float64 `csv:"parallel_share"`
	BehaviorPct        float64 `csv:"behavior_pct"`
	CommitPct          float64 `csv:"commit_pct"`
	FieldsPct          float64 `csv:"fields_pct"`
	TelemetryPct       float64 `csv:"telemetry_pct"`
	SlowestField       string  `csv:"slowest_field"`
	SlowestFieldUS     int64   `csv:"slowest_field_us"`
}

// ToCSV flattens the stats for the window ending at windowEnd.
func (s PerfStats) ToCSV(windowEnd int64) PerfStatsCSV {
	slowest, d := s.SlowestField()
	return PerfStatsCSV{
		WindowEnd:          windowEnd,
		Ticks:              s.Ticks,
		AvgTickUS:          s.AvgTickDuration.Microseconds(),
		P95TickUS:          s.P95TickDuration.Microseconds(),
		MaxTickUS:          s.MaxTickDuration.Microseconds(),
		TicksPerSec:        s.TicksPerSecond,
		AgentUpdatesPerSec: s.AgentUpdatesPerSecond,
		ParallelShare:      s.ParallelShare,
		BehaviorPct:        s.PhasePct[PhaseBehavior],
		CommitPct:          s.PhasePct[PhaseCommit],
		FieldsPct:          s.PhasePct[PhaseFields],
		TelemetryPct:       s.PhasePct[PhaseTelemetry],
		SlowestField:       slowest,
		SlowestFieldUS:     d.Microseconds(),
	}
}
