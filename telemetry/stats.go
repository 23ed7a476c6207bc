package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// FieldStats holds the state of one substance grid at the end of a window.
type FieldStats struct {
	Tick              int64   `csv:"tick"`
	Substance         string  `csv:"substance"`
	TotalMass         float64 `csv:"total_mass"`
	MaxConcentration  float64 `csv:"max_concentration"`
	MeanConcentration float64 `csv:"mean_concentration"`
	NonZeroCells      int     `csv:"nonzero_cells"`
	Threshold         float64 `csv:"threshold"`
}

// LogValue implements slog.LogValuer for structured logging.
func (f FieldStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("substance", f.Substance),
		slog.Float64("total_mass", f.TotalMass),
		slog.Float64("max", f.MaxConcentration),
		slog.Float64("mean", f.MeanConcentration),
		slog.Int("nonzero_cells", f.NonZeroCells),
	)
}

// AgentStats holds agent movement over one window.
type AgentStats struct {
	Tick             int64   `csv:"tick"`
	Agents           int     `csv:"agents"`
	DisplacementMean float64 `csv:"displacement_mean"`
	DisplacementStd  float64 `csv:"displacement_std"`
	DisplacementP10  float64 `csv:"displacement_p10"`
	DisplacementP50  float64 `csv:"displacement_p50"`
	DisplacementP90  float64 `csv:"displacement_p90"`
	RejectedMoves    int     `csv:"rejected_moves"`
}

// WindowStats holds aggregated statistics for a window of ticks.
type WindowStats struct {
	WindowStartTick int64
	WindowEndTick   int64

	Agents AgentStats
	Fields []FieldStats
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeDistributionStats calculates mean, population std, and percentiles.
func ComputeDistributionStats(values []float64) (mean, std, p10, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0, 0
	}

	mean, std = stat.PopMeanStdDev(values, nil)

	// Sort for percentiles
	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, std, p10, p50, p90
}

// TotalMass sums the mass of every field in the window.
func (s WindowStats) TotalMass() float64 {
	var total float64
	for _, f := range s.Fields {
		total += f.TotalMass
	}
	return total
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int64("window_start", s.WindowStartTick),
		slog.Int64("window_end", s.WindowEndTick),
		slog.Int("agents", s.Agents.Agents),
		slog.Float64("displacement_mean", s.Agents.DisplacementMean),
		slog.Float64("displacement_p50", s.Agents.DisplacementP50),
		slog.Float64("displacement_p90", s.Agents.DisplacementP90),
		slog.Int("rejected_moves", s.Agents.RejectedMoves),
	}
	for _, f := range s.Fields {
		attrs = append(attrs, slog.Any(f.Substance, f))
	}
	return slog.GroupValue(attrs...)
}

// LogStats logs the window stats using slog.
func (s WindowStats) LogStats() {
	slog.Info("stats", "window", s)
}
