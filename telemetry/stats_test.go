package telemetry

import (
	"math"
	"testing"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name   string
		sorted []float64
		p      float64
		want   float64
	}{
		{"empty slice", []float64{}, 0.5, 0},
		{"single element", []float64{5.0}, 0.5, 5.0},
		{"p0", []float64{1, 2, 3, 4, 5}, 0.0, 1.0},
		{"p100", []float64{1, 2, 3, 4, 5}, 1.0, 5.0},
		{"p50 odd", []float64{1, 2, 3, 4, 5}, 0.5, 3.0},
		{"p50 even", []float64{1, 2, 3, 4}, 0.5, 2.5},
		{"p10", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.1, 1.9},
		{"p90", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, 0.9, 9.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentile(tt.sorted, tt.p)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("Percentile(%v, %v) = %v, want %v", tt.sorted, tt.p, got, tt.want)
			}
		})
	}
}

func TestComputeDistributionStats(t *testing.T) {
	values := []float64{1.0, 0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1}
	mean, std, p10, p50, p90 := ComputeDistributionStats(values)

	if math.Abs(mean-0.55) > 0.001 {
		t.Errorf("mean = %v, want 0.55", mean)
	}
	// Population std of 0.1..1.0
	if math.Abs(std-0.2872) > 0.001 {
		t.Errorf("std = %v, want ~0.2872", std)
	}
	if math.Abs(p10-0.19) > 0.01 {
		t.Errorf("p10 = %v, want ~0.19", p10)
	}
	if math.Abs(p50-0.55) > 0.01 {
		t.Errorf("p50 = %v, want ~0.55", p50)
	}
	if math.Abs(p90-0.91) > 0.01 {
		t.Errorf("p90 = %v, want ~0.91", p90)
	}

	// Input must not be reordered
	if values[0] != 1.0 {
		t.Error("ComputeDistributionStats sorted its input")
	}
}

func TestComputeDistributionStatsEmpty(t *testing.T) {
	mean, std, p10, p50, p90 := ComputeDistributionStats(nil)

	if mean != 0 || std != 0 || p10 != 0 || p50 != 0 || p90 != 0 {
		t.Error("empty slice should return all zeros")
	}
}

func TestCollectorFlush(t *testing.T) {
	c := NewCollector(10)

	if c.ShouldFlush(9) {
		t.Error("flush before window is full")
	}
	if !c.ShouldFlush(10) {
		t.Error("expected flush at window end")
	}

	c.RecordRejectedMoves(3)
	c.RecordRejectedMoves(2)

	fields := []FieldSample{
		{Substance: "Kalium", TotalMass: 80, MaxConcentration: 4, NonZeroCells: 20, Cells: 8, Threshold: 1e15},
	}
	stats := c.Flush(10, fields, []float64{1, 2, 3})

	if stats.WindowStartTick != 0 || stats.WindowEndTick != 10 {
		t.Errorf("window = [%d, %d], want [0, 10]", stats.WindowStartTick, stats.WindowEndTick)
	}
	if stats.Agents.Agents != 3 || stats.Agents.DisplacementMean != 2 {
		t.Errorf("agent stats = %+v", stats.Agents)
	}
	if stats.Agents.RejectedMoves != 5 {
		t.Errorf("rejected moves = %d, want 5", stats.Agents.RejectedMoves)
	}
	if len(stats.Fields) != 1 || stats.Fields[0].MeanConcentration != 10 {
		t.Errorf("field stats = %+v", stats.Fields)
	}
	if stats.TotalMass() != 80 {
		t.Errorf("TotalMass() = %v, want 80", stats.TotalMass())
	}

	// Counters reset and the next window starts at the flush tick
	if c.ShouldFlush(15) {
		t.Error("window did not restart at flush tick")
	}
	next := c.Flush(20, nil, nil)
	if next.WindowStartTick != 10 || next.Agents.RejectedMoves != 0 {
		t.Errorf("next window not reset: %+v", next)
	}
}
