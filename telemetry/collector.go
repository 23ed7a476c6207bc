package telemetry

// FieldSample is the raw state of one grid handed to Flush.
type FieldSample struct {
	Substance        string
	TotalMass        float64
	MaxConcentration float64
	NonZeroCells     int
	Cells            int
	Threshold        float64
}

// Collector accumulates events within windows of ticks and produces WindowStats.
type Collector struct {
	windowTicks int64

	// Current window tracking
	windowStartTick int64

	// Event counters for current window
	rejectedMoves int
}

// NewCollector creates a new stats collector flushing every windowTicks ticks.
func NewCollector(windowTicks int) *Collector {
	if windowTicks < 1 {
		windowTicks = 1
	}
	return &Collector{windowTicks: int64(windowTicks)}
}

// RecordRejectedMoves records moves dropped by the bounds.
func (c *Collector) RecordRejectedMoves(n int) {
	c.rejectedMoves += n
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick int64) bool {
	return currentTick-c.windowStartTick >= c.windowTicks
}

// Flush produces a WindowStats and resets counters for the next window.
// displacements holds, per agent, the distance moved since the window began.
func (c *Collector) Flush(currentTick int64, fields []FieldSample, displacements []float64) WindowStats {
	mean, std, p10, p50, p90 := ComputeDistributionStats(displacements)

	stats := WindowStats{
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   currentTick,
		Agents: AgentStats{
			Tick:             currentTick,
			Agents:           len(displacements),
			DisplacementMean: mean,
			DisplacementStd:  std,
			DisplacementP10:  p10,
			DisplacementP50:  p50,
			DisplacementP90:  p90,
			RejectedMoves:    c.rejectedMoves,
		},
		Fields: make([]FieldStats, len(fields)),
	}

	for i, f := range fields {
		var meanConc float64
		if f.Cells > 0 {
			meanConc = f.TotalMass / float64(f.Cells)
		}
		stats.Fields[i] = FieldStats{
			Tick:              currentTick,
			Substance:         f.Substance,
			TotalMass:         f.TotalMass,
			MaxConcentration:  f.MaxConcentration,
			MeanConcentration: meanConc,
			NonZeroCells:      f.NonZeroCells,
			Threshold:         f.Threshold,
		}
	}

	// Reset for next window
	c.windowStartTick = currentTick
	c.rejectedMoves = 0

	return stats
}

// WindowTicks returns the number of ticks per window.
func (c *Collector) WindowTicks() int64 {
	return c.windowTicks
}
