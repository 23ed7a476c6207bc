package systems

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultAcceptanceFraction is the clustered fraction a population must
// exceed to pass the criterion.
const DefaultAcceptanceFraction = 0.5

// AgentPoint is a read-only snapshot of one agent.
type AgentPoint struct {
	Position r3.Vec
	Type     int
}

// ClusterReport summarizes one evaluation of the clustering criterion.
type ClusterReport struct {
	Range          float64
	MinClusterSize int
	Agents         int
	Clustered      int
	Fraction       float64
	Acceptance     float64
	Passed         bool
}

// LogValue implements slog.LogValuer for structured logging.
func (r ClusterReport) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("range", r.Range),
		slog.Int("min_cluster_size", r.MinClusterSize),
		slog.Int("agents", r.Agents),
		slog.Int("clustered", r.Clustered),
		slog.Float64("fraction", r.Fraction),
		slog.Float64("acceptance", r.Acceptance),
		slog.Bool("passed", r.Passed),
	)
}

// ClusteringCriterion scores whether agents ended up in spatially coherent
// clusters of their own type.
//
// An agent is clustered when at least MinClusterSize agents of its type,
// itself included, lie within Range of it. The criterion passes when the
// clustered fraction of all agents exceeds the acceptance fraction.
type ClusteringCriterion struct {
	points     []AgentPoint
	acceptance float64
}

// NewClusteringCriterion creates a criterion over a snapshot of agents.
// acceptance <= 0 uses DefaultAcceptanceFraction.
func NewClusteringCriterion(points []AgentPoint, acceptance float64) *ClusteringCriterion {
	if acceptance <= 0 || math.IsNaN(acceptance) {
		acceptance = DefaultAcceptanceFraction
	}
	return &ClusteringCriterion{points: points, acceptance: acceptance}
}

// Evaluate reports whether the snapshot passes for the given range and
// minimum cluster size. Invalid arguments fail the criterion.
func (c *ClusteringCriterion) Evaluate(spatialRange float64, minClusterSize int) bool {
	report, err := c.Score(spatialRange, minClusterSize)
	if err != nil {
		slog.Warn("clustering criterion rejected arguments", "error", err)
		return false
	}
	return report.Passed
}

// Score computes the full clustering report.
func (c *ClusteringCriterion) Score(spatialRange float64, minClusterSize int) (ClusterReport, error) {
	if !(spatialRange > 0) || math.IsInf(spatialRange, 0) {
		return ClusterReport{}, fmt.Errorf("%w: spatial range must be positive and finite, got %v", ErrInvalidArgument, spatialRange)
	}
	if minClusterSize < 1 {
		return ClusterReport{}, fmt.Errorf("%w: minimum cluster size must be >= 1, got %d", ErrInvalidArgument, minClusterSize)
	}

	report := ClusterReport{
		Range:          spatialRange,
		MinClusterSize: minClusterSize,
		Agents:         len(c.points),
		Acceptance:     c.acceptance,
	}
	if len(c.points) == 0 {
		return report, nil
	}

	positions := make([]r3.Vec, len(c.points))
	for i, p := range c.points {
		positions[i] = p.Position
	}
	grid := NewNeighborGrid(positions, spatialRange)

	for _, p := range c.points {
		count := 0
		grid.Visit(p.Position, spatialRange, func(j int) bool {
			if c.points[j].Type == p.Type {
				count++
			}
			return count < minClusterSize
		})
		if count >= minClusterSize {
			report.Clustered++
		}
	}

	report.Fraction = float64(report.Clustered) / float64(report.Agents)
	report.Passed = report.Fraction > c.acceptance
	return report, nil
}
