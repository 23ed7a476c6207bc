package telemetry

import (
	"fmt"
	"log/slog"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkSaturation       BookmarkType = "saturation"
	BookmarkMassSpike        BookmarkType = "mass_spike"
	BookmarkAgentsSettled    BookmarkType = "agents_settled"
	BookmarkBoundaryPressure BookmarkType = "boundary_pressure"
)

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type"`
	Tick        int64        `csv:"tick"`
	Description string       `csv:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"tick", b.Tick,
		"description", b.Description,
	)
}

// BookmarkDetector detects interesting moments in the simulation.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	// State tracking
	saturated map[string]bool // substances that already hit their threshold
	settled   bool
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < 3 {
		historySize = 3
	}
	return &BookmarkDetector{
		history:     make([]WindowStats, historySize),
		historySize: historySize,
		saturated:   make(map[string]bool),
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	// Saturation: a field reached its concentration threshold
	bookmarks = append(bookmarks, bd.checkSaturation(stats)...)

	// Boundary pressure: more than 10% of agent moves were rejected
	if b := bd.checkBoundaryPressure(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	if bd.historyFull || bd.historyIdx > 0 {
		// Mass spike: total field mass > 2x rolling average
		if b := bd.checkMassSpike(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Agents settled: mean displacement < 10% of rolling average
		if b := bd.checkAgentsSettled(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}

	bd.addToHistory(stats)

	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []WindowStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

func (bd *BookmarkDetector) checkSaturation(stats WindowStats) []Bookmark {
	var out []Bookmark
	for _, f := range stats.Fields {
		if bd.saturated[f.Substance] || f.Threshold <= 0 || f.MaxConcentration < f.Threshold {
			continue
		}
		bd.saturated[f.Substance] = true
		out = append(out, Bookmark{
			Type:        BookmarkSaturation,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("%s reached its threshold %g", f.Substance, f.Threshold),
		})
	}
	return out
}

func (bd *BookmarkDetector) checkBoundaryPressure(stats WindowStats) *Bookmark {
	ticks := stats.WindowEndTick - stats.WindowStartTick
	moves := int64(stats.Agents.Agents) * ticks
	if moves == 0 || stats.Agents.RejectedMoves == 0 {
		return nil
	}

	frac := float64(stats.Agents.RejectedMoves) / float64(moves)
	if frac > 0.10 {
		return &Bookmark{
			Type:        BookmarkBoundaryPressure,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("%.0f%% of moves rejected at the bounds", frac*100),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkMassSpike(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total float64
	for _, h := range history {
		total += h.TotalMass()
	}
	avg := total / float64(len(history))
	if avg == 0 {
		return nil
	}

	current := stats.TotalMass()
	if current > avg*2.0 {
		return &Bookmark{
			Type:        BookmarkMassSpike,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Field mass %.3g is %.1fx average (%.3g)", current, current/avg, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkAgentsSettled(stats WindowStats) *Bookmark {
	if bd.settled || stats.Agents.Agents == 0 {
		return nil
	}
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total float64
	for _, h := range history {
		total += h.Agents.DisplacementMean
	}
	avg := total / float64(len(history))
	if avg == 0 {
		return nil
	}

	if stats.Agents.DisplacementMean < avg*0.1 {
		bd.settled = true
		return &Bookmark{
			Type:        BookmarkAgentsSettled,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Mean displacement %.3g dropped below 10%% of average (%.3g)", stats.Agents.DisplacementMean, avg),
		}
	}
	return nil
}
