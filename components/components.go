// Package components defines ECS components for the simulation.
package components

// RuleKind enumerates the behavior rules an agent can carry.
type RuleKind uint8

const (
	RuleChemotaxis RuleKind = iota // Move along a substance gradient
	RuleSecretion                  // Add substance at the agent position
)

// String returns the display name for a RuleKind.
func (k RuleKind) String() string {
	switch k {
	case RuleChemotaxis:
		return "chemotaxis"
	case RuleSecretion:
		return "secretion"
	default:
		return "unknown"
	}
}

// RuleRef addresses one rule record by kind and index into the rule book.
// Many agents can share the same record.
type RuleRef struct {
	Kind  RuleKind
	Index uint32
}

// Behaviors holds the ordered rules of an agent.
// The slice is fixed after construction and runs in order every tick.
type Behaviors struct {
	Rules []RuleRef
}

// CellType is the application-defined type tag of an agent.
type CellType struct {
	Value int
}
