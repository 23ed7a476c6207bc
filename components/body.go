package components

// Body holds physical properties of an agent.
type Body struct {
	Diameter float64
	Mass     float64
}
