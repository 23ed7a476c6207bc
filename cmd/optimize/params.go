package main

import (
	"github.com/pthm-cable/morphogen/config"
)

// ParamSpec defines a single optimizable parameter.
type ParamSpec struct {
	Name string  // Human-readable name
	Path string  // Config path for logging
	Min  float64 // Lower bound
	Max  float64 // Upper bound
}

// ParamVector holds the set of all optimizable parameters.
type ParamVector struct {
	Specs []ParamSpec
}

// NewParamVector creates the standard set of optimizable parameters of the
// soma clustering model. Both substances share the diffusion parameters.
// The bounds keep 6*D/h^2 + k below 1 at the default resolution of 5.
func NewParamVector() *ParamVector {
	return &ParamVector{
		Specs: []ParamSpec{
			{Name: "chemotaxis_gain", Path: "models.soma_clustering.chemotaxis_gain", Min: 0.5, Max: 10},
			{Name: "secretion_amount", Path: "models.soma_clustering.secretion_amount", Min: 0.1, Max: 4},
			{Name: "diffusion_coefficient", Path: "models.soma_clustering.substances[*].diffusion_coefficient", Min: 0.05, Max: 3},
			{Name: "decay_constant", Path: "models.soma_clustering.substances[*].decay_constant", Min: 0.01, Max: 0.25},
		},
	}
}

// Dim returns the number of parameters.
func (pv *ParamVector) Dim() int {
	return len(pv.Specs)
}

// Normalize converts raw parameter values to [0,1] range.
func (pv *ParamVector) Normalize(raw []float64) []float64 {
	normalized := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		normalized[i] = (raw[i] - spec.Min) / (spec.Max - spec.Min)
	}
	return normalized
}

// Denormalize converts [0,1] values back to raw parameter values.
func (pv *ParamVector) Denormalize(normalized []float64) []float64 {
	raw := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		raw[i] = spec.Min + normalized[i]*(spec.Max-spec.Min)
	}
	return raw
}

// Clamp ensures all values are within bounds.
func (pv *ParamVector) Clamp(v []float64) []float64 {
	clamped := make([]float64, len(pv.Specs))
	for i, spec := range pv.Specs {
		clamped[i] = min(max(v[i], spec.Min), spec.Max)
	}
	return clamped
}

// ApplyToConfig applies parameter values to a Config struct.
// Order must match Specs order.
func (pv *ParamVector) ApplyToConfig(cfg *config.Config, values []float64) {
	clamped := pv.Clamp(values)
	mc := &cfg.Models.SomaClustering

	mc.ChemotaxisGain = clamped[0]
	mc.SecretionAmount = clamped[1]
	for i := range mc.Substances {
		mc.Substances[i].DiffusionCoefficient = clamped[2]
		mc.Substances[i].DecayConstant = clamped[3]
	}
}

// ExtractFromConfig extracts current parameter values from a Config struct,
// clamped to the search bounds.
func (pv *ParamVector) ExtractFromConfig(cfg *config.Config) []float64 {
	mc := cfg.Models.SomaClustering
	var d, k float64
	if len(mc.Substances) > 0 {
		d = mc.Substances[0].DiffusionCoefficient
		k = mc.Substances[0].DecayConstant
	}
	return pv.Clamp([]float64{mc.ChemotaxisGain, mc.SecretionAmount, d, k})
}
