package models

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/morphogen/components"
	"github.com/pthm-cable/morphogen/config"
	"github.com/pthm-cable/morphogen/sim"
	"github.com/pthm-cable/morphogen/systems"
)

const kalium systems.SubstanceID = 0

func init() {
	Register(Model{
		Name:        "diffusion",
		Description: "cells at the corners of a cube follow a substance secreted at its centre",
		Run:         runDiffusion,
	})
}

// cubeCorners returns the eight corners of [0, size]^3.
func cubeCorners(size float64) []r3.Vec {
	corners := make([]r3.Vec, 0, 8)
	for i := 0; i < 8; i++ {
		corners = append(corners, r3.Vec{
			X: float64(i&1) * size,
			Y: float64(i>>1&1) * size,
			Z: float64(i>>2&1) * size,
		})
	}
	return corners
}

func runDiffusion(cfg *config.Config, opts RunOptions) (Result, error) {
	mc := cfg.Models.Diffusion
	steps := stepsOr(opts, mc.Steps)

	simOpts := opts.Sim
	simOpts.Bounds = systems.Bounds{Min: 0, Max: mc.CubeSize, Policy: simOpts.Bounds.Policy}
	s, err := sim.New(simOpts)
	if err != nil {
		return Result{}, err
	}
	defer s.Close()

	sub := mc.Substance
	g, err := s.DefineSubstance(kalium, sub.Name, sub.DiffusionCoefficient, sub.DecayConstant, sub.Resolution)
	if err != nil {
		return Result{}, err
	}
	if mc.Threshold > 0 {
		if err := g.SetConcentrationThreshold(mc.Threshold); err != nil {
			return Result{}, err
		}
	}

	follow, err := s.AddChemotaxis(systems.ChemotaxisRule{Fields: systems.SingleField(g), Gain: mc.ChemotaxisGain})
	if err != nil {
		return Result{}, err
	}
	secrete, err := s.AddSecretion(systems.SecretionRule{Fields: systems.SingleField(g), Amount: mc.SecretionAmount})
	if err != nil {
		return Result{}, err
	}

	center := r3.Vec{X: mc.CubeSize / 2, Y: mc.CubeSize / 2, Z: mc.CubeSize / 2}
	positions := append(cubeCorners(mc.CubeSize), center)
	err = s.CreateCells(positions, func(pos r3.Vec) (sim.CellSpec, error) {
		spec := sim.CellSpec{
			Diameter: mc.CellDiameter,
			Mass:     mc.CellMass,
			Rules:    []components.RuleRef{follow},
		}
		if pos == center {
			spec.Rules = append(spec.Rules, secrete)
		}
		return spec, nil
	})
	if err != nil {
		return Result{}, err
	}

	if err := s.Simulate(steps); err != nil {
		return Result{Ticks: s.Tick()}, err
	}

	res := Result{
		Ticks:   s.Tick(),
		Passed:  true,
		Metrics: map[string]float64{"total_mass": g.TotalMass()},
	}
	var approach float64
	for i, a := range s.Agents()[:8] {
		before := r3.Norm(r3.Sub(positions[i], center))
		after := r3.Norm(r3.Sub(a.Position, center))
		res.Metrics[fmt.Sprintf("corner_%d_distance", i)] = after
		approach += before - after
		if !(after < before) {
			res.Passed = false
		}
		slog.Debug("corner cell", "index", i, "start", positions[i], "end", a.Position, "distance_before", before, "distance_after", after)
	}
	res.Metrics["mean_approach"] = approach / 8
	return res, nil
}
