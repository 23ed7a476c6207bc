package main

import (
	"testing"

	"github.com/pthm-cable/morphogen/config"
	"github.com/pthm-cable/morphogen/systems"
)

func smallEvalConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Models.SomaClustering.NumCells = 40
	return cfg
}

func TestSimOptionsFollowConfig(t *testing.T) {
	cfg := smallEvalConfig(t)
	cfg.Diffusion.DT = 0.5
	cfg.Diffusion.Boundary = "open"
	cfg.Domain.BoundPolicy = "clamp"

	fe := NewFitnessEvaluator(NewParamVector(), 2, []int64{1, 2, 3}, 8, cfg)
	opts, err := fe.simOptions(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if opts.DT != 0.5 {
		t.Errorf("DT = %v, want 0.5", opts.DT)
	}
	if opts.Boundary != systems.BoundaryOpen {
		t.Errorf("Boundary = %v, want open", opts.Boundary)
	}
	if opts.Bounds.Policy != systems.BoundClamp {
		t.Errorf("bound policy = %v, want clamp", opts.Bounds.Policy)
	}
	if opts.Workers != 2 {
		t.Errorf("Workers = %d, want 8 split over 3 seeds = 2", opts.Workers)
	}
	if opts.WindowTicks != 0 {
		t.Errorf("WindowTicks = %d, want window telemetry off", opts.WindowTicks)
	}

	cfg.Diffusion.Boundary = "leaky"
	if _, err := fe.simOptions(cfg); err == nil {
		t.Error("expected an unknown boundary to be rejected")
	}
}

func TestEvaluateUsesConfiguredDT(t *testing.T) {
	pv := NewParamVector()

	cfg := smallEvalConfig(t)
	x := pv.ExtractFromConfig(cfg)
	if f := NewFitnessEvaluator(pv, 2, []int64{42}, 2, cfg).Evaluate(x); f >= failedFitness {
		t.Fatalf("default dt: fitness = %v, want a completed run", f)
	}

	// With dt = 10 the default substances exceed the stability limit, so
	// the run only fails if the configured dt reaches it.
	unstable := smallEvalConfig(t)
	unstable.Diffusion.DT = 10
	if f := NewFitnessEvaluator(pv, 2, []int64{42}, 2, unstable).Evaluate(x); f != failedFitness {
		t.Errorf("dt = 10: fitness = %v, want %v", f, failedFitness)
	}
}
