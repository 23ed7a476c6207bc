package main

import (
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/pthm-cable/morphogen/config"
	"github.com/pthm-cable/morphogen/models"
	"github.com/pthm-cable/morphogen/sim"
)

// FitnessEvaluator runs soma clustering simulations and computes fitness.
type FitnessEvaluator struct {
	params     *ParamVector
	steps      int
	seeds      []int64
	workers    int
	baseConfig *config.Config

	mu           sync.Mutex
	bestFitness  float64
	lastFraction float64 // clustered fraction from the most recent Evaluate call
}

// NewFitnessEvaluator creates a new evaluator. workers is split between the
// concurrently running seeds.
func NewFitnessEvaluator(params *ParamVector, steps int, seeds []int64, workers int, baseCfg *config.Config) *FitnessEvaluator {
	return &FitnessEvaluator{
		params:      params,
		steps:       steps,
		seeds:       seeds,
		workers:     workers,
		baseConfig:  baseCfg,
		bestFitness: math.Inf(1),
	}
}

// LastFraction returns the mean clustered fraction of the most recent evaluation.
func (fe *FitnessEvaluator) LastFraction() float64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.lastFraction
}

// seedResult holds the result from one seed evaluation.
type seedResult struct {
	fitness  float64
	fraction float64
}

// failedFitness is returned for parameters whose run could not complete.
const failedFitness = 1.0

// Evaluate computes fitness for a parameter vector (lower = better).
func (fe *FitnessEvaluator) Evaluate(x []float64) float64 {
	cfg := fe.copyConfig()
	fe.params.ApplyToConfig(cfg, x)

	simOpts, err := fe.simOptions(cfg)
	if err != nil {
		slog.Warn("evaluation skipped", "error", err)
		return failedFitness
	}

	// Run all seeds in parallel
	results := make([]seedResult, len(fe.seeds))
	var wg sync.WaitGroup

	for i, seed := range fe.seeds {
		wg.Add(1)
		go func(idx int, s int64) {
			defer wg.Done()
			res, err := models.Run("soma_clustering", cfg, models.RunOptions{
				Sim:   simOpts,
				Steps: fe.steps,
				Seed:  s,
			})
			if err != nil {
				slog.Warn("evaluation failed", "seed", s, "error", err)
				results[idx] = seedResult{fitness: failedFitness}
				return
			}
			results[idx] = seedResult{
				fitness:  computeFitness(res),
				fraction: res.Metrics["clustered_fraction"],
			}
		}(i, seed)
	}
	wg.Wait()

	var totalFitness, totalFraction float64
	for _, r := range results {
		totalFitness += r.fitness
		totalFraction += r.fraction
	}
	n := float64(len(fe.seeds))
	avgFitness := totalFitness / n

	fe.mu.Lock()
	if avgFitness < fe.bestFitness {
		fe.bestFitness = avgFitness
	}
	fe.lastFraction = totalFraction / n
	fe.mu.Unlock()

	return avgFitness
}

// simOptions builds the run options from cfg so that a saved best config
// behaves the same under the run command. Workers are split between the
// concurrently running seeds and window telemetry is off.
func (fe *FitnessEvaluator) simOptions(cfg *config.Config) (sim.Options, error) {
	opts, err := sim.OptionsFromConfig(cfg)
	if err != nil {
		return sim.Options{}, err
	}
	opts.Workers = max(fe.workers/max(len(fe.seeds), 1), 1)
	opts.WindowTicks = 0
	return opts, nil
}

// copyConfig creates a deep copy of the base config.
func (fe *FitnessEvaluator) copyConfig() *config.Config {
	cfg := *fe.baseConfig
	cfg.Models.SomaClustering.Substances = slices.Clone(fe.baseConfig.Models.SomaClustering.Substances)
	return &cfg
}

// computeFitness calculates the scalar fitness (lower = better).
// Formula: -(clustered_fraction + 0.2 × compaction)
// The clustered fraction dominates; compaction (relative shrink of the
// same-type spacing) separates parameter sets that cluster equally well.
func computeFitness(r models.Result) float64 {
	fraction := r.Metrics["clustered_fraction"]
	compaction := 0.0
	if initial := r.Metrics["initial_spacing"]; initial > 0 {
		compaction = clamp01(1 - r.Metrics["same_type_spacing"]/initial)
	}
	return -(fraction + 0.2*compaction)
}

// clamp01 clamps x to [0, 1].
func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
