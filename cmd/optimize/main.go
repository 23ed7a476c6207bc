// Package main provides CMA-ES optimization of the soma clustering model
// parameters.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/optimize"

	"github.com/pthm-cable/morphogen/config"
)

// evalRecord is one row of optimize_log.csv.
type evalRecord struct {
	Eval                 int     `csv:"eval"`
	Fitness              float64 `csv:"fitness"`
	ClusteredFraction    float64 `csv:"clustered_fraction"`
	ChemotaxisGain       float64 `csv:"chemotaxis_gain"`
	SecretionAmount      float64 `csv:"secretion_amount"`
	DiffusionCoefficient float64 `csv:"diffusion_coefficient"`
	DecayConstant        float64 `csv:"decay_constant"`
}

// formatDuration formats a duration as HH:MM:SS or MM:SS for shorter durations.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

type optimizeFlags struct {
	configPath string
	steps      int
	numCells   int
	seeds      int
	maxEvals   int
	population int
	outputDir  string
}

func main() {
	var f optimizeFlags
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Search soma clustering parameters with CMA-ES",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}
	cmd.Flags().StringVar(&f.configPath, "config", "", "Base config YAML file (empty = use defaults)")
	cmd.Flags().IntVar(&f.steps, "steps", 200, "Ticks per evaluation run")
	cmd.Flags().IntVar(&f.numCells, "cells", 4000, "Cells per evaluation run (0 = use config)")
	cmd.Flags().IntVar(&f.seeds, "seeds", 3, "Number of seeds per evaluation")
	cmd.Flags().IntVar(&f.maxEvals, "max-evals", 100, "Maximum number of evaluations")
	cmd.Flags().IntVar(&f.population, "population", 0, "CMA-ES population size (0 = auto)")
	cmd.Flags().StringVar(&f.outputDir, "output", "", "Output directory for results")
	if err := cmd.MarkFlagRequired("output"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(f optimizeFlags) error {
	if err := os.MkdirAll(f.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Load base config
	baseCfg, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if f.numCells > 0 {
		baseCfg.Models.SomaClustering.NumCells = f.numCells
	}

	params := NewParamVector()

	// Generate seeds for evaluation
	evalSeeds := make([]int64, f.seeds)
	for i := range evalSeeds {
		evalSeeds[i] = int64(i*1000 + 42)
	}

	evaluator := NewFitnessEvaluator(params, f.steps, evalSeeds, runtime.GOMAXPROCS(0), baseCfg)

	dim := params.Dim()
	initX := params.Normalize(params.ExtractFromConfig(baseCfg))

	logPath := filepath.Join(f.outputDir, "optimize_log.csv")
	var records []evalRecord
	evalCount := 0
	bestFitness := 1e9
	var bestParams []float64
	startTime := time.Now()

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			// Denormalize and clamp to get the values actually used
			clamped := params.Clamp(params.Denormalize(x))
			fitness := evaluator.Evaluate(clamped)
			evalCount++

			if fitness < bestFitness {
				bestFitness = fitness
				bestParams = clamped
			}

			records = append(records, evalRecord{
				Eval:                 evalCount,
				Fitness:              fitness,
				ClusteredFraction:    evaluator.LastFraction(),
				ChemotaxisGain:       clamped[0],
				SecretionAmount:      clamped[1],
				DiffusionCoefficient: clamped[2],
				DecayConstant:        clamped[3],
			})
			if err := writeLog(logPath, records); err != nil {
				slog.Error("failed to write optimize log", "error", err)
			}

			elapsed := time.Since(startTime)
			avgPerEval := elapsed / time.Duration(evalCount)
			remaining := time.Duration(f.maxEvals-evalCount) * avgPerEval
			fmt.Printf("Eval %d/%d: clustered=%.3f fitness=%.4f (best=%.4f) | elapsed: %s, ETA: %s\n",
				evalCount, f.maxEvals, evaluator.LastFraction(), fitness, bestFitness,
				formatDuration(elapsed), formatDuration(remaining))

			return fitness
		},
	}

	settings := &optimize.Settings{
		FuncEvaluations: f.maxEvals,
		Concurrent:      0, // Sequential evaluation; seeds already run in parallel
	}

	popSize := f.population
	if popSize == 0 {
		popSize = 4 + int(3.0*float64(dim)/2.0)
	}
	method := &optimize.CmaEsChol{
		InitStepSize: 0.3,
		Population:   popSize,
	}

	fmt.Printf("Starting CMA-ES optimization with %d parameters, population=%d, max_evals=%d\n",
		dim, popSize, f.maxEvals)
	fmt.Printf("Seeds per evaluation: %d, ticks per run: %d, cells: %d\n",
		f.seeds, f.steps, baseCfg.Models.SomaClustering.NumCells)

	result, err := optimize.Minimize(problem, initX, settings, method)
	if err != nil {
		slog.Warn("optimization ended", "error", err)
	}
	if bestParams == nil && result != nil {
		bestParams = params.Clamp(params.Denormalize(result.X))
	}
	if bestParams == nil {
		return fmt.Errorf("no evaluation completed")
	}

	fmt.Printf("\nOptimization complete after %d evaluations in %s\n", evalCount, formatDuration(time.Since(startTime)))
	fmt.Printf("Best fitness: %.4f\n", bestFitness)
	fmt.Println("\nBest parameters:")
	for i, spec := range params.Specs {
		fmt.Printf("  %s: %.6f\n", spec.Name, bestParams[i])
	}

	// Save best config on top of the unmodified base
	bestCfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	params.ApplyToConfig(bestCfg, bestParams)
	configOutPath := filepath.Join(f.outputDir, "best_config.yaml")
	if err := bestCfg.WriteYAML(configOutPath); err != nil {
		return fmt.Errorf("failed to write best config: %w", err)
	}
	fmt.Printf("\nBest config saved to: %s\n", configOutPath)
	return nil
}

// writeLog rewrites the evaluation log with every record so far.
func writeLog(path string, records []evalRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return gocsv.MarshalFile(&records, f)
}
