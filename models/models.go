// Package models holds the runnable demonstration models. Each model sets up
// substances, rules and agents on a fresh simulation, runs it and reports a
// Result.
package models

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/pthm-cable/morphogen/config"
	"github.com/pthm-cable/morphogen/sim"
)

// RunOptions adjusts a model run. Zero values keep the model's configuration.
type RunOptions struct {
	Sim   sim.Options // Base simulation options; models override the bounds
	Steps int         // Ticks to run (0 = model default)
	Seed  int64       // Placement seed (0 = model default)
}

// Result summarizes one model run.
type Result struct {
	Model   string
	Ticks   int64
	Passed  bool
	Elapsed time.Duration
	Metrics map[string]float64
}

// LogValue implements slog.LogValuer for structured logging.
func (r Result) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("model", r.Model),
		slog.Int64("ticks", r.Ticks),
		slog.Bool("passed", r.Passed),
		slog.Duration("elapsed", r.Elapsed),
	}
	for _, k := range slices.Sorted(maps.Keys(r.Metrics)) {
		attrs = append(attrs, slog.Float64(k, r.Metrics[k]))
	}
	return slog.GroupValue(attrs...)
}

// RunFunc runs a model with the given configuration.
type RunFunc func(cfg *config.Config, opts RunOptions) (Result, error)

// Model is a registered demonstration model.
type Model struct {
	Name        string
	Description string
	Run         RunFunc
}

var registry = map[string]Model{}

// Register adds a model. It panics on a duplicate name.
func Register(m Model) {
	if _, ok := registry[m.Name]; ok {
		panic(fmt.Sprintf("models: duplicate model %q", m.Name))
	}
	registry[m.Name] = m
}

// Get returns the model registered under name.
func Get(name string) (Model, error) {
	m, ok := registry[name]
	if !ok {
		return Model{}, fmt.Errorf("unknown model %q (available: %v)", name, Names())
	}
	return m, nil
}

// Names returns the registered model names in sorted order.
func Names() []string {
	return slices.Sorted(maps.Keys(registry))
}

// Run looks up and runs a model, timing it.
func Run(name string, cfg *config.Config, opts RunOptions) (Result, error) {
	m, err := Get(name)
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	res, err := m.Run(cfg, opts)
	res.Model = name
	res.Elapsed = time.Since(start)
	if err != nil {
		return res, fmt.Errorf("model %s: %w", name, err)
	}
	return res, nil
}

func stepsOr(opts RunOptions, def int) int {
	if opts.Steps > 0 {
		return opts.Steps
	}
	return def
}
