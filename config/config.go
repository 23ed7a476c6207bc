// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	Domain     DomainConfig     `yaml:"domain"`
	Diffusion  DiffusionConfig  `yaml:"diffusion"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Clustering ClusteringConfig `yaml:"clustering"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Models     ModelsConfig     `yaml:"models"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// DomainConfig holds the simulation space. Models may override the bounds.
type DomainConfig struct {
	MinBound    float64 `yaml:"min_bound"`
	MaxBound    float64 `yaml:"max_bound"`
	BoundSpace  bool    `yaml:"bound_space"`  // Keep agents inside [min_bound, max_bound]^3
	BoundPolicy string  `yaml:"bound_policy"` // "reject" or "clamp"
}

// DiffusionConfig holds diffusion grid parameters shared by every substance.
type DiffusionConfig struct {
	DT        float64 `yaml:"dt"`        // Simulated time per scheduler tick
	Threshold float64 `yaml:"threshold"` // Default concentration threshold
	Boundary  string  `yaml:"boundary"`  // "closed" (no flux) or "open" (zero outside)
}

// SchedulerConfig holds worker pool parameters.
type SchedulerConfig struct {
	Workers           int `yaml:"workers"`            // 0 = GOMAXPROCS
	ParallelThreshold int `yaml:"parallel_threshold"` // Minimum agents for the parallel behavior pass
}

// ClusteringConfig holds validation criterion parameters.
type ClusteringConfig struct {
	AcceptanceFraction float64 `yaml:"acceptance_fraction"` // Clustered fraction must exceed this
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	WindowTicks         int `yaml:"window_ticks"`
	PerfCollectorWindow int `yaml:"perf_collector_window"`
}

// ModelsConfig holds per-model parameters.
type ModelsConfig struct {
	Diffusion      DiffusionModelConfig      `yaml:"diffusion"`
	SomaClustering SomaClusteringModelConfig `yaml:"soma_clustering"`
}

// SubstanceConfig describes one substance as passed to DefineSubstance.
type SubstanceConfig struct {
	Name                 string  `yaml:"name"`
	DiffusionCoefficient float64 `yaml:"diffusion_coefficient"`
	DecayConstant        float64 `yaml:"decay_constant"`
	Resolution           float64 `yaml:"resolution"`
}

// DiffusionModelConfig holds parameters of the corner-cells diffusion model.
type DiffusionModelConfig struct {
	CubeSize        float64         `yaml:"cube_size"`
	CellDiameter    float64         `yaml:"cell_diameter"`
	CellMass        float64         `yaml:"cell_mass"`
	ChemotaxisGain  float64         `yaml:"chemotaxis_gain"`
	SecretionAmount float64         `yaml:"secretion_amount"`
	Threshold       float64         `yaml:"threshold"`
	Steps           int             `yaml:"steps"`
	Substance       SubstanceConfig `yaml:"substance"`
}

// SomaClusteringModelConfig holds parameters of the two-type clustering model.
type SomaClusteringModelConfig struct {
	NumCells        int               `yaml:"num_cells"`
	MinBound        float64           `yaml:"min_bound"`
	MaxBound        float64           `yaml:"max_bound"`
	Seed            int64             `yaml:"seed"`
	CellDiameter    float64           `yaml:"cell_diameter"`
	ChemotaxisGain  float64           `yaml:"chemotaxis_gain"`
	SecretionAmount float64           `yaml:"secretion_amount"`
	Steps           int               `yaml:"steps"`
	SpatialRange    float64           `yaml:"spatial_range"`
	ClusterDivisor  int               `yaml:"cluster_divisor"` // Minimum cluster size = num_cells / this
	Substances      []SubstanceConfig `yaml:"substances"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	Workers int // Scheduler.Workers with 0 resolved to GOMAXPROCS
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// validate rejects values no component can work with.
func (c *Config) validate() error {
	switch c.Domain.BoundPolicy {
	case "reject", "clamp":
	default:
		return fmt.Errorf("domain.bound_policy: unknown policy %q", c.Domain.BoundPolicy)
	}
	switch c.Diffusion.Boundary {
	case "closed", "open":
	default:
		return fmt.Errorf("diffusion.boundary: unknown boundary %q", c.Diffusion.Boundary)
	}
	if c.Diffusion.DT <= 0 {
		return fmt.Errorf("diffusion.dt must be positive, got %v", c.Diffusion.DT)
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must not be negative, got %d", c.Scheduler.Workers)
	}
	if c.Clustering.AcceptanceFraction < 0 || c.Clustering.AcceptanceFraction >= 1 {
		return fmt.Errorf("clustering.acceptance_fraction must be in [0, 1), got %v", c.Clustering.AcceptanceFraction)
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.Workers = c.Scheduler.Workers
	if c.Derived.Workers == 0 {
		c.Derived.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Telemetry.WindowTicks < 1 {
		c.Telemetry.WindowTicks = 1
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
