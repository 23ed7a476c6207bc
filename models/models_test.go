package models

import (
	"fmt"
	"math"
	"slices"
	"testing"

	"github.com/pthm-cable/morphogen/config"
)

func init() {
	config.MustInit("")
}

func TestRegistry(t *testing.T) {
	names := Names()
	for _, want := range []string{"diffusion", "soma_clustering"} {
		if !slices.Contains(names, want) {
			t.Errorf("Names() = %v, missing %q", names, want)
		}
	}
	if _, err := Get("nope"); err == nil {
		t.Error("Get(\"nope\") returned no error")
	}
	if _, err := Run("nope", config.Cfg(), RunOptions{}); err == nil {
		t.Error("Run(\"nope\") returned no error")
	}
}

func TestCubeCorners(t *testing.T) {
	corners := cubeCorners(100)
	if len(corners) != 8 {
		t.Fatalf("got %d corners, want 8", len(corners))
	}
	seen := map[[3]float64]bool{}
	for _, c := range corners {
		for _, v := range []float64{c.X, c.Y, c.Z} {
			if v != 0 && v != 100 {
				t.Errorf("corner %v not on the cube", c)
			}
		}
		seen[[3]float64{c.X, c.Y, c.Z}] = true
	}
	if len(seen) != 8 {
		t.Errorf("corners are not distinct: %v", corners)
	}
}

func TestDiffusionModel(t *testing.T) {
	cfg := config.Cfg()
	mc := cfg.Models.Diffusion

	res, err := Run("diffusion", cfg, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Ticks != int64(mc.Steps) {
		t.Errorf("Ticks = %d, want %d", res.Ticks, mc.Steps)
	}
	if !res.Passed {
		t.Errorf("corner cells did not all approach the centre: %v", res.Metrics)
	}

	start := math.Sqrt(3) * mc.CubeSize / 2
	for i := 0; i < 8; i++ {
		d := res.Metrics[fmt.Sprintf("corner_%d_distance", i)]
		if !(d < start) {
			t.Errorf("corner %d distance %v, want < %v", i, d, start)
		}
	}

	// Closed boundary and no decay conserve everything secreted.
	wantMass := mc.SecretionAmount * float64(mc.Steps)
	if got := res.Metrics["total_mass"]; math.Abs(got-wantMass) > 1e-6*wantMass {
		t.Errorf("total mass = %v, want %v", got, wantMass)
	}
}

func TestDiffusionModelStepsOverride(t *testing.T) {
	res, err := Run("diffusion", config.Cfg(), RunOptions{Steps: 10})
	if err != nil {
		t.Fatal(err)
	}
	if res.Ticks != 10 || res.Model != "diffusion" {
		t.Errorf("Result = %+v, want 10 ticks of diffusion", res)
	}
}

func smallSomaConfig() *config.Config {
	cfg := *config.Cfg()
	mc := &cfg.Models.SomaClustering
	mc.NumCells = 2000
	mc.MaxBound = 100
	mc.Steps = 100
	return &cfg
}

func TestSomaClusteringSmall(t *testing.T) {
	cfg := smallSomaConfig()

	res, err := Run("soma_clustering", cfg, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Ticks != 100 {
		t.Errorf("Ticks = %d, want 100", res.Ticks)
	}
	if res.Metrics["agents"] != 2000 {
		t.Errorf("agents = %v, want 2000", res.Metrics["agents"])
	}
	if res.Metrics["min_cluster_size"] != 250 {
		t.Errorf("min_cluster_size = %v, want 250", res.Metrics["min_cluster_size"])
	}
	before, after := res.Metrics["initial_spacing"], res.Metrics["same_type_spacing"]
	if !(after < before) {
		t.Errorf("same-type spacing went from %v to %v; cells did not aggregate", before, after)
	}

	again, err := Run("soma_clustering", cfg, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range res.Metrics {
		if again.Metrics[k] != v {
			t.Errorf("metric %s not reproducible: %v vs %v", k, v, again.Metrics[k])
		}
	}
}

func TestSomaClusteringBadConfig(t *testing.T) {
	cfg := smallSomaConfig()
	cfg.Models.SomaClustering.Substances = cfg.Models.SomaClustering.Substances[:1]
	if _, err := Run("soma_clustering", cfg, RunOptions{Steps: 1}); err == nil {
		t.Error("one substance accepted")
	}
}
