package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/morphogen/config"
	"github.com/pthm-cable/morphogen/logging"
	"github.com/pthm-cable/morphogen/models"
	"github.com/pthm-cable/morphogen/sim"
	"github.com/pthm-cable/morphogen/telemetry"
)

var version = "0.1.0-dev"

// errNotPassed marks a run that completed but failed its model criterion.
var errNotPassed = errors.New("model criterion not met")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errNotPassed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "morphogen",
		Short: "Agent-based chemotaxis and diffusion simulation",
		Long: `morphogen runs agent-based models in which cells secrete substances into
3-D diffusion grids and move along their gradients.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newRunCmd(),
		newModelsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// setupLogging sends logs to stderr so that --json results on stdout stay
// machine readable.
func setupLogging(cmd *cobra.Command) {
	level, _ := cmd.Flags().GetString("log-level")
	format, _ := cmd.Flags().GetString("log-format")
	slog.SetDefault(logging.NewLogger(level, format, cmd.ErrOrStderr()))
}

func writeJSON(cmd *cobra.Command, v any) error {
	if err := json.NewEncoder(cmd.OutOrStdout()).Encode(v); err != nil {
		return fmt.Errorf("writing JSON output: %w", err)
	}
	return nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <model>",
		Short: "Run a model to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cmd)
			configPath, _ := cmd.Flags().GetString("config")
			steps, _ := cmd.Flags().GetInt("steps")
			seed, _ := cmd.Flags().GetInt64("seed")
			workers, _ := cmd.Flags().GetInt("workers")
			outputDir, _ := cmd.Flags().GetString("output-dir")
			logStats, _ := cmd.Flags().GetBool("log-stats")

			// Initialize config before anything else
			if err := config.Init(configPath); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg := config.Cfg()

			opts, err := sim.OptionsFromConfig(cfg)
			if err != nil {
				return err
			}
			if workers > 0 {
				opts.Workers = workers
			}
			opts.LogStats = logStats

			om, err := telemetry.NewOutputManager(outputDir)
			if err != nil {
				return fmt.Errorf("failed to create output manager: %w", err)
			}
			defer om.Close()
			if err := om.WriteConfig(cfg); err != nil {
				slog.Error("failed to write config snapshot", "error", err)
			}
			opts.OutputManager = om

			name := args[0]
			slog.Info("starting model",
				"model", name,
				"steps", steps,
				"seed", seed,
				"workers", opts.Workers,
				"output_dir", outputDir,
			)

			res, err := models.Run(name, cfg, models.RunOptions{Sim: opts, Steps: steps, Seed: seed})
			if err != nil {
				return err
			}
			slog.Info("model finished", "result", res)

			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				if err := writeJSON(cmd, res); err != nil {
					return err
				}
			}
			if !res.Passed {
				slog.Error("model did not pass", "model", name)
				return errNotPassed
			}
			return nil
		},
	}

	cmd.Flags().String("config", "", "Path to config.yaml (empty = use defaults)")
	cmd.Flags().Int("steps", 0, "Ticks to run (0 = model default)")
	cmd.Flags().Int64("seed", 0, "Placement seed (0 = model default)")
	cmd.Flags().Int("workers", 0, "Worker goroutines (0 = config)")
	cmd.Flags().String("output-dir", "", "Output directory for CSV logs and config snapshot")
	cmd.Flags().Bool("log-stats", false, "Log window stats via slog")

	return cmd
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the available models",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			names := models.Names()
			if jsonOut {
				return writeJSON(cmd, names)
			}
			for _, name := range names {
				m, err := models.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %s\n", m.Name, m.Description)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return writeJSON(cmd, map[string]string{"version": version})
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "morphogen version %s\n", version)
			return err
		},
	}
}
