// Package cli provides the clockplan command line: solving PLL settings,
// planning clock trees, and applying them to a simulated or mapped SYSCON.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Environment variables that supply flag defaults. Explicit flags win.
const (
	EnvPreset     = "CLOCKPLAN_PRESET"
	EnvCrystalKHz = "CLOCKPLAN_CRYSTAL_KHZ"
	EnvTargetKHz  = "CLOCKPLAN_TARGET_KHZ"
	EnvMem        = "CLOCKPLAN_MEM"
	EnvDevice     = "CLOCKPLAN_DEVICE"
)

const defaultEnvFile = ".env"

// envFlags maps flag names to the variable that defaults them.
var envFlags = map[string]string{
	"preset":      EnvPreset,
	"crystal-khz": EnvCrystalKHz,
	"target-khz":  EnvTargetKHz,
	"mem":         EnvMem,
	"device":      EnvDevice,
}

// NewRootCommand builds the command tree. Each call returns fresh commands
// and flags.
func NewRootCommand() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "clockplan",
		Short: "Plan and apply LPC11Uxx clock trees.",
		Long: `clockplan solves PLL settings, derives every clock in a tree from ` +
			`a preset or a JSON spec, and programs the result into a simulated ` +
			`SYSCON block or the real one through /dev/mem.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnv(envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			return applyEnvDefaults(cmd)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", defaultEnvFile,
		"dotenv file with CLOCKPLAN_* defaults")

	root.AddCommand(
		newSolveCommand(),
		newPlanCommand(),
		newApplyCommand(),
		newRunCommand(),
	)
	return root
}

// Execute runs the root command, exiting non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadEnv loads path into the environment without overriding variables that
// are already set. A missing default file is not an error.
func loadEnv(path string, explicit bool) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("env file %s: %w", path, err)
}

func applyEnvDefaults(cmd *cobra.Command) error {
	flags := cmd.Flags()
	for name, key := range envFlags {
		f := flags.Lookup(name)
		if f == nil || f.Changed {
			continue
		}
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			continue
		}
		if err := flags.Set(name, v); err != nil {
			return fmt.Errorf("%s=%q: %w", key, v, err)
		}
	}
	return nil
}
