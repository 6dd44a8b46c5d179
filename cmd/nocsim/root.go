package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var envFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nocsim",
	Short: "nocsim simulates a tiled many-core network-on-chip.",
	Long: `nocsim simulates a grid of tiles that share backing memory through ` +
		`arbitrated interconnect trees and advance in lock-step ticks. ` +
		`Flag defaults can be set with NOCSIM_* environment variables or a ` +
		`.env file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"File with NOCSIM_* settings, loaded before the flags are parsed")

	cobra.OnInitialize(loadEnvFile)
}

// loadEnvFile loads the settings file. Variables already set in the
// environment win over the file.
func loadEnvFile() {
	if envFile == "" {
		return
	}

	if _, err := os.Stat(envFile); err != nil {
		return
	}

	if err := godotenv.Load(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "cannot load %s: %v\n", envFile, err)
	}
}

// envName turns a flag name into its environment variable.
func envName(flag string) string {
	return "NOCSIM_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// applyEnv sets every flag that was not given on the command line from its
// environment variable.
func applyEnv(cmd *cobra.Command) error {
	var firstErr error

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed || firstErr != nil {
			return
		}

		v, ok := os.LookupEnv(envName(f.Name))
		if !ok {
			return
		}

		if err := cmd.Flags().Set(f.Name, v); err != nil {
			firstErr = fmt.Errorf("%s: %w", envName(f.Name), err)
		}
	})

	return firstErr
}

func parseSize(s string) (uint64, error) {
	mult := uint64(1)

	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1<<10, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1<<20, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		mult, s = 1<<30, strings.TrimSuffix(s, "G")
	}

	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	return n * mult, nil
}
