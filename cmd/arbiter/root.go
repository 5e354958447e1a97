package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/arbiter/pkg/cli"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "arbiter",
	Short: "Arbiter - policy decisions for autonomous agents",
	Long: `Arbiter evaluates actions proposed by autonomous agents against a
prioritized rule set and returns a verdict with a risk score.

It provides:
  - Cost-ordered rule matching with dependency-aware execution order
  - Sliding-window rate limiting per agent, session, user or action type
  - Human approval workflow for risky actions
  - Decision caching, audit trail, metrics and tracing`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code the command chose.
func Execute() {
	err := rootCmd.Execute()
	if err != nil && !cli.Silent(err) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.ExitCode(err))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "arbiter.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// printerFor returns a Printer writing to the command's output.
func printerFor(cmd *cobra.Command) *cli.Printer {
	out := cmd.OutOrStdout()
	return cli.NewPrinter(out, !noColor && cli.ColorEnabled(out))
}

// formatterFor returns the formatter selected by a --format flag value.
func formatterFor(cmd *cobra.Command, format string) (cli.Formatter, error) {
	f, err := cli.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	out := cmd.OutOrStdout()
	return cli.NewFormatter(f, !noColor && cli.ColorEnabled(out)), nil
}
