package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/persistunit"
	"github.com/GoCodeAlone/persistunit/config"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// PrintVersion prints version information
func PrintVersion() string {
	return fmt.Sprintf("persistunit v%s (commit: %s, built on: %s)", Version, Commit, Date)
}

type rootOptions struct {
	configPath string
	verbose    bool
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) logger() persistunit.Logger {
	if !o.verbose {
		return persistunit.NopLogger()
	}
	return persistunit.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

// NewRootCommand creates the root command for the persistunit CLI
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "persistunit",
		Short: "persistunit - dataset tooling for persistence unit tests",
		Long: `persistunit works with the persistence units and datasets of a test suite.
It lists configured units, seeds databases from dataset files, verifies stored
state against expected datasets and checks dataset files for errors.`,
		Version:       PrintVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "persistunit.yaml", "Suite configuration file (yaml, toml or json)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log debug output to stderr")

	cmd.AddCommand(newUnitsCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newCheckCommand())

	return cmd
}
