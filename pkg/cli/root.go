// Package cli provides the staging-engine command-line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/staging-engine/pkg/config"
	"github.com/ekaya-inc/staging-engine/pkg/logging"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configFile string
	logLevel   string
}

// NewRootCmd creates the root command. version is reported by --version and the
// version subcommand.
func NewRootCmd(version string) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "staging-engine",
		Short: "Synthesize staging tables from a legacy BI model",
		Long: `staging-engine reads a legacy semantic model export (tables, relationships and
report queries), finds the tables that are joined together, and synthesizes
staging tables, shared keys and an unambiguous relationship graph for them.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "config.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug|info|warn|error)")

	rootCmd.AddCommand(newSynthesizeCommand(version, opts))
	rootCmd.AddCommand(newVersionCommand(version))

	return rootCmd
}

// loadConfig reads the config file and applies the persistent flag overrides.
func (o *globalOptions) loadConfig(version string) (*config.Config, error) {
	cfg, err := config.Load(version, o.configFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func newVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "staging-engine %s\n", version)
			return err
		},
	}
}
