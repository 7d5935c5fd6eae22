package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/staging-engine/pkg/config"
	"github.com/ekaya-inc/staging-engine/pkg/input"
	"github.com/ekaya-inc/staging-engine/pkg/render"
	"github.com/ekaya-inc/staging-engine/pkg/services"
)

type synthesizeOptions struct {
	inputPath string
	format    string
	enable    bool
	mode      string
	workers   int
}

func newSynthesizeCommand(version string, global *globalOptions) *cobra.Command {
	opts := &synthesizeOptions{}

	cmd := &cobra.Command{
		Use:   "synthesize",
		Short: "Synthesize staging tables for a legacy model export",
		Long: `Synthesize reads a legacy model export (.json, or YAML otherwise) and prints the
staging tables, shared keys, relationships and diagnostics.

Flags override the matching config file and environment settings.`,
		Example: `  staging-engine synthesize --input model.yaml --enable-staging
  staging-engine synthesize -i model.json -f json --mode manual`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig(version)
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			return runSynthesize(cmd, cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.inputPath, "input", "i", "", "legacy model export to read")
	cmd.Flags().StringVarP(&opts.format, "format", "f", string(render.FormatTable), "output format (table|json)")
	cmd.Flags().BoolVar(&opts.enable, "enable-staging", false, "turn staging synthesis on")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "staging mode override (off|manual|auto)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "components synthesized in parallel")
	_ = cmd.MarkFlagRequired("input")

	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{string(render.FormatTable), string(render.FormatJSON)}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// apply copies explicitly set flags over the loaded configuration.
func (o *synthesizeOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("enable-staging") {
		cfg.Staging.Enabled = o.enable
	}
	if cmd.Flags().Changed("mode") {
		cfg.Staging.Mode = config.StagingMode(o.mode)
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers.MaxConcurrent = o.workers
	}
}

func runSynthesize(cmd *cobra.Command, cfg *config.Config, opts *synthesizeOptions) error {
	format := render.Format(opts.format)
	if !render.IsValidFormat(format) {
		return fmt.Errorf("unknown output format %q", opts.format)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	orchestrator, err := services.NewStagingOrchestrator(cfg, logger)
	if err != nil {
		return err
	}

	in, err := input.Load(opts.inputPath)
	if err != nil {
		return err
	}

	result, err := orchestrator.Synthesize(cmd.Context(), in)
	if err != nil {
		return err
	}

	logger.Debug("Rendering result",
		zap.String("format", string(format)),
		zap.Int("staging_tables", len(result.StagingTables)))

	return render.Result(cmd.OutOrStdout(), result, format)
}
