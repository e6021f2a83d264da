package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/netbridge/internal/cli/output"
	"github.com/marmos91/netbridge/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current configuration",
	Long: `Display the effective netbridge configuration: file values merged with
environment overrides and defaults. Secrets are masked.

Examples:
  # Show as YAML
  netbridge config show

  # Show as JSON
  netbridge config show --output json`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "Output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath(cmd))
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}

	if cfg.Protocols.S3.SecretAccessKey != "" {
		cfg.Protocols.S3.SecretAccessKey = "********"
	}

	if format != output.FormatJSON {
		format = output.FormatYAML
	}
	return output.NewPrinter(cmd.OutOrStdout(), format, false).Print(cfg)
}
