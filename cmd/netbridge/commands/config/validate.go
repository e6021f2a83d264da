package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/netbridge/internal/cli/output"
	"github.com/marmos91/netbridge/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the netbridge configuration file.

Checks for syntax errors, missing required fields, and invalid values.

Examples:
  # Validate default config
  netbridge config validate

  # Validate specific config file
  netbridge config validate --config /etc/netbridge/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)

	cfg, err := config.MustLoad(path)
	if err != nil {
		return err
	}
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", path)
	_, _ = fmt.Fprintln(out, "Validation: OK")

	if warnings := warningsFor(cfg); len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		p := output.NewPrinter(out, output.FormatTable, output.ColorFromEnv())
		for _, w := range warnings {
			p.Warning("  - " + w)
		}
	}

	_, _ = fmt.Fprintln(out, "\nConfiguration summary:")
	return output.SimpleTable(out, [][2]string{
		{"Bus address", cfg.Bus.Address},
		{"Channels", fmt.Sprintf("%d", cfg.Channels)},
		{"API port", fmt.Sprintf("%d", cfg.API.Port)},
		{"SD root", cfg.Protocols.SD.Root},
		{"Prefix store", cfg.PrefixStore.Type},
		{"Log level", cfg.Logging.Level},
	})
}

// warningsFor lists settings that are valid but likely mistakes.
func warningsFor(cfg *config.Config) []string {
	var warnings []string
	if info, err := os.Stat(cfg.Protocols.SD.Root); err != nil || !info.IsDir() {
		warnings = append(warnings, fmt.Sprintf("SD root %s is not a directory - SD: opens will fail", cfg.Protocols.SD.Root))
	}
	if cfg.Metrics.Enabled && !cfg.API.IsEnabled() {
		warnings = append(warnings, "Metrics are enabled but the API server that serves /metrics is disabled")
	}
	if cfg.Protocols.SSH.InsecureIgnoreHostKey {
		warnings = append(warnings, "SSH host keys are not verified")
	}
	if cfg.Protocols.HTTP.InsecureSkipVerify {
		warnings = append(warnings, "HTTPS certificates are not verified")
	}
	if cfg.PrefixStore.Type == "memory" {
		warnings = append(warnings, "Channel prefixes are kept in memory and lost on restart")
	}
	return warnings
}
