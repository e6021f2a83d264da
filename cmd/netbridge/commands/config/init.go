package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/netbridge/internal/cli/prompt"
	"github.com/marmos91/netbridge/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file",
	Long: `Write a configuration file holding every default value.

Examples:
  # Create $XDG_CONFIG_HOME/netbridge/config.yaml
  netbridge config init

  # Create a file elsewhere, replacing it if present
  netbridge config init --config /etc/netbridge/config.yaml --force`,
	RunE: runConfigInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing configuration file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath(cmd)
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if !initForce {
		ok, err := prompt.ConfirmOverwrite(path)
		if err != nil || !ok {
			return err
		}
	}

	if err := config.InitConfigToPath(path, true); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
	return nil
}
