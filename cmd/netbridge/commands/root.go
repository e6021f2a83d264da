// Package commands implements the netbridge CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/netbridge/cmd/netbridge/commands/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "netbridge",
	Short: "netbridge - network device bridge for 8-bit hosts",
	Long: `netbridge serves network channels to vintage computers over a simple
framed bus. A host opens a channel with a device spec such as
"N1:TNFS://server/games/" and reads and writes bytes; netbridge speaks
TNFS, FTP, HTTP, WebDAV, SMB, NFS, S3, SSH, telnet, TCP and UDP on its behalf.

Use "netbridge [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/netbridge/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(channelsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(config.Cmd)
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
