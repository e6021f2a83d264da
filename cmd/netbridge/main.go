// Command netbridge serves network channels to bus-attached hosts.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/netbridge/cmd/netbridge/commands"
)

// Set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version, commands.Commit, commands.Date = version, commit, date

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "netbridge:", err)
		os.Exit(1)
	}
}
