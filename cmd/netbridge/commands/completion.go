package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/factory"
)

// completeDeviceSpec offers "N<ch>:SCHEME://" for every registered scheme.
// Once a scheme is typed the shell falls back to no completion.
func completeDeviceSpec(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 || strings.Contains(toComplete, "://") {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	unit := "N:"
	if u, _ := devicespec.SplitUnit(toComplete); u != "" {
		unit = u
	}

	schemes := factory.NewDefault(factory.Settings{}).Schemes()
	out := make([]string, 0, len(schemes))
	for _, s := range schemes {
		candidate := unit + s + "://"
		if strings.HasPrefix(strings.ToUpper(candidate), strings.ToUpper(toComplete)) {
			out = append(out, candidate)
		}
	}
	return out, cobra.ShellCompDirectiveNoSpace | cobra.ShellCompDirectiveNoFileComp
}
