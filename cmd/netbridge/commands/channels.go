package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/netbridge/internal/cli/output"
)

var (
	channelsOutput  string
	channelsAPIPort int
	channelsOpen    bool
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List the channels of a running server",
	Long: `List the channels of a running netbridge server with their bound
scheme, device spec, prefix and byte counters.

Examples:
  # All channels
  netbridge channels

  # Only channels with an open protocol, as YAML
  netbridge channels --open -o yaml

  # Add mode, login, session and open time columns
  netbridge channels -o wide`,
	RunE: runChannels,
}

func init() {
	channelsCmd.Flags().IntVar(&channelsAPIPort, "api-port", 8080, "API server port")
	channelsCmd.Flags().BoolVar(&channelsOpen, "open", false, "Only show open channels")
	channelsCmd.Flags().StringVarP(&channelsOutput, "output", "o", "table", "Output format ("+output.FormatNames()+")")
}

func runChannels(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(channelsOutput)
	if err != nil {
		return err
	}

	list, err := fetchChannels(apiBaseURL(channelsAPIPort), channelsOpen)
	if err != nil {
		return err
	}
	return output.NewPrinter(cmd.OutOrStdout(), format, output.ColorFromEnv()).Print(list)
}

func fetchChannels(baseURL string, openOnly bool) (output.ChannelList, error) {
	url := baseURL + "/api/v1/channels/"
	if openOnly {
		url += "?open=true"
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to reach API server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var body struct {
		Status string             `json:"status"`
		Data   output.ChannelList `json:"data"`
		Error  string             `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid API response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, body.Error)
	}
	return body.Data, nil
}
