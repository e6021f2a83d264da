package commands

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/netbridge/internal/cli/health"
	"github.com/marmos91/netbridge/internal/cli/output"
	"github.com/marmos91/netbridge/internal/cli/timeutil"
)

var (
	statusOutput  string
	statusAPIPort int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the current status of the netbridge server.

This command calls the health endpoint of the admin API and displays
uptime and channel usage.

Examples:
  # Check status (uses default settings)
  netbridge status

  # Check status with custom API port
  netbridge status --api-port 9080

  # Output as JSON
  netbridge status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusAPIPort, "api-port", 8080, "API server port")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// ServerStatus represents the server status information.
type ServerStatus struct {
	Running      bool   `json:"running" yaml:"running"`
	Healthy      bool   `json:"healthy" yaml:"healthy"`
	Message      string `json:"message" yaml:"message"`
	StartedAt    string `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	UptimeSec    int64  `json:"uptime_sec,omitempty" yaml:"uptime_sec,omitempty"`
	Channels     int    `json:"channels" yaml:"channels"`
	OpenChannels int    `json:"open_channels" yaml:"open_channels"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	status := fetchStatus(apiBaseURL(statusAPIPort))

	if format.Structured() {
		return output.NewPrinter(cmd.OutOrStdout(), format, false).Print(status)
	}
	printStatusTable(status)
	return nil
}

func fetchStatus(baseURL string) ServerStatus {
	status := ServerStatus{Message: "Server is not running"}

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/healthz")
	if err != nil {
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	status.Running = true
	var healthResp health.Response
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		status.Message = "Server is running but health response invalid"
		return status
	}

	status.Healthy = healthResp.Healthy()
	status.StartedAt = healthResp.Data.StartedAt
	status.UptimeSec = healthResp.Data.UptimeSec
	status.Channels = healthResp.Data.Channels
	status.OpenChannels = healthResp.Data.OpenChannels
	if status.Healthy {
		status.Message = "Server is running and healthy"
	} else {
		status.Message = fmt.Sprintf("Server is running but unhealthy: %s", healthResp.Error)
	}
	return status
}

func printStatusTable(status ServerStatus) {
	fmt.Println()
	fmt.Println("netbridge Server Status")
	fmt.Println("=======================")
	fmt.Println()

	if !status.Running {
		fmt.Printf("  Status:     \033[31m○ Stopped\033[0m\n")
		fmt.Printf("  Message:    %s\n\n", status.Message)
		return
	}

	if status.Healthy {
		fmt.Printf("  Status:     \033[32m● Running\033[0m\n")
	} else {
		fmt.Printf("  Status:     \033[33m● Running (unhealthy)\033[0m\n")
	}
	if status.StartedAt != "" {
		fmt.Printf("  Started:    %s\n", timeutil.FormatTime(status.StartedAt))
	}
	if status.UptimeSec > 0 {
		fmt.Printf("  Uptime:     %s\n", timeutil.FormatUptime(time.Duration(status.UptimeSec)*time.Second))
	}
	fmt.Printf("  Channels:   %d open of %d\n", status.OpenChannels, status.Channels)
	fmt.Printf("  Message:    %s\n\n", status.Message)
}
