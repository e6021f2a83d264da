package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/buger/jsonparser"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/marmos91/netbridge/internal/cli/timeutil"
	"github.com/marmos91/netbridge/pkg/config"
)

var (
	logsFollow bool
	logsLines  int
	logsSince  string
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Tail server logs",
	Long: `Display and optionally follow the netbridge server logs.

Works when logging.output is a file path. Text and JSON log formats are
both understood by --since.

Examples:
  # Show last 100 lines (default)
  netbridge logs

  # Follow logs in real-time, surviving log rotation
  netbridge logs -f

  # Show logs since a specific time
  netbridge logs --since "2024-01-15T10:00:00Z"

  # Show the last 15 minutes
  netbridge logs --since 15m`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "Number of lines to show")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since an RFC3339 timestamp or a duration ago (15m, 2h, 1d)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logFile := cfg.Logging.Output
	if logFile == "stdout" || logFile == "stderr" {
		return fmt.Errorf("server is configured to log to %s, not a file\nConfigure 'logging.output' in config to a file path to use this command", logFile)
	}
	if _, err := os.Stat(logFile); os.IsNotExist(err) {
		return fmt.Errorf("log file not found: %s\nThe server may not have started yet or is logging elsewhere", logFile)
	}

	var since time.Time
	if logsSince != "" {
		if since, err = timeutil.ParseSince(logsSince, time.Now()); err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	offset, err := tailLines(out, logFile, logsLines, since)
	if err != nil {
		return err
	}
	if !logsFollow {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	fmt.Fprintf(os.Stderr, "Following %s (Ctrl+C to stop)...\n", logFile)
	return followFile(ctx, out, logFile, offset)
}

// tailLines writes the last n lines of path not older than since and
// returns the offset reached.
func tailLines(w io.Writer, path string, n int, since time.Time) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !since.IsZero() {
			if ts := extractTimestamp(line); !ts.IsZero() && ts.Before(since) {
				continue
			}
		}
		if n <= 0 {
			continue
		}
		if len(ring) == n {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("error reading log file: %w", err)
	}

	for _, line := range ring {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return 0, err
		}
	}
	return file.Seek(0, io.SeekEnd)
}

// followFile copies what is appended to path from offset until ctx ends.
// A file that is truncated or replaced is reopened from the start.
func followFile(ctx context.Context, w io.Writer, path string, offset int64) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory: rotation replaces the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch log directory: %w", err)
	}
	target := filepath.Clean(path)

	copyNew := func() error {
		file, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer func() { _ = file.Close() }()

		if info, err := file.Stat(); err == nil && info.Size() < offset {
			offset = 0
		}
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		n, err := io.Copy(w, file)
		offset += n
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Create) {
				offset = 0
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := copyNew(); err != nil {
					return fmt.Errorf("failed to read log file: %w", err)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

// extractTimestamp attempts to extract a timestamp from a log line: the
// "time" field of JSON lines, or the leading time of text lines.
func extractTimestamp(line string) time.Time {
	if strings.HasPrefix(line, "{") {
		ts, err := jsonparser.GetString([]byte(line), "time")
		if err != nil {
			return time.Time{}
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return time.Time{}
		}
		return t
	}

	field, _, _ := strings.Cut(line, " ")
	if t, err := time.Parse(time.RFC3339Nano, field); err == nil {
		return t
	}
	// The text handler writes "[2006-01-02 15:04:05.000] [LEVEL] msg"
	if len(line) >= 25 && line[0] == '[' {
		if t, err := time.ParseInLocation("2006-01-02 15:04:05.000", line[1:24], time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}
