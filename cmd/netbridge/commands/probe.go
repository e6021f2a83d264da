package commands

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/netbridge/internal/cli/output"
	"github.com/marmos91/netbridge/internal/cli/prompt"
	"github.com/marmos91/netbridge/pkg/bus"
	"github.com/marmos91/netbridge/pkg/channel"
	"github.com/marmos91/netbridge/pkg/config"
	"github.com/marmos91/netbridge/pkg/devicespec"
	"github.com/marmos91/netbridge/pkg/dispatcher"
	"github.com/marmos91/netbridge/pkg/factory"
	"github.com/marmos91/netbridge/pkg/netstatus"
	"github.com/marmos91/netbridge/pkg/protocol"
)

var (
	probeBus      string
	probeChannel  uint8
	probeDir      bool
	probeLong     bool
	probeLogin    string
	probeAskPass  bool
	probeQuery    string
	probeMax      int
	probeRaw      bool
	probeIdle     time.Duration
	probeWrite    string
	probeInteract bool
)

var probeCmd = &cobra.Command{
	Use:   "probe [devicespec]",
	Short: "Open a device spec and show what a host would read",
	Long: `Open a device spec on a channel, read until end of file and print the
result, exactly as a host on the bus would see it.

By default the channel is served in-process from the configuration. Use
--bus to run the same commands against a running server.

Examples:
  # Directory listing of a TNFS server
  netbridge probe --dir "N:TNFS://tnfs.example.com/games/"

  # Hex dump of a file
  netbridge probe "N:HTTP://example.com/README.TXT"

  # Query a field of a JSON document
  netbridge probe --query /name "N:HTTPS://api.example.com/user.json"

  # Through a running server, asking for the password
  netbridge probe --bus localhost:9997 --login guest --ask-password "N:FTP://ftp.example.com/"

  # Choose the scheme interactively
  netbridge probe -i`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeDeviceSpec,
	RunE:              runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeBus, "bus", "", "Bus server address (default: serve the channel in-process)")
	probeCmd.Flags().Uint8VarP(&probeChannel, "channel", "c", 1, "Channel number")
	probeCmd.Flags().BoolVarP(&probeDir, "dir", "d", false, "Open in directory mode")
	probeCmd.Flags().BoolVarP(&probeLong, "long", "l", false, "Long directory entries")
	probeCmd.Flags().StringVar(&probeLogin, "login", "", "Login sent before opening")
	probeCmd.Flags().BoolVar(&probeAskPass, "ask-password", false, "Prompt for the login (unless --login is set) and password")
	probeCmd.Flags().StringVarP(&probeQuery, "query", "q", "", "Parse the result as JSON and print this query")
	probeCmd.Flags().IntVarP(&probeMax, "max", "n", 64*1024, "Maximum bytes to read")
	probeCmd.Flags().BoolVar(&probeRaw, "raw", false, "Write the bytes unmodified to stdout")
	probeCmd.Flags().DurationVar(&probeIdle, "idle", 2*time.Second, "Stop a stream after this long without data")
	probeCmd.Flags().StringVarP(&probeWrite, "write", "w", "", "Send this text after opening (e.g. a request line)")
	probeCmd.Flags().BoolVarP(&probeInteract, "interactive", "i", false, "Prompt for the device spec")
}

// probeOptions drive one probe session.
type probeOptions struct {
	Channel  uint8
	Spec     string
	Mode     protocol.OpenMode
	Aux2     byte
	Login    string
	Password string
	Query    string
	Write    []byte
	Max      int
	Idle     time.Duration
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	f := factory.NewDefault(cfg.FactorySettings())

	var spec string
	switch {
	case len(args) == 1:
		spec = args[0]
	case probeInteract:
		if spec, err = askDeviceSpec(f.Schemes()); err != nil {
			return err
		}
	default:
		return fmt.Errorf("a device spec is required (or use --interactive)")
	}

	opts := probeOptions{
		Channel: probeChannel,
		Spec:    spec,
		Mode:    protocol.ModeRead,
		Login:   probeLogin,
		Query:   probeQuery,
		Max:     probeMax,
		Idle:    probeIdle,
	}
	if probeDir {
		opts.Mode = protocol.ModeDirectory
	}
	if probeLong {
		opts.Aux2 |= 0x80
	}
	if probeWrite != "" {
		opts.Mode = protocol.ModeReadWrite
		opts.Write = []byte(probeWrite)
	}
	if probeAskPass {
		if opts.Login, opts.Password, err = prompt.Credentials(opts.Login); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var d bus.Dispatcher
	if probeBus != "" {
		client, err := bus.Dial(ctx, probeBus, cfg.Timeouts.Read+time.Second)
		if err != nil {
			return err
		}
		defer func() { _ = client.Shutdown() }()
		d = client
	} else {
		local := dispatcher.New(f, cfg.DispatcherOptions(nil)...)
		defer local.Shutdown(context.Background())
		d = local
	}

	data, err := probe(ctx, d, opts)
	if err != nil && len(data) == 0 {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case probeRaw:
		_, werr := out.Write(data)
		return werr
	case opts.Mode == protocol.ModeDirectory || opts.Query != "":
		return output.PrintListing(out, data, byte(cfg.EOL))
	default:
		if perr := output.PrintDump(out, data); perr != nil {
			return perr
		}
		if err != nil {
			output.NewPrinter(cmd.ErrOrStderr(), output.FormatTable, output.ColorFromEnv()).
				Result(fmt.Sprintf("stopped after %d bytes", len(data)), err)
		}
		return nil
	}
}

// probe runs a session on d and returns the bytes read. A partial result
// is returned with the error that ended it.
func probe(ctx context.Context, d bus.Dispatcher, opts probeOptions) ([]byte, error) {
	n := opts.Channel

	if opts.Login != "" || opts.Password != "" {
		if _, err := d.SpecialExecute(ctx, n, protocol.CommandFrame{Command: dispatcher.CmdSetLogin}, []byte(opts.Login)); err != nil {
			return nil, fmt.Errorf("set login: %w", err)
		}
		if _, err := d.SpecialExecute(ctx, n, protocol.CommandFrame{Command: dispatcher.CmdSetPassword}, []byte(opts.Password)); err != nil {
			return nil, fmt.Errorf("set password: %w", err)
		}
	}

	frame := protocol.CommandFrame{Aux1: byte(opts.Mode), Aux2: opts.Aux2}
	if err := d.Open(ctx, n, frame, []byte(opts.Spec)); err != nil {
		return nil, fmt.Errorf("open %s: %w", redact(opts.Spec), err)
	}
	defer func() { _ = d.Close(ctx, n) }()

	if len(opts.Write) > 0 {
		if err := d.Write(ctx, n, opts.Write); err != nil {
			return nil, fmt.Errorf("write: %w", err)
		}
	}

	if opts.Query != "" {
		if _, err := d.SpecialExecute(ctx, n, protocol.CommandFrame{Command: dispatcher.CmdParseJSON}, nil); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		if _, err := d.SpecialExecute(ctx, n, protocol.CommandFrame{Command: dispatcher.CmdSetChannelMode, Aux2: byte(channel.ModeJSON)}, nil); err != nil {
			return nil, fmt.Errorf("json mode: %w", err)
		}
		if _, err := d.SpecialExecute(ctx, n, protocol.CommandFrame{Command: dispatcher.CmdQueryJSON}, []byte(opts.Query)); err != nil {
			return nil, fmt.Errorf("query %s: %w", opts.Query, err)
		}
	}

	return drain(ctx, d, n, opts.Max, opts.Idle)
}

// drain reads channel n until end of file, max bytes, or idle elapses
// with the channel connected but nothing waiting.
func drain(ctx context.Context, d bus.Dispatcher, n uint8, max int, idle time.Duration) ([]byte, error) {
	var buf bytes.Buffer
	lastData := time.Now()

	for buf.Len() < max {
		st, err := d.Status(ctx, n)
		if err != nil {
			return buf.Bytes(), err
		}
		if st.BytesWaiting == 0 {
			if !st.Connected || st.Error != netstatus.Success || time.Since(lastData) >= idle {
				return buf.Bytes(), nil
			}
			select {
			case <-ctx.Done():
				return buf.Bytes(), ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		want := int(st.BytesWaiting)
		if rest := max - buf.Len(); want > rest {
			want = rest
		}
		data, err := d.Read(ctx, n, want)
		if len(data) > want {
			data = data[:want]
		}
		buf.Write(data)
		lastData = time.Now()

		if netstatus.Is(err, netstatus.EndOfFile) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), err
		}
	}
	return buf.Bytes(), nil
}

// askDeviceSpec builds a device spec from prompts.
func askDeviceSpec(schemes []string) (string, error) {
	scheme, err := prompt.SelectScheme(schemes)
	if err != nil {
		return "", err
	}
	return prompt.InputDeviceSpec("Device spec", "N:"+scheme+"://")
}

// redact hides the password of a device spec for error messages.
func redact(spec string) string {
	unit, rest := devicespec.SplitUnit(spec)
	u := devicespec.Parse(rest)
	if u.Password == "" {
		return spec
	}
	return unit + u.Redacted()
}
