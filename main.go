package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mordilloSan/go-logger/logger"
	"github.com/spf13/pflag"

	"github.com/livebridge/livebridge/common/config"
	"github.com/livebridge/livebridge/common/ipc"
	"github.com/livebridge/livebridge/common/normalize"
	"github.com/livebridge/livebridge/common/version"
	"github.com/livebridge/livebridge/server/bridge"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// initLogger sets up the process-wide logger once a subcommand knows its
// verbosity. Tests replace it so run never reconfigures a shared logger.
var initLogger = func(verbose bool) {
	levels := []logger.Level{logger.ErrorLevel}
	if verbose {
		levels = logger.AllLevels()
	}
	logger.Init(logger.Config{Levels: levels})
}

// globals are the flags every subcommand accepts.
type globals struct {
	configPath string
	host       string
	port       int
	timeout    time.Duration
	verbose    bool
}

func run(argv []string, stdout, stderr io.Writer) int {
	if len(argv) < 1 {
		showHelp(stdout)
		return 0
	}

	cmd := argv[0]
	switch cmd {
	case "help", "-h", "--help":
		showHelp(stdout)
		return 0
	case "version", "--version":
		fmt.Fprintf(stdout, "livebridge %s (%s, built %s)\n", version.Version, version.CommitSHA, version.BuildTime)
		return 0
	case "normalize", "denormalize":
		return runNormalize(cmd, argv[1:], stdout, stderr)
	case "exec", "params", "set", "status":
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		showHelp(stderr)
		return 1
	}

	var g globals
	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&g.configPath, "config", "c", "", "YAML config file")
	fs.StringVar(&g.host, "host", "", "host endpoint address")
	fs.IntVar(&g.port, "port", 0, "host endpoint port")
	fs.DurationVarP(&g.timeout, "timeout", "t", 0, "command timeout (default from config)")
	fs.BoolVarP(&g.verbose, "verbose", "v", false, "log bridge activity to stderr")
	if err := fs.Parse(argv[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	b, err := g.connect()
	if err != nil {
		fmt.Fprintf(stderr, "livebridge: %v\n", err)
		return 2
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = b.Shutdown(ctx)
	}()

	ctx := context.Background()
	args := fs.Args()
	var out any
	switch cmd {
	case "exec":
		out, err = execCommand(ctx, b, args, g.timeout)
	case "params":
		out, err = getParams(ctx, b, args)
	case "set":
		out, err = setParam(ctx, b, args)
	case "status":
		out, err = b.Execute(ctx, "get_session_info", nil, g.timeout)
	}
	if err != nil {
		fmt.Fprintf(stderr, "livebridge: %s: %v\n", ipc.Classify(err), err)
		if errors.Is(err, ipc.ErrInvalidCommand) {
			return 2
		}
		return 1
	}
	return printJSON(stdout, out)
}

func (g globals) connect() (*bridge.Bridge, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.host != "" {
		cfg.Host.Address = g.host
	}
	if g.port != 0 {
		cfg.Host.Port = g.port
	}

	initLogger(g.verbose || cfg.Verbose)

	mgr := bridge.NewManager(bridge.Config{
		Address:         cfg.Host.Addr(),
		ConnectTimeout:  cfg.Host.ConnectTimeout,
		RequestTimeout:  cfg.Host.RequestTimeout,
		BackoffInitial:  cfg.Host.BackoffInitial,
		BackoffMax:      cfg.Host.BackoffMax,
		ValidateCommand: cfg.Host.ValidateCommand,
	})
	return bridge.New(mgr), nil
}

// exec <name> [json-params]
func execCommand(ctx context.Context, b *bridge.Bridge, args []string, timeout time.Duration) (map[string]any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("%w: usage: livebridge exec <name> [json-params]", ipc.ErrInvalidCommand)
	}
	params := map[string]any{}
	if len(args) == 2 {
		if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
			return nil, fmt.Errorf("%w: params must be a JSON object: %v", ipc.ErrInvalidCommand, err)
		}
	}
	return b.Execute(ctx, args[0], params, timeout)
}

// params <track> <device>
func getParams(ctx context.Context, b *bridge.Bridge, args []string) (bridge.DeviceParameters, error) {
	if len(args) != 2 {
		return bridge.DeviceParameters{}, fmt.Errorf("%w: usage: livebridge params <track> <device>", ipc.ErrInvalidCommand)
	}
	track, device, err := trackDevice(args[0], args[1])
	if err != nil {
		return bridge.DeviceParameters{}, err
	}
	return b.GetParameters(ctx, track, device)
}

// set <track> <device> <param> <value>
func setParam(ctx context.Context, b *bridge.Bridge, args []string) (bridge.ParameterChange, error) {
	if len(args) != 4 {
		return bridge.ParameterChange{}, fmt.Errorf("%w: usage: livebridge set <track> <device> <param> <value>", ipc.ErrInvalidCommand)
	}
	track, device, err := trackDevice(args[0], args[1])
	if err != nil {
		return bridge.ParameterChange{}, err
	}
	return b.SetParameter(ctx, track, device, bridge.ParseParamRef(args[2]), parseValue(args[3]))
}

// parseValue keeps item names like "Bell" as strings and everything that
// parses as a number as a number.
func parseValue(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func trackDevice(t, d string) (int, int, error) {
	track, err := strconv.Atoi(t)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: track must be an integer, got %q", ipc.ErrInvalidCommand, t)
	}
	device, err := strconv.Atoi(d)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: device must be an integer, got %q", ipc.ErrInvalidCommand, d)
	}
	return track, device, nil
}

// normalize|denormalize <kind> <value>
func runNormalize(cmd string, args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintf(stderr, "usage: livebridge %s <frequency|q|volume> <value>\n", cmd)
		return 2
	}
	kind, err := normalize.ParseKind(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "livebridge: %v\n", err)
		return 2
	}
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fmt.Fprintf(stderr, "livebridge: value must be a number, got %q\n", args[1])
		return 2
	}

	var out float64
	if cmd == "normalize" {
		out, err = normalize.ToNormalized(kind, v)
	} else {
		out, err = normalize.ToPhysical(kind, v)
	}
	if err != nil {
		fmt.Fprintf(stderr, "livebridge: %v\n", err)
		return 2
	}
	fmt.Fprintln(stdout, strconv.FormatFloat(out, 'g', -1, 64))
	return 0
}

func printJSON(w io.Writer, v any) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "livebridge: %v\n", err)
		return 1
	}
	return 0
}

func showHelp(w io.Writer) {
	fmt.Fprintf(w, "\033[1mLiveBridge CLI - talk to the host endpoint\033[0m\n")
	fmt.Fprintln(w, `
Usage: livebridge <command> [flags] [args]

Commands:
  exec        Send a raw command: exec <name> [json-params]
  params      List device parameters: params <track> <device>
  set         Set a device parameter: set <track> <device> <name|index> <value>
  status      Show the host session summary
  normalize   Physical to normalized: normalize <frequency|q|volume> <value>
  denormalize Normalized to physical: denormalize <frequency|q|volume> <value>
  version     Show version information
  help        Show this help message

Flags (exec, params, set, status):
  -c, --config    YAML config file
      --host      host endpoint address
      --port      host endpoint port
  -t, --timeout   command timeout
  -v, --verbose   log bridge activity to stderr`)
}
