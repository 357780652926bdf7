package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/livebridge/livebridge/common/config"
	"github.com/livebridge/livebridge/common/version"
)

// ServerConfig is the runtime config passed to the server.
type ServerConfig struct {
	config.Config
	ConfigPath string
}

// test seam (override in tests)
var runServerFunc = RunServer

// StartLiveBridge is the CLI entrypoint (called from cmd/livebridge-server)
// and returns the process exit code.
func StartLiveBridge(args []string) int {
	if len(args) < 2 {
		printGeneralUsage(os.Stderr)
		return 0
	}

	switch args[1] {
	case "-h", "--help", "help":
		printGeneralUsage(os.Stderr)
		return 0
	case "version", "--version":
		fmt.Printf("livebridge-server %s (%s, built %s)\n", version.Version, version.CommitSHA, version.BuildTime)
		return 0
	case "run":
		cfg, err := parseRun(args[2:], os.Stderr)
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "livebridge-server: %v\n", err)
			return 2
		}
		if err := runServerFunc(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "livebridge-server: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %q\n\n", args[1])
		printGeneralUsage(os.Stderr)
		return 2
	}
}

// parseRun loads the config file named by --config and applies flag
// overrides on top of it.
func parseRun(args []string, stderr io.Writer) (ServerConfig, error) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath  string
		listen   string
		host     string
		port     int
		reqTO    time.Duration
		validate string
		verbose  bool
	)
	fs.StringVarP(&cfgPath, "config", "c", "", "YAML config file")
	fs.StringVar(&listen, "listen", config.DefaultListenAddress, "HTTP listen address")
	fs.StringVar(&host, "host", config.DefaultHostAddress, "host endpoint address")
	fs.IntVar(&port, "port", config.DefaultHostPort, "host endpoint port (1-65535)")
	fs.DurationVar(&reqTO, "request-timeout", config.DefaultRequestTimeout, "default per-command timeout")
	fs.StringVar(&validate, "validate-command", config.DefaultValidateCommand, "command sent after connecting (empty disables)")
	fs.BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "LiveBridge API server %s\n", version.Version)
		fmt.Fprintln(stderr, "\nUsage:")
		fmt.Fprintln(stderr, "  livebridge-server run [flags]")
		fmt.Fprintln(stderr, "\nFlags:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ServerConfig{}, err
	}

	loaded, err := config.Load(cfgPath)
	if err != nil {
		return ServerConfig{}, err
	}
	cfg := ServerConfig{Config: loaded, ConfigPath: cfgPath}

	if fs.Changed("listen") {
		cfg.API.Listen = listen
	}
	if fs.Changed("host") {
		cfg.Host.Address = host
	}
	if fs.Changed("port") {
		cfg.Host.Port = port
	}
	if fs.Changed("validate-command") {
		cfg.Host.ValidateCommand = validate
	}
	if fs.Changed("verbose") {
		cfg.Verbose = verbose
	}
	if fs.Changed("request-timeout") {
		cfg.Host.RequestTimeout = reqTO
	}

	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func printGeneralUsage(w io.Writer) {
	fmt.Fprintf(w, `LiveBridge API server %s

Usage:
  livebridge-server <command> [flags]

Commands:
  run         Run the HTTP API in front of the host bridge
  version     Print version information
  help        Show this help

Examples:
  livebridge-server run
  livebridge-server run --config /etc/livebridge/livebridge.yaml --verbose

Use "livebridge-server <command> -h" for more info about a command.
`, version.Version)
}
