// Command livebridge-host runs the reference host endpoint: an in-memory
// session answering the command protocol on TCP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mordilloSan/go-logger/logger"
	"github.com/spf13/pflag"

	appconfig "github.com/livebridge/livebridge/common/config"
	"github.com/livebridge/livebridge/common/ipc"
	"github.com/livebridge/livebridge/common/version"
	"github.com/livebridge/livebridge/host/handlers/live"
	"github.com/livebridge/livebridge/host/scheduler"
	"github.com/livebridge/livebridge/host/server"
)

func main() {
	var (
		configPath      string
		listen          string
		tick            time.Duration
		mutationTimeout time.Duration
		verbose         bool
		showVersion     bool
	)
	pflag.StringVar(&configPath, "config", "", "YAML config file")
	pflag.StringVar(&listen, "listen", "", "listen address (default host.address:host.port from config)")
	pflag.DurationVar(&tick, "tick", 0, "delay before each scheduled mutation")
	pflag.DurationVar(&mutationTimeout, "mutation-timeout", server.DefaultMutationTimeout, "how long a client waits for a scheduled mutation")
	pflag.BoolVar(&verbose, "verbose", false, "enable verbose logs")
	pflag.BoolVar(&showVersion, "version", false, "print version and exit")
	pflag.Parse()

	if showVersion || (len(pflag.Args()) > 0 && pflag.Args()[0] == "version") {
		fmt.Printf("livebridge-host %s\n", version.Version)
		return
	}

	cfg, err := appconfig.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livebridge-host: %v\n", err)
		os.Exit(2)
	}
	if pflag.Lookup("verbose").Changed {
		cfg.Verbose = verbose
	}
	if listen == "" {
		listen = cfg.Host.Addr()
	}

	levels := []logger.Level{logger.InfoLevel, logger.WarnLevel, logger.ErrorLevel}
	if cfg.Verbose {
		levels = logger.AllLevels()
	}
	logger.Init(logger.Config{Levels: levels})
	logger.InfoKV("host starting", "version", version.Version, "listen", listen, "tick", tick)

	reg := ipc.NewRegistry()
	live.Register(reg, live.NewSession())
	logger.DebugKV("commands registered", "commands", strings.Join(reg.List(), ","))

	sched := scheduler.New(scheduler.Options{Tick: tick, Name: "main"})
	srv := server.New(reg, sched, server.WithMutationTimeout(mutationTimeout))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe(listen) }()

	select {
	case s := <-quit:
		logger.Infof("shutdown signal received: %s", s)
	case err := <-served:
		if err != nil && !errors.Is(err, server.ErrServerClosed) {
			logger.Errorf("host server error: %v", err)
			sched.Close(0)
			os.Exit(1)
		}
	}

	const grace = 5 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warnf("host shutdown: %v", err)
	}
	sched.Close(grace)
	logger.Infof("host stopped")
}
