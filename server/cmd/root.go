package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/activation"
	"github.com/mordilloSan/go-logger/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/livebridge/livebridge/common/version"
	"github.com/livebridge/livebridge/server/bridge"
	"github.com/livebridge/livebridge/server/web"
)

const shutdownGrace = 5 * time.Second

func RunServer(cfg ServerConfig) error {
	// -------------------------------------------------------------------------
	// Logging
	// -------------------------------------------------------------------------
	var levels []logger.Level
	if cfg.Verbose {
		levels = logger.AllLevels() // Includes DEBUG
	} else {
		levels = []logger.Level{logger.InfoLevel, logger.WarnLevel, logger.ErrorLevel}
	}
	logger.Init(logger.Config{
		Levels: levels,
	})
	logger.InfoKV("server starting",
		"version", version.Version,
		"verbose", cfg.Verbose,
		"host", cfg.Host.Addr(),
		"config", cfg.ConfigPath)

	// -------------------------------------------------------------------------
	// Metrics + bridge
	// -------------------------------------------------------------------------
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := bridge.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	mgr := bridge.NewManager(bridge.Config{
		Address:         cfg.Host.Addr(),
		ConnectTimeout:  cfg.Host.ConnectTimeout,
		RequestTimeout:  cfg.Host.RequestTimeout,
		BackoffInitial:  cfg.Host.BackoffInitial,
		BackoffMax:      cfg.Host.BackoffMax,
		ValidateCommand: cfg.Host.ValidateCommand,
		OnStateChange: metrics.StateHook(func(from, to bridge.ConnState) {
			logger.DebugKV("host connection state", "from", from.String(), "to", to.String())
		}),
	})
	b := bridge.New(mgr, bridge.WithMetrics(metrics))

	// -------------------------------------------------------------------------
	// Router + HTTP server
	// -------------------------------------------------------------------------
	srv := &http.Server{
		Handler: web.BuildRouter(web.Config{
			Bridge:     b,
			Gatherer:   reg,
			MaxTimeout: 4 * cfg.Host.RequestTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(web.HTTPErrorLogAdapter{}, "", 0),
	}

	listeners, err := serverListeners(cfg.API.Listen)
	if err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serveErr := make(chan error, len(listeners))
	for _, l := range listeners {
		logger.Infof("HTTP API listening on %s", l.Addr())
		go func(lis net.Listener) {
			if e := srv.Serve(lis); e != nil && !errors.Is(e, http.ErrServerClosed) {
				serveErr <- e
				return
			}
			serveErr <- nil
		}(l)
	}

	// -------------------------------------------------------------------------
	// Shutdown coordination
	// -------------------------------------------------------------------------
	var runErr error
	select {
	case s := <-quit:
		logger.Infof("Shutdown signal received: %s", s)
	case runErr = <-serveErr:
		if runErr != nil {
			logger.Errorf("server error: %v", runErr)
		} else {
			logger.Infof("HTTP server stopped, beginning shutdown...")
		}
	}

	srv.SetKeepAlivesEnabled(false)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Warnf("Graceful HTTP shutdown timed out; forcing close of remaining connections.")
			if cerr := srv.Close(); cerr != nil && !errors.Is(cerr, http.ErrServerClosed) {
				logger.Warnf("HTTP server force-close error: %v", cerr)
			}
		} else {
			logger.Warnf("HTTP server shutdown error: %v", err)
		}
	} else {
		logger.Infof("HTTP server closed")
	}

	if err := b.Shutdown(ctx); err != nil {
		logger.Warnf("bridge shutdown: %v", err)
	}

	logger.Infof("Server stopped.")
	return runErr
}

// serverListeners prefers sockets handed over by systemd and falls back to
// binding addr.
func serverListeners(addr string) ([]net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		logger.Warnf("activation.Listeners error: %v", err)
	}
	var active []net.Listener
	for _, l := range listeners {
		if l != nil {
			active = append(active, l)
		}
	}
	if len(active) > 0 {
		logger.Infof("Socket-activated: serving on %d inherited socket(s)", len(active))
		return active, nil
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return []net.Listener{l}, nil
}
