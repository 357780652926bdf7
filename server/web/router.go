// Package web exposes the command bridge over HTTP.
package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mordilloSan/go-logger/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/livebridge/livebridge/server/bridge"
)

// Commander is the part of *bridge.Bridge the HTTP layer uses.
type Commander interface {
	Execute(ctx context.Context, name string, params map[string]any, timeout time.Duration) (map[string]any, error)
	GetParameters(ctx context.Context, track, device int) (bridge.DeviceParameters, error)
	SetParameter(ctx context.Context, track, device int, ref bridge.ParamRef, value any) (bridge.ParameterChange, error)
	State() bridge.ConnState
}

// Config holds router configuration.
type Config struct {
	Bridge Commander
	// Gatherer backs GET /metrics; nil leaves the route out.
	Gatherer prometheus.Gatherer
	// MaxTimeout caps the ?timeout= a caller may ask for.
	MaxTimeout time.Duration
}

// BuildRouter constructs and returns the main HTTP handler.
func BuildRouter(cfg Config) http.Handler {
	mux := http.NewServeMux()

	var handler http.Handler = mux
	handler = LoggerMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	h := &handlers{bridge: cfg.Bridge, maxTimeout: cfg.MaxTimeout}
	if h.maxTimeout <= 0 {
		h.maxTimeout = 2 * time.Minute
	}

	mux.HandleFunc("POST /api/commands/{name}", h.execute)
	mux.HandleFunc("GET /api/tracks/{track}/devices/{device}/parameters", h.getParameters)
	mux.HandleFunc("PUT /api/tracks/{track}/devices/{device}/parameters/{param}", h.setParameter)
	mux.HandleFunc("GET /api/normalize/{kind}", h.normalize)
	mux.HandleFunc("GET /api/denormalize/{kind}", h.denormalize)
	mux.HandleFunc("GET /healthz", h.health)

	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{
			ErrorLog: promLogger{},
		}))
	}

	return handler
}

// promLogger adapts logger.Warnf to promhttp.Logger.
type promLogger struct{}

func (promLogger) Println(v ...any) {
	logger.Warnf("[metrics] %s", fmt.Sprint(v...))
}

// HTTPErrorLogAdapter adapts logger.Warnf to the log.Logger interface for http.Server.ErrorLog.
type HTTPErrorLogAdapter struct{}

func (HTTPErrorLogAdapter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	// Filter out noisy "TLS handshake error" messages from scanners
	if strings.Contains(msg, "TLS handshake error") {
		return len(p), nil
	}
	logger.Warnf("[http.Server] %s", msg)
	return len(p), nil
}
