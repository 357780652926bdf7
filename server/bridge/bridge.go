package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mordilloSan/go-logger/logger"

	"github.com/livebridge/livebridge/common/ipc"
)

// Bridge is the entry point for callers: one Execute per command, safe for
// concurrent use. It never assumes anything about the connection state.
type Bridge struct {
	mgr     *Manager
	metrics *Metrics
}

type Option func(*Bridge)

// WithMetrics records every Execute in m.
func WithMetrics(m *Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

func New(mgr *Manager, opts ...Option) *Bridge {
	b := &Bridge{mgr: mgr}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Manager exposes the underlying connection manager.
func (b *Bridge) Manager() *Manager { return b.mgr }

// State returns the connection state.
func (b *Bridge) State() ConnState { return b.mgr.State() }

// Shutdown closes the connection; see Manager.Shutdown.
func (b *Bridge) Shutdown(ctx context.Context) error { return b.mgr.Shutdown(ctx) }

// Execute sends name with params to the host and returns the Success result,
// which is never nil. A Failure comes back as *ipc.HostError; transport
// problems as the ipc sentinel errors. timeout <= 0 uses the configured
// request timeout, and bounds the whole call including any connect.
func (b *Bridge) Execute(ctx context.Context, name string, params map[string]any, timeout time.Duration) (map[string]any, error) {
	id := uuid.NewString()
	start := time.Now()

	logger.DebugKV("bridge call initiated",
		"id", id,
		"command", name)

	result, err := b.execute(ctx, name, params, timeout)
	elapsed := time.Since(start)

	b.metrics.observe(name, err, elapsed)

	switch {
	case err == nil:
		logger.DebugKV("bridge call completed",
			"id", id,
			"command", name,
			"duration", elapsed)
	case errors.Is(err, ipc.ErrHostReported), errors.Is(err, ipc.ErrInvalidCommand):
		logger.DebugKV("bridge call rejected",
			"id", id,
			"command", name,
			"outcome", ipc.Classify(err),
			"error", err)
	default:
		logger.WarnKV("bridge call failed",
			"id", id,
			"command", name,
			"outcome", ipc.Classify(err),
			"duration", elapsed,
			"error", err)
	}
	return result, err
}

func (b *Bridge) execute(ctx context.Context, name string, params map[string]any, timeout time.Duration) (map[string]any, error) {
	cmd, err := ipc.NewCommand(name, params)
	if err != nil {
		return nil, err
	}

	cfg := b.mgr.Config()
	if timeout <= 0 {
		timeout = cfg.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := b.mgr.EnsureConnected(ctx, cfg.ConnectTimeout); err != nil {
		return nil, err
	}

	resp, err := b.mgr.SendAndAwait(ctx, cmd, timeout)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, resp.Err()
	}
	if resp.Result == nil {
		return map[string]any{}, nil
	}
	return resp.Result, nil
}
