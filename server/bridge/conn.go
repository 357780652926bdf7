package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/mordilloSan/go-logger/logger"
	"golang.org/x/sync/singleflight"

	"github.com/livebridge/livebridge/common/ipc"
)

// ConnState is the lifecycle state of the host connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateDraining
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

// DialFunc opens the transport to the host endpoint.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

const (
	DefaultAddress         = "127.0.0.1:9877"
	DefaultConnectTimeout  = 5 * time.Second
	DefaultRequestTimeout  = 15 * time.Second
	DefaultBackoffInitial  = 100 * time.Millisecond
	DefaultBackoffMax      = 5 * time.Second
	DefaultValidateCommand = "get_session_info"
)

// Config configures a Manager. Zero values take the defaults above, except
// ValidateCommand: empty means no validation round trip on connect.
type Config struct {
	Address         string
	ConnectTimeout  time.Duration
	RequestTimeout  time.Duration
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	ValidateCommand string
	Dialer          DialFunc

	// OnStateChange is called with the Manager's lock held; it must not call
	// back into the Manager.
	OnStateChange func(from, to ConnState)
}

func (c Config) withDefaults() Config {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	if c.Dialer == nil {
		d := &net.Dialer{KeepAlive: 30 * time.Second}
		c.Dialer = d.DialContext
	}
	return c
}

// Stats is a point-in-time snapshot of the Manager.
type Stats struct {
	State           ConnState
	Address         string
	Generation      uint64
	Connects        uint64
	ConnectFailures uint64
	Teardowns       uint64
	Sent            uint64
	QueuedCallers   int
	PendingCommand  string
	PendingSince    time.Time
	RetryAt         time.Time
	LastError       string
}

type result struct {
	resp ipc.Response
	err  error
}

// pendingRequest is the single outstanding request on a connection.
type pendingRequest struct {
	command  string
	issuedAt time.Time
	deadline time.Time
	done     chan result
}

// hostConn is one live transport plus its reader state.
type hostConn struct {
	nc     net.Conn
	frames *ipc.FrameReader
	gen    uint64

	mu      sync.Mutex
	closed  bool
	pending *pendingRequest

	readerDone chan struct{}
}

func newHostConn(nc net.Conn) *hostConn {
	return &hostConn{
		nc:         nc,
		frames:     ipc.NewFrameReader(nc),
		readerDone: make(chan struct{}),
	}
}

// setPending installs p; false if the connection is already dead.
func (c *hostConn) setPending(p *pendingRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.pending = p
	return true
}

func (c *hostConn) takePending() *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending
	c.pending = nil
	return p
}

func (c *hostConn) clearPending(p *pendingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == p {
		c.pending = nil
	}
}

func (c *hostConn) snapshot() (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return "", time.Time{}
	}
	return c.pending.command, c.pending.issuedAt
}

// close shuts the transport and fails the pending request with cause.
// Only the first call has an effect; it reports whether it was that call.
func (c *hostConn) close(cause error) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.closed = true
	p := c.pending
	c.pending = nil
	c.mu.Unlock()

	if err := c.nc.Close(); err != nil {
		logger.DebugKV("host conn close", "generation", c.gen, "error", err)
	}
	if p != nil {
		p.done <- result{err: cause}
	}
	return true
}

func (c *hostConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Manager owns the single connection to the host endpoint. The protocol is
// half-duplex: callers take turns in arrival order and each turn carries at
// most one request.
type Manager struct {
	cfg Config

	mu        sync.Mutex
	state     ConnState
	conn      *hostConn
	gen       uint64
	backoff   *backoff.ExponentialBackOff
	retryAt   time.Time
	lastErr   error
	shutdown  bool
	connects  uint64
	failures  uint64
	teardowns uint64
	sent      uint64

	connectGroup singleflight.Group
	turn         turnQueue

	baseCtx    context.Context
	baseCancel context.CancelFunc
	closing    chan struct{}
}

// NewManager returns a Manager in the Disconnected state. No I/O happens
// until the first EnsureConnected.
func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BackoffInitial
	bo.MaxInterval = cfg.BackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.5
	bo.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		backoff:    bo,
		baseCtx:    ctx,
		baseCancel: cancel,
		closing:    make(chan struct{}),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// State returns the current connection state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Closing is closed once Shutdown has run.
func (m *Manager) Closing() <-chan struct{} { return m.closing }

// Stats returns a snapshot of the Manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := Stats{
		State:           m.state,
		Address:         m.cfg.Address,
		Generation:      m.gen,
		Connects:        m.connects,
		ConnectFailures: m.failures,
		Teardowns:       m.teardowns,
		Sent:            m.sent,
		RetryAt:         m.retryAt,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	hc := m.conn
	m.mu.Unlock()

	if hc != nil {
		s.PendingCommand, s.PendingSince = hc.snapshot()
	}
	s.QueuedCallers = m.turn.waiting()
	return s
}

// setState must be called with m.mu held.
func (m *Manager) setState(to ConnState) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	if m.cfg.OnStateChange != nil {
		m.cfg.OnStateChange(from, to)
	}
}

// EnsureConnected returns nil once a connection is established. Concurrent
// callers share one in-flight attempt. After a failed attempt, calls made
// before the backoff delay elapses fail immediately with ErrConnect.
func (m *Manager) EnsureConnected(ctx context.Context, timeout time.Duration) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return ipc.ErrConnectionClosed
	}
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	if wait := time.Until(m.retryAt); wait > 0 {
		last := m.lastErr
		m.mu.Unlock()
		return fmt.Errorf("%w: %s: next attempt in %s (last error: %v)",
			ipc.ErrConnect, m.cfg.Address, wait.Round(time.Millisecond), last)
	}
	m.mu.Unlock()

	if timeout <= 0 {
		timeout = m.cfg.ConnectTimeout
	}

	ch := m.connectGroup.DoChan("connect", func() (any, error) {
		return nil, m.connect(timeout)
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %w", ipc.ErrConnect, m.cfg.Address, ctx.Err())
	}
}

func (m *Manager) connect(timeout time.Duration) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return ipc.ErrConnectionClosed
	}
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.setState(StateConnecting)
	m.mu.Unlock()

	logger.DebugKV("connecting to host", "address", m.cfg.Address, "timeout", timeout)

	ctx, cancel := context.WithTimeout(m.baseCtx, timeout)
	defer cancel()

	var hc *hostConn
	nc, err := m.cfg.Dialer(ctx, "tcp", m.cfg.Address)
	if err == nil {
		hc = newHostConn(nc)
		if m.cfg.ValidateCommand != "" {
			if verr := m.validate(ctx, hc); verr != nil {
				_ = nc.Close()
				err = fmt.Errorf("validation with %q failed: %w", m.cfg.ValidateCommand, verr)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		if err == nil {
			_ = nc.Close()
		}
		return ipc.ErrConnectionClosed
	}

	if err != nil {
		delay := m.backoff.NextBackOff()
		m.retryAt = time.Now().Add(delay)
		m.lastErr = err
		m.failures++
		m.setState(StateDisconnected)
		logger.WarnKV("host connect failed",
			"address", m.cfg.Address,
			"retry_in", delay,
			"error", err)
		return fmt.Errorf("%w: %s: %w", ipc.ErrConnect, m.cfg.Address, err)
	}

	m.gen++
	hc.gen = m.gen
	m.conn = hc
	m.backoff.Reset()
	m.retryAt = time.Time{}
	m.lastErr = nil
	m.connects++
	m.setState(StateConnected)
	logger.InfoKV("connected to host", "address", m.cfg.Address, "generation", hc.gen)

	go m.readLoop(hc)
	return nil
}

// validate performs one synchronous round trip before the reader starts.
func (m *Manager) validate(ctx context.Context, hc *hostConn) error {
	cmd, err := ipc.NewCommand(m.cfg.ValidateCommand, nil)
	if err != nil {
		return err
	}
	frame, err := ipc.EncodeCommand(cmd)
	if err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	_ = hc.nc.SetDeadline(deadline)
	defer hc.nc.SetDeadline(time.Time{})

	if _, err := ipc.WriteFrame(hc.nc, frame); err != nil {
		return err
	}
	raw, err := hc.frames.ReadFrame()
	if err != nil {
		return err
	}
	resp, err := ipc.DecodeResponse(raw)
	if err != nil {
		return err
	}
	return resp.Err()
}

func (m *Manager) current() *hostConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected {
		return nil
	}
	return m.conn
}

func (m *Manager) isShutdown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutdown
}

// SendAndAwait sends cmd and waits for its response, bounded by timeout
// (RequestTimeout when <= 0) and ctx.
//
// Giving up before any byte is written leaves the connection usable. Giving
// up after the write started tears the connection down, since a late reply
// could otherwise be read as the answer to the next request.
func (m *Manager) SendAndAwait(ctx context.Context, cmd ipc.Command, timeout time.Duration) (ipc.Response, error) {
	frame, err := ipc.EncodeCommand(cmd)
	if err != nil {
		if errors.Is(err, ipc.ErrInvalidCommand) {
			return ipc.Response{}, err
		}
		return ipc.Response{}, fmt.Errorf("%w: %w", ipc.ErrInvalidCommand, err)
	}

	if timeout <= 0 {
		timeout = m.cfg.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := m.turn.acquire(ctx); err != nil {
		if errors.Is(err, ipc.ErrConnectionClosed) {
			return ipc.Response{}, err
		}
		return ipc.Response{}, fmt.Errorf("%w: %s: waiting for send turn: %w", ipc.ErrTimeout, cmd.Name(), err)
	}
	defer m.turn.release()

	hc := m.current()
	if hc == nil {
		// Dropped while we were queued.
		if err := m.EnsureConnected(ctx, m.cfg.ConnectTimeout); err != nil {
			return ipc.Response{}, err
		}
		if hc = m.current(); hc == nil {
			return ipc.Response{}, fmt.Errorf("%w: %s: connection dropped", ipc.ErrConnect, m.cfg.Address)
		}
	}

	return m.roundTrip(ctx, hc, cmd.Name(), frame, timeout)
}

// aLongTimeAgo is a non-zero past deadline used to interrupt a blocked write.
var aLongTimeAgo = time.Unix(1, 0)

func (m *Manager) roundTrip(ctx context.Context, hc *hostConn, name string, frame []byte, timeout time.Duration) (ipc.Response, error) {
	p := &pendingRequest{
		command:  name,
		issuedAt: time.Now(),
		done:     make(chan result, 1),
	}
	p.deadline, _ = ctx.Deadline()

	if !hc.setPending(p) {
		return ipc.Response{}, m.deadConnErr(name)
	}
	if err := ctx.Err(); err != nil {
		hc.clearPending(p)
		return ipc.Response{}, fmt.Errorf("%w: %s: nothing sent: %w", ipc.ErrTimeout, name, err)
	}

	_ = hc.nc.SetWriteDeadline(p.deadline)
	interrupted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = hc.nc.SetWriteDeadline(aLongTimeAgo)
		close(interrupted)
	})
	n, werr := ipc.WriteFrame(hc.nc, frame)
	if !stop() {
		<-interrupted
	}
	_ = hc.nc.SetWriteDeadline(time.Time{})

	if werr != nil {
		hc.clearPending(p)
		timedOut := isTimeout(werr)
		switch {
		case timedOut && n == 0:
			logger.DebugKV("request abandoned before send", "command", name, "generation", hc.gen)
			return ipc.Response{}, fmt.Errorf("%w: %s: nothing sent: %w", ipc.ErrTimeout, name, context.Cause(ctx))
		case timedOut:
			m.teardown(hc, fmt.Errorf("%w: partial write of %s", ipc.ErrTimeout, name))
			return ipc.Response{}, fmt.Errorf("%w: %s: partial write after %s", ipc.ErrTimeout, name, timeout)
		default:
			cause := fmt.Errorf("%w: write %s: %w", ipc.ErrConnectionLost, name, werr)
			m.teardown(hc, cause)
			if m.isShutdown() {
				return ipc.Response{}, ipc.ErrConnectionClosed
			}
			return ipc.Response{}, cause
		}
	}

	m.mu.Lock()
	m.sent++
	m.mu.Unlock()

	select {
	case r := <-p.done:
		return r.resp, r.err
	case <-ctx.Done():
	}

	// A reply may have landed while we were noticing the deadline.
	select {
	case r := <-p.done:
		return r.resp, r.err
	default:
	}

	// A reply that arrives between here and clearPending is dropped on
	// purpose: the call still ends once, as a timeout, and the teardown
	// below keeps that late frame from reaching the next caller.
	hc.clearPending(p)
	m.teardown(hc, fmt.Errorf("%w: %s abandoned after %s", ipc.ErrTimeout, name, time.Since(p.issuedAt).Round(time.Millisecond)))
	return ipc.Response{}, fmt.Errorf("%w: %s after %s: %w", ipc.ErrTimeout, name, timeout, ctx.Err())
}

func (m *Manager) deadConnErr(name string) error {
	if m.isShutdown() {
		return ipc.ErrConnectionClosed
	}
	return fmt.Errorf("%w: %s: connection closed before send", ipc.ErrConnectionLost, name)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// readLoop is the only reader of hc. Every frame must answer the pending
// request; anything else ends the connection.
func (m *Manager) readLoop(hc *hostConn) {
	defer close(hc.readerDone)
	for {
		raw, err := hc.frames.ReadFrame()
		if err != nil {
			if hc.IsClosed() {
				return
			}
			if errors.Is(err, ipc.ErrStreamClosed) {
				m.teardown(hc, fmt.Errorf("%w: host closed the connection", ipc.ErrConnectionLost))
			} else {
				m.teardown(hc, fmt.Errorf("%w: %w", ipc.ErrConnectionLost, err))
			}
			return
		}

		resp, err := ipc.DecodeResponse(raw)
		if err != nil {
			logger.WarnKV("undecodable frame from host", "generation", hc.gen, "error", err)
			m.teardown(hc, fmt.Errorf("%w: %w", ipc.ErrConnectionLost, err))
			return
		}

		p := hc.takePending()
		if p == nil {
			logger.WarnKV("unsolicited frame from host", "generation", hc.gen, "status", resp.Status)
			m.teardown(hc, fmt.Errorf("%w: unsolicited frame", ipc.ErrConnectionLost))
			return
		}
		p.done <- result{resp: resp}
	}
}

// teardown closes hc and, if it is still the live connection, moves the
// Manager to Disconnected before the pending caller hears about it. Safe to
// call more than once.
func (m *Manager) teardown(hc *hostConn, cause error) {
	m.mu.Lock()
	live := m.conn == hc
	if live {
		m.conn = nil
		m.teardowns++
		m.lastErr = cause
		if m.state == StateConnected {
			m.setState(StateDisconnected)
		}
	}
	m.mu.Unlock()

	if hc.close(cause) && live {
		logger.WarnKV("host connection torn down", "generation", hc.gen, "error", cause)
	}
}

// Shutdown fails the pending request and every queued caller with
// ErrConnectionClosed and closes the transport. Later calls return
// ErrConnectionClosed. ctx bounds the wait for the reader goroutine.
// Idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	m.setState(StateDraining)
	hc := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.baseCancel()
	m.turn.close()

	if hc != nil {
		hc.close(ipc.ErrConnectionClosed)
	}

	m.mu.Lock()
	m.setState(StateDisconnected)
	m.mu.Unlock()
	close(m.closing)
	logger.InfoKV("host connection manager shut down", "address", m.cfg.Address)

	if hc == nil {
		return nil
	}
	select {
	case <-hc.readerDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
