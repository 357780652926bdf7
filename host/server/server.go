// Package server is the host-side endpoint: it accepts clients on TCP,
// reads one command frame at a time per connection, and answers each with
// exactly one response frame.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mordilloSan/go-logger/logger"

	"github.com/livebridge/livebridge/common/ipc"
	"github.com/livebridge/livebridge/host/scheduler"
)

// DefaultMutationTimeout bounds how long a connection waits for a scheduled
// mutation before answering with a timeout failure.
const DefaultMutationTimeout = 10 * time.Second

const timeoutMessage = "Timeout waiting for operation to complete"

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("host server closed")

// Server serves the command registry over TCP.
type Server struct {
	reg             *ipc.Registry
	sched           *scheduler.Scheduler
	mutationTimeout time.Duration

	mu       sync.Mutex
	ln       net.Listener
	conns    map[string]net.Conn
	closing  chan struct{}
	shutdown bool

	wg sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithMutationTimeout overrides DefaultMutationTimeout.
func WithMutationTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.mutationTimeout = d
		}
	}
}

// New returns a server dispatching to reg. Mutating commands run on sched.
func New(reg *ipc.Registry, sched *scheduler.Scheduler, opts ...Option) *Server {
	s := &Server{
		reg:             reg,
		sched:           sched,
		mutationTimeout: DefaultMutationTimeout,
		conns:           make(map[string]net.Conn),
		closing:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown. Each connection gets its
// own goroutine; frames on one connection are handled in order.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.ln = ln
	s.mu.Unlock()

	logger.InfoKV("host server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.closing:
				return ErrServerClosed
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.WarnKV("accept timeout", "error", err)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		id := uuid.NewString()
		if !s.track(id, conn) {
			_ = conn.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(id)
			s.handleConn(conn, id)
		}()
	}
}

// Addr is the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) track(id string, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.conns[id] = conn
	return true
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

// Shutdown stops accepting, closes every client connection and waits for
// their goroutines, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.shutdown {
		s.shutdown = true
		close(s.closing)
		if s.ln != nil {
			if err := s.ln.Close(); err != nil {
				logger.DebugKV("listener close", "error", err)
			}
		}
		for id, c := range s.conns {
			if err := c.Close(); err != nil {
				logger.DebugKV("client conn close", "conn_id", id, "error", err)
			}
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.InfoKV("host server stopped")
		return nil
	case <-ctx.Done():
		logger.WarnKV("client connections exceeded shutdown grace", "error", ctx.Err())
		return ctx.Err()
	}
}

func (s *Server) handleConn(conn net.Conn, id string) {
	defer func() {
		if cerr := conn.Close(); cerr != nil && !strings.Contains(cerr.Error(), "use of closed") {
			logger.WarnKV("client conn close failed", "conn_id", id, "error", cerr)
		}
	}()
	logger.InfoKV("client connected", "conn_id", id, "remote", conn.RemoteAddr().String())

	frames := ipc.NewFrameReader(conn)
	for {
		frame, err := frames.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, ipc.ErrStreamClosed):
				logger.InfoKV("client disconnected", "conn_id", id)
			case errors.Is(err, ipc.ErrMalformedFrame):
				logger.WarnKV("unreadable frame", "conn_id", id, "error", err)
				s.reply(conn, id, ipc.Failure(err.Error()))
			default:
				select {
				case <-s.closing:
				default:
					logger.WarnKV("client read failed", "conn_id", id, "error", err)
				}
			}
			return
		}

		cmd, err := ipc.DecodeCommand(frame)
		if err != nil {
			// Framing is lost once a line fails to decode; answer and hang up.
			logger.WarnKV("invalid command frame", "conn_id", id, "error", err)
			s.reply(conn, id, ipc.Failure(err.Error()))
			return
		}

		resp := s.Dispatch(context.Background(), cmd)
		if !s.reply(conn, id, resp) {
			return
		}
	}
}

func (s *Server) reply(conn net.Conn, id string, resp ipc.Response) bool {
	frame, err := ipc.EncodeResponse(resp)
	if err != nil {
		logger.ErrorKV("failed to encode response", "conn_id", id, "error", err)
		frame, err = ipc.EncodeResponse(ipc.Failure(err.Error()))
		if err != nil {
			return false
		}
	}
	if _, err := ipc.WriteFrame(conn, frame); err != nil {
		logger.WarnKV("failed to send response", "conn_id", id, "error", err)
		return false
	}
	return true
}

// Dispatch runs one command and converts its outcome into a response.
// Handler failures never escape as Go errors.
func (s *Server) Dispatch(ctx context.Context, cmd ipc.Command) ipc.Response {
	name := cmd.Name()
	entry, ok := s.reg.Get(name)
	if !ok {
		logger.WarnKV("unknown command", "command", name, "error", ipc.ErrHandlerNotFound)
		return ipc.Failure(fmt.Sprintf("Unknown command: %s", name))
	}
	params := cmd.Params()
	logger.DebugKV("command received", "command", name, "params", params, "mutating", entry.Mutating)

	var (
		result map[string]any
		err    error
	)
	if entry.Mutating && s.sched != nil {
		result, err = s.schedule(ctx, entry.Handler, params)
	} else {
		result, err = runInline(ctx, entry.Handler, params)
	}
	if err != nil {
		logger.WarnKV("command failed", "command", name, "error", err)
		return ipc.Failure(err.Error())
	}
	return ipc.Success(result)
}

func (s *Server) schedule(ctx context.Context, h ipc.Handler, params map[string]any) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.mutationTimeout)
	defer cancel()

	v, err := s.sched.Do(ctx, func(workCtx context.Context) (any, error) {
		return h.Execute(workCtx, params)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.New(timeoutMessage)
		}
		return nil, err
	}
	result, _ := v.(map[string]any)
	return result, nil
}

func runInline(ctx context.Context, h ipc.Handler, params map[string]any) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorKV("handler panic", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Execute(ctx, params)
}
