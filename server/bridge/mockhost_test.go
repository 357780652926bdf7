package bridge

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livebridge/livebridge/common/ipc"
)

// hostFunc answers one command. Returning ok=false hangs up without a reply.
type hostFunc func(cmd ipc.Command) (resp ipc.Response, ok bool)

// mockHost is a scripted host endpoint on a loopback listener.
type mockHost struct {
	ln       net.Listener
	handle   hostFunc
	accepted atomic.Int32
	received atomic.Int32

	// oneAtATime makes the host look for a further request before it
	// replies; overlapped counts the requests that arrived too early.
	oneAtATime bool
	overlapped atomic.Int32

	mu    sync.Mutex
	conns []net.Conn
	order []string
}

func defaultHost(cmd ipc.Command) (ipc.Response, bool) {
	switch cmd.Name() {
	case "get_session_info":
		return ipc.Success(map[string]any{"tempo": 120.0, "track_count": 2}), true
	case "echo":
		return ipc.Success(cmd.Params()), true
	case "slow":
		time.Sleep(300 * time.Millisecond)
		return ipc.Success(nil), true
	case "hang":
		return ipc.Response{}, false
	case "fail":
		return ipc.Failure("Parameter 'Nope' not found in device 'EQ Eight'"), true
	default:
		return ipc.Failure("Unknown command: " + cmd.Name()), true
	}
}

type mockOption func(*mockHost)

// withOneAtATime checks that the client waits for every reply before it
// sends the next request.
func withOneAtATime() mockOption {
	return func(h *mockHost) { h.oneAtATime = true }
}

func newMockHost(t *testing.T, handle hostFunc, opts ...mockOption) *mockHost {
	t.Helper()
	if handle == nil {
		handle = defaultHost
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	h := &mockHost{ln: ln, handle: handle}
	for _, opt := range opts {
		opt(h)
	}
	go h.serve()
	t.Cleanup(h.close)
	return h
}

func (h *mockHost) addr() string { return h.ln.Addr().String() }

func (h *mockHost) serve() {
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			return
		}
		h.accepted.Add(1)
		h.mu.Lock()
		h.conns = append(h.conns, conn)
		h.mu.Unlock()
		go h.serveConn(conn)
	}
}

func (h *mockHost) serveConn(conn net.Conn) {
	defer conn.Close()
	br := bufio.NewReaderSize(conn, 64*1024)
	frames := ipc.NewFrameReader(br)
	for {
		raw, err := frames.ReadFrame()
		if err != nil {
			return
		}
		cmd, err := ipc.DecodeCommand(raw)
		if err != nil {
			return
		}
		h.received.Add(1)
		h.mu.Lock()
		h.order = append(h.order, cmd.Name())
		h.mu.Unlock()

		if h.oneAtATime && requestWaiting(conn, br) {
			h.overlapped.Add(1)
		}

		resp, ok := h.handle(cmd)
		if !ok {
			return
		}
		frame, err := ipc.EncodeResponse(resp)
		if err != nil {
			return
		}
		if _, err := ipc.WriteFrame(conn, frame); err != nil {
			return
		}
	}
}

// requestWaiting reports whether more request bytes are already buffered
// or arrive within a short grace period.
func requestWaiting(conn net.Conn, br *bufio.Reader) bool {
	if br.Buffered() > 0 {
		return true
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Millisecond))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	_, err := br.Peek(1)
	return err == nil
}

// dropAll closes every accepted connection from the host side.
func (h *mockHost) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		_ = c.Close()
	}
	h.conns = nil
}

func (h *mockHost) commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.order...)
}

func (h *mockHost) close() {
	_ = h.ln.Close()
	h.dropAll()
}
