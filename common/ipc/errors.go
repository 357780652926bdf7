package ipc

import (
	"context"
	"errors"
)

// Error taxonomy shared by the bridge, the host endpoint and the HTTP layer.
// Callers match with errors.Is; context is added with fmt.Errorf("...: %w").
var (
	ErrInvalidCommand   = errors.New("invalid command")
	ErrConnect          = errors.New("cannot connect to host")
	ErrConnectionLost   = errors.New("connection to host lost")
	ErrConnectionClosed = errors.New("bridge is shut down")
	ErrTimeout          = errors.New("timed out waiting for host")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrStreamClosed     = errors.New("stream closed")
	ErrHostReported     = errors.New("host reported failure")
	ErrSchedulerClosed  = errors.New("scheduler closed")

	// host side
	ErrInvalidArgs     = errors.New("invalid arguments")
	ErrHandlerNotFound = errors.New("handler not found")
)

// HostError carries the message of a Failure response verbatim.
type HostError struct {
	Message string
}

func (e *HostError) Error() string { return e.Message }

// Is lets errors.Is(err, ErrHostReported) match any *HostError.
func (e *HostError) Is(target error) bool { return target == ErrHostReported }

// Classify returns the taxonomy name of err, used for logs, metrics labels
// and HTTP status mapping.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid_command"
	case errors.Is(err, ErrHostReported):
		return "host_reported"
	case errors.Is(err, ErrConnectionClosed):
		return "connection_closed"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectionLost):
		return "connection_lost"
	case errors.Is(err, ErrConnect):
		return "connect_error"
	case errors.Is(err, ErrMalformedFrame):
		return "malformed_frame"
	case errors.Is(err, ErrSchedulerClosed):
		return "scheduler_closed"
	case errors.Is(err, ErrHandlerNotFound):
		return "handler_not_found"
	case errors.Is(err, ErrInvalidArgs):
		return "invalid_args"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}
