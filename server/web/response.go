package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mordilloSan/go-logger/logger"

	"github.com/livebridge/livebridge/common/ipc"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warnf("failed to encode JSON response: %v", err)
	}
}

// WriteError writes a JSON error response with the given status code.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"status": ipc.StatusError, "message": message})
}

// WriteResult writes a successful command result in the wire shape.
func WriteResult(w http.ResponseWriter, result any) {
	WriteJSON(w, http.StatusOK, map[string]any{"status": ipc.StatusSuccess, "result": result})
}

// StatusFor maps a bridge error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ipc.ErrInvalidCommand), errors.Is(err, ipc.ErrInvalidArgs):
		return http.StatusBadRequest
	case errors.Is(err, ipc.ErrHostReported), errors.Is(err, ipc.ErrConnectionLost), errors.Is(err, ipc.ErrMalformedFrame):
		return http.StatusBadGateway
	case errors.Is(err, ipc.ErrConnectionClosed), errors.Is(err, ipc.ErrConnect):
		return http.StatusServiceUnavailable
	case errors.Is(err, ipc.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteBridgeError writes err with the status StatusFor picks. Host failure
// messages are passed through verbatim.
func WriteBridgeError(w http.ResponseWriter, err error) {
	WriteError(w, StatusFor(err), err.Error())
}
