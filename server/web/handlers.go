package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/livebridge/livebridge/common/ipc"
	"github.com/livebridge/livebridge/common/normalize"
	"github.com/livebridge/livebridge/server/bridge"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	bridge     Commander
	maxTimeout time.Duration
}

// POST /api/commands/{name}
func (h *handlers) execute(w http.ResponseWriter, r *http.Request) {
	timeout, err := h.timeout(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	params, err := decodeObject(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.bridge.Execute(r.Context(), r.PathValue("name"), params, timeout)
	if err != nil {
		WriteBridgeError(w, err)
		return
	}
	WriteResult(w, result)
}

// GET /api/tracks/{track}/devices/{device}/parameters
func (h *handlers) getParameters(w http.ResponseWriter, r *http.Request) {
	track, device, ok := trackDevice(w, r)
	if !ok {
		return
	}
	params, err := h.bridge.GetParameters(r.Context(), track, device)
	if err != nil {
		WriteBridgeError(w, err)
		return
	}
	WriteResult(w, params)
}

// PUT /api/tracks/{track}/devices/{device}/parameters/{param}
func (h *handlers) setParameter(w http.ResponseWriter, r *http.Request) {
	track, device, ok := trackDevice(w, r)
	if !ok {
		return
	}
	body, err := decodeObject(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, present := body["value"]
	if !present || value == nil {
		WriteError(w, http.StatusBadRequest, "body must carry a \"value\"")
		return
	}

	change, err := h.bridge.SetParameter(r.Context(), track, device, bridge.ParseParamRef(r.PathValue("param")), value)
	if err != nil {
		WriteBridgeError(w, err)
		return
	}
	WriteResult(w, change)
}

// GET /api/normalize/{kind}?value=
func (h *handlers) normalize(w http.ResponseWriter, r *http.Request) {
	kind, value, ok := kindValue(w, r)
	if !ok {
		return
	}
	n, err := normalize.ToNormalized(kind, value)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteResult(w, map[string]any{"kind": kind.String(), "physical": value, "normalized": n})
}

// GET /api/denormalize/{kind}?value=
func (h *handlers) denormalize(w http.ResponseWriter, r *http.Request) {
	kind, value, ok := kindValue(w, r)
	if !ok {
		return
	}
	p, err := normalize.ToPhysical(kind, value)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	WriteResult(w, map[string]any{"kind": kind.String(), "normalized": value, "physical": p})
}

// GET /healthz
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	state := h.bridge.State()
	status := http.StatusOK
	if state == bridge.StateDraining {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, map[string]string{"state": state.String()})
}

func (h *handlers) timeout(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("timeout")
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid timeout %q", raw)
	}
	return min(d, h.maxTimeout), nil
}

// decodeObject reads the request body as a JSON object. An empty body is {}.
func decodeObject(r *http.Request) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(raw) > maxBodyBytes {
		return nil, errors.New("request body too large")
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: body must be a JSON object: %v", ipc.ErrInvalidCommand, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func trackDevice(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	track, err := strconv.Atoi(r.PathValue("track"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "track must be an integer")
		return 0, 0, false
	}
	device, err := strconv.Atoi(r.PathValue("device"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "device must be an integer")
		return 0, 0, false
	}
	return track, device, true
}

func kindValue(w http.ResponseWriter, r *http.Request) (normalize.Kind, float64, bool) {
	kind, err := normalize.ParseKind(r.PathValue("kind"))
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return 0, 0, false
	}
	value, err := strconv.ParseFloat(r.URL.Query().Get("value"), 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "value must be a number")
		return 0, 0, false
	}
	return kind, value, true
}
