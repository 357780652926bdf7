package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/livebridge/livebridge/common/ipc"
)

// ParamRef selects a device parameter by name or by index. Exactly one of
// the two is set.
type ParamRef struct {
	Name  string
	Index *int
}

func ParamByName(name string) ParamRef { return ParamRef{Name: name} }

func ParamByIndex(i int) ParamRef { return ParamRef{Index: &i} }

// ParseParamRef treats s as an index when it parses as an integer.
func ParseParamRef(s string) ParamRef {
	if i, err := strconv.Atoi(s); err == nil {
		return ParamByIndex(i)
	}
	return ParamByName(s)
}

func (r ParamRef) String() string {
	if r.Index != nil {
		return "#" + strconv.Itoa(*r.Index)
	}
	return strconv.Quote(r.Name)
}

func (r ParamRef) validate() error {
	switch {
	case r.Index != nil && r.Name != "":
		return fmt.Errorf("%w: parameter reference has both a name and an index", ipc.ErrInvalidCommand)
	case r.Index == nil && r.Name == "":
		return fmt.Errorf("%w: parameter reference needs a name or an index", ipc.ErrInvalidCommand)
	}
	return nil
}

// Parameter is one entry of get_device_parameters.
type Parameter struct {
	Index       int      `json:"index"`
	Name        string   `json:"name"`
	Value       float64  `json:"value"`
	Min         float64  `json:"min"`
	Max         float64  `json:"max"`
	IsQuantized bool     `json:"is_quantized"`
	ValueItems  []string `json:"value_items,omitempty"`
}

// DeviceParameters is the result of get_device_parameters.
type DeviceParameters struct {
	DeviceName  string      `json:"device_name"`
	DeviceClass string      `json:"device_class"`
	DeviceType  string      `json:"device_type,omitempty"`
	Parameters  []Parameter `json:"parameters"`
}

// Lookup finds a parameter by reference.
func (d DeviceParameters) Lookup(ref ParamRef) (Parameter, bool) {
	for _, p := range d.Parameters {
		if ref.Index != nil && p.Index == *ref.Index {
			return p, true
		}
		if ref.Index == nil && p.Name == ref.Name {
			return p, true
		}
	}
	return Parameter{}, false
}

// ParameterChange is the result of set_device_parameter.
type ParameterChange struct {
	DeviceName     string  `json:"device_name"`
	ParameterName  string  `json:"parameter_name"`
	ParameterIndex int     `json:"parameter_index"`
	Value          float64 `json:"value"`
	Min            float64 `json:"min"`
	Max            float64 `json:"max"`
}

// GetParameters lists the parameters of a device. Indices are checked by
// the host, not here.
func (b *Bridge) GetParameters(ctx context.Context, track, device int) (DeviceParameters, error) {
	res, err := b.Execute(ctx, "get_device_parameters", map[string]any{
		"track_index":  track,
		"device_index": device,
	}, 0)
	if err != nil {
		return DeviceParameters{}, err
	}
	var out DeviceParameters
	if err := decodeResult("get_device_parameters", res, &out); err != nil {
		return DeviceParameters{}, err
	}
	return out, nil
}

// SetParameter sets one device parameter. value is usually a normalized
// float; quantized parameters also accept one of their value item names.
func (b *Bridge) SetParameter(ctx context.Context, track, device int, ref ParamRef, value any) (ParameterChange, error) {
	if err := ref.validate(); err != nil {
		return ParameterChange{}, err
	}
	if value == nil {
		return ParameterChange{}, fmt.Errorf("%w: missing value for parameter %s", ipc.ErrInvalidCommand, ref)
	}

	params := map[string]any{
		"track_index":  track,
		"device_index": device,
		"value":        value,
	}
	if ref.Index != nil {
		params["parameter_index"] = *ref.Index
	} else {
		params["parameter_name"] = ref.Name
	}

	res, err := b.Execute(ctx, "set_device_parameter", params, 0)
	if err != nil {
		return ParameterChange{}, err
	}
	var out ParameterChange
	if err := decodeResult("set_device_parameter", res, &out); err != nil {
		return ParameterChange{}, err
	}
	return out, nil
}

// decodeResult maps a result object onto a typed struct.
func decodeResult(command string, res map[string]any, out any) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("%w: %s result: %v", ipc.ErrMalformedFrame, command, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: unexpected %s result: %v", ipc.ErrMalformedFrame, command, err)
	}
	return nil
}
