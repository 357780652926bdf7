package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"unicode"
)

// Command is one request to the host: a command name plus its parameters.
// A Command is immutable once built; use NewCommand.
type Command struct {
	name   string
	params json.RawMessage
}

// NewCommand validates name and params and returns the command.
// nil params are sent as an empty object.
func NewCommand(name string, params map[string]any) (Command, error) {
	if err := ValidateName(name); err != nil {
		return Command{}, err
	}
	if params == nil {
		params = map[string]any{}
	}
	raw, err := marshalNoEscape(params)
	if err != nil {
		return Command{}, fmt.Errorf("%w: params for %q are not serializable: %v", ErrInvalidCommand, name, err)
	}
	return Command{name: name, params: raw}, nil
}

// ValidateName rejects empty names and names containing whitespace or
// control characters.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty command name", ErrInvalidCommand)
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: command name %q contains whitespace or control characters", ErrInvalidCommand, name)
		}
	}
	return nil
}

func (c Command) Name() string { return c.name }

// Params decodes a fresh copy of the parameters.
func (c Command) Params() map[string]any {
	out := map[string]any{}
	if len(c.params) == 0 {
		return out
	}
	_ = json.Unmarshal(c.params, &out)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func (c Command) String() string { return c.name }

// Response status values on the wire.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const defaultFailureMessage = "unknown error from host"

// Response is exactly one of Success (Result set) or Failure (Message set).
type Response struct {
	Status  string         `json:"status"`
	Result  map[string]any `json:"result"`
	Message string         `json:"message,omitempty"`
}

// Success builds a success response; a nil result becomes {}.
func Success(result map[string]any) Response {
	if result == nil {
		result = map[string]any{}
	}
	return Response{Status: StatusSuccess, Result: maps.Clone(result)}
}

// Failure builds an error response.
func Failure(message string) Response {
	if message == "" {
		message = defaultFailureMessage
	}
	return Response{Status: StatusError, Result: map[string]any{}, Message: message}
}

func (r Response) OK() bool { return r.Status == StatusSuccess }

// Err returns a *HostError for a Failure and nil for a Success.
func (r Response) Err() error {
	if r.OK() {
		return nil
	}
	return &HostError{Message: r.Message}
}

// envelope is the wire shape of a Command.
type envelope struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
