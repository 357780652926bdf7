// Package handler holds the helpers host command handlers share.
package handler

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/livebridge/livebridge/common/ipc"
)

// Args wraps a command's params with typed accessors. Every accessor error
// wraps ipc.ErrInvalidArgs.
type Args map[string]any

func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

func (a Args) Value(key string) (any, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: missing %q", ipc.ErrInvalidArgs, key)
	}
	return v, nil
}

func (a Args) String(key string) (string, error) {
	v, err := a.Value(key)
	if err != nil {
		return "", err
	}
	s, err := AsString(v)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ipc.ErrInvalidArgs, key, err)
	}
	return s, nil
}

func (a Args) Float(key string) (float64, error) {
	v, err := a.Value(key)
	if err != nil {
		return 0, err
	}
	f, err := AsFloat(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ipc.ErrInvalidArgs, key, err)
	}
	return f, nil
}

func (a Args) Int(key string) (int, error) {
	v, err := a.Value(key)
	if err != nil {
		return 0, err
	}
	n, err := AsInt(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ipc.ErrInvalidArgs, key, err)
	}
	return n, nil
}

// IntOr returns def when key is absent.
func (a Args) IntOr(key string, def int) (int, error) {
	if !a.Has(key) {
		return def, nil
	}
	return a.Int(key)
}

// FloatOr returns def when key is absent.
func (a Args) FloatOr(key string, def float64) (float64, error) {
	if !a.Has(key) {
		return def, nil
	}
	return a.Float(key)
}

// BoolOr returns def when key is absent.
func (a Args) BoolOr(key string, def bool) (bool, error) {
	if !a.Has(key) {
		return def, nil
	}
	b, err := AsBool(a[key])
	if err != nil {
		return false, fmt.Errorf("%w: %q: %v", ipc.ErrInvalidArgs, key, err)
	}
	return b, nil
}

// Objects returns key as a list of objects, each wrapped as Args.
func (a Args) Objects(key string) ([]Args, error) {
	v, err := a.Value(key)
	if err != nil {
		return nil, err
	}
	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []map[string]any:
		items = make([]any, len(list))
		for i, m := range list {
			items[i] = m
		}
	default:
		return nil, fmt.Errorf("%w: %q: expected list, got %T", ipc.ErrInvalidArgs, key, v)
	}
	out := make([]Args, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q[%d]: expected object, got %T", ipc.ErrInvalidArgs, key, i, item)
		}
		out = append(out, Args(m))
	}
	return out, nil
}

func AsString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func AsFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

// AsBool accepts booleans and the numbers 0 and 1.
func AsBool(v any) (bool, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	f, err := AsFloat(v)
	if err != nil || (f != 0 && f != 1) {
		return false, fmt.Errorf("expected boolean, got %v", v)
	}
	return f == 1, nil
}

// AsInt accepts integral numbers only; 1.5 is an error.
func AsInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	}
	f, err := AsFloat(v)
	if err != nil {
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expected integer, got %v", f)
	}
	return int(f), nil
}
