package ipc

import (
	"context"
	"slices"
	"sync"
)

// Handler executes one host command and returns its result object.
// A returned error becomes a Failure response carrying err.Error().
type Handler interface {
	Execute(ctx context.Context, params map[string]any) (map[string]any, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

func (f HandlerFunc) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	return f(ctx, params)
}

// Entry is a registered handler. Mutating handlers must run on the host's
// main execution context.
type Entry struct {
	Handler  Handler
	Mutating bool
}

// Registry maps command names to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Entry)}
}

// Register adds a read-only handler for command.
//
// Panics if command is invalid or handler is nil.
func (r *Registry) Register(command string, handler Handler) {
	r.register(command, Entry{Handler: handler})
}

// RegisterMutating adds a handler that must run on the main context.
func (r *Registry) RegisterMutating(command string, handler Handler) {
	r.register(command, Entry{Handler: handler, Mutating: true})
}

// RegisterFunc is a convenience method for registering function handlers.
//
// Example:
//
//	reg.RegisterFunc("get_session_info", func(ctx context.Context, params map[string]any) (map[string]any, error) {
//	    return map[string]any{"tempo": 120.0}, nil
//	})
func (r *Registry) RegisterFunc(command string, fn HandlerFunc) {
	r.Register(command, fn)
}

func (r *Registry) register(command string, e Entry) {
	if err := ValidateName(command); err != nil {
		panic(err.Error())
	}
	if e.Handler == nil {
		panic("handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[command] = e
}

// Get retrieves a handler by command name.
// Returns (Entry{}, false) if not found.
func (r *Registry) Get(command string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.handlers[command]
	return e, ok
}

// Unregister removes a handler.
// Returns true if the handler was found and removed, false otherwise.
func (r *Registry) Unregister(command string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[command]; !ok {
		return false
	}
	delete(r.handlers, command)
	return true
}

// List returns the registered command names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
