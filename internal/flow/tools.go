package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrToolExists is returned when a tool name is registered twice.
var ErrToolExists = errors.New("tool already registered")

// Tool is a Go function a tool node calls with its resolved inputs.
type Tool func(ctx context.Context, inputs map[string]any) (any, error)

// Registry maps tool names used in source.tool to their implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under name.
func (r *Registry) Register(name string, tool Tool) error {
	if name == "" || tool == nil {
		return fmt.Errorf("%w: tool name and function are required", ErrInvalidDefinition)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("%w: %s", ErrToolExists, name)
	}
	r.tools[name] = tool
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}
