package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/delegate-dev/delegate/pkg/ai"
)

// Registry holds registered tools keyed by name, plus schema-only
// declarations for tools the model may see but never execute here.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	decls map[string]ai.FunctionDeclaration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		decls: make(map[string]ai.FunctionDeclaration),
	}
}

// Register adds a tool. Panics if a tool with the same name is already registered.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Declaration().Name
	if _, exists := r.tools[name]; exists {
		panic(fmt.Sprintf("tools: tool %q already registered", name))
	}
	r.tools[name] = t
}

// RegisterOrReplace adds or replaces a tool.
func (r *Registry) RegisterOrReplace(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Declaration().Name] = t
}

// RegisterDeclaration adds a schema-only declaration. The name shows up in
// Declarations but Get returns nil and Execute reports not_found.
func (r *Registry) RegisterDeclaration(d ai.FunctionDeclaration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decls[d.Name] = d
}

// Get retrieves an executable tool by name. Returns nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether name is known, as an executable tool or a declaration.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.tools[name]; ok {
		return true
	}
	_, ok := r.decls[name]
	return ok
}

// Names returns the names of all registered tools and declarations, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools)+len(r.decls))
	for n := range r.tools {
		names = append(names, n)
	}
	for n := range r.decls {
		if _, dup := r.tools[n]; !dup {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Declarations returns function declarations for the given names, in the
// order given; unknown names are skipped. With no names it returns every
// declaration in sorted-name order.
func (r *Registry) Declarations(names ...string) []ai.FunctionDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		names = nil
		for n := range r.tools {
			names = append(names, n)
		}
		for n := range r.decls {
			if _, dup := r.tools[n]; !dup {
				names = append(names, n)
			}
		}
		sort.Strings(names)
	}

	out := make([]ai.FunctionDeclaration, 0, len(names))
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out = append(out, t.Declaration())
			continue
		}
		if d, ok := r.decls[n]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Remove removes a tool or declaration by name. No-op if not found.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.decls, name)
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Request identifies one invocation to execute.
type Request struct {
	CallID string
	Name   string
	Args   map[string]any
}

// Execute resolves, validates and runs one invocation. Argument validation
// happens before the tool runs; a schema failure never reaches Execute on the
// tool. Cancellation via ctx is surfaced as a cancelled ToolError so the
// executor can tell an operator interrupt from a genuine tool failure.
func (r *Registry) Execute(ctx context.Context, req Request, onOutput OutputFn) Response {
	t := r.Get(req.Name)
	if t == nil {
		return Response{Err: &ToolError{
			Message: fmt.Sprintf("Tool %q not found in registry.", req.Name),
			Type:    ErrorTypeNotFound,
		}}
	}

	args, err := ValidateAndCoerce(t.Declaration(), req.Args)
	if err != nil {
		return Response{Err: &ToolError{Message: err.Error(), Type: ErrorTypeInvalidArgs}}
	}

	result, err := t.Execute(ctx, req.CallID, args, onOutput)
	if err != nil {
		typ := ErrorTypeExecution
		if ctx.Err() != nil {
			typ = ErrorTypeCancelled
		}
		return Response{Display: result.Display, Err: &ToolError{Message: err.Error(), Type: typ}}
	}
	if err := ctx.Err(); err != nil {
		// The tool returned normally but the turn was already cancelled;
		// its result must not feed the next turn.
		return Response{Display: result.Display, Err: &ToolError{
			Message: "Tool execution cancelled.",
			Type:    ErrorTypeCancelled,
		}}
	}

	return Response{Parts: result.Content, Display: result.Display}
}
