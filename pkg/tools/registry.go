// Package tools implements the mechanical tool executors invoked by the
// agent loop: shell, read_file, list_dir, grep_files, and (in the patch
// subpackage) apply_patch.
package tools

import (
	"context"
)

// Executor runs one tool invocation against a workspace directory and
// returns its string output, or an error if the tool itself failed (as
// opposed to the command it ran failing, which is reported in the output
// text with a non-zero exit code).
type Executor func(ctx context.Context, workDir string, input map[string]interface{}) (string, error)

// Def pairs a tool's schema with its executor.
type Def struct {
	Name        string
	Description string
	InputSchema interface{}
	Run         Executor
}

// Registry holds the set of tools available to one agent.
type Registry struct {
	defs map[string]Def
	order []string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Def)}
}

// Register adds a tool definition.
func (r *Registry) Register(d Def) {
	if _, exists := r.defs[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.defs[d.Name] = d
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Def, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Defs returns all registered definitions in registration order.
func (r *Registry) Defs() []Def {
	out := make([]Def, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}
