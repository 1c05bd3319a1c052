package dispatch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type entry struct {
	tool   Tool
	schema *gojsonschema.Schema
}

// Registry maps tool names to tools. It is built once and read-only after.
type Registry struct {
	tools map[string]entry
	names []string
}

// NewRegistry compiles every tool's schema. Duplicate names, missing
// handlers and uncompilable schemas are errors.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]entry, len(tools))}
	for _, t := range tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %s has no handler", t.Name)
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %s", t.Name)
		}
		e := entry{tool: t}
		if len(t.Schema) > 0 {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(t.Schema))
			if err != nil {
				return nil, fmt.Errorf("compiling schema for %s: %w", t.Name, err)
			}
			e.schema = schema
		}
		r.tools[t.Name] = e
		r.names = append(r.names, t.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (Tool, bool) {
	e, ok := r.tools[name]
	return e.tool, ok
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Tools returns registered tools sorted by name.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.tools[n].tool)
	}
	return out
}

// ArgumentError reports arguments that parsed but failed the tool's schema.
type ArgumentError struct {
	Tool     string
	Problems []string
}

func (e *ArgumentError) Error() string {
	return "invalid_args: " + strings.Join(e.Problems, "; ")
}

// Validate checks raw JSON arguments against the named tool's schema.
// Tools without a schema accept any object.
func (r *Registry) Validate(name string, raw []byte) error {
	e, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("unknown tool %s", name)
	}
	if e.schema == nil {
		return nil
	}
	result, err := e.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &ArgumentError{Tool: name, Problems: []string{err.Error()}}
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		problems = append(problems, re.String())
	}
	return &ArgumentError{Tool: name, Problems: problems}
}
