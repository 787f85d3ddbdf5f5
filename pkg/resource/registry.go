package resource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/harun/toolflow/pkg/toolcall"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Resource is an external collaborator reachable through one invocation contract
type Resource interface {
	Invoke(ctx context.Context, args map[string]interface{}) (toolcall.Outcome, error)
}

// Func adapts a plain function to Resource
type Func func(ctx context.Context, args map[string]interface{}) (toolcall.Outcome, error)

// Invoke calls f
func (f Func) Invoke(ctx context.Context, args map[string]interface{}) (toolcall.Outcome, error) {
	return f(ctx, args)
}

// Invoker dispatches an invocation by capability name
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]interface{}) (toolcall.Outcome, error)
}

// Parameter defines an argument accepted by a resource
type Parameter struct {
	Name        string      `json:"name" mapstructure:"name"`
	Type        string      `json:"type" mapstructure:"type"`
	Description string      `json:"description" mapstructure:"description"`
	Required    bool        `json:"required" mapstructure:"required"`
	Default     interface{} `json:"default,omitempty" mapstructure:"default"`
}

// Definition describes a resource and the capability name it answers to
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Resource    Resource    `json:"-"`
}

// Registry is the closed mapping from capability name to resource
type Registry struct {
	defs    map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		defs:    make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a resource. Names must be unique.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid resource definition: %w", err)
	}

	schema, err := generateSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("resource already registered: %s", def.Name)
	}

	r.defs[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Debug().Str("resource", def.Name).Int("parameters", len(def.Parameters)).Msg("Resource registered")

	return nil
}

// MustRegister is Register that panics on error, for static wiring at startup
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Get returns a resource definition by name
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defs[name]
}

// Has reports whether a resource is registered under name
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names returns registered resource names in lexical order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered resources
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// Invoke validates args and performs one invocation of the named resource.
// The caller bounds the attempt through ctx.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (toolcall.Outcome, error) {
	r.mu.RLock()
	def := r.defs[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if def == nil {
		return toolcall.Outcome{}, toolcall.NewCallError(toolcall.ErrUnknownCapability, name, "no resource registered")
	}

	if err := validateArguments(schema, args); err != nil {
		return toolcall.Outcome{}, toolcall.NewCallError(toolcall.ErrInvalidArguments, name, err.Error())
	}

	type result struct {
		outcome toolcall.Outcome
		err     error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				log.Error().Str("resource", name).Interface("panic", p).Msg("Resource panicked")
				done <- result{err: fmt.Errorf("resource %s panicked: %v", name, p)}
			}
		}()
		outcome, err := def.Resource.Invoke(ctx, args)
		done <- result{outcome: outcome, err: err}
	}()

	select {
	case res := <-done:
		return res.outcome, res.err
	case <-ctx.Done():
		return toolcall.Outcome{}, fmt.Errorf("resource %s: %w", name, ctx.Err())
	}
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return errors.New("resource name cannot be empty")
	}
	if def.Description == "" {
		return errors.New("resource description cannot be empty")
	}
	if def.Resource == nil {
		return errors.New("resource implementation cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return errors.New("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// generateSchema builds a JSON Schema from declared parameters. Resources
// without parameters accept any arguments.
func generateSchema(def Definition) (*gojsonschema.Schema, error) {
	if len(def.Parameters) == 0 {
		return nil, nil
	}

	properties := make(map[string]interface{}, len(def.Parameters))
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type": param.Type,
		}
		if param.Description != "" {
			paramSchema["description"] = param.Description
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func validateArguments(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("validation errors: %v", msgs)
	}

	return nil
}
