// Package schema validates untyped patch payloads against declared
// component schemas before they can reach the backing store.
package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tidemark/strata/internal/ir"
)

// FieldType enumerates the declarable field types.
type FieldType string

const (
	TypeBool   FieldType = "bool"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeString FieldType = "string"
	TypeVec3   FieldType = "vec3"
	TypeArray  FieldType = "array"
	TypeObject FieldType = "object"
	TypeAny    FieldType = "any"
)

// ValidFieldTypes defines the allowed field type names.
var ValidFieldTypes = map[FieldType]bool{
	TypeBool:   true,
	TypeInt:    true,
	TypeFloat:  true,
	TypeString: true,
	TypeVec3:   true,
	TypeArray:  true,
	TypeObject: true,
	TypeAny:    true,
}

// FieldSchema declares one component field.
type FieldSchema struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Default  ir.Value  `json:"default,omitempty"`
}

// ComponentSchema declares the fields of one component. Fields are kept in
// declaration order so diagnostics are deterministic.
type ComponentSchema struct {
	Fields []FieldSchema `json:"fields"`
}

// Field returns the schema for the named field, if declared.
func (s ComponentSchema) Field(name string) (FieldSchema, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSchema{}, false
}

// Named pairs a component name with its schema, used by the compiler and
// bulk registration.
type Named struct {
	Name   string
	Schema ComponentSchema
}

// Registry holds the component name to schema mapping.
//
// Registration is safe from any goroutine. Re-registering an existing name
// replaces the schema and applies only to subsequently validated patches -
// there is no retroactive re-validation.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]ComponentSchema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]ComponentSchema)}
}

// Register installs or replaces the schema for a component name.
func (r *Registry) Register(name string, s ComponentSchema) error {
	if name == "" {
		return fmt.Errorf("register schema: empty component name")
	}
	for _, f := range s.Fields {
		if !ValidFieldTypes[f.Type] {
			return fmt.Errorf("register schema %q: field %q has invalid type %q", name, f.Name, f.Type)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[name] = s
	return nil
}

// Lookup returns the schema for a component name.
func (r *Registry) Lookup(name string) (ComponentSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Names returns the registered component names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
