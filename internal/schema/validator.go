package schema

import (
	"fmt"

	"github.com/tidemark/strata/internal/ir"
)

// Validator checks patch payloads against the registry.
//
// Validation is pure and side-effect free: it never mutates the patch and
// holds no per-patch state. The payload bounds check runs before any
// schema lookup so a pathological payload can never reach field checking.
type Validator struct {
	registry   *Registry
	bounds     ir.Bounds
	permissive bool
}

// ValidatorOption configures a Validator.
type ValidatorOption func(*Validator)

// WithBounds overrides the payload bounds (default ir.DefaultBounds).
func WithBounds(b ir.Bounds) ValidatorOption {
	return func(v *Validator) { v.bounds = b }
}

// Permissive makes unknown component names pass validation instead of
// failing with UnknownComponent. Escape hatch for Custom-style components
// that carry opaque data; known components are still fully checked.
func Permissive(on bool) ValidatorOption {
	return func(v *Validator) { v.permissive = on }
}

// NewValidator creates a Validator over the given registry.
func NewValidator(registry *Registry, opts ...ValidatorOption) *Validator {
	v := &Validator{
		registry: registry,
		bounds:   ir.DefaultBounds,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidatePatch validates a patch payload. Component patches are checked
// against their declared schema; other families get the payload bounds
// check only (their payloads are store-interpreted, not schema-typed).
func (v *Validator) ValidatePatch(p ir.Patch) error {
	if err := v.checkPayloads(p); err != nil {
		return err
	}

	switch kind := p.Kind.(type) {
	case ir.ComponentPatch:
		return v.validateComponent(kind)
	case ir.EntityPatch:
		// Initial components on create are validated like full sets.
		if kind.Op.Kind == ir.EntityCreate {
			for name, data := range kind.Op.Components {
				if err := v.ValidateComponent(name, data); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return nil
	}
}

// validateComponent dispatches on the component op kind.
func (v *Validator) validateComponent(p ir.ComponentPatch) error {
	switch p.Op.Kind {
	case ir.ComponentSet:
		return v.ValidateComponent(p.Component, p.Op.Data)
	case ir.ComponentUpdate:
		return v.ValidateUpdate(p.Component, p.Op.Fields)
	default:
		// Remove carries no payload to check.
		return nil
	}
}

// ValidateComponent checks a full component write: every required field
// must be present with its declared type, and present fields must match
// their declared types.
func (v *Validator) ValidateComponent(name string, data ir.Object) error {
	s, ok := v.registry.Lookup(name)
	if !ok {
		if v.permissive {
			return nil
		}
		return &ValidationError{
			Kind:      KindUnknownComponent,
			Component: name,
			Message:   "no schema registered for component",
		}
	}

	for _, f := range s.Fields {
		val, present := data[f.Name]
		if !present {
			if f.Required {
				return &ValidationError{
					Kind:      KindMissingField,
					Component: name,
					Field:     f.Name,
					Message:   "required field is missing",
				}
			}
			continue
		}
		if err := checkType(name, f, val); err != nil {
			return err
		}
	}
	return nil
}

// ValidateUpdate checks a partial component write: only the listed fields
// are type-checked. Requiredness is NOT enforced - an update is partial by
// definition.
func (v *Validator) ValidateUpdate(name string, fields ir.Object) error {
	s, ok := v.registry.Lookup(name)
	if !ok {
		if v.permissive {
			return nil
		}
		return &ValidationError{
			Kind:      KindUnknownComponent,
			Component: name,
			Message:   "no schema registered for component",
		}
	}

	for fieldName, val := range fields {
		f, declared := s.Field(fieldName)
		if !declared {
			// Undeclared fields pass through; the schema constrains the
			// declared surface, not the whole object.
			continue
		}
		if err := checkType(name, f, val); err != nil {
			return err
		}
	}
	return nil
}

// checkPayloads runs the bounds check over every Value the patch carries.
func (v *Validator) checkPayloads(p ir.Patch) error {
	for _, payload := range payloadsOf(p) {
		if err := ir.CheckBounds(payload, v.bounds); err != nil {
			return &ValidationError{
				Kind:    KindPayloadTooLarge,
				Message: err.Error(),
			}
		}
	}
	return nil
}

// payloadsOf collects the Value payloads carried by a patch.
func payloadsOf(p ir.Patch) []ir.Value {
	switch kind := p.Kind.(type) {
	case ir.EntityPatch:
		var out []ir.Value
		for _, obj := range kind.Op.Components {
			out = append(out, obj)
		}
		return out
	case ir.ComponentPatch:
		var out []ir.Value
		if kind.Op.Data != nil {
			out = append(out, kind.Op.Data)
		}
		if kind.Op.Fields != nil {
			out = append(out, kind.Op.Fields)
		}
		return out
	case ir.LayerPatch:
		if kind.Op.Value != nil {
			return []ir.Value{kind.Op.Value}
		}
	case ir.AssetPatch:
		if kind.Op.Data != nil {
			return []ir.Value{kind.Op.Data}
		}
	case ir.CameraPatch:
		if kind.Op.Data != nil {
			return []ir.Value{kind.Op.Data}
		}
	}
	return nil
}

// checkType verifies one field value against its declared type.
func checkType(component string, f FieldSchema, val ir.Value) error {
	if f.Type == TypeAny {
		return nil
	}

	ok := false
	switch val.(type) {
	case ir.Bool:
		ok = f.Type == TypeBool
	case ir.Int:
		ok = f.Type == TypeInt
	case ir.Float:
		ok = f.Type == TypeFloat
	case ir.String:
		ok = f.Type == TypeString
	case ir.Vec3:
		ok = f.Type == TypeVec3
	case ir.Array:
		ok = f.Type == TypeArray
	case ir.Object:
		ok = f.Type == TypeObject
	case ir.Null:
		// Null satisfies no concrete type; optional absence is expressed
		// by omitting the field, not by writing null.
		ok = false
	}
	if !ok {
		return &ValidationError{
			Kind:      KindTypeMismatch,
			Component: component,
			Field:     f.Name,
			Message:   fmt.Sprintf("expected %s, got %T", f.Type, val),
		}
	}
	return nil
}
