// Package schemac compiles CUE component schema declarations into
// schema.ComponentSchema values consumed by the validator registry.
//
// Schema files declare components under a top-level "component" struct:
//
//	component: Transform: {
//	    fields: {
//	        position: {type: "vec3", required: true}
//	        rotation: {type: "vec3"}
//	        scale:    {type: "vec3", default: [1.0, 1.0, 1.0]}
//	    }
//	}
package schemac

import (
	"fmt"
	"os"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/tidemark/strata/internal/ir"
	"github.com/tidemark/strata/internal/schema"
)

// CompileError reports a schema declaration problem with source position.
type CompileError struct {
	Component string
	Field     string
	Message   string
	Pos       token.Pos
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	where := e.Component
	if e.Field != "" {
		where = e.Component + "." + e.Field
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), where, e.Message)
	}
	return fmt.Sprintf("%s: %s", where, e.Message)
}

// CompileFile loads and compiles one CUE schema file.
func CompileFile(path string) ([]schema.Named, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return CompileBytes(path, data)
}

// CompileBytes compiles CUE schema source. The filename is used for
// positional diagnostics only.
func CompileBytes(filename string, src []byte) ([]schema.Named, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return Compile(v)
}

// Compile parses the top-level "component" struct of a CUE value into
// named component schemas, sorted by component name for determinism.
func Compile(v cue.Value) ([]schema.Named, error) {
	root := v.LookupPath(cue.ParsePath("component"))
	if !root.Exists() {
		return nil, &CompileError{
			Component: "component",
			Message:   "top-level 'component' struct is required",
			Pos:       v.Pos(),
		}
	}

	iter, err := root.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []schema.Named
	for iter.Next() {
		name := iter.Selector().String()
		compiled, err := compileComponent(name, iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, schema.Named{Name: name, Schema: compiled})
	}
	if len(out) == 0 {
		return nil, &CompileError{
			Component: "component",
			Message:   "at least one component is required",
			Pos:       root.Pos(),
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// compileComponent parses one component declaration.
func compileComponent(name string, v cue.Value) (schema.ComponentSchema, error) {
	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return schema.ComponentSchema{}, &CompileError{
			Component: name,
			Field:     "fields",
			Message:   "fields struct is required",
			Pos:       v.Pos(),
		}
	}

	iter, err := fieldsVal.Fields()
	if err != nil {
		return schema.ComponentSchema{}, formatCUEError(err)
	}

	var fields []schema.FieldSchema
	for iter.Next() {
		f, err := compileField(name, iter.Selector().String(), iter.Value())
		if err != nil {
			return schema.ComponentSchema{}, err
		}
		fields = append(fields, f)
	}

	// Declaration order in CUE structs is preserved by the iterator;
	// keep it so diagnostics are stable.
	return schema.ComponentSchema{Fields: fields}, nil
}

// compileField parses one field declaration.
func compileField(component, fieldName string, v cue.Value) (schema.FieldSchema, error) {
	f := schema.FieldSchema{Name: fieldName}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return schema.FieldSchema{}, &CompileError{
			Component: component,
			Field:     fieldName,
			Message:   "type is required",
			Pos:       v.Pos(),
		}
	}
	typeName, err := typeVal.String()
	if err != nil {
		return schema.FieldSchema{}, formatCUEError(err)
	}
	f.Type = schema.FieldType(typeName)
	if !schema.ValidFieldTypes[f.Type] {
		return schema.FieldSchema{}, &CompileError{
			Component: component,
			Field:     fieldName,
			Message:   fmt.Sprintf("invalid field type %q", typeName),
			Pos:       typeVal.Pos(),
		}
	}

	reqVal := v.LookupPath(cue.ParsePath("required"))
	if reqVal.Exists() {
		required, err := reqVal.Bool()
		if err != nil {
			return schema.FieldSchema{}, formatCUEError(err)
		}
		f.Required = required
	}

	defVal := v.LookupPath(cue.ParsePath("default"))
	if defVal.Exists() {
		def, err := decodeValue(component, fieldName, defVal)
		if err != nil {
			return schema.FieldSchema{}, err
		}
		// vec3 defaults are declared as three-element lists.
		if f.Type == schema.TypeVec3 {
			def, err = coerceVec3(component, fieldName, def, defVal.Pos())
			if err != nil {
				return schema.FieldSchema{}, err
			}
		}
		f.Default = def
	}

	return f, nil
}

// decodeValue converts a concrete CUE value into an ir.Value.
func decodeValue(component, fieldName string, v cue.Value) (ir.Value, error) {
	var raw any
	if err := v.Decode(&raw); err != nil {
		return nil, formatCUEError(err)
	}
	val, err := ir.FromGo(raw)
	if err != nil {
		return nil, &CompileError{
			Component: component,
			Field:     fieldName,
			Message:   fmt.Sprintf("invalid default: %v", err),
			Pos:       v.Pos(),
		}
	}
	return val, nil
}

// coerceVec3 converts a three-element numeric Array default into a Vec3.
func coerceVec3(component, fieldName string, val ir.Value, pos token.Pos) (ir.Value, error) {
	arr, ok := val.(ir.Array)
	if !ok || len(arr) != 3 {
		return nil, &CompileError{
			Component: component,
			Field:     fieldName,
			Message:   "vec3 default must be a three-element list",
			Pos:       pos,
		}
	}
	var vec ir.Vec3
	for i, elem := range arr {
		switch n := elem.(type) {
		case ir.Int:
			vec[i] = float64(n)
		case ir.Float:
			vec[i] = float64(n)
		default:
			return nil, &CompileError{
				Component: component,
				Field:     fieldName,
				Message:   "vec3 default elements must be numeric",
				Pos:       pos,
			}
		}
	}
	return vec, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return firstErr
}
