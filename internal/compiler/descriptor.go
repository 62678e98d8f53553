// Package compiler turns CUE component descriptors into ir.Descriptor
// values.
//
// A descriptor file declares components under the top-level "component"
// struct, keyed by component id:
//
//	component: map: {
//		name:       "Map"
//		ui:         true
//		migratable: true
//		channels: ["geo"]
//		operations: ["moveTo"]
//		properties: {
//			zoom:   int | *3
//			center: {lat: int, lng: int}
//		}
//	}
//
// Property types are inferred from the CUE kind. A CUE default or a
// concrete value becomes the property default. Properties keep their
// declaration order, which is the checkpoint order.
package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// CompileDescriptors compiles every component declared under the
// "component" struct of v. Compilation continues past failing components;
// the returned errors are in declaration order.
func CompileDescriptors(v cue.Value) ([]ir.Descriptor, []error) {
	componentsVal := v.LookupPath(cue.ParsePath("component"))
	if !componentsVal.Exists() {
		return nil, nil
	}
	iter, err := componentsVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var (
		descs []ir.Descriptor
		errs  []error
	)
	for iter.Next() {
		desc, err := CompileDescriptor(iter.Label(), iter.Value())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		descs = append(descs, *desc)
	}
	return descs, errs
}

// CompileDescriptor compiles one component declaration.
func CompileDescriptor(id string, v cue.Value) (*ir.Descriptor, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if id == "" {
		return nil, &CompileError{Field: "component", Message: "component id is required", Pos: v.Pos()}
	}

	desc := &ir.Descriptor{ComponentID: id, Name: id}

	var err error
	if desc.Name, err = optionalString(v, "name", id); err != nil {
		return nil, err
	}
	if desc.UI, err = optionalBool(v, "ui"); err != nil {
		return nil, err
	}
	if desc.Migratable, err = optionalBool(v, "migratable"); err != nil {
		return nil, err
	}
	if desc.Resources, err = stringList(v, "resources"); err != nil {
		return nil, err
	}
	if desc.Channels, err = stringList(v, "channels"); err != nil {
		return nil, err
	}
	if desc.Operations, err = stringList(v, "operations"); err != nil {
		return nil, err
	}
	if desc.Properties, err = parseProperties(v); err != nil {
		return nil, err
	}
	return desc, nil
}

func optionalString(v cue.Value, field, fallback string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return fallback, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: "must be a string", Pos: fv.Pos()}
	}
	return s, nil
}

func optionalBool(v cue.Value, field string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, &CompileError{Field: field, Message: "must be a bool", Pos: fv.Pos()}
	}
	return b, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list of strings", Pos: fv.Pos()}
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("%s[%d]", field, len(out)),
				Message: "must be a string",
				Pos:     iter.Value().Pos(),
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// parseProperties extracts the interface properties in declaration order.
func parseProperties(v cue.Value) ([]ir.PropertyDecl, error) {
	propsVal := v.LookupPath(cue.ParsePath("properties"))
	if !propsVal.Exists() {
		return nil, nil
	}
	iter, err := propsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var props []ir.PropertyDecl
	for iter.Next() {
		name := iter.Label()
		pv := iter.Value()

		typ, err := extractTypeName(pv)
		if err != nil {
			var ce *CompileError
			if errors.As(err, &ce) {
				ce.Field = "properties." + name
			}
			return nil, err
		}
		decl := ir.PropertyDecl{Name: name, Type: typ}

		def, err := extractDefault(pv)
		if err != nil {
			return nil, &CompileError{Field: "properties." + name, Message: err.Error(), Pos: pv.Pos()}
		}
		decl.Default = def

		props = append(props, decl)
	}
	return props, nil
}

// extractDefault returns the CUE default of a property, or its value when
// it is concrete. Nil means no default.
func extractDefault(v cue.Value) (ir.Value, error) {
	if d, ok := v.Default(); ok {
		v = d
	}
	if v.Validate(cue.Concrete(true)) != nil {
		return nil, nil
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return ir.DecodeValue(data)
}

// extractTypeName converts a CUE kind to a property type. Floats are
// forbidden.
func extractTypeName(v cue.Value) (string, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		return "string", nil
	case cue.IntKind:
		return "int", nil
	case cue.BoolKind:
		return "bool", nil
	case cue.ListKind:
		return "array", nil
	case cue.StructKind:
		return "object", nil
	case cue.FloatKind, cue.NumberKind:
		return "", &CompileError{
			Field:   "type",
			Message: "float types are forbidden, use int instead",
			Pos:     v.Pos(),
		}
	default:
		return "", &CompileError{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
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
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
