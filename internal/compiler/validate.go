package compiler

import (
	"fmt"
	"regexp"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation

	ErrComponentIDInvalid  = "E101" // component id missing or malformed
	ErrDuplicateName       = "E102" // duplicate property, channel or operation
	ErrInvalidPropertyType = "E103" // invalid type string
	ErrDefaultTypeMismatch = "E104" // default does not match declared type
	ErrEmptyName           = "E105" // empty property, channel or operation name
	ErrFloatTypeForbidden  = "E106" // float types not allowed
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates compiled descriptors against schema rules.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch d := v.(type) {
	case *ir.Descriptor:
		return validateDescriptor(d)
	case ir.Descriptor:
		return validateDescriptor(&d)
	case []ir.Descriptor:
		var errs []ValidationError
		seen := make(map[string]bool, len(d))
		for i := range d {
			if seen[d[i].ComponentID] {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("component.%s", d[i].ComponentID),
					Message: fmt.Sprintf("duplicate component id: %q", d[i].ComponentID),
					Code:    ErrDuplicateName,
				})
			}
			seen[d[i].ComponentID] = true
			errs = append(errs, validateDescriptor(&d[i])...)
		}
		return errs
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

// componentIDPattern matches ids usable as CUE labels and URL segments.
var componentIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.-]*$`)

func validateDescriptor(d *ir.Descriptor) []ValidationError {
	var errs []ValidationError
	prefix := "component." + d.ComponentID

	if !componentIDPattern.MatchString(d.ComponentID) {
		errs = append(errs, ValidationError{
			Field:   "component",
			Message: fmt.Sprintf("invalid component id %q", d.ComponentID),
			Code:    ErrComponentIDInvalid,
		})
	}

	errs = append(errs, validateNames(prefix+".channels", "channel", d.Channels)...)
	errs = append(errs, validateNames(prefix+".operations", "operation", d.Operations)...)

	names := make([]string, len(d.Properties))
	for i, p := range d.Properties {
		names[i] = p.Name
	}
	errs = append(errs, validateNames(prefix+".properties", "property", names)...)

	for i, p := range d.Properties {
		field := fmt.Sprintf("%s.properties[%d]", prefix, i)
		if isFloatType(p.Type) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("float type forbidden for property %q, use int instead", p.Name),
				Code:    ErrFloatTypeForbidden,
			})
			continue
		}
		if !isValidType(p.Type) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("invalid type %q for property %q", p.Type, p.Name),
				Code:    ErrInvalidPropertyType,
			})
			continue
		}
		if p.Default != nil && !matchesType(p.Default, p.Type) {
			errs = append(errs, ValidationError{
				Field:   field + ".default",
				Message: fmt.Sprintf("default of property %q is not of type %s", p.Name, p.Type),
				Code:    ErrDefaultTypeMismatch,
			})
		}
	}
	return errs
}

func validateNames(field, kind string, names []string) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool, len(names))
	for i, n := range names {
		if n == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Message: kind + " name must be non-empty",
				Code:    ErrEmptyName,
			})
			continue
		}
		if seen[n] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Message: fmt.Sprintf("duplicate %s name: %q", kind, n),
				Code:    ErrDuplicateName,
			})
		}
		seen[n] = true
	}
	return errs
}

// isValidType checks if a type string is a valid property type.
func isValidType(t string) bool {
	switch t {
	case "string", "int", "bool", "array", "object":
		return true
	}
	return false
}

// isFloatType checks if a type string represents a float type.
func isFloatType(t string) bool {
	switch t {
	case "float", "float32", "float64", "number", "double":
		return true
	}
	return false
}

// matchesType reports whether v fits the declared type. Null fits any.
func matchesType(v ir.Value, t string) bool {
	switch v.(type) {
	case ir.Null:
		return true
	case ir.String:
		return t == "string"
	case ir.Int:
		return t == "int"
	case ir.Bool:
		return t == "bool"
	case ir.Array:
		return t == "array"
	case ir.Object:
		return t == "object"
	}
	return false
}
