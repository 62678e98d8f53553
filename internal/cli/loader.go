package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/TomKopp/KP-WME-sub000/internal/compiler"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// LoadResult contains the descriptors loaded from a set of paths.
type LoadResult struct {
	Descriptors []ir.Descriptor
	Files       []string
}

// LoadError is a descriptor loading problem tagged with a CLI error code.
type LoadError struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Pos     token.Pos `json:"-"`
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error code constants, shared by all commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files or no components found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeDuplicate   = "E007" // Component declared in two files

	// Descriptor compile errors. Validation errors keep the compiler's
	// E1xx codes.
	ErrCodeFieldType    = "E110" // name/ui/migratable/list field of the wrong kind
	ErrCodePropertyType = "E111" // unreadable property declaration
)

// LoadDescriptorPaths loads every descriptor below paths. Errors are
// collected and converted to LoadErrors.
func LoadDescriptorPaths(paths ...string) (*LoadResult, []error) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("descriptor path not found: %s", p)}}
			}
			return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing %s: %v", p, err)}}
		}
	}

	files, expandErrs := compiler.ExpandPaths(paths...)
	if len(expandErrs) > 0 {
		return nil, convertErrors(expandErrs)
	}

	descs, errs := compiler.LoadDescriptors(paths...)
	result := &LoadResult{Descriptors: descs, Files: files}
	if len(descs) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoFiles, Message: "no components declared"})
	}
	return result, convertErrors(errs)
}

func convertErrors(errs []error) []error {
	out := make([]error, 0, len(errs))
	for _, err := range errs {
		out = append(out, convertError(err))
	}
	return out
}

// convertError tags a compiler error with its CLI code.
func convertError(err error) error {
	var (
		le  *LoadError
		ce  *compiler.CompileError
		cle *compiler.LoadError
		ve  compiler.ValidationError
	)
	switch {
	case errors.As(err, &le):
		return le
	case errors.As(err, &ve):
		return &LoadError{Code: ve.Code, Message: fmt.Sprintf("%s: %s", ve.Field, ve.Message)}
	case errors.As(err, &ce):
		return &LoadError{Code: MapFieldToErrorCode(ce.Field), Message: fmt.Sprintf("%s: %s", ce.Field, ce.Message), Pos: ce.Pos}
	case errors.As(err, &cle):
		return &LoadError{Code: mapLoadMessage(cle.Message), Message: cle.Error()}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// MapFieldToErrorCode maps a compile error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "cue":
		return ErrCodeBuildFailed
	case field == "component":
		return compiler.ErrComponentIDInvalid
	case field == "type", strings.HasPrefix(field, "properties."):
		return ErrCodePropertyType
	case field == "":
		return ErrCodeGeneric
	}
	return ErrCodeFieldType
}

func mapLoadMessage(msg string) string {
	switch {
	case strings.HasPrefix(msg, "no CUE files"):
		return ErrCodeNoFiles
	case strings.HasPrefix(msg, "scanning directory"):
		return ErrCodeScanError
	case strings.Contains(msg, "already declared"):
		return ErrCodeDuplicate
	case strings.HasPrefix(msg, "loading CUE files"), strings.HasPrefix(msg, "no CUE instances"):
		return ErrCodeLoadFailed
	}
	return ErrCodeGeneric
}
