package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// LoadError reports a descriptor source that could not be read or built.
type LoadError struct {
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Load builds the CUE value of one descriptor file.
func Load(path string) (cue.Value, error) {
	if _, err := os.Stat(path); err != nil {
		return cue.Value{}, &LoadError{Path: path, Message: err.Error()}
	}

	cfg := &load.Config{Dir: filepath.Dir(path)}
	instances := load.Instances([]string{filepath.Base(path)}, cfg)
	if len(instances) == 0 {
		return cue.Value{}, &LoadError{Path: path, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, &LoadError{Path: path, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := cuecontext.New().BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return value, nil
}

// ExpandPaths replaces every directory in paths with the .cue files below
// it.
func ExpandPaths(paths ...string) ([]string, []error) {
	var (
		files []string
		errs  []error
	)
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			errs = append(errs, &LoadError{Path: path, Message: err.Error()})
			continue
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		found, err := FindCUEFiles(path)
		if err != nil {
			errs = append(errs, &LoadError{Path: path, Message: fmt.Sprintf("scanning directory: %v", err)})
			continue
		}
		if len(found) == 0 {
			errs = append(errs, &LoadError{Path: path, Message: "no CUE files found"})
			continue
		}
		files = append(files, found...)
	}
	return files, errs
}

// LoadDescriptors loads, compiles and validates the descriptors of every
// file, or every .cue file below a directory, in order. A component id
// may be declared only once. All problems are collected; descriptors that
// failed are left out.
func LoadDescriptors(paths ...string) ([]ir.Descriptor, []error) {
	files, errs := ExpandPaths(paths...)
	var descs []ir.Descriptor
	seen := make(map[string]string)
	for _, path := range files {
		v, err := Load(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		compiled, compileErrs := CompileDescriptors(v)
		errs = append(errs, compileErrs...)
		for _, d := range compiled {
			if prev, ok := seen[d.ComponentID]; ok {
				errs = append(errs, &LoadError{Path: path, Message: fmt.Sprintf("component %q already declared in %s", d.ComponentID, prev)})
				continue
			}
			if verrs := Validate(&d); len(verrs) > 0 {
				for _, ve := range verrs {
					errs = append(errs, ve)
				}
				continue
			}
			seen[d.ComponentID] = path
			descs = append(descs, d)
		}
	}
	return descs, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths,
// sorted.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}
