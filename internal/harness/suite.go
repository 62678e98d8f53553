package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ScenarioResult is the outcome of one scenario file of a suite.
type ScenarioResult struct {
	Path   string  `json:"path"`
	Name   string  `json:"name"`
	Result *Result `json:"result,omitempty"`
	// Err is set when the scenario could not be loaded or run.
	Err error `json:"-"`
}

// Passed reports whether the scenario ran and every assertion held.
func (r ScenarioResult) Passed() bool {
	return r.Err == nil && r.Result != nil && r.Result.Pass
}

// SuiteResult aggregates the scenarios of a suite.
type SuiteResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
}

// OK reports whether every scenario passed.
func (s *SuiteResult) OK() bool { return s.Failed == 0 }

// FindScenarios returns the .yaml and .yml files under path, sorted. A
// file path is returned as is.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var files []string
	err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		switch filepath.Ext(p) {
		case ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no scenario files found in %s", path)
	}
	return files, nil
}

// RunSuite loads and runs every scenario under path. A scenario that
// fails to load or run is counted as failed; the suite continues.
func RunSuite(ctx context.Context, path string, opts ...Option) (*SuiteResult, error) {
	files, err := FindScenarios(path)
	if err != nil {
		return nil, err
	}
	return RunFiles(ctx, files, opts...)
}

// RunFiles runs the given scenario files in order. It stops early only
// when ctx ends.
func RunFiles(ctx context.Context, files []string, opts ...Option) (*SuiteResult, error) {
	suite := &SuiteResult{}
	for _, file := range files {
		sr := ScenarioResult{Path: file}
		scenario, err := LoadScenario(file)
		if err == nil {
			sr.Name = scenario.Name
			sr.Result, err = Run(ctx, scenario, opts...)
		}
		sr.Err = err
		if sr.Passed() {
			suite.Passed++
		} else {
			suite.Failed++
		}
		suite.Scenarios = append(suite.Scenarios, sr)
		if ctx.Err() != nil {
			return suite, ctx.Err()
		}
	}
	return suite, nil
}
