package manager

import (
	"context"
	"maps"
	"sync"

	"github.com/TomKopp/KP-WME-sub000/internal/container"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// Mark is one checkmark of an integration job.
type Mark string

const (
	MarkResources      Mark = "RESOURCES"
	MarkInstantiation  Mark = "INSTANTIATION"
	MarkCoupling       Mark = "COUPLING"
	MarkInitialization Mark = "INITIALIZATION"
)

// Marks lists every checkmark in phase order.
var Marks = []Mark{MarkResources, MarkInstantiation, MarkCoupling, MarkInitialization}

// BatchItem is one component to integrate with its instance configuration.
type BatchItem struct {
	Item   ir.ComponentItem
	Config ir.Object
}

// Batch is a set of components integrated together.
type Batch struct {
	Items []BatchItem
	// Channels are registered as part of the batch before coupling.
	Channels []ChannelSpec
	// States turns the batch into a migration batch: every container is
	// recovered from the state keyed by its instance id instead of having
	// its configured properties applied.
	States map[string]ir.MigratedState
}

// Kind reports the integration kind the components are initialized with.
func (b Batch) Kind() container.IntegrationKind {
	if b.States != nil {
		return container.KindMigration
	}
	return container.KindFresh
}

// IntegrationJob tracks one batch integration.
//
// Thread-safety: all methods are safe for concurrent use.
type IntegrationJob struct {
	ID string

	done chan struct{}

	mu         sync.Mutex
	marks      map[Mark]bool
	containers []*container.Container
	failures   map[string]error
	reports    map[string]container.InjectionReport
	err        error
}

func newJob(id string) *IntegrationJob {
	return &IntegrationJob{
		ID:       id,
		done:     make(chan struct{}),
		marks:    make(map[Mark]bool, len(Marks)),
		failures: make(map[string]error),
		reports:  make(map[string]container.InjectionReport),
	}
}

// Check sets a mark. It reports whether the mark was newly set; checking a
// mark twice has no further effect.
func (j *IntegrationJob) Check(m Mark) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.marks[m] {
		return false
	}
	j.marks[m] = true
	return true
}

// Checked reports whether a mark is set.
func (j *IntegrationJob) Checked(m Mark) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.marks[m]
}

// Complete reports whether all four marks are set.
func (j *IntegrationJob) Complete() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, m := range Marks {
		if !j.marks[m] {
			return false
		}
	}
	return true
}

func (j *IntegrationJob) missing() []Mark {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Mark
	for _, m := range Marks {
		if !j.marks[m] {
			out = append(out, m)
		}
	}
	return out
}

func (j *IntegrationJob) fail(instanceID string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, exists := j.failures[instanceID]; !exists {
		j.failures[instanceID] = err
	}
}

func (j *IntegrationJob) failed(instanceID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.failures[instanceID]
	return ok
}

func (j *IntegrationJob) setReport(instanceID string, r container.InjectionReport) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.reports[instanceID] = r
}

// Done is closed when the job has completed or failed.
func (j *IntegrationJob) Done() <-chan struct{} { return j.done }

// Wait blocks until the job settles or ctx is done. It returns nil only
// for a complete job.
func (j *IntegrationJob) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Containers returns the containers of a completed job in batch order.
func (j *IntegrationJob) Containers() []*container.Container {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*container.Container(nil), j.containers...)
}

// Failures returns the per-instance failures recorded so far.
func (j *IntegrationJob) Failures() map[string]error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return maps.Clone(j.failures)
}

// Reports returns the injection reports of a migration batch by instance id.
func (j *IntegrationJob) Reports() map[string]container.InjectionReport {
	j.mu.Lock()
	defer j.mu.Unlock()
	return maps.Clone(j.reports)
}
