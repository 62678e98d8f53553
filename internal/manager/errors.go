package manager

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	// ErrUnknownChannel is returned when publishing on a channel that is
	// not registered.
	ErrUnknownChannel = errors.New("manager: unknown channel")

	// ErrEmptyBatch is returned when integrating a batch without items.
	ErrEmptyBatch = errors.New("manager: empty batch")
)

// IntegrationError reports an integration job that did not complete.
// Failures maps instance ids to the error that took the container out of
// the batch.
type IntegrationError struct {
	JobID           string
	TimedOut        bool
	Missing         []Mark
	MissingChannels []string
	Failures        map[string]error
}

func (e *IntegrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "integration job %s", e.JobID)
	if e.TimedOut {
		b.WriteString(" timed out")
	} else {
		b.WriteString(" failed")
	}
	if len(e.Missing) > 0 {
		marks := make([]string, len(e.Missing))
		for i, m := range e.Missing {
			marks[i] = string(m)
		}
		fmt.Fprintf(&b, ": missing %s", strings.Join(marks, ","))
	}
	if len(e.MissingChannels) > 0 {
		fmt.Fprintf(&b, "; channels not registered: %s", strings.Join(e.MissingChannels, ","))
	}
	if len(e.Failures) > 0 {
		ids := make([]string, 0, len(e.Failures))
		for id := range e.Failures {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			fmt.Fprintf(&b, "; %s: %v", id, e.Failures[id])
		}
	}
	return b.String()
}

// Unwrap exposes the per-container failures to errors.Is and errors.As.
func (e *IntegrationError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		out = append(out, err)
	}
	return out
}

// IsIntegrationTimeout reports whether err is an IntegrationError caused by
// the job timeout.
func IsIntegrationTimeout(err error) bool {
	var ie *IntegrationError
	return errors.As(err, &ie) && ie.TimedOut
}
