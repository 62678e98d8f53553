package node

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/TomKopp/KP-WME-sub000/internal/container"
	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

var (
	// ErrUnknownInstance is returned when no visible container has the
	// requested instance id.
	ErrUnknownInstance = errors.New("node: unknown component instance")

	// ErrDuplicateInstance is returned when attaching a container whose
	// instance id is already visible.
	ErrDuplicateInstance = errors.New("node: duplicate component instance")

	// ErrUnknownComponent is returned for a component id missing from the
	// descriptor catalog.
	ErrUnknownComponent = errors.New("node: unknown component")
)

// Option configures a RuntimeContext.
type Option func(*RuntimeContext)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *RuntimeContext) { r.log = l }
}

// WithJournal makes the history persist every transaction change.
func WithJournal(j Journal) Option {
	return func(r *RuntimeContext) { r.journal = j }
}

// WithHistorySeq makes the history continue numbering after seq, usually
// the last sequence number found in the journal.
func WithHistorySeq(seq int64) Option {
	return func(r *RuntimeContext) { r.startSeq = seq }
}

// WithNotificationBacklog sets how many notifications are retained for
// late subscribers. Default: 256.
func WithNotificationBacklog(n int) Option {
	return func(r *RuntimeContext) { r.backlog = n }
}

// RuntimeContext is the state shared by every subsystem of one runtime.
//
// Thread-safety: all methods are safe for concurrent use.
type RuntimeContext struct {
	id      string
	log     *slog.Logger
	journal  Journal
	startSeq int64
	backlog  int

	mu         sync.RWMutex
	containers map[string]*container.Container
	catalog    map[string]ir.Descriptor

	history  *History
	notifier *Notifier
}

// New creates the context of the runtime identified by id.
func New(id string, opts ...Option) *RuntimeContext {
	r := &RuntimeContext{
		id:         id,
		log:        slog.Default(),
		backlog:    256,
		containers: make(map[string]*container.Container),
		catalog:    make(map[string]ir.Descriptor),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With("runtime", id)
	r.history = newHistory(r.journal, r.log)
	r.history.seq = r.startSeq
	r.notifier = newNotifier(r.backlog, r.log)
	return r
}

// ID returns the runtime id migrations address this runtime by.
func (r *RuntimeContext) ID() string { return r.id }

// Logger returns the runtime-scoped logger.
func (r *RuntimeContext) Logger() *slog.Logger { return r.log }

// History returns the migration history.
func (r *RuntimeContext) History() *History { return r.history }

// Notifier returns the notification feed.
func (r *RuntimeContext) Notifier() *Notifier { return r.notifier }

// Notify publishes a user-visible notification.
func (r *RuntimeContext) Notify(level ir.NotificationLevel, txID, instanceID, msg string) ir.Notification {
	return r.notifier.Notify(level, txID, instanceID, msg)
}

// RegisterDescriptor adds or replaces a catalog entry.
func (r *RuntimeContext) RegisterDescriptor(d ir.Descriptor) error {
	if d.ComponentID == "" {
		return errors.New("node: descriptor without component id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalog[d.ComponentID] = d
	return nil
}

// Descriptor looks up a catalog entry.
func (r *RuntimeContext) Descriptor(componentID string) (ir.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.catalog[componentID]
	return d, ok
}

// Descriptors returns the catalog sorted by component id.
func (r *RuntimeContext) Descriptors() []ir.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ir.Descriptor, 0, len(r.catalog))
	for _, d := range r.catalog {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b ir.Descriptor) int {
		return strings.Compare(a.ComponentID, b.ComponentID)
	})
	return out
}

// Attach makes a set of containers visible at once. Either all of them
// become visible or, on an instance id collision, none does.
func (r *RuntimeContext) Attach(cs ...*container.Container) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cs {
		if _, exists := r.containers[c.Item().InstanceID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateInstance, c.Item())
		}
	}
	for _, c := range cs {
		r.containers[c.Item().InstanceID] = c
	}
	return nil
}

// Detach removes a container from the visible set and returns it.
func (r *RuntimeContext) Detach(instanceID string) (*container.Container, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[instanceID]
	if ok {
		delete(r.containers, instanceID)
	}
	return c, ok
}

// Container returns the visible container for an instance id.
func (r *RuntimeContext) Container(instanceID string) (*container.Container, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.containers[instanceID]
	return c, ok
}

// Lookup resolves a component item to its visible container. The
// component id must match as well as the instance id.
func (r *RuntimeContext) Lookup(item ir.ComponentItem) (*container.Container, error) {
	c, ok := r.Container(item.InstanceID)
	if !ok || c.Item().ComponentID != item.ComponentID {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, item)
	}
	return c, nil
}

// Containers returns every visible container sorted by instance id.
func (r *RuntimeContext) Containers() []*container.Container {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*container.Container, 0, len(r.containers))
	for _, c := range r.containers {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b *container.Container) int {
		return strings.Compare(a.Item().InstanceID, b.Item().InstanceID)
	})
	return out
}
