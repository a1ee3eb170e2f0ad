// ABOUTME: Registry of runtime adapters owned by a single collector
// ABOUTME: Enforces balanced registration and blocks changes during a pass

package participant

import (
	"fmt"
	"sort"
	"sync"

	"github.com/containerd/errdefs"

	"github.com/prateek/cyclecollector/graph"
)

// Registry holds the adapters registered with one collector
type Registry struct {
	mu       sync.RWMutex
	runtimes map[graph.RuntimeTag]Runtime
	sealed   bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		runtimes: make(map[graph.RuntimeTag]Runtime),
	}
}

// Register adds rt under tag. It fails if the tag is taken or a
// collection is running.
func (r *Registry) Register(tag graph.RuntimeTag, rt Runtime) error {
	if rt == nil {
		return fmt.Errorf("runtime %d: %w", tag, errdefs.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register runtime %d during collection: %w", tag, errdefs.ErrFailedPrecondition)
	}
	if _, ok := r.runtimes[tag]; ok {
		return fmt.Errorf("runtime %d: %w", tag, errdefs.ErrAlreadyExists)
	}
	r.runtimes[tag] = rt
	return nil
}

// Deregister removes the adapter registered under tag
func (r *Registry) Deregister(tag graph.RuntimeTag) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("deregister runtime %d during collection: %w", tag, errdefs.ErrFailedPrecondition)
	}
	if _, ok := r.runtimes[tag]; !ok {
		return fmt.Errorf("runtime %d: %w", tag, errdefs.ErrNotFound)
	}
	delete(r.runtimes, tag)
	return nil
}

// Lookup returns the adapter registered under tag
func (r *Registry) Lookup(tag graph.RuntimeTag) (Runtime, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[tag]
	return rt, ok
}

// Len returns the number of registered adapters
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runtimes)
}

// Tags returns the registered tags in ascending order
func (r *Registry) Tags() []graph.RuntimeTag {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]graph.RuntimeTag, 0, len(r.runtimes))
	for tag := range r.runtimes {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Seal refuses registration changes until Unseal is called
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Unseal allows registration changes again
func (r *Registry) Unseal() {
	r.mu.Lock()
	r.sealed = false
	r.mu.Unlock()
}
