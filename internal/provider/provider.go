// Package provider turns option lists into containers and hands out
// owner-bound handles for them.
package provider

import (
	"fmt"
	"sync"

	"github.com/tomatool/exam/internal/container"
	"github.com/tomatool/exam/internal/option"
)

// Provider turns configurations into containers.
//
// Parse validates and normalizes one option list, instantiates a container in
// state New per environment description and returns one handle per
// container. CreateContainer resolves a handle minted by the same provider.
type Provider interface {
	Parse(opts ...option.Option) ([]Handle, error)
	CreateContainer(h Handle) (container.Container, bool)
}

// Handle identifies a container registered with a Registry. It is comparable
// and only the registry that minted it can resolve it.
type Handle struct {
	owner *Registry
	id    uint64
	name  string
}

// Name returns the environment name the handle was registered under.
func (h Handle) Name() string { return h.name }

func (h Handle) String() string {
	return fmt.Sprintf("%s#%d", h.name, h.id)
}

// Registry maps handles to containers. It is append-only.
type Registry struct {
	mu         sync.RWMutex
	next       uint64
	containers map[Handle]container.Container
	order      []Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{containers: make(map[Handle]container.Container)}
}

// Register stores containers in order and returns their handles. Either all
// or none are registered.
func (r *Registry) Register(cs ...container.Container) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := make([]Handle, 0, len(cs))
	for _, c := range cs {
		r.next++
		h := Handle{owner: r, id: r.next, name: c.Name()}
		r.containers[h] = c
		r.order = append(r.order, h)
		handles = append(handles, h)
	}
	return handles
}

// Lookup returns the container for h. Unknown and foreign handles miss.
func (r *Registry) Lookup(h Handle) (container.Container, bool) {
	if h.owner != r {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.containers[h]
	return c, ok
}

// Handles returns every registered handle in registration order.
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Handle(nil), r.order...)
}

// Len returns the number of registered containers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
