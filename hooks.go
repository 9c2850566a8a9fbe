package assetsync

import (
	"sync"

	"github.com/agentstation/assetsync/pkg/reconciler"
	"github.com/agentstation/assetsync/pkg/tree"
)

// Compile-time interface check to ensure proper implementation.
var _ Hooks = (*client)(nil)

// Hooks registers callbacks for confirmed registry changes.
type Hooks interface {
	OnResourceAdded(fn ResourceAddedHook)
	OnResourceUpdated(fn ResourceUpdatedHook)
	OnResourceRemoved(fn ResourceRemovedHook)
}

// Hook function types for resource events
type (
	// ResourceAddedHook is called when a resource is registered
	ResourceAddedHook func(entry tree.Entry)

	// ResourceUpdatedHook is called when a registered resource is updated
	ResourceUpdatedHook func(old, new tree.Entry)

	// ResourceRemovedHook is called when a resource is unregistered
	ResourceRemovedHook func(entry tree.Entry)
)

// hooks manages event callbacks for registry changes
type hooks struct {
	mu                sync.RWMutex
	onResourceAdded   []ResourceAddedHook
	onResourceUpdated []ResourceUpdatedHook
	onResourceRemoved []ResourceRemovedHook
}

// newHooks creates a new hooks instance
func newHooks() *hooks {
	return &hooks{}
}

// OnResourceAdded registers a callback for when resources are added.
func (c *client) OnResourceAdded(fn ResourceAddedHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onResourceAdded = append(c.hooks.onResourceAdded, fn)
}

// OnResourceUpdated registers a callback for when resources are updated.
func (c *client) OnResourceUpdated(fn ResourceUpdatedHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onResourceUpdated = append(c.hooks.onResourceUpdated, fn)
}

// OnResourceRemoved registers a callback for when resources are removed.
func (c *client) OnResourceRemoved(fn ResourceRemovedHook) {
	c.hooks.mu.Lock()
	defer c.hooks.mu.Unlock()
	c.hooks.onResourceRemoved = append(c.hooks.onResourceRemoved, fn)
}

// trigger fires the hooks for every confirmed change of a finished cycle.
// It is installed as a reconciler.Observer.
func (h *hooks) trigger(res *reconciler.Result) {
	if res.Applied == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, e := range res.Applied.Added {
		for _, hook := range h.onResourceAdded {
			hook(e)
		}
	}

	// Previous state of updated entries comes from the changeset
	previous := make(map[string]tree.Entry)
	if res.Changeset != nil {
		for _, u := range res.Changeset.Updated {
			previous[u.Key] = u.Existing
		}
	}
	for _, e := range res.Applied.Updated {
		old, ok := previous[e.Key()]
		if !ok {
			old = e
		}
		for _, hook := range h.onResourceUpdated {
			hook(old, e)
		}
	}

	for _, e := range res.Applied.Removed {
		for _, hook := range h.onResourceRemoved {
			hook(e)
		}
	}
}
