// Package assetsync keeps a registry of policy-bound resources in sync with
// remote Asset Administration Shell trees.
//
// It wraps the reconciler and the scheduler with additional features including:
// - Automatic periodic synchronization of every registered source
// - Event hooks for resource changes (added, updated, removed)
// - Cleanup of registered resources when a source goes away
// - Flexible configuration through functional options
//
// Example usage:
//
//	// Create a client registering into an in-memory registry
//	c, err := assetsync.New(assetsync.WithRegistry(registry.NewMemory()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close(ctx)
//
//	// Register event hooks
//	c.OnResourceAdded(func(e tree.Entry) {
//	    log.Printf("registered %s as %s", e.Chain, e.Resource.ID)
//	})
//
//	// Track a remote AAS server; the first cycle runs right away
//	if err := c.AddSource(aasrest.New("http://aas-env:8081")); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Or reconcile manually
//	result, err := c.Reconcile(ctx, "http://aas-env:8081")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Summary())
package assetsync

import (
	"context"
	"sync"

	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/logging"
	"github.com/agentstation/assetsync/pkg/reconciler"
	"github.com/agentstation/assetsync/pkg/scheduler"
	"github.com/agentstation/assetsync/pkg/sources"
	"github.com/agentstation/assetsync/pkg/tree"
)

// Compile-time interface check to ensure proper implementation.
var _ Client = (*client)(nil)

// Client manages sources, their reconciliation and the hooks around it.
type Client interface {

	// Sources adds and removes tracked sources
	Sources

	// Reconcile runs one cycle for a source on demand.
	Reconcile(ctx context.Context, uri string) (*reconciler.Result, error)

	// Snapshot describes a source without registering anything.
	Snapshot(ctx context.Context, uri string) (*reconciler.Snapshot, error)

	// Registered returns what is registered for a source.
	Registered(uri string) []tree.Entry

	// Restore adopts what a persistent registry already holds for a source.
	Restore(ctx context.Context, uri string) (int, error)

	// AutoSyncer provides access to automatic sync controls
	AutoSyncer

	// Hooks provides access to event callback registration
	Hooks

	// Close stops automatic syncs and waits for running cycles.
	Close(ctx context.Context) error
}

// client is the internal implementation of the Client interface.
type client struct {

	// options are the configured options for the client
	options *options

	reconciler reconciler.Reconciler

	// auto sync state
	mu        sync.Mutex
	scheduler *scheduler.Scheduler
	cancel    context.CancelFunc

	hooks *hooks // Event hooks for registry changes
}

// New creates a new Client instance with the given options.
func New(opts ...Option) (Client, error) {
	options, err := defaults().apply(opts...)
	if err != nil {
		return nil, err
	}
	if options.registry == nil {
		return nil, &errors.ValidationError{
			Field:   "registry",
			Message: "a registry is required",
		}
	}

	c := &client{
		options: options,
		hooks:   newHooks(),
	}

	recOpts := append([]reconciler.Option{
		reconciler.WithConfig(options.config),
		reconciler.WithObserver(c.hooks.trigger),
	}, options.reconcilerOpts...)
	if options.recorder != nil {
		recOpts = append(recOpts, reconciler.WithRecorder(options.recorder))
	}
	if c.reconciler, err = reconciler.New(options.registry, recOpts...); err != nil {
		return nil, errors.WrapResource("create", "reconciler", "", err)
	}

	logging.Debug().
		Bool("only_submodels", options.config.OnlySubmodels).
		Bool("expose_self_description", options.config.ExposeSelfDescription).
		Msg("Client created")

	if options.autoSync {
		if err := c.AutoSyncOn(); err != nil {
			return nil, errors.WrapResource("start", "auto-sync", "", err)
		}
	}
	return c, nil
}

// Reconcile implements Client.
func (c *client) Reconcile(ctx context.Context, uri string) (*reconciler.Result, error) {
	return c.reconciler.Reconcile(ctx, uri)
}

// Snapshot implements Client.
func (c *client) Snapshot(ctx context.Context, uri string) (*reconciler.Snapshot, error) {
	return c.reconciler.Snapshot(ctx, uri)
}

// Registered implements Client.
func (c *client) Registered(uri string) []tree.Entry {
	return c.reconciler.Registered(uri)
}

// Restore implements Client.
func (c *client) Restore(ctx context.Context, uri string) (int, error) {
	return c.reconciler.Restore(ctx, uri)
}

// Close implements Client.
func (c *client) Close(ctx context.Context) error {
	return c.stopAutoSync(ctx)
}

// Compile-time interface check to ensure proper implementation.
var _ Sources = (*client)(nil)

// Sources manages the tracked sources.
type Sources interface {
	// AddSource starts tracking src. With auto-sync on, its first cycle
	// starts immediately.
	AddSource(src sources.Source) error

	// RemoveSource stops tracking a source and unregisters its resources.
	RemoveSource(ctx context.Context, uri string) (*reconciler.Result, error)

	// Trigger requests an immediate cycle for a tracked source.
	Trigger(uri, reason string) error

	// SourceURIs returns the URIs of tracked sources.
	SourceURIs() []string
}

// AddSource implements Sources.
func (c *client) AddSource(src sources.Source) error {
	if src == nil {
		return &errors.ValidationError{
			Field:   "source",
			Message: "cannot be nil",
		}
	}
	c.reconciler.AddSource(src)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scheduler != nil {
		return c.scheduler.Add(src.URI())
	}
	return nil
}

// RemoveSource implements Sources.
func (c *client) RemoveSource(ctx context.Context, uri string) (*reconciler.Result, error) {
	c.mu.Lock()
	sched := c.scheduler
	c.mu.Unlock()

	if sched != nil {
		res, err := sched.Remove(ctx, uri)
		if !errors.IsNotFound(err) || res != nil {
			return res, err
		}
	}
	return c.reconciler.Unregister(ctx, uri)
}

// Trigger implements Sources. Without auto-sync the cycle runs inline.
func (c *client) Trigger(uri, reason string) error {
	c.mu.Lock()
	sched := c.scheduler
	c.mu.Unlock()

	if sched != nil {
		return sched.Trigger(uri, reason)
	}
	_, err := c.reconciler.Reconcile(context.Background(), uri)
	return err
}

// SourceURIs implements Sources.
func (c *client) SourceURIs() []string {
	return c.reconciler.Sources()
}
