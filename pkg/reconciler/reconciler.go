// Package reconciler keeps a registry in line with remote AAS trees.
//
// Every cycle for a source fetches its top-level nodes, flattens them into a
// mapping, diffs that mapping against the resources registered for the source
// and applies the changeset. Cycles of one source never overlap; cycles of
// different sources run independently.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentstation/utc"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/agentstation/assetsync/pkg/differ"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/logging"
	"github.com/agentstation/assetsync/pkg/pipeline"
	"github.com/agentstation/assetsync/pkg/registry"
	"github.com/agentstation/assetsync/pkg/sources"
	"github.com/agentstation/assetsync/pkg/tree"
)

// Reconciler is the main interface for reconciling sources into a registry.
type Reconciler interface {
	// AddSource starts tracking a source. Re-adding a URI replaces the
	// source and keeps what was registered for it.
	AddSource(src sources.Source)

	// Sources returns the URIs of tracked sources.
	Sources() []string

	// Reconcile runs one cycle for a source.
	Reconcile(ctx context.Context, uri string) (*Result, error)

	// Unregister removes every resource registered for a source and stops
	// tracking it.
	Unregister(ctx context.Context, uri string) (*Result, error)

	// Snapshot describes the current remote tree of a source without
	// touching the registry.
	Snapshot(ctx context.Context, uri string) (*Snapshot, error)

	// Registered returns what is currently registered for a source. It never
	// waits for a running cycle.
	Registered(uri string) []tree.Entry

	// Restore adopts the resources of a source that are already in the
	// registry, e.g. after a restart against a persistent registry. The next
	// cycle then removes those that vanished in the meantime. It returns the
	// number of adopted resources.
	Restore(ctx context.Context, uri string) (int, error)
}

// reconciler is the default implementation of Reconciler.
type reconciler struct {
	registry  registry.Registry
	options   *options
	registrar *registry.Registrar
	cleanup   *registry.Registrar
	differ    differ.Differ
	cycle     *pipeline.Pipeline[*cycle, *cycle]

	mu     sync.RWMutex
	states map[string]*sourceState

	flight singleflight.Group
}

// New creates a new Reconciler writing to reg.
func New(reg registry.Registry, opts ...Option) (Reconciler, error) {
	if reg == nil {
		return nil, &errors.ValidationError{
			Field:   "registry",
			Message: "cannot be nil",
		}
	}
	options, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}

	registrarOpts := []registry.RegistrarOption{
		registry.WithCallTimeout(options.callTimeout),
	}
	if options.recorder != nil {
		registrarOpts = append(registrarOpts, registry.WithRecorder(options.recorder))
	}
	registrar, err := registry.NewRegistrar(reg, append(registrarOpts, registry.WithStrategy(options.strategy))...)
	if err != nil {
		return nil, err
	}
	// Cleanup always removes, whatever the strategy.
	cleanup, err := registry.NewRegistrar(reg, append(registrarOpts, registry.WithStrategy(differ.ApplyAll))...)
	if err != nil {
		return nil, err
	}

	r := &reconciler{
		registry:  reg,
		options:   options,
		registrar: registrar,
		cleanup:   cleanup,
		differ:    differ.New(options.differOpts...),
		states:    make(map[string]*sourceState),
	}
	r.cycle = r.buildPipeline()
	return r, nil
}

// sourceState is everything the reconciler keeps per source.
type sourceState struct {
	// run serializes cycles of this source.
	run sync.Mutex

	// mu guards the fields below. It is held per mutation only, never
	// across remote or registry calls.
	mu       sync.RWMutex
	src      sources.Source
	cache    *tree.Mapping
	disabled map[sources.Category]bool
	removed  bool
}

func newSourceState(src sources.Source) *sourceState {
	return &sourceState{
		src:      src,
		cache:    tree.NewMapping(),
		disabled: make(map[sources.Category]bool),
	}
}

func (s *sourceState) source() sources.Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.src
}

// Put implements registry.Cache.
func (s *sourceState) Put(e tree.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Put(e)
}

// Delete implements registry.Cache.
func (s *sourceState) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Delete(key)
}

func (s *sourceState) registered() *tree.Mapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.Clone()
}

func (s *sourceState) isDisabled(c sources.Category) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disabled[c]
}

func (s *sourceState) disable(c sources.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[c] = true
}

// AddSource implements Reconciler.
func (r *reconciler) AddSource(src sources.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[src.URI()]; ok {
		st.mu.Lock()
		st.src = src
		st.removed = false
		st.mu.Unlock()
		return
	}
	r.states[src.URI()] = newSourceState(src)
	logging.Info().Str("source", src.URI()).Msg("Source added")
}

// Sources implements Reconciler.
func (r *reconciler) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := sources.NewSources()
	for _, st := range r.states {
		st.mu.RLock()
		if !st.removed {
			set.Set(st.src)
		}
		st.mu.RUnlock()
	}
	return set.URIs()
}

func (r *reconciler) state(uri string) (*sourceState, error) {
	r.mu.RLock()
	st, ok := r.states[uri]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("source", uri)
	}
	return st, nil
}

// Registered implements Reconciler.
func (r *reconciler) Registered(uri string) []tree.Entry {
	st, err := r.state(uri)
	if err != nil {
		return nil
	}
	return st.registered().Entries()
}

// Reconcile implements Reconciler. Concurrent calls for the same source
// share one cycle; the first caller's context governs it.
func (r *reconciler) Reconcile(ctx context.Context, uri string) (*Result, error) {
	v, err, shared := r.flight.Do(uri, func() (any, error) {
		return r.reconcile(ctx, uri)
	})
	if shared {
		logging.FromContext(ctx).Debug().Str("source", uri).Msg("Joined running reconcile")
	}
	res, _ := v.(*Result)
	return res, err
}

func (r *reconciler) reconcile(ctx context.Context, uri string) (*Result, error) {
	st, err := r.state(uri)
	if err != nil {
		return nil, err
	}

	st.run.Lock()
	defer st.run.Unlock()

	st.mu.RLock()
	removed := st.removed
	st.mu.RUnlock()
	if removed {
		return nil, errors.NewNotFoundError("source", uri)
	}

	ctx, cycleID := cycleContext(ctx, uri)
	res := newResult(cycleID, uri, CycleSync)
	start := time.Now()

	c := &cycle{state: st, src: st.source(), result: res}
	report := r.cycle.Execute(ctx, c)

	res.Notes = report.Notes
	res.Failure = report.Result.Failure()
	res.Duration = time.Since(start)
	r.finish(ctx, res)
	return res, res.Err()
}

// Unregister implements Reconciler.
func (r *reconciler) Unregister(ctx context.Context, uri string) (*Result, error) {
	st, err := r.state(uri)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	st.removed = true
	st.mu.Unlock()

	st.run.Lock()
	defer st.run.Unlock()

	ctx, cycleID := cycleContext(ctx, uri)
	res := newResult(cycleID, uri, CycleCleanup)
	start := time.Now()

	// Step 1: Everything registered is a removal
	res.Changeset = r.differ.Diff(st.registered(), tree.NewMapping())

	// Step 2: Apply the removals
	res.Applied = r.cleanup.Apply(ctx, res.Changeset, st)
	res.Failure = res.Applied.Failure
	if res.Failure != nil {
		res.Notes = []pipeline.StageNote{{Stage: "apply", Failure: res.Failure}}
	}
	res.Duration = time.Since(start)

	// Step 3: Forget the source once nothing is left behind
	if st.registered().Len() == 0 {
		r.mu.Lock()
		if r.states[uri] == st {
			delete(r.states, uri)
		}
		r.mu.Unlock()
	}

	r.finish(ctx, res)
	return res, res.Err()
}

// Restore implements Reconciler. A record belongs to the source when its id
// is the asset id the source would derive for the bound chain.
func (r *reconciler) Restore(ctx context.Context, uri string) (int, error) {
	st, err := r.state(uri)
	if err != nil {
		return 0, err
	}

	st.run.Lock()
	defer st.run.Unlock()

	records, err := r.registry.List(ctx)
	if err != nil {
		return 0, errors.WrapResource("restore", "source", uri, err)
	}

	adopted := 0
	for _, rec := range records {
		if len(rec.Binding.Chain) == 0 || tree.AssetID(uri, rec.Binding.Chain) != rec.Resource.ID {
			continue
		}
		st.Put(tree.Entry{
			Chain:    rec.Binding.Chain,
			Resource: rec.Resource,
			Binding:  rec.Binding,
		})
		adopted++
	}

	logging.FromContext(ctx).Info().
		Str("source", uri).
		Int("adopted", adopted).
		Int("records", len(records)).
		Msg("Registered resources restored")
	return adopted, nil
}

// cycleContext tags ctx with the source and a cycle id. A cycle id already
// carried by ctx is kept.
func cycleContext(ctx context.Context, uri string) (context.Context, string) {
	ctx = logging.WithSource(ctx, uri)
	if id := logging.CycleID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return logging.WithCycle(ctx, id), id
}

// finish logs the tally and notifies observers.
func (r *reconciler) finish(ctx context.Context, res *Result) {
	ctx = logging.WithFields(ctx, map[string]any{
		"kind":    string(res.Kind),
		"added":   res.Added(),
		"updated": res.Updated(),
		"removed": res.Removed(),
	})
	switch {
	case !res.IsSuccess():
		logger := logging.FromContext(logging.WithError(ctx, res.Err()))
		logger.Error().
			Strs("messages", res.Failure.Messages).
			Dur("duration", res.Duration).
			Msg(res.Summary())
	case res.Skipped:
		logging.FromContext(ctx).Warn().Msg("Source unavailable, cycle skipped")
	default:
		logging.FromContext(ctx).Info().Dur("duration", res.Duration).Msg(res.Summary())
	}
	for _, obs := range r.options.observers {
		obs(res)
	}
}

// Snapshot implements Reconciler.
func (r *reconciler) Snapshot(ctx context.Context, uri string) (*Snapshot, error) {
	if !r.options.config.ExposeSelfDescription {
		return nil, errors.WrapResource("snapshot", "source", uri,
			fmt.Errorf("%w: self-description is disabled", errors.ErrMethodNotAllowed))
	}
	st, err := r.state(uri)
	if err != nil {
		return nil, err
	}
	src := st.source()
	if !src.Available(ctx) {
		return nil, errors.WrapResource("snapshot", "source", uri, errors.ErrUnavailable)
	}

	roots, failure := r.fetch(ctx, st, src)
	if failure != nil && failure.Severity == pipeline.Fatal {
		return nil, errors.NewSyncError(uri, failure.Severity.String(), failure.Messages, failure)
	}
	snap := &Snapshot{
		Source:  uri,
		TakenAt: utc.Now(),
		Roots:   r.flattener(uri).Describe(roots...),
	}
	if failure != nil {
		snap.Notes = failure.Messages
	}
	return snap, nil
}

// flattener builds the flattener for one source.
func (r *reconciler) flattener(uri string) *tree.Flattener {
	cfg := r.options.config
	opts := []tree.FlattenOption{
		tree.WithMappers(tree.AssetMappers(uri)),
		tree.WithDuplicatePolicy(cfg.Duplicates),
	}
	if cfg.Bindings != nil {
		opts = append(opts, tree.WithBindings(cfg.Bindings))
	}
	if cfg.OnlySubmodels {
		opts = append(opts, tree.WithFilter(tree.OnlySubmodels))
	}
	return tree.NewFlattener(opts...)
}
