package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/agentstation/assetsync/pkg/constants"
	"github.com/agentstation/assetsync/pkg/differ"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/logging"
	"github.com/agentstation/assetsync/pkg/pipeline"
	"github.com/agentstation/assetsync/pkg/tree"
)

// Cache receives confirmed store mutations. Put is called after a successful
// create or update, Delete after a successful delete.
type Cache interface {
	Put(e tree.Entry)
	Delete(key string)
}

// Recorder observes store calls.
type Recorder interface {
	ObserveStoreCall(op, outcome string, elapsed time.Duration)
}

// Applied is the outcome of applying one changeset.
type Applied struct {
	Added   []tree.Entry // Confirmed creates
	Updated []tree.Entry // Confirmed updates, including create fallbacks
	Removed []tree.Entry // Confirmed deletes

	// Failed counts items that hit a warning or the fatal failure.
	Failed int
	// Untouched counts items never attempted because of a fatal failure.
	Untouched int

	Failure *pipeline.Failure
}

// Result converts the outcome into a pipeline result. A fatal failure drops
// the content; confirmed mutations are still reflected in the cache.
func (a *Applied) Result() pipeline.Result[*Applied] {
	return pipeline.From(a, a.Failure)
}

// Counts returns the number of confirmed changes per kind.
func (a *Applied) Counts() (added, updated, removed int) {
	return len(a.Added), len(a.Updated), len(a.Removed)
}

// Registrar applies changesets to a Registry.
type Registrar struct {
	registry    Registry
	callTimeout time.Duration
	strategy    differ.ApplyStrategy
	recorder    Recorder
}

// RegistrarOption configures a Registrar.
type RegistrarOption func(*Registrar) error

// WithCallTimeout bounds every store call.
func WithCallTimeout(d time.Duration) RegistrarOption {
	return func(r *Registrar) error {
		if d <= 0 {
			return &errors.ValidationError{
				Field:   "callTimeout",
				Value:   d,
				Message: "must be positive",
			}
		}
		r.callTimeout = d
		return nil
	}
}

// WithStrategy restricts which changes are applied.
func WithStrategy(s differ.ApplyStrategy) RegistrarOption {
	return func(r *Registrar) error {
		r.strategy = s
		return nil
	}
}

// WithRecorder sets the store call observer.
func WithRecorder(rec Recorder) RegistrarOption {
	return func(r *Registrar) error {
		r.recorder = rec
		return nil
	}
}

// NewRegistrar creates a Registrar writing to reg.
func NewRegistrar(reg Registry, opts ...RegistrarOption) (*Registrar, error) {
	if reg == nil {
		return nil, &errors.ValidationError{Field: "registry", Message: "cannot be nil"}
	}
	r := &Registrar{
		registry:    reg,
		callTimeout: constants.StoreCallTimeout,
		strategy:    differ.ApplyAll,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// application tracks one Apply call.
type application struct {
	*Registrar
	ctx      context.Context
	cache    Cache
	applied  *Applied
	warnings []string
	infos    []string
}

// Apply drives cs into the registry: additions first, then removals, then
// updates. Every confirmed call is mirrored into cache before the next call
// starts. A fatal outcome stops processing; items after it stay untouched
// and are retried by the next cycle.
func (r *Registrar) Apply(ctx context.Context, cs *differ.Changeset, cache Cache) *Applied {
	app := &application{
		Registrar: r,
		ctx:       ctx,
		cache:     cache,
		applied:   &Applied{},
	}
	if cs == nil {
		return app.applied
	}
	cs = cs.Filter(r.strategy)

	total := len(cs.Added) + len(cs.Removed) + len(cs.Updated)
	done := 0
	fatal := func(msg string) *Applied {
		app.applied.Failed++
		app.applied.Untouched = total - done - 1
		app.finish(pipeline.NewFailure(pipeline.Fatal, msg))
		return app.applied
	}

	// Step 1: additions
	for _, e := range cs.Added {
		if msg := app.create(e, false); msg != "" {
			return fatal(msg)
		}
		done++
	}

	// Step 2: removals
	for _, e := range cs.Removed {
		if msg := app.delete(e); msg != "" {
			return fatal(msg)
		}
		done++
	}

	// Step 3: updates
	for _, u := range cs.Updated {
		if msg := app.update(u); msg != "" {
			return fatal(msg)
		}
		done++
	}

	app.finish(nil)
	return app.applied
}

func (app *application) finish(fatal *pipeline.Failure) {
	var f *pipeline.Failure
	if len(app.infos) > 0 {
		f = pipeline.NewFailure(pipeline.Info, app.infos...)
	}
	if len(app.warnings) > 0 {
		f = pipeline.Merge(f, pipeline.NewFailure(pipeline.Warning, app.warnings...))
	}
	if fatal != nil {
		f = pipeline.Merge(f, fatal)
	}
	app.applied.Failure = f
}

// call runs fn under the per-call timeout and reports how it ended.
func (app *application) call(op, id string, fn func(ctx context.Context) error) (outcome Outcome, timedOut bool, err error) {
	ctx, cancel := context.WithTimeout(app.ctx, app.callTimeout)
	defer cancel()

	start := time.Now()
	err = fn(ctx)
	outcome = Classify(err)

	timedOut = err != nil && app.ctx.Err() == nil &&
		(stderrors.Is(err, context.DeadlineExceeded) || errors.IsTimeout(err))

	if app.recorder != nil {
		label := outcome.String()
		if timedOut {
			label = "timeout"
		}
		app.recorder.ObserveStoreCall(op, label, time.Since(start))
	}

	logging.FromContext(app.ctx).Debug().
		Str("op", op).
		Str("asset_id", id).
		Str("outcome", outcome.String()).
		Err(err).
		Msg("Store call finished")

	return outcome, timedOut, err
}

// settle classifies a finished call. It returns a non-empty message when
// the outcome is fatal, and reports whether the call counts as success.
func (app *application) settle(op string, e tree.Entry, outcome Outcome, timedOut bool, err error) (string, bool) {
	if err == nil {
		return "", true
	}
	subject := fmt.Sprintf("%s %s (%s)", op, e.Key(), e.Resource.ID)
	switch {
	case app.ctx.Err() != nil:
		return fmt.Sprintf("%s: cycle canceled: %v", subject, app.ctx.Err()), false
	case timedOut:
		app.warnings = append(app.warnings, fmt.Sprintf("%s: timed out: %v", subject, err))
		app.applied.Failed++
		return "", false
	}

	switch outcome.Severity() {
	case 0:
		return "", true
	case pipeline.Info:
		app.infos = append(app.infos, fmt.Sprintf("%s: %s: %v", subject, outcome, err))
		return "", true
	case pipeline.Warning:
		app.warnings = append(app.warnings, fmt.Sprintf("%s: %s: %v", subject, outcome, err))
		app.applied.Failed++
		return "", false
	default:
		return fmt.Sprintf("%s: %s: %v", subject, outcome, err), false
	}
}

func (app *application) create(e tree.Entry, fallback bool) string {
	outcome, timedOut, err := app.call(OpCreate, e.Resource.ID, func(ctx context.Context) error {
		return app.registry.Create(ctx, e.Resource, e.Binding)
	})
	msg, ok := app.settle(OpCreate, e, outcome, timedOut, err)
	if ok {
		app.cache.Put(e)
		if fallback {
			app.applied.Updated = append(app.applied.Updated, e)
		} else {
			app.applied.Added = append(app.applied.Added, e)
		}
	}
	return msg
}

func (app *application) delete(e tree.Entry) string {
	outcome, timedOut, err := app.call(OpDelete, e.Resource.ID, func(ctx context.Context) error {
		return app.registry.Delete(ctx, e.Resource.ID)
	})
	if outcome == NotFound && !timedOut && app.ctx.Err() == nil {
		// Already gone from the store.
		app.infos = append(app.infos, fmt.Sprintf("%s %s (%s): already removed", OpDelete, e.Key(), e.Resource.ID))
		app.cache.Delete(e.Key())
		app.applied.Removed = append(app.applied.Removed, e)
		return ""
	}
	msg, ok := app.settle(OpDelete, e, outcome, timedOut, err)
	if ok {
		app.cache.Delete(e.Key())
		app.applied.Removed = append(app.applied.Removed, e)
	}
	return msg
}

func (app *application) update(u differ.Update) string {
	e := u.Entry
	outcome, timedOut, err := app.call(OpUpdate, e.Resource.ID, func(ctx context.Context) error {
		return app.registry.Update(ctx, e.Resource)
	})
	if outcome == NotFound && !timedOut && app.ctx.Err() == nil {
		return app.create(e, true)
	}
	msg, ok := app.settle(OpUpdate, e, outcome, timedOut, err)
	if ok {
		app.cache.Put(e)
		app.applied.Updated = append(app.applied.Updated, e)
	}
	return msg
}
