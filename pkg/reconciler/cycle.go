package reconciler

import (
	"context"
	"fmt"

	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/logging"
	"github.com/agentstation/assetsync/pkg/pipeline"
	"github.com/agentstation/assetsync/pkg/sources"
	"github.com/agentstation/assetsync/pkg/tree"
)

// Stage names of a sync cycle.
const (
	StageAvailability = "availability"
	StageFetch        = "fetch"
	StageFlatten      = "flatten"
	StageDiff         = "diff"
	StageApply        = "apply"
)

// cycle is the state threaded through the stages of one sync cycle.
type cycle struct {
	state  *sourceState
	src    sources.Source
	result *Result

	roots   []tree.Node
	mapping *tree.Mapping
}

func (r *reconciler) buildPipeline() *pipeline.Pipeline[*cycle, *cycle] {
	b := pipeline.New[*cycle]("reconcile")
	b = pipeline.Then(b, StageAvailability, r.checkAvailability)
	b = pipeline.Then(b, StageFetch, r.fetchStage)
	b = pipeline.Then(b, StageFlatten, r.flattenStage)
	b = pipeline.Then(b, StageDiff, r.diffStage)
	b = pipeline.Then(b, StageApply, r.applyStage)
	return b.Build()
}

// checkAvailability skips the rest of the cycle when the source does not
// answer. The registered state is kept as is.
func (r *reconciler) checkAvailability(ctx context.Context, c *cycle) pipeline.Result[*cycle] {
	if c.src.Available(ctx) {
		return pipeline.Success(c)
	}
	c.result.Skipped = true
	return pipeline.Warn(c, fmt.Sprintf("source %s is not available", c.src.URI()))
}

func (r *reconciler) fetchStage(ctx context.Context, c *cycle) pipeline.Result[*cycle] {
	if c.result.Skipped {
		return pipeline.Success(c)
	}
	roots, failure := r.fetch(ctx, c.state, c.src)
	if failure != nil && failure.Severity == pipeline.Fatal {
		return pipeline.From[*cycle](nil, failure)
	}
	c.roots = roots
	return pipeline.From(c, failure)
}

// fetch collects the top-level nodes of every enabled category.
//
// A category answering 405 is disabled for the source from then on. Every
// other failure, a 404 included, aborts the fetch. An unreadable category
// never counts as an empty one.
func (r *reconciler) fetch(ctx context.Context, st *sourceState, src sources.Source) ([]tree.Node, *pipeline.Failure) {
	var (
		roots   []tree.Node
		failure *pipeline.Failure
	)
	for _, category := range sources.Categories() {
		if st.isDisabled(category) {
			continue
		}

		fetchCtx, cancel := context.WithTimeout(ctx, r.options.fetchTimeout)
		nodes, err := sources.FetchAll(fetchCtx, src, category)
		cancel()

		switch {
		case err == nil:
			roots = append(roots, nodes...)
		case errors.IsMethodNotAllowed(err):
			st.disable(category)
			logging.FromContext(ctx).Info().
				Str("category", category.String()).
				Msg("Category not supported by source, disabled")
			failure = pipeline.Merge(failure, pipeline.NewFailure(pipeline.Info,
				fmt.Sprintf("%s disabled: %v", category, err)))
		default:
			return nil, pipeline.NewFailure(pipeline.Fatal,
				fmt.Sprintf("fetching %s from %s: %v", category, src.URI(), err))
		}
	}
	return roots, failure
}

func (r *reconciler) flattenStage(_ context.Context, c *cycle) pipeline.Result[*cycle] {
	if c.result.Skipped {
		return pipeline.Success(c)
	}
	flat := r.flattener(c.src.URI()).Flatten(c.roots...)
	mapping, _ := flat.Content()
	c.mapping = mapping
	return pipeline.From(c, flat.Failure())
}

func (r *reconciler) diffStage(_ context.Context, c *cycle) pipeline.Result[*cycle] {
	if c.result.Skipped {
		return pipeline.Success(c)
	}
	c.result.Changeset = r.differ.Diff(c.state.registered(), c.mapping)
	return pipeline.Success(c)
}

func (r *reconciler) applyStage(ctx context.Context, c *cycle) pipeline.Result[*cycle] {
	if c.result.Skipped {
		return pipeline.Success(c)
	}
	applied := r.registrar.Apply(ctx, c.result.Changeset, c.state)
	c.result.Applied = applied
	return pipeline.From(c, applied.Failure)
}
