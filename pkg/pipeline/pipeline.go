package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/agentstation/assetsync/pkg/logging"
)

// Stage transforms the content of the previous stage.
type Stage[I, O any] func(ctx context.Context, in I) Result[O]

// step is a type-erased stage.
type step struct {
	name string
	run  func(ctx context.Context, in any) (any, *Failure)
}

// Builder accumulates stages. I is the pipeline input, O the output of the
// last stage added so far.
type Builder[I, O any] struct {
	name  string
	steps []step
}

// New starts a pipeline that accepts I.
func New[I any](name string) *Builder[I, I] {
	return &Builder[I, I]{name: name}
}

// Then appends a stage consuming the builder's current output type.
func Then[I, M, O any](b *Builder[I, M], name string, stage Stage[M, O]) *Builder[I, O] {
	steps := make([]step, len(b.steps), len(b.steps)+1)
	copy(steps, b.steps)
	steps = append(steps, step{
		name: name,
		run: func(ctx context.Context, in any) (any, *Failure) {
			typed, _ := in.(M)
			res := stage(ctx, typed)
			content, _ := res.Content()
			return content, res.Failure()
		},
	})
	return &Builder[I, O]{name: b.name, steps: steps}
}

// Build freezes the stages into an executable pipeline.
func (b *Builder[I, O]) Build() *Pipeline[I, O] {
	return &Pipeline[I, O]{name: b.name, steps: b.steps}
}

// Pipeline is an immutable, reusable sequence of stages.
type Pipeline[I, O any] struct {
	name  string
	steps []step
}

// Stages returns the stage names in execution order.
func (p *Pipeline[I, O]) Stages() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.name
	}
	return names
}

// StageNote records a recoverable or fatal failure raised by a stage.
type StageNote struct {
	Stage   string
	Failure *Failure
}

// Report contains the result of executing a pipeline.
type Report[O any] struct {
	Pipeline string
	Result   Result[O]
	Notes    []StageNote
	Executed []string

	ExecutedAt time.Time
	Duration   time.Duration
}

// Execute runs the stages in order.
func (p *Pipeline[I, O]) Execute(ctx context.Context, in I) *Report[O] {
	report := &Report[O]{
		Pipeline:   p.name,
		ExecutedAt: time.Now(),
	}
	defer func() { report.Duration = time.Since(report.ExecutedAt) }()

	var current any = in
	var combined *Failure

	for _, s := range p.steps {
		if err := ctx.Err(); err != nil {
			f := NewFailure(Fatal, fmt.Sprintf("stage %s not started: %v", s.name, err))
			report.Notes = append(report.Notes, StageNote{Stage: s.name, Failure: f})
			report.Result = Result[O]{failure: f}
			return report
		}

		stageCtx := logging.WithStage(ctx, s.name)
		out, failure := p.runStep(stageCtx, s, current)
		report.Executed = append(report.Executed, s.name)

		if failure == nil {
			current = out
			continue
		}

		report.Notes = append(report.Notes, StageNote{Stage: s.name, Failure: failure})
		if failure.Severity == Fatal {
			report.Result = Result[O]{failure: failure}
			return report
		}

		logNote(stageCtx, failure)
		combined = Merge(combined, failure)
		current = out
	}

	out, _ := current.(O)
	report.Result = Result[O]{content: out, failure: combined}
	return report
}

// runStep invokes a stage, converting a panic into a fatal failure.
func (p *Pipeline[I, O]) runStep(ctx context.Context, s step, in any) (out any, failure *Failure) {
	var pc panics.Catcher
	pc.Try(func() {
		out, failure = s.run(ctx, in)
	})
	if r := pc.Recovered(); r != nil {
		return nil, NewFailure(Fatal, fmt.Sprintf("stage %s panicked: %v", s.name, r.Value))
	}
	return out, failure
}

func logNote(ctx context.Context, f *Failure) {
	logger := logging.FromContext(ctx)
	switch f.Severity {
	case Warning:
		logger.Warn().Strs("messages", f.Messages).Msg("Stage completed with warnings")
	case Info:
		logger.Debug().Strs("messages", f.Messages).Msg("Stage completed with notes")
	}
}

// Messages returns every message recorded at the given severity.
func (r *Report[O]) Messages(severity Severity) []string {
	var out []string
	for _, n := range r.Notes {
		if n.Failure.Severity == severity {
			out = append(out, n.Failure.Messages...)
		}
	}
	return out
}

// Summary returns a human-readable summary of the pipeline report.
func (r *Report[O]) Summary() string {
	status := "succeeded"
	if sev := r.Result.Severity(); sev != 0 {
		status = "finished with " + sev.String()
	}
	return fmt.Sprintf("%s %s after %d stage(s) [%s] (took %v)",
		r.Pipeline, status, len(r.Executed), strings.Join(r.Executed, ", "), r.Duration)
}
