package pipeline_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/assetsync/pkg/logging"
	"github.com/agentstation/assetsync/pkg/pipeline"
)

func double(_ context.Context, in int) pipeline.Result[int] {
	return pipeline.Success(in * 2)
}

func TestExecute_AllStagesSucceed(t *testing.T) {
	p := pipeline.Then(
		pipeline.Then(pipeline.New[int]("numbers"), "double", double),
		"format", func(_ context.Context, in int) pipeline.Result[string] {
			return pipeline.Success(strconv.Itoa(in))
		},
	).Build()

	report := p.Execute(context.Background(), 21)

	require.True(t, report.Result.Succeeded())
	out, ok := report.Result.Content()
	require.True(t, ok)
	assert.Equal(t, "42", out)
	assert.Equal(t, []string{"double", "format"}, report.Executed)
	assert.Equal(t, []string{"double", "format"}, p.Stages())
	assert.Empty(t, report.Notes)
}

func TestExecute_WarningContinuesWithContent(t *testing.T) {
	var stage3Input string
	stage3Ran := false

	p := pipeline.Then(
		pipeline.Then(
			pipeline.Then(pipeline.New[string]("recoverable"),
				"one", func(_ context.Context, in string) pipeline.Result[string] {
					return pipeline.Success(in + "-1")
				}),
			"two", func(_ context.Context, _ string) pipeline.Result[string] {
				return pipeline.Warn("X", "item 7 lookup returned 404")
			}),
		"three", func(_ context.Context, in string) pipeline.Result[string] {
			stage3Ran = true
			stage3Input = in
			return pipeline.Success(in + "-3")
		},
	).Build()

	report := p.Execute(context.Background(), "start")

	require.True(t, stage3Ran)
	assert.Equal(t, "X", stage3Input)
	assert.False(t, report.Result.IsFatal())
	assert.Equal(t, pipeline.Warning, report.Result.Severity())
	out, ok := report.Result.Content()
	require.True(t, ok)
	assert.Equal(t, "X-3", out)
	assert.Equal(t, []string{"item 7 lookup returned 404"}, report.Messages(pipeline.Warning))
}

func TestExecute_PanicHaltsAsFatal(t *testing.T) {
	stage3Ran := false

	p := pipeline.Then(
		pipeline.Then(
			pipeline.Then(pipeline.New[int]("faulty"), "one", double),
			"two", func(_ context.Context, _ int) pipeline.Result[int] {
				panic("registry client exploded")
			}),
		"three", func(_ context.Context, in int) pipeline.Result[int] {
			stage3Ran = true
			return pipeline.Success(in)
		},
	).Build()

	report := p.Execute(context.Background(), 1)

	assert.False(t, stage3Ran)
	assert.True(t, report.Result.IsFatal())
	_, ok := report.Result.Content()
	assert.False(t, ok)
	require.Len(t, report.Notes, 1)
	assert.Equal(t, "two", report.Notes[0].Stage)
	assert.Contains(t, report.Notes[0].Failure.Error(), "registry client exploded")
}

func TestExecute_FatalResultHalts(t *testing.T) {
	stage2Ran := false

	p := pipeline.Then(
		pipeline.Then(pipeline.New[int]("fatal"),
			"fetch", func(_ context.Context, _ int) pipeline.Result[int] {
				return pipeline.Fail[int]("unauthorized")
			}),
		"apply", func(_ context.Context, in int) pipeline.Result[int] {
			stage2Ran = true
			return pipeline.Success(in)
		},
	).Build()

	report := p.Execute(context.Background(), 1)

	assert.False(t, stage2Ran)
	assert.True(t, report.Result.IsFatal())
	assert.EqualError(t, report.Result.Err(), "fatal: unauthorized")
	assert.Equal(t, []string{"fetch"}, report.Executed)
}

func TestExecute_InfoIsRecordedNotAlarmed(t *testing.T) {
	captured := logging.NewTestLogger(t)
	ctx := logging.WithLogger(context.Background(), captured.Logger)

	p := pipeline.Then(pipeline.New[int]("benign"),
		"apply", func(_ context.Context, in int) pipeline.Result[int] {
			return pipeline.Note(in, "asset 9 already registered")
		}).Build()

	report := p.Execute(ctx, 5)

	assert.Equal(t, pipeline.Info, report.Result.Severity())
	assert.Equal(t, []string{"asset 9 already registered"}, report.Messages(pipeline.Info))
	assert.NotContains(t, captured.Output(), `"level":"warn"`)
	captured.AssertContains(t, "asset 9 already registered")
}

func TestExecute_WarningAndInfoMerge(t *testing.T) {
	p := pipeline.Then(
		pipeline.Then(pipeline.New[int]("merge"),
			"a", func(_ context.Context, in int) pipeline.Result[int] {
				return pipeline.Note(in, "benign")
			}),
		"b", func(_ context.Context, in int) pipeline.Result[int] {
			return pipeline.Warn(in, "skipped")
		}).Build()

	report := p.Execute(context.Background(), 1)

	assert.Equal(t, pipeline.Warning, report.Result.Severity())
	assert.Equal(t, []string{"benign", "skipped"}, report.Result.Failure().Messages)
}

func TestExecute_CanceledContext(t *testing.T) {
	ran := false
	p := pipeline.Then(pipeline.New[int]("canceled"),
		"only", func(_ context.Context, in int) pipeline.Result[int] {
			ran = true
			return pipeline.Success(in)
		}).Build()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := p.Execute(ctx, 1)

	assert.False(t, ran)
	assert.True(t, report.Result.IsFatal())
}

func TestExecute_EmptyPipelinePassesInputThrough(t *testing.T) {
	report := pipeline.New[string]("empty").Build().Execute(context.Background(), "in")
	out, ok := report.Result.Content()
	require.True(t, ok)
	assert.Equal(t, "in", out)
	assert.Contains(t, report.Summary(), "empty succeeded after 0 stage(s)")
}
