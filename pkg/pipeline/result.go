// Package pipeline runs ordered, typed stages whose failures are classified
// as fatal, warning or info.
//
// A fatal failure halts the pipeline and never carries content. Warnings and
// infos carry the (possibly partial) content forward to the next stage and are
// collected on the Report so the caller can surface them per cycle.
//
//	p := pipeline.Then(pipeline.Then(pipeline.New[string]("cycle"),
//	    "fetch", fetch), "flatten", flatten).Build()
//	report := p.Execute(ctx, uri)
//	if report.Result.IsFatal() { ... }
package pipeline

import (
	"fmt"
	"strings"
)

// Severity classifies a stage failure.
type Severity int

const (
	// Info marks a benign, expected divergence. Treated as success.
	Info Severity = iota + 1
	// Warning marks a single item that could not be processed.
	Warning
	// Fatal marks a failure that aborts the whole pipeline.
	Fatal
)

// String returns the lower-case name of the severity.
func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Fatal:
		return "fatal"
	default:
		return "success"
	}
}

// Recoverable reports whether execution continues past this severity.
func (s Severity) Recoverable() bool {
	return s == Info || s == Warning
}

// Failure is a classified failure with human-readable messages.
type Failure struct {
	Severity Severity
	Messages []string
}

// NewFailure creates a failure. Empty messages are dropped.
func NewFailure(severity Severity, messages ...string) *Failure {
	f := &Failure{Severity: severity}
	for _, m := range messages {
		if m != "" {
			f.Messages = append(f.Messages, m)
		}
	}
	return f
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if len(f.Messages) == 0 {
		return f.Severity.String()
	}
	return fmt.Sprintf("%s: %s", f.Severity, strings.Join(f.Messages, "; "))
}

// Merge combines two failures, keeping the higher severity and all messages.
// Either side may be nil.
func Merge(a, b *Failure) *Failure {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	severity := a.Severity
	if b.Severity > severity {
		severity = b.Severity
	}
	messages := make([]string, 0, len(a.Messages)+len(b.Messages))
	messages = append(messages, a.Messages...)
	messages = append(messages, b.Messages...)
	return &Failure{Severity: severity, Messages: messages}
}

// Result is the outcome of a stage: success with content, a recoverable
// failure with content, or a fatal failure without content.
type Result[T any] struct {
	content T
	failure *Failure
}

// Success wraps content in a successful result.
func Success[T any](content T) Result[T] {
	return Result[T]{content: content}
}

// Fail returns a fatal result with no content.
func Fail[T any](messages ...string) Result[T] {
	return Result[T]{failure: NewFailure(Fatal, messages...)}
}

// Failf returns a fatal result with a formatted message.
func Failf[T any](format string, args ...any) Result[T] {
	return Fail[T](fmt.Sprintf(format, args...))
}

// Warn returns content together with a warning.
func Warn[T any](content T, messages ...string) Result[T] {
	return Result[T]{content: content, failure: NewFailure(Warning, messages...)}
}

// Note returns content together with an info failure.
func Note[T any](content T, messages ...string) Result[T] {
	return Result[T]{content: content, failure: NewFailure(Info, messages...)}
}

// From builds a result from content and an optional failure. A fatal failure
// discards the content.
func From[T any](content T, failure *Failure) Result[T] {
	if failure != nil && failure.Severity == Fatal {
		return Result[T]{failure: failure}
	}
	return Result[T]{content: content, failure: failure}
}

// Succeeded reports whether the stage finished without any failure.
func (r Result[T]) Succeeded() bool {
	return r.failure == nil
}

// IsFatal reports whether the result halts the pipeline.
func (r Result[T]) IsFatal() bool {
	return r.failure != nil && r.failure.Severity == Fatal
}

// Content returns the carried content. ok is false for fatal results.
func (r Result[T]) Content() (content T, ok bool) {
	if r.IsFatal() {
		var zero T
		return zero, false
	}
	return r.content, true
}

// Failure returns the failure, or nil on success.
func (r Result[T]) Failure() *Failure {
	return r.failure
}

// Severity returns the failure severity, or zero on success.
func (r Result[T]) Severity() Severity {
	if r.failure == nil {
		return 0
	}
	return r.failure.Severity
}

// Err returns the failure as an error, or nil on success.
func (r Result[T]) Err() error {
	if r.failure == nil {
		return nil
	}
	return r.failure
}
