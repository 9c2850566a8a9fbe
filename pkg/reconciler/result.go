package reconciler

import (
	"fmt"
	"time"

	"github.com/agentstation/utc"

	"github.com/agentstation/assetsync/pkg/differ"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/pipeline"
	"github.com/agentstation/assetsync/pkg/registry"
	"github.com/agentstation/assetsync/pkg/tree"
)

// CycleKind distinguishes regular cycles from cleanup cycles.
type CycleKind string

// Cycle kinds.
const (
	CycleSync    CycleKind = "sync"
	CycleCleanup CycleKind = "cleanup"
)

// Result represents the outcome of one cycle for one source.
type Result struct {
	// Identity
	CycleID string
	Source  string
	Kind    CycleKind

	// Changes
	Changeset *differ.Changeset
	Applied   *registry.Applied

	// Skipped is set when the source was unavailable and nothing ran.
	Skipped bool

	// Issues
	Notes   []pipeline.StageNote
	Failure *pipeline.Failure

	// Metadata
	StartedAt utc.Time
	Duration  time.Duration
}

func newResult(cycleID, uri string, kind CycleKind) *Result {
	return &Result{
		CycleID:   cycleID,
		Source:    uri,
		Kind:      kind,
		StartedAt: utc.Now(),
	}
}

// IsSuccess returns true if the cycle finished without a fatal failure.
func (r *Result) IsSuccess() bool {
	return r.Failure == nil || r.Failure.Severity != pipeline.Fatal
}

// HasChanges returns true if any changes were detected.
func (r *Result) HasChanges() bool {
	return r.Changeset.HasChanges()
}

// Added returns the number of confirmed creates.
func (r *Result) Added() int {
	if r.Applied == nil {
		return 0
	}
	return len(r.Applied.Added)
}

// Updated returns the number of confirmed updates.
func (r *Result) Updated() int {
	if r.Applied == nil {
		return 0
	}
	return len(r.Applied.Updated)
}

// Removed returns the number of confirmed deletes.
func (r *Result) Removed() int {
	if r.Applied == nil {
		return 0
	}
	return len(r.Applied.Removed)
}

// Failed returns the number of items that were not applied.
func (r *Result) Failed() int {
	if r.Applied == nil {
		return 0
	}
	return r.Applied.Failed + r.Applied.Untouched
}

// Summary returns the one-line tally logged after every cycle.
func (r *Result) Summary() string {
	if r.Kind == CycleCleanup {
		return fmt.Sprintf("unregistered %d, failed %d", r.Removed(), r.Failed())
	}
	return fmt.Sprintf("added %d, updated %d, removed %d, failed %d",
		r.Added(), r.Updated(), r.Removed(), r.Failed())
}

// Messages returns the messages recorded at severity.
func (r *Result) Messages(severity pipeline.Severity) []string {
	var out []string
	for _, n := range r.Notes {
		if n.Failure.Severity == severity {
			out = append(out, n.Failure.Messages...)
		}
	}
	return out
}

// Err returns a SyncError when the cycle failed fatally.
func (r *Result) Err() error {
	if r.IsSuccess() {
		return nil
	}
	return errors.NewSyncError(r.Source, r.Failure.Severity.String(), r.Failure.Messages, r.Failure)
}

// Snapshot is the self-description of a source: its current remote tree
// restricted to eligible nodes, annotated with chains and asset ids.
type Snapshot struct {
	Source  string              `json:"source" yaml:"source"`
	TakenAt utc.Time            `json:"takenAt" yaml:"takenAt"`
	Roots   []*tree.Description `json:"roots" yaml:"roots"`
	Notes   []string            `json:"notes,omitempty" yaml:"notes,omitempty"`
}
