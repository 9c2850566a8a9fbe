// Package registry applies changesets to a target registry of resources
// with access policy.
//
// A Registry is the store being kept in sync. The Registrar drives one
// changeset into it, classifying every store call into an Outcome and
// mutating the caller's cache only for confirmed results.
package registry

import (
	"context"
	"time"

	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/pipeline"
	"github.com/agentstation/assetsync/pkg/tree"
)

// Registry is the target store.
//
// Create registers the resource and binds it to its policies. Delete removes
// both. Update replaces the resource payload and leaves the binding alone.
type Registry interface {
	Create(ctx context.Context, resource tree.Resource, binding tree.PolicyBinding) error
	Update(ctx context.Context, resource tree.Resource) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Record, error)
}

// Record is one registered resource together with its binding.
type Record struct {
	Resource  tree.Resource      `json:"resource" yaml:"resource"`
	Binding   tree.PolicyBinding `json:"binding" yaml:"binding"`
	CreatedAt time.Time          `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt" yaml:"updatedAt"`
}

// Outcome classifies the result of one store call.
type Outcome int

const (
	// OK means the call succeeded.
	OK Outcome = iota
	// AlreadyExists means the resource was registered before.
	AlreadyExists
	// NotFound means the resource is unknown to the store.
	NotFound
	// DuplicateKeys means the store rejected conflicting keys.
	DuplicateKeys
	// Failed is any other store failure.
	Failed
	// Leased means the resource is locked by another party.
	Leased
)

var outcomeNames = [...]string{"ok", "already_exists", "not_found", "duplicate_keys", "failed", "leased"}

// String returns the metric label of the outcome.
func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return "unknown"
}

// Classify maps a store error to its outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OK
	case errors.IsAlreadyExists(err):
		return AlreadyExists
	case errors.IsNotFound(err):
		return NotFound
	case errors.IsDuplicateKeys(err):
		return DuplicateKeys
	case errors.IsLeased(err):
		return Leased
	default:
		return Failed
	}
}

// Severity returns how the outcome affects a cycle.
func (o Outcome) Severity() pipeline.Severity {
	switch o {
	case OK:
		return 0
	case AlreadyExists:
		return pipeline.Info
	case NotFound, DuplicateKeys:
		return pipeline.Warning
	default:
		return pipeline.Fatal
	}
}
