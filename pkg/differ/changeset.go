// Package differ compares two mappings and reports what a registry has to
// create, update and delete to move from one to the other.
package differ

import (
	"fmt"
	"io"
	"strings"

	"github.com/agentstation/assetsync/pkg/tree"
)

// ChangeType represents the type of change.
type ChangeType string

const (
	// ChangeTypeAdd indicates a property was added.
	ChangeTypeAdd ChangeType = "add"
	// ChangeTypeUpdate indicates a property value changed.
	ChangeTypeUpdate ChangeType = "update"
	// ChangeTypeRemove indicates a property was removed.
	ChangeTypeRemove ChangeType = "remove"
)

// FieldChange represents a change to a single resource property.
type FieldChange struct {
	Path     string     // Property name, or "contentType"
	OldValue string     // Previous value (string representation)
	NewValue string     // New value (string representation)
	Type     ChangeType // Type of change
}

// Update represents a changed payload for a key present on both sides.
// Entry carries the new resource together with the binding that is already
// registered, so updates never rebind policies.
type Update struct {
	Key      string
	Existing tree.Entry
	Entry    tree.Entry
	Changes  []FieldChange
}

// Changeset represents all changes between two mappings.
type Changeset struct {
	Added   []tree.Entry // Keys only in the updated mapping
	Updated []Update     // Keys on both sides whose payload differs
	Removed []tree.Entry // Keys only in the existing mapping
	Summary Summary
}

// Summary provides summary statistics for a changeset.
type Summary struct {
	Added        int
	Updated      int
	Removed      int
	Unchanged    int
	TotalChanges int
}

// HasChanges returns true if the changeset contains any changes.
func (c *Changeset) HasChanges() bool {
	return c != nil && c.Summary.TotalChanges > 0
}

// IsEmpty returns true if the changeset contains no changes.
func (c *Changeset) IsEmpty() bool {
	return !c.HasChanges()
}

func calculateSummary(c *Changeset, unchanged int) Summary {
	return Summary{
		Added:        len(c.Added),
		Updated:      len(c.Updated),
		Removed:      len(c.Removed),
		Unchanged:    unchanged,
		TotalChanges: len(c.Added) + len(c.Updated) + len(c.Removed),
	}
}

// String returns a human-readable summary of the changeset.
func (c *Changeset) String() string {
	if c.IsEmpty() {
		return "No changes detected"
	}

	var parts []string
	if len(c.Added) > 0 {
		parts = append(parts, fmt.Sprintf("%d added", len(c.Added)))
	}
	if len(c.Updated) > 0 {
		parts = append(parts, fmt.Sprintf("%d updated", len(c.Updated)))
	}
	if len(c.Removed) > 0 {
		parts = append(parts, fmt.Sprintf("%d removed", len(c.Removed)))
	}
	return fmt.Sprintf("Changeset: %s (Total: %d changes, %d unchanged)",
		strings.Join(parts, ", "), c.Summary.TotalChanges, c.Summary.Unchanged)
}

// Print writes a detailed, human-readable view of the changeset to w.
func (c *Changeset) Print(w io.Writer) {
	fmt.Fprintln(w, c.String())
	if c.IsEmpty() {
		return
	}
	fmt.Fprintln(w, strings.Repeat("─", 80))

	if len(c.Added) > 0 {
		fmt.Fprintf(w, "\n➕ Added (%d):\n", len(c.Added))
		for _, e := range c.Added {
			fmt.Fprintf(w, "  • %s -> %s\n", e.Key(), e.Resource.ID)
		}
	}

	if len(c.Updated) > 0 {
		fmt.Fprintf(w, "\n🔄 Updated (%d):\n", len(c.Updated))
		for _, u := range c.Updated {
			fmt.Fprintf(w, "  • %s:\n", u.Key)
			for _, change := range u.Changes {
				fmt.Fprintf(w, "    - %s: %s → %s\n", change.Path, change.OldValue, change.NewValue)
			}
		}
	}

	if len(c.Removed) > 0 {
		fmt.Fprintf(w, "\n⚠️  Removed (%d):\n", len(c.Removed))
		for _, e := range c.Removed {
			fmt.Fprintf(w, "  • %s -> %s\n", e.Key(), e.Resource.ID)
		}
	}
}

// ApplyStrategy represents which kinds of change a registrar applies.
type ApplyStrategy string

const (
	// ApplyAll applies all changes including removals.
	ApplyAll ApplyStrategy = "all"

	// ApplyAdditive only applies additions and updates, never removes.
	ApplyAdditive ApplyStrategy = "additive"
)

// ParseApplyStrategy parses a configured strategy name. Empty means ApplyAll.
func ParseApplyStrategy(s string) (ApplyStrategy, error) {
	switch ApplyStrategy(s) {
	case "", ApplyAll:
		return ApplyAll, nil
	case ApplyAdditive:
		return ApplyAdditive, nil
	}
	return ApplyAll, fmt.Errorf("unknown apply strategy %q", s)
}

// Filter returns the part of the changeset the strategy allows.
func (c *Changeset) Filter(strategy ApplyStrategy) *Changeset {
	if strategy != ApplyAdditive {
		return c
	}
	filtered := &Changeset{
		Added:   c.Added,
		Updated: c.Updated,
	}
	filtered.Summary = calculateSummary(filtered, c.Summary.Unchanged)
	return filtered
}
