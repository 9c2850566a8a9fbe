package differ

import (
	"bytes"
	"fmt"
	"reflect"
	"sort"

	"github.com/goccy/go-json"

	"github.com/agentstation/assetsync/pkg/tree"
)

// Differ handles change detection between mappings.
type Differ interface {
	// Diff compares the registered mapping with a freshly flattened one.
	// Either side may be nil.
	Diff(existing, updated *tree.Mapping) *Changeset
}

// differ is the default implementation of Differ.
type differ struct {
	ignoreProperties map[string]bool
	byteComparison   bool
}

// New creates a Differ with default settings.
func New(opts ...Option) Differ {
	d := &differ{
		ignoreProperties: make(map[string]bool),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Diff implements Differ.
func (diff *differ) Diff(existing, updated *tree.Mapping) *Changeset {
	changeset := &Changeset{
		Added:   []tree.Entry{},
		Updated: []Update{},
		Removed: []tree.Entry{},
	}
	unchanged := 0

	// Find added and updated entries
	for _, entry := range updated.Entries() {
		key := entry.Key()
		current, exists := existing.Get(key)
		if !exists {
			changeset.Added = append(changeset.Added, entry)
			continue
		}
		changes := diff.resource(current.Resource, entry.Resource)
		if len(changes) == 0 {
			unchanged++
			continue
		}
		changeset.Updated = append(changeset.Updated, Update{
			Key:      key,
			Existing: current,
			Entry: tree.Entry{
				Chain:    entry.Chain,
				Resource: entry.Resource,
				Binding:  current.Binding,
			},
			Changes: changes,
		})
	}

	// Find removed entries
	for _, entry := range existing.Entries() {
		if !updated.Has(entry.Key()) {
			changeset.Removed = append(changeset.Removed, entry)
		}
	}

	// Sort for consistent output
	sortChangeset(changeset)
	changeset.Summary = calculateSummary(changeset, unchanged)

	return changeset
}

// resource compares two payloads and returns the differing fields.
func (diff *differ) resource(existing, updated tree.Resource) []FieldChange {
	if diff.byteComparison && diff.sameEncoding(existing, updated) {
		return nil
	}

	changes := []FieldChange{}

	if existing.ID != updated.ID {
		changes = append(changes, FieldChange{
			Path:     "id",
			OldValue: existing.ID,
			NewValue: updated.ID,
			Type:     ChangeTypeUpdate,
		})
	}

	if existing.ContentType != updated.ContentType && !diff.ignoreProperties["contentType"] {
		changes = append(changes, FieldChange{
			Path:     "contentType",
			OldValue: existing.ContentType,
			NewValue: updated.ContentType,
			Type:     ChangeTypeUpdate,
		})
	}

	changes = append(changes, diff.properties(existing.Properties, updated.Properties)...)

	if len(changes) == 0 {
		return nil
	}
	return changes
}

// properties compares property maps key by key.
func (diff *differ) properties(existing, updated map[string]any) []FieldChange {
	var changes []FieldChange

	for name, newValue := range updated {
		if diff.ignoreProperties[name] {
			continue
		}
		oldValue, ok := existing[name]
		switch {
		case !ok:
			changes = append(changes, FieldChange{
				Path:     name,
				NewValue: truncateString(fmt.Sprintf("%v", newValue), 50),
				Type:     ChangeTypeAdd,
			})
		case !reflect.DeepEqual(oldValue, newValue):
			changes = append(changes, FieldChange{
				Path:     name,
				OldValue: truncateString(fmt.Sprintf("%v", oldValue), 50),
				NewValue: truncateString(fmt.Sprintf("%v", newValue), 50),
				Type:     ChangeTypeUpdate,
			})
		}
	}

	for name, oldValue := range existing {
		if diff.ignoreProperties[name] {
			continue
		}
		if _, ok := updated[name]; !ok {
			changes = append(changes, FieldChange{
				Path:     name,
				OldValue: truncateString(fmt.Sprintf("%v", oldValue), 50),
				Type:     ChangeTypeRemove,
			})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})
	return changes
}

// sameEncoding reports whether both payloads encode to the same canonical
// JSON. Ignored properties are dropped first. Encoding errors count as a
// difference.
func (diff *differ) sameEncoding(existing, updated tree.Resource) bool {
	a, errA := json.Marshal(diff.canonical(existing))
	b, errB := json.Marshal(diff.canonical(updated))
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func (diff *differ) canonical(r tree.Resource) map[string]any {
	props := make(map[string]any, len(r.Properties))
	for k, v := range r.Properties {
		if !diff.ignoreProperties[k] {
			props[k] = v
		}
	}
	out := map[string]any{
		"id":         r.ID,
		"properties": props,
	}
	if !diff.ignoreProperties["contentType"] {
		out["contentType"] = r.ContentType
	}
	return out
}

// sortChangeset sorts all slices in the changeset by chain key.
func sortChangeset(changeset *Changeset) {
	sort.Slice(changeset.Added, func(i, j int) bool {
		return changeset.Added[i].Key() < changeset.Added[j].Key()
	})
	sort.Slice(changeset.Updated, func(i, j int) bool {
		return changeset.Updated[i].Key < changeset.Updated[j].Key
	})
	sort.Slice(changeset.Removed, func(i, j int) bool {
		return changeset.Removed[i].Key() < changeset.Removed[j].Key()
	})
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
