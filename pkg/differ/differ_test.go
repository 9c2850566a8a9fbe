package differ_test

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/agentstation/assetsync/pkg/differ"
	"github.com/agentstation/assetsync/pkg/tree"
)

var sm = tree.RootChain(tree.KindSubmodel, "urn:sm:1")

func entry(idShort string, value any) tree.Entry {
	chain := sm.Child(tree.KindProperty, idShort)
	return tree.Entry{
		Chain: chain,
		Resource: tree.Resource{
			ID:         "asset-" + idShort,
			Properties: map[string]any{"idShort": idShort, "value": value},
		},
		Binding: tree.Bind(chain, tree.DefaultPolicies()),
	}
}

func TestDiff_Empty(t *testing.T) {
	cs := differ.New().Diff(nil, nil)
	assert.True(t, cs.IsEmpty())
	assert.Equal(t, "No changes detected", cs.String())
}

func TestDiff_ScenarioB(t *testing.T) {
	existing := tree.NewMapping(entry("P1", "a"), entry("P2", "b"))
	updated := tree.NewMapping(entry("P1", "a"), entry("P2", "c"))

	cs := differ.New().Diff(existing, updated)

	assert.Empty(t, cs.Added)
	assert.Empty(t, cs.Removed)
	require.Len(t, cs.Updated, 1)
	u := cs.Updated[0]
	assert.Equal(t, entry("P2", "").Key(), u.Key)
	assert.Equal(t, "c", u.Entry.Resource.Properties["value"])
	assert.Equal(t, []differ.FieldChange{{Path: "value", OldValue: "b", NewValue: "c", Type: differ.ChangeTypeUpdate}}, u.Changes)
	assert.Equal(t, differ.Summary{Updated: 1, Unchanged: 1, TotalChanges: 1}, cs.Summary)
}

func TestDiff_ScenarioC(t *testing.T) {
	existing := tree.NewMapping(entry("P1", "a"), entry("P2", "b"))
	updated := tree.NewMapping(entry("P1", "a"))

	cs := differ.New().Diff(existing, updated)

	require.Len(t, cs.Removed, 1)
	assert.Equal(t, entry("P2", "b").Key(), cs.Removed[0].Key())
	assert.Equal(t, "Changeset: 1 removed (Total: 1 changes, 1 unchanged)", cs.String())
}

func TestDiff_UpdateKeepsRegisteredBinding(t *testing.T) {
	old := entry("P1", "a")
	old.Binding = tree.Bind(old.Chain, tree.Policies{AccessPolicyID: "registered", ContractPolicyID: "registered"})
	fresh := entry("P1", "z")

	cs := differ.New().Diff(tree.NewMapping(old), tree.NewMapping(fresh))

	require.Len(t, cs.Updated, 1)
	assert.Equal(t, old.Binding, cs.Updated[0].Entry.Binding)
	assert.Equal(t, fresh.Resource, cs.Updated[0].Entry.Resource)
}

func TestDiff_Options(t *testing.T) {
	withStamp := func(stamp string, value any) tree.Entry {
		e := entry("P1", value)
		e.Resource.Properties["fetchedAt"] = stamp
		return e
	}

	t.Run("ignored properties", func(t *testing.T) {
		cs := differ.New(differ.WithIgnoredProperties("fetchedAt")).Diff(
			tree.NewMapping(withStamp("t1", "a")),
			tree.NewMapping(withStamp("t2", "a")),
		)
		assert.True(t, cs.IsEmpty())
		assert.Equal(t, 1, cs.Summary.Unchanged)
	})

	t.Run("byte comparison treats numeric types alike", func(t *testing.T) {
		existing := tree.NewMapping(entry("P1", float64(3)))
		updated := tree.NewMapping(entry("P1", 3))

		assert.True(t, differ.New().Diff(existing, updated).HasChanges())
		assert.True(t, differ.New(differ.WithByteComparison()).Diff(existing, updated).IsEmpty())
	})

	t.Run("added and removed properties", func(t *testing.T) {
		a := entry("P1", "a")
		b := entry("P1", "a")
		delete(b.Resource.Properties, "idShort")
		b.Resource.Properties["semanticId"] = "urn:sem"

		cs := differ.New().Diff(tree.NewMapping(a), tree.NewMapping(b))
		require.Len(t, cs.Updated, 1)
		changes := cs.Updated[0].Changes
		require.Len(t, changes, 2)
		assert.Equal(t, differ.ChangeTypeRemove, changes[0].Type)
		assert.Equal(t, differ.ChangeTypeAdd, changes[1].Type)
	})
}

func TestChangeset_FilterAndPrint(t *testing.T) {
	cs := differ.New().Diff(
		tree.NewMapping(entry("Gone", 1), entry("Kept", 1)),
		tree.NewMapping(entry("Kept", 2), entry("New", 1)),
	)

	additive := cs.Filter(differ.ApplyAdditive)
	assert.Empty(t, additive.Removed)
	assert.Len(t, additive.Added, 1)
	assert.Len(t, additive.Updated, 1)
	assert.Equal(t, 2, additive.Summary.TotalChanges)
	assert.Same(t, cs, cs.Filter(differ.ApplyAll))

	var buf bytes.Buffer
	cs.Print(&buf)
	out := buf.String()
	assert.Contains(t, out, "Added (1)")
	assert.Contains(t, out, "Updated (1)")
	assert.Contains(t, out, "Removed (1)")
	assert.Contains(t, out, "value: 1 → 2")

	_, err := differ.ParseApplyStrategy("updates-only")
	assert.Error(t, err)
}

// TestProperty_DiffCompleteness checks that applying a changeset to the
// existing mapping yields exactly the updated mapping.
func TestProperty_DiffCompleteness(t *testing.T) {
	genMapping := func(t *rapid.T, label string) *tree.Mapping {
		n := rapid.IntRange(0, 12).Draw(t, label+"-n")
		m := tree.NewMapping()
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("P%d", rapid.IntRange(0, 15).Draw(t, fmt.Sprintf("%s-name-%d", label, i)))
			m.Put(entry(name, rapid.IntRange(0, 2).Draw(t, fmt.Sprintf("%s-value-%d", label, i))))
		}
		return m
	}

	rapid.Check(t, func(t *rapid.T) {
		existing := genMapping(t, "existing")
		updated := genMapping(t, "updated")

		cs := differ.New().Diff(existing, updated)

		applied := existing.Clone()
		for _, e := range cs.Removed {
			applied.Delete(e.Key())
		}
		for _, e := range cs.Added {
			applied.Put(e)
		}
		for _, u := range cs.Updated {
			applied.Put(u.Entry)
		}

		if applied.Len() != updated.Len() {
			t.Fatalf("applied %d entries, want %d", applied.Len(), updated.Len())
		}
		for _, want := range updated.Entries() {
			got, ok := applied.Get(want.Key())
			if !ok {
				t.Fatalf("missing %s", want.Key())
			}
			if fmt.Sprint(got.Resource) != fmt.Sprint(want.Resource) {
				t.Fatalf("resource %s = %v, want %v", want.Key(), got.Resource, want.Resource)
			}
		}

		if cs.Summary.Unchanged+cs.Summary.Updated+cs.Summary.Added != updated.Len() {
			t.Fatalf("summary %+v does not cover %d updated entries", cs.Summary, updated.Len())
		}
		if cs.IsEmpty() != (cs.Summary.Unchanged == existing.Len() && existing.Len() == updated.Len()) {
			t.Fatalf("IsEmpty inconsistent with summary %+v", cs.Summary)
		}
	})
}
