package tree_test

import (
	"fmt"
	"sort"
	"testing"

	"pgregory.net/rapid"

	"github.com/agentstation/assetsync/pkg/tree"
)

// genElements draws a slice of uniquely named elements, nesting collections
// and lists up to depth.
func genElements(t *rapid.T, depth int, label string) []tree.Node {
	names := rapid.SliceOfNDistinct(rapid.StringMatching(`[A-Za-z][A-Za-z0-9]{0,6}`), 0, 5, rapid.ID[string]).
		Draw(t, label+"-names")
	nodes := make([]tree.Node, 0, len(names))
	for i, name := range names {
		kind := 0
		if depth > 0 {
			kind = rapid.IntRange(0, 2).Draw(t, fmt.Sprintf("%s-kind-%d", label, i))
		}
		switch kind {
		case 1:
			nodes = append(nodes, tree.NewCollection(name, genElements(t, depth-1, label+"/"+name)...))
		case 2:
			items := genElements(t, depth-1, label+"/"+name)
			nodes = append(nodes, tree.NewList(name, items...))
		default:
			nodes = append(nodes, tree.NewProperty(name, rapid.Int().Draw(t, label+"-value-"+name)))
		}
	}
	return nodes
}

// shuffleCollections returns a copy of n with every collection's children
// permuted. Lists keep their order.
func shuffleCollections(t *rapid.T, n tree.Node, label string) tree.Node {
	switch v := n.(type) {
	case *tree.Collection:
		children := make([]tree.Node, len(v.Children))
		for i, c := range v.Children {
			children[i] = shuffleCollections(t, c, fmt.Sprintf("%s/%d", label, i))
		}
		children = rapid.Permutation(children).Draw(t, label+"-perm")
		return &tree.Collection{Element: v.Element, Children: children}
	case *tree.List:
		children := make([]tree.Node, len(v.Children))
		for i, c := range v.Children {
			children[i] = shuffleCollections(t, c, fmt.Sprintf("%s/%d", label, i))
		}
		return &tree.List{Element: v.Element, Children: children}
	default:
		return n
	}
}

func TestProperty_IdentityStableUnderCollectionReorder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		root := tree.NewSubmodel("urn:sm:prop", "Prop", genElements(t, 2, "root")...)
		shuffled := shuffleCollections(t, root, "root")

		f := tree.NewFlattener(tree.WithMappers(tree.AssetMappers("http://aas")))
		original, _ := f.Flatten(root).Content()
		reordered, _ := f.Flatten(shuffled).Content()

		a, b := original.Keys(), reordered.Keys()
		sort.Strings(a)
		sort.Strings(b)
		if fmt.Sprint(a) != fmt.Sprint(b) {
			t.Fatalf("keys differ after reorder:\n%v\n%v", a, b)
		}
		for _, k := range a {
			ea, _ := original.Get(k)
			eb, _ := reordered.Get(k)
			if ea.Resource.ID != eb.Resource.ID {
				t.Fatalf("asset id for %s changed: %s != %s", k, ea.Resource.ID, eb.Resource.ID)
			}
		}
	})
}

func TestProperty_ListIdentityIsPositional(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 6).Draw(t, "n")
		items := make([]tree.Node, n)
		for i := range items {
			items[i] = tree.NewProperty("", i)
		}
		list := tree.NewList("L", items...)
		sm := tree.NewSubmodel("urn:sm:list", "S", list)

		m, _ := tree.NewFlattener().Flatten(sm).Content()

		base := tree.RootChain(tree.KindSubmodel, "urn:sm:list").Child(tree.KindList, "L")
		for i := 0; i < n; i++ {
			e, ok := m.Get(base.Item(tree.KindProperty, i).Key())
			if !ok {
				t.Fatalf("missing list item %d", i)
			}
			if e.Resource.Properties["value"] != i {
				t.Fatalf("item %d carries value %v", i, e.Resource.Properties["value"])
			}
		}
	})
}
