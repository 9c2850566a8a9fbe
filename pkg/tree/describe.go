package tree

// Description is one node of a self-description: the tree restricted to
// eligible nodes and their ancestors, annotated with identity.
type Description struct {
	Kind     Kind           `json:"modelType" yaml:"modelType"`
	IDShort  string         `json:"idShort,omitempty" yaml:"idShort,omitempty"`
	ID       string         `json:"id,omitempty" yaml:"id,omitempty"`
	Chain    string         `json:"chain" yaml:"chain"`
	AssetID  string         `json:"assetId,omitempty" yaml:"assetId,omitempty"`
	Policies *Policies      `json:"policies,omitempty" yaml:"policies,omitempty"`
	Children []*Description `json:"children,omitempty" yaml:"children,omitempty"`
}

// Describe annotates roots with chains and asset ids. A node is kept when
// it is eligible or when at least one descendant is kept.
func (f *Flattener) Describe(roots ...Node) []*Description {
	out := make([]*Description, 0, len(roots))
	for _, root := range roots {
		if root == nil || root.Meta().ID == "" {
			continue
		}
		v := &describeVisitor{f: f, chain: RootChain(root.Meta().Kind, root.Meta().ID)}
		root.Accept(v)
		if v.result != nil {
			out = append(out, v.result)
		}
	}
	return out
}

// describeVisitor builds the description of the visited node into result.
type describeVisitor struct {
	f      *Flattener
	chain  Chain
	result *Description
}

func (v *describeVisitor) VisitLeaf(n *Leaf) {
	v.result = v.annotate(n, nil)
}

func (v *describeVisitor) VisitCollection(n *Collection) {
	v.result = v.annotate(n, v.children(n.Children, false))
}

func (v *describeVisitor) VisitList(n *List) {
	v.result = v.annotate(n, v.children(n.Children, true))
}

func (v *describeVisitor) children(nodes []Node, positional bool) []*Description {
	parent := v.chain
	var kept []*Description
	for i, child := range nodes {
		if child == nil {
			continue
		}
		meta := child.Meta()
		var chain Chain
		switch {
		case positional:
			chain = parent.Item(meta.Kind, i)
		case meta.IDShort != "":
			chain = parent.Child(meta.Kind, meta.IDShort)
		default:
			continue
		}
		sub := &describeVisitor{f: v.f, chain: chain}
		child.Accept(sub)
		if sub.result != nil {
			kept = append(kept, sub.result)
		}
	}
	return kept
}

func (v *describeVisitor) annotate(n Node, children []*Description) *Description {
	eligible := v.f.filter(v.chain)
	if !eligible && len(children) == 0 {
		return nil
	}
	meta := n.Meta()
	d := &Description{
		Kind:     meta.Kind,
		IDShort:  meta.IDShort,
		ID:       meta.ID,
		Chain:    v.chain.Key(),
		Children: children,
	}
	if eligible {
		mapFn := v.f.mappers.Element
		if len(v.chain) == 1 {
			mapFn = v.f.mappers.Identifiable
		}
		if mapFn != nil {
			if res, err := mapFn(n, v.chain); err == nil {
				d.AssetID = res.ID
			}
		}
		p := v.f.bindings.BindingFor(v.chain).Policies()
		d.Policies = &p
	}
	return d
}
