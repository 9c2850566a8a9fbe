package tree

import (
	"fmt"

	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/pipeline"
)

// DuplicatePolicy decides which node wins when two nodes share a chain.
type DuplicatePolicy int

const (
	// LastWins keeps the payload of the node flattened last.
	LastWins DuplicatePolicy = iota
	// FirstWins keeps the payload of the node flattened first.
	FirstWins
)

// String returns the configuration name of the policy.
func (p DuplicatePolicy) String() string {
	if p == FirstWins {
		return "first-wins"
	}
	return "last-wins"
}

// ParseDuplicatePolicy parses "first-wins" or "last-wins".
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "", "last-wins", "last":
		return LastWins, nil
	case "first-wins", "first":
		return FirstWins, nil
	}
	return LastWins, fmt.Errorf("%w: unknown duplicate policy %q", errors.ErrInvalidInput, s)
}

// Filter reports whether the node addressed by chain is registered.
type Filter func(chain Chain) bool

// AllEligible registers every node.
func AllEligible(Chain) bool { return true }

// OnlySubmodels registers submodels and their elements only.
func OnlySubmodels(chain Chain) bool {
	return chain.Root().Kind == KindSubmodel
}

// FlattenOption configures a Flattener.
type FlattenOption func(*Flattener)

// WithMappers sets the payload builders.
func WithMappers(m Mappers) FlattenOption {
	return func(f *Flattener) {
		f.mappers = m
	}
}

// WithBindings sets the policy binding resolver.
func WithBindings(r BindingResolver) FlattenOption {
	return func(f *Flattener) {
		f.bindings = r
	}
}

// WithDuplicatePolicy sets how duplicate chains are resolved.
func WithDuplicatePolicy(p DuplicatePolicy) FlattenOption {
	return func(f *Flattener) {
		f.duplicates = p
	}
}

// WithFilter restricts which nodes produce entries.
func WithFilter(fn Filter) FlattenOption {
	return func(f *Flattener) {
		f.filter = fn
	}
}

// Flattener turns trees into mappings.
type Flattener struct {
	mappers    Mappers
	bindings   BindingResolver
	duplicates DuplicatePolicy
	filter     Filter
}

// NewFlattener creates a Flattener. Without options every node is eligible,
// bindings use the default policies, and payloads are asset representations
// relative to an empty base URL.
func NewFlattener(opts ...FlattenOption) *Flattener {
	f := &Flattener{
		mappers:    AssetMappers(""),
		bindings:   NewStaticBindings(DefaultPolicies(), nil),
		duplicates: LastWins,
		filter:     AllEligible,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Flatten walks roots depth-first, pre-order, and returns the mapping of
// every eligible node. Malformed nodes are skipped together with their
// subtree and reported as one warning; duplicate chains are reported as info.
func (f *Flattener) Flatten(roots ...Node) pipeline.Result[*Mapping] {
	v := &flattenVisitor{f: f, out: NewMapping()}
	for _, root := range roots {
		if root == nil {
			continue
		}
		meta := root.Meta()
		if meta.ID == "" {
			v.warnings = append(v.warnings, fmt.Sprintf("top-level %s %q has no identifier", meta.Kind, meta.IDShort))
			continue
		}
		v.chain = RootChain(meta.Kind, meta.ID)
		root.Accept(v)
	}

	var failure *pipeline.Failure
	if len(v.warnings) > 0 {
		failure = pipeline.NewFailure(pipeline.Warning, v.warnings...)
	}
	if len(v.duplicates) > 0 {
		failure = pipeline.Merge(failure, pipeline.NewFailure(pipeline.Info, v.duplicates...))
	}
	return pipeline.From(v.out, failure)
}

// flattenVisitor carries the chain of the node being visited.
type flattenVisitor struct {
	f          *Flattener
	chain      Chain
	out        *Mapping
	warnings   []string
	duplicates []string
}

func (v *flattenVisitor) VisitLeaf(n *Leaf) {
	v.emit(n)
}

func (v *flattenVisitor) VisitCollection(n *Collection) {
	v.emit(n)
	v.descend(n.Children, false)
}

func (v *flattenVisitor) VisitList(n *List) {
	v.emit(n)
	v.descend(n.Children, true)
}

func (v *flattenVisitor) descend(children []Node, positional bool) {
	parent := v.chain
	for i, child := range children {
		if child == nil {
			continue
		}
		meta := child.Meta()
		if positional {
			v.chain = parent.Item(meta.Kind, i)
		} else {
			if meta.IDShort == "" {
				v.warnings = append(v.warnings, fmt.Sprintf("%s child %d of %s has no idShort", meta.Kind, i, parent))
				continue
			}
			v.chain = parent.Child(meta.Kind, meta.IDShort)
		}
		child.Accept(v)
	}
	v.chain = parent
}

func (v *flattenVisitor) emit(n Node) {
	if !v.f.filter(v.chain) {
		return
	}

	mapFn := v.f.mappers.Element
	if len(v.chain) == 1 {
		mapFn = v.f.mappers.Identifiable
	}
	if mapFn == nil {
		v.warnings = append(v.warnings, fmt.Sprintf("no mapper for %s", v.chain))
		return
	}
	resource, err := mapFn(n, v.chain)
	if err != nil {
		v.warnings = append(v.warnings, fmt.Sprintf("mapping %s: %v", v.chain, err))
		return
	}

	entry := Entry{
		Chain:    v.chain,
		Resource: resource,
		Binding:  v.f.bindings.BindingFor(v.chain),
	}
	if v.out.Has(entry.Key()) {
		v.duplicates = append(v.duplicates, fmt.Sprintf("duplicate reference chain %s (%s)", v.chain, v.f.duplicates))
		if v.f.duplicates == FirstWins {
			return
		}
	}
	v.out.Put(entry)
}
