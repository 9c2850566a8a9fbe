// Package tree models Asset Administration Shell trees and flattens them into
// keyed resource mappings.
//
// A tree is built from three node variants: Leaf, Collection (children keyed
// by name, order irrelevant) and List (children keyed by position). Every node
// is identified by the Chain of segments from its top-level identifiable down
// to itself. Flattening walks the tree depth-first, pre-order, through a single
// Visitor and emits one Entry per eligible node.
package tree

// Kind is the AAS key type of a node.
type Kind string

// Top-level identifiable kinds.
const (
	KindShell              Kind = "AssetAdministrationShell"
	KindSubmodel           Kind = "Submodel"
	KindConceptDescription Kind = "ConceptDescription"
)

// Submodel element kinds.
const (
	KindCollection            Kind = "SubmodelElementCollection"
	KindList                  Kind = "SubmodelElementList"
	KindProperty              Kind = "Property"
	KindMultiLanguageProperty Kind = "MultiLanguageProperty"
	KindRange                 Kind = "Range"
	KindFile                  Kind = "File"
	KindBlob                  Kind = "Blob"
	KindReferenceElement      Kind = "ReferenceElement"
	KindRelationshipElement   Kind = "RelationshipElement"
	KindAnnotatedRelationship Kind = "AnnotatedRelationshipElement"
	KindEntity                Kind = "Entity"
	KindOperation             Kind = "Operation"
	KindCapability            Kind = "Capability"
	KindBasicEventElement     Kind = "BasicEventElement"
)

// Identifiable reports whether nodes of this kind are top-level identifiables.
func (k Kind) Identifiable() bool {
	return k == KindShell || k == KindSubmodel || k == KindConceptDescription
}

// Administration carries optional version information.
type Administration struct {
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
	Revision string `json:"revision,omitempty" yaml:"revision,omitempty"`
}

// Element holds the attributes shared by every node variant.
type Element struct {
	Kind           Kind
	IDShort        string
	ID             string // only set on top-level identifiables
	SemanticID     string
	Administration *Administration
	Value          any
	Extra          map[string]any
}

// Node is a node of the closed variant Leaf | Collection | List.
type Node interface {
	// Meta returns the node's shared attributes.
	Meta() *Element
	// Accept dispatches to the matching Visitor method.
	Accept(v Visitor)

	sealed()
}

// Visitor handles each node variant.
type Visitor interface {
	VisitLeaf(n *Leaf)
	VisitCollection(n *Collection)
	VisitList(n *List)
}

// Leaf is a node without children.
type Leaf struct {
	Element
}

// Collection is a node whose children are identified by their short names.
type Collection struct {
	Element
	Children []Node
}

// List is a node whose children are identified by their position.
type List struct {
	Element
	Children []Node
}

func (n *Leaf) Meta() *Element       { return &n.Element }
func (n *Collection) Meta() *Element { return &n.Element }
func (n *List) Meta() *Element       { return &n.Element }

func (n *Leaf) Accept(v Visitor)       { v.VisitLeaf(n) }
func (n *Collection) Accept(v Visitor) { v.VisitCollection(n) }
func (n *List) Accept(v Visitor)       { v.VisitList(n) }

func (*Leaf) sealed()       {}
func (*Collection) sealed() {}
func (*List) sealed()       {}

// NewShell creates a shell node.
func NewShell(id, idShort string) *Leaf {
	return &Leaf{Element: Element{Kind: KindShell, ID: id, IDShort: idShort}}
}

// NewConceptDescription creates a concept description node.
func NewConceptDescription(id, idShort string) *Leaf {
	return &Leaf{Element: Element{Kind: KindConceptDescription, ID: id, IDShort: idShort}}
}

// NewSubmodel creates a submodel node holding the given elements.
func NewSubmodel(id, idShort string, elements ...Node) *Collection {
	return &Collection{
		Element:  Element{Kind: KindSubmodel, ID: id, IDShort: idShort},
		Children: elements,
	}
}

// NewProperty creates a property leaf.
func NewProperty(idShort string, value any) *Leaf {
	return &Leaf{Element: Element{Kind: KindProperty, IDShort: idShort, Value: value}}
}

// NewCollection creates a submodel element collection.
func NewCollection(idShort string, children ...Node) *Collection {
	return &Collection{
		Element:  Element{Kind: KindCollection, IDShort: idShort},
		Children: children,
	}
}

// NewList creates a submodel element list.
func NewList(idShort string, children ...Node) *List {
	return &List{
		Element:  Element{Kind: KindList, IDShort: idShort},
		Children: children,
	}
}
