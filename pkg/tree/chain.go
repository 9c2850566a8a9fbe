package tree

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/agentstation/assetsync/pkg/errors"
)

// Segment is one (kind, value) step of a Chain. The value is the global id
// for the root, the short name for collection children, and the decimal
// position for list children.
type Segment struct {
	Kind  Kind   `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

// Chain is the root-to-node path identifying a resource.
type Chain []Segment

// RootChain returns the chain of a top-level identifiable.
func RootChain(kind Kind, id string) Chain {
	return Chain{{Kind: kind, Value: id}}
}

// Append returns a new chain extended by seg. The receiver is not modified.
func (c Chain) Append(seg Segment) Chain {
	out := make(Chain, len(c), len(c)+1)
	copy(out, c)
	return append(out, seg)
}

// Child returns the chain of a collection child named idShort.
func (c Chain) Child(kind Kind, idShort string) Chain {
	return c.Append(Segment{Kind: kind, Value: idShort})
}

// Item returns the chain of the list child at position index.
func (c Chain) Item(kind Kind, index int) Chain {
	return c.Append(Segment{Kind: kind, Value: strconv.Itoa(index)})
}

// Root returns the first segment, or the zero segment for an empty chain.
func (c Chain) Root() Segment {
	if len(c) == 0 {
		return Segment{}
	}
	return c[0]
}

// Last returns the final segment, or the zero segment for an empty chain.
func (c Chain) Last() Segment {
	if len(c) == 0 {
		return Segment{}
	}
	return c[len(c)-1]
}

// Parent returns the chain without its final segment.
func (c Chain) Parent() Chain {
	if len(c) <= 1 {
		return nil
	}
	return c[:len(c)-1]
}

// Equal reports whether both chains have identical segments.
func (c Chain) Equal(other Chain) bool {
	if len(c) != len(other) {
		return false
	}
	for i := range c {
		if c[i] != other[i] {
			return false
		}
	}
	return true
}

// Key returns the canonical string form used as map key. Segment values are
// path-escaped so the "/" and ":" separators stay unambiguous.
func (c Chain) Key() string {
	var b strings.Builder
	for i, s := range c {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(string(s.Kind))
		b.WriteByte(':')
		b.WriteString(url.PathEscape(s.Value))
	}
	return b.String()
}

// String implements fmt.Stringer.
func (c Chain) String() string {
	return c.Key()
}

// IDShortPath renders the element part of the chain in AAS idShort path
// notation, e.g. "Nameplate.Markings[0].Name". Empty for top-level chains.
func (c Chain) IDShortPath() string {
	if len(c) <= 1 {
		return ""
	}
	var b strings.Builder
	for i, s := range c[1:] {
		parent := c[i]
		if parent.Kind == KindList {
			b.WriteString("[" + s.Value + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.Value)
	}
	return b.String()
}

// ParseKey parses the output of Chain.Key.
func ParseKey(key string) (Chain, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty chain key", errors.ErrInvalidInput)
	}
	parts := strings.Split(key, "/")
	chain := make(Chain, 0, len(parts))
	for _, part := range parts {
		kind, value, ok := strings.Cut(part, ":")
		if !ok || kind == "" {
			return nil, fmt.Errorf("%w: malformed chain segment %q", errors.ErrInvalidInput, part)
		}
		unescaped, err := url.PathUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed chain segment %q: %w", errors.ErrInvalidInput, part, err)
		}
		chain = append(chain, Segment{Kind: Kind(kind), Value: unescaped})
	}
	return chain, nil
}
