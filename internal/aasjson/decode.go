// Package aasjson decodes AAS JSON serializations into tree nodes.
//
// Both the metamodel v3 layout ("modelType": "Property", "id") and the older
// v2 layout ("modelType": {"name": "Property"}, "identification": {"id"})
// are accepted. YAML documents are converted to JSON first.
package aasjson

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/goccy/go-yaml"

	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/tree"
)

// Format is a serialization format.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Environment is a decoded AAS environment document.
type Environment struct {
	Shells              []tree.Node
	Submodels           []tree.Node
	ConceptDescriptions []tree.Node
}

// Roots returns all top-level nodes: shells, submodels, concept descriptions.
func (e *Environment) Roots() []tree.Node {
	out := make([]tree.Node, 0, len(e.Shells)+len(e.Submodels)+len(e.ConceptDescriptions))
	out = append(out, e.Shells...)
	out = append(out, e.Submodels...)
	return append(out, e.ConceptDescriptions...)
}

type rawEnvironment struct {
	Shells              []json.RawMessage `json:"assetAdministrationShells"`
	Submodels           []json.RawMessage `json:"submodels"`
	ConceptDescriptions []json.RawMessage `json:"conceptDescriptions"`
}

// DecodeEnvironment decodes an environment document in the given format.
func DecodeEnvironment(data []byte, format Format) (*Environment, error) {
	if format == FormatYAML {
		converted, err := yaml.YAMLToJSON(data)
		if err != nil {
			return nil, errors.WrapParse(string(FormatYAML), "", err)
		}
		data = converted
	}

	var raw rawEnvironment
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapParse(string(FormatJSON), "", err)
	}

	env := &Environment{}
	var err error
	if env.Shells, err = decodeAll(raw.Shells, tree.KindShell); err != nil {
		return nil, err
	}
	if env.Submodels, err = decodeAll(raw.Submodels, tree.KindSubmodel); err != nil {
		return nil, err
	}
	if env.ConceptDescriptions, err = decodeAll(raw.ConceptDescriptions, tree.KindConceptDescription); err != nil {
		return nil, err
	}
	return env, nil
}

// DecodeTopLevel decodes identifiables of one kind. kind is used when an
// element omits its modelType, which repositories commonly do for shells.
func DecodeTopLevel(raws []json.RawMessage, kind tree.Kind) ([]tree.Node, error) {
	return decodeAll(raws, kind)
}

// DecodeNode decodes a single element or identifiable.
func DecodeNode(data []byte) (tree.Node, error) {
	return decode(data, "")
}

func decodeAll(raws []json.RawMessage, kind tree.Kind) ([]tree.Node, error) {
	nodes := make([]tree.Node, 0, len(raws))
	for i, raw := range raws {
		n, err := decode(raw, kind)
		if err != nil {
			return nil, fmt.Errorf("%s %d: %w", kind, i, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// modelType accepts both "Property" and {"name": "Property"}.
type modelType string

func (m *modelType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var v2 struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &v2); err != nil {
			return err
		}
		*m = modelType(v2.Name)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*m = modelType(s)
	return nil
}

type reference struct {
	Keys []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"keys"`
}

// first returns the value of the first key.
func (r *reference) first() string {
	if r == nil || len(r.Keys) == 0 {
		return ""
	}
	return r.Keys[0].Value
}

type identification struct {
	ID string `json:"id"`
}

type rawElement struct {
	ModelType        modelType            `json:"modelType"`
	IDShort          string               `json:"idShort"`
	ID               string               `json:"id"`
	Identification   *identification      `json:"identification"`
	SemanticID       *reference           `json:"semanticId"`
	Administration   *tree.Administration `json:"administration"`
	Category         string               `json:"category"`
	ValueType        string               `json:"valueType"`
	ContentType      string               `json:"contentType"`
	Min              any                  `json:"min"`
	Max              any                  `json:"max"`
	Value            json.RawMessage      `json:"value"`
	SubmodelElements []json.RawMessage    `json:"submodelElements"`
	Statements       []json.RawMessage    `json:"statements"`
	Annotations      []json.RawMessage    `json:"annotations"`
}

func decode(data []byte, fallback tree.Kind) (tree.Node, error) {
	var raw rawElement
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapParse(string(FormatJSON), "", err)
	}

	kind := tree.Kind(raw.ModelType)
	if kind == "" {
		kind = fallback
	}
	if kind == "" {
		return nil, &errors.ValidationError{Field: "modelType", Message: "missing"}
	}

	el := tree.Element{
		Kind:           kind,
		IDShort:        raw.IDShort,
		SemanticID:     raw.SemanticID.first(),
		Administration: raw.Administration,
	}
	if kind.Identifiable() {
		el.ID = raw.ID
		if el.ID == "" && raw.Identification != nil {
			el.ID = raw.Identification.ID
		}
	}
	el.Extra = extras(&raw)

	switch kind {
	case tree.KindSubmodel:
		children, err := decodeChildren(raw.SubmodelElements)
		if err != nil {
			return nil, err
		}
		return &tree.Collection{Element: el, Children: children}, nil

	case tree.KindCollection, tree.KindList:
		var raws []json.RawMessage
		if len(raw.Value) > 0 && !isNull(raw.Value) {
			if err := json.Unmarshal(raw.Value, &raws); err != nil {
				return nil, errors.WrapParse(string(FormatJSON), "", fmt.Errorf("%s %q value: %w", kind, raw.IDShort, err))
			}
		}
		children, err := decodeChildren(raws)
		if err != nil {
			return nil, err
		}
		if kind == tree.KindList {
			return &tree.List{Element: el, Children: children}, nil
		}
		return &tree.Collection{Element: el, Children: children}, nil

	case tree.KindEntity:
		children, err := decodeChildren(raw.Statements)
		if err != nil {
			return nil, err
		}
		return &tree.Collection{Element: el, Children: children}, nil

	case tree.KindAnnotatedRelationship:
		children, err := decodeChildren(raw.Annotations)
		if err != nil {
			return nil, err
		}
		return &tree.Collection{Element: el, Children: children}, nil
	}

	if kind == tree.KindRange {
		el.Value = map[string]any{"min": raw.Min, "max": raw.Max}
	} else if len(raw.Value) > 0 && !isNull(raw.Value) && !kind.Identifiable() {
		var v any
		if err := json.Unmarshal(raw.Value, &v); err != nil {
			return nil, errors.WrapParse(string(FormatJSON), "", err)
		}
		el.Value = v
	}
	return &tree.Leaf{Element: el}, nil
}

func decodeChildren(raws []json.RawMessage) ([]tree.Node, error) {
	children := make([]tree.Node, 0, len(raws))
	for _, r := range raws {
		child, err := decode(r, "")
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func extras(raw *rawElement) map[string]any {
	extra := map[string]any{}
	if raw.Category != "" {
		extra["category"] = raw.Category
	}
	if raw.ValueType != "" {
		extra["valueType"] = raw.ValueType
	}
	if raw.ContentType != "" {
		extra["contentType"] = raw.ContentType
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

func isNull(data json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}
