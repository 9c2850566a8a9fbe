package tree

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/agentstation/assetsync/pkg/constants"
)

// MapFunc builds the registered representation of a node.
type MapFunc func(n Node, chain Chain) (Resource, error)

// Mappers selects a MapFunc per node category.
type Mappers struct {
	// Identifiable maps shells, submodels and concept descriptions.
	Identifiable MapFunc
	// Element maps nested submodel elements.
	Element MapFunc
}

// AssetMappers returns mappers producing asset representations addressed
// relative to baseURL.
func AssetMappers(baseURL string) Mappers {
	baseURL = strings.TrimRight(baseURL, "/")
	return Mappers{
		Identifiable: func(n Node, chain Chain) (Resource, error) {
			return assetResource(baseURL, n, chain, true)
		},
		Element: func(n Node, chain Chain) (Resource, error) {
			return assetResource(baseURL, n, chain, false)
		},
	}
}

func assetResource(baseURL string, n Node, chain Chain, identifiable bool) (Resource, error) {
	path, err := AssetPath(chain)
	if err != nil {
		return Resource{}, err
	}
	meta := n.Meta()

	props := make(map[string]any, len(meta.Extra)+8)
	for k, v := range meta.Extra {
		props[k] = v
	}
	props["modelType"] = string(meta.Kind)
	if _, ok := props["accessUrl"]; !ok {
		// Registry sources supply the endpoint of the described element.
		props["accessUrl"] = baseURL + "/" + path
	}
	if meta.IDShort != "" {
		props["idShort"] = meta.IDShort
	}
	if meta.SemanticID != "" {
		props["semanticId"] = meta.SemanticID
	}
	if identifiable {
		props["id"] = meta.ID
		if a := meta.Administration; a != nil {
			if a.Version != "" {
				props["version"] = a.Version
			}
			if a.Revision != "" {
				props["revision"] = a.Revision
			}
		}
	} else {
		props["idShortPath"] = chain.IDShortPath()
		if meta.Value != nil {
			props["value"] = meta.Value
		}
	}

	return Resource{
		ID:          AssetID(baseURL, chain),
		ContentType: constants.ContentTypeJSON,
		Properties:  props,
	}, nil
}

// AssetPath returns the repository path of the node addressed by chain:
// the category prefix, the base64url root id and, for nested elements,
// "/submodel-elements/" followed by the idShort path.
func AssetPath(chain Chain) (string, error) {
	root := chain.Root()
	var prefix string
	switch root.Kind {
	case KindShell:
		prefix = "shells/"
	case KindSubmodel:
		prefix = "submodels/"
	case KindConceptDescription:
		prefix = "concept-descriptions/"
	default:
		return "", fmt.Errorf("chain %s does not start at an identifiable", chain)
	}
	path := prefix + base64.URLEncoding.EncodeToString([]byte(root.Value))
	if len(chain) > 1 {
		path += "/submodel-elements/" + chain.IDShortPath()
	}
	return path, nil
}

// AssetID derives a stable asset id, 16 hex digits, from the source location
// and the chain key, so elements whose idShort paths coincide still get
// distinct ids.
func AssetID(baseURL string, chain Chain) string {
	sum := xxhash.Sum64String(strings.TrimRight(baseURL, "/") + "\n" + chain.Key())
	return fmt.Sprintf("%016x", sum)
}
