// Package sources defines the remote tree providers a reconciler reads from.
// A source serves the top-level identifiables of one AAS endpoint, page by
// page and per category; nested elements travel inside their submodel.
//
// Example usage:
//
//	src := aasrest.New("http://aas-env:8081")
//	if !src.Available(ctx) {
//	    return
//	}
//	nodes, err := sources.FetchAll(ctx, src, sources.Submodels)
//	if err != nil {
//	    log.Fatal(err)
//	}
package sources

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/agentstation/assetsync/pkg/constants"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/tree"
)

// Source reads top-level identifiables from one remote tree.
type Source interface {
	// URI identifies the source; it is also the base URL of asset links.
	URI() string

	// Available reports whether the remote answers at all.
	Available(ctx context.Context) bool

	// FetchTopLevel returns one page of a category. An empty cursor starts
	// at the beginning; an empty Page.Cursor marks the last page.
	FetchTopLevel(ctx context.Context, category Category, cursor string) (Page, error)
}

// Page is one page of top-level nodes.
type Page struct {
	Nodes  []tree.Node
	Cursor string
}

// Category is a top-level collection exposed by a source.
type Category string

// Categories of an AAS repository.
const (
	Shells              Category = "shells"
	Submodels           Category = "submodels"
	ConceptDescriptions Category = "concept-descriptions"
)

// String returns the string representation of a category.
func (c Category) String() string {
	return string(c)
}

// Categories returns all categories in fetch order.
func Categories() []Category {
	return []Category{Shells, Submodels, ConceptDescriptions}
}

// FetchAll follows cursors until the last page of category.
func FetchAll(ctx context.Context, src Source, category Category) ([]tree.Node, error) {
	var (
		nodes  []tree.Node
		cursor string
		seen   = make(map[string]bool)
	)
	for page := 0; page < constants.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := src.FetchTopLevel(ctx, category, cursor)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, p.Nodes...)
		if p.Cursor == "" {
			return nodes, nil
		}
		if seen[p.Cursor] {
			return nil, errors.NewResourceError("fetch", "source", src.URI(),
				fmt.Errorf("%s paging repeats cursor %q", category, p.Cursor))
		}
		seen[p.Cursor] = true
		cursor = p.Cursor
	}
	return nil, errors.NewResourceError("fetch", "source", src.URI(),
		fmt.Errorf("%s exceeded %d pages", category, constants.MaxPages))
}

// Sources is a thread-safe container of sources keyed by URI.
type Sources struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewSources creates a new Sources instance.
func NewSources(srcs ...Source) *Sources {
	s := &Sources{
		sources: make(map[string]Source, len(srcs)),
	}
	for _, src := range srcs {
		s.sources[src.URI()] = src
	}
	return s
}

// Get returns a source by URI.
func (s *Sources) Get(uri string) (Source, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, found := s.sources[uri]
	return src, found
}

// Set adds or replaces a source.
func (s *Sources) Set(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.URI()] = src
}

// Delete deletes a source by URI.
func (s *Sources) Delete(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sources, uri)
}

// Len returns the number of sources.
func (s *Sources) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sources)
}

// URIs returns the sorted source URIs.
func (s *Sources) URIs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uris := make([]string, 0, len(s.sources))
	for uri := range s.sources {
		uris = append(uris, uri)
	}
	slices.Sort(uris)
	return uris
}
