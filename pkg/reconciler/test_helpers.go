package reconciler

import (
	"context"
	"sync"

	"github.com/agentstation/assetsync/pkg/sources"
	"github.com/agentstation/assetsync/pkg/tree"
)

// MockSource is an in-memory sources.Source for tests. Nodes, errors and
// availability can be changed between cycles.
type MockSource struct {
	mu        sync.Mutex
	uri       string
	nodes     map[sources.Category][]tree.Node
	errs      map[sources.Category]error
	available bool
	fetches   int
	block     chan struct{}
}

var _ sources.Source = (*MockSource)(nil)

// NewMockSource creates an available mock source serving submodels.
func NewMockSource(uri string, submodels ...tree.Node) *MockSource {
	return &MockSource{
		uri:       uri,
		nodes:     map[sources.Category][]tree.Node{sources.Submodels: submodels},
		errs:      make(map[sources.Category]error),
		available: true,
	}
}

// SetNodes replaces the nodes of a category.
func (m *MockSource) SetNodes(category sources.Category, nodes ...tree.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[category] = nodes
}

// SetError makes every fetch of category fail with err. A nil err clears it.
func (m *MockSource) SetError(category sources.Category, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, category)
		return
	}
	m.errs[category] = err
}

// SetAvailable sets the result of Available.
func (m *MockSource) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
}

// Block makes fetches wait until the returned release function is called.
func (m *MockSource) Block() (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan struct{})
	m.block = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.block = nil
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Fetches returns the number of FetchTopLevel calls.
func (m *MockSource) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

// URI implements sources.Source.
func (m *MockSource) URI() string {
	return m.uri
}

// Available implements sources.Source.
func (m *MockSource) Available(context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// FetchTopLevel implements sources.Source. Everything fits on one page.
func (m *MockSource) FetchTopLevel(ctx context.Context, category sources.Category, _ string) (sources.Page, error) {
	m.mu.Lock()
	m.fetches++
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return sources.Page{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[category]; err != nil {
		return sources.Page{}, err
	}
	return sources.Page{Nodes: m.nodes[category]}, nil
}
