package registry

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/tree"
)

// Operation names used by Memory hooks and call counters.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
	OpList   = "list"
)

// FailureHook lets tests inject store errors. Returning nil lets the call
// proceed normally.
type FailureHook func(ctx context.Context, op, id string) error

// Memory is an in-process Registry.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
	calls   map[string]int
	hook    FailureHook
	now     func() time.Time
}

var _ Registry = (*Memory)(nil)

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]Record),
		calls:   make(map[string]int),
		now:     time.Now,
	}
}

// SetFailureHook installs hook for every subsequent call.
func (m *Memory) SetFailureHook(hook FailureHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = hook
}

// Calls returns how often op was invoked, including failed calls.
func (m *Memory) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// Get returns the record registered under id.
func (m *Memory) Get(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	return r, ok
}

// Len returns the number of registered records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *Memory) begin(ctx context.Context, op, id string) error {
	m.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.hook != nil {
		return m.hook(ctx, op, id)
	}
	return nil
}

// Create implements Registry.
func (m *Memory) Create(ctx context.Context, resource tree.Resource, binding tree.PolicyBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpCreate, resource.ID); err != nil {
		return err
	}
	if _, ok := m.records[resource.ID]; ok {
		return errors.WrapResource(OpCreate, "asset", resource.ID, errors.ErrAlreadyExists)
	}
	now := m.now()
	m.records[resource.ID] = Record{
		Resource:  cloneResource(resource),
		Binding:   binding,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

// Update implements Registry.
func (m *Memory) Update(ctx context.Context, resource tree.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpUpdate, resource.ID); err != nil {
		return err
	}
	rec, ok := m.records[resource.ID]
	if !ok {
		return errors.NewNotFoundError("asset", resource.ID)
	}
	rec.Resource = cloneResource(resource)
	rec.UpdatedAt = m.now()
	m.records[resource.ID] = rec
	return nil
}

// Delete implements Registry.
func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpDelete, id); err != nil {
		return err
	}
	if _, ok := m.records[id]; !ok {
		return errors.NewNotFoundError("asset", id)
	}
	delete(m.records, id)
	return nil
}

// List implements Registry. Records are ordered by resource id.
func (m *Memory) List(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(ctx, OpList, ""); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Resource.ID < out[j].Resource.ID
	})
	return out, nil
}

func cloneResource(r tree.Resource) tree.Resource {
	r.Properties = maps.Clone(r.Properties)
	return r
}
