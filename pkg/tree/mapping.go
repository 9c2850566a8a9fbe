package tree

import "sort"

// Resource is the representation committed to the target registry.
type Resource struct {
	ID          string         `json:"id" yaml:"id"`
	ContentType string         `json:"contentType,omitempty" yaml:"contentType,omitempty"`
	Properties  map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// Entry pairs a chain with its resource and binding.
type Entry struct {
	Chain    Chain         `json:"chain" yaml:"chain"`
	Resource Resource      `json:"resource" yaml:"resource"`
	Binding  PolicyBinding `json:"binding" yaml:"binding"`
}

// Key returns the identity key of the entry.
func (e Entry) Key() string {
	return e.Chain.Key()
}

// Mapping is an insertion-ordered map from chain key to Entry. A nil
// *Mapping behaves as an empty mapping for reads. Mapping is not safe for
// concurrent use.
type Mapping struct {
	entries map[string]Entry
	order   map[string]uint64
	next    uint64
}

// NewMapping creates an empty mapping.
func NewMapping(entries ...Entry) *Mapping {
	m := &Mapping{
		entries: make(map[string]Entry, len(entries)),
		order:   make(map[string]uint64, len(entries)),
	}
	for _, e := range entries {
		m.Put(e)
	}
	return m
}

// Len returns the number of entries.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Get returns the entry for key.
func (m *Mapping) Get(key string) (Entry, bool) {
	if m == nil {
		return Entry{}, false
	}
	e, ok := m.entries[key]
	return e, ok
}

// Has reports whether key is present.
func (m *Mapping) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Put inserts or replaces the entry under its key. A replaced entry keeps
// its original position. It reports whether an entry was replaced.
func (m *Mapping) Put(e Entry) bool {
	key := e.Key()
	_, exists := m.entries[key]
	if !exists {
		m.order[key] = m.next
		m.next++
	}
	m.entries[key] = e
	return exists
}

// Delete removes key and reports whether it was present.
func (m *Mapping) Delete(key string) bool {
	if _, ok := m.entries[key]; !ok {
		return false
	}
	delete(m.entries, key)
	delete(m.order, key)
	return true
}

// Keys returns the keys in insertion order.
func (m *Mapping) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return m.order[keys[i]] < m.order[keys[j]]
	})
	return keys
}

// Entries returns the entries in insertion order.
func (m *Mapping) Entries() []Entry {
	keys := m.Keys()
	out := make([]Entry, len(keys))
	for i, k := range keys {
		out[i] = m.entries[k]
	}
	return out
}

// Clone returns a shallow copy preserving order.
func (m *Mapping) Clone() *Mapping {
	if m == nil {
		return NewMapping()
	}
	return NewMapping(m.Entries()...)
}
