package index

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/soundprediction/ipifhub/pkg/types"
)

// MemoryIndex keeps documents in a map. It backs tests and single-process
// deployments without a graph database.
type MemoryIndex struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewMemoryIndex returns an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: map[string]*Document{}}
}

func (m *MemoryIndex) Upsert(_ context.Context, doc *Document) error {
	if doc == nil || doc.ID == "" {
		return types.ErrEmptyID
	}
	c := *doc
	c.URIs = append([]string(nil), doc.URIs...)
	m.mu.Lock()
	m.docs[doc.ID] = &c
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.docs, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryIndex) Get(_ context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %q: %w", id, types.ErrNotFound)
	}
	c := *d
	return &c, nil
}

func (m *MemoryIndex) Query(_ context.Context, q Query) ([]*Document, error) {
	m.mu.RLock()
	var out []*Document
	for _, d := range m.docs {
		if q.Matches(d) {
			c := *d
			out = append(out, &c)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return q.page(out), nil
}

// Len returns the number of documents.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}
