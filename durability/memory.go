package durability

import (
	"context"
	"sort"
	"sync"

	"github.com/c360/semdds/errors"
	"github.com/c360/semdds/rtps"
)

// MemoryStore keeps records for the life of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	topics map[string]map[rtps.KeyHash]Record
	closed bool
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{topics: make(map[string]map[rtps.KeyHash]Record)}
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, rec Record) error {
	if err := validate("Put", rec.Topic); err != nil {
		return err
	}
	rec.Samples = cloneSamples(rec.Samples)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.ErrAlreadyDeleted
	}
	inst, ok := m.topics[rec.Topic]
	if !ok {
		inst = make(map[rtps.KeyHash]Record)
		m.topics[rec.Topic] = inst
	}
	inst[rec.Key] = rec
	return nil
}

// Load implements Store. Records are ordered by key.
func (m *MemoryStore) Load(_ context.Context, topic string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, errors.ErrAlreadyDeleted
	}
	out := make([]Record, 0, len(m.topics[topic]))
	for _, rec := range m.topics[topic] {
		rec.Samples = cloneSamples(rec.Samples)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, topic string, key rtps.KeyHash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.ErrAlreadyDeleted
	}
	if inst, ok := m.topics[topic]; ok {
		delete(inst, key)
		if len(inst) == 0 {
			delete(m.topics, topic)
		}
	}
	return nil
}

// Close drops every record.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.topics = nil
	return nil
}

func cloneSamples(in []Sample) []Sample {
	if in == nil {
		return nil
	}
	out := make([]Sample, len(in))
	for i, s := range in {
		s.Data = append([]byte(nil), s.Data...)
		out[i] = s
	}
	return out
}
