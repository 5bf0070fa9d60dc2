package store

import "sync"

// MemoryDocuments is an in-process Documents used by tests and the
// "memory" backend. Nothing survives a restart.
type MemoryDocuments struct {
	mu       sync.RWMutex
	docs     map[string][]byte
	revision int64

	// FailWrites makes every write return the given error.
	FailWrites error
}

func NewMemoryDocuments() *MemoryDocuments {
	return &MemoryDocuments{docs: make(map[string][]byte)}
}

func (m *MemoryDocuments) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), doc...), nil
}

func (m *MemoryDocuments) Put(key string, doc []byte) error {
	return m.PutAll(map[string][]byte{key: doc})
}

func (m *MemoryDocuments) PutAll(docs map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	m.revision++
	for key, doc := range docs {
		m.docs[key] = append([]byte(nil), doc...)
	}
	return nil
}

func (m *MemoryDocuments) Snapshot(keys ...string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := Snapshot{Revision: m.revision, Docs: make(map[string][]byte, len(keys))}
	for _, key := range keys {
		if doc, ok := m.docs[key]; ok {
			snap.Docs[key] = append([]byte(nil), doc...)
		}
	}
	return snap, nil
}
