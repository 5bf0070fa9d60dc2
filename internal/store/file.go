package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fileSnapshot is the on-disk layout of FileDocuments.
type fileSnapshot struct {
	Revision int64                      `json:"revision"`
	Docs     map[string]json.RawMessage `json:"docs"`
}

// FileDocuments keeps every document in a single JSON file. The file is
// rewritten through a temp file and rename after each write, so a crash
// leaves either the old or the new snapshot on disk.
type FileDocuments struct {
	mu    sync.RWMutex
	path  string
	state fileSnapshot
}

// OpenFileDocuments loads path if it exists; a missing file starts empty.
func OpenFileDocuments(path string) (*FileDocuments, error) {
	f := &FileDocuments{
		path:  path,
		state: fileSnapshot{Docs: make(map[string]json.RawMessage)},
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}
	if len(data) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, &f.state); err != nil {
		return nil, fmt.Errorf("decode snapshot file: %w", err)
	}
	if f.state.Docs == nil {
		f.state.Docs = make(map[string]json.RawMessage)
	}
	return f, nil
}

func (f *FileDocuments) Get(key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	doc, ok := f.state.Docs[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), doc...), nil
}

func (f *FileDocuments) Put(key string, doc []byte) error {
	return f.PutAll(map[string][]byte{key: doc})
}

func (f *FileDocuments) PutAll(docs map[string][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := fileSnapshot{
		Revision: f.state.Revision + 1,
		Docs:     make(map[string]json.RawMessage, len(f.state.Docs)+len(docs)),
	}
	for k, v := range f.state.Docs {
		next.Docs[k] = v
	}
	for k, v := range docs {
		if !json.Valid(v) {
			return fmt.Errorf("put document %q: invalid JSON", k)
		}
		next.Docs[k] = append(json.RawMessage(nil), v...)
	}

	if err := writeSnapshot(f.path, next); err != nil {
		return err
	}
	f.state = next
	return nil
}

func (f *FileDocuments) Snapshot(keys ...string) (Snapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap := Snapshot{Revision: f.state.Revision, Docs: make(map[string][]byte, len(keys))}
	for _, key := range keys {
		if doc, ok := f.state.Docs[key]; ok {
			snap.Docs[key] = append([]byte(nil), doc...)
		}
	}
	return snap, nil
}

func writeSnapshot(path string, snap fileSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".larder-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
