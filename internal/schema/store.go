// Package schema generates the JSON Schemas for tools, sub-specifications
// and the workflow grammar, and validates documents against them.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/me/wic/pkg/model"
)

// Store is a write-once registry of schemas keyed by id. Registering
// distinct ids concurrently is safe; re-registering an id fails.
type Store struct {
	mu      sync.RWMutex
	schemas map[string]map[string]any
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{schemas: make(map[string]map[string]any)}
}

// Register adds schema under id.
func (s *Store) Register(id string, schema map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schemas[id]; ok {
		return &model.SchemaRegistrationError{ID: id}
	}
	s.schemas[id] = schema
	return nil
}

// Get returns the schema registered under id.
func (s *Store) Get(id string) (map[string]any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sch, ok := s.schemas[id]
	return sch, ok
}

// IDs lists registered ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.schemas))
	for id := range s.schemas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered schemas.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.schemas)
}

// WriteDir writes every schema to dir under its id, creating
// subdirectories as needed, and returns the written paths in id order.
func (s *Store) WriteDir(dir string) ([]string, error) {
	var written []string
	for _, id := range s.IDs() {
		sch, _ := s.Get(id)
		data, err := json.MarshalIndent(sch, "", "  ")
		if err != nil {
			return written, fmt.Errorf("marshal schema %s: %w", id, err)
		}
		path := filepath.Join(dir, filepath.FromSlash(id))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return written, err
		}
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return written, fmt.Errorf("write schema %s: %w", id, err)
		}
		written = append(written, path)
	}
	return written, nil
}
