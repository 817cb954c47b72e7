package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// SpecLoader loads workflow specification documents by path.
type SpecLoader interface {
	LoadSpec(path string) (*Spec, error)
}

// FileLoader reads specs from the local filesystem and caches parsed
// documents by cleaned path.
type FileLoader struct {
	parser *Parser

	mu    sync.Mutex
	cache map[string]*Spec
}

// NewFileLoader creates a FileLoader.
func NewFileLoader(p *Parser) *FileLoader {
	return &FileLoader{parser: p, cache: make(map[string]*Spec)}
}

// LoadSpec reads and parses the document at path.
func (l *FileLoader) LoadSpec(path string) (*Spec, error) {
	path = filepath.Clean(path)
	l.mu.Lock()
	if s, ok := l.cache[path]; ok {
		l.mu.Unlock()
		return s, nil
	}
	l.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	s, err := l.parser.ParseSpec(data, path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[path] = s
	l.mu.Unlock()
	return s, nil
}

// MapLoader serves specs from an in-memory path -> content map. The
// compile service uses it for request payloads.
type MapLoader struct {
	parser *Parser
	files  map[string][]byte
}

// NewMapLoader creates a MapLoader over files.
func NewMapLoader(p *Parser, files map[string][]byte) *MapLoader {
	return &MapLoader{parser: p, files: files}
}

// LoadSpec parses the named in-memory document.
func (l *MapLoader) LoadSpec(path string) (*Spec, error) {
	data, ok := l.files[path]
	if !ok {
		return nil, fmt.Errorf("read spec: %s: %w", path, os.ErrNotExist)
	}
	return l.parser.ParseSpec(data, path)
}

// Paths lists the in-memory document paths in sorted order.
func (l *MapLoader) Paths() []string {
	paths := make([]string, 0, len(l.files))
	for p := range l.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
