// Package store persists fetched model artifacts by name so later loads can
// skip the network.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio"

	"sdturbo/internal/common/fsutil"
)

// ErrNotFound is returned by Read when no entry exists for a name.
var ErrNotFound = errors.New("store: entry not found")

// Store is a durable name -> bytes map.
type Store interface {
	Read(name string) ([]byte, error)
	// Write replaces any existing entry for name.
	Write(name string, data []byte) error
}

// Dir stores each entry as a file named after the entry inside a directory.
type Dir struct {
	root string
}

// NewDir opens (creating if needed) a directory-backed store. A leading '~'
// is expanded.
func NewDir(root string) (*Dir, error) {
	abs, err := fsutil.CacheDir(root)
	if err != nil {
		return nil, err
	}
	return &Dir{root: abs}, nil
}

// Root is the absolute directory backing the store.
func (d *Dir) Root() string { return d.root }

func (d *Dir) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("store: invalid entry name %q", name)
	}
	return filepath.Join(d.root, name), nil
}

func (d *Dir) Read(name string) ([]byte, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", name, err)
	}
	return b, nil
}

// Write replaces the entry atomically: readers see either the old or the new
// content, never a partial file.
func (d *Dir) Write(name string, data []byte) error {
	p, err := d.path(name)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", name, err)
	}
	return nil
}

// Memory is an in-process Store.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]byte
	reads   int
	writes  int
}

func NewMemory() *Memory { return &Memory{entries: make(map[string][]byte)} }

func (m *Memory) Read(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	b, ok := m.entries[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Write(name string, data []byte) error {
	m.mu.Lock()
	m.writes++
	m.entries[name] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

// Counts returns the number of Read and Write calls so far.
func (m *Memory) Counts() (reads, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.writes
}
