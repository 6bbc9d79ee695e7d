// Package settings is a small named-section key/value store. Values are
// JSON encoded so any serialisable type can be kept under an attribute.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	appErrors "mounterctl/internal/errors"
)

// Backend persists raw attribute values.
type Backend interface {
	Load(ctx context.Context, section, name string) (value []byte, ok bool, err error)
	Save(ctx context.Context, section, name string, value []byte) error
	Close() error
}

// Store hands out sections backed by a single Backend.
type Store struct {
	backend Backend

	mu       sync.Mutex
	sections map[string]*Section
}

// New creates a store over backend.
func New(backend Backend) *Store {
	return &Store{
		backend:  backend,
		sections: make(map[string]*Section),
	}
}

// GetOrCreateSection returns the section with the given id, creating the
// handle on first use. Sections have no storage of their own until an
// attribute is written.
func (s *Store) GetOrCreateSection(id string) *Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sec, ok := s.sections[id]; ok {
		return sec
	}
	sec := &Section{id: id, store: s}
	s.sections[id] = sec
	return sec
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Section groups attributes under one identifier.
type Section struct {
	id    string
	store *Store
}

// ID returns the section identifier.
func (s *Section) ID() string {
	return s.id
}

// Attr is a typed handle to one attribute of a section.
type Attr[T any] struct {
	section *Section
	name    string
}

// Attribute returns a typed handle for name within sec.
func Attribute[T any](sec *Section, name string) Attr[T] {
	return Attr[T]{section: sec, name: name}
}

// Name returns the attribute name.
func (a Attr[T]) Name() string {
	return a.name
}

// Get reads the attribute. ok is false when it was never written.
func (a Attr[T]) Get(ctx context.Context) (value T, ok bool, err error) {
	raw, ok, err := a.section.store.backend.Load(ctx, a.section.id, a.name)
	if err != nil {
		return value, false, storeError("read", a.section.id, a.name, err)
	}
	if !ok {
		return value, false, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false, storeError("decode", a.section.id, a.name, err)
	}
	return value, true, nil
}

// Set writes the attribute.
func (a Attr[T]) Set(ctx context.Context, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return storeError("encode", a.section.id, a.name, err)
	}
	if err := a.section.store.backend.Save(ctx, a.section.id, a.name, raw); err != nil {
		return storeError("write", a.section.id, a.name, err)
	}
	return nil
}

func storeError(op, section, name string, err error) error {
	return appErrors.New(appErrors.CodeSettingsStore, fmt.Sprintf("%s setting %s/%s", op, section, name), err)
}

// MemoryBackend keeps values in process memory.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string][]byte)}
}

func memoryKey(section, name string) string {
	return section + "\x00" + name
}

// Load implements Backend.
func (m *MemoryBackend) Load(_ context.Context, section, name string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[memoryKey(section, name)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Save implements Backend.
func (m *MemoryBackend) Save(_ context.Context, section, name string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.values[memoryKey(section, name)] = stored
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	return nil
}
