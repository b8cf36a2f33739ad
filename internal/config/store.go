package config

import (
	"sync"
)

// Binding records which session the live agent instance was built for and
// which file roots were injected into it. An agent is valid for reuse only
// while both still match the request exactly.
type Binding struct {
	SessionID string
	FileRoots []string
}

// Store holds the active configuration snapshot and the session binding.
// It is one of two independent synchronization domains (the other being
// the agent handle): readers take a short read lock, clone, and release,
// so a status query never blocks behind an in-flight turn.
type Store struct {
	mu         sync.RWMutex
	cfg        *Config
	binding    Binding
	generation uint64
}

// Patch contains configuration fields that can be updated at runtime.
// Nil fields are left unchanged.
type Patch struct {
	Provider    *string
	Model       *string
	APIKey      *string
	APIBase     *string
	Temperature *float64
}

// NewStore creates an empty, uninitialized store.
func NewStore() *Store {
	return &Store{}
}

// Load installs a freshly loaded configuration. Any live agent binding is
// invalidated: the binding is cleared and the generation advances.
func (s *Store) Load(cfg *Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg.Clone()
	s.binding = Binding{}
	s.generation++
}

// Initialized reports whether a configuration has been loaded.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.cfg != nil
}

// Snapshot returns a clone of the active configuration. The clone is
// owned by the caller; the read lock is released before returning.
func (s *Store) Snapshot() (*Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cfg == nil {
		return nil, false
	}
	return s.cfg.Clone(), true
}

// Generation returns the configuration generation. It advances on every
// Load and Update so holders of derived state can detect staleness.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.generation
}

// Update applies a field patch. The session binding is cleared so the next
// turn constructs a fresh agent from the new settings.
func (s *Store) Update(patch Patch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg == nil {
		return false
	}

	if patch.Provider != nil {
		s.cfg.Provider = *patch.Provider
	}
	if patch.Model != nil {
		s.cfg.Model = *patch.Model
	}
	if patch.APIKey != nil {
		s.cfg.APIKey = *patch.APIKey
	}
	if patch.APIBase != nil {
		s.cfg.APIBase = *patch.APIBase
	}
	if patch.Temperature != nil {
		s.cfg.Temperature = *patch.Temperature
	}

	s.binding = Binding{}
	s.generation++
	return true
}

// Binding returns the current session binding.
func (s *Store) Binding() Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b := s.binding
	if b.FileRoots != nil {
		roots := make([]string, len(b.FileRoots))
		copy(roots, b.FileRoots)
		b.FileRoots = roots
	}
	return b
}

// SetBinding records the session and injected file roots the live agent
// was built for. Taken under the write lock only for the duration of the
// assignment, never across agent construction.
func (s *Store) SetBinding(sessionID string, fileRoots []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roots := make([]string, len(fileRoots))
	copy(roots, fileRoots)
	s.binding = Binding{SessionID: sessionID, FileRoots: roots}
}

// ClearBinding drops the session binding.
func (s *Store) ClearBinding() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.binding = Binding{}
}
