package rewrite

import "sync"

// AllowSet is the shared set of absolute filesystem paths the server
// may serve. Render passes insert into it; connection workers read it.
// It only ever grows within a server run.
type AllowSet struct {
	mu    sync.RWMutex
	paths map[string]struct{}
}

// NewAllowSet creates an empty allow-set.
func NewAllowSet() *AllowSet {
	return &AllowSet{paths: make(map[string]struct{})}
}

// Insert records an absolute path as servable.
func (s *AllowSet) Insert(path string) {
	s.mu.Lock()
	s.paths[path] = struct{}{}
	s.mu.Unlock()
}

// Contains reports whether path was accepted by a render pass.
func (s *AllowSet) Contains(path string) bool {
	s.mu.RLock()
	_, ok := s.paths[path]
	s.mu.RUnlock()
	return ok
}

// Len returns the number of recorded paths.
func (s *AllowSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.paths)
}
