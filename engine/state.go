// Package engine hosts the guest-language machinery: compiled script
// artifacts, the bounded interpreter pool, the script-facing bridge object
// and the server-wide shared state scripts read through per-lease snapshots.
package engine

import (
	"sort"
	"strings"
	"sync"

	"github.com/kestrun/kestrun-go/values"
)

// SharedState is the server-wide key/value store scripts share across
// requests. Keys match case-insensitively and keep their first spelling.
// Reads inside a request go through the snapshot taken at lease time; writes
// land here immediately.
type SharedState struct {
	mu    sync.RWMutex
	names map[string]string
	items map[string]any
}

// NewSharedState creates an empty store.
func NewSharedState() *SharedState {
	return &SharedState{
		names: map[string]string{},
		items: map[string]any{},
	}
}

// Set stores value under name. The value is normalized to the plain tree so
// later snapshots hand guests the same shapes body decoding does.
func (s *SharedState) Set(name string, value any) {
	plain := values.ToPlain(values.Normalize(value))
	folded := strings.ToLower(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	original, ok := s.names[folded]
	if !ok {
		original = name
		s.names[folded] = name
	}
	s.items[original] = plain
}

// Get returns the value stored under name, matching case-insensitively.
func (s *SharedState) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	original, ok := s.names[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	value, ok := s.items[original]
	return value, ok
}

// Delete removes name and reports whether it was present.
func (s *SharedState) Delete(name string) bool {
	folded := strings.ToLower(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	original, ok := s.names[folded]
	if !ok {
		return false
	}
	delete(s.items, original)
	delete(s.names, folded)
	return true
}

// Len returns the number of stored entries.
func (s *SharedState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Keys returns the stored names in sorted order.
func (s *SharedState) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot returns a deep copy of the store. Mutating the copy never leaks
// back; writes made after the snapshot are not visible through it.
func (s *SharedState) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make(map[string]any, len(s.items))
	for key, value := range s.items {
		snapshot[key] = deepCopy(value)
	}
	return snapshot
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		copied := make(map[string]any, len(v))
		for key, item := range v {
			copied[key] = deepCopy(item)
		}
		return copied
	case []any:
		copied := make([]any, len(v))
		for i, item := range v {
			copied[i] = deepCopy(item)
		}
		return copied
	case []byte:
		copied := make([]byte, len(v))
		copy(copied, v)
		return copied
	default:
		return v
	}
}
