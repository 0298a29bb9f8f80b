// Package values defines the language-neutral value tree that body decoders
// produce and the parameter binder consumes. A tree node is one of: *Map
// (ordered, case-insensitive keys), []any, string, int64, float64, bool,
// []byte or nil.
package values

import (
	"fmt"
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// Map is an insertion-ordered map with case-insensitive keys. The first
// spelling of a key wins; later sets with a different casing update the value
// in place without renaming the key.
type Map struct {
	entries *orderedmap.OrderedMap[string, any]
	folded  map[string]string
}

// NewMap creates an empty Map.
func NewMap() *Map {
	return &Map{
		entries: orderedmap.New[string, any](),
		folded:  map[string]string{},
	}
}

// FromPairs creates a Map from alternating key/value arguments, preserving
// argument order.
func FromPairs(pairs ...any) *Map {
	result := NewMap()
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			continue
		}
		result.Set(key, pairs[i+1])
	}
	return result
}

// Set inserts or replaces the value for key, matching existing keys
// case-insensitively.
func (m *Map) Set(key string, value any) {
	if original, ok := m.folded[foldKey(key)]; ok {
		m.entries.Set(original, value)
		return
	}
	m.folded[foldKey(key)] = key
	m.entries.Set(key, value)
}

// Get returns the value for key, matching case-insensitively.
func (m *Map) Get(key string) (any, bool) {
	original, ok := m.folded[foldKey(key)]
	if !ok {
		return nil, false
	}
	return m.entries.Get(original)
}

// GetOrNil returns the value for key, or nil when absent.
func (m *Map) GetOrNil(key string) any {
	value, _ := m.Get(key)
	return value
}

// Has reports whether key is present, matching case-insensitively.
func (m *Map) Has(key string) bool {
	_, ok := m.folded[foldKey(key)]
	return ok
}

// Delete removes key and reports whether it was present.
func (m *Map) Delete(key string) bool {
	original, ok := m.folded[foldKey(key)]
	if !ok {
		return false
	}
	m.entries.Delete(original)
	delete(m.folded, foldKey(key))
	return ok
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m == nil || m.entries == nil {
		return 0
	}
	return m.entries.Len()
}

// Keys returns the keys in insertion order with their original spelling.
func (m *Map) Keys() []string {
	keys := make([]string, 0, m.Len())
	m.Range(func(key string, _ any) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

// Range calls fn for each entry in insertion order until fn returns false.
func (m *Map) Range(fn func(key string, value any) bool) {
	if m == nil || m.entries == nil {
		return
	}
	for pair := m.entries.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// ToPlain converts the tree rooted at m into plain Go maps and slices. Key
// order is lost; the result suits libraries that expect map[string]any.
func (m *Map) ToPlain() map[string]any {
	result := make(map[string]any, m.Len())
	m.Range(func(key string, value any) bool {
		result[key] = ToPlain(value)
		return true
	})
	return result
}

// MarshalJSON serializes entries in insertion order.
func (m *Map) MarshalJSON() ([]byte, error) {
	return m.entries.MarshalJSON()
}

// MarshalYAML serializes entries in insertion order as a YAML mapping.
func (m *Map) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	var encodeErr error
	m.Range(func(key string, value any) bool {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: key}
		valueNode := &yaml.Node{}
		if err := valueNode.Encode(value); err != nil {
			encodeErr = err
			return false
		}
		node.Content = append(node.Content, keyNode, valueNode)
		return true
	})
	if encodeErr != nil {
		return nil, encodeErr
	}
	return node, nil
}

// ToPlain converts any tree node into plain Go values, recursively replacing
// *Map with map[string]any.
func ToPlain(value any) any {
	switch v := value.(type) {
	case *Map:
		if v == nil {
			return nil
		}
		return v.ToPlain()
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = ToPlain(item)
		}
		return result
	default:
		return value
	}
}

// Normalize converts arbitrary decoded input into tree nodes: plain maps
// become *Map (insertion order of the source map is undefined, so keys are
// sorted by first encounter), map[any]any keys are stringified, integers are
// widened to int64 and floats to float64.
func Normalize(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case *Map:
		return v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		result := NewMap()
		for _, key := range keys {
			result.Set(key, Normalize(v[key]))
		}
		return result
	case map[any]any:
		byName := make(map[string]any, len(v))
		keys := make([]string, 0, len(v))
		for key, item := range v {
			name := fmt.Sprint(key)
			if _, exists := byName[name]; !exists {
				keys = append(keys, name)
			}
			byName[name] = item
		}
		sort.Strings(keys)
		result := NewMap()
		for _, key := range keys {
			result.Set(key, Normalize(byName[key]))
		}
		return result
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = Normalize(item)
		}
		return result
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case float32:
		return float64(v)
	default:
		return value
	}
}

func foldKey(key string) string {
	return strings.ToLower(key)
}
