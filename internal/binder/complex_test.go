package binder

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/kestrun/kestrun-go/internal/contenttype"
)

type orderTarget struct {
	Title   string    `mapstructure:"title"`
	Count   int       `mapstructure:"count"`
	Created time.Time `mapstructure:"created"`
	Nested  *orderTargetNested
}

type orderTargetNested struct {
	Flag bool
}

func TestMapToTarget(t *testing.T) {
	registry := NewTypeRegistry()
	registry.Register("Order", func() any { return &orderTarget{} })

	decoded := map[string]any{
		"TITLE":   "hello",
		"count":   int64(3),
		"created": "2025-03-01T10:00:00Z",
		"nested":  map[string]any{"flag": true},
	}

	mapped, err := registry.MapToTarget("Order", decoded)
	assert.NilError(t, err)

	order, ok := mapped.(*orderTarget)
	assert.Assert(t, ok)
	assert.Equal(t, "hello", order.Title)
	assert.Equal(t, 3, order.Count)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), order.Created)
	assert.Assert(t, order.Nested != nil)
	assert.Equal(t, true, order.Nested.Flag)
}

func TestMapToTargetUnknownType(t *testing.T) {
	registry := NewTypeRegistry()
	_, err := registry.MapToTarget("Missing", map[string]any{})
	assert.ErrorContains(t, err, "not registered")
}

func TestTruncateDepthPrunesDeepTrees(t *testing.T) {
	// a chain of nested single-key objects deeper than the bind bound
	deep := any("leaf")
	for i := 0; i < MaxBindDepth+4; i++ {
		deep = map[string]any{"next": deep}
	}

	pruned := truncateDepth(deep, 0)

	depth := 0
	current := pruned
	for {
		node, ok := current.(map[string]any)
		if !ok {
			break
		}
		depth++
		current = node["next"]
	}
	assert.Assert(t, current == nil)
	assert.Assert(t, depth <= MaxBindDepth)
}

func TestTruncateDepthKeepsShallowTrees(t *testing.T) {
	tree := map[string]any{"a": []any{int64(1), map[string]any{"b": "c"}}}
	assert.DeepEqual(t, tree, truncateDepth(tree, 0))
}

type uploadTarget struct {
	Title string `part:"title"`
	Data  []byte `part:"file"`
	Meta  map[string]any
	Rest  map[string]any `part:",additional"`
}

func TestBindPartsWithTags(t *testing.T) {
	registry := NewTypeRegistry()
	registry.Register("Upload", func() any { return &uploadTarget{} })

	parts := []contenttype.RawPart{
		{Name: "title", Data: []byte("hello")},
		{Name: "file", FileName: "blob.bin", Data: []byte("raw bytes")},
		{Name: "meta", ContentType: "application/json", Data: []byte(`{"lang": "en"}`)},
		{Name: "extra", ContentType: "application/json", Data: []byte(`{"tag": "x"}`)},
	}

	mapped, err := registry.BindParts("Upload", parts)
	assert.NilError(t, err)

	upload, ok := mapped.(*uploadTarget)
	assert.Assert(t, ok)
	assert.Equal(t, "hello", upload.Title)
	assert.DeepEqual(t, []byte("raw bytes"), upload.Data)
	assert.DeepEqual(t, map[string]any{"lang": "en"}, upload.Meta)
	assert.DeepEqual(t, map[string]any{"extra": map[string]any{"tag": "x"}}, upload.Rest)
}

func TestBindPartsUnknownType(t *testing.T) {
	registry := NewTypeRegistry()
	_, err := registry.BindParts("Missing", nil)
	assert.ErrorContains(t, err, "not registered")
}
