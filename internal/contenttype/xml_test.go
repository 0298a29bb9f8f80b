package contenttype

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/kestrun/kestrun-go/schema"
	"github.com/kestrun/kestrun-go/values"
)

func TestDecodeXML(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		hint     Hint
		expected any
	}{
		{
			name:     "leaf element",
			input:    `<name> A </name>`,
			expected: "A",
		},
		{
			name:     "empty leaf",
			input:    `<name>  </name>`,
			expected: nil,
		},
		{
			name:  "attributes and children",
			input: `<user id="7"><name>A</name><age>30</age></user>`,
			expected: values.FromPairs(
				"@id", "7",
				"name", "A",
				"age", "30",
			),
		},
		{
			name:  "repeated children become a list in document order",
			input: `<u><tag>a</tag><tag>b</tag><tag>c</tag></u>`,
			expected: values.FromPairs(
				"tag", []any{"a", "b", "c"},
			),
		},
		{
			name:  "attribute with text content",
			input: `<price currency="USD">10</price>`,
			expected: values.FromPairs(
				"@currency", "USD",
				"#text", "10",
			),
		},
		{
			name:  "wrapped array collapses",
			input: `<doc><tags><tag>a</tag><tag>b</tag></tags></doc>`,
			hint: Hint{Schema: &schema.TypeSchema{
				Type: "object",
				Properties: map[string]*schema.TypeSchema{
					"tags": {
						Type:  "array",
						XML:   &schema.XMLSchema{Wrapped: true},
						Items: &schema.TypeSchema{Type: "string"},
					},
				},
			}},
			expected: values.FromPairs("tags", []any{"a", "b"}),
		},
		{
			name:  "unwrapped input stays valid for a wrapped property",
			input: `<doc><tags>a</tags><tags>b</tags></doc>`,
			hint: Hint{Schema: &schema.TypeSchema{
				Type: "object",
				Properties: map[string]*schema.TypeSchema{
					"tags": {
						Type:  "array",
						XML:   &schema.XMLSchema{Wrapped: true},
						Items: &schema.TypeSchema{Type: "string"},
					},
				},
			}},
			expected: values.FromPairs("tags", []any{"a", "b"}),
		},
		{
			name:  "attribute and text bound properties",
			input: `<price currency="USD">10</price>`,
			hint: Hint{Schema: &schema.TypeSchema{
				Type: "object",
				Properties: map[string]*schema.TypeSchema{
					"currency": {Type: "string", XML: &schema.XMLSchema{Attribute: true}},
					"amount":   {Type: "string", XML: &schema.XMLSchema{Text: true}},
				},
			}},
			expected: values.FromPairs("currency", "USD", "amount", "10"),
		},
		{name: "malformed", input: `<a><b></a>`, expected: nil},
		{name: "empty", input: ``, expected: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := DecodeXML([]byte(tc.input), tc.hint)
			assert.DeepEqual(t, values.ToPlain(tc.expected), values.ToPlain(got))
		})
	}
}

func TestEncodeXML(t *testing.T) {
	tree := values.FromPairs(
		"@id", "7",
		"name", "A",
		"tags", []any{"x", "y"},
		"stats", values.FromPairs("score", 1.5),
	)
	raw, err := EncodeXML(tree, "user")
	assert.NilError(t, err)
	assert.Equal(t,
		"<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n"+
			`<user id="7"><name>A</name><tags>x</tags><tags>y</tags><stats><score>1.5</score></stats></user>`,
		string(raw))

	// decode(encode(tree)) keeps the structure
	decoded := DecodeXML(raw, Hint{})
	assert.DeepEqual(t, values.ToPlain(values.FromPairs(
		"@id", "7",
		"name", "A",
		"tags", []any{"x", "y"},
		"stats", values.FromPairs("score", "1.5"),
	)), values.ToPlain(decoded))
}
