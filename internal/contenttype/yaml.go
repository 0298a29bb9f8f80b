package contenttype

import (
	"bytes"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/kestrun/kestrun-go/schema"
	"github.com/kestrun/kestrun-go/values"
)

// DecodeYAML decodes a YAML document into the value tree, preserving mapping
// key order. When the binding target is an object, top-level keys are
// normalized to camel case so YAML and JSON payloads bind the same way.
func DecodeYAML(data []byte, hint Hint) any {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil
	}
	value := decodeYAMLNode(&root)
	if hint.Kind != schema.KindObject {
		return value
	}
	result, ok := value.(*values.Map)
	if !ok {
		return value
	}
	normalized := values.NewMap()
	result.Range(func(key string, item any) bool {
		normalized.Set(camelCase(key), item)
		return true
	})
	return normalized
}

func decodeYAMLNode(node *yaml.Node) any {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil
		}
		return decodeYAMLNode(node.Content[0])
	case yaml.MappingNode:
		result := values.NewMap()
		for i := 0; i+1 < len(node.Content); i += 2 {
			result.Set(node.Content[i].Value, decodeYAMLNode(node.Content[i+1]))
		}
		return result
	case yaml.SequenceNode:
		result := make([]any, 0, len(node.Content))
		for _, item := range node.Content {
			result = append(result, decodeYAMLNode(item))
		}
		return result
	case yaml.AliasNode:
		if node.Alias == nil {
			return nil
		}
		return decodeYAMLNode(node.Alias)
	case yaml.ScalarNode:
		return decodeYAMLScalar(node)
	default:
		return nil
	}
}

func decodeYAMLScalar(node *yaml.Node) any {
	switch node.Tag {
	case "!!null":
		return nil
	case "!!bool":
		var value bool
		if err := node.Decode(&value); err != nil {
			return node.Value
		}
		return value
	case "!!int":
		var value int64
		if err := node.Decode(&value); err != nil {
			var fallback float64
			if err := node.Decode(&fallback); err != nil {
				return node.Value
			}
			return fallback
		}
		return value
	case "!!float":
		var value float64
		if err := node.Decode(&value); err != nil {
			return node.Value
		}
		return value
	case "!!binary":
		var value []byte
		if err := node.Decode(&value); err != nil {
			return node.Value
		}
		return value
	default:
		return node.Value
	}
}

func camelCase(input string) string {
	if input == "" {
		return input
	}
	first, size := utf8.DecodeRuneInString(input)
	if !unicode.IsUpper(first) {
		return input
	}
	return string(unicode.ToLower(first)) + input[size:]
}
