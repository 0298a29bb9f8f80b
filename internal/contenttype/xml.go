package contenttype

import (
	"bytes"
	"encoding/xml"
	"strings"

	"github.com/kestrun/kestrun-go/schema"
	"github.com/kestrun/kestrun-go/values"
)

// textKey carries the character data of an element that also has attributes
// or children.
const textKey = "#text"

// DecodeXML decodes an XML document into the value tree. Leaf elements with
// no attributes become trimmed strings (empty text decodes to nil); anything
// else becomes a map with attributes under "@<name>" keys and children
// grouped by local name, repeated names collected into lists in document
// order. When the hint carries a structural schema, a post-pass unwraps
// wrapped arrays and renames attribute/text-bound properties.
func DecodeXML(data []byte, hint Hint) any {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	start, err := nextXMLStart(decoder)
	if err != nil || start == nil {
		return nil
	}
	root, err := parseXMLElement(decoder, *start)
	if err != nil {
		return nil
	}
	return applyXMLSchema(root.decode(), hint.Schema)
}

func nextXMLStart(decoder *xml.Decoder) (*xml.StartElement, error) {
	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		if start, ok := token.(xml.StartElement); ok {
			return &start, nil
		}
	}
}

type xmlElement struct {
	start    xml.StartElement
	text     string
	order    []string
	children map[string][]*xmlElement
}

func parseXMLElement(decoder *xml.Decoder, start xml.StartElement) (*xmlElement, error) {
	elem := &xmlElement{start: start, children: map[string][]*xmlElement{}}
	for {
		token, err := decoder.Token()
		if err != nil {
			return nil, err
		}
		switch tok := token.(type) {
		case xml.StartElement:
			child, err := parseXMLElement(decoder, tok)
			if err != nil {
				return nil, err
			}
			name := tok.Name.Local
			if _, ok := elem.children[name]; !ok {
				elem.order = append(elem.order, name)
			}
			elem.children[name] = append(elem.children[name], child)
		case xml.CharData:
			elem.text += string(tok)
		case xml.EndElement:
			return elem, nil
		}
	}
}

func (e *xmlElement) attributes() []xml.Attr {
	attrs := make([]xml.Attr, 0, len(e.start.Attr))
	for _, attr := range e.start.Attr {
		if attr.Name.Local == "xmlns" || attr.Name.Space == "xmlns" {
			continue
		}
		attrs = append(attrs, attr)
	}
	return attrs
}

func (e *xmlElement) decode() any {
	attrs := e.attributes()
	text := strings.TrimSpace(e.text)

	if len(e.children) == 0 && len(attrs) == 0 {
		if text == "" {
			return nil
		}
		return text
	}

	result := values.NewMap()
	for _, attr := range attrs {
		result.Set("@"+attr.Name.Local, attr.Value)
	}
	if len(e.children) == 0 && text != "" {
		result.Set(textKey, text)
	}
	for _, name := range e.order {
		items := e.children[name]
		if len(items) == 1 {
			result.Set(name, items[0].decode())
			continue
		}
		list := make([]any, 0, len(items))
		for _, item := range items {
			list = append(list, item.decode())
		}
		result.Set(name, list)
	}
	return result
}

// applyXMLSchema walks the decoded tree alongside the structural schema,
// unwrapping wrapped arrays and renaming attribute- and text-bound
// properties to their logical names. Unwrapped inputs stay valid: a property
// that already decoded to a list is left alone.
func applyXMLSchema(value any, target *schema.TypeSchema) any {
	if target == nil {
		return value
	}
	switch typed := value.(type) {
	case []any:
		if target.Items == nil {
			return typed
		}
		for i, item := range typed {
			typed[i] = applyXMLSchema(item, target.Items)
		}
		return typed
	case *values.Map:
		for name, prop := range target.Properties {
			if prop == nil {
				continue
			}
			applyXMLProperty(typed, name, prop)
		}
		return typed
	default:
		return value
	}
}

func applyXMLProperty(result *values.Map, name string, prop *schema.TypeSchema) {
	xmlName := name
	if prop.XML != nil && prop.XML.Name != "" {
		xmlName = prop.XML.Name
	}

	if prop.XML != nil && prop.XML.Attribute {
		if value, ok := result.Get("@" + xmlName); ok {
			result.Delete("@" + xmlName)
			result.Set(name, value)
		}
		return
	}
	if prop.XML != nil && prop.XML.Text {
		if value, ok := result.Get(textKey); ok {
			result.Delete(textKey)
			result.Set(name, value)
		}
		return
	}

	raw, ok := result.Get(xmlName)
	if !ok {
		return
	}
	if xmlName != name {
		result.Delete(xmlName)
	}

	if prop.XML != nil && prop.XML.Wrapped {
		raw = unwrapXMLArray(raw, prop)
	}
	result.Set(name, applyXMLSchema(raw, prop))
}

// unwrapXMLArray collapses <wrapper><item/>...</wrapper> into the item list.
func unwrapXMLArray(value any, prop *schema.TypeSchema) any {
	wrapper, ok := value.(*values.Map)
	if !ok {
		// already unwrapped (repeated elements) or a scalar
		return value
	}
	list := []any{}
	wrapper.Range(func(key string, item any) bool {
		if strings.HasPrefix(key, "@") || key == textKey {
			return true
		}
		if items, ok := item.([]any); ok {
			list = append(list, items...)
			return true
		}
		list = append(list, item)
		return true
	})
	return list
}
