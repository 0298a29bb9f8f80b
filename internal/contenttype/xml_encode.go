package contenttype

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/kestrun/kestrun-go/values"
)

// EncodeXML marshals a value tree to XML under the given root element. Map
// keys starting with "@" become attributes, the "#text" key becomes
// character data and lists repeat their element. An empty root name falls
// back to "xml".
func EncodeXML(value any, rootName string) ([]byte, error) {
	if rootName == "" {
		rootName = "xml"
	}
	var buf bytes.Buffer
	encoder := xml.NewEncoder(&buf)
	if err := encodeXMLValue(encoder, rootName, value); err != nil {
		return nil, err
	}
	if err := encoder.Flush(); err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), buf.Bytes()...), nil
}

func encodeXMLValue(encoder *xml.Encoder, name string, value any) error {
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if err := encodeXMLValue(encoder, name, item); err != nil {
				return err
			}
		}
		return nil
	case *values.Map:
		return encodeXMLMap(encoder, name, v)
	case nil:
		start := xml.StartElement{Name: xml.Name{Local: name}}
		if err := encoder.EncodeToken(start); err != nil {
			return err
		}
		return encoder.EncodeToken(xml.EndElement{Name: start.Name})
	default:
		start := xml.StartElement{Name: xml.Name{Local: name}}
		if err := encoder.EncodeToken(start); err != nil {
			return err
		}
		if err := encoder.EncodeToken(xml.CharData(xmlScalarString(v))); err != nil {
			return err
		}
		return encoder.EncodeToken(xml.EndElement{Name: start.Name})
	}
}

func encodeXMLMap(encoder *xml.Encoder, name string, value *values.Map) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	var text string
	childKeys := make([]string, 0, value.Len())
	children := make(map[string]any, value.Len())
	value.Range(func(key string, item any) bool {
		switch {
		case strings.HasPrefix(key, "@"):
			start.Attr = append(start.Attr, xml.Attr{
				Name:  xml.Name{Local: key[1:]},
				Value: xmlScalarString(item),
			})
		case key == textKey:
			text = xmlScalarString(item)
		default:
			childKeys = append(childKeys, key)
			children[key] = item
		}
		return true
	})

	if err := encoder.EncodeToken(start); err != nil {
		return err
	}
	if text != "" {
		if err := encoder.EncodeToken(xml.CharData(text)); err != nil {
			return err
		}
	}
	for _, key := range childKeys {
		if err := encodeXMLValue(encoder, key, children[key]); err != nil {
			return err
		}
	}
	return encoder.EncodeToken(xml.EndElement{Name: start.Name})
}

func xmlScalarString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return base64.StdEncoding.EncodeToString(v)
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
