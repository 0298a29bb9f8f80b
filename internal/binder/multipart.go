package binder

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/kestrun/kestrun-go/internal/contenttype"
	"github.com/kestrun/kestrun-go/schema"
	"github.com/kestrun/kestrun-go/values"
)

// partTag is the struct tag binding a field to a multipart part by name.
// `part:",additional"` marks a map field collecting every unmatched part.
const partTag = "part"

var rawPartType = reflect.TypeOf(contenttype.RawPart{})

// BindParts maps the parts of a multipart body onto a fresh instance of the
// named target type using `part` struct tags. Untagged fields match parts by
// field name, case-insensitively.
func (tr *TypeRegistry) BindParts(name string, parts []contenttype.RawPart) (any, error) {
	constructor, ok := tr.constructors[name]
	if !ok {
		return nil, fmt.Errorf("target type %s is not registered", name)
	}

	target := constructor()
	pointer := reflect.ValueOf(target)
	if pointer.Kind() != reflect.Pointer || pointer.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("target type %s must construct a struct pointer", name)
	}

	element := pointer.Elem()
	structType := element.Type()
	matched := make(map[int]bool, len(parts))
	var additional reflect.Value

	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		if !field.IsExported() {
			continue
		}
		tagName, isAdditional := parsePartTag(field)
		if isAdditional {
			additional = element.Field(i)
			continue
		}
		if tagName == "-" {
			continue
		}
		if tagName == "" {
			tagName = field.Name
		}

		index := findPart(parts, tagName)
		if index < 0 {
			continue
		}
		matched[index] = true
		if err := setPartField(element.Field(i), parts[index]); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, field.Name, err)
		}
	}

	if additional.IsValid() && additional.Kind() == reflect.Map {
		bag := reflect.MakeMap(additional.Type())
		for i, part := range parts {
			if matched[i] || part.Name == "" {
				continue
			}
			bag.SetMapIndex(reflect.ValueOf(part.Name), reflect.ValueOf(values.ToPlain(partValue(part))))
		}
		additional.Set(bag)
	}

	return target, nil
}

func parsePartTag(field reflect.StructField) (string, bool) {
	tag, ok := field.Tag.Lookup(partTag)
	if !ok {
		return "", false
	}
	name, options, _ := strings.Cut(tag, ",")
	if options == "additional" {
		return name, true
	}
	return name, false
}

func findPart(parts []contenttype.RawPart, name string) int {
	for i, part := range parts {
		if strings.EqualFold(part.Name, name) {
			return i
		}
	}
	return -1
}

// setPartField assigns one part onto a struct field. Strings get the text
// content, byte slices the raw bytes, raw-part fields the descriptor itself,
// and struct or map fields the decoded document.
func setPartField(field reflect.Value, part contenttype.RawPart) error {
	if field.Type() == rawPartType {
		field.Set(reflect.ValueOf(part))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		data, err := part.Bytes()
		if err != nil {
			return err
		}
		field.SetString(string(data))
		return nil
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.Uint8 {
			data, err := part.Bytes()
			if err != nil {
				return err
			}
			field.SetBytes(data)
			return nil
		}
	case reflect.Map, reflect.Struct, reflect.Pointer:
	default:
		return fmt.Errorf("unsupported part field type %s", field.Type())
	}

	data, err := part.Bytes()
	if err != nil {
		return err
	}
	contentType := part.ContentType
	if contentType == "" {
		contentType = schema.ContentTypeJSON
	}
	decoded, ok := contenttype.Decode(contentType, data, contenttype.Hint{Kind: schema.KindObject})
	if !ok {
		return fmt.Errorf("part content type %s cannot populate %s", part.ContentType, field.Type())
	}

	plain := truncateDepth(values.ToPlain(decoded), 0)
	return decodeOntoField(field, plain)
}

func decodeOntoField(field reflect.Value, plain any) error {
	if field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String &&
		field.Type().Elem().Kind() == reflect.Interface {
		mapped, ok := plain.(map[string]any)
		if !ok {
			return fmt.Errorf("part did not decode to an object")
		}
		field.Set(reflect.ValueOf(mapped))
		return nil
	}

	target := reflect.New(field.Type())
	if err := mapOntoValue(target.Interface(), plain); err != nil {
		return err
	}
	field.Set(target.Elem())
	return nil
}
