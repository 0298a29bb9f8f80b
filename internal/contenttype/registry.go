// Package contenttype decodes request bodies into the language-neutral value
// tree: values.Map, []any, string, int64, float64, bool, []byte or nil.
// Decoders never fail on malformed content; they return nil and leave the
// failure mode to the parameter binder.
package contenttype

import (
	"github.com/kestrun/kestrun-go/schema"
)

// Hint carries the binding metadata a decoder may consult: the coercion kind
// of the target parameter and its optional structural schema.
type Hint struct {
	Kind   schema.SchemaKind
	Schema *schema.TypeSchema
}

// Decoder turns a raw body into a value tree node.
type Decoder func(data []byte, hint Hint) any

var registry = map[string]Decoder{
	schema.ContentTypeJSON:           DecodeJSON,
	schema.ContentTypeYAML:           DecodeYAML,
	schema.ContentTypeXML:            DecodeXML,
	schema.ContentTypeFormURLEncoded: DecodeForm,
	schema.ContentTypeBSON:           DecodeBSON,
	schema.ContentTypeCBOR:           DecodeCBOR,
	schema.ContentTypeTextCSV:        DecodeCSV,
	schema.ContentTypeOctetStream:    DecodeBinary,
}

// Lookup returns the decoder registered for a canonical media type.
// Multipart types are not byte decoders; they are parsed from the request
// stream by the binder.
func Lookup(canonical string) (Decoder, bool) {
	decoder, ok := registry[canonical]
	return decoder, ok
}

// Decode dispatches data to the decoder registered for the canonical media
// type. The second result reports whether a decoder was found.
func Decode(canonical string, data []byte, hint Hint) (any, bool) {
	decoder, ok := Lookup(canonical)
	if !ok {
		return nil, false
	}
	return decoder(data, hint), true
}

// DecodeBinary passes the raw payload through as a byte string.
func DecodeBinary(data []byte, _ Hint) any {
	if len(data) == 0 {
		return nil
	}
	return data
}
