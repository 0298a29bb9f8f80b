package schema

import (
	"encoding/json"
	"fmt"
	"slices"
)

// ScriptLanguage represents the guest language enum of a route handler.
type ScriptLanguage string

const (
	// ScriptLanguageLua runs handlers on the embedded Lua interpreter.
	ScriptLanguageLua ScriptLanguage = "lua"
	// ScriptLanguageJavaScript runs handlers compiled once to a shareable
	// ECMAScript program.
	ScriptLanguageJavaScript ScriptLanguage = "javascript"
	// ScriptLanguageTengo runs handlers compiled to Tengo bytecode inside a
	// fixed function template.
	ScriptLanguageTengo ScriptLanguage = "tengo"
)

var scriptLanguage_enums = []ScriptLanguage{
	ScriptLanguageLua,
	ScriptLanguageJavaScript,
	ScriptLanguageTengo,
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *ScriptLanguage) UnmarshalJSON(b []byte) error {
	var rawResult string
	if err := json.Unmarshal(b, &rawResult); err != nil {
		return err
	}

	result, err := ParseScriptLanguage(rawResult)
	if err != nil {
		return err
	}

	*j = result
	return nil
}

// ParseScriptLanguage parses ScriptLanguage from string.
func ParseScriptLanguage(value string) (ScriptLanguage, error) {
	result := ScriptLanguage(value)
	if !slices.Contains(scriptLanguage_enums, result) {
		return result, fmt.Errorf("invalid ScriptLanguage. Expected %+v, got <%s>", scriptLanguage_enums, value)
	}
	return result, nil
}

// ParameterLocation represents the request location a parameter is read from.
type ParameterLocation string

const (
	InPath   ParameterLocation = "path"
	InQuery  ParameterLocation = "query"
	InHeader ParameterLocation = "header"
	InCookie ParameterLocation = "cookie"
	InBody   ParameterLocation = "body"
)

var parameterLocation_enums = []ParameterLocation{InPath, InQuery, InHeader, InCookie, InBody}

// UnmarshalJSON implements json.Unmarshaler.
func (j *ParameterLocation) UnmarshalJSON(b []byte) error {
	var rawResult string
	if err := json.Unmarshal(b, &rawResult); err != nil {
		return err
	}

	result, err := ParseParameterLocation(rawResult)
	if err != nil {
		return err
	}

	*j = result
	return nil
}

// ParseParameterLocation parses ParameterLocation from string.
func ParseParameterLocation(value string) (ParameterLocation, error) {
	result := ParameterLocation(value)
	if !slices.Contains(parameterLocation_enums, result) {
		return result, fmt.Errorf("invalid ParameterLocation. Expected %+v, got <%s>", parameterLocation_enums, value)
	}
	return result, nil
}

// SchemaKind represents the coercion target kind of a parameter.
type SchemaKind string

const (
	KindInteger SchemaKind = "integer"
	KindNumber  SchemaKind = "number"
	KindBoolean SchemaKind = "boolean"
	KindString  SchemaKind = "string"
	KindArray   SchemaKind = "array"
	KindObject  SchemaKind = "object"
	KindNone    SchemaKind = "none"
)

var schemaKind_enums = []SchemaKind{
	KindInteger,
	KindNumber,
	KindBoolean,
	KindString,
	KindArray,
	KindObject,
	KindNone,
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *SchemaKind) UnmarshalJSON(b []byte) error {
	var rawResult string
	if err := json.Unmarshal(b, &rawResult); err != nil {
		return err
	}

	result, err := ParseSchemaKind(rawResult)
	if err != nil {
		return err
	}

	*j = result
	return nil
}

// ParseSchemaKind parses SchemaKind from string. An empty string parses to
// KindNone.
func ParseSchemaKind(value string) (SchemaKind, error) {
	if value == "" {
		return KindNone, nil
	}
	result := SchemaKind(value)
	if !slices.Contains(schemaKind_enums, result) {
		return result, fmt.Errorf("invalid SchemaKind. Expected %+v, got <%s>", schemaKind_enums, value)
	}
	return result, nil
}

// ParameterEncodingStyle represents the serialization style of a multi-valued
// parameter, following the OpenAPI 3 style keywords.
type ParameterEncodingStyle string

const (
	EncodingStyleForm           ParameterEncodingStyle = "form"
	EncodingStyleSimple         ParameterEncodingStyle = "simple"
	EncodingStyleSpaceDelimited ParameterEncodingStyle = "spaceDelimited"
	EncodingStylePipeDelimited  ParameterEncodingStyle = "pipeDelimited"
	EncodingStyleDeepObject     ParameterEncodingStyle = "deepObject"
)

var parameterEncodingStyle_enums = []ParameterEncodingStyle{
	EncodingStyleForm,
	EncodingStyleSimple,
	EncodingStyleSpaceDelimited,
	EncodingStylePipeDelimited,
	EncodingStyleDeepObject,
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *ParameterEncodingStyle) UnmarshalJSON(b []byte) error {
	var rawResult string
	if err := json.Unmarshal(b, &rawResult); err != nil {
		return err
	}

	result, err := ParseParameterEncodingStyle(rawResult)
	if err != nil {
		return err
	}

	*j = result
	return nil
}

// ParseParameterEncodingStyle parses ParameterEncodingStyle from string. An
// empty string parses to EncodingStyleForm.
func ParseParameterEncodingStyle(value string) (ParameterEncodingStyle, error) {
	if value == "" {
		return EncodingStyleForm, nil
	}
	result := ParameterEncodingStyle(value)
	if !slices.Contains(parameterEncodingStyle_enums, result) {
		return result, fmt.Errorf("invalid ParameterEncodingStyle. Expected %+v, got <%s>", parameterEncodingStyle_enums, value)
	}
	return result, nil
}

// Canonical request media types understood by the body decoder registry.
const (
	ContentTypeJSON              = "application/json"
	ContentTypeYAML              = "application/yaml"
	ContentTypeXYAML             = "application/x-yaml"
	ContentTypeTextYAML          = "text/yaml"
	ContentTypeXML               = "application/xml"
	ContentTypeTextXML           = "text/xml"
	ContentTypeFormURLEncoded    = "application/x-www-form-urlencoded"
	ContentTypeMultipartFormData = "multipart/form-data"
	ContentTypeMultipartMixed    = "multipart/mixed"
	ContentTypeBSON              = "application/bson"
	ContentTypeCBOR              = "application/cbor"
	ContentTypeTextCSV           = "text/csv"
	ContentTypeOctetStream       = "application/octet-stream"
	ContentTypeTextPlain         = "text/plain"
	ContentTypeTextEventStream   = "text/event-stream"
)
