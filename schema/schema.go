// Package schema defines the descriptors a host registers routes with: the
// route itself, its parameters, the request body and the structural type
// metadata used by content decoders. Descriptors are immutable once a route
// is registered.
package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errRouteMethodRequired   = errors.New("method is required")
	errRoutePatternRequired  = errors.New("pattern is required")
	errRouteScriptRequired   = errors.New("script is required")
	errParameterNameRequired = errors.New("parameter name is required")
	errDuplicateBody         = errors.New("a route can declare at most one body parameter")
	errContentTypesNonBody   = errors.New("contentTypes is only valid on the body parameter")
	errFormOptionsNonBody    = errors.New("form options are only valid on the body parameter")
)

// Route describes one scripted endpoint: the HTTP surface, the script source
// and the binding metadata needed to feed the script.
type Route struct {
	Method   string         `json:"method" yaml:"method" mapstructure:"method"`
	Pattern  string         `json:"pattern" yaml:"pattern" mapstructure:"pattern"`
	Language ScriptLanguage `json:"language" yaml:"language" mapstructure:"language"`
	Script   string         `json:"script" yaml:"script" mapstructure:"script"`
	// ResultType names the declared result type for engines that wrap the
	// source in a typed template. Empty means any.
	ResultType string      `json:"resultType,omitempty" yaml:"resultType,omitempty" mapstructure:"resultType"`
	Parameters []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty" mapstructure:"parameters"`
	// RequestBody is an alternative way to declare the body binding; when
	// set and no parameter carries the body location, a body parameter is
	// synthesized from it.
	RequestBody *RequestBody `json:"requestBody,omitempty" yaml:"requestBody,omitempty" mapstructure:"requestBody"`
	// AllowedContentTypes restricts inbound request media types. Empty
	// means any.
	AllowedContentTypes []string `json:"allowedContentTypes,omitempty" yaml:"allowedContentTypes,omitempty" mapstructure:"allowedContentTypes"`
	// ResponseContentTypes maps a status code to the media types the route
	// may answer with; the first entry is the default.
	ResponseContentTypes map[int][]ResponseContentType `json:"responseContentTypes,omitempty" yaml:"responseContentTypes,omitempty" mapstructure:"responseContentTypes"`
	// Arguments are route-time values injected as session variables on
	// every request.
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty" mapstructure:"arguments"`
	// Locals overlay the shared-state snapshot at preparation time; locals
	// win on case-insensitive key collision.
	Locals map[string]any `json:"locals,omitempty" yaml:"locals,omitempty" mapstructure:"locals"`
	// RequestCulture is a BCP 47 tag applied to the interpreter for the
	// duration of each request.
	RequestCulture string          `json:"requestCulture,omitempty" yaml:"requestCulture,omitempty" mapstructure:"requestCulture"`
	Presets        []ArgumentPreset `json:"presets,omitempty" yaml:"presets,omitempty" mapstructure:"presets"`
	// Imports and References extend the baseline module set available to
	// managed-family scripts.
	Imports    []string `json:"imports,omitempty" yaml:"imports,omitempty" mapstructure:"imports"`
	References []string `json:"references,omitempty" yaml:"references,omitempty" mapstructure:"references"`
	// AuthClaims gates the route: each key must resolve to a claim on the
	// request; a non-empty value must match exactly.
	AuthClaims map[string]string `json:"authClaims,omitempty" yaml:"authClaims,omitempty" mapstructure:"authClaims"`
}

// Parameter describes a single binding from the request to a script variable.
type Parameter struct {
	Name string `json:"name" yaml:"name" mapstructure:"name"`
	// Target optionally names a registered Go type the decoded value is
	// mapped onto. Empty leaves the neutral tree as-is.
	Target string            `json:"target,omitempty" yaml:"target,omitempty" mapstructure:"target"`
	Kind   SchemaKind        `json:"kind,omitempty" yaml:"kind,omitempty" mapstructure:"kind"`
	In     ParameterLocation `json:"in,omitempty" yaml:"in,omitempty" mapstructure:"in"`
	// Default substitutes a missing raw value. Must be compatible with Kind.
	Default any                    `json:"default,omitempty" yaml:"default,omitempty" mapstructure:"default"`
	Explode *bool                  `json:"explode,omitempty" yaml:"explode,omitempty" mapstructure:"explode"`
	Style   ParameterEncodingStyle `json:"style,omitempty" yaml:"style,omitempty" mapstructure:"style"`
	// ContentTypes lists acceptable request media types; body only.
	ContentTypes []string `json:"contentTypes,omitempty" yaml:"contentTypes,omitempty" mapstructure:"contentTypes"`
	// Form configures multipart handling; body only.
	Form *FormOptions `json:"form,omitempty" yaml:"form,omitempty" mapstructure:"form"`
	// Schema optionally describes the decoded structure; the XML decoder
	// uses it for wrapped arrays and attribute mapping.
	Schema *TypeSchema `json:"schema,omitempty" yaml:"schema,omitempty" mapstructure:"schema"`
}

// RequestBody declares the body binding at the route level.
type RequestBody struct {
	// Name is the script variable the decoded body binds to. Defaults to
	// "body".
	Name         string       `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	Target       string       `json:"target,omitempty" yaml:"target,omitempty" mapstructure:"target"`
	Required     bool         `json:"required,omitempty" yaml:"required,omitempty" mapstructure:"required"`
	ContentTypes []string     `json:"contentTypes,omitempty" yaml:"contentTypes,omitempty" mapstructure:"contentTypes"`
	Form         *FormOptions `json:"form,omitempty" yaml:"form,omitempty" mapstructure:"form"`
	Schema       *TypeSchema  `json:"schema,omitempty" yaml:"schema,omitempty" mapstructure:"schema"`
}

// FormOptions configures multipart form handling for a body parameter.
type FormOptions struct {
	// MaxMemory bounds the bytes held in memory per part before spooling
	// to a temp file. Zero means 32 MiB.
	MaxMemory int64 `json:"maxMemory,omitempty" yaml:"maxMemory,omitempty" mapstructure:"maxMemory"`
	// MaxDepth bounds nested multipart recursion. Zero means 4. Parts
	// beyond the bound are truncated, not rejected.
	MaxDepth int `json:"maxDepth,omitempty" yaml:"maxDepth,omitempty" mapstructure:"maxDepth"`
	// FailStatus is the HTTP status reported for form parsing failures.
	// Zero means 400.
	FailStatus int `json:"failStatus,omitempty" yaml:"failStatus,omitempty" mapstructure:"failStatus"`
}

// ResponseContentType pairs a response media type with an optional schema
// reference for documentation purposes.
type ResponseContentType struct {
	ContentType string `json:"contentType" yaml:"contentType" mapstructure:"contentType"`
	SchemaRef   string `json:"schemaRef,omitempty" yaml:"schemaRef,omitempty" mapstructure:"schemaRef"`
}

// TypeSchema describes the structure of a decoded value. It is a pruned
// OpenAPI type schema: only what decoders and the binder consult.
type TypeSchema struct {
	Type       string                 `json:"type,omitempty" yaml:"type,omitempty" mapstructure:"type"`
	Format     string                 `json:"format,omitempty" yaml:"format,omitempty" mapstructure:"format"`
	Nullable   bool                   `json:"nullable,omitempty" yaml:"nullable,omitempty" mapstructure:"nullable"`
	Items      *TypeSchema            `json:"items,omitempty" yaml:"items,omitempty" mapstructure:"items"`
	Properties map[string]*TypeSchema `json:"properties,omitempty" yaml:"properties,omitempty" mapstructure:"properties"`
	XML        *XMLSchema             `json:"xml,omitempty" yaml:"xml,omitempty" mapstructure:"xml"`
}

// XMLSchema holds the XML-specific representation hints of a field.
type XMLSchema struct {
	Name      string `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	Prefix    string `json:"prefix,omitempty" yaml:"prefix,omitempty" mapstructure:"prefix"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty" mapstructure:"namespace"`
	// Wrapped marks an array that is nested inside a wrapper element.
	Wrapped bool `json:"wrapped,omitempty" yaml:"wrapped,omitempty" mapstructure:"wrapped"`
	// Attribute marks a field carried as an XML attribute.
	Attribute bool `json:"attribute,omitempty" yaml:"attribute,omitempty" mapstructure:"attribute"`
	// Text marks the field bound to the element text content.
	Text bool `json:"text,omitempty" yaml:"text,omitempty" mapstructure:"text"`
}

// GetFullName returns the prefixed XML element name.
func (xs XMLSchema) GetFullName(name string) string {
	if xs.Name != "" {
		name = xs.Name
	}
	if xs.Prefix == "" {
		return name
	}
	return xs.Prefix + ":" + name
}

// IsExploded reports whether multi-valued serialization splits values into
// repeated entries. Defaults to true for the form style, false otherwise.
func (p Parameter) IsExploded() bool {
	if p.Explode != nil {
		return *p.Explode
	}
	return p.Style == "" || p.Style == EncodingStyleForm
}

// BodyParameter returns the body binding of the route: the parameter with
// the body location when declared, otherwise one synthesized from
// RequestBody. Returns nil when the route takes no body.
func (r Route) BodyParameter() *Parameter {
	for i := range r.Parameters {
		if r.Parameters[i].In == InBody {
			return &r.Parameters[i]
		}
	}
	if r.RequestBody == nil {
		return nil
	}
	name := r.RequestBody.Name
	if name == "" {
		name = "body"
	}
	return &Parameter{
		Name:         name,
		Target:       r.RequestBody.Target,
		Kind:         KindObject,
		In:           InBody,
		ContentTypes: r.RequestBody.ContentTypes,
		Form:         r.RequestBody.Form,
		Schema:       r.RequestBody.Schema,
	}
}

// Validate checks the route invariants. Field paths in returned errors are
// dotted so callers can surface them verbatim.
func (r Route) Validate() error {
	if strings.TrimSpace(r.Method) == "" {
		return errRouteMethodRequired
	}
	if strings.TrimSpace(r.Pattern) == "" {
		return errRoutePatternRequired
	}
	if _, err := ParseScriptLanguage(string(r.Language)); err != nil {
		return fmt.Errorf("language: %w", err)
	}
	if strings.TrimSpace(r.Script) == "" {
		return errRouteScriptRequired
	}

	bodyCount := 0
	if r.RequestBody != nil {
		bodyCount++
	}
	for i, param := range r.Parameters {
		path := fmt.Sprintf("parameters[%d]", i)
		if err := param.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if param.In == InBody {
			bodyCount++
		}
	}
	if bodyCount > 1 {
		return errDuplicateBody
	}
	return nil
}

// Validate checks the parameter invariants.
func (p Parameter) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errParameterNameRequired
	}
	if p.In != "" {
		if _, err := ParseParameterLocation(string(p.In)); err != nil {
			return fmt.Errorf("in: %w", err)
		}
	}
	if p.Kind != "" {
		if _, err := ParseSchemaKind(string(p.Kind)); err != nil {
			return fmt.Errorf("kind: %w", err)
		}
	}
	if p.Style != "" {
		if _, err := ParseParameterEncodingStyle(string(p.Style)); err != nil {
			return fmt.Errorf("style: %w", err)
		}
	}
	if len(p.ContentTypes) > 0 && p.In != InBody {
		return errContentTypesNonBody
	}
	if p.Form != nil && p.In != InBody {
		return errFormOptionsNonBody
	}
	if p.Default != nil {
		if err := validateDefault(p.Kind, p.Default); err != nil {
			return fmt.Errorf("default: %w", err)
		}
	}
	return nil
}

func validateDefault(kind SchemaKind, value any) error {
	switch kind {
	case KindInteger:
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return nil
		}
	case KindNumber:
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			return nil
		}
	case KindBoolean:
		if _, ok := value.(bool); ok {
			return nil
		}
	case KindArray:
		if _, ok := value.([]any); ok {
			return nil
		}
	case KindObject:
		switch value.(type) {
		case map[string]any, map[any]any:
			return nil
		}
	case KindString, KindNone, "":
		if _, ok := value.(string); ok {
			return nil
		}
	}
	return fmt.Errorf("value %v is not compatible with kind %s", value, kind)
}
