// Package binder resolves a route's declared parameters from the live
// request: it locates the raw value by location, substitutes defaults,
// normalizes multi-valued inputs, coerces to the declared kind and decodes
// bodies through the content-type registry. Failures surface as taxonomy
// errors carrying their HTTP status.
package binder

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/hasura/ndc-sdk-go/utils"
	"github.com/sirupsen/logrus"

	"github.com/kestrun/kestrun-go/internal/contenttype"
	"github.com/kestrun/kestrun-go/schema"
	"github.com/kestrun/kestrun-go/values"
)

// RouteValues holds the path captures the routing table extracted for the
// request, looked up case-insensitively.
type RouteValues map[string]string

// Get returns the capture for name, matching case-insensitively.
func (rv RouteValues) Get(name string) (string, bool) {
	if value, ok := rv[name]; ok {
		return value, true
	}
	for key, value := range rv {
		if strings.EqualFold(key, name) {
			return value, true
		}
	}
	return "", false
}

// ResolvedParameter pairs a parameter descriptor with its decoded value.
type ResolvedParameter struct {
	Parameter schema.Parameter
	Value     any
}

// Parameters is the request-scoped record the binder produces: one body slot
// plus a case-insensitive name-keyed map for everything else.
type Parameters struct {
	Body  *ResolvedParameter
	named *values.Map
	parts []contenttype.RawPart
}

func newParameters() *Parameters {
	return &Parameters{named: values.NewMap()}
}

// Get returns the resolved parameter by name, matching case-insensitively.
// The body parameter is addressable by its declared name too.
func (p *Parameters) Get(name string) (*ResolvedParameter, bool) {
	if p.Body != nil && strings.EqualFold(p.Body.Parameter.Name, name) {
		return p.Body, true
	}
	raw, ok := p.named.Get(name)
	if !ok {
		return nil, false
	}
	resolved, ok := raw.(*ResolvedParameter)
	return resolved, ok
}

// Names returns the resolved parameter names in declaration order, the body
// parameter last.
func (p *Parameters) Names() []string {
	names := p.named.Keys()
	if p.Body != nil {
		names = append(names, p.Body.Parameter.Name)
	}
	return names
}

// Bindings flattens the record into the plain name->value map injected into
// the interpreter context. Decoded trees are converted to plain maps and
// slices.
func (p *Parameters) Bindings() map[string]any {
	bindings := make(map[string]any, p.named.Len()+1)
	p.named.Range(func(name string, raw any) bool {
		if resolved, ok := raw.(*ResolvedParameter); ok {
			bindings[name] = values.ToPlain(resolved.Value)
		}
		return true
	})
	if p.Body != nil {
		bindings[p.Body.Parameter.Name] = values.ToPlain(p.Body.Value)
	}
	return bindings
}

// RawParts exposes the multipart parts of the request body, when any.
func (p *Parameters) RawParts() []contenttype.RawPart {
	return p.parts
}

// Cleanup removes multipart spool files. Safe to call when no body was
// parsed; always called by the delegate when the request scope closes.
func (p *Parameters) Cleanup() {
	contenttype.Cleanup(p.parts)
	p.parts = nil
}

// Binder resolves parameters for one host. It is safe for concurrent use.
type Binder struct {
	logger *logrus.Logger
	types  *TypeRegistry
}

// New creates a Binder. A nil logger falls back to the standard logrus
// logger; a nil registry means no complex-type mapping.
func New(logger *logrus.Logger, types *TypeRegistry) *Binder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if types == nil {
		types = NewTypeRegistry()
	}
	return &Binder{logger: logger, types: types}
}

// Request carries the inbound surfaces the binder reads. ContentType is the
// canonical media type the negotiator produced, empty when the request did
// not send one.
type Request struct {
	HTTP        *http.Request
	RouteValues RouteValues
	ContentType string
}

// Bind resolves every descriptor against the request. Missing values without
// a default resolve to nil without error; coercion failures resolve to nil;
// body decode failures and content-type problems return a taxonomy error.
func (b *Binder) Bind(req Request, params []schema.Parameter) (*Parameters, *schema.RequestError) {
	result := newParameters()
	debug := b.logger.IsLevelEnabled(logrus.DebugLevel)

	for _, param := range params {
		if param.In == schema.InBody {
			resolved, parts, err := b.bindBody(req, param)
			if err != nil {
				result.Cleanup()
				return nil, err
			}
			result.Body = &ResolvedParameter{Parameter: param, Value: resolved}
			result.parts = parts
			if debug {
				b.logBinding(param, resolved)
			}
			continue
		}

		resolved := b.bindSimple(req, param)
		result.named.Set(param.Name, &ResolvedParameter{Parameter: param, Value: resolved})
		if debug {
			b.logBinding(param, resolved)
		}
	}

	return result, nil
}

func (b *Binder) logBinding(param schema.Parameter, value any) {
	b.logger.WithFields(logrus.Fields{
		"name":     param.Name,
		"kind":     string(param.Kind),
		"location": string(param.In),
		"type":     fmt.Sprintf("%T", value),
	}).Debug("bound parameter")
}

// bindSimple resolves a path, query, header or cookie parameter.
func (b *Binder) bindSimple(req Request, param schema.Parameter) any {
	single, multi, found := locateRaw(req, param)
	if !found {
		if param.Default != nil {
			return values.Normalize(param.Default)
		}
		return nil
	}
	return coerce(param, single, multi)
}

// locateRaw reads the raw value for the parameter's location, already
// normalized to a (single, multi) pair.
func locateRaw(req Request, param schema.Parameter) (string, []string, bool) {
	switch param.In {
	case schema.InQuery:
		query := req.HTTP.URL.Query()
		raw, ok := query[param.Name]
		if !ok || len(raw) == 0 {
			return "", nil, false
		}
		return raw[0], normalizeMulti(param, raw), true
	case schema.InHeader:
		raw := req.HTTP.Header.Get(param.Name)
		if raw == "" {
			return "", nil, false
		}
		return raw, normalizeMulti(param, []string{raw}), true
	case schema.InCookie:
		cookie, err := req.HTTP.Cookie(param.Name)
		if err != nil || cookie == nil {
			return "", nil, false
		}
		return cookie.Value, normalizeMulti(param, []string{cookie.Value}), true
	default: // path
		raw, ok := req.RouteValues.Get(param.Name)
		if !ok {
			return "", nil, false
		}
		return raw, normalizeMulti(param, []string{raw}), true
	}
}

// normalizeMulti expands a raw value list according to the parameter's style:
// exploded inputs are already split by the transport; non-exploded inputs
// carry every element inside the first value, joined by the style delimiter.
func normalizeMulti(param schema.Parameter, raw []string) []string {
	if len(raw) == 0 {
		return nil
	}
	if param.IsExploded() && len(raw) > 1 {
		return raw
	}
	if len(raw) > 1 {
		return raw
	}
	delimiter := styleDelimiter(param)
	if delimiter == "" {
		return raw
	}
	return strings.Split(raw[0], delimiter)
}

func styleDelimiter(param schema.Parameter) string {
	if param.Kind != schema.KindArray {
		return ""
	}
	switch param.Style {
	case schema.EncodingStyleSpaceDelimited:
		return " "
	case schema.EncodingStylePipeDelimited:
		return "|"
	case schema.EncodingStyleSimple:
		return ","
	default:
		if !param.IsExploded() {
			return ","
		}
		if param.In == schema.InPath || param.In == schema.InHeader {
			// simple is the only style those locations support
			return ","
		}
		return ""
	}
}

// coerce turns the normalized raw value into the declared kind. Unparseable
// scalars resolve to nil rather than failing the request.
func coerce(param schema.Parameter, single string, multi []string) any {
	switch param.Kind {
	case schema.KindInteger:
		parsed, err := utils.DecodeInt[int64](single)
		if err != nil {
			return nil
		}
		return parsed
	case schema.KindNumber:
		parsed, err := utils.DecodeFloat[float64](single)
		if err != nil {
			return nil
		}
		return parsed
	case schema.KindBoolean:
		switch {
		case strings.EqualFold(single, "true"):
			return true
		case strings.EqualFold(single, "false"):
			return false
		default:
			return nil
		}
	case schema.KindArray:
		if len(multi) == 0 {
			return []any{single}
		}
		items := make([]any, len(multi))
		for i, item := range multi {
			items[i] = item
		}
		return items
	case schema.KindObject:
		// non-body objects pass the raw string through
		return single
	default: // string, none
		return single
	}
}
