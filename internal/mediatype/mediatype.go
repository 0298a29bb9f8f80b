// Package mediatype canonicalizes Content-Type values and checks them
// against a route's allowed list.
package mediatype

import (
	"errors"
	"mime"
	"net/http"
	"slices"
	"strings"

	"github.com/kestrun/kestrun-go/schema"
)

var errEmptyMediaType = errors.New("empty media type")

// aliases folds equivalent media types onto their canonical spelling.
var aliases = map[string]string{
	schema.ContentTypeXYAML:    schema.ContentTypeYAML,
	schema.ContentTypeTextYAML: schema.ContentTypeYAML,
	schema.ContentTypeTextXML:  schema.ContentTypeXML,
	"text/json":                schema.ContentTypeJSON,
}

// Status represents the outcome kind of a content-type check.
type Status string

const (
	StatusOK          Status = "ok"
	StatusMissing     Status = "missing"
	StatusMalformed   Status = "malformed"
	StatusUnsupported Status = "unsupported"
)

// Result is the outcome of a request content-type check.
type Result struct {
	Status Status
	// Canonical is the canonicalized media type when the header parsed.
	Canonical string
	// Raw is the offending header value for malformed and unsupported
	// outcomes.
	Raw string
	// Allowed echoes the route's allowed list for error messages.
	Allowed []string
}

// Canonical strips parameters from a media type, lowercases the
// type/subtype and folds known aliases.
func Canonical(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", errEmptyMediaType
	}
	parsed, _, err := mime.ParseMediaType(trimmed)
	if err != nil {
		return "", err
	}
	if canonical, ok := aliases[parsed]; ok {
		return canonical, nil
	}
	return parsed, nil
}

// Check validates the request content type against the allowed list. An
// empty allowed list always succeeds. A missing content type fails only
// when the request has a body.
func Check(contentType string, hasBody bool, allowed []string) Result {
	canonical, err := Canonical(contentType)

	if len(allowed) == 0 {
		if err != nil {
			canonical = ""
		}
		return Result{Status: StatusOK, Canonical: canonical}
	}

	if strings.TrimSpace(contentType) == "" {
		if hasBody {
			return Result{Status: StatusMissing, Allowed: allowed}
		}
		return Result{Status: StatusOK}
	}

	if err != nil {
		return Result{Status: StatusMalformed, Raw: contentType, Allowed: allowed}
	}

	for _, candidate := range allowed {
		canonicalCandidate, err := Canonical(candidate)
		if err != nil {
			continue
		}
		if canonicalCandidate == canonical {
			return Result{Status: StatusOK, Canonical: canonical}
		}
	}
	return Result{Status: StatusUnsupported, Canonical: canonical, Raw: contentType, Allowed: allowed}
}

// RequestHasBody reports whether the request carries a body: a positive
// Content-Length or any Transfer-Encoding header.
func RequestHasBody(r *http.Request) bool {
	if r.ContentLength > 0 {
		return true
	}
	return len(r.TransferEncoding) > 0 || r.Header.Get("Transfer-Encoding") != ""
}

// IsMultipart reports whether the canonical media type is a multipart kind.
func IsMultipart(canonical string) bool {
	return strings.HasPrefix(canonical, "multipart/")
}

// Supported lists the canonical media types the decoder registry accepts.
func Supported() []string {
	return slices.Clone(supportedMediaTypes)
}

var supportedMediaTypes = []string{
	schema.ContentTypeJSON,
	schema.ContentTypeYAML,
	schema.ContentTypeXML,
	schema.ContentTypeFormURLEncoded,
	schema.ContentTypeMultipartFormData,
	schema.ContentTypeMultipartMixed,
	schema.ContentTypeBSON,
	schema.ContentTypeCBOR,
	schema.ContentTypeTextCSV,
	schema.ContentTypeOctetStream,
}
