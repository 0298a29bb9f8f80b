package schema

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies request processing failures. The kind decides the
// default HTTP status and whether a body is written at all.
type ErrorKind string

const (
	ErrorKindMissingContentType     ErrorKind = "missing-content-type"
	ErrorKindMalformedContentType   ErrorKind = "malformed-content-type"
	ErrorKindUnsupportedContentType ErrorKind = "unsupported-content-type"
	ErrorKindParameterBinding       ErrorKind = "parameter-binding-failure"
	ErrorKindFormParsing            ErrorKind = "form-parsing-failure"
	ErrorKindParameterResolution    ErrorKind = "parameter-resolution-failure"
	ErrorKindPostponedWrite         ErrorKind = "postponed-write-error"
	ErrorKindScriptRuntime          ErrorKind = "script-runtime-failure"
	ErrorKindScriptDiagnostics      ErrorKind = "script-diagnostics-failure"
	ErrorKindRequestCancelled       ErrorKind = "request-cancelled"
)

// DefaultStatus returns the HTTP status an error kind surfaces with when no
// custom status was configured.
func (k ErrorKind) DefaultStatus() int {
	switch k {
	case ErrorKindMissingContentType, ErrorKindUnsupportedContentType:
		return http.StatusUnsupportedMediaType
	case ErrorKindMalformedContentType, ErrorKindParameterBinding,
		ErrorKindFormParsing, ErrorKindParameterResolution:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// RequestError is a taxonomy-classified request failure carrying the HTTP
// status it should surface with.
type RequestError struct {
	Kind    ErrorKind
	Status  int
	Message string
	Details map[string]any
	wrapped error
}

// NewRequestError creates a RequestError with the kind's default status.
func NewRequestError(kind ErrorKind, message string) *RequestError {
	return &RequestError{
		Kind:    kind,
		Status:  kind.DefaultStatus(),
		Message: message,
	}
}

// WithStatus overrides the surface status, keeping zero values harmless.
func (e *RequestError) WithStatus(status int) *RequestError {
	if status > 0 {
		e.Status = status
	}
	return e
}

// WithDetails attaches structured details rendered into the error body.
func (e *RequestError) WithDetails(details map[string]any) *RequestError {
	e.Details = details
	return e
}

// Wrap records the underlying cause.
func (e *RequestError) Wrap(err error) *RequestError {
	e.wrapped = err
	return e
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *RequestError) Unwrap() error {
	return e.wrapped
}

// NewMissingContentTypeError reports a body without a Content-Type header.
func NewMissingContentTypeError(allowed []string) *RequestError {
	return NewRequestError(ErrorKindMissingContentType,
		"the request has a body but no Content-Type header; expected one of: "+strings.Join(allowed, ", ")).
		WithDetails(map[string]any{"allowed": allowed})
}

// NewMalformedContentTypeError reports an unparseable Content-Type header.
func NewMalformedContentTypeError(raw string) *RequestError {
	return NewRequestError(ErrorKindMalformedContentType,
		fmt.Sprintf("malformed Content-Type header: %q", raw))
}

// NewUnsupportedContentTypeError reports a Content-Type outside the allowed
// list.
func NewUnsupportedContentTypeError(raw string, allowed []string) *RequestError {
	return NewRequestError(ErrorKindUnsupportedContentType,
		fmt.Sprintf("unsupported Content-Type %q; expected one of: %s", raw, strings.Join(allowed, ", "))).
		WithDetails(map[string]any{"contentType": raw, "allowed": allowed})
}
