package engine

import (
	"io"
	"net/http"
)

// ResponseModel is the mutable response a script builds through the bridge.
// The host applies it to the wire after the script returns; until then
// nothing is written.
type ResponseModel struct {
	Status      int
	Header      http.Header
	ContentType string
	// Body is the response payload: a value tree serialized by media type,
	// a string, a []byte or an io.Reader passed through verbatim.
	Body any
	// BodySet distinguishes an explicit nil body from an unset one, so the
	// script return value only becomes the body when no write happened.
	BodySet bool
	// RedirectURL, when set, supersedes status, headers and body.
	RedirectURL string
	// Postponed defers the final write decision to after the script: an
	// error code wins over the payload.
	Postponed *PostponedWrite
}

// PostponedWrite is the deferred outcome a script may register instead of
// writing immediately. When ErrorCode is set the request fails with it and
// the payload is discarded.
type PostponedWrite struct {
	ErrorCode int
	Payload   any
	MediaType string
}

// NewResponseModel creates an empty model with no status decided.
func NewResponseModel() *ResponseModel {
	return &ResponseModel{Header: http.Header{}}
}

// SetBody records the payload and marks the body as explicitly written.
func (m *ResponseModel) SetBody(body any) {
	m.Body = body
	m.BodySet = true
}

// DirectWriter abstracts the raw response stream the bridge exposes for
// streaming responses. Once a script writes through it the model is not
// applied.
type DirectWriter interface {
	io.Writer
	// Flush pushes buffered bytes to the client.
	Flush()
	// Written reports whether any byte or header reached the wire.
	Written() bool
}
