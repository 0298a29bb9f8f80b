package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"

	"github.com/kestrun/kestrun-go/engine"
	"github.com/kestrun/kestrun-go/internal/contenttype"
	"github.com/kestrun/kestrun-go/internal/mediatype"
	"github.com/kestrun/kestrun-go/schema"
	"github.com/kestrun/kestrun-go/values"
)

// writeModel adapts the response model and the script result into the HTTP
// response. The model's explicit body wins over the return value; a nil body
// commits only the status and leaves the response open for upstream
// middleware.
func (s *Server) writeModel(c *gin.Context, rt *route, model *engine.ResponseModel, result any) *schema.RequestError {
	body := model.Body
	if !model.BodySet {
		body = result
	}
	status := model.Status
	if status == 0 {
		status = http.StatusOK
	}

	header := c.Writer.Header()
	for name, entries := range model.Header {
		for _, entry := range entries {
			header.Add(name, entry)
		}
	}

	if body == nil {
		if model.ContentType != "" {
			header.Set("Content-Type", model.ContentType)
		}
		c.Status(status)
		return nil
	}

	contentType := model.ContentType
	if contentType == "" {
		contentType = rt.defaultContentType(status)
	}
	if contentType == "" {
		contentType = sniffContentType(body)
	}

	switch typed := body.(type) {
	case []byte:
		c.Data(status, contentType, typed)
	case io.Reader:
		header.Set("Content-Type", contentType)
		c.Status(status)
		c.Writer.WriteHeaderNow()
		if _, err := io.Copy(c.Writer, typed); err != nil {
			s.logger.WithError(err).Warn("response stream aborted")
		}
		if closer, ok := typed.(io.Closer); ok {
			_ = closer.Close()
		}
	case string:
		c.Data(status, contentType, []byte(typed))
	default:
		data, err := serializeBody(contentType, typed)
		if err != nil {
			return schema.NewRequestError(schema.ErrorKindScriptRuntime, "failed to serialize response body").Wrap(err)
		}
		c.Data(status, contentType, data)
	}
	return nil
}

// sniffContentType derives a media type from the body's shape when neither
// the script nor the route declared one.
func sniffContentType(body any) string {
	switch body.(type) {
	case string:
		return schema.ContentTypeTextPlain
	case []byte, io.Reader:
		return schema.ContentTypeOctetStream
	default:
		return schema.ContentTypeJSON
	}
}

// serializeBody renders a plain value tree in the requested media type.
// Unknown types fall back to JSON; text/* renders with fmt.
func serializeBody(contentType string, value any) ([]byte, error) {
	canonical, err := mediatype.Canonical(contentType)
	if err != nil {
		canonical = schema.ContentTypeJSON
	}
	switch canonical {
	case schema.ContentTypeJSON:
		return json.Marshal(value)
	case schema.ContentTypeYAML:
		return yaml.Marshal(value)
	case schema.ContentTypeXML:
		// The XML encoder walks the neutral tree, not plain maps.
		return contenttype.EncodeXML(values.Normalize(value), "response")
	case schema.ContentTypeCBOR:
		return cbor.Marshal(value)
	default:
		if strings.HasPrefix(canonical, "text/") {
			return fmt.Appendf(nil, "%v", value), nil
		}
		return json.Marshal(value)
	}
}

// ginDirectWriter exposes the raw response stream to scripts. The first
// write commits the model's headers and status, so a script can set the
// content type before streaming.
type ginDirectWriter struct {
	c     *gin.Context
	model *engine.ResponseModel
}

func (w *ginDirectWriter) Write(p []byte) (int, error) {
	if !w.c.Writer.Written() {
		header := w.c.Writer.Header()
		for name, entries := range w.model.Header {
			for _, entry := range entries {
				header.Add(name, entry)
			}
		}
		if w.model.ContentType != "" {
			header.Set("Content-Type", w.model.ContentType)
		}
		status := w.model.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.c.Writer.WriteHeader(status)
	}
	return w.c.Writer.Write(p)
}

func (w *ginDirectWriter) Flush() {
	w.c.Writer.Flush()
}

func (w *ginDirectWriter) Written() bool {
	return w.c.Writer.Written()
}
