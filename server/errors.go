package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kestrun/kestrun-go/engine"
	"github.com/kestrun/kestrun-go/schema"
)

// writeError renders a request failure. Cancelled requests get a log line
// and nothing else; started responses swallow the error; script failures may
// defer to upstream middleware; everything else renders the error script's
// body or the default structured body.
func (s *Server) writeError(c *gin.Context, rt *route, reqErr *schema.RequestError) {
	if reqErr == nil {
		return
	}
	entry := s.logger.WithFields(logrus.Fields{
		"request_id": requestIDFrom(c),
		"kind":       string(reqErr.Kind),
		"path":       c.Request.URL.Path,
	})

	if reqErr.Kind == schema.ErrorKindRequestCancelled {
		entry.Info("request cancelled by client")
		c.Abort()
		return
	}
	if c.Writer.Written() {
		entry.WithError(reqErr).Warn("response already started; error not written")
		c.Abort()
		return
	}

	status := reqErr.Status
	if status == 0 {
		status = reqErr.Kind.DefaultStatus()
	}

	if status >= http.StatusInternalServerError {
		entry.WithError(reqErr).Error("request failed")
	} else {
		entry.WithError(reqErr).Warn("request rejected")
	}

	if reqErr.Kind == schema.ErrorKindScriptRuntime && s.exception.DeferToMiddleware {
		_ = c.Error(reqErr)
		c.Status(status)
		c.Abort()
		return
	}

	if s.errorHook != nil && s.invokeErrorHook(c, rt, status, reqErr) {
		c.Abort()
		return
	}

	message := reqErr.Message
	if s.exception.IncludeDetails {
		message = reqErr.Error()
	}
	s.writeErrorBody(c, status, string(reqErr.Kind), message, reqErr.Details)
}

// invokeErrorHook runs the configured error script on the request's leased
// runner. Returns true when the hook produced the response; any hook failure
// falls back to the default body.
func (s *Server) invokeErrorHook(c *gin.Context, rt *route, status int, reqErr *schema.RequestError) bool {
	runner := runnerFrom(c)
	if runner == nil {
		return false
	}
	culture := s.defaultCulture
	if rt != nil {
		culture = rt.culture
	}

	model := engine.NewResponseModel()
	bridge := engine.NewBridge(engine.BridgeConfig{
		Model:    model,
		State:    s.state,
		Snapshot: runner.Snapshot(),
		Culture:  culture,
		Request:  requestDescriptor(c),
		Logger:   s.logger,
	})
	bindings := map[string]any{
		"Context":      requestDescriptor(c),
		"StatusCode":   int64(status),
		"ErrorMessage": reqErr.Message,
		"Exception": map[string]any{
			"kind":    string(reqErr.Kind),
			"message": reqErr.Error(),
		},
	}

	result, err := s.errorHook.Invoke(c.Request.Context(), runner, &engine.Invocation{
		Bindings: bindings,
		Bridge:   bridge,
	})
	if err != nil {
		s.logger.WithError(err).Warn("error response script failed; using default body")
		return false
	}
	if records := bridge.ErrorRecords(); len(records) > 0 {
		s.logger.WithField("errors", records).Warn("error response script reported errors; using default body")
		return false
	}

	body := model.Body
	if !model.BodySet {
		body = result
	}
	if body == nil {
		return false
	}
	if model.Status != 0 {
		status = model.Status
	}
	contentType := model.ContentType
	if contentType == "" {
		contentType = s.negotiateErrorType(c)
	}
	data, serErr := serializeBody(contentType, body)
	if rendered, ok := body.([]byte); ok {
		data, serErr = rendered, nil
	} else if rendered, ok := body.(string); ok {
		data, serErr = []byte(rendered), nil
	}
	if serErr != nil {
		s.logger.WithError(serErr).Warn("error response script body unserializable; using default body")
		return false
	}

	header := c.Writer.Header()
	for name, entries := range model.Header {
		for _, entry := range entries {
			header.Add(name, entry)
		}
	}
	c.Data(status, contentType, data)
	return true
}

// writeErrorBody renders the default structured error body in the first
// acceptable auto error media type.
func (s *Server) writeErrorBody(c *gin.Context, status int, kind, message string, details map[string]any) {
	body := map[string]any{
		"status":  status,
		"error":   kind,
		"message": message,
	}
	if len(details) > 0 {
		body["details"] = details
	}
	contentType := s.negotiateErrorType(c)
	data, err := serializeBody(contentType, body)
	if err != nil {
		s.logger.WithError(err).Error("failed to render error body")
		c.AbortWithStatus(status)
		return
	}
	c.Data(status, contentType, data)
	c.Abort()
}

// negotiateErrorType picks the first configured auto error media type the
// request accepts, falling back to the most preferred one.
func (s *Server) negotiateErrorType(c *gin.Context) string {
	accept := c.GetHeader("Accept")
	for _, candidate := range s.autoErrorContentTypes {
		if acceptable(accept, candidate) {
			return candidate
		}
	}
	if len(s.autoErrorContentTypes) > 0 {
		return s.autoErrorContentTypes[0]
	}
	return schema.ContentTypeJSON
}

// acceptable reports whether an Accept header admits a media type. An empty
// header admits everything; q-values are ignored beyond token presence.
func acceptable(acceptHeader, mediaType string) bool {
	if strings.TrimSpace(acceptHeader) == "" {
		return true
	}
	prefix, _, _ := strings.Cut(mediaType, "/")
	for _, token := range strings.Split(acceptHeader, ",") {
		token = strings.TrimSpace(token)
		if i := strings.IndexByte(token, ';'); i >= 0 {
			token = strings.TrimSpace(token[:i])
		}
		if token == "" {
			continue
		}
		if token == "*/*" || strings.EqualFold(token, mediaType) {
			return true
		}
		if rest, ok := strings.CutSuffix(token, "/*"); ok && strings.EqualFold(rest, prefix) {
			return true
		}
	}
	return false
}
