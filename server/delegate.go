package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kestrun/kestrun-go/engine"
	"github.com/kestrun/kestrun-go/internal/binder"
	"github.com/kestrun/kestrun-go/internal/mediatype"
	"github.com/kestrun/kestrun-go/schema"
)

// delegate builds the handler executing the route script. The pipeline is
// strict: content-type gate, parameter binding, presets, script execution,
// then the response adapter. The first failing stage routes its error to the
// error writer and nothing later runs.
func (s *Server) delegate(rt *route) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "execute_route")
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", rt.method),
			attribute.String("http.route", rt.pattern),
		)

		runner := runnerFrom(c)
		if runner == nil {
			s.writeError(c, rt, schema.NewRequestError(schema.ErrorKindScriptRuntime, "no interpreter leased for request"))
			return
		}

		check := mediatype.Check(c.GetHeader("Content-Type"), mediatype.RequestHasBody(c.Request), rt.allowed)
		switch check.Status {
		case mediatype.StatusMissing:
			s.writeError(c, rt, schema.NewMissingContentTypeError(check.Allowed))
			return
		case mediatype.StatusMalformed:
			s.writeError(c, rt, schema.NewMalformedContentTypeError(check.Raw))
			return
		case mediatype.StatusUnsupported:
			s.writeError(c, rt, schema.NewUnsupportedContentTypeError(check.Raw, check.Allowed))
			return
		}

		_, bindSpan := tracer.Start(ctx, "bind_parameters")
		params, bindErr := s.binder.Bind(binder.Request{
			HTTP:        c.Request,
			RouteValues: routeValues(c),
			ContentType: check.Canonical,
		}, rt.parameters)
		if bindErr != nil {
			bindSpan.SetStatus(codes.Error, "failed to bind request parameters")
			bindSpan.RecordError(bindErr)
			bindSpan.End()
			s.writeError(c, rt, bindErr)
			return
		}
		bindSpan.End()
		defer params.Cleanup()

		bindings := rt.assembleBindings(params)
		if len(rt.presets) > 0 {
			if err := binder.ApplyPresets(rt.presets, bindings, firstHeaderValues(c.Request), s.claims(c.Request)); err != nil {
				s.writeError(c, rt, schema.NewRequestError(schema.ErrorKindParameterResolution, "failed to resolve argument presets").Wrap(err))
				return
			}
		}

		model := engine.NewResponseModel()
		bridge := engine.NewBridge(engine.BridgeConfig{
			Model:    model,
			State:    s.state,
			Snapshot: overlaySnapshot(runner.Snapshot(), rt.locals),
			Culture:  rt.culture,
			Direct:   &ginDirectWriter{c: c, model: model},
			Request:  requestDescriptor(c),
			Logger:   s.logger,
		})

		result, invokeErr := rt.artifact.Invoke(ctx, runner, &engine.Invocation{
			Bindings: bindings,
			Bridge:   bridge,
		})
		if invokeErr != nil {
			span.SetStatus(codes.Error, "script execution failed")
			span.RecordError(invokeErr)
			s.writeError(c, rt, asRequestError(invokeErr))
			return
		}

		if records := bridge.ErrorRecords(); len(records) > 0 {
			s.writeError(c, rt, schema.NewRequestError(schema.ErrorKindScriptRuntime, strings.Join(records, "; ")).
				WithDetails(map[string]any{"errors": records}))
			return
		}

		if model.RedirectURL != "" {
			status := model.Status
			if status == 0 {
				status = http.StatusFound
			}
			c.Redirect(status, model.RedirectURL)
			return
		}

		// The script streamed directly; the response is its own now.
		if bridge.HasStarted() {
			span.AddEvent("response streamed by script")
			return
		}

		if postponed := model.Postponed; postponed != nil {
			span.AddEvent("applying postponed write", trace.WithAttributes(attribute.Int("code", postponed.ErrorCode)))
			if postponed.ErrorCode != 0 {
				s.writeError(c, rt, schema.NewRequestError(schema.ErrorKindPostponedWrite,
					fmt.Sprintf("script deferred error %d", postponed.ErrorCode)).
					WithDetails(map[string]any{"code": postponed.ErrorCode}))
				return
			}
			model.SetBody(postponed.Payload)
			if postponed.MediaType != "" {
				model.ContentType = postponed.MediaType
			}
		}

		if writeErr := s.writeModel(c, rt, model, result); writeErr != nil {
			s.writeError(c, rt, writeErr)
		}
	}
}

// assembleBindings projects route arguments, route locals and bound request
// parameters onto the script's declared names. Collisions resolve
// case-insensitively with parameters strongest, then locals, then arguments.
func (rt *route) assembleBindings(params *binder.Parameters) map[string]any {
	folded := make(map[string]any, len(rt.arguments)+len(rt.locals))
	for name, value := range rt.arguments {
		folded[strings.ToLower(name)] = value
	}
	for name, value := range rt.locals {
		folded[strings.ToLower(name)] = value
	}
	for name, value := range params.Bindings() {
		folded[strings.ToLower(name)] = value
	}
	bindings := make(map[string]any, len(rt.artifact.Names))
	for _, name := range rt.artifact.Names {
		if value, ok := folded[strings.ToLower(name)]; ok {
			bindings[name] = value
		}
	}
	return bindings
}

// overlaySnapshot layers route locals over the lease snapshot so bridge
// reads see locals win case-insensitively for the request's duration.
func overlaySnapshot(snapshot map[string]any, locals map[string]any) map[string]any {
	if len(locals) == 0 {
		return snapshot
	}
	if snapshot == nil {
		snapshot = make(map[string]any, len(locals))
	}
	for name, value := range locals {
		for existing := range snapshot {
			if existing != name && strings.EqualFold(existing, name) {
				delete(snapshot, existing)
			}
		}
		snapshot[name] = value
	}
	return snapshot
}

func routeValues(c *gin.Context) map[string]string {
	if len(c.Params) == 0 {
		return nil
	}
	result := make(map[string]string, len(c.Params))
	for _, param := range c.Params {
		result[param.Key] = param.Value
	}
	return result
}

func firstHeaderValues(r *http.Request) map[string]string {
	result := make(map[string]string, len(r.Header))
	for name := range r.Header {
		result[name] = r.Header.Get(name)
	}
	return result
}

// requestDescriptor is the read-only request view handed to scripts.
func requestDescriptor(c *gin.Context) map[string]any {
	query := map[string]any{}
	for name, entries := range c.Request.URL.Query() {
		if len(entries) == 1 {
			query[name] = entries[0]
			continue
		}
		multi := make([]any, len(entries))
		for i, entry := range entries {
			multi[i] = entry
		}
		query[name] = multi
	}
	headers := map[string]any{}
	for name := range c.Request.Header {
		headers[name] = c.Request.Header.Get(name)
	}
	return map[string]any{
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"route":      c.FullPath(),
		"query":      query,
		"headers":    headers,
		"remoteAddr": c.ClientIP(),
		"requestId":  requestIDFrom(c),
	}
}

// asRequestError coerces invoke failures into the structured form the error
// writer consumes.
func asRequestError(err error) *schema.RequestError {
	var reqErr *schema.RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	return schema.NewRequestError(schema.ErrorKindScriptRuntime, err.Error()).Wrap(err)
}
