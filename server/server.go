// Package server hosts scripted routes on gin: it registers route
// descriptors, compiles their scripts once, and assembles the per-request
// delegate that negotiates content types, binds parameters, executes the
// script on a pooled interpreter and adapts the outcome into the HTTP
// response.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/kestrun/kestrun-go/engine"
	"github.com/kestrun/kestrun-go/internal/binder"
	"github.com/kestrun/kestrun-go/schema"
	"github.com/kestrun/kestrun-go/values"
)

var tracer = otel.Tracer("github.com/kestrun/kestrun-go/server")

var patternCapture = regexp.MustCompile(`\{([^/{}]+)\}`)

// ExceptionOptions control how script failures surface.
type ExceptionOptions struct {
	// DeferToMiddleware records script failures on gin's error list and
	// surfaces only the status code, leaving the body to upstream
	// error-page middleware.
	DeferToMiddleware bool
	// IncludeDetails renders the full failure chain into default error
	// bodies instead of the short message.
	IncludeDetails bool
}

// ClaimResolver extracts auth claims from a request. Routes declaring
// AuthClaims are gated on the resolved map.
type ClaimResolver func(r *http.Request) map[string]string

// claimHeaderPrefix marks request headers the default resolver reads claims
// from: X-Claim-Role becomes claim "role".
const claimHeaderPrefix = "X-Claim-"

func headerClaimResolver(r *http.Request) map[string]string {
	claims := map[string]string{}
	for name := range r.Header {
		if !strings.HasPrefix(name, claimHeaderPrefix) {
			continue
		}
		claim := strings.ToLower(strings.TrimPrefix(name, claimHeaderPrefix))
		claims[claim] = r.Header.Get(name)
	}
	return claims
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the host logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithPoolMax bounds the number of concurrent interpreter contexts.
func WithPoolMax(max int) Option {
	return func(s *Server) { s.poolMax = max }
}

// WithAllowedContentTypes sets the default allowed request media types for
// routes that do not declare their own. Empty means any.
func WithAllowedContentTypes(contentTypes []string) Option {
	return func(s *Server) { s.allowedContentTypes = contentTypes }
}

// WithAutoErrorContentTypes sets the media types default error bodies may be
// rendered in, most preferred first.
func WithAutoErrorContentTypes(contentTypes []string) Option {
	return func(s *Server) { s.autoErrorContentTypes = contentTypes }
}

// WithErrorResponseScript registers the script hook that replaces default
// error bodies. The hook receives Context, StatusCode, ErrorMessage and
// Exception bindings.
func WithErrorResponseScript(lang schema.ScriptLanguage, source string) Option {
	return func(s *Server) {
		s.errorScriptLanguage = lang
		s.errorScriptSource = source
	}
}

// WithExceptionOptions configures script failure surfacing.
func WithExceptionOptions(options ExceptionOptions) Option {
	return func(s *Server) { s.exception = options }
}

// WithClaimResolver replaces the default header-based claim resolver.
func WithClaimResolver(resolver ClaimResolver) Option {
	return func(s *Server) { s.claims = resolver }
}

// WithTypeRegistry sets the registry of Go target types request bodies may
// be mapped onto.
func WithTypeRegistry(types *binder.TypeRegistry) Option {
	return func(s *Server) { s.types = types }
}

// WithDefaultCulture sets the culture applied to routes that do not bind
// one. Defaults to en-US.
func WithDefaultCulture(tag string) Option {
	return func(s *Server) { s.defaultCultureTag = tag }
}

// WithoutCompression disables the response compression middleware.
func WithoutCompression() Option {
	return func(s *Server) { s.compression = false }
}

// Server is the scripted HTTP host. Configure it with options, register
// routes, then run Start or mount Handler on a listener of your own.
type Server struct {
	logger   *logrus.Logger
	router   *gin.Engine
	state    *engine.SharedState
	modules  *engine.ModuleRegistry
	pool     *engine.Pool
	compiler *engine.Compiler
	binder   *binder.Binder
	types    *binder.TypeRegistry

	poolMax               int
	allowedContentTypes   []string
	autoErrorContentTypes []string
	exception             ExceptionOptions
	claims                ClaimResolver
	compression           bool
	defaultCultureTag     string
	defaultCulture        language.Tag

	errorScriptLanguage schema.ScriptLanguage
	errorScriptSource   string
	errorHook           *engine.Artifact
}

// New assembles a server from options. The error script, when configured,
// compiles here so misconfiguration fails at startup.
func New(options ...Option) (*Server, error) {
	s := &Server{
		logger:                logrus.StandardLogger(),
		autoErrorContentTypes: []string{schema.ContentTypeJSON},
		compression:           true,
		defaultCultureTag:     "en-US",
	}
	for _, option := range options {
		option(s)
	}
	if s.claims == nil {
		s.claims = headerClaimResolver
	}
	if s.types == nil {
		s.types = binder.NewTypeRegistry()
	}
	if len(s.autoErrorContentTypes) == 0 {
		s.autoErrorContentTypes = []string{schema.ContentTypeJSON}
	}

	culture, err := language.Parse(s.defaultCultureTag)
	if err != nil {
		return nil, fmt.Errorf("defaultCulture: %w", err)
	}
	s.defaultCulture = culture

	s.state = engine.NewSharedState()
	s.modules = engine.NewModuleRegistry(s.logger)
	s.pool = engine.NewPool(s.poolMax, s.state, s.modules, s.logger)
	s.compiler = engine.NewCompiler(s.modules, s.logger)
	s.binder = binder.New(s.logger, s.types)

	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(s.requestLogging(), s.recovery(), s.decompression())
	if s.compression {
		s.router.Use(s.responseCompression())
	}

	if s.errorScriptSource != "" {
		hook, err := s.compiler.Compile(engine.CompileInput{
			Name:         "errorResponseScript",
			Language:     s.errorScriptLanguage,
			Source:       s.errorScriptSource,
			BindingNames: []string{"Context", "StatusCode", "ErrorMessage", "Exception"},
		})
		if err != nil {
			return nil, fmt.Errorf("errorResponseScript: %w", err)
		}
		s.errorHook = hook
	}

	return s, nil
}

// Modules returns the guest module registry. Register host modules before
// registering the routes that import them.
func (s *Server) Modules() *engine.ModuleRegistry {
	return s.modules
}

// State returns the process-wide shared state scripts snapshot at lease
// time.
func (s *Server) State() *engine.SharedState {
	return s.state
}

// Pool returns the interpreter pool.
func (s *Server) Pool() *engine.Pool {
	return s.pool
}

// Handler returns the http.Handler serving the registered routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// route is the registered, immutable form of a schema.Route: script
// compiled, presets parsed, culture resolved, body parameter synthesized.
type route struct {
	method     string
	pattern    string
	parameters []schema.Parameter
	allowed    []string
	artifact   *engine.Artifact
	presets    []*binder.Preset
	culture    language.Tag
	arguments  map[string]any
	locals     map[string]any
	responses  map[int][]schema.ResponseContentType
}

// RegisterRoute validates and compiles a route descriptor and mounts its
// delegate on the router. Compilation failures surface here, not per
// request.
func (s *Server) RegisterRoute(descriptor schema.Route) error {
	name := strings.ToUpper(descriptor.Method) + " " + descriptor.Pattern
	if err := descriptor.Validate(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	parameters := append([]schema.Parameter(nil), descriptor.Parameters...)
	if body := descriptor.BodyParameter(); body != nil && !hasBodyParameter(descriptor.Parameters) {
		parameters = append(parameters, *body)
	}

	culture := s.defaultCulture
	if descriptor.RequestCulture != "" {
		parsed, err := language.Parse(descriptor.RequestCulture)
		if err != nil {
			return fmt.Errorf("%s: requestCulture: %w", name, err)
		}
		culture = parsed
	}

	presets, err := binder.NewPresets(descriptor.Presets)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	allowed := descriptor.AllowedContentTypes
	if len(allowed) == 0 {
		allowed = s.allowedContentTypes
	}

	bindingNames := make([]string, len(parameters))
	for i, parameter := range parameters {
		bindingNames[i] = parameter.Name
	}

	artifact, err := s.compiler.Compile(engine.CompileInput{
		Name:         name,
		Language:     descriptor.Language,
		Source:       descriptor.Script,
		ResultType:   descriptor.ResultType,
		BindingNames: bindingNames,
		Arguments:    descriptor.Arguments,
		Locals:       descriptor.Locals,
		Imports:      descriptor.Imports,
		References:   descriptor.References,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	registered := &route{
		method:     strings.ToUpper(descriptor.Method),
		pattern:    descriptor.Pattern,
		parameters: parameters,
		allowed:    allowed,
		artifact:   artifact,
		presets:    presets,
		culture:    culture,
		arguments:  plainTree(descriptor.Arguments),
		locals:     plainTree(descriptor.Locals),
		responses:  descriptor.ResponseContentTypes,
	}

	handlers := make([]gin.HandlerFunc, 0, 3)
	if len(descriptor.AuthClaims) > 0 {
		handlers = append(handlers, s.claimGate(descriptor.AuthClaims))
	}
	handlers = append(handlers, s.leaseRunner(), s.delegate(registered))
	s.router.Handle(registered.method, ginPattern(descriptor.Pattern), handlers...)

	s.logger.WithFields(logrus.Fields{
		"route":    name,
		"language": string(descriptor.Language),
		"bindings": len(artifact.Names),
	}).Info("registered route")
	return nil
}

func hasBodyParameter(parameters []schema.Parameter) bool {
	for _, parameter := range parameters {
		if parameter.In == schema.InBody {
			return true
		}
	}
	return false
}

// ginPattern translates brace captures into gin's colon syntax:
// /items/{id} becomes /items/:id. Colon patterns pass through unchanged.
func ginPattern(pattern string) string {
	return patternCapture.ReplaceAllStringFunc(pattern, func(match string) string {
		return ":" + strings.TrimSuffix(strings.TrimPrefix(match, "{"), "}")
	})
}

// plainTree normalizes every value of a route-time map to the plain tree
// shape decoders produce, so guests see one set of shapes everywhere.
func plainTree(source map[string]any) map[string]any {
	if len(source) == 0 {
		return nil
	}
	result := make(map[string]any, len(source))
	for name, value := range source {
		result[name] = values.ToPlain(values.Normalize(value))
	}
	return result
}

// defaultContentType resolves the route's declared response media type for a
// status. A zero key acts as the catch-all.
func (rt *route) defaultContentType(status int) string {
	if rt == nil || len(rt.responses) == 0 {
		return ""
	}
	if candidates, ok := rt.responses[status]; ok && len(candidates) > 0 {
		return candidates[0].ContentType
	}
	if candidates, ok := rt.responses[0]; ok && len(candidates) > 0 {
		return candidates[0].ContentType
	}
	return ""
}

// Start serves the registered routes until ctx ends, then drains the
// listener and shuts the interpreter pool down.
func (s *Server) Start(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.logger.WithField("addr", addr).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return s.pool.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
