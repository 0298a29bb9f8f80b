package engine

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/d5/tengo/v2"
	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	lua "github.com/yuin/gopher-lua"

	"github.com/kestrun/kestrun-go/schema"
)

var tracer = otel.Tracer("github.com/kestrun/kestrun-go/engine")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// CompileInput describes one script to compile into an executable artifact.
type CompileInput struct {
	// Name identifies the script in diagnostics, typically "METHOD /pattern".
	Name       string
	Language   schema.ScriptLanguage
	Source     string
	ResultType string
	// BindingNames are the declared parameter names, in declaration order.
	BindingNames []string
	// Arguments and Locals contribute extra binding names known at compile
	// time; their values arrive per request.
	Arguments map[string]any
	Locals    map[string]any
	Imports   []string
	// References are additional assemblies or files a language may load.
	// Recorded for diagnostics; the embedded engines resolve imports only.
	References []string
}

// Artifact is a compiled script ready for repeated invocation on pooled
// runners. Compilation happens once per route; invocation is cheap.
type Artifact struct {
	Language   schema.ScriptLanguage
	Name       string
	Source     string
	UserSource string
	// LineOffset is the number of generated lines preceding the user source
	// inside Source.
	LineOffset int
	// Names is the full binding name set the unit declares: parameters in
	// declaration order, then overlay names sorted.
	Names   []string
	Imports []string

	luaProto      *lua.FunctionProto
	jsProgram     *goja.Program
	tengoCompiled *tengo.Compiled
}

// Invocation carries the per-request inputs of one script run.
type Invocation struct {
	// Bindings is the plain name->value map the unit's names resolve
	// against.
	Bindings map[string]any
	Bridge   *Bridge
}

// Diagnostic is one compiler message with a line number relative to the user
// source. Line 0 means the position is embedded in the message.
type Diagnostic struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Line     int    `json:"line,omitempty"`
}

// CompilationError aggregates the diagnostics of a failed compilation.
type CompilationError struct {
	Name        string
	Diagnostics []Diagnostic
}

// Error implements error.
func (e *CompilationError) Error() string {
	messages := make([]string, len(e.Diagnostics))
	for i, diagnostic := range e.Diagnostics {
		if diagnostic.Line > 0 {
			messages[i] = fmt.Sprintf("%s at line %d: %s", diagnostic.Severity, diagnostic.Line, diagnostic.Message)
		} else {
			messages[i] = fmt.Sprintf("%s: %s", diagnostic.Severity, diagnostic.Message)
		}
	}
	return fmt.Sprintf("%s: %s", e.Name, strings.Join(messages, "; "))
}

func newCompilationError(name string, diagnostics ...Diagnostic) *CompilationError {
	return &CompilationError{Name: name, Diagnostics: diagnostics}
}

// Compiler builds artifacts against a module registry. It is safe for
// concurrent use once constructed.
type Compiler struct {
	modules *ModuleRegistry
	logger  *logrus.Logger
}

// NewCompiler creates a compiler.
func NewCompiler(modules *ModuleRegistry, logger *logrus.Logger) *Compiler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if modules == nil {
		modules = NewModuleRegistry(logger)
	}
	return &Compiler{modules: modules, logger: logger}
}

// Modules returns the registry artifacts resolve imports against.
func (c *Compiler) Modules() *ModuleRegistry {
	return c.modules
}

// Compile validates the imports, builds the executable unit around the user
// source and compiles it. Failures return a *CompilationError whose line
// numbers are relative to the user source.
func (c *Compiler) Compile(input CompileInput) (*Artifact, error) {
	if strings.TrimSpace(input.Source) == "" {
		return nil, newCompilationError(input.Name, Diagnostic{
			Severity: "error",
			Message:  "script source is empty",
		})
	}
	if err := c.modules.checkImports(input.Language, input.Imports); err != nil {
		return nil, newCompilationError(input.Name, Diagnostic{
			Severity: "error",
			Message:  err.Error(),
		})
	}

	artifact := &Artifact{
		Language:   input.Language,
		Name:       input.Name,
		UserSource: input.Source,
		Names:      unitNames(input),
		Imports:    append([]string(nil), input.Imports...),
	}

	var err error
	switch input.Language {
	case schema.ScriptLanguageLua:
		err = c.compileLua(artifact, input)
	case schema.ScriptLanguageJavaScript:
		err = c.compileJavaScript(artifact, input)
	case schema.ScriptLanguageTengo:
		err = c.compileTengo(artifact, input)
	default:
		return nil, newCompilationError(input.Name, Diagnostic{
			Severity: "error",
			Message:  fmt.Sprintf("unsupported language %s", input.Language),
		})
	}
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"name":     input.Name,
		"language": string(input.Language),
		"bindings": len(artifact.Names),
	}).Debug("compiled script artifact")

	return artifact, nil
}

// unitNames merges the declared parameter names with the overlay names from
// arguments and locals: parameters keep declaration order, overlays follow
// sorted, duplicates fold case-insensitively.
func unitNames(input CompileInput) []string {
	seen := make(map[string]bool, len(input.BindingNames))
	names := make([]string, 0, len(input.BindingNames)+len(input.Arguments)+len(input.Locals))
	for _, name := range input.BindingNames {
		folded := strings.ToLower(name)
		if seen[folded] {
			continue
		}
		seen[folded] = true
		names = append(names, name)
	}

	overlay := make([]string, 0, len(input.Arguments)+len(input.Locals))
	for name := range input.Arguments {
		overlay = append(overlay, name)
	}
	for name := range input.Locals {
		overlay = append(overlay, name)
	}
	sort.Strings(overlay)
	for _, name := range overlay {
		folded := strings.ToLower(name)
		if seen[folded] {
			continue
		}
		seen[folded] = true
		names = append(names, name)
	}
	return names
}

func isIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Invoke runs the artifact on a leased runner. The returned error is always
// a *schema.RequestError or *CompilationError; guest failures map onto the
// script-runtime kind and context cancellation onto the cancelled kind.
func (a *Artifact) Invoke(ctx context.Context, runner *Runner, inv *Invocation) (any, error) {
	if ctx.Err() != nil {
		return nil, cancelledError(ctx)
	}

	ctx, span := tracer.Start(ctx, "invoke_script")
	defer span.End()
	span.SetAttributes(
		attribute.String("script.name", a.Name),
		attribute.String("script.language", string(a.Language)),
	)

	var result any
	var err error
	switch a.Language {
	case schema.ScriptLanguageLua:
		result, err = a.invokeLua(ctx, runner, inv)
	case schema.ScriptLanguageJavaScript:
		result, err = a.invokeJavaScript(ctx, runner, inv)
	case schema.ScriptLanguageTengo:
		result, err = a.invokeTengo(ctx, runner, inv)
	default:
		err = schema.NewRequestError(schema.ErrorKindScriptRuntime,
			fmt.Sprintf("unsupported language %s", a.Language))
	}

	if err != nil {
		if ctx.Err() != nil {
			err = cancelledError(ctx)
		}
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

func cancelledError(ctx context.Context) *schema.RequestError {
	return schema.NewRequestError(schema.ErrorKindRequestCancelled, "request cancelled").
		Wrap(context.Cause(ctx))
}

func runtimeError(message string, err error) *schema.RequestError {
	reqErr := schema.NewRequestError(schema.ErrorKindScriptRuntime, message)
	if err != nil {
		return reqErr.Wrap(err)
	}
	return reqErr
}
