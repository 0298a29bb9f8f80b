package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/parser"

	"github.com/kestrun/kestrun-go/values"
)

// resultVariable receives the converted return value of a Tengo unit.
const resultVariable = "__result"

// compileTengo wraps the user source in a function so top-level return works,
// then captures the converted result into a well-known variable. The script
// compiles to bytecode once; invocations run on clones.
func (c *Compiler) compileTengo(artifact *Artifact, input CompileInput) error {
	var unit strings.Builder
	unit.WriteString("__run := func() {\n")
	unit.WriteString(input.Source)
	if !strings.HasSuffix(input.Source, "\n") {
		unit.WriteString("\n")
	}
	unit.WriteString("}\n")
	unit.WriteString(resultVariable + " := " + tengoResultExpr(input.ResultType) + "\n")

	artifact.Source = unit.String()
	artifact.LineOffset = 1

	script := tengo.NewScript([]byte(artifact.Source))
	script.SetImports(c.modules.tengoModuleMap())
	for _, name := range artifact.Names {
		if err := script.Add(name, nil); err != nil {
			return newCompilationError(input.Name, Diagnostic{
				Severity: "error",
				Message:  fmt.Sprintf("binding %s: %s", name, err),
			})
		}
	}
	if err := script.Add(bindingsGlobal, nil); err != nil {
		return newCompilationError(input.Name, Diagnostic{Severity: "error", Message: err.Error()})
	}
	if err := script.Add(bridgeGlobal, nil); err != nil {
		return newCompilationError(input.Name, Diagnostic{Severity: "error", Message: err.Error()})
	}

	compiled, err := script.Compile()
	if err != nil {
		return newCompilationError(input.Name, tengoDiagnostics(err, artifact.LineOffset)...)
	}
	artifact.tengoCompiled = compiled
	return nil
}

// tengoResultExpr renders the call that converts the unit's return value to
// the declared result type. The conversion builtins yield undefined when the
// value does not convert.
func tengoResultExpr(resultType string) string {
	switch strings.ToLower(resultType) {
	case "integer", "int":
		return "int(__run())"
	case "number", "float":
		return "float(__run())"
	case "boolean", "bool":
		return "bool(__run())"
	case "string":
		return "string(__run())"
	default:
		return "__run()"
	}
}

func tengoDiagnostics(err error, offset int) []Diagnostic {
	var list parser.ErrorList
	if errors.As(err, &list) {
		diagnostics := make([]Diagnostic, 0, len(list))
		for _, parseErr := range list {
			line := parseErr.Pos.Line
			if line > offset {
				line -= offset
			}
			diagnostics = append(diagnostics, Diagnostic{
				Severity: "error",
				Message:  parseErr.Msg,
				Line:     line,
			})
		}
		return diagnostics
	}
	return []Diagnostic{{Severity: "error", Message: err.Error()}}
}

// invokeTengo runs a fresh clone of the compiled bytecode. Clones are cheap
// and discarded afterwards, so cancellation never poisons shared state.
func (a *Artifact) invokeTengo(ctx context.Context, runner *Runner, inv *Invocation) (any, error) {
	clone := a.tengoCompiled.Clone()

	for _, name := range a.Names {
		if err := clone.Set(name, tengoValue(inv.Bindings[name])); err != nil {
			return nil, runtimeError(fmt.Sprintf("binding %s rejected", name), err)
		}
	}
	if err := clone.Set(bindingsGlobal, tengoValue(inv.Bindings)); err != nil {
		return nil, runtimeError("failed to inject bindings", err)
	}
	if err := clone.Set(bridgeGlobal, tengoBridgeModule(inv.Bridge)); err != nil {
		return nil, runtimeError("failed to inject host bridge", err)
	}

	_ = runner // tengo needs no per-runner state; clones carry everything

	if err := clone.RunContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, cancelledError(ctx)
		}
		return nil, runtimeError("tengo execution failed", err)
	}

	variable := clone.Get(resultVariable)
	if variable == nil {
		return nil, nil
	}
	return values.ToPlain(values.Normalize(variable.Value())), nil
}

// tengoValue adapts a plain tree node to something tengo's converter
// accepts; int64 and friends pass through.
func tengoValue(value any) any {
	switch typed := value.(type) {
	case nil:
		return nil
	case *values.Map:
		return typed.ToPlain()
	default:
		return values.ToPlain(typed)
	}
}

// tengoBridgeModule exposes the bridge as a module map of user functions.
func tengoBridgeModule(bridge *Bridge) map[string]tengo.Object {
	return map[string]tengo.Object{
		"setStatus": userFunc("setStatus", func(args ...tengo.Object) (tengo.Object, error) {
			code, err := intArg(args, 0, "code")
			if err != nil {
				return nil, err
			}
			bridge.SetStatus(code)
			return tengo.UndefinedValue, nil
		}),
		"setHeader": userFunc("setHeader", func(args ...tengo.Object) (tengo.Object, error) {
			name, err := stringArg(args, 0, "name")
			if err != nil {
				return nil, err
			}
			value, err := stringArg(args, 1, "value")
			if err != nil {
				return nil, err
			}
			bridge.SetHeader(name, value)
			return tengo.UndefinedValue, nil
		}),
		"addHeader": userFunc("addHeader", func(args ...tengo.Object) (tengo.Object, error) {
			name, err := stringArg(args, 0, "name")
			if err != nil {
				return nil, err
			}
			value, err := stringArg(args, 1, "value")
			if err != nil {
				return nil, err
			}
			bridge.AddHeader(name, value)
			return tengo.UndefinedValue, nil
		}),
		"setContentType": userFunc("setContentType", func(args ...tengo.Object) (tengo.Object, error) {
			contentType, err := stringArg(args, 0, "contentType")
			if err != nil {
				return nil, err
			}
			bridge.SetContentType(contentType)
			return tengo.UndefinedValue, nil
		}),
		"writeBody": userFunc("writeBody", func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) != 1 {
				return nil, tengo.ErrWrongNumArguments
			}
			bridge.WriteBody(tengo.ToInterface(args[0]))
			return tengo.UndefinedValue, nil
		}),
		"redirect": userFunc("redirect", func(args ...tengo.Object) (tengo.Object, error) {
			url, err := stringArg(args, 0, "url")
			if err != nil {
				return nil, err
			}
			bridge.Redirect(url)
			return tengo.UndefinedValue, nil
		}),
		"writeLater": userFunc("writeLater", func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) < 1 || len(args) > 2 {
				return nil, tengo.ErrWrongNumArguments
			}
			mediaType := ""
			if len(args) == 2 {
				var err error
				mediaType, err = stringArg(args, 1, "mediaType")
				if err != nil {
					return nil, err
				}
			}
			bridge.WriteLater(tengo.ToInterface(args[0]), mediaType)
			return tengo.UndefinedValue, nil
		}),
		"failLater": userFunc("failLater", func(args ...tengo.Object) (tengo.Object, error) {
			code, err := intArg(args, 0, "code")
			if err != nil {
				return nil, err
			}
			bridge.FailLater(code)
			return tengo.UndefinedValue, nil
		}),
		"writeDirect": userFunc("writeDirect", func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) != 1 {
				return nil, tengo.ErrWrongNumArguments
			}
			n, err := bridge.WriteDirect(tengo.ToInterface(args[0]))
			if err != nil {
				return nil, err
			}
			return &tengo.Int{Value: int64(n)}, nil
		}),
		"hasStarted": userFunc("hasStarted", func(args ...tengo.Object) (tengo.Object, error) {
			if bridge.HasStarted() {
				return tengo.TrueValue, nil
			}
			return tengo.FalseValue, nil
		}),
		"sharedGet": userFunc("sharedGet", func(args ...tengo.Object) (tengo.Object, error) {
			name, err := stringArg(args, 0, "name")
			if err != nil {
				return nil, err
			}
			return tengo.FromInterface(values.ToPlain(bridge.SharedGet(name)))
		}),
		"sharedSet": userFunc("sharedSet", func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) != 2 {
				return nil, tengo.ErrWrongNumArguments
			}
			name, err := stringArg(args, 0, "name")
			if err != nil {
				return nil, err
			}
			bridge.SharedSet(name, tengo.ToInterface(args[1]))
			return tengo.UndefinedValue, nil
		}),
		"emitError": userFunc("emitError", func(args ...tengo.Object) (tengo.Object, error) {
			message, err := stringArg(args, 0, "message")
			if err != nil {
				return nil, err
			}
			bridge.EmitError(message)
			return tengo.UndefinedValue, nil
		}),
		"format": userFunc("format", func(args ...tengo.Object) (tengo.Object, error) {
			if len(args) < 1 {
				return nil, tengo.ErrWrongNumArguments
			}
			format, err := stringArg(args, 0, "format")
			if err != nil {
				return nil, err
			}
			rest := make([]any, 0, len(args)-1)
			for _, arg := range args[1:] {
				rest = append(rest, tengo.ToInterface(arg))
			}
			return &tengo.String{Value: bridge.Format(format, rest...)}, nil
		}),
		"cultureTag": userFunc("cultureTag", func(args ...tengo.Object) (tengo.Object, error) {
			return &tengo.String{Value: bridge.CultureTag()}, nil
		}),
		"request": userFunc("request", func(args ...tengo.Object) (tengo.Object, error) {
			return tengo.FromInterface(bridge.Request())
		}),
		"log": userFunc("log", func(args ...tengo.Object) (tengo.Object, error) {
			message, err := stringArg(args, 0, "message")
			if err != nil {
				return nil, err
			}
			bridge.Log(message)
			return tengo.UndefinedValue, nil
		}),
	}
}

func userFunc(name string, fn tengo.CallableFunc) *tengo.UserFunction {
	return &tengo.UserFunction{Name: name, Value: fn}
}

func intArg(args []tengo.Object, index int, name string) (int, error) {
	if len(args) <= index {
		return 0, tengo.ErrWrongNumArguments
	}
	value, ok := tengo.ToInt(args[index])
	if !ok {
		return 0, tengo.ErrInvalidArgumentType{Name: name, Expected: "int", Found: args[index].TypeName()}
	}
	return value, nil
}

func stringArg(args []tengo.Object, index int, name string) (string, error) {
	if len(args) <= index {
		return "", tengo.ErrWrongNumArguments
	}
	value, ok := tengo.ToString(args[index])
	if !ok {
		return "", tengo.ErrInvalidArgumentType{Name: name, Expected: "string", Found: args[index].TypeName()}
	}
	return value, nil
}
