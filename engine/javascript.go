package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"github.com/kestrun/kestrun-go/values"
)

// bindingsGlobal is the raw name->value map every unit receives; names that
// are not valid identifiers stay reachable through it.
const bindingsGlobal = "__bindings"

var jsLinePattern = regexp.MustCompile(`Line (\d+)`)

// compileJavaScript wraps the user source in a function unit so script
// variables stay request-scoped on a reused runtime. The unit's completion
// value is the user return value.
func (c *Compiler) compileJavaScript(artifact *Artifact, input CompileInput) error {
	var unit strings.Builder
	unit.WriteString("(function (" + bindingsGlobal + ") {\n")
	offset := 1
	for _, name := range artifact.Names {
		if !isIdentifier(name) {
			continue
		}
		fmt.Fprintf(&unit, "var %s = %s[%q];\n", name, bindingsGlobal, name)
		offset++
	}
	unit.WriteString(input.Source)
	if !strings.HasSuffix(input.Source, "\n") {
		unit.WriteString("\n")
	}
	unit.WriteString("})(" + bindingsGlobal + ");\n")

	artifact.Source = unit.String()
	artifact.LineOffset = offset

	program, err := goja.Compile(input.Name, artifact.Source, false)
	if err != nil {
		return newCompilationError(input.Name, Diagnostic{
			Severity: "error",
			Message:  err.Error(),
			Line:     jsUserLine(err.Error(), offset),
		})
	}
	artifact.jsProgram = program
	return nil
}

// jsUserLine lifts the line number out of a goja syntax error message and
// makes it relative to the user source. Zero means unknown.
func jsUserLine(message string, offset int) int {
	match := jsLinePattern.FindStringSubmatch(message)
	if match == nil {
		return 0
	}
	line, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	if line > offset {
		return line - offset
	}
	return line
}

// invokeJavaScript runs the compiled program on the runner's runtime.
// Cancellation interrupts the runtime; the interrupt flag is cleared here
// and again on release, so the runtime stays reusable.
func (a *Artifact) invokeJavaScript(ctx context.Context, runner *Runner, inv *Invocation) (any, error) {
	vm, err := runner.jsRuntime()
	if err != nil {
		return nil, runtimeError("failed to initialize javascript runtime", err)
	}

	if err := vm.Set(bindingsGlobal, inv.Bindings); err != nil {
		return nil, runtimeError("failed to inject bindings", err)
	}
	if err := vm.Set(bridgeGlobal, inv.Bridge); err != nil {
		return nil, runtimeError("failed to inject host bridge", err)
	}
	runner.trackJSGlobals(bindingsGlobal, bridgeGlobal)

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(context.Cause(ctx))
	})
	defer stop()

	value, err := vm.RunProgram(a.jsProgram)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			vm.ClearInterrupt()
			if ctx.Err() != nil {
				return nil, cancelledError(ctx)
			}
			return nil, runtimeError("script interrupted", err)
		}
		var exception *goja.Exception
		if errors.As(err, &exception) {
			return nil, runtimeError(exception.Value().String(), err)
		}
		return nil, runtimeError("javascript execution failed", err)
	}

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return values.ToPlain(values.Normalize(value.Export())), nil
}
