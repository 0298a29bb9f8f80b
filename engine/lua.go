package engine

import (
	"context"
	"errors"
	"math"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/kestrun/kestrun-go/values"
)

// compileLua parses and compiles the user source as a plain chunk. Lua needs
// no generated preamble: bindings arrive as globals and the chunk returns its
// result with a top-level return statement.
func (c *Compiler) compileLua(artifact *Artifact, input CompileInput) error {
	artifact.Source = input.Source
	artifact.LineOffset = 0

	chunk, err := parse.Parse(strings.NewReader(input.Source), input.Name)
	if err != nil {
		var parseErr *parse.Error
		if errors.As(err, &parseErr) {
			return newCompilationError(input.Name, Diagnostic{
				Severity: "error",
				Message:  parseErr.Message,
				Line:     parseErr.Pos.Line,
			})
		}
		return newCompilationError(input.Name, Diagnostic{Severity: "error", Message: err.Error()})
	}

	proto, err := lua.Compile(chunk, input.Name)
	if err != nil {
		var compileErr *lua.CompileError
		if errors.As(err, &compileErr) {
			return newCompilationError(input.Name, Diagnostic{
				Severity: "error",
				Message:  compileErr.Message,
				Line:     compileErr.Line,
			})
		}
		return newCompilationError(input.Name, Diagnostic{Severity: "error", Message: err.Error()})
	}

	artifact.luaProto = proto
	return nil
}

// invokeLua runs the compiled chunk on the runner's Lua state. Bindings and
// the bridge are injected as globals the runner clears on release. A forced
// abort leaves the interpreter stack in an unknown state, so cancellation
// marks the runner broken.
func (a *Artifact) invokeLua(ctx context.Context, runner *Runner, inv *Invocation) (any, error) {
	state, err := runner.luaState()
	if err != nil {
		return nil, runtimeError("failed to initialize lua state", err)
	}

	for _, name := range a.Names {
		state.SetGlobal(name, toLua(state, inv.Bindings[name]))
	}
	state.SetGlobal(bridgeGlobal, luaBridgeTable(state, inv.Bridge))
	runner.trackLuaGlobals(a.Names...)
	runner.trackLuaGlobals(bridgeGlobal)

	state.SetContext(ctx)
	defer state.RemoveContext()

	top := state.GetTop()
	state.Push(state.NewFunctionFromProto(a.luaProto))
	if err := state.PCall(0, lua.MultRet, nil); err != nil {
		if ctx.Err() != nil {
			runner.markBroken()
			return nil, cancelledError(ctx)
		}
		state.SetTop(top)
		var apiErr *lua.ApiError
		if errors.As(err, &apiErr) {
			return nil, runtimeError(lua.LVAsString(apiErr.Object), err)
		}
		return nil, runtimeError("lua execution failed", err)
	}

	var result any
	if state.GetTop() > top {
		result = fromLua(state.Get(top + 1))
	}
	state.SetTop(top)
	return values.ToPlain(values.Normalize(result)), nil
}

// bridgeGlobal is the name scripts reach the host bridge under.
const bridgeGlobal = "ks"

// luaBridgeTable exposes the bridge as a table of dot-call functions.
func luaBridgeTable(state *lua.LState, bridge *Bridge) *lua.LTable {
	table := state.NewTable()
	state.SetFuncs(table, map[string]lua.LGFunction{
		"setStatus": func(L *lua.LState) int {
			bridge.SetStatus(L.CheckInt(1))
			return 0
		},
		"setHeader": func(L *lua.LState) int {
			bridge.SetHeader(L.CheckString(1), L.CheckString(2))
			return 0
		},
		"addHeader": func(L *lua.LState) int {
			bridge.AddHeader(L.CheckString(1), L.CheckString(2))
			return 0
		},
		"setContentType": func(L *lua.LState) int {
			bridge.SetContentType(L.CheckString(1))
			return 0
		},
		"writeBody": func(L *lua.LState) int {
			bridge.WriteBody(fromLua(L.Get(1)))
			return 0
		},
		"redirect": func(L *lua.LState) int {
			bridge.Redirect(L.CheckString(1))
			return 0
		},
		"writeLater": func(L *lua.LState) int {
			bridge.WriteLater(fromLua(L.Get(1)), L.OptString(2, ""))
			return 0
		},
		"failLater": func(L *lua.LState) int {
			bridge.FailLater(L.CheckInt(1))
			return 0
		},
		"writeDirect": func(L *lua.LState) int {
			n, err := bridge.WriteDirect(fromLua(L.Get(1)))
			if err != nil {
				L.Push(lua.LNumber(n))
				L.Push(lua.LString(err.Error()))
				return 2
			}
			L.Push(lua.LNumber(n))
			return 1
		},
		"hasStarted": func(L *lua.LState) int {
			L.Push(lua.LBool(bridge.HasStarted()))
			return 1
		},
		"sharedGet": func(L *lua.LState) int {
			L.Push(toLua(L, bridge.SharedGet(L.CheckString(1))))
			return 1
		},
		"sharedSet": func(L *lua.LState) int {
			bridge.SharedSet(L.CheckString(1), fromLua(L.Get(2)))
			return 0
		},
		"sharedKeys": func(L *lua.LState) int {
			keys := bridge.SharedKeys()
			list := make([]any, len(keys))
			for i, key := range keys {
				list[i] = key
			}
			L.Push(toLua(L, list))
			return 1
		},
		"emitError": func(L *lua.LState) int {
			bridge.EmitError(L.CheckString(1))
			return 0
		},
		"format": func(L *lua.LState) int {
			top := L.GetTop()
			args := make([]any, 0, top-1)
			for i := 2; i <= top; i++ {
				args = append(args, fromLua(L.Get(i)))
			}
			L.Push(lua.LString(bridge.Format(L.CheckString(1), args...)))
			return 1
		},
		"cultureTag": func(L *lua.LState) int {
			L.Push(lua.LString(bridge.CultureTag()))
			return 1
		},
		"request": func(L *lua.LState) int {
			L.Push(toLua(L, any(bridge.Request())))
			return 1
		},
		"log": func(L *lua.LState) int {
			bridge.Log(L.CheckString(1))
			return 0
		},
	})
	return table
}

// toLua converts a plain tree node into a Lua value.
func toLua(state *lua.LState, value any) lua.LValue {
	switch typed := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(typed)
	case string:
		return lua.LString(typed)
	case []byte:
		return lua.LString(typed)
	case int:
		return lua.LNumber(typed)
	case int64:
		return lua.LNumber(typed)
	case float64:
		return lua.LNumber(typed)
	case []any:
		table := state.CreateTable(len(typed), 0)
		for _, item := range typed {
			table.Append(toLua(state, item))
		}
		return table
	case map[string]any:
		table := state.CreateTable(0, len(typed))
		for key, item := range typed {
			table.RawSetString(key, toLua(state, item))
		}
		return table
	case *values.Map:
		table := state.CreateTable(0, typed.Len())
		typed.Range(func(key string, item any) bool {
			table.RawSetString(key, toLua(state, item))
			return true
		})
		return table
	default:
		userdata := state.NewUserData()
		userdata.Value = typed
		return userdata
	}
}

// fromLua converts a Lua value back into the plain tree. Tables with a
// non-empty array part become slices, anything else a map.
func fromLua(value lua.LValue) any {
	switch typed := value.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(typed)
	case lua.LString:
		return string(typed)
	case lua.LNumber:
		number := float64(typed)
		if number == math.Trunc(number) && !math.IsInf(number, 0) {
			return int64(number)
		}
		return number
	case *lua.LTable:
		length := typed.MaxN()
		if length > 0 {
			list := make([]any, 0, length)
			for i := 1; i <= length; i++ {
				list = append(list, fromLua(typed.RawGetInt(i)))
			}
			return list
		}
		result := map[string]any{}
		typed.ForEach(func(key, item lua.LValue) {
			result[lua.LVAsString(key)] = fromLua(item)
		})
		return result
	case *lua.LUserData:
		return typed.Value
	default:
		return lua.LVAsString(value)
	}
}
