package engine

import (
	"fmt"
	"reflect"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/hasura/ndc-sdk-go/utils"
	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/kestrun/kestrun-go/schema"
)

// ModuleRegistry holds the host-registered guest modules each language can
// import, plus the Go types each module declares for binding documentation.
// Registration happens at startup; lookups are read-only afterwards.
type ModuleRegistry struct {
	logger       *logrus.Logger
	jsModules    map[string]require.ModuleLoader
	luaModules   map[string]lua.LGFunction
	tengoModules map[string]map[string]tengo.Object
	declared     map[string][]reflect.Type
}

// NewModuleRegistry creates an empty registry logging console output through
// logger.
func NewModuleRegistry(logger *logrus.Logger) *ModuleRegistry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ModuleRegistry{
		logger:       logger,
		jsModules:    map[string]require.ModuleLoader{},
		luaModules:   map[string]lua.LGFunction{},
		tengoModules: map[string]map[string]tengo.Object{},
		declared:     map[string][]reflect.Type{},
	}
}

// RegisterJavaScript registers a native module importable with require(name).
func (mr *ModuleRegistry) RegisterJavaScript(name string, loader require.ModuleLoader, types ...reflect.Type) {
	mr.jsModules[name] = loader
	mr.declare(name, types)
}

// RegisterLua registers a module importable with require(name).
func (mr *ModuleRegistry) RegisterLua(name string, loader lua.LGFunction, types ...reflect.Type) {
	mr.luaModules[name] = loader
	mr.declare(name, types)
}

// RegisterTengo registers a module importable with import(name).
func (mr *ModuleRegistry) RegisterTengo(name string, attrs map[string]tengo.Object, types ...reflect.Type) {
	mr.tengoModules[name] = attrs
	mr.declare(name, types)
}

func (mr *ModuleRegistry) declare(name string, types []reflect.Type) {
	if len(types) > 0 {
		mr.declared[name] = append(mr.declared[name], types...)
	}
}

// JavaScriptModules returns the registered JavaScript module names, sorted.
func (mr *ModuleRegistry) JavaScriptModules() []string {
	return utils.GetSortedKeys(mr.jsModules)
}

// LuaModules returns the registered Lua module names, sorted.
func (mr *ModuleRegistry) LuaModules() []string {
	return utils.GetSortedKeys(mr.luaModules)
}

// TengoModules returns the registered Tengo module names, sorted.
func (mr *ModuleRegistry) TengoModules() []string {
	return utils.GetSortedKeys(mr.tengoModules)
}

// DeclaredTypes resolves the Go types declared by the named modules. Unknown
// module names resolve to no types; they fail at compile time instead.
func (mr *ModuleRegistry) DeclaredTypes(names []string) []reflect.Type {
	var types []reflect.Type
	for _, name := range names {
		types = append(types, mr.declared[name]...)
	}
	return types
}

// checkImports verifies every import names a module registered for the
// language.
func (mr *ModuleRegistry) checkImports(language schema.ScriptLanguage, imports []string) error {
	var known map[string]bool
	switch language {
	case schema.ScriptLanguageJavaScript:
		known = keySet(mr.jsModules)
	case schema.ScriptLanguageLua:
		known = keySet(mr.luaModules)
	case schema.ScriptLanguageTengo:
		known = keySet(mr.tengoModules)
	default:
		return fmt.Errorf("unknown language %s", language)
	}
	for _, name := range imports {
		if !known[name] {
			return fmt.Errorf("module %s is not registered for %s", name, language)
		}
	}
	return nil
}

func keySet[V any](source map[string]V) map[string]bool {
	result := make(map[string]bool, len(source))
	for key := range source {
		result[key] = true
	}
	return result
}

// enableJavaScript wires the require registry and the console global into a
// fresh runtime. Console output lands on the host logger.
func (mr *ModuleRegistry) enableJavaScript(vm *goja.Runtime) {
	registry := require.NewRegistry()
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(consolePrinter{logger: mr.logger}))
	for name, loader := range mr.jsModules {
		registry.RegisterNativeModule(name, loader)
	}
	registry.Enable(vm)
	console.Enable(vm)
}

// preloadLua preloads every registered module so scripts reach them with
// require(name).
func (mr *ModuleRegistry) preloadLua(state *lua.LState) {
	for name, loader := range mr.luaModules {
		state.PreloadModule(name, loader)
	}
}

// tengoModuleMap builds the import surface of a Tengo script: the full
// standard library plus the registered host modules.
func (mr *ModuleRegistry) tengoModuleMap() *tengo.ModuleMap {
	modules := stdlib.GetModuleMap(stdlib.AllModuleNames()...)
	for name, attrs := range mr.tengoModules {
		modules.AddBuiltinModule(name, attrs)
	}
	return modules
}

// consolePrinter routes guest console calls onto logrus.
type consolePrinter struct {
	logger *logrus.Logger
}

func (p consolePrinter) Log(message string)   { p.logger.Info(message) }
func (p consolePrinter) Warn(message string)  { p.logger.Warn(message) }
func (p consolePrinter) Error(message string) { p.logger.Error(message) }
