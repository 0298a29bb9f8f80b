package engine

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/kestrun/kestrun-go/schema"
)

func TestLuaReturnValue(t *testing.T) {
	harness := newHarness(t)
	result, _, err := harness.run(t, CompileInput{
		Name:         "GET /lua",
		Language:     schema.ScriptLanguageLua,
		Source:       `return greeting .. " world"`,
		BindingNames: []string{"greeting"},
	}, map[string]any{"greeting": "hello"})
	assert.NilError(t, err)
	assert.Equal(t, "hello world", result)
}

func TestLuaNumbersFoldToIntegers(t *testing.T) {
	harness := newHarness(t)
	result, _, err := harness.run(t, CompileInput{
		Name:         "GET /lua/add",
		Language:     schema.ScriptLanguageLua,
		Source:       `return id + 1`,
		BindingNames: []string{"id"},
	}, map[string]any{"id": int64(41)})
	assert.NilError(t, err)
	assert.Equal(t, int64(42), result)
}

func TestLuaTableResult(t *testing.T) {
	harness := newHarness(t)
	result, _, err := harness.run(t, CompileInput{
		Name:     "GET /lua/table",
		Language: schema.ScriptLanguageLua,
		Source:   `return {count = 2, tags = {"a", "b"}}`,
	}, map[string]any{})
	assert.NilError(t, err)
	assert.DeepEqual(t, map[string]any{
		"count": int64(2),
		"tags":  []any{"a", "b"},
	}, result)
}

func TestLuaBridgeMutatesModel(t *testing.T) {
	harness := newHarness(t)
	_, bridge, err := harness.run(t, CompileInput{
		Name:     "GET /lua/bridge",
		Language: schema.ScriptLanguageLua,
		Source: `
ks.setStatus(201)
ks.setHeader("X-Flavor", "lua")
ks.setContentType("application/json")
ks.writeBody({ok = true})
`,
	}, map[string]any{})
	assert.NilError(t, err)

	model := bridge.Model()
	assert.Equal(t, 201, model.Status)
	assert.Equal(t, "lua", model.Header.Get("X-Flavor"))
	assert.Equal(t, "application/json", model.ContentType)
	assert.Assert(t, model.BodySet)
	assert.DeepEqual(t, map[string]any{"ok": true}, model.Body)
}

func TestLuaSharedState(t *testing.T) {
	harness := newHarness(t)
	harness.pool.State().Set("motd", "welcome")

	result, _, err := harness.run(t, CompileInput{
		Name:     "GET /lua/state",
		Language: schema.ScriptLanguageLua,
		Source: `
ks.sharedSet("visits", 7)
return ks.sharedGet("MOTD")
`,
	}, map[string]any{})
	assert.NilError(t, err)
	assert.Equal(t, "welcome", result)

	visits, ok := harness.pool.State().Get("visits")
	assert.Assert(t, ok)
	assert.Equal(t, int64(7), visits)
}

func TestLuaGlobalsClearedBetweenLeases(t *testing.T) {
	harness := newHarness(t)

	first, err := harness.compiler.Compile(CompileInput{
		Name:         "GET /lua/first",
		Language:     schema.ScriptLanguageLua,
		Source:       `return secret`,
		BindingNames: []string{"secret"},
	})
	assert.NilError(t, err)

	second, err := harness.compiler.Compile(CompileInput{
		Name:     "GET /lua/second",
		Language: schema.ScriptLanguageLua,
		Source: `
if secret == nil then
  return "clean"
end
return "dirty"
`,
	})
	assert.NilError(t, err)

	runner, err := harness.pool.Lease(context.Background())
	assert.NilError(t, err)
	runnerID := runner.ID()
	result, err := first.Invoke(context.Background(), runner, &Invocation{
		Bindings: map[string]any{"secret": "s3cr3t"},
		Bridge:   harness.newBridge(runner.Snapshot()),
	})
	assert.NilError(t, err)
	assert.Equal(t, "s3cr3t", result)
	harness.pool.Release(runner)

	runner, err = harness.pool.Lease(context.Background())
	assert.NilError(t, err)
	defer harness.pool.Release(runner)
	assert.Equal(t, runnerID, runner.ID())

	result, err = second.Invoke(context.Background(), runner, &Invocation{
		Bindings: map[string]any{},
		Bridge:   harness.newBridge(runner.Snapshot()),
	})
	assert.NilError(t, err)
	assert.Equal(t, "clean", result)
}

func TestLuaRuntimeError(t *testing.T) {
	harness := newHarness(t)
	_, _, err := harness.run(t, CompileInput{
		Name:     "GET /lua/error",
		Language: schema.ScriptLanguageLua,
		Source:   `error("boom")`,
	}, map[string]any{})
	assert.Assert(t, err != nil)
	assert.Equal(t, schema.ErrorKindScriptRuntime, requestErrorKind(t, err))
	assert.ErrorContains(t, err, "boom")
}

func TestLuaCancellationBreaksRunner(t *testing.T) {
	harness := newHarness(t)
	artifact, err := harness.compiler.Compile(CompileInput{
		Name:     "GET /lua/spin",
		Language: schema.ScriptLanguageLua,
		Source:   `while true do end`,
	})
	assert.NilError(t, err)

	runner, err := harness.pool.Lease(context.Background())
	assert.NilError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = artifact.Invoke(ctx, runner, &Invocation{
		Bindings: map[string]any{},
		Bridge:   harness.newBridge(runner.Snapshot()),
	})
	assert.Assert(t, err != nil)
	assert.Equal(t, schema.ErrorKindRequestCancelled, requestErrorKind(t, err))
	assert.Assert(t, runner.Broken())
	harness.pool.Release(runner)
	assert.Equal(t, 0, harness.pool.Idle())
}

func TestLuaCompileDiagnostics(t *testing.T) {
	harness := newHarness(t)
	_, err := harness.compiler.Compile(CompileInput{
		Name:     "GET /lua/bad",
		Language: schema.ScriptLanguageLua,
		Source:   "local x = 1\nlocal y = ]\nreturn x",
	})
	compErr := &CompilationError{}
	assert.Assert(t, asCompilationError(err, &compErr))
	assert.Equal(t, 1, len(compErr.Diagnostics))
	assert.Equal(t, 2, compErr.Diagnostics[0].Line)
}
