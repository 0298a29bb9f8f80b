package engine

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/kestrun/kestrun-go/schema"
)

func TestTengoResultTypeConversion(t *testing.T) {
	testCases := []struct {
		name       string
		resultType string
		source     string
		expected   any
	}{
		{
			name:       "integer",
			resultType: "integer",
			source:     `return count * 2`,
			expected:   int64(42),
		},
		{
			name:       "number",
			resultType: "number",
			source:     `return count + 0.5`,
			expected:   float64(21.5),
		},
		{
			name:       "string",
			resultType: "string",
			source:     `return count`,
			expected:   "21",
		},
		{
			name:       "boolean",
			resultType: "boolean",
			source:     `return count > 0`,
			expected:   true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			harness := newHarness(t)
			result, _, err := harness.run(t, CompileInput{
				Name:         "GET /tengo/" + tc.name,
				Language:     schema.ScriptLanguageTengo,
				Source:       tc.source,
				ResultType:   tc.resultType,
				BindingNames: []string{"count"},
			}, map[string]any{"count": int64(21)})
			assert.NilError(t, err)
			assert.DeepEqual(t, tc.expected, result)
		})
	}
}

func TestTengoMapResult(t *testing.T) {
	harness := newHarness(t)
	result, _, err := harness.run(t, CompileInput{
		Name:     "GET /tengo/map",
		Language: schema.ScriptLanguageTengo,
		Source:   `return {ok: true, tags: ["a", "b"]}`,
	}, map[string]any{})
	assert.NilError(t, err)
	assert.DeepEqual(t, map[string]any{
		"ok":   true,
		"tags": []any{"a", "b"},
	}, result)
}

func TestTengoBridgeMutatesModel(t *testing.T) {
	harness := newHarness(t)
	harness.pool.State().Set("motd", "shared hello")

	result, bridge, err := harness.run(t, CompileInput{
		Name:     "GET /tengo/bridge",
		Language: schema.ScriptLanguageTengo,
		Source: `
ks.setStatus(202)
ks.setHeader("X-Engine", "tengo")
ks.writeBody({accepted: true})
ks.sharedSet("hits", 3)
return ks.sharedGet("MOTD")
`,
	}, map[string]any{})
	assert.NilError(t, err)
	assert.Equal(t, "shared hello", result)

	model := bridge.Model()
	assert.Equal(t, 202, model.Status)
	assert.Equal(t, "tengo", model.Header.Get("X-Engine"))
	assert.DeepEqual(t, map[string]any{"accepted": true}, model.Body)

	hits, ok := harness.pool.State().Get("hits")
	assert.Assert(t, ok)
	assert.Equal(t, int64(3), hits)
}

func TestTengoStdlibImport(t *testing.T) {
	harness := newHarness(t)
	result, _, err := harness.run(t, CompileInput{
		Name:         "GET /tengo/stdlib",
		Language:     schema.ScriptLanguageTengo,
		Source:       "text := import(\"text\")\nreturn text.to_upper(name)",
		BindingNames: []string{"name"},
	}, map[string]any{"name": "kestrel"})
	assert.NilError(t, err)
	assert.Equal(t, "KESTREL", result)
}

func TestTengoNonIdentifierBinding(t *testing.T) {
	harness := newHarness(t)
	result, _, err := harness.run(t, CompileInput{
		Name:         "GET /tengo/raw",
		Language:     schema.ScriptLanguageTengo,
		Source:       `return __bindings["my-param"]`,
		BindingNames: []string{"my-param"},
	}, map[string]any{"my-param": "hyphenated"})
	assert.NilError(t, err)
	assert.Equal(t, "hyphenated", result)
}

func TestTengoCancellationKeepsRunnerUsable(t *testing.T) {
	harness := newHarness(t)
	spin, err := harness.compiler.Compile(CompileInput{
		Name:     "GET /tengo/spin",
		Language: schema.ScriptLanguageTengo,
		Source:   `for {}`,
	})
	assert.NilError(t, err)

	runner, err := harness.pool.Lease(context.Background())
	assert.NilError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = spin.Invoke(ctx, runner, &Invocation{
		Bindings: map[string]any{},
		Bridge:   harness.newBridge(runner.Snapshot()),
	})
	assert.Assert(t, err != nil)
	assert.Equal(t, schema.ErrorKindRequestCancelled, requestErrorKind(t, err))
	assert.Assert(t, !runner.Broken())
	harness.pool.Release(runner)
	assert.Equal(t, 1, harness.pool.Idle())
}

func TestTengoCompileDiagnostics(t *testing.T) {
	harness := newHarness(t)
	_, err := harness.compiler.Compile(CompileInput{
		Name:     "GET /tengo/bad",
		Language: schema.ScriptLanguageTengo,
		Source:   `x := (`,
	})
	compErr := &CompilationError{}
	assert.Assert(t, asCompilationError(err, &compErr))
	assert.Assert(t, len(compErr.Diagnostics) > 0)
}
