package config

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/kestrun/kestrun-go/schema"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	assert.NilError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleYAML = `
server:
  listen: 127.0.0.1:9090
  interpreterPoolMax: 4
  allowedContentTypes:
    - application/json
    - application/yaml
  autoErrorContentTypes:
    - application/yaml
  defaultCulture: de-DE
  compression: false
  exceptions:
    includeDetails: true
  logging:
    level: debug
    file: kestrun.log
    maxSizeMB: 25
  errorResponseScript:
    language: javascript
    script: return ErrorMessage;
routes:
  - method: GET
    pattern: /items/{id}
    language: javascript
    script: "return {id: id};"
    parameters:
      - name: id
        kind: integer
        in: path
    responseContentTypes:
      200:
        - contentType: application/json
  - method: POST
    pattern: /items
    language: lua
    scriptFile: scripts/create.lua
    requestBody:
      name: item
      contentTypes:
        - application/json
`

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "scripts/create.lua", `return "created"`)
	path := writeFile(t, dir, "config.yaml", sampleYAML)

	cfg, err := Load(path)
	assert.NilError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.ListenAddress())
	assert.Equal(t, 4, cfg.Server.InterpreterPoolMax)
	assert.DeepEqual(t, []string{"application/json", "application/yaml"}, cfg.Server.AllowedContentTypes)
	assert.DeepEqual(t, []string{"application/yaml"}, cfg.Server.AutoErrorContentTypes)
	assert.Equal(t, "de-DE", cfg.Server.DefaultCulture)
	assert.Assert(t, !cfg.CompressionEnabled())
	assert.Assert(t, cfg.Server.Exceptions.IncludeDetails)
	assert.Equal(t, "debug", cfg.Server.Logging.Level)
	assert.Equal(t, "kestrun.log", cfg.Server.Logging.File)
	assert.Equal(t, 25, cfg.Server.Logging.MaxSizeMB)
	assert.Equal(t, schema.ScriptLanguageJavaScript, cfg.Server.ErrorResponseScript.Language)
	assert.Equal(t, "return ErrorMessage;", cfg.Server.ErrorResponseScript.Script)

	assert.Equal(t, 2, len(cfg.Routes))

	first := cfg.Routes[0]
	assert.Equal(t, "GET", first.Method)
	assert.Equal(t, "/items/{id}", first.Pattern)
	assert.Equal(t, schema.ScriptLanguageJavaScript, first.Language)
	assert.Equal(t, 1, len(first.Parameters))
	assert.Equal(t, schema.KindInteger, first.Parameters[0].Kind)
	assert.Equal(t, schema.InPath, first.Parameters[0].In)
	assert.Equal(t, "application/json", first.ResponseContentTypes[200][0].ContentType)

	second := cfg.Routes[1]
	assert.Equal(t, schema.ScriptLanguageLua, second.Language)
	assert.Equal(t, `return "created"`, second.Script)
	assert.Equal(t, "item", second.RequestBody.Name)
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{
	  "server": {"listen": ":7070", "interpreterPoolMax": 2},
	  "routes": [
	    {
	      "method": "GET",
	      "pattern": "/ping",
	      "language": "tengo",
	      "script": "\"pong\"",
	      "responseContentTypes": {"200": [{"contentType": "text/plain"}]}
	    }
	  ]
	}`)

	cfg, err := Load(path)
	assert.NilError(t, err)
	assert.Equal(t, ":7070", cfg.ListenAddress())
	assert.Equal(t, 2, cfg.Server.InterpreterPoolMax)
	assert.Assert(t, cfg.CompressionEnabled())
	assert.Equal(t, schema.ScriptLanguageTengo, cfg.Routes[0].Language)
	assert.Equal(t, "text/plain", cfg.Routes[0].ResponseContentTypes[200][0].ContentType)
}

func TestLoadDirPrefersJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.json", `{"server": {"listen": ":1111"}, "routes": [{"method": "GET", "pattern": "/a", "language": "lua", "script": "return 1"}]}`)
	writeFile(t, dir, "config.yaml", "server:\n  listen: :2222\nroutes:\n  - method: GET\n    pattern: /b\n    language: lua\n    script: return 2\n")

	cfg, err := LoadDir(dir)
	assert.NilError(t, err)
	assert.Equal(t, ":1111", cfg.ListenAddress())
}

func TestLoadDirFallsBackToYML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yml", "routes:\n  - method: GET\n    pattern: /a\n    language: lua\n    script: return 1\n")

	cfg, err := LoadDir(dir)
	assert.NilError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddress())
	assert.Equal(t, "/a", cfg.Routes[0].Pattern)
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	assert.ErrorContains(t, err, "config.{json,yaml,yml}")
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.toml", "listen = ':8080'")
	_, err := Load(path)
	assert.ErrorContains(t, err, "unsupported configuration file extension")
}

func TestLoadRejectsBadLoggingLevel(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
server:
  logging:
    level: noisy
routes:
  - method: GET
    pattern: /a
    language: lua
    script: return 1
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "server.logging.level")
}

func TestLoadRejectsBadCulture(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
server:
  defaultCulture: "not a tag"
routes:
  - method: GET
    pattern: /a
    language: lua
    script: return 1
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "server.defaultCulture")
}

func TestLoadRequiresRoutes(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "server:\n  listen: :8080\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "at least one route is required")
}

func TestLoadRejectsInvalidRoute(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
routes:
  - method: GET
    pattern: /a
    language: lua
    script: return 1
  - method: ""
    pattern: /b
    language: lua
    script: return 2
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "routes[1]")
}

func TestLoadRejectsScriptAndFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "extra.lua", "return 1")
	path := writeFile(t, dir, "config.yaml", `
routes:
  - method: GET
    pattern: /a
    language: lua
    script: return 1
    scriptFile: extra.lua
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestLoadReportsMissingScriptFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
routes:
  - method: GET
    pattern: /a
    language: lua
    scriptFile: scripts/missing.lua
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "routes[0].scriptFile")
}

func TestErrorScriptFromFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hooks/error.js", "return ErrorMessage;")
	path := writeFile(t, dir, "config.yaml", `
server:
  errorResponseScript:
    language: javascript
    file: hooks/error.js
routes:
  - method: GET
    pattern: /a
    language: lua
    script: return 1
`)
	cfg, err := Load(path)
	assert.NilError(t, err)
	assert.Equal(t, "return ErrorMessage;", cfg.Server.ErrorResponseScript.Script)
}

func TestErrorScriptRequiresSource(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
server:
  errorResponseScript:
    language: javascript
routes:
  - method: GET
    pattern: /a
    language: lua
    script: return 1
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "script or file is required")
}
