// Package config loads the file surface of the host: one document, YAML or
// JSON, that describes the server options and every scripted route. The
// kestrun binary is a thin shell around Load.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/kestrun/kestrun-go/schema"
)

var errNoRoutes = errors.New("routes: at least one route is required")

// Config is the root of the configuration document.
type Config struct {
	Server ServerConfig  `json:"server,omitempty" yaml:"server,omitempty" mapstructure:"server"`
	Routes []RouteConfig `json:"routes,omitempty" yaml:"routes,omitempty" mapstructure:"routes"`

	// dir is the directory the document was loaded from; script file
	// references resolve against it.
	dir string
}

// ServerConfig carries the host-level options of the document.
type ServerConfig struct {
	// Listen is the TCP address the host binds. Empty means ":8080".
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty" mapstructure:"listen"`
	// InterpreterPoolMax bounds concurrent script execution. Zero keeps the
	// engine default.
	InterpreterPoolMax int `json:"interpreterPoolMax,omitempty" yaml:"interpreterPoolMax,omitempty" mapstructure:"interpreterPoolMax"`
	// AllowedContentTypes is the default request media type allow list for
	// routes that do not declare their own. Empty means any.
	AllowedContentTypes []string `json:"allowedContentTypes,omitempty" yaml:"allowedContentTypes,omitempty" mapstructure:"allowedContentTypes"`
	// AutoErrorContentTypes lists the media types default error bodies may
	// render in, most preferred first.
	AutoErrorContentTypes []string `json:"autoErrorContentTypes,omitempty" yaml:"autoErrorContentTypes,omitempty" mapstructure:"autoErrorContentTypes"`
	// DefaultCulture is the BCP 47 tag applied to routes that do not bind
	// their own culture.
	DefaultCulture string `json:"defaultCulture,omitempty" yaml:"defaultCulture,omitempty" mapstructure:"defaultCulture"`
	// Compression toggles response compression. Nil means on.
	Compression *bool `json:"compression,omitempty" yaml:"compression,omitempty" mapstructure:"compression"`
	// ErrorResponseScript replaces default error bodies with script output.
	ErrorResponseScript *ScriptSource   `json:"errorResponseScript,omitempty" yaml:"errorResponseScript,omitempty" mapstructure:"errorResponseScript"`
	Exceptions          ExceptionConfig `json:"exceptions,omitempty" yaml:"exceptions,omitempty" mapstructure:"exceptions"`
	Logging             LoggingConfig   `json:"logging,omitempty" yaml:"logging,omitempty" mapstructure:"logging"`
}

// ScriptSource is a script given inline or by file reference. Exactly one of
// Script and File must be set.
type ScriptSource struct {
	Language schema.ScriptLanguage `json:"language" yaml:"language" mapstructure:"language"`
	Script   string                `json:"script,omitempty" yaml:"script,omitempty" mapstructure:"script"`
	File     string                `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`
}

// ExceptionConfig mirrors the script failure surfacing options.
type ExceptionConfig struct {
	DeferToMiddleware bool `json:"deferToMiddleware,omitempty" yaml:"deferToMiddleware,omitempty" mapstructure:"deferToMiddleware"`
	IncludeDetails    bool `json:"includeDetails,omitempty" yaml:"includeDetails,omitempty" mapstructure:"includeDetails"`
}

// LoggingConfig configures the process logger the binary assembles. A file
// target rotates under the size and retention bounds below.
type LoggingConfig struct {
	// Level is a logrus level name. Empty means info.
	Level string `json:"level,omitempty" yaml:"level,omitempty" mapstructure:"level"`
	// File is the log file path. Empty logs to stderr.
	File string `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`
	// MaxSizeMB rotates the file when it grows past this size. Zero means 10.
	MaxSizeMB  int `json:"maxSizeMB,omitempty" yaml:"maxSizeMB,omitempty" mapstructure:"maxSizeMB"`
	MaxBackups int `json:"maxBackups,omitempty" yaml:"maxBackups,omitempty" mapstructure:"maxBackups"`
	MaxAgeDays int `json:"maxAgeDays,omitempty" yaml:"maxAgeDays,omitempty" mapstructure:"maxAgeDays"`
}

// RouteConfig is a route descriptor on the file surface: the schema fields
// plus a script file reference for sources kept next to the document.
type RouteConfig struct {
	schema.Route `yaml:",inline" mapstructure:",squash"`
	// ScriptFile loads the script from a path relative to the configuration
	// file. Mutually exclusive with the inline script field.
	ScriptFile string `json:"scriptFile,omitempty" yaml:"scriptFile,omitempty" mapstructure:"scriptFile"`
}

// Load reads one configuration document. The syntax follows the file
// extension: .json, .yaml or .yml. Script file references are resolved and
// the document validated before returning.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config, err := Parse(raw, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	config.dir = filepath.Dir(path)
	if err := config.resolveScripts(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// LoadDir locates the document inside dir, trying config.json, config.yaml
// and config.yml in that order.
func LoadDir(dir string) (*Config, error) {
	for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		return Load(path)
	}
	return nil, fmt.Errorf("the config.{json,yaml,yml} file does not exist at %s", dir)
}

// Parse decodes a document without touching the filesystem. ext selects the
// syntax and includes the leading dot. The raw bytes decode into a generic
// tree first and map onto the typed document from there, so YAML and JSON
// share one field vocabulary.
func Parse(raw []byte, ext string) (*Config, error) {
	document := map[string]any{}
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(raw, &document); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &document); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported configuration file extension: %s", ext)
	}

	config := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           config,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(document); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the document invariants, naming the offending field with a
// dotted path.
func (c *Config) Validate() error {
	if c.Server.Logging.Level != "" {
		if _, err := logrus.ParseLevel(c.Server.Logging.Level); err != nil {
			return fmt.Errorf("server.logging.level: %w", err)
		}
	}
	if c.Server.DefaultCulture != "" {
		if _, err := language.Parse(c.Server.DefaultCulture); err != nil {
			return fmt.Errorf("server.defaultCulture: %w", err)
		}
	}
	if hook := c.Server.ErrorResponseScript; hook != nil {
		if _, err := schema.ParseScriptLanguage(string(hook.Language)); err != nil {
			return fmt.Errorf("server.errorResponseScript.language: %w", err)
		}
	}
	if len(c.Routes) == 0 {
		return errNoRoutes
	}
	for i := range c.Routes {
		if err := c.Routes[i].Validate(); err != nil {
			return fmt.Errorf("routes[%d]: %w", i, err)
		}
	}
	return nil
}

// ListenAddress returns the configured bind address, defaulting to :8080.
func (c *Config) ListenAddress() string {
	if c.Server.Listen == "" {
		return ":8080"
	}
	return c.Server.Listen
}

// CompressionEnabled reports whether response compression stays on.
func (c *Config) CompressionEnabled() bool {
	return c.Server.Compression == nil || *c.Server.Compression
}

// resolveScripts replaces file references with their contents so callers
// only ever see inline sources.
func (c *Config) resolveScripts() error {
	if hook := c.Server.ErrorResponseScript; hook != nil {
		source, err := c.resolveSource("server.errorResponseScript", hook.Script, hook.File)
		if err != nil {
			return err
		}
		hook.Script = source
	}
	for i := range c.Routes {
		route := &c.Routes[i]
		if route.ScriptFile == "" {
			continue
		}
		if strings.TrimSpace(route.Script) != "" {
			return fmt.Errorf("routes[%d]: script and scriptFile are mutually exclusive", i)
		}
		raw, err := os.ReadFile(c.pathFor(route.ScriptFile))
		if err != nil {
			return fmt.Errorf("routes[%d].scriptFile: %w", i, err)
		}
		route.Script = string(raw)
	}
	return nil
}

func (c *Config) resolveSource(path, inline, file string) (string, error) {
	switch {
	case inline != "" && file != "":
		return "", fmt.Errorf("%s: script and file are mutually exclusive", path)
	case inline != "":
		return inline, nil
	case file != "":
		raw, err := os.ReadFile(c.pathFor(file))
		if err != nil {
			return "", fmt.Errorf("%s.file: %w", path, err)
		}
		return string(raw), nil
	default:
		return "", fmt.Errorf("%s: script or file is required", path)
	}
}

// pathFor resolves a file reference against the configuration directory.
func (c *Config) pathFor(name string) string {
	if filepath.IsAbs(name) || c.dir == "" {
		return name
	}
	return filepath.Join(c.dir, name)
}
