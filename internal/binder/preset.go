package binder

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/theory/jsonpath"
	"github.com/theory/jsonpath/spec"

	"github.com/kestrun/kestrun-go/schema"
	"github.com/kestrun/kestrun-go/values"
)

var errPresetRootSelector = errors.New("invalid json path. The root selector must be an object name")

// Preset injects one value into the bound parameter set at a JSONPath target
// before the script runs. The path is parsed once at route registration.
type Preset struct {
	path   *jsonpath.Path
	getter presetValueGetter
}

// NewPreset compiles an argument preset descriptor.
func NewPreset(config schema.ArgumentPreset) (*Preset, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	path, err := jsonpath.Parse(config.Path)
	if err != nil {
		return nil, fmt.Errorf("path: %w", err)
	}
	getter, err := newPresetValueGetter(config.Value)
	if err != nil {
		return nil, err
	}
	return &Preset{path: path, getter: getter}, nil
}

// NewPresets compiles every preset of a route.
func NewPresets(configs []schema.ArgumentPreset) ([]*Preset, error) {
	presets := make([]*Preset, len(configs))
	for i, config := range configs {
		preset, err := NewPreset(config)
		if err != nil {
			return nil, fmt.Errorf("presets[%d]: %w", i, err)
		}
		presets[i] = preset
	}
	return presets, nil
}

// Apply resolves the preset value from the request surfaces and injects it
// into the bindings, creating intermediate objects along the path as needed.
func (p *Preset) Apply(bindings map[string]any, headers map[string]string, claims map[string]string) error {
	segments := p.path.Query().Segments()
	if len(segments) == 0 || len(segments[0].Selectors()) == 0 {
		return errPresetRootSelector
	}
	rootSelector, ok := segments[0].Selectors()[0].(spec.Name)
	if !ok || rootSelector == "" {
		return errPresetRootSelector
	}

	value, err := p.getter.GetValue(headers, claims)
	if err != nil {
		return err
	}
	if value == nil {
		return nil
	}
	value = values.ToPlain(values.Normalize(value))

	if len(segments) == 1 {
		bindings[string(rootSelector)] = value
		return nil
	}

	nested, err := evalNestedField(segments[1:], bindings[string(rootSelector)], value)
	if err != nil {
		return err
	}
	bindings[string(rootSelector)] = nested
	return nil
}

// ApplyPresets runs every preset against the bindings in declaration order.
func ApplyPresets(presets []*Preset, bindings map[string]any, headers map[string]string, claims map[string]string) error {
	for i, preset := range presets {
		if err := preset.Apply(bindings, headers, claims); err != nil {
			return fmt.Errorf("presets[%d]: %w", i, err)
		}
	}
	return nil
}

func evalNestedField(segments []*spec.Segment, current any, value any) (any, error) {
	if len(segments) == 0 || len(segments[0].Selectors()) == 0 {
		return value, nil
	}

	switch selector := segments[0].Selectors()[0].(type) {
	case spec.Name:
		currentMap, ok := current.(map[string]any)
		if !ok {
			currentMap = make(map[string]any)
		}

		if len(segments) == 1 {
			currentMap[string(selector)] = value
			return currentMap, nil
		}

		nested, err := evalNestedField(segments[1:], currentMap[string(selector)], value)
		if err != nil {
			return nil, err
		}
		currentMap[string(selector)] = nested
		return currentMap, nil
	default:
		return nil, errors.New("unsupported jsonpath spec: " + selector.String())
	}
}

// presetValueGetter abstracts the source a preset value is read from.
type presetValueGetter interface {
	GetValue(headers map[string]string, claims map[string]string) (any, error)
}

func newPresetValueGetter(value schema.PresetValue) (presetValueGetter, error) {
	switch value.Type {
	case schema.PresetValueTypeLiteral:
		return &presetValueLiteral{value: value.Value}, nil
	case schema.PresetValueTypeEnv:
		return newPresetValueEnv(value.Name), nil
	case schema.PresetValueTypeForwardHeader:
		return &presetValueForwardHeader{name: value.Name}, nil
	case schema.PresetValueTypeForwardClaim:
		return &presetValueForwardClaim{name: value.Name}, nil
	default:
		return nil, fmt.Errorf("unsupported argument preset value: %v", value.Type)
	}
}

type presetValueLiteral struct {
	value any
}

func (pv presetValueLiteral) GetValue(map[string]string, map[string]string) (any, error) {
	return pv.value, nil
}

// presetValueEnv captures the environment variable at construction so later
// environment mutation cannot change route behavior.
type presetValueEnv struct {
	rawValue *string
}

func newPresetValueEnv(name string) *presetValueEnv {
	var value *string
	if rawValue, ok := os.LookupEnv(name); ok {
		value = &rawValue
	}
	return &presetValueEnv{rawValue: value}
}

func (pv presetValueEnv) GetValue(map[string]string, map[string]string) (any, error) {
	if pv.rawValue == nil {
		return nil, nil
	}
	return *pv.rawValue, nil
}

type presetValueForwardHeader struct {
	name string
}

func (pv presetValueForwardHeader) GetValue(headers map[string]string, _ map[string]string) (any, error) {
	return lookupFold(headers, pv.name), nil
}

type presetValueForwardClaim struct {
	name string
}

func (pv presetValueForwardClaim) GetValue(_ map[string]string, claims map[string]string) (any, error) {
	return lookupFold(claims, pv.name), nil
}

// lookupFold reads a map case-insensitively, returning nil when absent so
// absent sources never overwrite bound values.
func lookupFold(source map[string]string, name string) any {
	if len(source) == 0 {
		return nil
	}
	if value, ok := source[name]; ok {
		return value
	}
	for key, value := range source {
		if strings.EqualFold(key, name) {
			return value
		}
	}
	return nil
}
