package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

var errPresetPathRequired = errors.New("preset path is required")

// PresetValueType represents the source enum of an argument preset value.
type PresetValueType string

const (
	PresetValueTypeLiteral       PresetValueType = "literal"
	PresetValueTypeEnv           PresetValueType = "env"
	PresetValueTypeForwardHeader PresetValueType = "forwardHeader"
	PresetValueTypeForwardClaim  PresetValueType = "forwardClaim"
)

var presetValueType_enums = []PresetValueType{
	PresetValueTypeLiteral,
	PresetValueTypeEnv,
	PresetValueTypeForwardHeader,
	PresetValueTypeForwardClaim,
}

// ParsePresetValueType parses PresetValueType from string.
func ParsePresetValueType(value string) (PresetValueType, error) {
	result := PresetValueType(value)
	if !slices.Contains(presetValueType_enums, result) {
		return result, fmt.Errorf("invalid PresetValueType. Expected %+v, got <%s>", presetValueType_enums, value)
	}
	return result, nil
}

// PresetValue is the tagged source of an argument preset value.
type PresetValue struct {
	Type PresetValueType `json:"type" yaml:"type" mapstructure:"type"`
	// Value holds the literal payload; literal type only.
	Value any `json:"value,omitempty" yaml:"value,omitempty" mapstructure:"value"`
	// Name is the environment variable, request header or claim to read;
	// all types except literal.
	Name string `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *PresetValue) UnmarshalJSON(b []byte) error {
	type rawPresetValue PresetValue
	var raw rawPresetValue
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	result := PresetValue(raw)
	if err := result.Validate(); err != nil {
		return err
	}
	*j = result
	return nil
}

// Validate checks the tagged-variant invariants.
func (j PresetValue) Validate() error {
	if _, err := ParsePresetValueType(string(j.Type)); err != nil {
		return fmt.Errorf("type: %w", err)
	}
	switch j.Type {
	case PresetValueTypeLiteral:
		if j.Value == nil {
			return errors.New("value is required for the literal preset")
		}
	default:
		if strings.TrimSpace(j.Name) == "" {
			return fmt.Errorf("name is required for the %s preset", j.Type)
		}
	}
	return nil
}

// ArgumentPreset injects a value into the bound parameter set at a JSONPath
// target before script execution.
type ArgumentPreset struct {
	// Path is a JSONPath expression selecting targets inside the bound
	// parameter set, for example $.body.metadata.requestId.
	Path  string      `json:"path" yaml:"path" mapstructure:"path"`
	Value PresetValue `json:"value" yaml:"value" mapstructure:"value"`
}

// Validate checks the preset invariants.
func (ap ArgumentPreset) Validate() error {
	if strings.TrimSpace(ap.Path) == "" {
		return errPresetPathRequired
	}
	return ap.Value.Validate()
}
