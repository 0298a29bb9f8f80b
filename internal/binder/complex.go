package binder

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/kestrun/kestrun-go/values"
)

// MaxBindDepth bounds the recursion when mapping a decoded tree onto a
// registered target type. Sub-trees past the bound resolve to nil.
const MaxBindDepth = 32

// TypeRegistry maps target names to constructors of the Go types complex
// parameters bind onto.
type TypeRegistry struct {
	constructors map[string]func() any
}

// NewTypeRegistry creates an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{constructors: map[string]func() any{}}
}

// Register associates name with a constructor returning a pointer to a fresh
// target value.
func (tr *TypeRegistry) Register(name string, constructor func() any) {
	tr.constructors[name] = constructor
}

// Has reports whether name is registered.
func (tr *TypeRegistry) Has(name string) bool {
	_, ok := tr.constructors[name]
	return ok
}

// MapToTarget maps a decoded value tree onto a fresh instance of the named
// target type. Field names match case-insensitively; RFC 3339 strings map
// onto time.Time fields; trees deeper than the bind depth are pruned to nil
// before mapping.
func (tr *TypeRegistry) MapToTarget(name string, decoded any) (any, error) {
	constructor, ok := tr.constructors[name]
	if !ok {
		return nil, fmt.Errorf("target type %s is not registered", name)
	}

	target := constructor()
	plain := truncateDepth(values.ToPlain(decoded), 0)

	config := &mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
	}
	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(plain); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return target, nil
}

// mapOntoValue maps a plain tree onto an existing pointer with the same
// decoder configuration MapToTarget uses.
func mapOntoValue(target any, plain any) error {
	config := &mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
	}
	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}
	return decoder.Decode(plain)
}

// truncateDepth prunes sub-trees deeper than MaxBindDepth to nil so cyclic
// or adversarial payloads cannot drive unbounded recursion in the mapper.
func truncateDepth(value any, depth int) any {
	if depth >= MaxBindDepth {
		return nil
	}
	switch typed := value.(type) {
	case map[string]any:
		pruned := make(map[string]any, len(typed))
		for key, item := range typed {
			pruned[key] = truncateDepth(item, depth+1)
		}
		return pruned
	case []any:
		pruned := make([]any, len(typed))
		for i, item := range typed {
			pruned[i] = truncateDepth(item, depth+1)
		}
		return pruned
	default:
		return value
	}
}
