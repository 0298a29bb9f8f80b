package contenttype

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/kestrun/kestrun-go/values"
)

var errUnexpectedJSONToken = errors.New("unexpected json token")

// DecodeJSON decodes a JSON document into the value tree, preserving object
// key order. Numbers that fit in int64 stay integral; everything else
// becomes float64.
func DecodeJSON(data []byte, _ Hint) any {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	value, err := decodeJSONValue(decoder)
	if err != nil {
		return nil
	}
	return value
}

func decodeJSONValue(decoder *json.Decoder) (any, error) {
	token, err := decoder.Token()
	if err != nil {
		return nil, err
	}
	return decodeJSONToken(decoder, token)
}

func decodeJSONToken(decoder *json.Decoder, token json.Token) (any, error) {
	switch tok := token.(type) {
	case json.Delim:
		switch tok {
		case '{':
			result := values.NewMap()
			for decoder.More() {
				keyToken, err := decoder.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyToken.(string)
				if !ok {
					return nil, errUnexpectedJSONToken
				}
				value, err := decodeJSONValue(decoder)
				if err != nil {
					return nil, err
				}
				result.Set(key, value)
			}
			// consume the closing brace
			if _, err := decoder.Token(); err != nil {
				return nil, err
			}
			return result, nil
		case '[':
			result := []any{}
			for decoder.More() {
				value, err := decodeJSONValue(decoder)
				if err != nil {
					return nil, err
				}
				result = append(result, value)
			}
			if _, err := decoder.Token(); err != nil {
				return nil, err
			}
			return result, nil
		default:
			return nil, errUnexpectedJSONToken
		}
	case json.Number:
		if value, err := strconv.ParseInt(tok.String(), 10, 64); err == nil {
			return value, nil
		}
		return tok.Float64()
	default:
		// string, bool or nil
		return token, nil
	}
}
