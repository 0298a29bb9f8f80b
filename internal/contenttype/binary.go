package contenttype

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fxamacker/cbor/v2"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/kestrun/kestrun-go/values"
)

var base64Grammar = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// InterpretBytes resolves a textual payload to raw bytes: an optional
// "base64:" prefix is stripped, then base64 (validated by grammar and
// length), then hex (optional 0x prefix, even length), falling back to the
// UTF-8 bytes of the trimmed string.
func InterpretBytes(input string) []byte {
	trimmed := strings.TrimSpace(input)
	if rest, ok := strings.CutPrefix(trimmed, "base64:"); ok {
		trimmed = rest
	}
	if decoded, ok := tryBase64(trimmed); ok {
		return decoded
	}
	if decoded, ok := tryHex(trimmed); ok {
		return decoded
	}
	return []byte(trimmed)
}

func tryBase64(input string) ([]byte, bool) {
	if input == "" || len(input)%4 != 0 || !base64Grammar.MatchString(input) {
		return nil, false
	}
	decoded, err := base64.StdEncoding.DecodeString(input)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

func tryHex(input string) ([]byte, bool) {
	rest := strings.TrimPrefix(strings.TrimPrefix(input, "0x"), "0X")
	if rest == "" || len(rest)%2 != 0 {
		return nil, false
	}
	decoded, err := hex.DecodeString(rest)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

// byteCandidates lists the payload interpretations to try, preferring the
// textual cascade for UTF-8 input and keeping the raw bytes as fallback.
func byteCandidates(data []byte) [][]byte {
	if !utf8.Valid(data) {
		return [][]byte{data}
	}
	interpreted := InterpretBytes(string(data))
	if bytes.Equal(interpreted, data) {
		return [][]byte{data}
	}
	return [][]byte{interpreted, data}
}

// DecodeBSON decodes a BSON document into the value tree, preserving field
// order.
func DecodeBSON(data []byte, _ Hint) any {
	for _, candidate := range byteCandidates(data) {
		var doc bson.D
		if err := bson.Unmarshal(candidate, &doc); err == nil {
			return decodeBSONValue(doc)
		}
	}
	return nil
}

func decodeBSONValue(value any) any {
	switch v := value.(type) {
	case bson.D:
		result := values.NewMap()
		for _, elem := range v {
			result.Set(elem.Key, decodeBSONValue(elem.Value))
		}
		return result
	case bson.A:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = decodeBSONValue(item)
		}
		return result
	case bson.ObjectID:
		return v.Hex()
	case bson.DateTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
	case bson.Binary:
		return v.Data
	case bson.Decimal128:
		return v.String()
	case bson.Null:
		return nil
	case int32:
		return int64(v)
	default:
		return values.Normalize(v)
	}
}

// DecodeCBOR decodes a CBOR document into the value tree.
func DecodeCBOR(data []byte, _ Hint) any {
	for _, candidate := range byteCandidates(data) {
		var decoded any
		if err := cbor.Unmarshal(candidate, &decoded); err == nil && decoded != nil {
			return values.Normalize(normalizeCBOR(decoded))
		}
	}
	return nil
}

func normalizeCBOR(value any) any {
	switch v := value.(type) {
	case cbor.Tag:
		return normalizeCBOR(v.Content)
	case big.Int:
		return v.String()
	case *big.Int:
		return v.String()
	case map[any]any:
		for key, item := range v {
			v[key] = normalizeCBOR(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = normalizeCBOR(item)
		}
		return v
	default:
		return v
	}
}
