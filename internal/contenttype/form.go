package contenttype

import (
	"net/url"
	"strings"

	"github.com/kestrun/kestrun-go/values"
)

// DecodeForm decodes an application/x-www-form-urlencoded body into a flat
// case-insensitive string map in document order. Repeated keys keep their
// first value.
func DecodeForm(data []byte, _ Hint) any {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}
	result := values.NewMap()
	for _, pair := range strings.Split(trimmed, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil
		}
		if result.Has(key) {
			continue
		}
		result.Set(key, value)
	}
	if result.Len() == 0 {
		return nil
	}
	return result
}
