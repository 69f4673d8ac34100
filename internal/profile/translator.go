// Package profile normalizes provider profile payloads into the canonical
// shape used for account linking.
package profile

import (
	"fmt"
	"strings"

	"github.com/ITspirit/vanilla/internal/domain"
)

// Translate maps a raw provider profile onto a CanonicalProfile using the
// provider's configured field names. Mapped source keys are consumed; every
// remaining raw field is preserved under its original key. Collisions with an
// already-placed canonical value resolve in favor of the canonical value.
func Translate(raw map[string]any, mapping domain.FieldMapping, providerKey string) domain.CanonicalProfile {
	remaining := make(map[string]any, len(raw))
	for k, v := range raw {
		remaining[k] = v
	}

	result := domain.CanonicalProfile{
		Email:    takeString(remaining, mapping.EmailKey()),
		Photo:    takeString(remaining, mapping.PhotoKey()),
		Name:     takeString(remaining, mapping.NameKey()),
		FullName: takeString(remaining, mapping.FullNameKey()),
		UniqueID: takeString(remaining, mapping.UniqueIDKey()),
	}

	if len(remaining) > 0 {
		result.Extra = remaining
	}
	result.Provider = providerKey
	return result
}

// takeString looks up path in raw, supporting dotted nested lookups, removes
// the matched entry, and renders the value as a string.
func takeString(raw map[string]any, path string) string {
	if path == "" {
		return ""
	}

	if value, ok := raw[path]; ok {
		delete(raw, path)
		return stringify(value)
	}

	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return ""
	}

	node := raw
	for i, part := range parts {
		value, ok := node[part]
		if !ok {
			return ""
		}
		if i == len(parts)-1 {
			delete(node, part)
			return stringify(value)
		}
		next, ok := value.(map[string]any)
		if !ok {
			return ""
		}
		node = next
	}
	return ""
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		// JSON numbers decode as float64; identity keys are commonly
		// numeric and must not gain a fractional suffix.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
