package config

import (
	"strings"
)

// sensitiveNameMarkers are substrings (case-insensitive) that mark a field
// name as sensitive for masking purposes (§4.5).
var sensitiveNameMarkers = []string{
	"apikey", "api_key", "password", "token", "secret", "auth",
}

// IsSensitiveField reports whether a field named name should be masked.
func IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range sensitiveNameMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// maskPlaceholder is what a fully-masked value looks like; Unmask uses its
// presence to detect "the client echoed the masked value back unchanged".
const maskPlaceholder = "****"

// MaskValue applies the length-tiered redaction of §4.5 to a single
// sensitive string value.
func MaskValue(v string) string {
	switch {
	case len(v) <= 8:
		return "****"
	case len(v) <= 11:
		return "xx****xx"
	default:
		return "xxxx****xxxx"
	}
}

// MaskConfig deep-clones raw (a decoded YAML/JSON document as nested
// map[string]any / []any / scalars) and replaces every value whose key
// matches IsSensitiveField. Maps named "env" have every one of their values
// masked identically regardless of key name, matching MCP server env maps.
func MaskConfig(raw any) any {
	return maskValue("", raw, false)
}

func maskValue(key string, v any, forceMaskAll bool) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		maskAllChildren := forceMaskAll || strings.EqualFold(key, "env")
		for k, child := range val {
			sensitive := maskAllChildren || IsSensitiveField(k)
			out[k] = maskValue(k, child, sensitive)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = maskValue(key, child, forceMaskAll)
		}
		return out
	case string:
		if forceMaskAll {
			return MaskValue(val)
		}
		return val
	default:
		return val
	}
}

// UnmaskConfig reconciles an edited config (incoming, possibly containing
// mask placeholders) against the original unmasked config: sensitive fields
// whose incoming value still contains "****" are restored from original;
// otherwise the incoming value is accepted as a rotation. Non-sensitive
// fields always take the incoming value. Keys present in original but
// missing from incoming are preserved, except inside an array (replaced
// wholesale by whatever array incoming provides, per §4.5).
func UnmaskConfig(incoming, original any) any {
	return unmaskValue("", incoming, original, false)
}

func unmaskValue(key string, incoming, original any, forceMaskAll bool) any {
	origMap, origIsMap := original.(map[string]any)
	inMap, inIsMap := incoming.(map[string]any)

	if origIsMap && inIsMap {
		out := make(map[string]any, len(inMap))
		maskAllChildren := forceMaskAll || strings.EqualFold(key, "env")
		for k, origChild := range origMap {
			inChild, present := inMap[k]
			if !present {
				out[k] = origChild
				continue
			}
			sensitive := maskAllChildren || IsSensitiveField(k)
			out[k] = unmaskValue(k, inChild, origChild, sensitive)
		}
		for k, inChild := range inMap {
			if _, already := origMap[k]; !already {
				out[k] = inChild
			}
		}
		return out
	}

	if inStr, ok := incoming.(string); ok {
		if (forceMaskAll || IsSensitiveField(key)) && strings.Contains(inStr, maskPlaceholder) {
			if origStr, ok := original.(string); ok {
				return origStr
			}
		}
		return inStr
	}

	// Arrays (and any other shape) are replaced wholesale by incoming.
	if incoming == nil {
		return original
	}
	return incoming
}
