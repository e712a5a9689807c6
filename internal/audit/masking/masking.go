package masking

import "strings"

const maskToken = "****"

var sensitiveKeys = map[string]struct{}{
	"api_key":   {},
	"apikey":    {},
	"key_hash":  {},
	"secret":    {},
	"token":     {},
	"admin_key": {},
}

// MaskSecret redacts a credential, keeping its prefix and last four characters.
// "al_live_ABC_0123456789" becomes "al_live_ABC_****6789".
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	idx := strings.LastIndex(trimmed, "_")
	prefix, remainder := "", trimmed
	if idx != -1 && idx != len(trimmed)-1 {
		prefix, remainder = trimmed[:idx+1], trimmed[idx+1:]
	}
	if len(remainder) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskMetadata returns a copy of metadata in which values under sensitive keys
// are masked. Other values are copied unchanged.
func MaskMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}

	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, sensitive := sensitiveKeys[strings.ToLower(key)]; sensitive {
			out[key] = maskValue(value)
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			out[key] = MaskMetadata(nested)
			continue
		}
		out[key] = value
	}
	return out
}

func maskValue(value any) any {
	switch cast := value.(type) {
	case string:
		return MaskSecret(cast)
	case nil:
		return nil
	default:
		return maskToken
	}
}
