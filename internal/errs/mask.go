package errs

import "strings"

const maskedValue = "***MASKED***"

// sensitiveSubstrings matches against lower-cased detail keys. A key is
// masked if it contains any of these substrings.
var sensitiveSubstrings = []string{"password", "secret", "key", "token", "credential"}

// isSensitiveKey reports whether key should have its value masked.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// MaskDetails returns a copy of details with sensitive values replaced by
// ***MASKED***. Nested maps are masked recursively. Pass reveal=true to skip
// masking entirely (explicit-reveal callers only — never wire by default).
func MaskDetails(details map[string]any, reveal bool) map[string]any {
	if details == nil || reveal {
		return details
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if isSensitiveKey(k) {
			out[k] = maskedValue
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = MaskDetails(nested, false)
			continue
		}
		out[k] = v
	}
	return out
}
