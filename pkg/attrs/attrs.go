// Package attrs inspects the variadic key-value attribute lists passed
// alongside audit events, the same [key1, value1, key2, value2, ...] shape
// slog takes.
package attrs

// ExtractString returns the string value paired with key, or "" when the key
// is absent, not a string key, or paired with a non-string value. Malformed
// tails (a trailing key with no value) are ignored.
func ExtractString(attrs []any, key string) string {
	for i := 0; i+1 < len(attrs); i += 2 {
		if k, ok := attrs[i].(string); !ok || k != key {
			continue
		}
		if v, ok := attrs[i+1].(string); ok {
			return v
		}
	}
	return ""
}
