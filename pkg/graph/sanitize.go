package graph

import "strings"

// fallbackFieldName is substituted for a property key that sanitizes to
// the empty string.
const fallbackFieldName = "field"

// SanitizeIdentifier restricts a label or property-key name to
// alphanumerics and underscore, the only characters ever interpolated into
// a Cypher fragment sent to the graph store. Anything else becomes '_';
// an identifier that sanitizes to empty falls back to "field". This is the
// sole defense against Cypher injection via user-controlled field names —
// values themselves are always bound as query parameters, never
// interpolated (see pkg/store/age).
func SanitizeIdentifier(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" {
		return fallbackFieldName
	}
	return out
}

// SanitizeProps returns a copy of props with every key run through
// SanitizeIdentifier. Collisions after sanitization keep the
// last-encountered value, matching Go map-literal semantics.
func SanitizeProps(props map[string]string) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[SanitizeIdentifier(k)] = v
	}
	return out
}
