package models

import "strings"

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// so a caller identity containing ':' cannot address another bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewKey builds the bucket key for a caller identity and endpoint class.
func NewKey(class EndpointClass, identity string) string {
	return "rl:" + string(class) + ":" + SanitizeKeySegment(identity)
}
