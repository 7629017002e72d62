package observability

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// clean strips control characters (tabs survive) and truncates to limit runes so request data
// cannot forge log lines.
func clean(value string, limit int) string {
	value = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' {
			return -1
		}
		return r
	}, value)
	if runes := []rune(value); len(runes) > limit {
		value = string(runes[:limit])
	}
	return value
}

// SanitizeRoute prepares a path or route pattern for logs and span names.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clean(route, 180)
}

// SessionFingerprint is a short stable digest of a session ID, used to correlate a session's
// requests in logs without recording the ID.
func SessionFingerprint(id string) string {
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:6])
}
